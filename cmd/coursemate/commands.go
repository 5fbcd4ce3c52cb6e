package main

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"coursemate/internal/api"
	"coursemate/internal/assistant"
	"coursemate/internal/config"
	"coursemate/internal/metrics"
	"coursemate/internal/searcher"
)

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question over the indexed course materials",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		partition, _ := cmd.Flags().GetString("partition")
		backendName, _ := cmd.Flags().GetString("backend")
		session, _ := cmd.Flags().GetString("session")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/ask", assistant.AnswerRequest{
			Query:     strings.Join(args, " "),
			Partition: partition,
			Backend:   backendName,
			SessionID: session,
		})
		if err != nil {
			return err
		}

		var res assistant.AnswerResult
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}

		fmt.Println(res.Answer)
		if res.Grounded {
			printStatus("Sources", "%s", strings.Join(res.Sources, ", "))
		}
		if res.Cached {
			printStatus("Cached", "yes")
		}
		return nil
	},
}

func init() {
	askCmd.Flags().String("partition", "", "preferred partition to search first")
	askCmd.Flags().String("backend", "", "model backend: local (default) or hosted")
	askCmd.Flags().String("session", "", "session ID for conversation history")
}

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Index course material into a partition",
	Long: `Index course material into a partition.

Examples:
  coursemate ingest --partition biology --file ./photosynthesis.pdf
  coursemate ingest --partition math --file ./notes.txt
  coursemate ingest --partition math --text "A derivative measures change."`,
	RunE: func(cmd *cobra.Command, args []string) error {
		partition, _ := cmd.Flags().GetString("partition")
		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")

		if partition == "" {
			return fmt.Errorf("--partition is required")
		}
		if (text == "") == (file == "") {
			return fmt.Errorf("exactly one of --text or --file is required")
		}

		req := api.IngestRequest{Partition: partition, Source: "cli"}
		switch {
		case text != "":
			req.Type = "text"
			req.Content = text
		case strings.EqualFold(filepath.Ext(file), ".pdf"):
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			req.Type = "pdf"
			req.Source = filepath.Base(file)
			req.Content = base64.StdEncoding.EncodeToString(data)
		default:
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			req.Type = "text"
			req.Source = filepath.Base(file)
			req.Content = string(data)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/ingest", req)
		if err != nil {
			return err
		}

		var res api.IngestResponse
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		printSuccess("Indexed %d chunks into partition %s", res.Chunks, res.Partition)
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("partition", "", "partition (course/topic) to index into")
	ingestCmd.Flags().String("text", "", "text content to index")
	ingestCmd.Flags().String("file", "", "text or PDF file to index")
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Semantic search over the indexed materials",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		partition, _ := cmd.Flags().GetString("partition")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		q := url.Values{}
		q.Set("q", strings.Join(args, " "))
		q.Set("k", fmt.Sprintf("%d", limit))
		if partition != "" {
			q.Set("partition", partition)
		}
		resp, err := client.get(cmd.Context(), "/search?"+q.Encode())
		if err != nil {
			return err
		}

		var out searcher.Output
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		if len(out.Results) == 0 {
			fmt.Println("No results found.")
			return nil
		}

		for i, r := range out.Results {
			fmt.Printf("\n%s [score: %.3f]\n", colorize(colorBold, fmt.Sprintf("Result %d", i+1)), r.Score)
			fmt.Printf("  %s | %s | %s\n", colorize(colorCyan, r.Partition), r.SourceID, r.Section)
			content := r.Content
			if len(content) > 500 {
				content = content[:500] + "..."
			}
			fmt.Printf("  %s\n", content)
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().String("partition", "", "preferred partition to search first")
	searchCmd.Flags().Int("limit", 3, "maximum results per partition")
}

// --- metrics ---

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show performance counters",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/metrics")
		if err != nil {
			return err
		}

		var snap metrics.Snapshot
		if err := decodeJSON(resp, &snap); err != nil {
			return err
		}

		printStatus("Searches", "%d (cache hit rate %.0f%%)", snap.TotalSearches, snap.SearchHitRate*100)
		printStatus("Avg search", "%.3fs", snap.AvgSearchSeconds)
		printStatus("Answers", "%d (cache hit rate %.0f%%)", snap.TotalAnswers, snap.AnswerHitRate*100)
		printStatus("Avg answer", "%.3fs", snap.AvgAnswerSeconds)
		for name, count := range snap.BackendUsage {
			printStatus("Backend "+name, "%d", count)
		}
		printStatus("Uptime", "%ds", snap.UptimeSeconds)
		return nil
	},
}

// --- caches ---

var cachesCmd = &cobra.Command{
	Use:   "caches",
	Short: "Manage server caches",
}

var cachesClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the index, search, and answer caches",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/caches/clear", nil)
		if err != nil {
			return err
		}
		var res map[string]string
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		printSuccess("Caches cleared")
		return nil
	},
}

func init() {
	cachesCmd.AddCommand(cachesClearCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cfg.Hosted.APIKey != "" {
			cfg.Hosted.APIKey = "***"
		}
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		fmt.Print(string(data))
		return nil
	},
}
