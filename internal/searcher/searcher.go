// Package searcher fans a query out across every indexed partition under a
// scope root, merges and ranks the per-partition results, and caches merged
// results by (query, scope, target) key.
//
// Scoring policy: raw squared-L2 distances are normalized to a similarity
// in [0,1] via 1/(1+|d|); results below 0.1 similarity are dropped, and the
// merged ranking is capped at 5 results.
package searcher

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"coursemate/internal/cache"
	"coursemate/internal/index"
	"coursemate/internal/metrics"
)

const (
	defaultTopK        = 3
	maxWorkers         = 4
	similarityFloor    = 0.1
	resultCap          = 5
	indexCacheCapacity = 50
	queryCacheCapacity = 1000
)

// Result is one ranked retrieval hit.
type Result struct {
	Content   string  `json:"content"`
	SourceID  string  `json:"source_id"`
	Section   string  `json:"section"`
	Score     float64 `json:"score"`
	Partition string  `json:"partition"`
}

// Output is the merged, ranked outcome of one multi-index search.
type Output struct {
	Results         []Result      `json:"results"`
	FormattedChunks []string      `json:"formatted_chunks"`
	Sources         []string      `json:"sources"`
	SearchTime      time.Duration `json:"search_time"`
}

// Loader resolves a partition directory to a ready Index.
type Loader interface {
	LoadDir(dir string) (*index.Index, error)
}

// QueryEmbedder turns the query text into a vector once per search.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher coordinates parallel per-partition searches with two caches:
// loaded index handles (FIFO, keyed by partition path) and merged query
// results (FIFO, keyed by query+scope).
type Searcher struct {
	loader   Loader
	embedder QueryEmbedder
	ledger   *metrics.Ledger
	logger   *slog.Logger

	indexes *cache.Cache[*index.Index]
	queries *cache.Cache[Output]
	loads   singleflight.Group
}

// New creates a Searcher. ledger may not be nil; pass a fresh one in tests.
func New(loader Loader, embedder QueryEmbedder, ledger *metrics.Ledger) *Searcher {
	return &Searcher{
		loader:   loader,
		embedder: embedder,
		ledger:   ledger,
		logger:   slog.Default(),
		indexes:  cache.New[*index.Index](indexCacheCapacity),
		queries:  cache.New[Output](queryCacheCapacity),
	}
}

// ClearCaches drops both the index cache and the query-result cache.
func (s *Searcher) ClearCaches() {
	s.indexes.Clear()
	s.queries.Clear()
}

// CacheSizes reports current cache entry counts (index cache, query cache).
func (s *Searcher) CacheSizes() (int, int) {
	return s.indexes.Len(), s.queries.Len()
}

// cacheKey derives the query-cache key for a (query, scope, target) triple.
func cacheKey(query, scopeRoot, target string) string {
	sum := md5.Sum(fmt.Appendf(nil, "%s:%s:%s", query, scopeRoot, target))
	return hex.EncodeToString(sum[:])
}

// Search runs the query against every indexed partition under scopeRoot.
// targetPartition, when non-empty, is searched first and preferred on score
// ties. A missing scope root or failing partitions degrade to an empty
// result, never an error: the caller falls back to non-grounded answering.
func (s *Searcher) Search(ctx context.Context, scopeRoot, query, targetPartition string, k int) (Output, error) {
	start := time.Now()
	if k <= 0 {
		k = defaultTopK
	}

	key := cacheKey(query, scopeRoot, targetPartition)
	if out, ok := s.queries.Get(key); ok {
		s.ledger.SearchCacheHit()
		return out, nil
	}
	s.ledger.SearchCacheMiss()

	dirs := s.partitionDirs(scopeRoot, targetPartition)
	if len(dirs) == 0 {
		return Output{SearchTime: time.Since(start)}, nil
	}

	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		// Retrieval never aborts the query; report no context found.
		s.logger.Warn("query embedding failed, returning empty result", "error", err)
		return Output{SearchTime: time.Since(start)}, nil
	}

	// One slot per partition keeps result joining allocation-free and
	// preserves the priority order for tie-breaking.
	partResults := make([][]Result, len(dirs))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(min(maxWorkers, len(dirs)))

	for i, dir := range dirs {
		g.Go(func() error {
			results, err := s.searchPartition(gCtx, dir, queryVec, k)
			if err != nil {
				// A failing partition is skipped, not surfaced.
				s.logger.Warn("partition search failed, skipping", "partition", filepath.Base(dir), "error", err)
				return nil
			}
			partResults[i] = results
			return nil
		})
	}
	// Worker errors are swallowed above; Wait only observes ctx cancellation.
	if err := g.Wait(); err != nil {
		return Output{SearchTime: time.Since(start)}, nil
	}

	out := mergeResults(partResults, time.Since(start))
	s.queries.Put(key, out)
	s.ledger.ObserveSearch(out.SearchTime)
	return out, nil
}

// partitionDirs walks scopeRoot for directories holding both index
// artifacts. The target partition, if present, is moved to the front.
func (s *Searcher) partitionDirs(scopeRoot, targetPartition string) []string {
	info, err := os.Stat(scopeRoot)
	if err != nil || !info.IsDir() {
		return nil
	}

	var dirs []string
	filepath.WalkDir(scopeRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if index.IsBuildDir(d.Name()) {
			return filepath.SkipDir
		}
		if index.IsIndexed(path) {
			dirs = append(dirs, path)
		}
		return nil
	})

	if targetPartition != "" {
		target := filepath.Join(scopeRoot, targetPartition)
		for i, dir := range dirs {
			if dir == target && i != 0 {
				copy(dirs[1:i+1], dirs[:i])
				dirs[0] = target
				break
			}
		}
	}
	return dirs
}

// searchPartition resolves the partition's index through the cache and
// returns its normalized, floor-filtered results.
func (s *Searcher) searchPartition(ctx context.Context, dir string, queryVec []float32, k int) ([]Result, error) {
	ix, err := s.resolveIndex(dir)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	partition := filepath.Base(dir)
	var results []Result
	for _, hit := range ix.Search(queryVec, k) {
		score := 1.0 / (1.0 + math.Abs(float64(hit.Distance)))
		if score <= similarityFloor {
			continue
		}
		e := ix.Entries[hit.Entry]
		results = append(results, Result{
			Content:   e.Content,
			SourceID:  e.SourceID,
			Section:   e.Section,
			Score:     score,
			Partition: partition,
		})
	}
	return results, nil
}

// resolveIndex returns the cached index for dir, loading it at most once
// per key even when parallel workers race on the same partition.
func (s *Searcher) resolveIndex(dir string) (*index.Index, error) {
	if ix, ok := s.indexes.Get(dir); ok {
		return ix, nil
	}

	v, err, _ := s.loads.Do(dir, func() (any, error) {
		if ix, ok := s.indexes.Get(dir); ok {
			return ix, nil
		}
		ix, err := s.loader.LoadDir(dir)
		if err != nil {
			return nil, err
		}
		s.indexes.Put(dir, ix)
		return ix, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*index.Index), nil
}

// mergeResults flattens the per-partition slices (ordered by partition
// priority), sorts score-descending with stable tie-breaks, and truncates
// to the result cap.
func mergeResults(partResults [][]Result, elapsed time.Duration) Output {
	var merged []Result
	for _, rs := range partResults {
		merged = append(merged, rs...)
	}

	// Stable sort keeps the target partition's results ahead on exact ties.
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	if len(merged) > resultCap {
		merged = merged[:resultCap]
	}

	out := Output{Results: merged, SearchTime: elapsed}
	seen := make(map[string]bool)
	for _, r := range merged {
		out.FormattedChunks = append(out.FormattedChunks,
			fmt.Sprintf("Source: %s | Section: %s\nContent: %s", r.SourceID, r.Section, r.Content))
		label := r.Partition + "/" + r.SourceID
		if !seen[label] {
			seen[label] = true
			out.Sources = append(out.Sources, label)
		}
	}
	sort.Strings(out.Sources)
	return out
}
