// Package assistant is the composition root for question answering: it
// retrieves context for a query, routes it to a model backend, and records
// the exchange in the session history.
package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"coursemate/internal/backend"
	"coursemate/internal/extract"
	"coursemate/internal/history"
	"coursemate/internal/index"
	"coursemate/internal/metrics"
	"coursemate/internal/router"
	"coursemate/internal/searcher"
	"coursemate/internal/splitter"
)

const (
	// answerTimeout bounds one question end to end, retrieval included.
	answerTimeout = 60 * time.Second

	// historyDepth is how many prior turns are replayed into the prompt.
	historyDepth = 3

	retrievalTopK = 3
)

// Deps are the collaborating services an Assistant is built from.
// History may be nil for stateless operation.
type Deps struct {
	ScopeRoot string
	Splitter  *splitter.Splitter
	Store     *index.Store
	Searcher  *searcher.Searcher
	Router    *router.Router
	History   *history.Store
	Ledger    *metrics.Ledger
	Logger    *slog.Logger
}

// Assistant answers questions over ingested course materials.
type Assistant struct {
	scopeRoot string
	splitter  *splitter.Splitter
	store     *index.Store
	searcher  *searcher.Searcher
	router    *router.Router
	history   *history.Store
	ledger    *metrics.Ledger
	logger    *slog.Logger
}

// New assembles an Assistant from its dependencies.
func New(d Deps) *Assistant {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Assistant{
		scopeRoot: d.ScopeRoot,
		splitter:  d.Splitter,
		store:     d.Store,
		searcher:  d.Searcher,
		router:    d.Router,
		history:   d.History,
		ledger:    d.Ledger,
		logger:    logger,
	}
}

// AnswerRequest is one user question.
type AnswerRequest struct {
	Query     string `json:"query"`
	Partition string `json:"partition,omitempty"` // preferred partition, may be empty
	Backend   string `json:"backend,omitempty"`   // "local" (default) or "hosted"
	SessionID string `json:"session_id,omitempty"`
}

// AnswerResult is the outcome of one question.
type AnswerResult struct {
	Answer   string        `json:"answer"`
	Grounded bool          `json:"grounded"`
	Sources  []string      `json:"sources,omitempty"`
	Cached   bool          `json:"cached"`
	Failed   bool          `json:"failed"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Answer retrieves context for the query, dispatches it to the requested
// backend, and stores the turn. Backend failures come back as answer text
// with Failed set, not as an error; the error return covers invalid input
// and history storage only.
func (a *Assistant) Answer(ctx context.Context, req AnswerRequest) (AnswerResult, error) {
	start := time.Now()
	if strings.TrimSpace(req.Query) == "" {
		return AnswerResult{}, fmt.Errorf("empty query")
	}
	name, err := backend.ParseName(req.Backend)
	if err != nil {
		return AnswerResult{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, answerTimeout)
	defer cancel()

	out, err := a.searcher.Search(ctx, a.scopeRoot, req.Query, req.Partition, retrievalTopK)
	if err != nil {
		// Retrieval trouble degrades to an ungrounded answer.
		a.logger.Warn("retrieval failed, answering without context", "error", err)
		out = searcher.Output{}
	}

	text, cached := a.router.Answer(ctx, router.Request{
		Query:   req.Query,
		Context: strings.Join(out.FormattedChunks, "\n\n"),
		Backend: name,
		Sources: out.Sources,
		History: a.recentTurns(req.SessionID),
	})

	failed := router.IsErrorText(text)
	grounded := !failed && len(out.Results) > 0
	res := AnswerResult{
		Answer:   text,
		Grounded: grounded,
		Cached:   cached,
		Failed:   failed,
		Elapsed:  time.Since(start),
	}
	if grounded {
		res.Sources = out.Sources
	}

	if !failed {
		if err := a.saveTurn(req, res, name); err != nil {
			return res, fmt.Errorf("recording turn: %w", err)
		}
	}
	return res, nil
}

// recentTurns loads the session's tail for the prompt preamble. A missing
// session or a nil history store yields no preamble.
func (a *Assistant) recentTurns(sessionID string) []router.Turn {
	if a.history == nil || sessionID == "" {
		return nil
	}
	stored, err := a.history.RecentTurns(sessionID, historyDepth)
	if err != nil {
		a.logger.Warn("loading session history failed", "session", sessionID, "error", err)
		return nil
	}
	turns := make([]router.Turn, len(stored))
	for i, t := range stored {
		turns[i] = router.Turn{Question: t.Question, Answer: t.Answer}
	}
	return turns
}

func (a *Assistant) saveTurn(req AnswerRequest, res AnswerResult, name backend.Name) error {
	if a.history == nil || req.SessionID == "" {
		return nil
	}
	sources, err := json.Marshal(res.Sources)
	if err != nil {
		return err
	}
	_, err = a.history.SaveTurn(history.Turn{
		SessionID: req.SessionID,
		Question:  req.Query,
		Answer:    res.Answer,
		Backend:   string(name),
		Grounded:  res.Grounded,
		Sources:   string(sources),
	})
	return err
}

// Ingest splits raw text into chunks and builds (or rebuilds) the named
// partition's index. It returns the number of indexed chunks.
func (a *Assistant) Ingest(ctx context.Context, partition, sourceID, text string) (int, error) {
	if partition == "" {
		return 0, fmt.Errorf("empty partition name")
	}
	chunks := a.splitter.Split(text, sourceID)
	ix, err := a.store.Build(ctx, partition, chunks)
	if err != nil {
		return 0, fmt.Errorf("building index for %s: %w", partition, err)
	}

	// The old index handle and any merged results referring to it are stale.
	a.searcher.ClearCaches()

	a.logger.Info("partition indexed", "partition", partition, "source", sourceID, "chunks", len(ix.Entries))
	return len(ix.Entries), nil
}

// IngestPDF extracts text from a PDF file and ingests it under the given
// partition, using the file's base name as the source ID.
func (a *Assistant) IngestPDF(ctx context.Context, partition, path string) (int, error) {
	text, err := extract.PDFText(path)
	if err != nil {
		return 0, fmt.Errorf("extracting %s: %w", filepath.Base(path), err)
	}
	return a.Ingest(ctx, partition, filepath.Base(path), extract.Normalize(text))
}

// Search runs retrieval only, without dispatching to a backend.
func (a *Assistant) Search(ctx context.Context, query, partition string, k int) (searcher.Output, error) {
	return a.searcher.Search(ctx, a.scopeRoot, query, partition, k)
}

// Metrics returns a point-in-time copy of the performance counters.
func (a *Assistant) Metrics() metrics.Snapshot {
	return a.ledger.Snapshot()
}

// ClearCaches drops the index, query-result, and answer caches.
func (a *Assistant) ClearCaches() {
	a.searcher.ClearCaches()
	a.router.ClearCache()
}

// Partitions lists the indexed partitions under the scope root.
func (a *Assistant) Partitions() []string {
	dirs, err := filepath.Glob(filepath.Join(a.scopeRoot, "*"))
	if err != nil {
		return nil
	}
	var names []string
	for _, dir := range dirs {
		if index.IsIndexed(dir) && !index.IsBuildDir(filepath.Base(dir)) {
			names = append(names, filepath.Base(dir))
		}
	}
	return names
}
