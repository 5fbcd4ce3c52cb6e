package assistant

import (
	"context"
	"strings"
	"sync"
	"testing"

	"coursemate/internal/backend"
	"coursemate/internal/history"
	"coursemate/internal/index"
	"coursemate/internal/metrics"
	"coursemate/internal/router"
	"coursemate/internal/searcher"
	"coursemate/internal/splitter"
)

// mapEmbedder returns fixed vectors for known texts and the zero vector
// otherwise, so retrieval outcomes are fully test-controlled.
type mapEmbedder struct {
	vectors map[string][]float32
	dim     int
}

func (m *mapEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if v, ok := m.vectors[text]; ok {
		return v, nil
	}
	return make([]float32, m.dim), nil
}

func (m *mapEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i], _ = m.Embed(ctx, t)
	}
	return out, nil
}

type scriptedBackend struct {
	name backend.Name

	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
}

func (s *scriptedBackend) Name() backend.Name { return s.name }

func (s *scriptedBackend) Complete(_ context.Context, prompt string, _ backend.Options) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	return s.reply, s.err
}

func (s *scriptedBackend) lastPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.prompts) == 0 {
		return ""
	}
	return s.prompts[len(s.prompts)-1]
}

// newAssistant wires a full stack over a temp scope root with the given
// fakes at the edges.
func newAssistant(t *testing.T, emb *mapEmbedder, local backend.Backend, hist *history.Store) *Assistant {
	t.Helper()
	root := t.TempDir()
	ledger := metrics.NewLedger()
	store := index.NewStore(root, emb, emb.dim)
	return New(Deps{
		ScopeRoot: root,
		Splitter:  splitter.New(0, 0),
		Store:     store,
		Searcher:  searcher.New(store, emb, ledger),
		Router:    router.New(local, nil, ledger),
		History:   hist,
		Ledger:    ledger,
	})
}

func TestIngestAndAnswer_Grounded(t *testing.T) {
	emb := &mapEmbedder{dim: 4, vectors: map[string][]float32{
		"Photosynthesis converts light into chemical energy.": {1, 0, 0, 0},
		"how does photosynthesis work":                        {1, 0, 0, 0},
	}}
	local := &scriptedBackend{name: backend.Local, reply: "It converts light."}
	a := newAssistant(t, emb, local, nil)

	n, err := a.Ingest(context.Background(), "biology", "notes.txt",
		"Photosynthesis converts light into chemical energy.")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if n != 1 {
		t.Fatalf("ingested %d chunks, want 1", n)
	}

	res, err := a.Answer(context.Background(), AnswerRequest{Query: "how does photosynthesis work"})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if !res.Grounded {
		t.Error("answer not grounded despite matching material")
	}
	if res.Failed {
		t.Errorf("answer marked failed: %q", res.Answer)
	}
	if len(res.Sources) != 1 || res.Sources[0] != "biology/notes.txt" {
		t.Errorf("sources = %v, want [biology/notes.txt]", res.Sources)
	}
	if !strings.Contains(res.Answer, "[Information sourced from: notes.txt]") {
		t.Errorf("answer = %q, want source footer", res.Answer)
	}
	if !strings.Contains(local.lastPrompt(), "Photosynthesis converts light") {
		t.Errorf("prompt missing retrieved context:\n%s", local.lastPrompt())
	}
}

func TestAnswer_UngroundedWithoutMaterials(t *testing.T) {
	emb := &mapEmbedder{dim: 4, vectors: map[string][]float32{}}
	local := &scriptedBackend{name: backend.Local, reply: "General answer."}
	a := newAssistant(t, emb, local, nil)

	res, err := a.Answer(context.Background(), AnswerRequest{Query: "anything"})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if res.Grounded {
		t.Error("answer grounded with no indexed materials")
	}
	if len(res.Sources) != 0 {
		t.Errorf("sources = %v, want none", res.Sources)
	}
	if !strings.Contains(res.Answer, "[This is a general knowledge answer]") {
		t.Errorf("answer = %q, want general knowledge trailer", res.Answer)
	}
}

func TestAnswer_InputValidation(t *testing.T) {
	emb := &mapEmbedder{dim: 4, vectors: map[string][]float32{}}
	a := newAssistant(t, emb, &scriptedBackend{name: backend.Local, reply: "ok"}, nil)

	if _, err := a.Answer(context.Background(), AnswerRequest{Query: "   "}); err == nil {
		t.Error("blank query accepted")
	}
	if _, err := a.Answer(context.Background(), AnswerRequest{Query: "q", Backend: "mainframe"}); err == nil {
		t.Error("unknown backend accepted")
	}
}

func TestAnswer_SessionHistory(t *testing.T) {
	emb := &mapEmbedder{dim: 4, vectors: map[string][]float32{}}
	local := &scriptedBackend{name: backend.Local, reply: "Four seasons."}
	hist, err := history.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer hist.Close()
	a := newAssistant(t, emb, local, hist)

	if _, err := a.Answer(context.Background(), AnswerRequest{Query: "how many seasons?", SessionID: "s1"}); err != nil {
		t.Fatalf("first Answer: %v", err)
	}
	local.reply = "Winter is coldest."
	if _, err := a.Answer(context.Background(), AnswerRequest{Query: "which is coldest?", SessionID: "s1"}); err != nil {
		t.Fatalf("second Answer: %v", err)
	}

	prompt := local.lastPrompt()
	if !strings.Contains(prompt, "Previous Q: how many seasons?") {
		t.Errorf("second prompt missing history preamble:\n%s", prompt)
	}

	turns, err := hist.RecentTurns("s1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 2 {
		t.Errorf("stored %d turns, want 2", len(turns))
	}
}

func TestAnswer_FailureNotRecorded(t *testing.T) {
	emb := &mapEmbedder{dim: 4, vectors: map[string][]float32{}}
	local := &scriptedBackend{name: backend.Local, err: context.Canceled}
	hist, err := history.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer hist.Close()
	a := newAssistant(t, emb, local, hist)

	res, err := a.Answer(context.Background(), AnswerRequest{Query: "q", SessionID: "s1"})
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if !res.Failed {
		t.Errorf("failure not flagged: %q", res.Answer)
	}
	turns, err := hist.RecentTurns("s1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 0 {
		t.Errorf("failed answer stored in history: %+v", turns)
	}
}

func TestIngest_RebuildRefreshesRetrieval(t *testing.T) {
	emb := &mapEmbedder{dim: 4, vectors: map[string][]float32{
		"old fact": {1, 0, 0, 0},
		"new fact": {1, 0, 0, 0},
		"q":        {1, 0, 0, 0},
	}}
	a := newAssistant(t, emb, &scriptedBackend{name: backend.Local, reply: "ok"}, nil)

	if _, err := a.Ingest(context.Background(), "notes", "a.txt", "old fact"); err != nil {
		t.Fatal(err)
	}
	out, err := a.Search(context.Background(), "q", "", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Results) != 1 || out.Results[0].Content != "old fact" {
		t.Fatalf("results = %+v, want the old fact", out.Results)
	}

	// Rebuilding the partition must invalidate cached indexes and results.
	if _, err := a.Ingest(context.Background(), "notes", "a.txt", "new fact"); err != nil {
		t.Fatal(err)
	}
	out, err = a.Search(context.Background(), "q", "", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Results) != 1 || out.Results[0].Content != "new fact" {
		t.Errorf("results after rebuild = %+v, want the new fact", out.Results)
	}
}

func TestIngest_Validation(t *testing.T) {
	emb := &mapEmbedder{dim: 4, vectors: map[string][]float32{}}
	a := newAssistant(t, emb, &scriptedBackend{name: backend.Local, reply: "ok"}, nil)

	if _, err := a.Ingest(context.Background(), "", "a.txt", "text"); err == nil {
		t.Error("empty partition accepted")
	}
	if _, err := a.Ingest(context.Background(), "notes", "a.txt", "   "); err == nil {
		t.Error("whitespace-only document accepted")
	}
}

func TestIngestPDF_MissingFile(t *testing.T) {
	emb := &mapEmbedder{dim: 4, vectors: map[string][]float32{}}
	a := newAssistant(t, emb, &scriptedBackend{name: backend.Local, reply: "ok"}, nil)

	if _, err := a.IngestPDF(context.Background(), "notes", "/does/not/exist.pdf"); err == nil {
		t.Error("missing PDF accepted")
	}
}

func TestPartitions(t *testing.T) {
	emb := &mapEmbedder{dim: 4, vectors: map[string][]float32{"x": {1, 0, 0, 0}}}
	a := newAssistant(t, emb, &scriptedBackend{name: backend.Local, reply: "ok"}, nil)

	if got := a.Partitions(); len(got) != 0 {
		t.Errorf("partitions before ingest = %v, want none", got)
	}
	if _, err := a.Ingest(context.Background(), "math", "a.txt", "x"); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Ingest(context.Background(), "physics", "b.txt", "x"); err != nil {
		t.Fatal(err)
	}
	got := a.Partitions()
	if len(got) != 2 {
		t.Errorf("partitions = %v, want two", got)
	}
}
