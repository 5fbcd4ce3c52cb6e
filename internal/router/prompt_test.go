package router

import (
	"strings"
	"testing"

	"coursemate/internal/backend"
)

func TestBuildPrompt_Grounded(t *testing.T) {
	prompt := buildPrompt(Request{
		Query:   "what is entropy",
		Context: "Entropy measures disorder.",
		Backend: backend.Local,
		Sources: []string{"physics/thermo.pdf"},
	})

	for _, want := range []string{
		"Based on the provided course materials:",
		"Context: Entropy measures disorder.",
		"Current Question: what is entropy",
		"[Information sourced from: thermo.pdf]",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if !strings.HasSuffix(prompt, "Answer:") {
		t.Errorf("prompt does not end with the answer cue:\n%s", prompt)
	}
}

func TestBuildPrompt_Ungrounded(t *testing.T) {
	prompt := buildPrompt(Request{Query: "what is entropy", Backend: backend.Local})
	if strings.Contains(prompt, "course materials:") {
		t.Errorf("ungrounded prompt mentions materials:\n%s", prompt)
	}
	if !strings.Contains(prompt, "do not mention any sources") {
		t.Errorf("ungrounded prompt missing the no-sources instruction:\n%s", prompt)
	}
}

func TestHistoryPreamble_DepthLimit(t *testing.T) {
	history := []Turn{
		{Question: "q1", Answer: "a1"},
		{Question: "q2", Answer: "a2"},
		{Question: "q3", Answer: "a3"},
		{Question: "q4", Answer: "a4"},
	}
	got := historyPreamble(history)
	if strings.Contains(got, "q1") {
		t.Errorf("preamble includes turn beyond the depth limit:\n%s", got)
	}
	for _, want := range []string{"Previous Q: q2", "Previous A: a2", "Previous Q: q4", "Previous A: a4"} {
		if !strings.Contains(got, want) {
			t.Errorf("preamble missing %q:\n%s", want, got)
		}
	}
	if historyPreamble(nil) != "" {
		t.Error("empty history produced a preamble")
	}
}

func TestSourceFooter(t *testing.T) {
	tests := []struct {
		name    string
		sources []string
		want    string
	}{
		{"none", nil, "[Information sourced from course materials]"},
		{"single", []string{"math/calc.pdf"}, "[Information sourced from: calc.pdf]"},
		{"deduped basenames", []string{"math/calc.pdf", "physics/calc.pdf", "math/algebra.pdf"},
			"[Information sourced from: calc.pdf, algebra.pdf]"},
		{"blank skipped", []string{""}, "[Information sourced from course materials]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sourceFooter(tt.sources); got != tt.want {
				t.Errorf("sourceFooter(%v) = %q, want %q", tt.sources, got, tt.want)
			}
		})
	}
}

func TestTruncateContext(t *testing.T) {
	short := "Fits easily."
	if got := truncateContext(short, 500); got != short {
		t.Errorf("short context modified: %q", got)
	}

	long := strings.Repeat("One short sentence here. ", 40)
	got := truncateContext(long, 500)
	if len(got) > 500 {
		t.Errorf("truncated context is %d chars, want <= 500", len(got))
	}
	if !strings.HasSuffix(got, ".") {
		t.Errorf("truncation did not land on a sentence boundary: %q", got)
	}

	// No sentence boundary at all forces a hard cut.
	unbroken := strings.Repeat("x", 600)
	got = truncateContext(unbroken, 500)
	if len(got) != 500 || !strings.HasSuffix(got, "...") {
		t.Errorf("hard cut = %d chars ending %q, want 500 ending in ellipsis", len(got), got[len(got)-3:])
	}
}

func TestFinishGrounded_Idempotent(t *testing.T) {
	sources := []string{"math/calc.pdf"}
	once := finishGrounded("The answer.", sources)
	twice := finishGrounded(once, sources)
	if once != twice {
		t.Errorf("footer applied twice:\n%s", twice)
	}
	if strings.Count(twice, sourceFooterPrefix) != 1 {
		t.Errorf("want exactly one footer, got:\n%s", twice)
	}
}

func TestFinishUngrounded_StripsFabricatedFooter(t *testing.T) {
	got := finishUngrounded("An answer.\n\n[Information sourced from: made-up.pdf]")
	if strings.Contains(got, "made-up.pdf") {
		t.Errorf("fabricated footer survived: %q", got)
	}
	if !strings.HasSuffix(got, generalKnowledgeTrailer) {
		t.Errorf("missing trailer: %q", got)
	}
	if strings.Count(finishUngrounded(got), generalKnowledgeTrailer) != 1 {
		t.Error("trailer duplicated on reapplication")
	}
}
