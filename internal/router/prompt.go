package router

import (
	"fmt"
	"path/filepath"
	"strings"
)

const (
	// maxContextChars keeps grounded prompts small enough for fast local
	// inference; context is cut at sentence boundaries where possible.
	maxContextChars = 500

	// historyDepth is how many recent turns are prepended to the prompt.
	historyDepth = 3

	generalKnowledgeTrailer = "[This is a general knowledge answer]"
	sourceFooterPrefix      = "[Information sourced from:"
)

// Turn is one prior question/answer pair supplied by the caller. The
// router only reads it; the caller's session store owns the history.
type Turn struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// buildPrompt renders the full prompt for a request. Grounded requests
// (context present) instruct the model to answer only from the supplied
// material and to append a source footer; ungrounded ones forbid citing
// sources it does not have.
func buildPrompt(req Request) string {
	var sb strings.Builder
	sb.WriteString(historyPreamble(req.History))

	if req.Context != "" {
		sb.WriteString("Based on the provided course materials:\n\n")
		sb.WriteString("Context: ")
		sb.WriteString(truncateContext(req.Context, maxContextChars))
		sb.WriteString("\n\nCurrent Question: ")
		sb.WriteString(req.Query)
		sb.WriteString("\n\nAnswer the question concisely using only the provided materials.\n")
		sb.WriteString("At the end of your response, add: ")
		sb.WriteString(sourceFooter(req.Sources))
		sb.WriteString("\n\nAnswer:")
		return sb.String()
	}

	sb.WriteString("Question: ")
	sb.WriteString(req.Query)
	sb.WriteString("\n\nAnswer concisely. If you are not using any specific course materials, do not mention any sources.")
	return sb.String()
}

// degradedPrompt is the retry prompt after a timeout: no context, brief answer.
func degradedPrompt(query string) string {
	return "Answer briefly: " + query
}

// historyPreamble renders up to the last historyDepth turns as
// Previous Q/Previous A pairs.
func historyPreamble(history []Turn) string {
	if len(history) == 0 {
		return ""
	}
	if len(history) > historyDepth {
		history = history[len(history)-historyDepth:]
	}
	var lines []string
	for _, t := range history {
		lines = append(lines, "Previous Q: "+t.Question, "Previous A: "+t.Answer)
	}
	return strings.Join(lines, "\n") + "\n\n"
}

// sourceFooter formats the attribution footer from source labels of the
// form "<partition>/<sourceID>".
func sourceFooter(sources []string) string {
	var files []string
	seen := make(map[string]bool)
	for _, s := range sources {
		if s == "" {
			continue
		}
		name := filepath.Base(s)
		if !seen[name] {
			seen[name] = true
			files = append(files, name)
		}
	}
	if len(files) == 0 {
		return "[Information sourced from course materials]"
	}
	return fmt.Sprintf("%s %s]", sourceFooterPrefix, strings.Join(files, ", "))
}

// truncateContext cuts context to max characters, preferring sentence
// boundaries over a hard cut.
func truncateContext(context string, max int) string {
	if len(context) <= max {
		return context
	}

	var sb strings.Builder
	for _, sentence := range strings.SplitAfter(context, ". ") {
		if sb.Len()+len(sentence) > max {
			break
		}
		sb.WriteString(sentence)
	}
	if sb.Len() > 0 {
		return strings.TrimRight(sb.String(), " ")
	}
	return context[:max-3] + "..."
}

// finishGrounded guarantees the source footer is present on a grounded answer.
func finishGrounded(answer string, sources []string) string {
	footer := sourceFooter(sources)
	if strings.Contains(answer, footer) {
		return answer
	}
	return answer + "\n\n" + footer
}

// finishUngrounded strips any fabricated source footer and appends the
// general-knowledge trailer.
func finishUngrounded(answer string) string {
	if i := strings.Index(answer, sourceFooterPrefix); i != -1 {
		answer = strings.TrimSpace(answer[:i])
	}
	if strings.Contains(answer, generalKnowledgeTrailer) {
		return answer
	}
	return answer + "\n\n" + generalKnowledgeTrailer
}
