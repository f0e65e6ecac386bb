package assistant

import (
	"fmt"
	"strings"

	"github.com/ansarisultan/lexachat-server/internal/websearch"
)

const (
	searchContextHeader  = "Live web search context (use this if relevant and cite links):"
	searchContextClosing = "If sources are weak or missing, explicitly say that and ask the user to refine the query."
)

func BuildSearchContext(result websearch.Result) string {
	blocks := []string{searchContextHeader}
	if result.Answer != "" {
		blocks = append(blocks, "Summary: "+result.Answer)
	}
	for i, source := range result.Sources {
		blocks = append(blocks, fmt.Sprintf("[%d] %s\nURL: %s\nSnippet: %s",
			i+1, orDefault(source.Title, "Untitled"), orDefault(source.URL, "N/A"), orDefault(source.Snippet, "N/A")))
	}
	blocks = append(blocks, searchContextClosing)
	return strings.Join(blocks, "\n\n")
}

// WithSearchContext returns a new slice with the context appended as a system
// message. The input slice is left untouched.
func WithSearchContext(messages []Message, context string) []Message {
	out := make([]Message, len(messages), len(messages)+1)
	copy(out, messages)
	return append(out, TextMessage(RoleSystem, context))
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
