package assistant

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ansarisultan/lexachat-server/internal/websearch"
)

const maxCitedSources = 3

var linkPattern = regexp.MustCompile(`(?i)https?://[^\s]+`)

// AppendSources adds a numbered source list when the reply carries no link of
// its own. Only sources with a URL are listed.
func AppendSources(content string, sources []websearch.Source) string {
	if len(sources) == 0 || linkPattern.MatchString(content) {
		return content
	}

	lines := make([]string, 0, maxCitedSources)
	for _, source := range sources {
		if len(lines) == maxCitedSources {
			break
		}
		if source.URL == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("%d. %s - %s", len(lines)+1, orDefault(source.Title, source.URL), source.URL))
	}
	if len(lines) == 0 {
		return content
	}
	return content + "\n\nSources:\n" + strings.Join(lines, "\n")
}
