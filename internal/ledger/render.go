package ledger

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ShayCichocki/magentic/pkg/models"
)

// Render formats entries as prompt context, one block per entry.
func Render(entries []models.Contribution) string {
	var b strings.Builder
	for _, c := range entries {
		fmt.Fprintf(&b, "#%d %s", c.Seq, c.Producer)
		if c.SubGoalID != "" {
			fmt.Fprintf(&b, " (%s)", c.SubGoalID)
		}
		fmt.Fprintf(&b, " [%s/%s]:\n%s\n\n", c.Kind, c.Status, strings.TrimSpace(c.Payload))
	}
	return strings.TrimRight(b.String(), "\n")
}

// FirstLine returns the first line of s, trimmed and cut to at most max
// bytes. A cut never splits a rune and ends in "...".
func FirstLine(s string, max int) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	line = strings.TrimRight(line, "\r")
	if len(line) <= max {
		return line
	}
	cut := max - 3
	if cut < 0 {
		cut = 0
	}
	for cut > 0 && !utf8.RuneStart(line[cut]) {
		cut--
	}
	return line[:cut] + "..."
}
