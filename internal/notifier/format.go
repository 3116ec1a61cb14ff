package notifier

import (
	"fmt"
	"strings"

	"scorewatch/internal/detect"
)

// FormatChanges renders the aggregated change report: a pluralized
// header, one "item: old -> new" line per event, and a link back to the
// portal page.
func FormatChanges(events []detect.Event, pageURL string) string {
	var b strings.Builder
	n := len(events)
	if n == 1 {
		b.WriteString("Score change detected for 1 course.")
	} else {
		fmt.Fprintf(&b, "Score changes detected for %d courses.", n)
	}
	b.WriteString("\n\n")
	for i, ev := range events {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s: %s -> %s", ev.Item, ev.OldScore, ev.NewScore)
	}
	if pageURL != "" {
		b.WriteString("\n\nOpen in portal: ")
		b.WriteString(pageURL)
	}
	return b.String()
}

// firstLine is what space-constrained channels show.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
