// Package notify renders change events into channel message text.
// Formatting is a thin collaborator: the dispatch core never inspects
// the rendered text.
package notify

import (
	"fmt"
	"strings"
	"time"

	"chatd/internal/diff"
)

// defaultTerm is the season the whole feed targets; listing it on
// every message is noise, so it is suppressed.
const defaultTerm = "Summer 2026"

const postedOnLayout = "January, 02 @ 3:04 PM MST"

var kindHeaders = map[diff.Kind]string{
	diff.KindReopened:    "Reopened",
	diff.KindUpdated:     "Updated",
	diff.KindDeactivated: "No longer accepting applications",
	diff.KindHidden:      "Removed from the listings",
}

// FormatMessage renders one event as Telegram markdown.
func FormatMessage(ev diff.Event) string {
	p := ev.Posting

	var parts []string
	if h, ok := kindHeaders[ev.Kind]; ok {
		parts = append(parts, fmt.Sprintf("_%s_", h))
	}
	parts = append(parts, fmt.Sprintf("*%s*", p.Company))
	if url := strings.TrimSpace(p.URL); url != "" {
		parts = append(parts, fmt.Sprintf("[%s](%s)", p.Title, url))
	} else {
		parts = append(parts, p.Title)
	}

	parts = append(parts, "Locations: "+joinOr(p.Locations, "Not specified"))

	if terms := joinOr(p.Terms, ""); terms != "" && terms != defaultTerm {
		parts = append(parts, "Terms: "+terms)
	}
	if sp := strings.TrimSpace(p.Sponsorship); sp != "" && !strings.EqualFold(sp, "other") {
		parts = append(parts, "Sponsorship: "+sp)
	}

	parts = append(parts, "Posted on: "+formatEpoch(p.PostedAt))
	return strings.Join(parts, "\n")
}

func joinOr(vals []string, fallback string) string {
	if len(vals) == 0 {
		return fallback
	}
	return strings.Join(vals, " | ")
}

func formatEpoch(sec int64) string {
	return time.Unix(sec, 0).UTC().Format(postedOnLayout)
}
