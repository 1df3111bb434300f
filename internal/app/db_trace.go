package app

import (
	"regexp"
	"strings"
)

// Spans carry the statement for debugging; long bulk upserts are truncated so
// a 500-row VALUES list does not blow up span size.
const maxTracedQueryLength = 512

var collapseWhitespace = regexp.MustCompile(`\s+`)

func formatDBQueryForTrace(query string) string {
	query = strings.TrimSpace(query)
	if query == "" {
		return query
	}

	flat := collapseWhitespace.ReplaceAllString(query, " ")
	if len(flat) <= maxTracedQueryLength {
		return flat
	}

	return flat[:maxTracedQueryLength] + "..."
}
