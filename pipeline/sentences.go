package pipeline

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/BaSui01/interflow/run"
)

var sentenceBoundary = regexp.MustCompile(`([.!?])\s+`)

// SplitSentences splits text into trimmed sentences on terminal
// punctuation followed by whitespace.
func SplitSentences(text string) []string {
	marked := sentenceBoundary.ReplaceAllString(text, "$1\x00")
	parts := strings.Split(marked, "\x00")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// DeriveUnits builds the addressable edit units for generated content.
// Unit ids are positional and only valid against this exact text; any
// regeneration re-derives them.
func DeriveUnits(text string) []run.EditUnit {
	sentences := SplitSentences(text)
	units := make([]run.EditUnit, len(sentences))
	for i, s := range sentences {
		units[i] = run.EditUnit{ID: fmt.Sprintf("sentence_%d", i), Text: s}
	}
	return units
}

// JoinUnits reconstructs content from units in order.
func JoinUnits(units []run.EditUnit) string {
	parts := make([]string, len(units))
	for i, u := range units {
		parts[i] = u.Text
	}
	return strings.Join(parts, " ")
}
