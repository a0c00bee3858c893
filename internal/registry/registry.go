// Package registry loads the model roster and derives display metadata.
package registry

import (
	"fmt"
	"os"
	"strings"
	"unicode"
)

// palette holds the display colors assigned to roster entries, cycling by
// line index.
var palette = []string{
	"#10b981", // emerald
	"#f97316", // orange
	"#3b82f6", // blue
	"#a855f7", // purple
	"#ef4444", // red
	"#14b8a6", // teal
	"#f59e0b", // amber
	"#6366f1", // indigo
	"#ec4899", // pink
	"#22d3ee", // cyan
}

// ModelSpec describes one model backend. Immutable once loaded.
type ModelSpec struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Provider string `json:"provider"`
	Color    string `json:"color"`
}

// Load reads a roster file with one provider-qualified model id per line.
// Blank lines and # comments are skipped but still consume a palette slot,
// so colors stay stable when lines are commented in and out.
func Load(path string) ([]ModelSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: read %s: %w", path, err)
	}
	return Parse(data), nil
}

// Parse builds the roster from raw file contents.
func Parse(data []byte) []ModelSpec {
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil
	}
	var models []ModelSpec
	for i, raw := range strings.Split(text, "\n") {
		id := strings.TrimSpace(raw)
		if id == "" || strings.HasPrefix(id, "#") {
			continue
		}
		models = append(models, ModelSpec{
			ID:       id,
			Name:     deriveName(id),
			Provider: deriveProvider(id),
			Color:    palette[i%len(palette)],
		})
	}
	return models
}

// Default returns a one-entry roster for the given model id.
func Default(modelID string) []ModelSpec {
	return []ModelSpec{{
		ID:       modelID,
		Name:     deriveName(modelID),
		Provider: deriveProvider(modelID),
		Color:    palette[0],
	}}
}

// deriveName turns "openai/gpt-4o-mini" into "Gpt-4O-Mini": drop the vendor
// prefix, title-case the dash-separated words.
func deriveName(modelID string) string {
	slug := modelID
	if idx := strings.Index(modelID, "/"); idx >= 0 {
		slug = modelID[idx+1:]
	}
	spaced := strings.ReplaceAll(slug, "-", " ")
	return strings.ReplaceAll(titleCase(spaced), " ", "-")
}

// deriveProvider turns "openai/gpt-4o-mini" into "Openai" and
// "meta-llama/llama-3-70b" into "Meta".
func deriveProvider(modelID string) string {
	prefix := modelID
	if idx := strings.Index(modelID, "/"); idx >= 0 {
		prefix = modelID[:idx]
	}
	prefix = strings.ReplaceAll(prefix, "ai", "AI")
	prefix = strings.ReplaceAll(prefix, "meta-llama", "Meta")
	return titleCase(prefix)
}

// titleCase uppercases every letter that follows a non-letter and lowercases
// the rest, so "gpt 4o mini" becomes "Gpt 4O Mini".
func titleCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			if prevLetter {
				b.WriteRune(unicode.ToLower(r))
			} else {
				b.WriteRune(unicode.ToUpper(r))
			}
			prevLetter = true
		} else {
			b.WriteRune(r)
			prevLetter = false
		}
	}
	return b.String()
}
