package runlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SSEBlock renders one event as a Server-Sent Events block: an id line
// carrying the cursor, an event line carrying the event type, a data line
// carrying the JSON payload, and a blank separator line.
func SSEBlock(e *Event) (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("runlog: marshal event %s: %w", e.EventID, err)
	}
	var b strings.Builder
	b.WriteString("id: ")
	b.WriteString(e.Cursor)
	b.WriteString("\nevent: ")
	b.WriteString(e.EventType)
	b.WriteString("\ndata: ")
	b.Write(data)
	b.WriteString("\n\n")
	return b.String(), nil
}

// WriteSSESample renders the run's full event log as SSE blocks and writes
// it under {artifacts}/sse. The directory is cleared first so samples from
// earlier runs never linger; the per-run file and the canonical
// sample_output.txt both receive the same content, and the per-run path is
// recorded on the run.
func (s *Store) WriteSSESample(runID string) (string, error) {
	r, err := s.getRun(runID)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	events := append([]*Event(nil), r.events...)
	r.mu.Unlock()

	var b strings.Builder
	for _, e := range events {
		block, err := SSEBlock(e)
		if err != nil {
			return "", err
		}
		b.WriteString(block)
	}

	dir := filepath.Join(s.artifactsDir, "sse")
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("runlog: clear sse dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("runlog: create sse dir: %w", err)
	}

	runPath := filepath.Join(dir, fmt.Sprintf("run_%s.txt", runID))
	if err := os.WriteFile(runPath, []byte(b.String()), 0644); err != nil {
		return "", fmt.Errorf("runlog: write sse sample: %w", err)
	}
	canonical := filepath.Join(dir, "sample_output.txt")
	if err := os.WriteFile(canonical, []byte(b.String()), 0644); err != nil {
		return "", fmt.Errorf("runlog: write sse sample: %w", err)
	}

	r.mu.Lock()
	r.sseSamplePath = runPath
	r.mu.Unlock()
	return runPath, nil
}
