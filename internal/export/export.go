// Package export writes a finished run's results to disk: one JSON file per
// (model, repetition) task plus a summary.json manifest.
package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hivemetrics/swarmbench/internal/runlog"
)

// SummaryEntry is one row of the manifest. Every key is present even when
// empty so downstream tooling can index without probing.
type SummaryEntry struct {
	ModelID    string         `json:"model_id"`
	RepIndex   int            `json:"rep_index"`
	Status     string         `json:"status"`
	LatencyMS  int64          `json:"latency_ms"`
	Chunks     int            `json:"chunks"`
	Usage      map[string]any `json:"usage"`
	TraceID    string         `json:"trace_id"`
	Error      string         `json:"error"`
	OutputFile string         `json:"output_file"`
}

// Summary is the summary.json manifest.
type Summary struct {
	RunID     string         `json:"run_id"`
	Total     int            `json:"total"`
	Completed int            `json:"completed"`
	Errored   int            `json:"errored"`
	Results   []SummaryEntry `json:"results"`
}

// Exporter writes run artifacts under {artifactsDir}/runs/{runID}/.
type Exporter struct {
	store *runlog.Store
	root  string
}

// New builds an Exporter rooted at artifactsDir.
func New(store *runlog.Store, artifactsDir string) *Exporter {
	return &Exporter{store: store, root: artifactsDir}
}

// WriteResults exports every accumulated result of the run and returns the
// output directory. Re-export overwrites in place, so the directory always
// reflects the latest result set. The directory is recorded on the run.
func (e *Exporter) WriteResults(runID string) (string, error) {
	results, err := e.store.Results(runID)
	if err != nil {
		return "", err
	}

	dir := filepath.Join(e.root, "runs", runID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("export: create run dir: %w", err)
	}

	keys := make([]string, 0, len(results))
	for k := range results {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	entries := make([]SummaryEntry, 0, len(keys))
	completed := 0
	for _, key := range keys {
		res := results[key]
		name := fmt.Sprintf("%s_rep%d.json", safeModelID(res.ModelID), res.RepIndex)

		data, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return "", fmt.Errorf("export: marshal %s: %w", key, err)
		}
		if err := os.WriteFile(filepath.Join(dir, name), data, 0644); err != nil {
			return "", fmt.Errorf("export: write %s: %w", name, err)
		}

		if res.Status == runlog.ResultCompleted {
			completed++
		}
		entries = append(entries, SummaryEntry{
			ModelID:    res.ModelID,
			RepIndex:   res.RepIndex,
			Status:     res.Status,
			LatencyMS:  res.LatencyMS,
			Chunks:     res.Chunks,
			Usage:      res.Usage,
			TraceID:    res.TraceID,
			Error:      res.Error,
			OutputFile: name,
		})
	}

	summary := Summary{
		RunID:     runID,
		Total:     len(entries),
		Completed: completed,
		Errored:   len(entries) - completed,
		Results:   entries,
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", fmt.Errorf("export: marshal summary: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "summary.json"), data, 0644); err != nil {
		return "", fmt.Errorf("export: write summary: %w", err)
	}

	if err := e.store.SetExportPath(runID, dir); err != nil {
		return "", err
	}
	return dir, nil
}

// safeModelID flattens a provider-qualified model id into a file-name-safe
// slug.
func safeModelID(id string) string {
	return strings.ReplaceAll(id, "/", "_")
}
