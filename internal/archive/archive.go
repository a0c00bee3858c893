package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/hivemetrics/swarmbench/internal/runlog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Opts holds parameters for creating an Archiver.
type Opts struct {
	DB    *gorm.DB
	Store *runlog.Store

	// Evict drops runs from the in-memory store after a successful archive.
	Evict bool
}

// Archiver copies terminal runs from the in-memory store into the database.
type Archiver struct {
	db    *gorm.DB
	store *runlog.Store
	evict bool
}

// New creates an Archiver.
func New(opts Opts) (*Archiver, error) {
	if opts.DB == nil {
		return nil, errors.New("archive: db is required")
	}
	if opts.Store == nil {
		return nil, errors.New("archive: store is required")
	}
	return &Archiver{db: opts.DB, store: opts.Store, evict: opts.Evict}, nil
}

// ArchiveRun persists one terminal run: the scalar snapshot, every event,
// and every result. Re-archiving is safe; the run row is updated in place,
// events are immutable and skipped on conflict, results take the last write.
func (a *Archiver) ArchiveRun(runID string) error {
	run, err := a.store.Run(runID)
	if err != nil {
		return err
	}
	if run.Status == runlog.RunRunning {
		return fmt.Errorf("archive: run %s: %w", runID, runlog.ErrRunActive)
	}

	events, err := a.store.Events(runID, 0, "")
	if err != nil {
		return err
	}
	results, err := a.store.Results(runID)
	if err != nil {
		return err
	}

	row := ArchivedRun{
		RunID:         run.ID,
		SessionID:     run.SessionID,
		Status:        run.Status,
		Cursor:        run.Cursor,
		SSESamplePath: run.SSESamplePath,
		ExportPath:    run.ExportPath,
		EventCount:    len(events),
		ResultCount:   len(results),
		ArchivedAt:    time.Now().UTC(),
	}
	result := a.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "run_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "cursor", "sse_sample_path", "export_path",
			"event_count", "result_count", "archived_at",
		}),
	}).Create(&row)
	if result.Error != nil {
		return fmt.Errorf("archive: upsert run %s: %w", runID, result.Error)
	}

	for _, e := range events {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("archive: marshal event %s: %w", e.EventID, err)
		}
		cursor, _ := strconv.Atoi(e.Cursor)
		row := ArchivedEvent{
			RunID:     e.RunID,
			Cursor:    cursor,
			EventID:   e.EventID,
			EventType: e.EventType,
			Phase:     e.Phase,
			AgentID:   e.AgentID,
			ModelID:   e.ModelID,
			Timestamp: e.Timestamp,
			Payload:   string(payload),
		}
		result := a.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "run_id"}, {Name: "cursor"}},
			DoNothing: true,
		}).Create(&row)
		if result.Error != nil {
			return fmt.Errorf("archive: insert event %s: %w", e.EventID, result.Error)
		}
	}

	for _, res := range results {
		usage, err := marshalJSON(res.Usage)
		if err != nil {
			return fmt.Errorf("archive: marshal usage for %s: %w", res.ModelID, err)
		}
		row := ArchivedResult{
			RunID:     runID,
			ModelID:   res.ModelID,
			RepIndex:  res.RepIndex,
			Status:    res.Status,
			LatencyMs: res.LatencyMS,
			Chunks:    res.Chunks,
			Output:    res.Output,
			Usage:     usage,
			TraceID:   res.TraceID,
			Error:     res.Error,
		}
		result := a.db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "run_id"}, {Name: "model_id"}, {Name: "rep_index"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status", "latency_ms", "chunks", "output", "usage", "trace_id", "error",
			}),
		}).Create(&row)
		if result.Error != nil {
			return fmt.Errorf("archive: upsert result %s rep %d: %w", res.ModelID, res.RepIndex, result.Error)
		}
	}

	return nil
}

// Sweep archives every terminal run currently in the store and returns how
// many were archived. Per-run failures are logged and skipped so one bad
// run cannot wedge the sweeper. With eviction on, archived runs are dropped
// from the store.
func (a *Archiver) Sweep() int {
	archived := 0
	for _, run := range a.store.Runs() {
		if run.Status == runlog.RunRunning {
			continue
		}
		if err := a.ArchiveRun(run.ID); err != nil {
			log.Printf("archive: sweep run %s: %v", run.ID, err)
			continue
		}
		archived++
		if a.evict {
			if err := a.store.DropRun(run.ID); err != nil {
				log.Printf("archive: evict run %s: %v", run.ID, err)
			}
		}
	}
	return archived
}

// marshalJSON marshals a value to a JSON string, returning empty string for nil.
func marshalJSON(v interface{}) (string, error) {
	if v == nil {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
