package archive

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ArchivedRun is the scalar snapshot of a terminal run.
type ArchivedRun struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	RunID         string `gorm:"size:64;uniqueIndex"`
	SessionID     string `gorm:"size:64;index"`
	Status        string `gorm:"size:16"`
	Cursor        int
	SSESamplePath string `gorm:"size:255"`
	ExportPath    string `gorm:"size:255"`
	EventCount    int
	ResultCount   int
	ArchivedAt    time.Time
}

// ArchivedEvent is one event of a run's log. Payload holds the full event
// JSON; the indexed columns exist for querying without unmarshalling.
type ArchivedEvent struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	RunID     string `gorm:"size:64;index:idx_run_cursor,unique"`
	Cursor    int    `gorm:"index:idx_run_cursor,unique"`
	EventID   string `gorm:"size:16"`
	EventType string `gorm:"size:32;index"`
	Phase     string `gorm:"size:16"`
	AgentID   string `gorm:"size:32"`
	ModelID   string `gorm:"size:64;index"`
	Timestamp string `gorm:"size:40"`
	Payload   string `gorm:"type:mediumtext"`
}

// ArchivedResult is one (model, repetition) outcome.
type ArchivedResult struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	RunID     string `gorm:"size:64;index:idx_run_task,unique"`
	ModelID   string `gorm:"size:64;index:idx_run_task,unique"`
	RepIndex  int    `gorm:"index:idx_run_task,unique"`
	Status    string `gorm:"size:16"`
	LatencyMs int64
	Chunks    int
	Output    string `gorm:"type:mediumtext"`
	Usage     string `gorm:"size:512"`
	TraceID   string `gorm:"size:128"`
	Error     string `gorm:"size:512"`
}

// AllModels returns every archive GORM model for migration.
func AllModels() []interface{} {
	return []interface{}{
		&ArchivedRun{},
		&ArchivedEvent{},
		&ArchivedResult{},
	}
}

// AutoMigrate creates or updates the archive tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("archive: auto-migrate: %w", err)
	}
	return nil
}
