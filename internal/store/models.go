package store

import "time"

// Build statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Build records one packaging run
type Build struct {
	ID           int64
	BuildID      string // uuid shared with logs and the build report
	Release      string
	Version      string
	ArchivePath  string
	SHA256       string
	Size         int64
	EntryCount   int
	CatalogCount int
	Status       string // "running", "completed", "failed"
	FailedStage  string
	ErrorMessage string
	StartTime    time.Time
	EndTime      time.Time
}
