package models

import "time"

// JobStatus is the state of a row in the durable job queue.
type JobStatus string

const (
	JobStatusPending JobStatus = "pending"
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusFailed  JobStatus = "failed"
)

// Job is a unit of asynchronous work. Payload is JSON whose shape depends on Kind.
type Job struct {
	ID            uint      `gorm:"primaryKey"`
	Kind          string    `gorm:"type:varchar(64);not null;index"`
	Payload       string    `gorm:"type:text;not null"`
	Status        JobStatus `gorm:"type:varchar(16);not null;index:idx_jobs_ready"`
	Attempts      int       `gorm:"not null;default:0"`
	MaxAttempts   int       `gorm:"not null;default:1"`
	AvailableAt   time.Time `gorm:"not null;index:idx_jobs_ready"`
	LockedUntil   *time.Time
	LastError     string `gorm:"type:text"`
	CorrelationID string `gorm:"type:varchar(36);index"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
