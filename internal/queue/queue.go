// Package queue is a durable job queue stored in the application database.
// Jobs are claimed with a time-limited lease; a lease that runs out makes the
// job claimable again, so delivery is at-least-once.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gold-exchange-go/internal/config"
	"gold-exchange-go/internal/models"
)

// ErrUnknownKind is returned by handlers for job kinds they do not serve.
var ErrUnknownKind = errors.New("unknown job kind")

// Queue enqueues, leases and finishes jobs.
type Queue struct {
	db          *gorm.DB
	visibility  time.Duration
	maxAttempts int
	retryDelay  time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

// New creates a new Queue.
func New(db *gorm.DB, cfg config.Queue, logger *zap.Logger) *Queue {
	q := &Queue{
		db:          db,
		visibility:  time.Duration(cfg.VisibilityTimeoutSeconds) * time.Second,
		maxAttempts: cfg.MaxAttempts,
		retryDelay:  time.Duration(cfg.RetryDelaySeconds) * time.Second,
		logger:      logger.Named("queue"),
		now:         func() time.Time { return time.Now().UTC() },
	}
	if q.visibility <= 0 {
		q.visibility = 5 * time.Minute
	}
	if q.maxAttempts <= 0 {
		q.maxAttempts = 1
	}
	return q
}

// Enqueue adds a job. An empty correlationID gets a fresh one.
func (q *Queue) Enqueue(ctx context.Context, kind string, payload any, correlationID string) (*models.Job, error) {
	return q.EnqueueTx(q.db.WithContext(ctx), kind, payload, correlationID)
}

// EnqueueTx adds a job using tx, so it commits or rolls back with the caller's writes.
func (q *Queue) EnqueueTx(tx *gorm.DB, kind string, payload any, correlationID string) (*models.Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", kind, err)
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	job := &models.Job{
		Kind:          kind,
		Payload:       string(body),
		Status:        models.JobStatusPending,
		MaxAttempts:   q.maxAttempts,
		AvailableAt:   q.now(),
		CorrelationID: correlationID,
	}
	if err := tx.Create(job).Error; err != nil {
		return nil, fmt.Errorf("failed to enqueue %s job: %w", kind, err)
	}
	return job, nil
}

// Claim leases the oldest job that is ready to run, or one whose lease has
// expired. It returns nil when there is nothing to do.
func (q *Queue) Claim(ctx context.Context) (*models.Job, error) {
	var claimed *models.Job
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := q.now()

		find := tx.Where("(status = ? AND available_at <= ?) OR (status = ? AND locked_until < ?)",
			models.JobStatusPending, now, models.JobStatusRunning, now).
			Order("available_at ASC").Order("id ASC")
		if tx.Dialector.Name() == "postgres" {
			find = find.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var job models.Job
		err := find.First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to find ready job: %w", err)
		}

		if job.Status == models.JobStatusRunning && job.Attempts >= job.MaxAttempts {
			q.logger.Error("Job lease expired with no attempts left",
				zap.Uint("job_id", job.ID), zap.String("kind", job.Kind), zap.Int("attempts", job.Attempts))
			return tx.Model(&job).Updates(map[string]any{
				"status":       models.JobStatusFailed,
				"locked_until": nil,
				"last_error":   "lease expired",
			}).Error
		}

		lockedUntil := now.Add(q.visibility)
		res := tx.Model(&models.Job{}).
			Where("id = ? AND status = ? AND attempts = ?", job.ID, job.Status, job.Attempts).
			Updates(map[string]any{
				"status":       models.JobStatusRunning,
				"attempts":     job.Attempts + 1,
				"locked_until": lockedUntil,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to lease job %d: %w", job.ID, res.Error)
		}
		if res.RowsAffected == 0 {
			// another worker got there first
			return nil
		}

		job.Status = models.JobStatusRunning
		job.Attempts++
		job.LockedUntil = &lockedUntil
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Checkpoint stores new progress for a running job and renews its lease.
func (q *Queue) Checkpoint(ctx context.Context, job *models.Job, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", job.Kind, err)
	}
	lockedUntil := q.now().Add(q.visibility)
	err = q.db.WithContext(ctx).Model(job).Updates(map[string]any{
		"payload":      string(body),
		"locked_until": lockedUntil,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to checkpoint job %d: %w", job.ID, err)
	}
	job.Payload = string(body)
	job.LockedUntil = &lockedUntil
	return nil
}

// Complete marks the job done.
func (q *Queue) Complete(ctx context.Context, job *models.Job) error {
	return q.CompleteTx(q.db.WithContext(ctx), job)
}

// CompleteTx marks the job done as part of tx.
func (q *Queue) CompleteTx(tx *gorm.DB, job *models.Job) error {
	err := tx.Model(job).Updates(map[string]any{
		"status":       models.JobStatusDone,
		"locked_until": nil,
	}).Error
	if err != nil {
		return fmt.Errorf("failed to complete job %d: %w", job.ID, err)
	}
	job.Status = models.JobStatusDone
	job.LockedUntil = nil
	return nil
}

// Release returns a job to the queue after a failed run. It becomes available
// again after the retry delay, or fails for good once its attempts are spent.
func (q *Queue) Release(ctx context.Context, job *models.Job, cause error) error {
	if job.Attempts >= job.MaxAttempts {
		return q.Fail(ctx, job, cause)
	}

	availableAt := q.now().Add(q.retryDelay)
	err := q.db.WithContext(ctx).Model(job).Updates(map[string]any{
		"status":       models.JobStatusPending,
		"available_at": availableAt,
		"locked_until": nil,
		"last_error":   cause.Error(),
	}).Error
	if err != nil {
		return fmt.Errorf("failed to release job %d: %w", job.ID, err)
	}
	q.logger.Warn("Job released for retry",
		zap.Uint("job_id", job.ID),
		zap.String("kind", job.Kind),
		zap.Int("attempt", job.Attempts),
		zap.Time("available_at", availableAt),
		zap.Error(cause),
	)
	job.Status = models.JobStatusPending
	job.AvailableAt = availableAt
	job.LockedUntil = nil
	job.LastError = cause.Error()
	return nil
}

// Fail marks the job failed. Failed jobs are never claimed again and are
// listed by Failed for operators.
func (q *Queue) Fail(ctx context.Context, job *models.Job, cause error) error {
	err := q.db.WithContext(ctx).Model(job).Updates(map[string]any{
		"status":       models.JobStatusFailed,
		"locked_until": nil,
		"last_error":   cause.Error(),
	}).Error
	if err != nil {
		return fmt.Errorf("failed to mark job %d failed: %w", job.ID, err)
	}
	q.logger.Error("Job failed",
		zap.Uint("job_id", job.ID),
		zap.String("kind", job.Kind),
		zap.String("correlation_id", job.CorrelationID),
		zap.Int("attempts", job.Attempts),
		zap.Error(cause),
	)
	job.Status = models.JobStatusFailed
	job.LockedUntil = nil
	job.LastError = cause.Error()
	return nil
}

// Failed returns the most recent terminally failed jobs.
func (q *Queue) Failed(ctx context.Context, limit int) ([]models.Job, error) {
	var jobs []models.Job
	err := q.db.WithContext(ctx).
		Where("status = ?", models.JobStatusFailed).
		Order("updated_at DESC").Order("id DESC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list failed jobs: %w", err)
	}
	return jobs, nil
}

// Decode unmarshals the job payload into v.
func Decode(job *models.Job, v any) error {
	if err := json.Unmarshal([]byte(job.Payload), v); err != nil {
		return fmt.Errorf("failed to decode %s payload of job %d: %w", job.Kind, job.ID, err)
	}
	return nil
}
