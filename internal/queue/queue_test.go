package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"gold-exchange-go/internal/config"
	"gold-exchange-go/internal/dbtest"
	"gold-exchange-go/internal/models"
)

type payload struct {
	OrderID uint `json:"order_id"`
	Next    int  `json:"next"`
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newQueue(t *testing.T) (*Queue, *clock, *gorm.DB) {
	t.Helper()
	db := dbtest.New(t)
	q := New(db, config.Queue{VisibilityTimeoutSeconds: 60, MaxAttempts: 2, RetryDelaySeconds: 10}, zap.NewNop())
	c := &clock{t: time.Date(2025, 5, 12, 12, 0, 0, 0, time.UTC)}
	q.now = c.now
	return q, c, db
}

func TestQueue_EnqueueAndClaim(t *testing.T) {
	q, _, _ := newQueue(t)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, "discover_matches", payload{OrderID: 1}, "")
	require.NoError(t, err)
	assert.NotEmpty(t, first.CorrelationID)
	assert.Equal(t, 2, first.MaxAttempts)
	_, err = q.Enqueue(ctx, "discover_matches", payload{OrderID: 2}, "corr-2")
	require.NoError(t, err)

	job, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, first.ID, job.ID)
	assert.Equal(t, models.JobStatusRunning, job.Status)
	assert.Equal(t, 1, job.Attempts)
	require.NotNil(t, job.LockedUntil)

	var p payload
	require.NoError(t, Decode(job, &p))
	assert.Equal(t, uint(1), p.OrderID)

	second, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, "corr-2", second.CorrelationID)

	none, err := q.Claim(ctx)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestQueue_EnqueueTx_RollsBackWithCaller(t *testing.T) {
	q, _, db := newQueue(t)

	err := db.Transaction(func(tx *gorm.DB) error {
		if _, err := q.EnqueueTx(tx, "discover_matches", payload{OrderID: 1}, ""); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)

	job, err := q.Claim(context.Background())
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestQueue_ExpiredLeaseIsReclaimed(t *testing.T) {
	q, c, _ := newQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "settle_chain", payload{OrderID: 1}, "")
	require.NoError(t, err)
	job, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)

	c.advance(30 * time.Second)
	none, err := q.Claim(ctx)
	require.NoError(t, err)
	assert.Nil(t, none, "lease still held")

	c.advance(time.Minute)
	again, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, job.ID, again.ID)
	assert.Equal(t, 2, again.Attempts)

	// attempts are spent, so the next expiry fails the job instead
	c.advance(2 * time.Minute)
	none, err = q.Claim(ctx)
	require.NoError(t, err)
	assert.Nil(t, none)

	failed, err := q.Failed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "lease expired", failed[0].LastError)
}

func TestQueue_Checkpoint(t *testing.T) {
	q, c, db := newQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "settle_chain", payload{OrderID: 1}, "")
	require.NoError(t, err)
	job, err := q.Claim(ctx)
	require.NoError(t, err)

	c.advance(50 * time.Second)
	require.NoError(t, q.Checkpoint(ctx, job, payload{OrderID: 1, Next: 2}))

	var stored models.Job
	require.NoError(t, db.First(&stored, job.ID).Error)
	var p payload
	require.NoError(t, Decode(&stored, &p))
	assert.Equal(t, 2, p.Next)

	// renewed lease outlives the original one
	c.advance(30 * time.Second)
	none, err := q.Claim(ctx)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestQueue_ReleaseThenFail(t *testing.T) {
	q, c, _ := newQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "discover_matches", payload{OrderID: 1}, "")
	require.NoError(t, err)
	job, err := q.Claim(ctx)
	require.NoError(t, err)

	require.NoError(t, q.Release(ctx, job, errors.New("database is locked")))
	assert.Equal(t, models.JobStatusPending, job.Status)

	none, err := q.Claim(ctx)
	require.NoError(t, err)
	assert.Nil(t, none, "retry delay not elapsed")

	c.advance(10 * time.Second)
	job, err = q.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 2, job.Attempts)

	require.NoError(t, q.Release(ctx, job, errors.New("database is locked")))
	assert.Equal(t, models.JobStatusFailed, job.Status)

	failed, err := q.Failed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "database is locked", failed[0].LastError)
}

func TestQueue_Complete(t *testing.T) {
	q, c, _ := newQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "discover_matches", payload{OrderID: 1}, "")
	require.NoError(t, err)
	job, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, job))

	c.advance(time.Hour)
	none, err := q.Claim(ctx)
	require.NoError(t, err)
	assert.Nil(t, none)
}
