// Package pipeline drives an order from creation to settlement: a discovery
// job finds counter-orders, then a chain job settles them one at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"gold-exchange-go/internal/alerting"
	"gold-exchange-go/internal/config"
	"gold-exchange-go/internal/models"
	"gold-exchange-go/internal/queue"
	"gold-exchange-go/internal/settlement"
)

// Job kinds handled by the pipeline.
const (
	KindDiscoverMatches = "discover_matches"
	KindSettleChain     = "settle_chain"
)

// DiscoverPayload asks for counter-orders of one order.
type DiscoverPayload struct {
	OrderID uint `json:"order_id"`
}

// ChainPayload is the ordered list of counter-orders to settle against OrderID.
// Next is the index of the first task that has not reached a terminal outcome.
type ChainPayload struct {
	OrderID         uint   `json:"order_id"`
	MatchedOrderIDs []uint `json:"matched_order_ids"`
	Next            int    `json:"next"`
}

// Finder locates counter-orders.
type Finder interface {
	FindMatchingOrders(ctx context.Context, order *models.Order) ([]models.Order, error)
}

// Settler settles one matched pair.
type Settler interface {
	Settle(ctx context.Context, newOrderID, matchedOrderID uint) (*settlement.Result, error)
}

// RetryPolicy bounds how often a settlement task is attempted. Backoff[i] is
// the wait after the (i+1)th failed attempt; the last delay repeats.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     []time.Duration
}

// NewRetryPolicy builds the policy from configuration.
func NewRetryPolicy(cfg config.Settlement) RetryPolicy {
	return RetryPolicy{MaxAttempts: cfg.MaxAttempts, Backoff: cfg.Backoff()}
}

func (p RetryPolicy) delay(failures int) time.Duration {
	if len(p.Backoff) == 0 {
		return 0
	}
	if failures > len(p.Backoff) {
		failures = len(p.Backoff)
	}
	return p.Backoff[failures-1]
}

// Pipeline handles discovery and settlement chain jobs.
type Pipeline struct {
	db       *gorm.DB
	queue    *queue.Queue
	finder   Finder
	settler  Settler
	notifier alerting.Notifier
	retry    RetryPolicy
	logger   *zap.Logger
}

// New creates a new Pipeline. A nil notifier only logs chain failures.
func New(db *gorm.DB, q *queue.Queue, finder Finder, settler Settler, notifier alerting.Notifier, retry RetryPolicy, logger *zap.Logger) *Pipeline {
	if notifier == nil {
		notifier = alerting.NopNotifier{}
	}
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}
	return &Pipeline{
		db:       db,
		queue:    q,
		finder:   finder,
		settler:  settler,
		notifier: notifier,
		retry:    retry,
		logger:   logger.Named("pipeline"),
	}
}

// EnqueueDiscovery schedules discovery for a newly active order within tx.
func EnqueueDiscovery(tx *gorm.DB, q *queue.Queue, orderID uint) (*models.Job, error) {
	return q.EnqueueTx(tx, KindDiscoverMatches, DiscoverPayload{OrderID: orderID}, "")
}

// Handle runs one claimed job to a terminal state. A returned error means the
// job should be released for another attempt.
func (p *Pipeline) Handle(ctx context.Context, job *models.Job) error {
	switch job.Kind {
	case KindDiscoverMatches:
		var payload DiscoverPayload
		if err := queue.Decode(job, &payload); err != nil {
			return err
		}
		return p.discover(ctx, job, payload)
	case KindSettleChain:
		var payload ChainPayload
		if err := queue.Decode(job, &payload); err != nil {
			return err
		}
		return p.runChain(ctx, job, payload)
	default:
		return fmt.Errorf("%w: %s", queue.ErrUnknownKind, job.Kind)
	}
}

func (p *Pipeline) discover(ctx context.Context, job *models.Job, payload DiscoverPayload) error {
	log := p.logger.With(zap.Uint("order_id", payload.OrderID), zap.String("correlation_id", job.CorrelationID))

	var order models.Order
	err := p.db.WithContext(ctx).First(&order, payload.OrderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Warn("Order vanished before discovery")
		return p.queue.Complete(ctx, job)
	}
	if err != nil {
		return fmt.Errorf("failed to load order %d: %w", payload.OrderID, err)
	}
	if !order.Status.Active() {
		log.Info("Order no longer active, nothing to discover", zap.String("status", string(order.Status)))
		return p.queue.Complete(ctx, job)
	}

	matches, err := p.finder.FindMatchingOrders(ctx, &order)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		log.Info("No matching orders found")
		return p.queue.Complete(ctx, job)
	}

	chain := ChainPayload{OrderID: order.ID, MatchedOrderIDs: make([]uint, 0, len(matches))}
	for _, m := range matches {
		chain.MatchedOrderIDs = append(chain.MatchedOrderIDs, m.ID)
	}

	err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := p.queue.EnqueueTx(tx, KindSettleChain, chain, job.CorrelationID); err != nil {
			return err
		}
		return p.queue.CompleteTx(tx, job)
	})
	if err != nil {
		return err
	}

	log.Info("Scheduled settlement chain", zap.Uints("matched_order_ids", chain.MatchedOrderIDs))
	return nil
}

// runChain settles the remaining tasks strictly in order. A task that is
// settled or skipped advances the chain; a task that exhausts its retries
// fails the job and abandons the rest.
func (p *Pipeline) runChain(ctx context.Context, job *models.Job, chain ChainPayload) error {
	for chain.Next < len(chain.MatchedOrderIDs) {
		matchedID := chain.MatchedOrderIDs[chain.Next]

		attempts, err := p.settleWithRetry(ctx, chain.OrderID, matchedID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return p.abandon(ctx, job, chain, attempts, err)
		}

		chain.Next++
		if err := p.queue.Checkpoint(ctx, job, chain); err != nil {
			return err
		}
	}

	p.logger.Info("Settlement chain finished",
		zap.Uint("order_id", chain.OrderID),
		zap.Int("tasks", len(chain.MatchedOrderIDs)),
		zap.String("correlation_id", job.CorrelationID),
	)
	return p.queue.Complete(ctx, job)
}

// settleWithRetry runs one task, waiting between failed attempts. It returns
// the number of attempts made.
func (p *Pipeline) settleWithRetry(ctx context.Context, newOrderID, matchedOrderID uint) (int, error) {
	for attempt := 1; ; attempt++ {
		_, err := p.settler.Settle(ctx, newOrderID, matchedOrderID)
		if err == nil {
			return attempt, nil
		}
		if attempt >= p.retry.MaxAttempts {
			return attempt, err
		}

		wait := p.retry.delay(attempt)
		p.logger.Warn("Settlement failed, retrying...",
			zap.Uint("new_order_id", newOrderID),
			zap.Uint("matched_order_id", matchedOrderID),
			zap.Int("attempt", attempt),
			zap.Duration("retry_after", wait),
			zap.Error(err),
		)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return attempt, ctx.Err()
		}
	}
}

func (p *Pipeline) abandon(ctx context.Context, job *models.Job, chain ChainPayload, attempts int, cause error) error {
	matchedID := chain.MatchedOrderIDs[chain.Next]
	abandoned := append([]uint{}, chain.MatchedOrderIDs[chain.Next+1:]...)

	p.logger.Error("Settlement failed after all retries, halting chain",
		zap.Uint("new_order_id", chain.OrderID),
		zap.Uint("matched_order_id", matchedID),
		zap.Int("attempt", attempts),
		zap.Uints("abandoned_order_ids", abandoned),
		zap.String("correlation_id", job.CorrelationID),
		zap.Error(cause),
	)

	failure := alerting.ChainFailure{
		JobID:          job.ID,
		CorrelationID:  job.CorrelationID,
		NewOrderID:     chain.OrderID,
		MatchedOrderID: matchedID,
		Attempt:        attempts,
		Error:          cause.Error(),
		Abandoned:      abandoned,
		OccurredAt:     time.Now().UTC(),
	}
	if err := p.notifier.NotifyChainFailure(ctx, failure); err != nil {
		p.logger.Error("Failed to alert operators", zap.Uint("job_id", job.ID), zap.Error(err))
	}

	return p.queue.Fail(ctx, job, fmt.Errorf("settle order %d against %d after %d attempts: %w", chain.OrderID, matchedID, attempts, cause))
}
