/**
 * @description
 * Scheduled job implementations. The payout batch finds eligible pending payouts and
 * turns each resolvable pair into a disbursement task on the queue.
 */
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/zestyping/blockpower-be-sub000/internal/domain"
	"github.com/zestyping/blockpower-be-sub000/internal/store"
)

// PayoutDisburser is the disbursement operation the batch job enqueues. It receives ids
// and loads the pair itself when the task runs.
type PayoutDisburser interface {
	DisbursePair(ctx context.Context, ambassadorID, triplerID string) error
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	repo      store.Repository
	queue     *TaskQueue
	disburser PayoutDisburser
	batchSize int
	logger    *slog.Logger
	metrics   *Metrics

	mu     sync.Mutex
	cursor domain.PayoutCursor
}

// NewJobs creates a new Jobs runner.
func NewJobs(repo store.Repository, queue *TaskQueue, disburser PayoutDisburser, batchSize int, logger *slog.Logger, metrics *Metrics) *Jobs {
	return &Jobs{
		repo:      repo,
		queue:     queue,
		disburser: disburser,
		batchSize: batchSize,
		logger:    logger,
		metrics:   metrics,
	}
}

// ProcessPayoutBatch is the cron entry point for the payout batch. ctx is cancelled when
// the service shuts down.
func (j *Jobs) ProcessPayoutBatch(ctx context.Context) {
	if _, err := j.RunPayoutBatch(ctx); err != nil {
		j.logger.Error("payout batch failed", "error", err)
	}
}

// RunPayoutBatch enqueues one disbursement task per eligible pair and returns how many were
// enqueued. A pair whose Ambassador or Tripler can no longer be loaded is skipped.
//
// Each run continues after the last payout the previous run listed and wraps to the oldest
// once the end is reached.
func (j *Jobs) RunPayoutBatch(ctx context.Context) (enqueued int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("payout batch panicked: %v", r)
		}
	}()

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	j.logger.Info("starting payout batch job", "batch_size", j.batchSize)

	candidates, err := j.nextCandidates(ctx)
	if err != nil {
		return 0, fmt.Errorf("list eligible payouts: %w", err)
	}
	if len(candidates) == 0 {
		j.logger.Info("no eligible payouts to process")
		return 0, nil
	}

	j.logger.Info("found eligible payouts", "count", len(candidates))

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			j.logger.Warn("payout batch interrupted", "enqueued", enqueued, "error", err)
			return enqueued, err
		}
		if _, err := j.repo.FindAmbassadorByID(ctx, c.AmbassadorID); err != nil {
			j.metrics.RecordBatchPair("unresolved")
			j.logger.Warn("skipping payout pair: ambassador not resolved", "ambassador_id", c.AmbassadorID, "tripler_id", c.TriplerID, "error", err)
			continue
		}
		if _, err := j.repo.FindTriplerByID(ctx, c.TriplerID); err != nil {
			j.metrics.RecordBatchPair("unresolved")
			j.logger.Warn("skipping payout pair: tripler not resolved", "ambassador_id", c.AmbassadorID, "tripler_id", c.TriplerID, "error", err)
			continue
		}

		if j.queue.Enqueue(j.disbursementTask(c.AmbassadorID, c.TriplerID)) {
			enqueued++
			j.metrics.RecordBatchPair("enqueued")
		} else {
			j.metrics.RecordBatchPair("already_queued")
		}
	}

	j.logger.Info("payout batch job finished", "enqueued", enqueued)
	return enqueued, nil
}

// nextCandidates lists the page after the stored cursor, topping it up from the oldest
// pending payouts when the end is reached. Callers hold j.mu.
func (j *Jobs) nextCandidates(ctx context.Context) ([]domain.PayoutCandidate, error) {
	after := j.cursor
	candidates, err := j.repo.ListEligiblePayouts(ctx, after, j.batchSize)
	if err != nil {
		return nil, err
	}

	if !after.IsZero() && len(candidates) < j.batchSize {
		head, err := j.repo.ListEligiblePayouts(ctx, domain.PayoutCursor{}, j.batchSize-len(candidates))
		if err != nil {
			return nil, err
		}
		for _, c := range head {
			if after.Before(c.Cursor()) {
				break
			}
			candidates = append(candidates, c)
		}
	}

	if len(candidates) < j.batchSize {
		j.cursor = domain.PayoutCursor{}
	} else {
		j.cursor = candidates[len(candidates)-1].Cursor()
	}
	return candidates, nil
}

func (j *Jobs) disbursementTask(ambassadorID, triplerID string) Task {
	key := "disburse:" + ambassadorID + ":" + triplerID
	return Task{
		Name: key,
		Key:  key,
		Run: func(ctx context.Context) error {
			return j.disburser.DisbursePair(ctx, ambassadorID, triplerID)
		},
	}
}
