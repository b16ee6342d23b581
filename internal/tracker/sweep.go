package tracker

import (
	"container/heap"
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rezonia/sifen-client/internal/model"
)

// PollBackoff computes the delay before the next poll of a batch from
// its attempt count. Pure: same attempt count, same delay.
func PollBackoff(attempts int) time.Duration {
	const (
		base = 5 * time.Second
		max  = 60 * time.Second
	)
	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	return delay
}

// sweepEntry is one scheduled poll
type sweepEntry struct {
	batch     *BatchStatus
	notBefore time.Time
}

type sweepQueue []*sweepEntry

func (q sweepQueue) Len() int           { return len(q) }
func (q sweepQueue) Less(i, j int) bool { return q[i].notBefore.Before(q[j].notBefore) }
func (q sweepQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *sweepQueue) Push(x any)        { *q = append(*q, x.(*sweepEntry)) }
func (q *sweepQueue) Pop() any {
	old := *q
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return entry
}

// Sweeper polls every non-terminal batch of an environment until all
// reach a terminal state or the context is cancelled. It keeps a queue
// of (batch, not-before) entries and one consumer popping due items;
// batches are independent, no cross-batch locking exists.
type Sweeper struct {
	tracker *Tracker
	logger  *zap.Logger
	now     func() time.Time
	sleep   func(context.Context, time.Duration) error
}

// NewSweeper creates a sweeper over the tracker
func NewSweeper(t *Tracker, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		tracker: t,
		logger:  logger,
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// Run loads the pending batches of the environment and polls each until
// terminal. Cancellation is cooperative: the context is checked before
// every sleep and between polls; an in-flight query completes normally.
// Returns the batches that reached a terminal state during this run.
func (s *Sweeper) Run(ctx context.Context, env model.Environment) ([]*PollResult, error) {
	pending, err := s.tracker.store.LoadPendingBatches(ctx, env)
	if err != nil {
		return nil, err
	}

	queue := make(sweepQueue, 0, len(pending))
	now := s.now()
	for _, bs := range pending {
		if bs.Status.Terminal() {
			continue
		}
		queue = append(queue, &sweepEntry{batch: bs, notBefore: now})
	}
	heap.Init(&queue)

	var finished []*PollResult
	for queue.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return finished, err
		}

		entry := heap.Pop(&queue).(*sweepEntry)
		if wait := entry.notBefore.Sub(s.now()); wait > 0 {
			if err := s.sleep(ctx, wait); err != nil {
				return finished, err
			}
		}

		result, err := s.tracker.PollOnce(ctx, entry.batch)
		if err != nil {
			if model.IsRetryable(err) {
				// The wire failed; the batch itself is untouched, put
				// it back on the queue with backoff.
				entry.batch.Attempts++
				entry.notBefore = s.now().Add(PollBackoff(entry.batch.Attempts))
				heap.Push(&queue, entry)
				s.logger.Warn("poll failed, rescheduled",
					zap.String("correlation_id", entry.batch.ID),
					zap.Error(err),
				)
				continue
			}
			return finished, err
		}

		if result.Batch.Status.Terminal() {
			finished = append(finished, result)
			continue
		}

		entry.notBefore = s.now().Add(PollBackoff(result.Batch.Attempts))
		heap.Push(&queue, entry)
	}
	return finished, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
