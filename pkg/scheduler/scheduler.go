// Package scheduler runs sync actions on a bounded pool of workers
// with back-pressure on submission, grounded on the
// "counting semaphore gates submission, errgroup collects failures"
// shape used throughout
// _examples/perkeep-perkeep/pkg/blobserver/b2/b2.go's StatBlobs and
// RemoveBlobs (syncutil.Gate + syncutil.Group over a slice of
// concurrent operations), generalized here to an open-ended stream of
// submissions rather than a fixed slice.
package scheduler

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// queueSlack bounds how far Submit may run ahead of actual execution
// before it starts blocking callers — a deep but finite queue so a
// fast producer (the diff/policy pipeline) doesn't unboundedly buffer
// actions in memory ahead of a slow, narrow worker pool.
const queueSlack = 1000

// Task is one unit of scheduled work.
type Task func(ctx context.Context) error

// Scheduler runs Tasks with at most workers executing concurrently,
// queuing up to workers+queueSlack before Submit blocks.
type Scheduler struct {
	ctx       context.Context
	queueGate *semaphore.Weighted
	runGate   *semaphore.Weighted
	grp       *errgroup.Group
}

// New creates a Scheduler bound to ctx with the given worker count.
// Cancelling ctx aborts pending tasks and is passed on to in-flight
// ones. A task returning an error does not stop the others: every
// submitted task still runs, and Wait reports the first error.
func New(ctx context.Context, workers int) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	return &Scheduler{
		ctx:       ctx,
		queueGate: semaphore.NewWeighted(int64(workers) + queueSlack),
		runGate:   semaphore.NewWeighted(int64(workers)),
		grp:       new(errgroup.Group),
	}
}

// Submit queues task, blocking if the queue is full. The task runs on
// one of the worker slots once admitted.
func (s *Scheduler) Submit(task Task) error {
	if err := s.queueGate.Acquire(s.ctx, 1); err != nil {
		return fmt.Errorf("scheduler: submit: %w", err)
	}
	s.grp.Go(func() error {
		defer s.queueGate.Release(1)
		if err := s.runGate.Acquire(s.ctx, 1); err != nil {
			return err
		}
		defer s.runGate.Release(1)
		return task(s.ctx)
	})
	return nil
}

// SubmitPair queues first and second to run back-to-back on the same
// worker slot, with nothing else interleaved between them — the
// atomic delete-then-upload pairing a policy decision needs when
// replacing a changed file under `keep=false` (spec §4.H/§4.I): the
// stale remote object must be gone before the new upload lands under
// its own secure name, and no other task should observe the
// in-between state.
func (s *Scheduler) SubmitPair(first, second Task) error {
	if err := s.queueGate.Acquire(s.ctx, 1); err != nil {
		return fmt.Errorf("scheduler: submit pair: %w", err)
	}
	s.grp.Go(func() error {
		defer s.queueGate.Release(1)
		if err := s.runGate.Acquire(s.ctx, 1); err != nil {
			return err
		}
		defer s.runGate.Release(1)
		if err := first(s.ctx); err != nil {
			return err
		}
		return second(s.ctx)
	})
	return nil
}

// Wait blocks until every submitted task has completed, returning the
// first error encountered, if any.
func (s *Scheduler) Wait() error {
	return s.grp.Wait()
}
