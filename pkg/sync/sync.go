// Package sync wires the folder walkers, diff engine, policy engine,
// scheduler, and action runner into one pass, grounded directly on
// _examples/original_source/sync/sync.py's sync_folders/runAction (the
// merge-walk-then-schedule-then-flush-then-upload-index sequence, down
// to the exact BoundedQueueExecutor queue_limit of `workers + 1000`
// pkg/scheduler already implements) and on the concurrent
// enumerate-both-sides style of
// _examples/perkeep-perkeep/cmd/camsync/camsync.go's doPass.
package sync

import (
	"context"
	"fmt"
	"regexp"

	"github.com/blindsync/blindsync/pkg/action"
	"github.com/blindsync/blindsync/pkg/cryptostream"
	"github.com/blindsync/blindsync/pkg/diff"
	"github.com/blindsync/blindsync/pkg/folder"
	"github.com/blindsync/blindsync/pkg/indexsync"
	"github.com/blindsync/blindsync/pkg/policy"
	"github.com/blindsync/blindsync/pkg/progress"
	"github.com/blindsync/blindsync/pkg/remote"
	"github.com/blindsync/blindsync/pkg/scheduler"
)

// Config describes one sync pass: exactly one of Source/Destination is
// a folder.LocalFolder and the other a folder.SecureFolder, matching
// the original's "only local-to-b2 and b2-to-local" restriction. The
// caller is responsible for building the SecureFolder side from
// Index.Index before calling Run — exactly as the original builds its
// b2 Folder only after a SecureIndexFactory has produced an index —
// and for calling Index.Release once Run returns.
type Config struct {
	Source      folder.Folder
	Destination folder.Folder
	RemoteStore remote.Store
	Index       *indexsync.Handle

	Direction  policy.Direction
	Comparison policy.Comparison
	Keep       bool
	DryRun     bool
	Workers    int

	// Exclude and Include filter the Source side only, inclusions
	// overriding exclusions — matching __filter_folder's
	// "only the folder doing the uploading/downloading gets matched
	// against patterns, its counterpart is walked in full" behavior.
	Exclude []*regexp.Regexp
	Include []*regexp.Regexp

	ActionConfig action.Config
	Reporter     *progress.Reporter
}

// Summary reports what one Run accomplished.
type Summary struct {
	progress.Summary
	ActionsScheduled int
}

type presenceEnsurer interface {
	EnsurePresent() error
}

// Run executes one sync pass: merge-walks both folders, turns each
// diff pair into actions, and schedules them on a bounded worker pool.
// It does not acquire or release the index — the caller does that
// around Run, exactly as the original acquires a SecureIndexFactory's
// index before building its b2 Folder and flushes/uploads it only
// after sync_folders's executor has shut down. Run returns a non-nil
// error if any action failed, matching the original's "raise
// CommandError if any action failed, but only after every action has
// had a chance to run."
func Run(ctx context.Context, cfg Config) (Summary, error) {
	if cfg.Workers < 1 {
		cfg.Workers = 20
	}

	if !cfg.DryRun {
		if ensurer, ok := cfg.Destination.(presenceEnsurer); ok {
			if err := ensurer.EnsurePresent(); err != nil {
				return Summary{}, fmt.Errorf("sync: prepare destination: %w", err)
			}
		}
	}

	srcCh := filterEntities(cfg.Source.AllFiles(cfg.Reporter), cfg.Exclude, cfg.Include)
	dstCh := cfg.Destination.AllFiles(cfg.Reporter)

	sched := scheduler.New(ctx, cfg.Workers)
	scheduled := 0

	// Each worker gets its own explicit keyring handle for the
	// lifetime of one action, obtained from a registry rather than
	// passing the shared *cryptostream.Keyring straight through — the
	// per-thread handle with explicit teardown the crypto design calls
	// for. idPool hands out exactly cfg.Workers distinct slot ids, one
	// per concurrently-running task, regardless of submission or
	// completion order.
	registry := cryptostream.NewRegistry(cfg.ActionConfig.Keyring)
	defer registry.Teardown()
	idPool := make(chan int, cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		idPool <- i
	}

	for pair := range diff.Pairs(srcCh, dstCh) {
		actions, err := policy.Decide(pair, cfg.Source, cfg.Destination, cfg.Comparison, cfg.Direction, cfg.Keep)
		if err != nil {
			return Summary{}, fmt.Errorf("sync: decide %s: %w", pair.Path, err)
		}
		if len(actions) == 0 {
			continue
		}
		scheduled += len(actions)

		if err := submit(sched, actions, cfg, registry, idPool); err != nil {
			return Summary{}, fmt.Errorf("sync: submit %s: %w", pair.Path, err)
		}
	}

	runErr := sched.Wait()

	summary := Summary{Summary: cfg.Reporter.Snapshot(), ActionsScheduled: scheduled}
	if runErr != nil {
		return summary, fmt.Errorf("sync: %w", runErr)
	}
	return summary, nil
}

// filterEntities applies exclude/include regexes to in, matching
// __filter_folder: inclusions are checked first and always pass
// through when exclusions are in effect; otherwise an excluded entry
// is dropped. With no exclusions configured every entry passes,
// exactly as the original skips filtering entirely when the exclusion
// list is empty.
func filterEntities(in <-chan folder.PathEntity, exclude, include []*regexp.Regexp) <-chan folder.PathEntity {
	if len(exclude) == 0 {
		return in
	}
	out := make(chan folder.PathEntity)
	go func() {
		defer close(out)
		for e := range in {
			if anyMatch(include, e.RelativePath) {
				out <- e
				continue
			}
			if anyMatch(exclude, e.RelativePath) {
				continue
			}
			out <- e
		}
	}()
	return out
}

func anyMatch(patterns []*regexp.Regexp, s string) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

func submit(sched *scheduler.Scheduler, actions []action.Action, cfg Config, registry *cryptostream.Registry, idPool chan int) error {
	run := func(a action.Action) scheduler.Task {
		return func(ctx context.Context) error {
			id := <-idPool
			kr, release := registry.Acquire(id)
			defer func() {
				release()
				idPool <- id
			}()

			actionCfg := cfg.ActionConfig
			actionCfg.Keyring = kr
			return action.Run(ctx, a, cfg.RemoteStore, cfg.Index.Index, actionCfg, cfg.Reporter, cfg.DryRun)
		}
	}

	if len(actions) == 2 {
		// The delete-then-upload pairing (spec §9, "Action pairing")
		// must run on one worker, sequentially, with nothing
		// interleaved between the two halves.
		return sched.SubmitPair(run(actions[0]), run(actions[1]))
	}
	for _, a := range actions {
		if err := sched.Submit(run(a)); err != nil {
			return err
		}
	}
	return nil
}
