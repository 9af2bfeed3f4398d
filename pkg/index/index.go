package index

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blindsync/blindsync/pkg/rowstore"
)

// Default delayed-write timing from SPEC_FULL.md §4.D: a mutation
// resets the idle timer, but never pushes the max timer back, so a
// continuously busy index still flushes periodically.
const (
	defaultIdleDelay = 2 * time.Second
	defaultMaxDelay  = 5 * time.Second
)

// Index is the secure index: an in-memory map from path to Entry,
// durably backed by a rowstore.Store, written out on a coalesced
// delay rather than on every mutation.
//
// Locking follows the same inversion the teacher uses in
// syncutil.MutexPool-style code: mutations that touch only their own
// key take mu.RLock, because sync.Map already makes concurrent writes
// to disjoint keys safe; only a durable Flush (which must see a
// frozen, consistent pending batch) takes mu.Lock, which blocks until
// every in-flight mutation has released its RLock. Go's built-in map
// is not safe for concurrent writes the way Python's dict is under
// the GIL, which is why the entries table below is a sync.Map rather
// than a plain map guarded only by the same RWMutex the mutation
// methods already hold in shared mode.
type Index struct {
	store rowstore.Store

	mu      sync.RWMutex
	entries sync.Map // lowercased path -> Entry

	pendingMu sync.Mutex
	pending   []rowstore.Mutation

	hasChanges atomic.Bool

	cacheMu     sync.Mutex
	sortedCache []Entry
	sortedValid atomic.Bool

	timerMu   sync.Mutex
	idleTimer *time.Timer
	maxTimer  *time.Timer
	idleDelay time.Duration
	maxDelay  time.Duration

	onFlushError func(error)
}

// Option configures an Index at construction time.
type Option func(*Index)

// WithDelayedWrite overrides the idle/max flush timers.
func WithDelayedWrite(idle, max time.Duration) Option {
	return func(x *Index) {
		x.idleDelay = idle
		x.maxDelay = max
	}
}

// WithFlushErrorHandler registers a callback invoked when a
// timer-triggered Flush fails. Flush errors returned from explicit
// calls to Flush are reported normally via the return value and never
// reach this handler.
func WithFlushErrorHandler(f func(error)) Option {
	return func(x *Index) { x.onFlushError = f }
}

// New loads the index from store's durable rows and returns a ready
// Index. Mutations are held in memory and coalesced until Flush (or
// the delayed-write timers) durably apply them.
func New(store rowstore.Store, opts ...Option) (*Index, error) {
	idx := &Index{
		store:     store,
		idleDelay: defaultIdleDelay,
		maxDelay:  defaultMaxDelay,
	}
	for _, opt := range opts {
		opt(idx)
	}

	rows, err := store.LoadAll()
	if err != nil {
		return nil, fmt.Errorf("index: load: %w", err)
	}
	for _, r := range rows {
		e := fromRow(r)
		idx.entries.Store(strings.ToLower(e.Path), e)
	}
	return idx, nil
}

// Get returns the entry at path, if any. Lookup is case-insensitive
// on the path, the same case folding GetAll's ordering and the
// folder walks use; the secure-name derivation, by contrast, uses the
// path exactly as given.
func (x *Index) Get(path string) (Entry, bool) {
	v, ok := x.entries.Load(strings.ToLower(path))
	if !ok {
		return Entry{}, false
	}
	return v.(Entry), true
}

// GetAll returns every entry, sorted in case-insensitive path order —
// the same order LocalFolder's walk emits and diff.Pairs assumes. The
// sorted view is cached and invalidated on the next mutation, so
// repeated diff passes over an unchanged index don't re-sort.
func (x *Index) GetAll() []Entry {
	x.cacheMu.Lock()
	defer x.cacheMu.Unlock()

	if x.sortedValid.Load() {
		out := make([]Entry, len(x.sortedCache))
		copy(out, x.sortedCache)
		return out
	}

	var all []Entry
	x.entries.Range(func(_, v interface{}) bool {
		all = append(all, v.(Entry))
		return true
	})
	sort.Slice(all, func(i, j int) bool {
		return strings.ToLower(all[i].Path) < strings.ToLower(all[j].Path)
	})

	x.sortedCache = all
	x.sortedValid.Store(true)

	out := make([]Entry, len(all))
	copy(out, all)
	return out
}

// Add inserts a new entry. It fails if an entry already exists at
// e.Path; callers that want upsert semantics should use AddOrUpdate.
func (x *Index) Add(e Entry) error {
	key := strings.ToLower(e.Path)

	x.mu.RLock()
	defer x.mu.RUnlock()

	if _, loaded := x.entries.Load(key); loaded {
		return fmt.Errorf("index: entry already exists: %s", e.Path)
	}
	x.entries.Store(key, e)
	x.sortedValid.Store(false)
	x.recordMutation(rowstore.Mutation{Row: toRow(e)})
	return nil
}

// AddOrUpdate inserts or overwrites the entry at e.Path.
func (x *Index) AddOrUpdate(e Entry) {
	key := strings.ToLower(e.Path)

	x.mu.RLock()
	defer x.mu.RUnlock()

	x.entries.Store(key, e)
	x.sortedValid.Store(false)
	x.recordMutation(rowstore.Mutation{Row: toRow(e)})
}

// Remove deletes the entry at path, if present. Removing a path that
// is not present is a no-op, not an error.
func (x *Index) Remove(path string) {
	key := strings.ToLower(path)

	x.mu.RLock()
	defer x.mu.RUnlock()

	v, loaded := x.entries.LoadAndDelete(key)
	if !loaded {
		return
	}
	x.sortedValid.Store(false)
	x.recordMutation(rowstore.Mutation{Delete: true, Path: v.(Entry).Path})
}

// Clear removes every entry and queues their deletion in the durable
// store. Unlike the single-path mutators, Clear takes the exclusive
// lock: wiping every key at once is not the disjoint-key case the
// RLock inversion is designed for.
func (x *Index) Clear() {
	x.mu.Lock()
	defer x.mu.Unlock()

	var muts []rowstore.Mutation
	x.entries.Range(func(k, v interface{}) bool {
		e := v.(Entry)
		muts = append(muts, rowstore.Mutation{Delete: true, Path: e.Path})
		x.entries.Delete(k)
		return true
	})
	x.sortedValid.Store(false)

	if len(muts) == 0 {
		return
	}
	x.pendingMu.Lock()
	x.pending = append(x.pending, muts...)
	x.pendingMu.Unlock()
	x.hasChanges.Store(true)
	x.scheduleFlush()
}

// HasChanges reports whether any mutation has occurred since the
// index was opened. It never resets to false, even after a durable
// Flush — it answers "has this index changed in its lifetime," not
// "does it currently have unflushed writes."
func (x *Index) HasChanges() bool {
	return x.hasChanges.Load()
}

// Flush durably applies every pending mutation. It blocks until any
// in-flight Add/AddOrUpdate/Remove/Clear call has returned, then
// atomically captures and clears the pending batch before handing it
// to the store — captured strictly after the exclusive lock is held,
// so no mutation concurrent with a Flush can be silently dropped from
// the batch it lands in.
func (x *Index) Flush() error {
	x.timerMu.Lock()
	if x.idleTimer != nil {
		x.idleTimer.Stop()
		x.idleTimer = nil
	}
	if x.maxTimer != nil {
		x.maxTimer.Stop()
		x.maxTimer = nil
	}
	x.timerMu.Unlock()

	x.mu.Lock()
	defer x.mu.Unlock()

	x.pendingMu.Lock()
	batch := x.pending
	x.pending = nil
	x.pendingMu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	if err := x.store.ApplyBatch(batch); err != nil {
		x.pendingMu.Lock()
		x.pending = append(batch, x.pending...)
		x.pendingMu.Unlock()
		return fmt.Errorf("index: flush: %w", err)
	}
	return nil
}

// Close flushes any pending mutations and releases the underlying
// store.
func (x *Index) Close() error {
	if err := x.Flush(); err != nil {
		return err
	}
	return x.store.Close()
}

func (x *Index) recordMutation(m rowstore.Mutation) {
	x.pendingMu.Lock()
	x.pending = append(x.pending, m)
	x.pendingMu.Unlock()
	x.hasChanges.Store(true)
	x.scheduleFlush()
}

func (x *Index) scheduleFlush() {
	x.timerMu.Lock()
	defer x.timerMu.Unlock()

	if x.idleTimer != nil {
		x.idleTimer.Stop()
	}
	x.idleTimer = time.AfterFunc(x.idleDelay, x.flushAsync)

	if x.maxTimer == nil {
		x.maxTimer = time.AfterFunc(x.maxDelay, x.flushAsync)
	}
}

func (x *Index) flushAsync() {
	if err := x.Flush(); err != nil && x.onFlushError != nil {
		x.onFlushError(err)
	}
}

func toRow(e Entry) rowstore.Row {
	return rowstore.Row{
		Path:       e.Path,
		IsDir:      e.IsDir,
		Size:       e.Size,
		ModTime:    e.ModTime,
		Hash:       e.Hash,
		RemoteID:   e.RemoteID,
		RemoteName: e.RemoteName,
		Status:     e.Status,
	}
}

func fromRow(r rowstore.Row) Entry {
	return Entry{
		Path:       r.Path,
		IsDir:      r.IsDir,
		Size:       r.Size,
		ModTime:    r.ModTime,
		Hash:       r.Hash,
		RemoteID:   r.RemoteID,
		RemoteName: r.RemoteName,
		Status:     r.Status,
	}
}
