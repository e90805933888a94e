package factory

import (
	"slices"
	"sync"

	"github.com/jdgilhuly/visitvideo/pkg/video"
)

// Entry is one live provider and the configuration it was initialized with.
type Entry struct {
	Provider video.Provider
	Config   video.ProviderConfig
}

// Registry maps provider kinds to live instances. A per-kind lock makes
// GetOrCreate, Replace, and Remove atomic for one kind without serializing
// unrelated kinds. Use NewRegistry to create one.
type Registry struct {
	mu      sync.Mutex
	entries map[Kind]Entry
	locks   map[Kind]*sync.Mutex
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[Kind]Entry),
		locks:   make(map[Kind]*sync.Mutex),
	}
}

// lock acquires the per-kind lock and returns its release func.
func (r *Registry) lock(k Kind) func() {
	r.mu.Lock()
	l, ok := r.locks[k]
	if !ok {
		l = &sync.Mutex{}
		r.locks[k] = l
	}
	r.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Get returns the entry for k.
func (r *Registry) Get(k Kind) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[k]
	return e, ok
}

func (r *Registry) set(k Kind, e Entry) {
	r.mu.Lock()
	r.entries[k] = e
	r.mu.Unlock()
}

func (r *Registry) take(k Kind) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[k]
	delete(r.entries, k)
	return e, ok
}

// GetOrCreate returns the entry for k, calling build to make one when none
// exists. Concurrent callers for the same kind wait for the first build;
// build runs at most once per successful creation. A failed build stores
// nothing. created reports whether this call built the entry.
func (r *Registry) GetOrCreate(k Kind, build func() (Entry, error)) (e Entry, created bool, err error) {
	unlock := r.lock(k)
	defer unlock()

	if e, ok := r.Get(k); ok {
		return e, false, nil
	}
	e, err = build()
	if err != nil {
		return Entry{}, false, err
	}
	r.set(k, e)
	return e, true, nil
}

// Replace removes the entry for k, hands it to teardown, and stores the
// result of build. teardown is skipped when no entry exists. Its error is
// returned alongside the outcome of build and never prevents it.
func (r *Registry) Replace(k Kind, teardown func(Entry) error, build func() (Entry, error)) (Entry, error, error) {
	unlock := r.lock(k)
	defer unlock()

	var teardownErr error
	if old, ok := r.take(k); ok {
		teardownErr = teardown(old)
	}
	e, err := build()
	if err != nil {
		return Entry{}, teardownErr, err
	}
	r.set(k, e)
	return e, teardownErr, nil
}

// Remove deletes the entry for k and hands it to teardown. The entry is
// gone even when teardown fails. Removing a missing kind is a no-op.
func (r *Registry) Remove(k Kind, teardown func(Entry) error) (bool, error) {
	unlock := r.lock(k)
	defer unlock()

	old, ok := r.take(k)
	if !ok {
		return false, nil
	}
	return true, teardown(old)
}

// Kinds returns the registered kinds, sorted.
func (r *Registry) Kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, 0, len(r.entries))
	for k := range r.entries {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// Len reports how many providers are live.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
