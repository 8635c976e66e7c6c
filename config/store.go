package config

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/JeromeFenwick/bili-sync/model"
)

// ErrVersionConflict is returned by a Persister when the version it was
// asked to overwrite no longer matches the persisted row: another writer
// updated the config concurrently.
var ErrVersionConflict = errors.New("config: version conflict")

// Persister is the out-of-scope persistence collaborator for the config
// snapshot: load it once at startup, and save it back with
// optimistic-concurrency protection on every Update.
type Persister interface {
	LoadConfig(ctx context.Context) (*model.Config, error)
	SaveConfig(ctx context.Context, cfg *model.Config, expectedVersion uint64) error
}

// Store holds a single immutable snapshot of the configuration. Readers
// call Get for a cheap, torn-free view; Update atomically replaces the
// snapshot and broadcasts to every subscriber. The zero value is not
// usable; construct with NewStore.
type Store struct {
	persister Persister

	snapshot atomic.Pointer[model.Config]

	subsMu sync.Mutex
	subs   []chan struct{}
}

// NewStore constructs a Store backed by persister. Call Load before any
// other method.
func NewStore(persister Persister) *Store {
	return &Store{persister: persister}
}

// Load fetches the persisted snapshot and installs it. If none has ever
// been persisted, Load installs model.Config{} with Version 0 and persists
// it so the row exists for subsequent optimistic-concurrency updates.
func (s *Store) Load(ctx context.Context) error {
	cfg, err := s.persister.LoadConfig(ctx)
	if err != nil {
		return fmt.Errorf("config: load: %w", err)
	}
	if cfg == nil {
		cfg = &model.Config{}
		if err := s.persister.SaveConfig(ctx, cfg, 0); err != nil {
			return fmt.Errorf("config: persist initial snapshot: %w", err)
		}
	}
	s.snapshot.Store(cfg)
	return nil
}

// Get returns the current snapshot. The returned value must be treated as
// read-only; callers that need to change it go through Update.
func (s *Store) Get() *model.Config {
	return s.snapshot.Load()
}

// Subscribe registers a channel that receives a notification (an empty
// struct send, non-blocking) every time Update installs a new snapshot.
// The channel is buffered so a slow subscriber never blocks the writer;
// it may coalesce multiple updates into one wakeup.
func (s *Store) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	s.subsMu.Lock()
	s.subs = append(s.subs, ch)
	s.subsMu.Unlock()
	return ch
}

func (s *Store) notify() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Update applies mutate to a copy of the current snapshot, validates it,
// persists it with the version it was derived from, and only then installs
// it as the new snapshot. A validation failure or a version conflict
// leaves the store untouched.
func (s *Store) Update(ctx context.Context, mutate func(*model.Config) error) error {
	current := s.Get()
	next := *current
	if err := mutate(&next); err != nil {
		return fmt.Errorf("config: update: %w", err)
	}
	if err := Check(&next); err != nil {
		return fmt.Errorf("config: update rejected: %w", err)
	}
	oldVersion := current.Version
	next.Version = oldVersion + 1
	if err := s.persister.SaveConfig(ctx, &next, oldVersion); err != nil {
		return fmt.Errorf("config: persist update: %w", err)
	}
	s.snapshot.Store(&next)
	s.notify()
	return nil
}
