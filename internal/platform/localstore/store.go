// Package localstore keeps a bounded, durable mirror of recent readings so a
// cold start or an offline refresh still has something to show. Three
// interchangeable backends sit behind one contract: SQLite (embedded),
// Postgres (shared) and process memory.
package localstore

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/thrive/vitalsync/internal/domain/metric"
)

// DefaultLimit is the number of readings persisted when no cap is configured.
const DefaultLimit = 20

// Backend is the persistence contract every storage engine implements.
type Backend interface {
	// Name identifies the backend in logs and errors.
	Name() string
	// Init creates the readings structure if absent. It must be idempotent.
	Init(ctx context.Context) error
	// Load returns at most limit readings, newest first.
	Load(ctx context.Context, limit int) ([]metric.Reading, error)
	// ReplaceAll atomically swaps the stored set for readings.
	ReplaceAll(ctx context.Context, readings []metric.Reading) error
	// UpsertOne inserts or overwrites a reading by identity.
	UpsertOne(ctx context.Context, r metric.Reading) error
	// Clear removes every stored reading.
	Clear(ctx context.Context) error
	Close() error
}

// Store wraps a Backend with the cap, idempotent initialisation and
// cache-miss semantics the sync controller relies on.
type Store struct {
	backend Backend
	limit   int
	logger  zerolog.Logger

	mu          sync.Mutex
	initialized bool
}

// New wraps backend. The backend choice is made by the caller (see Resolve)
// and never reconsidered by the Store.
func New(backend Backend, limit int, logger zerolog.Logger) *Store {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Store{
		backend: backend,
		limit:   limit,
		logger:  logger.With().Str("component", "localstore").Str("backend", backend.Name()).Logger(),
	}
}

// Backend returns the wrapped backend.
func (s *Store) Backend() Backend { return s.backend }

// Limit returns the persistence cap.
func (s *Store) Limit() int { return s.limit }

// Initialize prepares the backend. Calling it again after a successful
// initialisation is a no-op and does not reset or reload anything.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}
	if err := s.backend.Init(ctx); err != nil {
		return wrap("init", s.backend, err)
	}
	s.initialized = true
	s.logger.Debug().Int("limit", s.limit).Msg("local store ready")
	return nil
}

// Initialized reports whether Initialize has succeeded.
func (s *Store) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.initialized
}

// Load returns up to limit readings, newest first. A limit of zero or more
// than the cap is clamped to the cap.
func (s *Store) Load(ctx context.Context, limit int) ([]metric.Reading, error) {
	if limit <= 0 || limit > s.limit {
		limit = s.limit
	}
	if err := s.Initialize(ctx); err != nil {
		return nil, err
	}
	readings, err := s.backend.Load(ctx, limit)
	if err != nil {
		return nil, wrap("load", s.backend, err)
	}
	return metric.Normalize(readings, limit), nil
}

// LoadOrEmpty is Load with cache-miss semantics: any storage fault is logged
// and reported as an empty result.
func (s *Store) LoadOrEmpty(ctx context.Context, limit int) []metric.Reading {
	readings, err := s.Load(ctx, limit)
	if err != nil {
		s.logger.Warn().Err(err).Msg("cache load failed, treating as miss")
		return nil
	}
	return readings
}

// ReplaceAll discards prior contents and persists readings, deduplicated,
// newest first and truncated to the cap.
func (s *Store) ReplaceAll(ctx context.Context, readings []metric.Reading) error {
	if err := s.Initialize(ctx); err != nil {
		return err
	}
	if err := s.backend.ReplaceAll(ctx, metric.Normalize(readings, s.limit)); err != nil {
		return wrap("replace_all", s.backend, err)
	}
	return nil
}

// UpsertOne inserts or overwrites r by identity.
func (s *Store) UpsertOne(ctx context.Context, r metric.Reading) error {
	if !r.Valid() {
		return wrap("upsert_one", s.backend, ErrInvalidReading)
	}
	if err := s.Initialize(ctx); err != nil {
		return err
	}
	if err := s.backend.UpsertOne(ctx, r); err != nil {
		return wrap("upsert_one", s.backend, err)
	}
	return nil
}

// Clear empties the store.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.Initialize(ctx); err != nil {
		return err
	}
	if err := s.backend.Clear(ctx); err != nil {
		return wrap("clear", s.backend, err)
	}
	return nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
