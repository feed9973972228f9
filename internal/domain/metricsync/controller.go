// Package metricsync reconciles the local cache, the REST fetcher and the
// live stream into one authoritative, bounded, newest-first view of a
// patient's readings.
//
// The Controller is the only writer of that view. Refreshes and stream
// messages are not serialized against each other: last write wins per
// reading identity.
package metricsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/thrive/vitalsync/internal/domain/metric"
	"github.com/thrive/vitalsync/internal/platform/channel"
	"github.com/thrive/vitalsync/internal/platform/localstore"
)

const (
	DefaultViewCap         = 50
	DefaultFetchLimit      = 20
	DefaultRefreshInterval = 60 * time.Second
)

var (
	// ErrClosed is returned by operations on a torn-down controller.
	ErrClosed = errors.New("metricsync: controller closed")
	// ErrRunning is returned when Run is called twice.
	ErrRunning = errors.New("metricsync: controller already running")
)

// Fetcher pulls the newest readings from the backend.
type Fetcher interface {
	FetchLatest(ctx context.Context, token string, limit int, kind string) ([]metric.Reading, error)
}

// Stream is an open live subscription.
type Stream interface {
	Close() error
	Done() <-chan struct{}
}

// StreamOpener opens a live subscription that feeds handler.
type StreamOpener func(ctx context.Context, token string, handler channel.Handler) (Stream, error)

// Source names where the last mutation of the view came from.
type Source string

const (
	SourceNone    Source = ""
	SourceCache   Source = "cache"
	SourceRemote  Source = "remote"
	SourceChannel Source = "channel"
)

// Snapshot is a copy of the controller's presentation state.
type Snapshot struct {
	Readings   []metric.Reading
	SyncError  string
	LastSynced time.Time
	Source     Source
	Streaming  bool
}

// Options tune a Controller. Zero values take the defaults.
type Options struct {
	ViewCap         int
	FetchLimit      int
	Kind            string
	RefreshInterval time.Duration
	RetryLadder     []time.Duration

	// Stream opens the live channel. Nil disables streaming.
	Stream StreamOpener
	// Lifecycle reports foreground/background. Nil means always foreground.
	Lifecycle LifecycleSource

	Now func() time.Time
}

func (o *Options) applyDefaults() {
	if o.ViewCap <= 0 {
		o.ViewCap = DefaultViewCap
	}
	if o.FetchLimit <= 0 {
		o.FetchLimit = DefaultFetchLimit
	}
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = DefaultRefreshInterval
	}
	if len(o.RetryLadder) == 0 {
		o.RetryLadder = DefaultRetryLadder
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Controller owns the authoritative view.
type Controller struct {
	store   *localstore.Store
	fetcher Fetcher
	tokens  oauth2.TokenSource
	opts    Options
	logger  zerolog.Logger

	mu         sync.Mutex
	view       *metric.View
	syncErr    string
	lastSynced time.Time
	source     Source
	stream     Stream
	listeners  []func(Snapshot)
	running    bool
	closed     bool
	cancel     context.CancelFunc
}

// NewController wires a controller. tokens supplies the bearer credential
// for every fetch and stream open; it may be nil for an unauthenticated
// backend.
func NewController(store *localstore.Store, fetcher Fetcher, tokens oauth2.TokenSource, opts Options, logger zerolog.Logger) *Controller {
	opts.applyDefaults()
	return &Controller{
		store:   store,
		fetcher: fetcher,
		tokens:  tokens,
		opts:    opts,
		logger:  logger.With().Str("component", "metricsync").Logger(),
		view:    metric.NewView(opts.ViewCap),
	}
}

// Initialize ensures the local store is ready. It is idempotent.
func (c *Controller) Initialize(ctx context.Context) error {
	return c.store.Initialize(ctx)
}

// OnChange registers fn to receive a Snapshot after every view change.
// Listeners run on the goroutine that made the change.
func (c *Controller) OnChange(fn func(Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	return Snapshot{
		Readings:   c.view.Readings(),
		SyncError:  c.syncErr,
		LastSynced: c.lastSynced,
		Source:     c.source,
		Streaming:  streamAlive(c.stream),
	}
}

func (c *Controller) notify(s Snapshot) {
	c.mu.Lock()
	fns := append(([]func(Snapshot))(nil), c.listeners...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

// Bootstrap fills an empty view from the local store so something is shown
// before the first fetch completes.
func (c *Controller) Bootstrap(ctx context.Context) {
	c.mu.Lock()
	if c.closed || !c.view.Empty() {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.fillFromCache(ctx)
}

// Refresh fetches the newest readings. On success the view is replaced and
// mirrored to the store. On failure the sync error is set and, only when the
// view is empty, the view is filled from the store.
func (c *Controller) Refresh(ctx context.Context) error {
	if c.isClosed() {
		return ErrClosed
	}

	token, err := c.token()
	if err != nil {
		c.fail(ctx, err)
		return err
	}

	start := c.opts.Now()
	readings, err := c.fetcher.FetchLatest(ctx, token, c.opts.FetchLimit, c.opts.Kind)
	if err != nil {
		c.fail(ctx, err)
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.logger.Debug().Msg("discarding fetch result after close")
		return ErrClosed
	}
	c.view.Replace(readings)
	c.syncErr = ""
	c.lastSynced = c.opts.Now()
	c.source = SourceRemote
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.logger.Debug().
		Int("readings", len(snap.Readings)).
		Dur("latency", c.opts.Now().Sub(start)).
		Msg("refreshed")
	c.notify(snap)

	if err := c.store.ReplaceAll(ctx, readings); err != nil {
		c.logger.Warn().Err(err).Msg("failed to mirror fetch into local store")
	}
	return nil
}

func (c *Controller) fail(ctx context.Context, cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.syncErr = syncErrorText(cause)
	empty := c.view.Empty()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.logger.Warn().Err(cause).Bool("fallback", empty).Msg("refresh failed")
	if empty && c.fillFromCache(ctx) {
		return
	}
	c.notify(snap)
}

// fillFromCache loads the store into the view if the view is still empty
// once the load returns. It reports whether the view changed.
func (c *Controller) fillFromCache(ctx context.Context) bool {
	cached := c.store.LoadOrEmpty(ctx, c.store.Limit())
	if len(cached) == 0 {
		return false
	}

	c.mu.Lock()
	if c.closed || !c.view.Empty() {
		c.mu.Unlock()
		return false
	}
	c.view.Replace(cached)
	c.source = SourceCache
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.logger.Debug().Int("readings", len(snap.Readings)).Msg("view filled from local store")
	c.notify(snap)
	return true
}

// OnChannelMessage applies one stream message: a snapshot replaces the view
// and the store, an incremental reading is upserted into both. Store writes
// are best-effort and never roll back the view.
func (c *Controller) OnChannelMessage(ctx context.Context, msg channel.Message) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	switch msg.Kind {
	case channel.KindSnapshot:
		c.view.Replace(msg.Readings)
		c.lastSynced = c.opts.Now()
	case channel.KindIncremental:
		if !c.view.Upsert(msg.Reading) {
			c.mu.Unlock()
			return
		}
	default:
		c.mu.Unlock()
		return
	}
	c.source = SourceChannel
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)

	var err error
	if msg.Kind == channel.KindSnapshot {
		err = c.store.ReplaceAll(ctx, msg.Readings)
	} else {
		err = c.store.UpsertOne(ctx, msg.Reading)
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("kind", msg.Kind.String()).Msg("failed to persist stream message")
	}
}

// Run initializes the store, shows cached readings, refreshes, opens the
// stream and then refreshes on foreground transitions, on the periodic
// ticker while foregrounded, and on the retry ladder after a failure. It
// blocks until ctx is cancelled or Close is called, and tears the
// controller down on return.
func (c *Controller) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return ErrClosed
	}
	if c.running {
		c.mu.Unlock()
		cancel()
		return ErrRunning
	}
	c.running = true
	c.cancel = cancel
	c.mu.Unlock()
	defer c.Close()

	if err := c.Initialize(runCtx); err != nil {
		c.logger.Warn().Err(err).Msg("local store unavailable")
	}
	c.Bootstrap(runCtx)

	events := make(chan AppState, 8)
	foreground := true
	if lc := c.opts.Lifecycle; lc != nil {
		// Subscribe before sampling so a transition in between is queued.
		unsubscribe := lc.Subscribe(func(s AppState) {
			select {
			case events <- s:
			case <-runCtx.Done():
			}
		})
		defer unsubscribe()
		foreground = lc.Current() == Foreground
	}

	ticker := time.NewTicker(c.opts.RefreshInterval)
	defer ticker.Stop()

	var (
		attempt int
		retry   *time.Timer
		retryC  <-chan time.Time
	)
	stopRetry := func() {
		if retry != nil {
			retry.Stop()
		}
		retry, retryC = nil, nil
	}
	defer stopRetry()

	refresh := func() {
		err := c.Refresh(runCtx)
		ticker.Reset(c.opts.RefreshInterval)
		switch {
		case err == nil:
			attempt = 0
			stopRetry()
			c.ensureStream(runCtx)
		case errors.Is(err, ErrClosed) || runCtx.Err() != nil:
		default:
			attempt++
			stopRetry()
			delay := retryBackoff(c.opts.RetryLadder, attempt)
			retry = time.NewTimer(delay)
			retryC = retry.C
			c.logger.Debug().Int("attempt", attempt).Dur("delay", delay).Msg("refresh retry scheduled")
		}
	}

	refresh()
	c.ensureStream(runCtx)

	for {
		select {
		case <-runCtx.Done():
			return nil
		case <-ticker.C:
			if foreground {
				refresh()
			}
		case <-retryC:
			retry, retryC = nil, nil
			if foreground {
				refresh()
			}
		case s := <-events:
			switch s {
			case Foreground:
				if foreground {
					continue
				}
				foreground = true
				c.logger.Debug().Msg("foregrounded, refreshing")
				refresh()
				c.ensureStream(runCtx)
			case Background:
				foreground = false
				attempt = 0
				stopRetry()
			}
		}
	}
}

// ensureStream opens the live stream when none is open or the previous one
// has ended.
func (c *Controller) ensureStream(ctx context.Context) {
	if c.opts.Stream == nil {
		return
	}
	c.mu.Lock()
	if c.closed || streamAlive(c.stream) {
		c.mu.Unlock()
		return
	}
	prev := c.stream
	c.mu.Unlock()

	token, err := c.token()
	if err != nil {
		c.logger.Warn().Err(err).Msg("no credential for metric stream")
		return
	}
	s, err := c.opts.Stream(ctx, token, func(msg channel.Message) {
		c.OnChannelMessage(ctx, msg)
	})
	if err != nil {
		c.logger.Warn().Err(err).Msg("metric stream unavailable")
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = s.Close()
		return
	}
	c.stream = s
	c.mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
	c.logger.Info().Msg("metric stream connected")
}

// Close tears the controller down: it stops Run, closes the stream and
// discards any result that arrives afterwards. The local store is left
// intact. Close is idempotent.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel := c.cancel
	stream := c.stream
	c.stream = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stream != nil {
		if err := stream.Close(); err != nil {
			return fmt.Errorf("close metric stream: %w", err)
		}
	}
	return nil
}

func (c *Controller) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Controller) token() (string, error) {
	if c.tokens == nil {
		return "", nil
	}
	tok, err := c.tokens.Token()
	if err != nil {
		return "", fmt.Errorf("obtain access token: %w", err)
	}
	return tok.AccessToken, nil
}

func streamAlive(s Stream) bool {
	if s == nil {
		return false
	}
	select {
	case <-s.Done():
		return false
	default:
		return true
	}
}

func syncErrorText(err error) string {
	return fmt.Sprintf("unable to sync metrics: %v", err)
}
