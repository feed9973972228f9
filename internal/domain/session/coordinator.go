// Package session tracks the connectivity of one real-time audio/video
// session as an explicit state machine fed by typed transport events, plus a
// watchdog that notices a camera producing no frames.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// State is the connection state of the current attempt.
type State string

const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDegraded     State = "degraded"
	StateDisconnected State = "disconnected"
	StateError        State = "error"
)

// DefaultCameraGrace is how long an enabled camera may go without a frame.
const DefaultCameraGrace = 2 * time.Second

// CameraAdvisory is shown when the camera watchdog fires.
const CameraAdvisory = "Your camera is on but no video is coming through. Check that it is connected and that camera access is allowed."

var (
	ErrInvalidTransition = errors.New("session: invalid transition")
	ErrStaleAttempt      = errors.New("session: event from a previous attempt")
)

var transitions = map[State]map[eventKind]State{
	StateConnecting: {
		evConnectSucceeded: StateConnected,
		evTransportFailed:  StateError,
	},
	StateConnected: {
		evQualityDegraded: StateDegraded,
		evDisconnected:    StateDisconnected,
		evTransportFailed: StateError,
	},
	StateDegraded: {
		evQualityRestored:  StateConnected,
		evConnectSucceeded: StateConnected,
		evDisconnected:     StateDisconnected,
	},
	StateDisconnected: {
		evRetry: StateConnecting,
	},
	StateError: {
		evRetry: StateConnecting,
	},
}

// Status is a copy of the coordinator's display state.
type Status struct {
	State          State
	Attempt        string
	LastError      string
	MediaAdvisory  string
	CameraAdvisory string
}

// Timer is the handle returned by Options.AfterFunc.
type Timer interface {
	Stop() bool
}

// Options tune a Coordinator.
type Options struct {
	CameraGrace  time.Duration
	AfterFunc    func(d time.Duration, f func()) Timer
	NewAttemptID func() string
}

// Coordinator owns the session state machine.
type Coordinator struct {
	grace     time.Duration
	afterFunc func(time.Duration, func()) Timer
	newID     func() string
	logger    zerolog.Logger

	mu             sync.Mutex
	state          State
	attempt        string
	lastErr        string
	mediaAdvisory  string
	cameraAdvisory string
	reconnecting   bool

	cameraOn  bool
	frameSeen bool
	watchdog  Timer
	watchGen  int

	listeners []func(Status)
}

// NewCoordinator starts in connecting with a fresh attempt id.
func NewCoordinator(opts Options, logger zerolog.Logger) *Coordinator {
	c := &Coordinator{
		grace:     opts.CameraGrace,
		afterFunc: opts.AfterFunc,
		newID:     opts.NewAttemptID,
		logger:    logger.With().Str("component", "session").Logger(),
		state:     StateConnecting,
	}
	if c.grace <= 0 {
		c.grace = DefaultCameraGrace
	}
	if c.afterFunc == nil {
		c.afterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
	if c.newID == nil {
		c.newID = func() string { return uuid.New().String() }
	}
	c.attempt = c.newID()
	return c
}

// Status returns the current display state.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Coordinator) statusLocked() Status {
	return Status{
		State:          c.state,
		Attempt:        c.attempt,
		LastError:      c.lastErr,
		MediaAdvisory:  c.mediaAdvisory,
		CameraAdvisory: c.cameraAdvisory,
	}
}

// OnChange registers fn to receive the Status after every change.
func (c *Coordinator) OnChange(fn func(Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *Coordinator) notify(s Status) {
	c.mu.Lock()
	fns := append(([]func(Status))(nil), c.listeners...)
	c.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

// Dispatch applies ev. Illegal transitions return ErrInvalidTransition and
// events stamped with an older attempt return ErrStaleAttempt; in both cases
// the state is left untouched.
func (c *Coordinator) Dispatch(ev Event) error {
	c.mu.Lock()
	if id := ev.attemptID(); id != "" && id != c.attempt {
		c.mu.Unlock()
		c.logger.Debug().Str("event", ev.kind().String()).Str("attempt", id).Msg("ignoring stale event")
		return ErrStaleAttempt
	}

	if e, ok := ev.(MediaDeviceFailed); ok {
		c.mediaAdvisory = e.Category.Advisory()
		st := c.statusLocked()
		c.mu.Unlock()
		c.logger.Warn().Str("category", string(e.Category)).Str("state", string(st.State)).Msg("media device failed")
		c.notify(st)
		return nil
	}

	from := c.state
	to, ok := transitions[from][ev.kind()]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s in %s", ErrInvalidTransition, ev.kind(), from)
	}

	c.state = to
	switch e := ev.(type) {
	case TransportFailed:
		c.lastErr = e.Message
	case ConnectSucceeded:
		c.lastErr = ""
		if c.reconnecting {
			c.mediaAdvisory = ""
			c.reconnecting = false
		}
	case Retry:
		c.attempt = c.newID()
		c.lastErr = ""
		c.reconnecting = true
		c.cameraAdvisory = ""
		c.rearmWatchdogLocked()
	}
	st := c.statusLocked()
	c.mu.Unlock()

	c.logger.Info().Str("from", string(from)).Str("to", string(to)).Str("attempt", st.Attempt).Msg("session transition")
	c.notify(st)
	return nil
}

// SetCameraEnabled arms the watchdog when the camera is turned on and
// disarms it, clearing the camera advisory, when it is turned off.
func (c *Coordinator) SetCameraEnabled(enabled bool) {
	c.mu.Lock()
	if c.cameraOn == enabled {
		c.mu.Unlock()
		return
	}
	c.cameraOn = enabled
	c.frameSeen = false
	changed := false
	if enabled {
		c.rearmWatchdogLocked()
	} else {
		c.stopWatchdogLocked()
		changed = c.cameraAdvisory != ""
		c.cameraAdvisory = ""
	}
	st := c.statusLocked()
	c.mu.Unlock()

	if changed {
		c.notify(st)
	}
}

// FrameObserved records a live video frame from the local camera.
func (c *Coordinator) FrameObserved() {
	c.mu.Lock()
	if !c.cameraOn || c.frameSeen {
		c.mu.Unlock()
		return
	}
	c.frameSeen = true
	c.stopWatchdogLocked()
	changed := c.cameraAdvisory != ""
	c.cameraAdvisory = ""
	st := c.statusLocked()
	c.mu.Unlock()

	if changed {
		c.notify(st)
	}
}

// Close disarms the watchdog.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopWatchdogLocked()
}

func (c *Coordinator) rearmWatchdogLocked() {
	c.stopWatchdogLocked()
	if !c.cameraOn {
		return
	}
	c.frameSeen = false
	gen, attempt := c.watchGen, c.attempt
	c.watchdog = c.afterFunc(c.grace, func() { c.cameraTimedOut(gen, attempt) })
}

func (c *Coordinator) stopWatchdogLocked() {
	c.watchGen++
	if c.watchdog != nil {
		c.watchdog.Stop()
		c.watchdog = nil
	}
}

func (c *Coordinator) cameraTimedOut(gen int, attempt string) {
	c.mu.Lock()
	if gen != c.watchGen || attempt != c.attempt || !c.cameraOn || c.frameSeen {
		c.mu.Unlock()
		return
	}
	c.watchdog = nil
	c.cameraAdvisory = CameraAdvisory
	st := c.statusLocked()
	c.mu.Unlock()

	c.logger.Warn().Dur("grace", c.grace).Msg("camera produced no frames")
	c.notify(st)
}
