package progress

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/gathertown/grapevine/internal/models"
)

// DefaultInterval is the minimum spacing between externally visible updates.
const DefaultInterval = 2500 * time.Millisecond

type phase int

const (
	phaseIdle phase = iota
	phaseRunning
	phaseStopped
)

// UpdateFunc renders the progress body to the channel. Errors are swallowed;
// a failed render never stops the cadence.
type UpdateFunc func(body string) error

// Updater converts a burst-prone event sequence into steady-cadence UI
// updates. Events are applied in push order; only the side-effecting render
// is throttled.
type Updater struct {
	mu         sync.Mutex
	clock      clockwork.Clock
	interval   time.Duration
	onUpdate   UpdateFunc
	logger     *slog.Logger
	state      *State
	queue      []models.StreamEvent
	phase      phase
	timer      clockwork.Timer
	lastEmit   string
	appliedAny bool
}

// Option configures an Updater.
type Option func(*Updater)

// WithClock injects a clock, so tests run without real timers.
func WithClock(c clockwork.Clock) Option {
	return func(u *Updater) { u.clock = c }
}

// WithInterval overrides the update cadence.
func WithInterval(d time.Duration) Option {
	return func(u *Updater) { u.interval = d }
}

// NewUpdater creates an updater that renders through onUpdate.
func NewUpdater(onUpdate UpdateFunc, opts ...Option) *Updater {
	u := &Updater{
		clock:    clockwork.NewRealClock(),
		interval: DefaultInterval,
		onUpdate: onUpdate,
		logger:   slog.Default(),
		state:    NewState(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Start begins the interval cadence. Starting twice is a no-op.
func (u *Updater) Start() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.phase != phaseIdle {
		return
	}
	u.phase = phaseRunning
	u.timer = u.clock.AfterFunc(u.interval, u.tick)
}

// Push enqueues one stream event. The very first event after Start is
// applied and rendered immediately so users see activity right away.
func (u *Updater) Push(ev models.StreamEvent) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.phase == phaseStopped {
		return
	}
	if u.phase == phaseRunning && !u.appliedAny {
		u.appliedAny = true
		u.state.Apply(ev)
		u.emitLocked()
		return
	}
	u.queue = append(u.queue, ev)
}

// SetFastAnswer bypasses the queue: a preliminary answer is user-facing
// content, not a transient status, and renders immediately.
func (u *Updater) SetFastAnswer(text string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.phase == phaseStopped {
		return
	}
	u.state.SetFastAnswer(text)
	u.emitLocked()
}

// Stop cancels the cadence, synchronously drains all queued events into
// state, and issues one final render if the visible trace changed.
func (u *Updater) Stop() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.phase != phaseRunning {
		u.phase = phaseStopped
		return
	}
	u.phase = phaseStopped
	if u.timer != nil {
		u.timer.Stop()
	}
	for _, ev := range u.queue {
		u.state.Apply(ev)
	}
	u.queue = nil
	u.emitLocked()
}

// tick applies at most one pending event per interval.
func (u *Updater) tick() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.phase != phaseRunning {
		return
	}
	if len(u.queue) > 0 {
		ev := u.queue[0]
		u.queue = u.queue[1:]
		u.appliedAny = true
		u.state.Apply(ev)
		u.emitLocked()
	}
	u.timer = u.clock.AfterFunc(u.interval, u.tick)
}

// emitLocked renders and invokes the callback only when the rendered body
// actually changed since the last emission.
func (u *Updater) emitLocked() {
	body := u.state.Render()
	if body == u.lastEmit || body == "" {
		return
	}
	u.lastEmit = body
	if err := u.onUpdate(body); err != nil {
		u.logger.Debug("progress update failed", "error", err)
	}
}
