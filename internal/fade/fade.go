// Package fade implements stepwise volume interpolation with per-key
// cancellation. Alerts and favourite playback use it to ramp zone volume.
package fade

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultDuration applies when the caller passes no duration.
	DefaultDuration = 3000 * time.Millisecond
	// stepInterval is the nominal spacing between fade steps.
	stepInterval = 200 * time.Millisecond
	// minStepInterval bounds how tightly steps may be packed.
	minStepInterval = 50 * time.Millisecond
)

// StepFunc receives each interpolated volume, clamped to [0,100].
type StepFunc func(volume int) error

// Controller schedules cancellable fades keyed by zone (or zone:alertType).
type Controller struct {
	mu     sync.Mutex
	active map[string]chan struct{}
	logger zerolog.Logger
}

func NewController(logger zerolog.Logger) *Controller {
	return &Controller{
		active: make(map[string]chan struct{}),
		logger: logger.With().Str("component", "fade").Logger(),
	}
}

// Schedule starts a fade from `from` to `to` over duration. Any fade already
// running under the same key is cancelled first. onStep is invoked
// immediately with `from` (backends may reset volume on play), then once per
// step; the final step lands exactly on `to`. onComplete runs only if the
// fade was not cancelled. Errors from onStep are logged and swallowed.
func (c *Controller) Schedule(key string, from, to int, duration time.Duration, onStep StepFunc, onComplete func()) {
	if duration <= 0 {
		duration = DefaultDuration
	}
	from = clampVolume(from)
	to = clampVolume(to)

	cancel := make(chan struct{})
	c.mu.Lock()
	if prior, ok := c.active[key]; ok {
		close(prior)
	}
	c.active[key] = cancel
	c.mu.Unlock()

	c.step(key, from, onStep)

	steps := int(math.Ceil(float64(duration) / float64(stepInterval)))
	if steps < 1 {
		steps = 1
	}
	interval := duration / time.Duration(steps)
	if interval < minStepInterval {
		interval = minStepInterval
		steps = int(duration / interval)
		if steps < 1 {
			steps = 1
		}
	}

	go c.run(key, cancel, from, to, steps, interval, onStep, onComplete)
}

// Cancel stops the fade under key, if any. No further steps fire.
func (c *Controller) Cancel(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cancel, ok := c.active[key]; ok {
		close(cancel)
		delete(c.active, key)
	}
}

// CancelAll stops every outstanding fade. Used on shutdown.
func (c *Controller) CancelAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, cancel := range c.active {
		close(cancel)
		delete(c.active, key)
	}
}

// Active reports whether a fade is running under key.
func (c *Controller) Active(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[key]
	return ok
}

func (c *Controller) run(key string, cancel chan struct{}, from, to, steps int, interval time.Duration, onStep StepFunc, onComplete func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := 1; i <= steps; i++ {
		select {
		case <-cancel:
			return
		case <-ticker.C:
		}
		// A cancel that raced the tick still wins.
		select {
		case <-cancel:
			return
		default:
		}

		volume := from + (to-from)*i/steps
		if i == steps {
			volume = to
		}
		c.step(key, volume, onStep)
	}

	c.mu.Lock()
	finished := c.active[key] == cancel
	if finished {
		delete(c.active, key)
	}
	c.mu.Unlock()

	if finished && onComplete != nil {
		onComplete()
	}
}

func (c *Controller) step(key string, volume int, onStep StepFunc) {
	if err := onStep(clampVolume(volume)); err != nil {
		c.logger.Warn().Str("key", key).Int("volume", volume).Err(err).Msg("fade step failed")
	}
}

func clampVolume(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
