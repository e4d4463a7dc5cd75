// Package countdown implements the payment window of a checkout session.
package countdown

import (
	"errors"
	"sync"
	"time"

	"github.com/vitwit/web3checkout/types"
)

// DefaultSeconds is the length of the payment window.
const DefaultSeconds = 600

var ErrStarted = errors.New("countdown already started")

// Ticker returns a channel that fires every d and a function that stops it.
type Ticker func(d time.Duration) (<-chan time.Time, func())

func realTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

type Option func(*Guard)

// WithTicker replaces the wall-clock ticker.
func WithTicker(t Ticker) Option {
	return func(g *Guard) { g.ticker = t }
}

// WithClock replaces time.Now for the reported deadline.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// Guard counts down once per second from a fixed budget and calls the expiry
// callback exactly once when it reaches zero, unless stopped first.
type Guard struct {
	seconds int
	ticker  Ticker
	now     func() time.Time

	mu        sync.Mutex
	started   bool
	active    bool
	remaining int
	deadline  time.Time
	stop      chan struct{}
	done      chan struct{}
}

func New(seconds int, opts ...Option) *Guard {
	if seconds <= 0 {
		seconds = DefaultSeconds
	}
	g := &Guard{
		seconds:   seconds,
		ticker:    realTicker,
		now:       time.Now,
		remaining: seconds,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Start begins the countdown. onTick receives the remaining seconds after
// every tick; onExpire runs once when zero is reached. A guard runs once.
func (g *Guard) Start(onTick func(remaining int), onExpire func()) error {
	g.mu.Lock()
	if g.started {
		g.mu.Unlock()
		return ErrStarted
	}
	g.started, g.active = true, true
	g.deadline = g.now().Add(time.Duration(g.seconds) * time.Second)
	g.mu.Unlock()

	ticks, stopTicker := g.ticker(time.Second)
	go g.run(ticks, stopTicker, onTick, onExpire)
	return nil
}

func (g *Guard) run(ticks <-chan time.Time, stopTicker func(), onTick func(int), onExpire func()) {
	defer close(g.done)
	defer stopTicker()

	for {
		select {
		case <-g.stop:
			return
		case <-ticks:
			g.mu.Lock()
			if !g.active {
				g.mu.Unlock()
				return
			}
			g.remaining--
			remaining := g.remaining
			expired := remaining <= 0
			if expired {
				g.active = false
			}
			g.mu.Unlock()

			if onTick != nil {
				onTick(remaining)
			}
			if expired {
				if onExpire != nil {
					onExpire()
				}
				return
			}
		}
	}
}

// Stop cancels the countdown. It reports whether the guard was still running.
func (g *Guard) Stop() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.active {
		return false
	}
	g.active = false
	close(g.stop)
	return true
}

// Done is closed once the countdown goroutine has exited.
func (g *Guard) Done() <-chan struct{} {
	return g.done
}

func (g *Guard) State() types.CountdownState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return types.CountdownState{
		Deadline:  g.deadline,
		Remaining: g.remaining,
		Active:    g.active,
	}
}
