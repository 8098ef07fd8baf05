package flow

import (
	"fmt"
	"sync"
	"time"
)

// Countdown counts whole seconds down to zero on its own goroutine. It is
// cancellable: after Stop returns no further tick callbacks run.
type Countdown struct {
	mu        sync.Mutex
	remaining int

	onTick   func(remaining int)
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// StartCountdown begins counting from seconds. onTick, if non-nil, is called
// from the countdown goroutine after every decrement, including the final
// one to zero. onTick must not call Stop.
func StartCountdown(clock Clock, seconds int, onTick func(remaining int)) *Countdown {
	c := &Countdown{
		remaining: max(seconds, 0),
		onTick:    onTick,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	if c.remaining == 0 {
		close(c.done)
		return c
	}
	ticker := clock.NewTicker(time.Second)
	go c.run(ticker)
	return c
}

func (c *Countdown) run(ticker Ticker) {
	defer close(c.done)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C():
		}

		c.mu.Lock()
		c.remaining--
		left := c.remaining
		c.mu.Unlock()

		if c.onTick != nil {
			c.onTick(left)
		}
		if left == 0 {
			return
		}
	}
}

// Remaining returns the seconds left.
func (c *Countdown) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// Running reports whether the countdown has neither reached zero nor been stopped.
func (c *Countdown) Running() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Done is closed once the countdown goroutine has exited.
func (c *Countdown) Done() <-chan struct{} { return c.done }

// Stop cancels the countdown and waits for its goroutine to exit. The
// remaining value is frozen. Safe to call more than once.
func (c *Countdown) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.done
}

// FormatClock renders seconds as m:ss.
func FormatClock(seconds int) string {
	seconds = max(seconds, 0)
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
