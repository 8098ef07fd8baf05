package flow

import (
	"context"
	"log/slog"
	"sync"

	"github.com/vestio/vestio/authapi"
)

// ResendFunc asks the authority to reissue a verification code.
type ResendFunc func(ctx context.Context) (*authapi.Ack, error)

// ResendThrottle gates a ResendFunc behind a client-side cooldown. The
// cooldown starts after a successful reissue, ticks once per second, and is
// volatile: a new throttle always starts enabled.
type ResendThrottle struct {
	resend   ResendFunc
	clock    Clock
	seconds  int
	logger   *slog.Logger
	onChange func(remaining int)

	mu       sync.Mutex
	cooldown *Countdown
	inFlight bool
	closed   bool
}

// NewResendThrottle wraps resend with the default 60 second cooldown.
func NewResendThrottle(resend ResendFunc, opts ...Option) *ResendThrottle {
	o := buildOptions("resend_throttle", opts)
	return &ResendThrottle{
		resend:  resend,
		clock:   o.clock,
		seconds: o.resendCooldown,
		logger:  o.logger,
	}
}

// OnChange registers fn to be called with the remaining cooldown on every
// tick. It must be set before the first Request.
func (r *ResendThrottle) OnChange(fn func(remaining int)) {
	r.onChange = fn
}

// Request reissues the code unless the cooldown is running or another
// request is outstanding. A failed reissue does not start the cooldown.
func (r *ResendThrottle) Request(ctx context.Context) (*authapi.Ack, error) {
	r.mu.Lock()
	switch {
	case r.closed:
		r.mu.Unlock()
		return nil, ErrClosed
	case r.inFlight:
		r.mu.Unlock()
		return nil, ErrSubmitInFlight
	case r.remainingLocked() > 0:
		r.mu.Unlock()
		return nil, ErrCooldownActive
	}
	r.inFlight = true
	r.mu.Unlock()

	ack, err := r.resend(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.inFlight = false
	if err != nil {
		r.logger.Warn("resend failed", "kind", authapi.KindOf(err).String())
		return nil, err
	}
	if r.closed {
		return nil, ErrStaleResult
	}
	r.cooldown = StartCountdown(r.clock, r.seconds, r.onChange)
	r.logger.Info("verification code reissued", "cooldown_seconds", r.seconds)
	return ack, nil
}

// Remaining returns the seconds left before another resend is allowed.
func (r *ResendThrottle) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remainingLocked()
}

// Enabled reports whether the resend control should be active: no cooldown
// running and nothing in flight.
func (r *ResendThrottle) Enabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.closed && !r.inFlight && r.remainingLocked() == 0
}

// Close cancels the cooldown timer. Subsequent requests fail with ErrClosed.
func (r *ResendThrottle) Close() {
	r.mu.Lock()
	r.closed = true
	cd := r.cooldown
	r.mu.Unlock()
	if cd != nil {
		cd.Stop()
	}
}

func (r *ResendThrottle) remainingLocked() int {
	if r.cooldown == nil {
		return 0
	}
	return r.cooldown.Remaining()
}
