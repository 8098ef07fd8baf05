// Package flow drives the layered sign-in sequence on top of a session.Store.
//
// Components are leaves first: CredentialExchange turns credentials into a
// login ticket, ChallengeVerifier turns a login ticket and an emailed code
// into either a second-factor ticket or session tokens, SecondFactorVerifier
// finishes the second stage, and ResendThrottle rate-limits code reissue.
// Guard gates every stage view and ProfileSession serves the authenticated
// account. Views (LoginView, EmailOTPView, SecondFactorView) compose them into
// headless screens a CLI or UI can drive.
package flow

import (
	"errors"
	"log/slog"
	"time"
)

// Route is a navigation target.
type Route string

const (
	RouteLogin             Route = "/login"
	RouteRegister          Route = "/register"
	RouteEmailOTP          Route = "/otp-verify"
	RouteSecondFactor      Route = "/2fa-verify"
	RouteDashboard         Route = "/dashboard"
	RouteAccountSuspended  Route = "/account-suspended"
	RouteForgotPassword    Route = "/forgot-password"
	RouteResetPassword     Route = "/reset-password"
	RouteEmailVerification Route = "/email-verification"
	RouteVerifyEmail       Route = "/verify-email"
)

// Navigator performs navigation on behalf of a view.
type Navigator interface {
	Navigate(to Route)
}

// NavigatorFunc adapts a function to Navigator.
type NavigatorFunc func(to Route)

func (f NavigatorFunc) Navigate(to Route) { f(to) }

var (
	// ErrNoLoginTicket means the email-code stage was reached without a login ticket.
	ErrNoLoginTicket = errors.New("flow: no login ticket")
	// ErrNoSecondFactorTicket means the second-factor stage was reached without its ticket.
	ErrNoSecondFactorTicket = errors.New("flow: no second-factor ticket")
	// ErrNotAuthenticated means an operation needed session tokens and none are held.
	ErrNotAuthenticated = errors.New("flow: not authenticated")
	// ErrInvalidCodeFormat is returned before any request when a code has the wrong shape.
	ErrInvalidCodeFormat = errors.New("flow: invalid code format")
	// ErrSubmitInFlight is returned when a request for the same control is outstanding.
	ErrSubmitInFlight = errors.New("flow: request already in flight")
	// ErrStaleResult is returned when a response arrived for a stage that is no
	// longer current. The response was not applied.
	ErrStaleResult = errors.New("flow: stale result ignored")
	// ErrCooldownActive is returned when a resend is requested during cooldown.
	ErrCooldownActive = errors.New("flow: resend cooldown active")
	// ErrMissingToken is returned when an emailed link carried no token.
	ErrMissingToken = errors.New("flow: missing token")
	// ErrClosed is returned by a view after it redirected, handed off or was closed.
	ErrClosed = errors.New("flow: view closed")
)

const (
	// OTPValiditySeconds is the advisory email-code countdown.
	OTPValiditySeconds = 300
	// ResendCooldownSeconds is the minimum wait between code reissues.
	ResendCooldownSeconds = 60
	// DefaultProfileStaleness is how long a fetched profile is served from cache.
	DefaultProfileStaleness = 5 * time.Minute
	// DefaultLogoutTimeout bounds the best-effort remote logout.
	DefaultLogoutTimeout = 5 * time.Second
	// profileRetries is the number of retries after the first failed fetch.
	profileRetries = 2
)

type options struct {
	logger         *slog.Logger
	clock          Clock
	staleness      time.Duration
	logoutTimeout  time.Duration
	retryBackoff   time.Duration
	resendCooldown int
}

// Option configures flow components. Each component reads the options that
// apply to it and ignores the rest.
type Option func(*options)

// WithLogger sets the structured logger. Defaults to discarding.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithClock replaces the wall clock used by countdowns and profile caching.
func WithClock(c Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithProfileStaleness sets the profile freshness window.
func WithProfileStaleness(d time.Duration) Option {
	return func(o *options) {
		o.staleness = d
	}
}

// WithLogoutTimeout bounds the remote part of logout.
func WithLogoutTimeout(d time.Duration) Option {
	return func(o *options) {
		o.logoutTimeout = d
	}
}

// WithRetryBackoff sets the base delay between profile fetch retries.
func WithRetryBackoff(d time.Duration) Option {
	return func(o *options) {
		o.retryBackoff = d
	}
}

// WithResendCooldown overrides the resend cooldown, in seconds.
func WithResendCooldown(seconds int) Option {
	return func(o *options) {
		o.resendCooldown = seconds
	}
}

func buildOptions(component string, opts []Option) options {
	o := options{
		clock:          SystemClock(),
		staleness:      DefaultProfileStaleness,
		logoutTimeout:  DefaultLogoutTimeout,
		retryBackoff:   200 * time.Millisecond,
		resendCooldown: ResendCooldownSeconds,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	o.logger = o.logger.With("component", component)
	return o
}
