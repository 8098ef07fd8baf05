package flow_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vestio/vestio/authapi"
	"github.com/vestio/vestio/flow"
	"github.com/vestio/vestio/session"
)

var errUnexpectedCall = errors.New("unexpected call")

// fakeAuthority implements authapi.Authority with per-method hooks and call
// counting. Unset hooks fail the call.
type fakeAuthority struct {
	mu    sync.Mutex
	calls map[string]int

	login              func(ctx context.Context, email string, password []byte) (*authapi.LoginResult, error)
	verifyEmailOTP     func(ctx context.Context, ticket, code string) (*authapi.OTPResult, error)
	resendEmailOTP     func(ctx context.Context, ticket string) (*authapi.Ack, error)
	verifySecondFactor func(ctx context.Context, ticket, code string) (session.Tokens, error)
	register           func(ctx context.Context, req authapi.RegisterRequest) (*authapi.RegisterResult, error)
	verifyEmail        func(ctx context.Context, token string) (*authapi.Ack, error)
	resendVerification func(ctx context.Context, accessToken string) (*authapi.Ack, error)
	forgotPassword     func(ctx context.Context, email string) (*authapi.Ack, error)
	resetPassword      func(ctx context.Context, token, password string) (*authapi.Ack, error)
	changePassword     func(ctx context.Context, accessToken, current, next string) (*authapi.Ack, error)
	enableTwoFactor    func(ctx context.Context, accessToken string) (*authapi.TwoFactorSetup, error)
	confirmTwoFactor   func(ctx context.Context, accessToken, code string) (*authapi.Ack, error)
	disableTwoFactor   func(ctx context.Context, accessToken, password string) (*authapi.Ack, error)
	profile            func(ctx context.Context, accessToken string) (*authapi.Profile, error)
	logout             func(ctx context.Context, accessToken string) error
}

var _ authapi.Authority = (*fakeAuthority)(nil)

func (f *fakeAuthority) count(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[name]++
}

func (f *fakeAuthority) Calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeAuthority) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeAuthority) Login(ctx context.Context, email string, password []byte) (*authapi.LoginResult, error) {
	f.count("Login")
	if f.login == nil {
		return nil, errUnexpectedCall
	}
	return f.login(ctx, email, password)
}

func (f *fakeAuthority) VerifyEmailOTP(ctx context.Context, ticket, code string) (*authapi.OTPResult, error) {
	f.count("VerifyEmailOTP")
	if f.verifyEmailOTP == nil {
		return nil, errUnexpectedCall
	}
	return f.verifyEmailOTP(ctx, ticket, code)
}

func (f *fakeAuthority) ResendEmailOTP(ctx context.Context, ticket string) (*authapi.Ack, error) {
	f.count("ResendEmailOTP")
	if f.resendEmailOTP == nil {
		return nil, errUnexpectedCall
	}
	return f.resendEmailOTP(ctx, ticket)
}

func (f *fakeAuthority) VerifySecondFactor(ctx context.Context, ticket, code string) (session.Tokens, error) {
	f.count("VerifySecondFactor")
	if f.verifySecondFactor == nil {
		return session.Tokens{}, errUnexpectedCall
	}
	return f.verifySecondFactor(ctx, ticket, code)
}

func (f *fakeAuthority) Register(ctx context.Context, req authapi.RegisterRequest) (*authapi.RegisterResult, error) {
	f.count("Register")
	if f.register == nil {
		return nil, errUnexpectedCall
	}
	return f.register(ctx, req)
}

func (f *fakeAuthority) VerifyEmail(ctx context.Context, token string) (*authapi.Ack, error) {
	f.count("VerifyEmail")
	if f.verifyEmail == nil {
		return nil, errUnexpectedCall
	}
	return f.verifyEmail(ctx, token)
}

func (f *fakeAuthority) ResendVerification(ctx context.Context, accessToken string) (*authapi.Ack, error) {
	f.count("ResendVerification")
	if f.resendVerification == nil {
		return nil, errUnexpectedCall
	}
	return f.resendVerification(ctx, accessToken)
}

func (f *fakeAuthority) ForgotPassword(ctx context.Context, email string) (*authapi.Ack, error) {
	f.count("ForgotPassword")
	if f.forgotPassword == nil {
		return nil, errUnexpectedCall
	}
	return f.forgotPassword(ctx, email)
}

func (f *fakeAuthority) ResetPassword(ctx context.Context, token, password string) (*authapi.Ack, error) {
	f.count("ResetPassword")
	if f.resetPassword == nil {
		return nil, errUnexpectedCall
	}
	return f.resetPassword(ctx, token, password)
}

func (f *fakeAuthority) ChangePassword(ctx context.Context, accessToken, current, next string) (*authapi.Ack, error) {
	f.count("ChangePassword")
	if f.changePassword == nil {
		return nil, errUnexpectedCall
	}
	return f.changePassword(ctx, accessToken, current, next)
}

func (f *fakeAuthority) EnableTwoFactor(ctx context.Context, accessToken string) (*authapi.TwoFactorSetup, error) {
	f.count("EnableTwoFactor")
	if f.enableTwoFactor == nil {
		return nil, errUnexpectedCall
	}
	return f.enableTwoFactor(ctx, accessToken)
}

func (f *fakeAuthority) ConfirmTwoFactor(ctx context.Context, accessToken, code string) (*authapi.Ack, error) {
	f.count("ConfirmTwoFactor")
	if f.confirmTwoFactor == nil {
		return nil, errUnexpectedCall
	}
	return f.confirmTwoFactor(ctx, accessToken, code)
}

func (f *fakeAuthority) DisableTwoFactor(ctx context.Context, accessToken, password string) (*authapi.Ack, error) {
	f.count("DisableTwoFactor")
	if f.disableTwoFactor == nil {
		return nil, errUnexpectedCall
	}
	return f.disableTwoFactor(ctx, accessToken, password)
}

func (f *fakeAuthority) Profile(ctx context.Context, accessToken string) (*authapi.Profile, error) {
	f.count("Profile")
	if f.profile == nil {
		return nil, errUnexpectedCall
	}
	return f.profile(ctx, accessToken)
}

func (f *fakeAuthority) Logout(ctx context.Context, accessToken string) error {
	f.count("Logout")
	if f.logout == nil {
		return errUnexpectedCall
	}
	return f.logout(ctx, accessToken)
}

// recordingNav records every navigation.
type recordingNav struct {
	mu     sync.Mutex
	routes []flow.Route
}

func (n *recordingNav) Navigate(to flow.Route) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.routes = append(n.routes, to)
}

func (n *recordingNav) Routes() []flow.Route {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]flow.Route(nil), n.routes...)
}

// fakeClock hands out tickers that only fire on Tick.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *fakeClock) NewTicker(time.Duration) flow.Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{c: make(chan time.Time), stopped: make(chan struct{})}
	c.tickers = append(c.tickers, t)
	return t
}

// Tick advances one second and delivers a tick to every live ticker,
// blocking until each has received it or been stopped.
func (c *fakeClock) Tick() {
	c.mu.Lock()
	c.now = c.now.Add(time.Second)
	now := c.now
	tickers := append([]*fakeTicker(nil), c.tickers...)
	c.mu.Unlock()
	for _, t := range tickers {
		select {
		case t.c <- now:
		case <-t.stopped:
		}
	}
}

type fakeTicker struct {
	c       chan time.Time
	stopped chan struct{}
	once    sync.Once
}

func (t *fakeTicker) C() <-chan time.Time { return t.c }
func (t *fakeTicker) Stop()               { t.once.Do(func() { close(t.stopped) }) }

func validTokens() session.Tokens {
	return session.Tokens{AccessToken: "AT1", RefreshToken: "RT1"}
}

func requireOnly(t *testing.T, store *session.Store, slot session.Slot) {
	t.Helper()
	for _, s := range []session.Slot{session.SlotLoginTicket, session.SlotSecondFactorTicket, session.SlotSessionTokens} {
		require.Equal(t, s == slot, store.Has(s), "slot %s", s)
	}
}
