package flow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/vestio/vestio/authapi"
	"github.com/vestio/vestio/session"
)

// ProfileSession lazily resolves the signed-in account and performs logout.
type ProfileSession struct {
	authority authapi.Authority
	store     *session.Store
	nav       Navigator
	clock     Clock
	staleness time.Duration
	timeout   time.Duration
	backoff   time.Duration
	logger    *slog.Logger

	mu        sync.Mutex
	cached    *authapi.Profile
	cachedFor string
	fetchedAt time.Time
}

// NewProfileSession creates a ProfileSession.
func NewProfileSession(authority authapi.Authority, store *session.Store, nav Navigator, opts ...Option) *ProfileSession {
	o := buildOptions("profile_session", opts)
	return &ProfileSession{
		authority: authority,
		store:     store,
		nav:       nav,
		clock:     o.clock,
		staleness: o.staleness,
		timeout:   o.logoutTimeout,
		backoff:   o.retryBackoff,
		logger:    o.logger,
	}
}

// Profile returns the account profile, serving a cached copy fetched with
// the current access token within the freshness window.
func (p *ProfileSession) Profile(ctx context.Context) (*authapi.Profile, error) {
	token, ok := p.store.AccessToken()
	if !ok {
		return nil, ErrNotAuthenticated
	}
	p.mu.Lock()
	if p.cached != nil && p.cachedFor == token && p.clock.Now().Sub(p.fetchedAt) < p.staleness {
		prof := *p.cached
		p.mu.Unlock()
		return &prof, nil
	}
	p.mu.Unlock()
	return p.fetch(ctx, token)
}

// Refresh bypasses the cache. Use it after operations that change
// server-side profile state.
func (p *ProfileSession) Refresh(ctx context.Context) (*authapi.Profile, error) {
	token, ok := p.store.AccessToken()
	if !ok {
		return nil, ErrNotAuthenticated
	}
	return p.fetch(ctx, token)
}

// Invalidate drops the cached profile.
func (p *ProfileSession) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cached = nil
	p.cachedFor = ""
	p.fetchedAt = time.Time{}
}

// fetch retries transient failures twice. An authoritative Unauthorized
// clears the session tokens and redirects to the login entry point.
func (p *ProfileSession) fetch(ctx context.Context, token string) (*authapi.Profile, error) {
	b := retry.WithMaxRetries(profileRetries, retry.NewExponential(max(p.backoff, time.Millisecond)))
	prof, err := retry.DoValue(ctx, b, func(ctx context.Context) (*authapi.Profile, error) {
		prof, err := p.authority.Profile(ctx, token)
		var apiErr *authapi.Error
		if errors.As(err, &apiErr) && apiErr.Retryable() {
			p.logger.Debug("profile fetch failed, retrying", "kind", apiErr.Kind.String())
			return nil, retry.RetryableError(err)
		}
		return prof, err
	})
	if err != nil {
		if errors.Is(err, authapi.ErrUnauthorized) {
			p.reject(token)
		}
		return nil, err
	}

	p.mu.Lock()
	p.cached = prof
	p.cachedFor = token
	p.fetchedAt = p.clock.Now()
	p.mu.Unlock()
	out := *prof
	return &out, nil
}

func (p *ProfileSession) reject(token string) {
	p.Invalidate()
	if cur, ok := p.store.AccessToken(); !ok || cur != token {
		return
	}
	if err := p.store.ClearSlot(session.SlotSessionTokens); err != nil {
		p.logger.Warn("failed to clear rejected session", "error", err)
	}
	p.logger.Info("session rejected by authority")
	p.nav.Navigate(RouteLogin)
}

// LogoutResult reports the remote half of a logout. The local half always
// happens.
type LogoutResult struct {
	// Remote is false when no access token was held.
	Remote    bool
	RemoteErr error
}

// Logout invalidates the session remotely on a best-effort basis, then
// always clears the store and navigates to the login entry point. The
// returned error only reports a failure to clear local state.
func (p *ProfileSession) Logout(ctx context.Context) (LogoutResult, error) {
	var res LogoutResult
	if token, ok := p.store.AccessToken(); ok {
		res.Remote = true
		rctx, cancel := context.WithTimeout(ctx, p.timeout)
		res.RemoteErr = p.authority.Logout(rctx, token)
		cancel()
		if res.RemoteErr != nil {
			p.logger.Warn("remote logout failed", "kind", authapi.KindOf(res.RemoteErr).String())
		}
	}

	err := p.store.ClearAll()
	p.Invalidate()
	p.nav.Navigate(RouteLogin)
	if err != nil {
		p.logger.Error("failed to clear session", "error", err)
		return res, err
	}
	p.logger.Info("logged out", "remote", res.Remote, "remote_ok", res.RemoteErr == nil)
	return res, nil
}
