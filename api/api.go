// Package api is a reference implementation of the authentication
// authority: the HTTP service the vestio client signs in against. It keeps
// accounts sealed in a storage.Repository and everything short-lived
// (login tickets, second-factor tickets, bearer tokens, email links) in
// memory.
package api

import (
	"context"
	_ "embed"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/vestio/vestio/internal/util"
	"github.com/vestio/vestio/storage"
	"github.com/vestio/vestio/storage/memory"
)

const (
	loginTicketTTL    = 5 * time.Minute
	accessTokenTTL    = time.Hour
	refreshTokenTTL   = 7 * 24 * time.Hour
	verifyTokenTTL    = 24 * time.Hour
	resetTokenTTL     = time.Hour
	otpLength         = 6
	otpResendInterval = 60 * time.Second
	maxCodeAttempts   = 5
	minPasswordLen    = 8
	sweepInterval     = time.Minute

	// DefaultBasePath is where Router expects to be mounted.
	DefaultBasePath = "/api"
)

//go:embed openapi.yaml
var openapiSpec []byte

type loginTicket struct {
	AccountID string
	OTPHash   string
	Attempts  int
	SentAt    time.Time
}

type twoFATicket struct {
	AccountID string
	Attempts  int
}

// grant binds a bearer token to an account. The access and refresh tokens of
// one sign-in share a grant.
type grant struct {
	AccountID    string
	AccessToken  string
	RefreshToken string
}

// API holds the dependencies needed by the REST handlers.
type API struct {
	repo           storage.Repository
	secret         []byte
	accounts       *accountStore
	loginTickets   *expiringStore[loginTicket]
	twoFATickets   *expiringStore[twoFATicket]
	accessTokens   *expiringStore[grant]
	refreshTokens  *expiringStore[grant]
	verifyTokens   *expiringStore[string]
	resetTokens    *expiringStore[string]
	accountLimiter *backoffLimiter
	ipLimiter      *backoffLimiter
	regLimiter     *backoffLimiter
	trustedProxies []netip.Prefix
	mailer         Mailer
	logger         *slog.Logger
	audit          *auditLogger
	alertFn        AlertFunc
	webhookURL     string
	webhookAuth    string
	now            func() time.Time
	basePath       string
	loginTTL       time.Duration
}

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for audit events and internal errors.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// WithRepository sets where account records are kept. Defaults to memory.
func WithRepository(repo storage.Repository) Option {
	return func(a *API) {
		a.repo = repo
	}
}

// WithSecret sets the secret account records are sealed under. Records
// written with one secret cannot be read with another. Defaults to a random
// per-process secret.
func WithSecret(secret []byte) Option {
	return func(a *API) {
		a.secret = util.CopyBytes(secret)
	}
}

// WithMailer sets how one-time codes and links are delivered. Defaults to a
// LogMailer.
func WithMailer(m Mailer) Option {
	return func(a *API) {
		a.mailer = m
	}
}

// WithClock replaces time.Now. Ticket expiry, TOTP windows and lockouts all
// read it.
func WithClock(now func() time.Time) Option {
	return func(a *API) {
		a.now = now
	}
}

// WithLoginTicketTTL overrides how long login and second-factor tickets live.
func WithLoginTicketTTL(d time.Duration) Option {
	return func(a *API) {
		a.loginTTL = d
	}
}

// WithTrustedProxies sets the CIDR ranges whose forwarding headers are
// believed when rate limiting by source address.
func WithTrustedProxies(prefixes []netip.Prefix) Option {
	return func(a *API) {
		a.trustedProxies = prefixes
	}
}

// WithAlertFunc sets the callback for failure spikes across all accounts.
// The default logs a warning.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) {
		a.alertFn = fn
	}
}

// WithAuditWebhook forwards every audit event to url as JSON. authHeader,
// when set, is a "Name: value" header added to each delivery.
func WithAuditWebhook(url, authHeader string) Option {
	return func(a *API) {
		a.webhookURL = url
		a.webhookAuth = authHeader
	}
}

// WithBasePath sets the path Router is mounted under. It only affects the
// links of the documentation pages.
func WithBasePath(p string) Option {
	return func(a *API) {
		a.basePath = p
	}
}

// New creates a new API instance.
func New(opts ...Option) (*API, error) {
	a := &API{
		now:      time.Now,
		basePath: DefaultBasePath,
		loginTTL: loginTicketTTL,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	if a.repo == nil {
		a.repo = memory.NewRepository()
	}
	if len(a.secret) == 0 {
		secret, err := util.RandomBytes(util.AESKeySize)
		if err != nil {
			return nil, err
		}
		a.secret = secret
	}
	if a.mailer == nil {
		a.mailer = NewLogMailer(a.logger)
	}
	if a.alertFn == nil {
		a.alertFn = a.logAlert
	}
	a.audit = newAuditLogger(a.logger, a.now, newMetricsCollector(a.alertFn, a.now))
	if a.webhookURL != "" {
		a.audit.webhook = newAuditWebhook(a.webhookURL, a.webhookAuth, a.logger.With("component", "audit_webhook"))
	}
	a.logger = a.logger.With("component", "api")
	a.accounts = newAccountStore(a.repo, a.secret)
	a.loginTickets = newExpiringStore[loginTicket](a.loginTTL, a.now)
	a.twoFATickets = newExpiringStore[twoFATicket](a.loginTTL, a.now)
	a.accessTokens = newExpiringStore[grant](accessTokenTTL, a.now)
	a.refreshTokens = newExpiringStore[grant](refreshTokenTTL, a.now)
	a.verifyTokens = newExpiringStore[string](verifyTokenTTL, a.now)
	a.resetTokens = newExpiringStore[string](resetTokenTTL, a.now)
	a.accountLimiter = newBackoffLimiter(accountPolicy, a.now)
	a.ipLimiter = newBackoffLimiter(ipPolicy, a.now)
	a.regLimiter = newBackoffLimiter(registrationPolicy, a.now)
	return a, nil
}

func (a *API) logAlert(e AlertEvent) {
	a.logger.Warn("security alert",
		slog.String("type", string(e.Type)),
		slog.String("message", e.Message),
		slog.Int("count", e.Count),
		slog.Int("threshold", e.Threshold))
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(SecurityHeaders)

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: a.basePath + "/openapi.yaml",
		Path:    trimSlash(a.basePath + "/docs"),
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: a.basePath + "/openapi.yaml",
		Path:    trimSlash(a.basePath + "/redoc"),
	}, nil))

	r.Post("/auth/login", a.Login)
	r.Post("/auth/verify-email-otp", a.VerifyEmailOTP)
	r.Post("/auth/resend-otp", a.ResendOTP)
	r.Post("/auth/verify-2fa-login", a.VerifySecondFactorLogin)
	r.Post("/auth/register", a.Register)
	r.Post("/auth/verify-email", a.VerifyEmail)
	r.Post("/auth/forgot-password", a.ForgotPassword)
	r.Post("/auth/reset-password", a.ResetPassword)

	r.Group(func(r chi.Router) {
		r.Use(a.AuthMiddleware)
		r.Post("/auth/resend-verification", a.ResendVerification)
		r.Put("/auth/change-password", a.ChangePassword)
		r.Post("/auth/enable-2fa", a.EnableTwoFactor)
		r.Post("/auth/verify-2fa", a.ConfirmTwoFactor)
		r.Post("/auth/disable-2fa", a.DisableTwoFactor)
		r.Get("/auth/profile", a.Profile)
		r.Post("/logout", a.Logout)
	})

	return r
}

// Run sweeps expired tickets, tokens and lockout records until ctx is done.
func (a *API) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.sweep()
		}
	}
}

// Close flushes queued audit deliveries. The API must not serve requests
// afterwards.
func (a *API) Close() {
	a.audit.webhook.close()
}

func (a *API) sweep() {
	a.loginTickets.sweep()
	a.twoFATickets.sweep()
	a.accessTokens.sweep()
	a.refreshTokens.sweep()
	a.verifyTokens.sweep()
	a.resetTokens.sweep()
	a.accountLimiter.sweep()
	a.ipLimiter.sweep()
	a.regLimiter.sweep()
}

func (a *API) fail(w http.ResponseWriter, err error) {
	writeError(w, a.logger, err)
}

func trimSlash(p string) string {
	return strings.TrimLeft(p, "/")
}
