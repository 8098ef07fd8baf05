package flow

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/awnumar/memguard"

	"github.com/vestio/vestio/authapi"
	"github.com/vestio/vestio/internal/util"
	"github.com/vestio/vestio/session"
)

// LoginView is the credential entry screen.
type LoginView struct {
	exchange *CredentialExchange
	guard    *Guard
	logger   *slog.Logger

	mu       sync.Mutex
	email    string
	password *memguard.Enclave
	inFlight bool
	message  string
	fields   []authapi.FieldError
}

// NewLoginView creates the login screen. It has no slot prerequisite.
func NewLoginView(authority authapi.Authority, store *session.Store, nav Navigator, opts ...Option) *LoginView {
	o := buildOptions("login_view", opts)
	return &LoginView{
		exchange: NewCredentialExchange(authority, store, opts...),
		guard:    NewGuard(store, nav, 0, opts...),
		logger:   o.logger,
	}
}

// Mount activates the view.
func (v *LoginView) Mount() bool { return v.guard.Activate() }

// SetEmail updates the email field.
func (v *LoginView) SetEmail(email string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.email = email
}

// Email returns the email field.
func (v *LoginView) Email() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.email
}

// SetPassword seals password into an encrypted enclave and wipes the slice.
func (v *LoginView) SetPassword(password []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.password = memguard.NewEnclave(password)
}

// HasPassword reports whether the password field is filled.
func (v *LoginView) HasPassword() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.password != nil
}

// CanSubmit reports whether the submit control is enabled.
func (v *LoginView) CanSubmit() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.guard.Active() && !v.inFlight && v.email != "" && v.password != nil
}

// Message returns the inline error message, if any.
func (v *LoginView) Message() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.message
}

// FieldErrors returns the field-level messages of the last validation failure.
func (v *LoginView) FieldErrors() []authapi.FieldError {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]authapi.FieldError(nil), v.fields...)
}

// Submit exchanges the entered credentials. The password field is cleared
// whatever the outcome; the email is kept. A suspended account hands off to
// the suspended-account route instead of showing an inline error.
func (v *LoginView) Submit(ctx context.Context) error {
	v.mu.Lock()
	if !v.guard.Active() {
		v.mu.Unlock()
		return ErrClosed
	}
	if v.inFlight {
		v.mu.Unlock()
		return ErrSubmitInFlight
	}
	v.inFlight = true
	email := v.email
	sealed := v.password
	v.password = nil
	v.message, v.fields = "", nil
	v.mu.Unlock()

	password, err := openPassword(sealed)
	if err != nil {
		v.finish(err)
		return err
	}

	ctx, cancel := v.guard.Bind(ctx)
	defer cancel()
	_, err = v.exchange.Authenticate(ctx, email, password)
	if v.guard.Terminated() {
		v.finish(nil)
		return ErrStaleResult
	}
	if err != nil {
		if isSuspended(err) {
			v.finish(nil)
			v.guard.Handoff(RouteAccountSuspended)
			return err
		}
		v.finish(err)
		return err
	}
	v.finish(nil)
	if !v.guard.Handoff(RouteEmailOTP) {
		return ErrStaleResult
	}
	return nil
}

// Close ends the view without navigating.
func (v *LoginView) Close() { v.guard.Close() }

// Guard exposes the view's guard.
func (v *LoginView) Guard() *Guard { return v.guard }

func (v *LoginView) finish(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.inFlight = false
	if err != nil {
		v.message = messageFor(err)
		var apiErr *authapi.Error
		if errors.As(err, &apiErr) {
			v.fields = apiErr.Fields
		}
	}
}

// openPassword copies the enclave contents into a plain slice the exchange
// will wipe. A nil enclave yields an empty password.
func openPassword(sealed *memguard.Enclave) ([]byte, error) {
	if sealed == nil {
		return nil, nil
	}
	buf, err := sealed.Open()
	if err != nil {
		return nil, err
	}
	defer buf.Destroy()
	return util.CopyBytes(buf.Bytes()), nil
}

// EmailOTPView is the emailed-code screen. It requires a login ticket.
type EmailOTPView struct {
	store    *session.Store
	guard    *Guard
	verifier *ChallengeVerifier
	throttle *ResendThrottle
	clock    Clock
	logger   *slog.Logger
	code     *CodeInput

	mu        sync.Mutex
	countdown *Countdown
	message   string
}

// NewEmailOTPView creates the email-code screen.
func NewEmailOTPView(authority authapi.Authority, store *session.Store, nav Navigator, opts ...Option) *EmailOTPView {
	o := buildOptions("email_otp_view", opts)
	v := &EmailOTPView{
		store:    store,
		guard:    NewGuard(store, nav, session.SlotLoginTicket, opts...),
		verifier: NewChallengeVerifier(authority, store, opts...),
		clock:    o.clock,
		logger:   o.logger,
		code:     NewCodeInput(OTPLength),
	}
	v.throttle = NewResendThrottle(func(ctx context.Context) (*authapi.Ack, error) {
		ticket, ok := store.LoginTicket()
		if !ok {
			return nil, ErrNoLoginTicket
		}
		return authority.ResendEmailOTP(ctx, ticket)
	}, opts...)
	return v
}

// Mount runs the guard and, when allowed, starts the advisory countdown.
func (v *EmailOTPView) Mount() bool {
	if !v.guard.Activate() {
		return false
	}
	v.mu.Lock()
	if v.countdown == nil {
		v.countdown = StartCountdown(v.clock, OTPValiditySeconds, nil)
	}
	v.mu.Unlock()
	return true
}

// Code returns the six-cell input. It is owned by the caller's UI loop.
func (v *EmailOTPView) Code() *CodeInput { return v.code }

// Remaining returns the seconds left on the advisory countdown. Reaching zero
// does not expire anything; the authority decides that.
func (v *EmailOTPView) Remaining() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.countdown == nil {
		return 0
	}
	return v.countdown.Remaining()
}

// Throttle returns the view's resend throttle.
func (v *EmailOTPView) Throttle() *ResendThrottle { return v.throttle }

// CanSubmit reports whether the verify control is enabled.
func (v *EmailOTPView) CanSubmit() bool {
	return v.guard.Active() && v.code.Complete() && !v.verifier.InFlight()
}

// Message returns the inline error message, if any.
func (v *EmailOTPView) Message() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.message
}

// Submit verifies the entered code against the held login ticket and hands
// off to the second-factor stage or the dashboard. An expired ticket forces a
// redirect to the login entry point.
func (v *EmailOTPView) Submit(ctx context.Context) (Outcome, error) {
	if !v.guard.Active() {
		return Outcome{}, ErrClosed
	}
	ticket, ok := v.store.LoginTicket()
	if !ok {
		v.redirect()
		return Outcome{}, ErrNoLoginTicket
	}
	v.setMessage("")

	ctx, cancel := v.guard.Bind(ctx)
	defer cancel()
	out, err := v.verifier.VerifyEmailCode(ctx, ticket, v.code.Value())
	switch {
	case err == nil:
	case errors.Is(err, ErrStaleResult):
		return Outcome{}, err
	case errors.Is(err, authapi.ErrExpiredOrInvalidTicket), errors.Is(err, ErrNoLoginTicket):
		v.redirect()
		return Outcome{}, err
	default:
		v.setMessage(messageFor(err))
		return Outcome{}, err
	}

	next := RouteDashboard
	if out.RequiresSecondFactor() {
		next = RouteSecondFactor
	}
	handed := v.guard.Handoff(next)
	v.teardown()
	if !handed {
		return Outcome{}, ErrStaleResult
	}
	return out, nil
}

// Resend reissues the email code through the throttle.
func (v *EmailOTPView) Resend(ctx context.Context) (*authapi.Ack, error) {
	if !v.guard.Active() {
		return nil, ErrClosed
	}
	ctx, cancel := v.guard.Bind(ctx)
	defer cancel()
	ack, err := v.throttle.Request(ctx)
	switch {
	case err == nil:
		return ack, nil
	case errors.Is(err, authapi.ErrExpiredOrInvalidTicket), errors.Is(err, ErrNoLoginTicket):
		if cur, ok := v.store.LoginTicket(); ok {
			if cerr := v.store.ClearSlot(session.SlotLoginTicket); cerr != nil {
				v.logger.Warn("failed to clear login ticket", "ticket", util.Fingerprint(cur), "error", cerr)
			}
		}
		v.redirect()
	case errors.Is(err, ErrCooldownActive), errors.Is(err, ErrSubmitInFlight), errors.Is(err, ErrClosed):
	default:
		v.setMessage(messageFor(err))
	}
	return nil, err
}

// Close stops the view's timers and ends the activation.
func (v *EmailOTPView) Close() {
	v.guard.Close()
	v.teardown()
}

// Guard exposes the view's guard.
func (v *EmailOTPView) Guard() *Guard { return v.guard }

func (v *EmailOTPView) redirect() {
	v.guard.Redirect(RouteLogin)
	v.teardown()
}

func (v *EmailOTPView) teardown() {
	v.mu.Lock()
	cd := v.countdown
	v.mu.Unlock()
	if cd != nil {
		cd.Stop()
	}
	v.throttle.Close()
}

func (v *EmailOTPView) setMessage(m string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.message = m
}

// SecondFactorView is the second-factor screen. It requires a second-factor
// ticket and toggles between authenticator and backup codes.
type SecondFactorView struct {
	store    *session.Store
	guard    *Guard
	verifier *SecondFactorVerifier

	mu      sync.Mutex
	mode    SecondFactorMode
	code    string
	message string
}

// NewSecondFactorView creates the second-factor screen.
func NewSecondFactorView(authority authapi.Authority, store *session.Store, nav Navigator, opts ...Option) *SecondFactorView {
	return &SecondFactorView{
		store:    store,
		guard:    NewGuard(store, nav, session.SlotSecondFactorTicket, opts...),
		verifier: NewSecondFactorVerifier(authority, store, opts...),
	}
}

// Mount runs the guard. No request is made when it redirects.
func (v *SecondFactorView) Mount() bool { return v.guard.Activate() }

// Mode returns the active input mode.
func (v *SecondFactorView) Mode() SecondFactorMode {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mode
}

// SetMode switches the input mode and clears the entered code.
func (v *SecondFactorView) SetMode(m SecondFactorMode) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.mode != m {
		v.mode = m
		v.code = ""
	}
}

// ToggleMode flips between authenticator and backup codes.
func (v *SecondFactorView) ToggleMode() SecondFactorMode {
	next := ModeBackupCode
	if v.Mode() == ModeBackupCode {
		next = ModeAuthenticator
	}
	v.SetMode(next)
	return next
}

// SetCode stores raw input filtered for the active mode.
func (v *SecondFactorView) SetCode(raw string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.code = v.mode.Sanitize(raw)
}

// Code returns the entered code.
func (v *SecondFactorView) Code() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.code
}

// CanSubmit reports whether the code length matches the mode and nothing is
// in flight.
func (v *SecondFactorView) CanSubmit() bool {
	v.mu.Lock()
	ok := v.mode.Validate(v.code) == nil
	v.mu.Unlock()
	return ok && v.guard.Active() && !v.verifier.InFlight()
}

// Message returns the inline error message, if any.
func (v *SecondFactorView) Message() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.message
}

// Submit verifies the entered code and hands off to the dashboard.
func (v *SecondFactorView) Submit(ctx context.Context) (session.Tokens, error) {
	if !v.guard.Active() {
		return session.Tokens{}, ErrClosed
	}
	ticket, ok := v.store.SecondFactorTicket()
	if !ok {
		v.guard.Redirect(RouteLogin)
		return session.Tokens{}, ErrNoSecondFactorTicket
	}
	v.mu.Lock()
	mode, code := v.mode, v.code
	v.message = ""
	v.mu.Unlock()

	ctx, cancel := v.guard.Bind(ctx)
	defer cancel()
	tokens, err := v.verifier.VerifySecondFactor(ctx, ticket, mode, code)
	switch {
	case err == nil:
		if !v.guard.Handoff(RouteDashboard) {
			return session.Tokens{}, ErrStaleResult
		}
		return tokens, nil
	case errors.Is(err, ErrStaleResult):
	case errors.Is(err, authapi.ErrExpiredOrInvalidTicket), errors.Is(err, ErrNoSecondFactorTicket):
		v.guard.Redirect(RouteLogin)
	default:
		v.mu.Lock()
		v.message = messageFor(err)
		v.mu.Unlock()
	}
	return session.Tokens{}, err
}

// Close ends the activation.
func (v *SecondFactorView) Close() { v.guard.Close() }

// Guard exposes the view's guard.
func (v *SecondFactorView) Guard() *Guard { return v.guard }

// messageFor renders err for inline display.
func messageFor(err error) string {
	var apiErr *authapi.Error
	switch {
	case errors.As(err, &apiErr):
		return apiErr.Error()
	case errors.Is(err, ErrInvalidCodeFormat):
		return "Enter the complete code"
	case errors.Is(err, ErrSubmitInFlight):
		return "Please wait for the current request to finish"
	case errors.Is(err, ErrCooldownActive):
		return "Please wait before requesting another code"
	default:
		return "Something went wrong, please try again"
	}
}
