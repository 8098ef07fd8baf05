package flow

import (
	"context"
	"log/slog"
	"strings"

	"github.com/vestio/vestio/authapi"
	"github.com/vestio/vestio/internal/util"
	"github.com/vestio/vestio/session"
)

// Business types accepted at registration.
const (
	BusinessIndividual = "individual"
	BusinessCompany    = "company"
)

// Registration is the sign-up form.
type Registration struct {
	Email           string
	Password        string
	ConfirmPassword string
	FirstName       string
	LastName        string
	Phone           string
	Role            authapi.Role
	BusinessType    string
	BusinessName    string
}

// NeedsBusinessName reports whether the form must carry a business name.
func (r Registration) NeedsBusinessName() bool {
	switch r.Role {
	case authapi.RoleSeller, authapi.RoleAnchor:
		return true
	case authapi.RoleLender:
		return r.BusinessType == BusinessCompany
	}
	return false
}

// Validate returns the field-level problems with r.
func (r Registration) Validate() []authapi.FieldError {
	var fields []authapi.FieldError
	add := func(field, msg string) {
		fields = append(fields, authapi.FieldError{Field: field, Message: msg})
	}

	email := util.NormalizeEmail(r.Email)
	switch {
	case email == "":
		add("email", "Email is required")
	case !strings.Contains(email, "@"):
		add("email", "Email is invalid")
	}
	switch {
	case r.Password == "":
		add("password", "Password is required")
	case r.Password != r.ConfirmPassword:
		add("confirmPassword", "Passwords do not match")
	}
	if strings.TrimSpace(r.FirstName) == "" {
		add("firstName", "First name is required")
	}
	if strings.TrimSpace(r.LastName) == "" {
		add("lastName", "Last name is required")
	}
	if strings.TrimSpace(r.Phone) == "" {
		add("phone", "Phone is required")
	}

	switch r.Role {
	case authapi.RoleSeller, authapi.RoleAnchor:
		if r.BusinessType != BusinessCompany {
			add("businessType", "Sellers and anchors must register as a company")
		}
	case authapi.RoleLender:
		if r.BusinessType != BusinessCompany && r.BusinessType != BusinessIndividual {
			add("businessType", "Business type must be individual or company")
		}
	default:
		add("role", "Role must be seller, lender or anchor")
	}
	if r.NeedsBusinessName() && strings.TrimSpace(r.BusinessName) == "" {
		add("businessName", "Business name is required")
	}
	return fields
}

func (r Registration) request() authapi.RegisterRequest {
	req := authapi.RegisterRequest{
		Email:        util.NormalizeEmail(r.Email),
		Password:     r.Password,
		FirstName:    strings.TrimSpace(r.FirstName),
		LastName:     strings.TrimSpace(r.LastName),
		Phone:        strings.TrimSpace(r.Phone),
		Role:         r.Role,
		BusinessType: r.BusinessType,
	}
	if r.NeedsBusinessName() {
		req.BusinessName = strings.TrimSpace(r.BusinessName)
	}
	return req
}

// Account groups the operations that sit outside the sign-in sequence:
// registration, email verification, password management and second-factor
// settings.
type Account struct {
	authority    authapi.Authority
	store        *session.Store
	nav          Navigator
	profile      *ProfileSession
	verification *ResendThrottle
	logger       *slog.Logger
}

// NewAccount creates an Account. profile is refreshed after second-factor
// settings change and may be nil.
func NewAccount(authority authapi.Authority, store *session.Store, nav Navigator, profile *ProfileSession, opts ...Option) *Account {
	o := buildOptions("account", opts)
	a := &Account{
		authority: authority,
		store:     store,
		nav:       nav,
		profile:   profile,
		logger:    o.logger,
	}
	a.verification = NewResendThrottle(func(ctx context.Context) (*authapi.Ack, error) {
		token, ok := store.AccessToken()
		if !ok {
			return nil, ErrNotAuthenticated
		}
		return authority.ResendVerification(ctx, token)
	}, opts...)
	return a
}

// Register creates an account, stores its session tokens and navigates to
// the dashboard.
func (a *Account) Register(ctx context.Context, r Registration) (*authapi.RegisterResult, error) {
	if err := validationError(r.Validate()); err != nil {
		return nil, err
	}
	res, err := a.authority.Register(ctx, r.request())
	if err != nil {
		return nil, err
	}
	if err := a.store.SetSessionTokens(res.Tokens()); err != nil {
		return nil, err
	}
	a.logger.Info("account registered", "role", string(res.User.Role))
	a.nav.Navigate(RouteDashboard)
	return res, nil
}

// VerifyEmail confirms the address behind an emailed verification token.
func (a *Account) VerifyEmail(ctx context.Context, token string) (*authapi.Ack, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrMissingToken
	}
	ack, err := a.authority.VerifyEmail(ctx, token)
	if err != nil {
		return nil, err
	}
	if a.profile != nil {
		a.profile.Invalidate()
	}
	return ack, nil
}

// ResendVerification reissues the verification email, rate-limited by the
// same cooldown as email codes. Without session tokens it navigates to the
// login entry point.
func (a *Account) ResendVerification(ctx context.Context) (*authapi.Ack, error) {
	if !a.store.Has(session.SlotSessionTokens) {
		a.nav.Navigate(RouteLogin)
		return nil, ErrNotAuthenticated
	}
	return a.verification.Request(ctx)
}

// VerificationThrottle exposes the resend cooldown for display.
func (a *Account) VerificationThrottle() *ResendThrottle { return a.verification }

// ForgotPassword requests a reset link for email.
func (a *Account) ForgotPassword(ctx context.Context, email string) (*authapi.Ack, error) {
	email = util.NormalizeEmail(email)
	if email == "" {
		return nil, validationError([]authapi.FieldError{{Field: "email", Message: "Email is required"}})
	}
	return a.authority.ForgotPassword(ctx, email)
}

// ResetPassword sets a new password using an emailed reset token. A missing
// token sends the user back to the forgot-password route.
func (a *Account) ResetPassword(ctx context.Context, token, password string) (*authapi.Ack, error) {
	if strings.TrimSpace(token) == "" {
		a.nav.Navigate(RouteForgotPassword)
		return nil, ErrMissingToken
	}
	if password == "" {
		return nil, validationError([]authapi.FieldError{{Field: "password", Message: "Password is required"}})
	}
	return a.authority.ResetPassword(ctx, token, password)
}

// ChangePassword changes the signed-in account's password.
func (a *Account) ChangePassword(ctx context.Context, current, next string) (*authapi.Ack, error) {
	token, ok := a.store.AccessToken()
	if !ok {
		return nil, ErrNotAuthenticated
	}
	if current == "" || next == "" {
		return nil, &authapi.Error{Kind: authapi.KindValidation, Message: "Please fill in both password fields"}
	}
	return a.authority.ChangePassword(ctx, token, current, next)
}

// EnableTwoFactor starts second-factor enrolment and returns the secret,
// QR code and backup codes to show once.
func (a *Account) EnableTwoFactor(ctx context.Context) (*authapi.TwoFactorSetup, error) {
	token, ok := a.store.AccessToken()
	if !ok {
		return nil, ErrNotAuthenticated
	}
	return a.authority.EnableTwoFactor(ctx, token)
}

// ConfirmTwoFactor completes enrolment with an authenticator code, then
// refreshes the profile.
func (a *Account) ConfirmTwoFactor(ctx context.Context, code string) (*authapi.Ack, error) {
	token, ok := a.store.AccessToken()
	if !ok {
		return nil, ErrNotAuthenticated
	}
	if err := ValidateOTP(code); err != nil {
		return nil, err
	}
	ack, err := a.authority.ConfirmTwoFactor(ctx, token, code)
	if err != nil {
		return nil, err
	}
	a.refreshProfile(ctx)
	return ack, nil
}

// DisableTwoFactor turns the second factor off, then refreshes the profile.
func (a *Account) DisableTwoFactor(ctx context.Context, password string) (*authapi.Ack, error) {
	token, ok := a.store.AccessToken()
	if !ok {
		return nil, ErrNotAuthenticated
	}
	if password == "" {
		return nil, validationError([]authapi.FieldError{{Field: "password", Message: "Password is required"}})
	}
	ack, err := a.authority.DisableTwoFactor(ctx, token, password)
	if err != nil {
		return nil, err
	}
	a.refreshProfile(ctx)
	return ack, nil
}

// Close stops the verification cooldown timer.
func (a *Account) Close() { a.verification.Close() }

func (a *Account) refreshProfile(ctx context.Context) {
	if a.profile == nil {
		return
	}
	if _, err := a.profile.Refresh(ctx); err != nil {
		a.logger.Warn("profile refresh failed", "kind", authapi.KindOf(err).String())
	}
}

func validationError(fields []authapi.FieldError) error {
	if len(fields) == 0 {
		return nil
	}
	return &authapi.Error{
		Kind:    authapi.KindValidation,
		Message: authapi.JoinFieldErrors(fields),
		Fields:  fields,
	}
}
