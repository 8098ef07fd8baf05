package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/vestio/vestio/authapi"
	"github.com/vestio/vestio/internal/util"
)

var (
	errWrongPassword = fail(http.StatusForbidden, authapi.CodeInvalidPassword,
		"Password is incorrect")
	errAlreadyVerified = fail(http.StatusBadRequest, "",
		"Email is already verified")
	errTwoFactorEnabled = fail(http.StatusBadRequest, "",
		"Two-factor authentication is already enabled")
	errTwoFactorDisabled = fail(http.StatusBadRequest, "",
		"Two-factor authentication is not enabled")
	errNoPendingSetup = fail(http.StatusBadRequest, "",
		"Two-factor setup has expired, please start again")
	errInvalidSetupCode = fail(http.StatusForbidden, authapi.CodeInvalidCode,
		"Invalid authentication code")
)

// Register handles POST /auth/register. The new account is signed in at
// once and sent an email verification link.
func (a *API) Register(w http.ResponseWriter, r *http.Request) {
	clientIP := a.extractClientIP(r)
	if blocked, retryAfter := a.regLimiter.check(clientIP); blocked {
		a.audit.logFailure(AuditRegisterRateLimited, r, "ip rate limited",
			slog.String("client_ip", clientIP))
		writeRateLimited(w, retryAfter, "Too many registration attempts, please try again later")
		return
	}

	req, err := decodeJSON[authapi.RegisterRequest](r)
	if err != nil {
		a.fail(w, err)
		return
	}
	req.Email = util.NormalizeEmail(req.Email)
	if fields := registrationFields(req); len(fields) > 0 {
		a.fail(w, invalid(fields...))
		return
	}

	// Every attempt counts: hashing is the expensive part.
	a.regLimiter.recordFailure(clientIP)

	hash, err := util.HashPassword(req.Password)
	if err != nil {
		a.fail(w, err)
		return
	}
	now := a.now()
	rec := &accountRecord{
		Email:        req.Email,
		Password:     hash,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		Phone:        strings.TrimSpace(req.Phone),
		Role:         req.Role,
		BusinessType: req.BusinessType,
		BusinessName: strings.TrimSpace(req.BusinessName),
		Status:       StatusActive,
		CreatedAt:    now,
		LastLogin:    now,
	}
	if err := a.accounts.create(rec); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			a.fail(w, invalid(authapi.FieldError{Field: "email", Message: "An account with this email already exists"}))
			return
		}
		a.fail(w, err)
		return
	}

	a.sendVerification(r, rec)
	tokens := a.issueTokens(rec.ID)
	a.audit.logEvent(AuditRegister, r, rec.ID)
	writeOK(w, http.StatusCreated, "Registration successful", authapi.RegisterResult{
		User:         rec.user(),
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
	})
}

func (a *API) sendVerification(r *http.Request, rec *accountRecord) {
	a.verifyTokens.deleteWhere(func(id string) bool { return id == rec.ID })
	token := a.verifyTokens.issue(rec.ID)
	a.sendMail(r.Context(), Message{Kind: MessageEmailVerification, To: rec.Email, Secret: token})
}

type tokenRequest struct {
	Token string `json:"token"`
}

// VerifyEmail handles POST /auth/verify-email with the token from the
// verification link.
func (a *API) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	req, err := decodeJSON[tokenRequest](r)
	if err != nil {
		a.fail(w, err)
		return
	}
	accountID, ok := a.verifyTokens.take(req.Token)
	if !ok {
		a.fail(w, errTokenExpired)
		return
	}
	if _, err := a.accounts.update(accountID, func(rec *accountRecord) error {
		rec.EmailVerified = true
		return nil
	}); err != nil {
		a.fail(w, err)
		return
	}
	a.audit.logEvent(AuditEmailVerified, r, accountID)
	writeOK(w, http.StatusOK, "Email verified successfully", nil)
}

// ResendVerification handles POST /auth/resend-verification.
func (a *API) ResendVerification(w http.ResponseWriter, r *http.Request) {
	g, _ := grantFromContext(r.Context())
	rec, err := a.accounts.get(g.AccountID)
	if err != nil {
		a.fail(w, err)
		return
	}
	if rec.EmailVerified {
		a.fail(w, errAlreadyVerified)
		return
	}
	a.sendVerification(r, rec)
	writeOK(w, http.StatusOK, "Verification email sent", nil)
}

// ForgotPassword handles POST /auth/forgot-password. The answer is the same
// whether or not the address has an account.
func (a *API) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	req, err := decodeJSON[struct {
		Email string `json:"email"`
	}](r)
	if err != nil {
		a.fail(w, err)
		return
	}
	email := util.NormalizeEmail(req.Email)
	var f fieldErrors
	checkEmail(&f, email)
	if len(f) > 0 {
		a.fail(w, invalid(f...))
		return
	}

	rec, err := a.accounts.byEmail(email)
	switch {
	case err == nil:
		a.resetTokens.deleteWhere(func(id string) bool { return id == rec.ID })
		token := a.resetTokens.issue(rec.ID)
		a.sendMail(r.Context(), Message{Kind: MessagePasswordReset, To: rec.Email, Secret: token})
	case !errors.Is(err, errAccountNotFound):
		a.fail(w, err)
		return
	}
	writeOK(w, http.StatusOK, "If an account exists for that email, a reset link has been sent", nil)
}

// ResetPassword handles POST /auth/reset-password. All existing sessions of
// the account are revoked.
func (a *API) ResetPassword(w http.ResponseWriter, r *http.Request) {
	req, err := decodeJSON[struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}](r)
	if err != nil {
		a.fail(w, err)
		return
	}
	var f fieldErrors
	checkNewPassword(&f, "password", req.Password)
	if len(f) > 0 {
		a.fail(w, invalid(f...))
		return
	}
	accountID, ok := a.resetTokens.take(req.Token)
	if !ok {
		a.fail(w, errTokenExpired)
		return
	}
	hash, err := util.HashPassword(req.Password)
	if err != nil {
		a.fail(w, err)
		return
	}
	if _, err := a.accounts.update(accountID, func(rec *accountRecord) error {
		rec.Password = hash
		return nil
	}); err != nil {
		a.fail(w, err)
		return
	}
	a.revokeAccount(accountID)
	a.audit.logEvent(AuditPasswordReset, r, accountID)
	writeOK(w, http.StatusOK, "Password has been reset, please log in", nil)
}

// ChangePassword handles PUT /auth/change-password.
func (a *API) ChangePassword(w http.ResponseWriter, r *http.Request) {
	g, _ := grantFromContext(r.Context())
	req, err := decodeJSON[struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}](r)
	if err != nil {
		a.fail(w, err)
		return
	}
	var f fieldErrors
	if req.CurrentPassword == "" {
		f.add("currentPassword", "Current password is required")
	}
	checkNewPassword(&f, "newPassword", req.NewPassword)
	if len(f) > 0 {
		a.fail(w, invalid(f...))
		return
	}
	hash, err := util.HashPassword(req.NewPassword)
	if err != nil {
		a.fail(w, err)
		return
	}
	_, err = a.accounts.update(g.AccountID, func(rec *accountRecord) error {
		if err := a.checkPassword(rec, req.CurrentPassword); err != nil {
			return err
		}
		rec.Password = hash
		return nil
	})
	if err != nil {
		a.fail(w, err)
		return
	}
	a.audit.logEvent(AuditPasswordChanged, r, g.AccountID)
	writeOK(w, http.StatusOK, "Password changed successfully", nil)
}

func (a *API) checkPassword(rec *accountRecord, password string) error {
	ok, err := util.VerifyPassword(rec.Password, password)
	if err != nil {
		return err
	}
	if !ok {
		return errWrongPassword
	}
	return nil
}

// EnableTwoFactor handles POST /auth/enable-2fa. The secret and backup codes
// stay pending until ConfirmTwoFactor proves the authenticator is set up.
func (a *API) EnableTwoFactor(w http.ResponseWriter, r *http.Request) {
	g, _ := grantFromContext(r.Context())
	secret, err := generateTOTPSecret()
	if err != nil {
		a.fail(w, err)
		return
	}
	codes, hashed, err := generateBackupCodes(backupCodeCount)
	if err != nil {
		a.fail(w, err)
		return
	}
	rec, err := a.accounts.update(g.AccountID, func(rec *accountRecord) error {
		if rec.TOTPEnabled {
			return errTwoFactorEnabled
		}
		rec.PendingTOTPSecret = secret
		rec.PendingTOTPExpiry = a.now().Add(totpSetupTTL)
		rec.PendingBackup = hashed
		return nil
	})
	if err != nil {
		a.fail(w, err)
		return
	}
	qr, err := qrCodeDataURL(otpAuthURL(secret, rec.Email))
	if err != nil {
		a.fail(w, err)
		return
	}
	a.audit.logEvent(AuditTwoFactorSetup, r, g.AccountID)
	writeOK(w, http.StatusOK, "Scan the QR code with your authenticator app", authapi.TwoFactorSetup{
		Secret:        secret,
		QRCodeDataURL: qr,
		BackupCodes:   codes,
	})
}

// ConfirmTwoFactor handles POST /auth/verify-2fa.
func (a *API) ConfirmTwoFactor(w http.ResponseWriter, r *http.Request) {
	g, _ := grantFromContext(r.Context())
	req, err := decodeJSON[tokenRequest](r)
	if err != nil {
		a.fail(w, err)
		return
	}
	_, err = a.accounts.update(g.AccountID, func(rec *accountRecord) error {
		now := a.now()
		if rec.TOTPEnabled {
			return errTwoFactorEnabled
		}
		if rec.PendingTOTPSecret == "" || now.After(rec.PendingTOTPExpiry) {
			return errNoPendingSetup
		}
		step, ok := verifyTOTPCode(rec.PendingTOTPSecret, req.Token, now, 0)
		if !ok {
			return errInvalidSetupCode
		}
		rec.TOTPEnabled = true
		rec.TOTPSecret = rec.PendingTOTPSecret
		rec.TOTPLastStep = step
		rec.BackupCodes = rec.PendingBackup
		rec.PendingTOTPSecret = ""
		rec.PendingTOTPExpiry = time.Time{}
		rec.PendingBackup = nil
		return nil
	})
	if err != nil {
		a.fail(w, err)
		return
	}
	a.audit.logEvent(AuditTwoFactorEnabled, r, g.AccountID)
	writeOK(w, http.StatusOK, "Two-factor authentication enabled", nil)
}

// DisableTwoFactor handles POST /auth/disable-2fa. The account password is
// required.
func (a *API) DisableTwoFactor(w http.ResponseWriter, r *http.Request) {
	g, _ := grantFromContext(r.Context())
	req, err := decodeJSON[struct {
		Password string `json:"password"`
	}](r)
	if err != nil {
		a.fail(w, err)
		return
	}
	if req.Password == "" {
		a.fail(w, invalid(authapi.FieldError{Field: "password", Message: "Password is required"}))
		return
	}
	_, err = a.accounts.update(g.AccountID, func(rec *accountRecord) error {
		if !rec.TOTPEnabled {
			return errTwoFactorDisabled
		}
		if err := a.checkPassword(rec, req.Password); err != nil {
			return err
		}
		rec.TOTPEnabled = false
		rec.TOTPSecret = ""
		rec.TOTPLastStep = 0
		rec.BackupCodes = nil
		return nil
	})
	if err != nil {
		a.fail(w, err)
		return
	}
	a.audit.logEvent(AuditTwoFactorDisabled, r, g.AccountID)
	writeOK(w, http.StatusOK, "Two-factor authentication disabled", nil)
}

// Profile handles GET /auth/profile.
func (a *API) Profile(w http.ResponseWriter, r *http.Request) {
	g, _ := grantFromContext(r.Context())
	rec, err := a.accounts.get(g.AccountID)
	if errors.Is(err, errAccountNotFound) {
		a.fail(w, errUnauthorized)
		return
	}
	if err != nil {
		a.fail(w, err)
		return
	}
	writeOK(w, http.StatusOK, "", rec.profile())
}

// Logout handles POST /logout. It revokes the presented access token and its
// refresh token.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	g, _ := grantFromContext(r.Context())
	a.accessTokens.delete(g.AccessToken)
	a.refreshTokens.delete(g.RefreshToken)
	a.audit.logEvent(AuditLogout, r, g.AccountID)
	writeOK(w, http.StatusOK, "Logged out successfully", nil)
}
