package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/vestio/vestio/authapi"
	"github.com/vestio/vestio/internal/util"
	"github.com/vestio/vestio/session"
)

var (
	errInvalidCredentials = fail(http.StatusUnauthorized, authapi.CodeInvalidCredentials,
		"Invalid email or password")
	errAccountSuspended = fail(http.StatusForbidden, authapi.CodeAccountSuspended,
		"Your account has been suspended. Please contact support.")
	errInvalidOTP = fail(http.StatusUnauthorized, authapi.CodeInvalidCode,
		"Invalid verification code")
	errInvalidTOTP = fail(http.StatusUnauthorized, authapi.CodeInvalidCode,
		"Invalid authentication code")
	errInvalidBackupCode = fail(http.StatusUnauthorized, authapi.CodeInvalidBackupCode,
		"Invalid backup code")
)

// Login handles POST /auth/login. Valid credentials earn a login ticket and
// an emailed one-time code; nothing else is granted yet.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	req, err := decodeJSON[authapi.LoginRequest](r)
	if err != nil {
		a.fail(w, err)
		return
	}
	email := util.NormalizeEmail(req.Email)
	if fields := loginFields(email, req.Password); len(fields) > 0 {
		a.fail(w, invalid(fields...))
		return
	}

	// Check rate limits before any expensive work: IP, then account.
	clientIP := a.extractClientIP(r)
	accountKey := emailLookupID(email)
	if blocked, retryAfter := a.ipLimiter.check(clientIP); blocked {
		a.audit.logFailure(AuditLoginRateLimited, r, "ip rate limited",
			slog.String("client_ip", clientIP))
		writeRateLimited(w, retryAfter, "Too many failed login attempts, please try again later")
		return
	}
	if blocked, retryAfter := a.accountLimiter.check(accountKey); blocked {
		a.audit.logFailure(AuditLoginRateLimited, r, "account rate limited")
		writeRateLimited(w, retryAfter, "Too many failed login attempts, please try again later")
		return
	}

	recordLoginFailure := func(reason string) {
		a.ipLimiter.recordFailure(clientIP)
		a.accountLimiter.recordFailure(accountKey)
		a.audit.logFailure(AuditLoginFailure, r, reason)
	}

	rec, err := a.accounts.byEmail(email)
	if errors.Is(err, errAccountNotFound) {
		recordLoginFailure("account not found")
		a.fail(w, errInvalidCredentials)
		return
	}
	if err != nil {
		a.fail(w, err)
		return
	}
	ok, err := util.VerifyPassword(rec.Password, req.Password)
	if err != nil {
		a.fail(w, err)
		return
	}
	if !ok {
		recordLoginFailure("invalid password")
		a.fail(w, errInvalidCredentials)
		return
	}
	if rec.Status == StatusSuspended {
		a.audit.logEvent(AuditLoginSuspended, r, rec.ID)
		a.fail(w, errAccountSuspended)
		return
	}

	a.ipLimiter.recordSuccess(clientIP)
	a.accountLimiter.recordSuccess(accountKey)

	code, err := util.RandomDigits(otpLength)
	if err != nil {
		a.fail(w, err)
		return
	}
	ticket := a.loginTickets.issue(loginTicket{
		AccountID: rec.ID,
		OTPHash:   hashOTP(code),
		SentAt:    a.now(),
	})
	if err := a.mailer.Send(r.Context(), Message{Kind: MessageLoginOTP, To: rec.Email, Secret: code}); err != nil {
		a.loginTickets.delete(ticket)
		a.fail(w, fmt.Errorf("sending login code: %w", err))
		return
	}

	a.audit.logEvent(AuditLoginCredentials, r, rec.ID)
	const msg = "A verification code has been sent to your email"
	writeOK(w, http.StatusOK, msg, authapi.LoginResult{
		Message:     msg,
		LoginTicket: ticket,
		User:        rec.user(),
	})
}

// VerifyEmailOTP handles POST /auth/verify-email-otp. The ticket is consumed
// by a correct code; too many wrong codes void it.
func (a *API) VerifyEmailOTP(w http.ResponseWriter, r *http.Request) {
	req, err := decodeJSON[authapi.VerifyEmailOTPRequest](r)
	if err != nil {
		a.fail(w, err)
		return
	}
	code := strings.TrimSpace(req.EmailOTP)
	if len(code) != otpLength || !allDigits(code) {
		a.fail(w, invalid(authapi.FieldError{Field: "emailOTP", Message: "Verification code must be 6 digits"}))
		return
	}

	var accountID string
	var matched bool
	found := a.loginTickets.update(req.LoginTicket, func(t *loginTicket) bool {
		accountID = t.AccountID
		if otpMatches(t.OTPHash, code) {
			matched = true
			return false
		}
		t.Attempts++
		return t.Attempts < maxCodeAttempts
	})
	if !found {
		a.fail(w, errTicketExpired)
		return
	}
	if !matched {
		a.audit.logFailure(AuditEmailOTPFailure, r, "invalid code", slog.String("account_id", accountID))
		a.fail(w, errInvalidOTP)
		return
	}

	rec, err := a.accounts.get(accountID)
	if err != nil {
		a.fail(w, err)
		return
	}
	if rec.Status == StatusSuspended {
		a.fail(w, errAccountSuspended)
		return
	}
	if rec.TOTPEnabled {
		ticket := a.twoFATickets.issue(twoFATicket{AccountID: rec.ID})
		writeOK(w, http.StatusOK, "Two-factor authentication required", authapi.OTPResult{
			Requires2FA:        true,
			SecondFactorTicket: ticket,
		})
		return
	}

	tokens, rec, err := a.completeLogin(r, rec.ID)
	if err != nil {
		a.fail(w, err)
		return
	}
	user := rec.user()
	writeOK(w, http.StatusOK, "Login successful", authapi.OTPResult{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		User:         &user,
	})
}

// ResendOTP handles POST /auth/resend-otp. A new code replaces the old one
// and resets the attempt count; requests inside the resend interval are
// refused with 429.
func (a *API) ResendOTP(w http.ResponseWriter, r *http.Request) {
	req, err := decodeJSON[authapi.ResendOTPRequest](r)
	if err != nil {
		a.fail(w, err)
		return
	}
	code, err := util.RandomDigits(otpLength)
	if err != nil {
		a.fail(w, err)
		return
	}

	var accountID string
	wait := otpResendInterval
	found := a.loginTickets.update(req.LoginTicket, func(t *loginTicket) bool {
		accountID = t.AccountID
		now := a.now()
		if wait = otpResendInterval - now.Sub(t.SentAt); wait > 0 {
			return true
		}
		t.OTPHash = hashOTP(code)
		t.Attempts = 0
		t.SentAt = now
		return true
	})
	if !found {
		a.fail(w, errTicketExpired)
		return
	}
	if wait > 0 {
		writeRateLimited(w, wait, "Please wait before requesting a new code")
		return
	}

	rec, err := a.accounts.get(accountID)
	if err != nil {
		a.fail(w, err)
		return
	}
	if err := a.mailer.Send(r.Context(), Message{Kind: MessageLoginOTP, To: rec.Email, Secret: code}); err != nil {
		a.fail(w, fmt.Errorf("sending login code: %w", err))
		return
	}
	a.audit.logEvent(AuditEmailOTPSent, r, rec.ID)
	writeOK(w, http.StatusOK, "A new verification code has been sent to your email", nil)
}

// VerifySecondFactorLogin handles POST /auth/verify-2fa-login. Six digits are
// checked as an authenticator code; nine characters as a single-use backup
// code.
func (a *API) VerifySecondFactorLogin(w http.ResponseWriter, r *http.Request) {
	req, err := decodeJSON[authapi.VerifySecondFactorRequest](r)
	if err != nil {
		a.fail(w, err)
		return
	}
	t, ok := a.twoFATickets.get(req.SecondFactorTicket)
	if !ok {
		a.fail(w, errTicketExpired)
		return
	}

	code := normalizeTOTPCode(req.Code)
	backup := len([]rune(code)) == backupCodeLength
	usedBackup := false
	remaining := 0
	_, err = a.accounts.update(t.AccountID, func(rec *accountRecord) error {
		if backup {
			i, ok := matchBackupCode(rec.BackupCodes, code)
			if !ok {
				return errInvalidBackupCode
			}
			rec.BackupCodes[i].Used = true
			usedBackup = true
			remaining = countUnusedBackupCodes(rec.BackupCodes)
			return nil
		}
		step, ok := verifyTOTPCode(rec.TOTPSecret, code, a.now(), rec.TOTPLastStep)
		if !ok {
			return errInvalidTOTP
		}
		rec.TOTPLastStep = step
		return nil
	})
	var f *failure
	if errors.As(err, &f) {
		a.twoFATickets.update(req.SecondFactorTicket, func(t *twoFATicket) bool {
			t.Attempts++
			return t.Attempts < maxCodeAttempts
		})
		a.audit.logFailure(AuditSecondFactorFailure, r, f.code, slog.String("account_id", t.AccountID))
		a.fail(w, f)
		return
	}
	if err != nil {
		a.fail(w, err)
		return
	}
	if _, ok := a.twoFATickets.take(req.SecondFactorTicket); !ok {
		a.fail(w, errTicketExpired)
		return
	}
	if usedBackup {
		a.audit.logEvent(AuditBackupCodeUsed, r, t.AccountID, slog.Int("remaining", remaining))
	}

	tokens, _, err := a.completeLogin(r, t.AccountID)
	if err != nil {
		a.fail(w, err)
		return
	}
	writeOK(w, http.StatusOK, "Login successful", tokens)
}

// completeLogin stamps the login time and issues a token pair.
func (a *API) completeLogin(r *http.Request, accountID string) (session.Tokens, *accountRecord, error) {
	rec, err := a.accounts.update(accountID, func(rec *accountRecord) error {
		rec.LastLogin = a.now()
		return nil
	})
	if err != nil {
		return session.Tokens{}, nil, err
	}
	tokens := a.issueTokens(accountID)
	a.audit.logEvent(AuditLoginSuccess, r, accountID)
	return tokens, rec, nil
}

func (a *API) issueTokens(accountID string) session.Tokens {
	g := grant{AccountID: accountID}
	g.RefreshToken = a.refreshTokens.issue(g)
	g.AccessToken = a.accessTokens.issue(g)
	// Keep the refresh entry pointing at its access token for revocation.
	a.refreshTokens.update(g.RefreshToken, func(v *grant) bool {
		v.AccessToken = g.AccessToken
		return true
	})
	return session.Tokens{AccessToken: g.AccessToken, RefreshToken: g.RefreshToken}
}

// revokeAccount drops every bearer token issued to accountID.
func (a *API) revokeAccount(accountID string) {
	match := func(g grant) bool { return g.AccountID == accountID }
	a.accessTokens.deleteWhere(match)
	a.refreshTokens.deleteWhere(match)
}

func (a *API) sendMail(ctx context.Context, msg Message) {
	if err := a.mailer.Send(ctx, msg); err != nil {
		a.logger.LogAttrs(ctx, slog.LevelError, "sending email failed",
			slog.String("kind", string(msg.Kind)),
			slog.Any("error", err))
	}
}
