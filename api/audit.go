package api

import (
	"log/slog"
	"net/http"
	"time"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditLoginCredentials    AuditEvent = "login_credentials_accepted"
	AuditLoginFailure        AuditEvent = "login_failure"
	AuditLoginRateLimited    AuditEvent = "login_rate_limited"
	AuditLoginSuspended      AuditEvent = "login_suspended"
	AuditEmailOTPSent        AuditEvent = "email_otp_sent"
	AuditEmailOTPFailure     AuditEvent = "email_otp_failure"
	AuditSecondFactorFailure AuditEvent = "2fa_failure"
	AuditBackupCodeUsed      AuditEvent = "backup_code_used"
	AuditLoginSuccess        AuditEvent = "login_success"
	AuditRegister            AuditEvent = "register"
	AuditRegisterRateLimited AuditEvent = "register_rate_limited"
	AuditEmailVerified       AuditEvent = "email_verified"
	AuditPasswordReset       AuditEvent = "password_reset"
	AuditPasswordChanged     AuditEvent = "password_changed"
	AuditTwoFactorSetup      AuditEvent = "2fa_setup"
	AuditTwoFactorEnabled    AuditEvent = "2fa_enabled"
	AuditTwoFactorDisabled   AuditEvent = "2fa_disabled"
	AuditLogout              AuditEvent = "logout"
)

// auditLogger wraps slog.Logger for structured security audit logging.
type auditLogger struct {
	logger  *slog.Logger
	now     func() time.Time
	metrics *metricsCollector
	webhook *auditWebhook
}

func newAuditLogger(logger *slog.Logger, now func() time.Time, metrics *metricsCollector) *auditLogger {
	return &auditLogger{
		logger:  logger.With("component", "audit"),
		now:     now,
		metrics: metrics,
	}
}

// log writes a structured audit log entry. Accounts are identified by ID,
// never by email or credential.
func (al *auditLogger) log(event AuditEvent, r *http.Request, attrs ...slog.Attr) {
	now := al.now()
	baseAttrs := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("timestamp", now.UTC().Format(time.RFC3339)),
	}
	baseAttrs = append(baseAttrs, attrs...)
	al.logger.LogAttrs(r.Context(), slog.LevelInfo, "audit", baseAttrs...)
	al.metrics.recordEvent(event)
	if al.webhook != nil {
		al.webhook.enqueue(webhookEventFrom(event, r.RemoteAddr, now, attrs))
	}
}

// logEvent is a convenience for events with an account ID.
func (al *auditLogger) logEvent(event AuditEvent, r *http.Request, accountID string, extra ...slog.Attr) {
	attrs := []slog.Attr{slog.String("account_id", accountID)}
	al.log(event, r, append(attrs, extra...)...)
}

// logFailure logs a rejected attempt.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, reason string, extra ...slog.Attr) {
	attrs := []slog.Attr{slog.String("reason", reason)}
	al.log(event, r, append(attrs, extra...)...)
}
