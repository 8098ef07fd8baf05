package authapi

import (
	"errors"
	"net/http"
	"strings"
)

// Kind classifies a failure reported by (or on the way to) the authority.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindInvalidCredentials
	KindAccountSuspended
	KindInvalidCode
	KindInvalidBackupCode
	KindExpiredOrInvalidTicket
	KindInvalidOrExpiredToken
	KindInvalidPassword
	KindUnauthorized
	KindNetwork
	KindServer
)

var kindNames = map[Kind]string{
	KindUnknown:                "unknown",
	KindValidation:             "validation",
	KindInvalidCredentials:     "invalid_credentials",
	KindAccountSuspended:       "account_suspended",
	KindInvalidCode:            "invalid_code",
	KindInvalidBackupCode:      "invalid_backup_code",
	KindExpiredOrInvalidTicket: "expired_or_invalid_ticket",
	KindInvalidOrExpiredToken:  "invalid_or_expired_token",
	KindInvalidPassword:        "invalid_password",
	KindUnauthorized:           "unauthorized",
	KindNetwork:                "network",
	KindServer:                 "server",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unknown"
}

// Wire codes the authority may put in the "code" field of a failure body.
const (
	CodeValidation             = "VALIDATION_FAILED"
	CodeInvalidCredentials     = "INVALID_CREDENTIALS"
	CodeAccountSuspended       = "ACCOUNT_SUSPENDED"
	CodeInvalidCode            = "INVALID_CODE"
	CodeInvalidBackupCode      = "INVALID_BACKUP_CODE"
	CodeExpiredOrInvalidTicket = "EXPIRED_OR_INVALID_TICKET"
	CodeInvalidOrExpiredToken  = "INVALID_OR_EXPIRED_TOKEN"
	CodeInvalidPassword        = "INVALID_PASSWORD"
	CodeUnauthorized           = "UNAUTHORIZED"
)

var codeKinds = map[string]Kind{
	CodeValidation:             KindValidation,
	CodeInvalidCredentials:     KindInvalidCredentials,
	CodeAccountSuspended:       KindAccountSuspended,
	CodeInvalidCode:            KindInvalidCode,
	CodeInvalidBackupCode:      KindInvalidBackupCode,
	CodeExpiredOrInvalidTicket: KindExpiredOrInvalidTicket,
	CodeInvalidOrExpiredToken:  KindInvalidOrExpiredToken,
	CodeInvalidPassword:        KindInvalidPassword,
	CodeUnauthorized:           KindUnauthorized,
}

// CodeFor returns the wire code for k, or "" when k has none.
func CodeFor(k Kind) string {
	for code, kind := range codeKinds {
		if kind == k {
			return code
		}
	}
	return ""
}

// FieldError is one field-level validation message.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is the single error type surfaced by the client. Use errors.Is with
// the Err* sentinels to branch on Kind.
type Error struct {
	Kind    Kind
	Message string
	Fields  []FieldError
	Status  int
	Cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches another *Error by Kind, so the sentinels below compare by class.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Cause == nil
}

// Retryable reports whether repeating the same request may succeed.
func (e *Error) Retryable() bool {
	return e.Kind == KindNetwork || e.Kind == KindServer
}

var (
	ErrValidation             = &Error{Kind: KindValidation}
	ErrInvalidCredentials     = &Error{Kind: KindInvalidCredentials}
	ErrAccountSuspended       = &Error{Kind: KindAccountSuspended}
	ErrInvalidCode            = &Error{Kind: KindInvalidCode}
	ErrInvalidBackupCode      = &Error{Kind: KindInvalidBackupCode}
	ErrExpiredOrInvalidTicket = &Error{Kind: KindExpiredOrInvalidTicket}
	ErrInvalidOrExpiredToken  = &Error{Kind: KindInvalidOrExpiredToken}
	ErrInvalidPassword        = &Error{Kind: KindInvalidPassword}
	ErrUnauthorized           = &Error{Kind: KindUnauthorized}
	ErrNetwork                = &Error{Kind: KindNetwork}
	ErrServer                 = &Error{Kind: KindServer}
)

// KindOf extracts the Kind of err, or KindUnknown for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// JoinFieldErrors renders validation messages as one readable sentence list.
func JoinFieldErrors(fields []FieldError) string {
	msgs := make([]string, 0, len(fields))
	for _, f := range fields {
		if f.Message != "" {
			msgs = append(msgs, f.Message)
		}
	}
	return strings.Join(msgs, ". ")
}

// statusKinds maps HTTP status to a kind when the body carries no code.
// Zero entries fall through to the generic mapping.
type statusKinds struct {
	unauthorized Kind
	forbidden    Kind
	gone         Kind
}

func classify(status int, env *envelope, defaults statusKinds) *Error {
	e := &Error{Status: status, Message: env.failureMessage()}
	fields := env.fieldErrors()

	if k, ok := codeKinds[env.Code]; ok {
		e.Kind = k
	} else if len(fields) > 0 {
		e.Kind = KindValidation
	} else {
		e.Kind = kindForStatus(status, defaults)
	}

	if len(fields) > 0 {
		e.Fields = fields
		if joined := JoinFieldErrors(fields); joined != "" {
			e.Message = joined
		}
	}
	return e
}

func kindForStatus(status int, defaults statusKinds) Kind {
	switch {
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return KindValidation
	case status == http.StatusUnauthorized:
		if defaults.unauthorized != KindUnknown {
			return defaults.unauthorized
		}
		return KindUnauthorized
	case status == http.StatusForbidden:
		if defaults.forbidden != KindUnknown {
			return defaults.forbidden
		}
		return KindUnauthorized
	case status == http.StatusGone:
		if defaults.gone != KindUnknown {
			return defaults.gone
		}
		return KindExpiredOrInvalidTicket
	default:
		// 429 and 5xx alike: transient, retry the same request later.
		return KindServer
	}
}
