// Package session holds the client's identity slots.
//
// A Store owns three mutually exclusive slots: the login ticket and the
// second-factor ticket live in the ephemeral tier (gone when the process
// ends), the session tokens live in the durable tier (survive restart). The
// store, not its callers, enforces that at most one slot is populated: every
// setter clears the other two before writing.
package session

import "errors"

// Slot identifies one of the three identity-holding locations.
type Slot int

const (
	SlotLoginTicket Slot = iota + 1
	SlotSecondFactorTicket
	SlotSessionTokens
)

func (s Slot) String() string {
	switch s {
	case SlotLoginTicket:
		return "login_ticket"
	case SlotSecondFactorTicket:
		return "second_factor_ticket"
	case SlotSessionTokens:
		return "session_tokens"
	default:
		return "unknown"
	}
}

// State is the authentication stage implied by which slot is populated.
type State int

const (
	Unauthenticated State = iota
	AwaitingEmailOTP
	AwaitingSecondFactor
	Authenticated
)

func (s State) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case AwaitingEmailOTP:
		return "awaiting_email_otp"
	case AwaitingSecondFactor:
		return "awaiting_second_factor"
	case Authenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Slot returns the slot that must be populated for s, or zero for Unauthenticated.
func (s State) Slot() Slot {
	switch s {
	case AwaitingEmailOTP:
		return SlotLoginTicket
	case AwaitingSecondFactor:
		return SlotSecondFactorTicket
	case Authenticated:
		return SlotSessionTokens
	default:
		return 0
	}
}

// Tokens is the access/refresh pair of a fully authenticated session.
type Tokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Valid reports whether both halves of the pair are present.
func (t Tokens) Valid() bool {
	return t.AccessToken != "" && t.RefreshToken != ""
}

var (
	// ErrEmptyValue is returned when a setter is given an empty ticket or token.
	ErrEmptyValue = errors.New("session: empty ticket or token")
	// ErrStaleTicket is returned by conditional transitions when the slot no
	// longer holds the ticket the caller started from.
	ErrStaleTicket = errors.New("session: ticket superseded")
)

// Tier-level keys. Session tokens occupy two keys in the durable tier.
const (
	keyLoginTicket        = "login_ticket"
	keySecondFactorTicket = "second_factor_ticket"
	keyAccessToken        = "access_token"
	keyRefreshToken       = "refresh_token"
)
