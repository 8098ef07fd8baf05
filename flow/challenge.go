package flow

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/vestio/vestio/authapi"
	"github.com/vestio/vestio/internal/util"
	"github.com/vestio/vestio/session"
)

// Outcome is the result of a successful email-code verification: either a
// second-factor ticket or the final token pair.
type Outcome struct {
	SecondFactorTicket string
	Tokens             session.Tokens
}

// RequiresSecondFactor reports whether the sequence continues with a second factor.
func (o Outcome) RequiresSecondFactor() bool {
	return o.SecondFactorTicket != ""
}

// ChallengeVerifier verifies the emailed code for a login ticket.
type ChallengeVerifier struct {
	authority authapi.Authority
	store     *session.Store
	logger    *slog.Logger
	inFlight  atomic.Bool
}

// NewChallengeVerifier creates a ChallengeVerifier.
func NewChallengeVerifier(authority authapi.Authority, store *session.Store, opts ...Option) *ChallengeVerifier {
	o := buildOptions("challenge_verifier", opts)
	return &ChallengeVerifier{authority: authority, store: store, logger: o.logger}
}

// VerifyEmailCode submits code for ticket. Nothing is sent unless the store
// currently holds ticket and code is six digits. On success the login ticket
// is replaced by the outcome; if the store moved on while the call was out,
// or ctx was cancelled, the outcome is discarded with ErrStaleResult. An
// expired or invalid ticket is cleared from the store.
func (v *ChallengeVerifier) VerifyEmailCode(ctx context.Context, ticket, code string) (Outcome, error) {
	current, ok := v.store.LoginTicket()
	if !ok || ticket == "" {
		return Outcome{}, ErrNoLoginTicket
	}
	if current != ticket {
		return Outcome{}, ErrStaleResult
	}
	if err := ValidateOTP(code); err != nil {
		return Outcome{}, err
	}
	if !v.inFlight.CompareAndSwap(false, true) {
		return Outcome{}, ErrSubmitInFlight
	}
	defer v.inFlight.Store(false)

	res, err := v.authority.VerifyEmailOTP(ctx, ticket, code)
	if err != nil {
		if ctx.Err() != nil {
			return Outcome{}, ErrStaleResult
		}
		if errors.Is(err, authapi.ErrExpiredOrInvalidTicket) {
			v.dropTicket(ticket)
		}
		v.logger.Info("email code rejected", "kind", authapi.KindOf(err).String())
		return Outcome{}, err
	}
	if ctx.Err() != nil {
		return Outcome{}, ErrStaleResult
	}

	var out Outcome
	if res.SecondFactorTicket != "" {
		out.SecondFactorTicket = res.SecondFactorTicket
		err = v.store.PromoteLoginTicket(ctx, ticket, res.SecondFactorTicket)
	} else {
		out.Tokens = res.Tokens()
		err = v.store.CompleteLoginTicket(ctx, ticket, out.Tokens)
	}
	if errors.Is(err, session.ErrStaleTicket) {
		return Outcome{}, ErrStaleResult
	}
	if err != nil {
		return Outcome{}, err
	}
	v.logger.Info("email code verified", "second_factor", out.RequiresSecondFactor())
	return out, nil
}

// InFlight reports whether a verification is outstanding.
func (v *ChallengeVerifier) InFlight() bool { return v.inFlight.Load() }

func (v *ChallengeVerifier) dropTicket(ticket string) {
	if cur, ok := v.store.LoginTicket(); ok && cur == ticket {
		if err := v.store.ClearSlot(session.SlotLoginTicket); err != nil {
			v.logger.Warn("failed to clear expired login ticket", "error", err)
			return
		}
		v.logger.Info("login ticket expired", "ticket", util.Fingerprint(ticket))
	}
}
