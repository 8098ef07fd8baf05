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

// SecondFactorVerifier finishes sign-in with an authenticator or backup code.
type SecondFactorVerifier struct {
	authority authapi.Authority
	store     *session.Store
	logger    *slog.Logger
	inFlight  atomic.Bool
}

// NewSecondFactorVerifier creates a SecondFactorVerifier.
func NewSecondFactorVerifier(authority authapi.Authority, store *session.Store, opts ...Option) *SecondFactorVerifier {
	o := buildOptions("second_factor_verifier", opts)
	return &SecondFactorVerifier{authority: authority, store: store, logger: o.logger}
}

// VerifySecondFactor submits code in the given mode for ticket and, on
// success, replaces the ticket with session tokens. Preconditions and stale
// handling mirror ChallengeVerifier.VerifyEmailCode. A rejected code in
// backup mode is reported as an invalid backup code.
func (v *SecondFactorVerifier) VerifySecondFactor(ctx context.Context, ticket string, mode SecondFactorMode, code string) (session.Tokens, error) {
	current, ok := v.store.SecondFactorTicket()
	if !ok || ticket == "" {
		return session.Tokens{}, ErrNoSecondFactorTicket
	}
	if current != ticket {
		return session.Tokens{}, ErrStaleResult
	}
	if err := mode.Validate(code); err != nil {
		return session.Tokens{}, err
	}
	if !v.inFlight.CompareAndSwap(false, true) {
		return session.Tokens{}, ErrSubmitInFlight
	}
	defer v.inFlight.Store(false)

	tokens, err := v.authority.VerifySecondFactor(ctx, ticket, code)
	if err != nil {
		if ctx.Err() != nil {
			return session.Tokens{}, ErrStaleResult
		}
		err = backupCodeError(mode, err)
		if errors.Is(err, authapi.ErrExpiredOrInvalidTicket) {
			v.dropTicket(ticket)
		}
		v.logger.Info("second factor rejected", "mode", mode.String(), "kind", authapi.KindOf(err).String())
		return session.Tokens{}, err
	}
	if ctx.Err() != nil {
		return session.Tokens{}, ErrStaleResult
	}

	if err := v.store.CompleteSecondFactor(ctx, ticket, tokens); err != nil {
		if errors.Is(err, session.ErrStaleTicket) {
			return session.Tokens{}, ErrStaleResult
		}
		return session.Tokens{}, err
	}
	v.logger.Info("second factor verified", "mode", mode.String())
	return tokens, nil
}

// InFlight reports whether a verification is outstanding.
func (v *SecondFactorVerifier) InFlight() bool { return v.inFlight.Load() }

func (v *SecondFactorVerifier) dropTicket(ticket string) {
	if cur, ok := v.store.SecondFactorTicket(); ok && cur == ticket {
		if err := v.store.ClearSlot(session.SlotSecondFactorTicket); err != nil {
			v.logger.Warn("failed to clear expired second-factor ticket", "error", err)
			return
		}
		v.logger.Info("second-factor ticket expired", "ticket", util.Fingerprint(ticket))
	}
}

func backupCodeError(mode SecondFactorMode, err error) error {
	if mode != ModeBackupCode || !errors.Is(err, authapi.ErrInvalidCode) {
		return err
	}
	var apiErr *authapi.Error
	errors.As(err, &apiErr)
	return &authapi.Error{
		Kind:    authapi.KindInvalidBackupCode,
		Message: apiErr.Message,
		Status:  apiErr.Status,
		Cause:   apiErr.Cause,
	}
}
