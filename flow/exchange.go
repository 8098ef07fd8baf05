package flow

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/awnumar/memguard"

	"github.com/vestio/vestio/authapi"
	"github.com/vestio/vestio/internal/util"
	"github.com/vestio/vestio/session"
)

// CredentialExchange submits email and password and stores the resulting
// login ticket.
type CredentialExchange struct {
	authority authapi.Authority
	store     *session.Store
	logger    *slog.Logger
}

// NewCredentialExchange creates a CredentialExchange.
func NewCredentialExchange(authority authapi.Authority, store *session.Store, opts ...Option) *CredentialExchange {
	o := buildOptions("credential_exchange", opts)
	return &CredentialExchange{authority: authority, store: store, logger: o.logger}
}

// Authenticate exchanges credentials for a login ticket. The password slice
// is moved into locked memory and wiped before the call is made; it is never
// written to any tier. On success the store holds exactly the new ticket.
func (c *CredentialExchange) Authenticate(ctx context.Context, email string, password []byte) (string, error) {
	pw := memguard.NewBufferFromBytes(password)
	defer pw.Destroy()

	email = util.NormalizeEmail(email)
	if err := validationError(credentialFields(email, pw.Size())); err != nil {
		return "", err
	}

	res, err := c.authority.Login(ctx, email, pw.Bytes())
	if err != nil {
		c.logger.Info("credential exchange rejected", "kind", authapi.KindOf(err).String())
		return "", err
	}
	if ctx.Err() != nil {
		return "", ErrStaleResult
	}
	if err := c.store.SetLoginTicketContext(ctx, res.LoginTicket); err != nil {
		if errors.Is(err, session.ErrStaleTicket) {
			return "", ErrStaleResult
		}
		return "", err
	}
	c.logger.Info("login ticket issued", "ticket", util.Fingerprint(res.LoginTicket))
	return res.LoginTicket, nil
}

func credentialFields(email string, passwordLen int) []authapi.FieldError {
	var fields []authapi.FieldError
	switch {
	case email == "":
		fields = append(fields, authapi.FieldError{Field: "email", Message: "Email is required"})
	case !strings.Contains(email, "@"):
		fields = append(fields, authapi.FieldError{Field: "email", Message: "Email is invalid"})
	}
	if passwordLen == 0 {
		fields = append(fields, authapi.FieldError{Field: "password", Message: "Password is required"})
	}
	return fields
}

// isSuspended reports whether err routes to the suspended-account view.
func isSuspended(err error) bool {
	return errors.Is(err, authapi.ErrAccountSuspended)
}
