package api

import (
	"fmt"
	"strings"

	"github.com/vestio/vestio/authapi"
	"github.com/vestio/vestio/internal/util"
)

// AccountSeed describes an account created out of band, for example by an
// operator preparing a demo environment.
type AccountSeed struct {
	authapi.RegisterRequest
	Status        string
	EmailVerified bool
	KYCApproved   bool
}

// CreateAccount adds an account without going through registration and
// returns its ID. Field rules are the same as for registration.
func (a *API) CreateAccount(seed AccountSeed) (string, error) {
	req := seed.RegisterRequest
	req.Email = util.NormalizeEmail(req.Email)
	if fields := registrationFields(req); len(fields) > 0 {
		return "", fmt.Errorf("invalid account: %s", authapi.JoinFieldErrors(fields))
	}
	status := seed.Status
	if status == "" {
		status = StatusActive
	}
	if status != StatusActive && status != StatusSuspended {
		return "", fmt.Errorf("invalid account status %q", status)
	}
	hash, err := util.HashPassword(req.Password)
	if err != nil {
		return "", err
	}
	rec := &accountRecord{
		Email:         req.Email,
		Password:      hash,
		FirstName:     strings.TrimSpace(req.FirstName),
		LastName:      strings.TrimSpace(req.LastName),
		Phone:         strings.TrimSpace(req.Phone),
		Role:          req.Role,
		BusinessType:  req.BusinessType,
		BusinessName:  strings.TrimSpace(req.BusinessName),
		Status:        status,
		EmailVerified: seed.EmailVerified,
		KYCApproved:   seed.KYCApproved,
		CreatedAt:     a.now(),
	}
	if err := a.accounts.create(rec); err != nil {
		return "", err
	}
	return rec.ID, nil
}

// SetAccountStatus suspends or reactivates an account. Suspending revokes its
// bearer tokens.
func (a *API) SetAccountStatus(accountID, status string) error {
	if status != StatusActive && status != StatusSuspended {
		return fmt.Errorf("invalid account status %q", status)
	}
	if _, err := a.accounts.update(accountID, func(rec *accountRecord) error {
		rec.Status = status
		return nil
	}); err != nil {
		return err
	}
	if status == StatusSuspended {
		a.revokeAccount(accountID)
	}
	return nil
}
