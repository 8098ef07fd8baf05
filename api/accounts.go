package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vestio/vestio/authapi"
	"github.com/vestio/vestio/internal/util"
	"github.com/vestio/vestio/internal/uuid"
	"github.com/vestio/vestio/storage"
)

const (
	accountNamespace  = "__accounts"
	accountRecordType = "ACCOUNT"
	emailIndexType    = "EMAIL"
	accountAADPrefix  = "account:"
	emailAADPrefix    = "email:"
	accountKeyPurpose = "vestio:account_record:v1"
	emailKeyPurpose   = "vestio:email_index:v1"
)

// Account statuses.
const (
	StatusActive    = "active"
	StatusSuspended = "suspended"
)

var (
	errAccountNotFound = errors.New("account not found")

	// ErrEmailTaken is returned by CreateAccount when the address is in use.
	ErrEmailTaken = errors.New("email already registered")
)

type accountRecord struct {
	ID                string             `json:"id"`
	Email             string             `json:"email"`
	Password          util.PasswordHash  `json:"password"`
	FirstName         string             `json:"first_name"`
	LastName          string             `json:"last_name"`
	Phone             string             `json:"phone"`
	Role              authapi.Role       `json:"role"`
	BusinessType      string             `json:"business_type"`
	BusinessName      string             `json:"business_name,omitempty"`
	Status            string             `json:"status"`
	EmailVerified     bool               `json:"email_verified"`
	KYCApproved       bool               `json:"kyc_approved"`
	TOTPEnabled       bool               `json:"totp_enabled,omitempty"`
	TOTPSecret        string             `json:"totp_secret,omitempty"`
	TOTPLastStep      int64              `json:"totp_last_step,omitempty"`
	PendingTOTPSecret string             `json:"pending_totp_secret,omitempty"`
	PendingTOTPExpiry time.Time          `json:"pending_totp_expiry,omitzero"`
	BackupCodes       []hashedBackupCode `json:"backup_codes,omitempty"`
	PendingBackup     []hashedBackupCode `json:"pending_backup_codes,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	LastLogin         time.Time          `json:"last_login,omitzero"`
}

func (r *accountRecord) user() authapi.User {
	return authapi.User{
		UserID:             r.ID,
		Email:              r.Email,
		FirstName:          r.FirstName,
		LastName:           r.LastName,
		Role:               r.Role,
		IsKYCApproved:      r.KYCApproved,
		IsEmailVerified:    r.EmailVerified,
		IsTwoFactorEnabled: r.TOTPEnabled,
	}
}

func (r *accountRecord) profile() *authapi.Profile {
	p := &authapi.Profile{
		UserID:             r.ID,
		Email:              r.Email,
		FirstName:          r.FirstName,
		LastName:           r.LastName,
		Phone:              r.Phone,
		Role:               r.Role,
		BusinessType:       r.BusinessType,
		BusinessName:       r.BusinessName,
		Status:             r.Status,
		IsEmailVerified:    r.EmailVerified,
		IsKYCApproved:      r.KYCApproved,
		IsTwoFactorEnabled: r.TOTPEnabled,
		CreatedAt:          r.CreatedAt.UTC().Format(time.RFC3339),
	}
	if !r.LastLogin.IsZero() {
		p.LastLogin = r.LastLogin.UTC().Format(time.RFC3339)
	}
	return p
}

// accountStore keeps account records sealed in a storage.Repository. Each
// record is encrypted under a key derived from the server secret and the
// account ID; a second sealed index maps email digests to account IDs.
type accountStore struct {
	mu     sync.Mutex
	repo   storage.Repository
	secret []byte
}

func newAccountStore(repo storage.Repository, secret []byte) *accountStore {
	return &accountStore{repo: repo, secret: secret}
}

func emailLookupID(email string) string {
	sum := sha256.Sum256([]byte(util.NormalizeEmail(email)))
	return hex.EncodeToString(sum[:])
}

func (s *accountStore) recordKey(accountID string) ([]byte, error) {
	return util.DeriveKey(s.secret, []byte(accountID), accountKeyPurpose)
}

func (s *accountStore) indexKey() ([]byte, error) {
	return util.DeriveKey(s.secret, []byte(accountNamespace), emailKeyPurpose)
}

// create assigns an ID to rec and stores it. It fails with ErrEmailTaken when
// the email is already indexed.
func (s *accountStore) create(rec *accountRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	lookup := emailLookupID(rec.Email)
	if _, err := s.repo.Get(accountNamespace, emailIndexType, lookup); err == nil {
		return ErrEmailTaken
	} else if !storage.IsMissing(err) {
		return err
	}

	rec.ID = uuid.New()
	accountEnv, err := s.seal(rec)
	if err != nil {
		return err
	}
	ik, err := s.indexKey()
	if err != nil {
		return err
	}
	defer util.WipeBytes(ik)
	indexEnv, err := storage.SealRecord(ik, []byte(rec.ID), []byte(emailAADPrefix+lookup))
	if err != nil {
		return err
	}
	return s.repo.Batch(accountNamespace, func(tx storage.BatchTx) error {
		if err := tx.Put(accountRecordType, rec.ID, accountEnv); err != nil {
			return err
		}
		return tx.Put(emailIndexType, lookup, indexEnv)
	})
}

func (s *accountStore) byEmail(email string) (*accountRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lookup := emailLookupID(email)
	env, err := s.repo.Get(accountNamespace, emailIndexType, lookup)
	if storage.IsMissing(err) {
		return nil, errAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	ik, err := s.indexKey()
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(ik)
	id, err := storage.OpenRecord(ik, env, []byte(emailAADPrefix+lookup))
	if err != nil {
		return nil, fmt.Errorf("opening email index: %w", err)
	}
	return s.loadLocked(string(id))
}

func (s *accountStore) get(id string) (*accountRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(id)
}

// update loads the record, applies fn and stores the result. An error from
// fn aborts the write and is returned as is.
func (s *accountStore) update(id string, fn func(*accountRecord) error) (*accountRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.loadLocked(id)
	if err != nil {
		return nil, err
	}
	if err := fn(rec); err != nil {
		return nil, err
	}
	env, err := s.seal(rec)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Put(accountNamespace, accountRecordType, rec.ID, env); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *accountStore) loadLocked(id string) (*accountRecord, error) {
	env, err := s.repo.Get(accountNamespace, accountRecordType, id)
	if storage.IsMissing(err) {
		return nil, errAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	rk, err := s.recordKey(id)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(rk)
	data, err := storage.OpenRecord(rk, env, []byte(accountAADPrefix+id))
	if err != nil {
		return nil, fmt.Errorf("opening account record: %w", err)
	}
	defer util.WipeBytes(data)
	var rec accountRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decoding account record: %w", err)
	}
	return &rec, nil
}

func (s *accountStore) seal(rec *accountRecord) (*storage.Envelope, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(data)
	rk, err := s.recordKey(rec.ID)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(rk)
	return storage.SealRecord(rk, data, []byte(accountAADPrefix+rec.ID))
}
