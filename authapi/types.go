package authapi

import (
	"encoding/json"

	"github.com/vestio/vestio/session"
)

// Role is the marketplace role an account registered with.
type Role string

const (
	RoleSeller Role = "seller"
	RoleLender Role = "lender"
	RoleAnchor Role = "anchor"
)

// User is the account summary returned alongside login-stage responses.
type User struct {
	UserID             string `json:"userId"`
	Email              string `json:"email"`
	FirstName          string `json:"firstName"`
	LastName           string `json:"lastName"`
	Role               Role   `json:"role"`
	IsKYCApproved      bool   `json:"isKYCApproved"`
	IsEmailVerified    bool   `json:"isEmailVerified"`
	IsTwoFactorEnabled bool   `json:"isTwoFactorEnabled"`
}

// Profile is the full account record keyed by an access token.
type Profile struct {
	UserID             string `json:"userId"`
	Email              string `json:"email"`
	FirstName          string `json:"firstName"`
	LastName           string `json:"lastName"`
	Phone              string `json:"phone"`
	Role               Role   `json:"role"`
	BusinessType       string `json:"businessType"`
	BusinessName       string `json:"businessName"`
	Status             string `json:"status"`
	IsEmailVerified    bool   `json:"isEmailVerified"`
	IsKYCApproved      bool   `json:"isKYCApproved"`
	IsTwoFactorEnabled bool   `json:"isTwoFactorEnabled"`
	LastLogin          string `json:"lastLogin"`
	CreatedAt          string `json:"createdAt"`
}

// FullName joins first and last name.
func (p *Profile) FullName() string {
	switch {
	case p.FirstName == "":
		return p.LastName
	case p.LastName == "":
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResult is the data of a successful credential exchange.
type LoginResult struct {
	Message     string `json:"message"`
	LoginTicket string `json:"loginToken"`
	User        User   `json:"user"`
}

// VerifyEmailOTPRequest is the body of POST /auth/verify-email-otp.
type VerifyEmailOTPRequest struct {
	LoginTicket string `json:"loginToken"`
	EmailOTP    string `json:"emailOTP"`
}

// OTPResult is the data of a successful email-code verification: either a
// second-factor ticket or the final token pair.
type OTPResult struct {
	Requires2FA        bool   `json:"requires2FA"`
	SecondFactorTicket string `json:"twoFAToken,omitempty"`
	AccessToken        string `json:"accessToken,omitempty"`
	RefreshToken       string `json:"refreshToken,omitempty"`
	User               *User  `json:"user,omitempty"`
}

// Tokens returns the token pair carried by r.
func (r *OTPResult) Tokens() session.Tokens {
	return session.Tokens{AccessToken: r.AccessToken, RefreshToken: r.RefreshToken}
}

// ResendOTPRequest is the body of POST /auth/resend-otp.
type ResendOTPRequest struct {
	LoginTicket string `json:"loginToken"`
}

// VerifySecondFactorRequest is the body of POST /auth/verify-2fa-login.
type VerifySecondFactorRequest struct {
	SecondFactorTicket string `json:"twoFAToken"`
	Code               string `json:"twoFACode"`
}

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Email        string `json:"email"`
	Password     string `json:"password"`
	FirstName    string `json:"firstName"`
	LastName     string `json:"lastName"`
	Phone        string `json:"phone"`
	Role         Role   `json:"role"`
	BusinessType string `json:"businessType"`
	BusinessName string `json:"businessName,omitempty"`
}

// RegisterResult is the data of a successful registration.
type RegisterResult struct {
	User         User   `json:"user"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Tokens returns the token pair carried by r.
func (r *RegisterResult) Tokens() session.Tokens {
	return session.Tokens{AccessToken: r.AccessToken, RefreshToken: r.RefreshToken}
}

// TwoFactorSetup is returned when enabling a second factor.
type TwoFactorSetup struct {
	Secret        string   `json:"twoFASecret"`
	QRCodeDataURL string   `json:"qrCodeDataUrl"`
	BackupCodes   []string `json:"backupCodes"`
}

// Ack is the payload-less success of an operation; Message is the
// authority's human-readable confirmation.
type Ack struct {
	Message string
}

// envelope is the common response body.
type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
	Code    string          `json:"code,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type validationData struct {
	Errors []FieldError `json:"errors"`
}

func (e *envelope) fieldErrors() []FieldError {
	if len(e.Data) == 0 {
		return nil
	}
	var v validationData
	if err := json.Unmarshal(e.Data, &v); err != nil {
		return nil
	}
	return v.Errors
}

func (e *envelope) failureMessage() string {
	switch {
	case e.Error != "":
		return e.Error
	case e.Message != "":
		return e.Message
	default:
		return "Request failed"
	}
}
