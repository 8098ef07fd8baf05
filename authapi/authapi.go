// Package authapi is the client side of the remote authentication authority.
//
// Every operation returns either its typed result or an *Error whose Kind
// classifies the failure; callers never see raw transport or decoding errors.
package authapi

import (
	"context"

	"github.com/vestio/vestio/session"
)

// Authority is the remote collaborator the authentication flow talks to.
type Authority interface {
	Login(ctx context.Context, email string, password []byte) (*LoginResult, error)
	VerifyEmailOTP(ctx context.Context, loginTicket, code string) (*OTPResult, error)
	ResendEmailOTP(ctx context.Context, loginTicket string) (*Ack, error)
	VerifySecondFactor(ctx context.Context, secondFactorTicket, code string) (session.Tokens, error)

	Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error)
	VerifyEmail(ctx context.Context, token string) (*Ack, error)
	ResendVerification(ctx context.Context, accessToken string) (*Ack, error)
	ForgotPassword(ctx context.Context, email string) (*Ack, error)
	ResetPassword(ctx context.Context, token, password string) (*Ack, error)
	ChangePassword(ctx context.Context, accessToken, currentPassword, newPassword string) (*Ack, error)

	EnableTwoFactor(ctx context.Context, accessToken string) (*TwoFactorSetup, error)
	ConfirmTwoFactor(ctx context.Context, accessToken, code string) (*Ack, error)
	DisableTwoFactor(ctx context.Context, accessToken, password string) (*Ack, error)

	Profile(ctx context.Context, accessToken string) (*Profile, error)
	Logout(ctx context.Context, accessToken string) error
}
