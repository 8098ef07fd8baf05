package flow_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/vestio/vestio/authapi"
	"github.com/vestio/vestio/flow"
	"github.com/vestio/vestio/session"
)

func validRegistration() flow.Registration {
	return flow.Registration{
		Email:           "Seller@Example.com",
		Password:        "Secret1!",
		ConfirmPassword: "Secret1!",
		FirstName:       "Ada",
		LastName:        "Obi",
		Phone:           "+2348000000000",
		Role:            authapi.RoleSeller,
		BusinessType:    flow.BusinessCompany,
		BusinessName:    "Obi Trading",
	}
}

func TestRegistrationValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *flow.Registration)
		fields []string
	}{
		{"valid", func(*flow.Registration) {}, nil},
		{"password mismatch", func(r *flow.Registration) { r.ConfirmPassword = "other" }, []string{"confirmPassword"}},
		{"seller as individual", func(r *flow.Registration) { r.BusinessType = flow.BusinessIndividual }, []string{"businessType"}},
		{"missing business name", func(r *flow.Registration) { r.BusinessName = "" }, []string{"businessName"}},
		{"individual lender needs no business name", func(r *flow.Registration) {
			r.Role = authapi.RoleLender
			r.BusinessType = flow.BusinessIndividual
			r.BusinessName = ""
		}, nil},
		{"lender company needs business name", func(r *flow.Registration) {
			r.Role = authapi.RoleLender
			r.BusinessName = ""
		}, []string{"businessName"}},
		{"unknown role", func(r *flow.Registration) { r.Role = "admin" }, []string{"role"}},
		{"blank names", func(r *flow.Registration) { r.FirstName, r.LastName = " ", "" }, []string{"firstName", "lastName"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRegistration()
			tt.mutate(&r)
			var got []string
			for _, f := range r.Validate() {
				got = append(got, f.Field)
			}
			assert.Equal(t, tt.fields, got)
		})
	}
}

func TestRegisterStoresTokens(t *testing.T) {
	store := session.NewInMemory()
	require.NoError(t, store.SetLoginTicket("LT123"))
	nav := &recordingNav{}
	auth := &fakeAuthority{
		register: func(_ context.Context, req authapi.RegisterRequest) (*authapi.RegisterResult, error) {
			assert.Equal(t, "seller@example.com", req.Email)
			assert.Equal(t, "Obi Trading", req.BusinessName)
			return &authapi.RegisterResult{AccessToken: "AT1", RefreshToken: "RT1"}, nil
		},
	}
	a := flow.NewAccount(auth, store, nav, nil)
	defer a.Close()

	_, err := a.Register(t.Context(), validRegistration())
	require.NoError(t, err)
	requireOnly(t, store, session.SlotSessionTokens)
	assert.Equal(t, []flow.Route{flow.RouteDashboard}, nav.Routes())
}

func TestRegisterDropsBusinessNameForIndividuals(t *testing.T) {
	auth := &fakeAuthority{
		register: func(_ context.Context, req authapi.RegisterRequest) (*authapi.RegisterResult, error) {
			assert.Empty(t, req.BusinessName)
			return &authapi.RegisterResult{AccessToken: "AT1", RefreshToken: "RT1"}, nil
		},
	}
	a := flow.NewAccount(auth, session.NewInMemory(), &recordingNav{}, nil)
	defer a.Close()
	r := validRegistration()
	r.Role = authapi.RoleLender
	r.BusinessType = flow.BusinessIndividual
	_, err := a.Register(t.Context(), r)
	require.NoError(t, err)
}

func TestRegisterValidationSkipsCall(t *testing.T) {
	auth := &fakeAuthority{}
	a := flow.NewAccount(auth, session.NewInMemory(), &recordingNav{}, nil)
	defer a.Close()
	r := validRegistration()
	r.ConfirmPassword = "x"
	_, err := a.Register(t.Context(), r)
	assert.ErrorIs(t, err, authapi.ErrValidation)
	assert.Equal(t, "Passwords do not match", err.Error())
	assert.Equal(t, 0, auth.TotalCalls())
}

func TestVerifyEmailToken(t *testing.T) {
	auth := &fakeAuthority{
		verifyEmail: func(_ context.Context, token string) (*authapi.Ack, error) {
			assert.Equal(t, "tok", token)
			return &authapi.Ack{Message: "Email verified"}, nil
		},
	}
	a := flow.NewAccount(auth, session.NewInMemory(), &recordingNav{}, nil)
	defer a.Close()

	_, err := a.VerifyEmail(t.Context(), "")
	assert.ErrorIs(t, err, flow.ErrMissingToken)
	ack, err := a.VerifyEmail(t.Context(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "Email verified", ack.Message)
}

func TestResendVerification(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	t.Run("requires session", func(t *testing.T) {
		nav := &recordingNav{}
		auth := &fakeAuthority{}
		a := flow.NewAccount(auth, session.NewInMemory(), nav, nil, flow.WithClock(newFakeClock()))
		defer a.Close()
		_, err := a.ResendVerification(t.Context())
		assert.ErrorIs(t, err, flow.ErrNotAuthenticated)
		assert.Equal(t, []flow.Route{flow.RouteLogin}, nav.Routes())
		assert.Equal(t, 0, auth.TotalCalls())
	})

	t.Run("cooldown", func(t *testing.T) {
		auth := &fakeAuthority{
			resendVerification: func(_ context.Context, token string) (*authapi.Ack, error) {
				assert.Equal(t, "AT1", token)
				return &authapi.Ack{Message: "Verification email sent"}, nil
			},
		}
		a := flow.NewAccount(auth, authenticatedStore(t), &recordingNav{}, nil, flow.WithClock(newFakeClock()))
		defer a.Close()
		_, err := a.ResendVerification(t.Context())
		require.NoError(t, err)
		_, err = a.ResendVerification(t.Context())
		assert.ErrorIs(t, err, flow.ErrCooldownActive)
		assert.Equal(t, flow.ResendCooldownSeconds, a.VerificationThrottle().Remaining())
	})
}

func TestPasswordFlows(t *testing.T) {
	nav := &recordingNav{}
	auth := &fakeAuthority{
		forgotPassword: func(_ context.Context, email string) (*authapi.Ack, error) {
			assert.Equal(t, "a@b.com", email)
			return &authapi.Ack{Message: "Reset link sent"}, nil
		},
		resetPassword: func(_ context.Context, token, password string) (*authapi.Ack, error) {
			if token != "good" {
				return nil, &authapi.Error{Kind: authapi.KindInvalidOrExpiredToken, Message: "Invalid or expired token"}
			}
			return &authapi.Ack{Message: "Password reset"}, nil
		},
		changePassword: func(_ context.Context, token, current, next string) (*authapi.Ack, error) {
			assert.Equal(t, "AT1", token)
			if current != "old" {
				return nil, &authapi.Error{Kind: authapi.KindInvalidPassword}
			}
			return &authapi.Ack{Message: "Password changed"}, nil
		},
	}
	a := flow.NewAccount(auth, authenticatedStore(t), nav, nil)
	defer a.Close()

	ack, err := a.ForgotPassword(t.Context(), " A@B.com")
	require.NoError(t, err)
	assert.Equal(t, "Reset link sent", ack.Message)
	_, err = a.ForgotPassword(t.Context(), "")
	assert.ErrorIs(t, err, authapi.ErrValidation)

	_, err = a.ResetPassword(t.Context(), "", "new")
	assert.ErrorIs(t, err, flow.ErrMissingToken)
	assert.Equal(t, []flow.Route{flow.RouteForgotPassword}, nav.Routes())
	_, err = a.ResetPassword(t.Context(), "bad", "new")
	assert.ErrorIs(t, err, authapi.ErrInvalidOrExpiredToken)
	_, err = a.ResetPassword(t.Context(), "good", "new")
	require.NoError(t, err)

	_, err = a.ChangePassword(t.Context(), "", "new")
	assert.ErrorIs(t, err, authapi.ErrValidation)
	_, err = a.ChangePassword(t.Context(), "wrong", "new")
	assert.ErrorIs(t, err, authapi.ErrInvalidPassword)
	_, err = a.ChangePassword(t.Context(), "old", "new")
	require.NoError(t, err)
}

func TestTwoFactorSettingsRefreshProfile(t *testing.T) {
	store := authenticatedStore(t)
	enabled := false
	auth := &fakeAuthority{
		enableTwoFactor: func(context.Context, string) (*authapi.TwoFactorSetup, error) {
			return &authapi.TwoFactorSetup{Secret: "JBSWY3DPEHPK3PXP", BackupCodes: []string{"123456789"}}, nil
		},
		confirmTwoFactor: func(_ context.Context, _ string, code string) (*authapi.Ack, error) {
			if code != "123456" {
				return nil, &authapi.Error{Kind: authapi.KindInvalidCode}
			}
			enabled = true
			return &authapi.Ack{Message: "2FA enabled"}, nil
		},
		disableTwoFactor: func(_ context.Context, _ string, password string) (*authapi.Ack, error) {
			if password != "pw" {
				return nil, &authapi.Error{Kind: authapi.KindInvalidPassword}
			}
			enabled = false
			return &authapi.Ack{Message: "2FA disabled"}, nil
		},
		profile: func(context.Context, string) (*authapi.Profile, error) {
			return &authapi.Profile{IsTwoFactorEnabled: enabled}, nil
		},
	}
	profile := flow.NewProfileSession(auth, store, &recordingNav{}, flow.WithClock(newFakeClock()))
	a := flow.NewAccount(auth, store, &recordingNav{}, profile)
	defer a.Close()

	prof, err := profile.Profile(t.Context())
	require.NoError(t, err)
	assert.False(t, prof.IsTwoFactorEnabled)

	setup, err := a.EnableTwoFactor(t.Context())
	require.NoError(t, err)
	assert.Len(t, setup.BackupCodes, 1)

	_, err = a.ConfirmTwoFactor(t.Context(), "12345")
	assert.ErrorIs(t, err, flow.ErrInvalidCodeFormat)
	_, err = a.ConfirmTwoFactor(t.Context(), "654321")
	assert.ErrorIs(t, err, authapi.ErrInvalidCode)
	_, err = a.ConfirmTwoFactor(t.Context(), "123456")
	require.NoError(t, err)

	// Served from the forced refresh, not the stale cached copy.
	prof, err = profile.Profile(t.Context())
	require.NoError(t, err)
	assert.True(t, prof.IsTwoFactorEnabled)

	_, err = a.DisableTwoFactor(t.Context(), "")
	assert.ErrorIs(t, err, authapi.ErrValidation)
	_, err = a.DisableTwoFactor(t.Context(), "nope")
	assert.ErrorIs(t, err, authapi.ErrInvalidPassword)
	_, err = a.DisableTwoFactor(t.Context(), "pw")
	require.NoError(t, err)
	prof, err = profile.Profile(t.Context())
	require.NoError(t, err)
	assert.False(t, prof.IsTwoFactorEnabled)
}

func TestAccountOperationsRequireSession(t *testing.T) {
	auth := &fakeAuthority{}
	a := flow.NewAccount(auth, session.NewInMemory(), &recordingNav{}, nil)
	defer a.Close()

	_, err := a.ChangePassword(t.Context(), "a", "b")
	assert.ErrorIs(t, err, flow.ErrNotAuthenticated)
	_, err = a.EnableTwoFactor(t.Context())
	assert.ErrorIs(t, err, flow.ErrNotAuthenticated)
	_, err = a.ConfirmTwoFactor(t.Context(), "123456")
	assert.ErrorIs(t, err, flow.ErrNotAuthenticated)
	_, err = a.DisableTwoFactor(t.Context(), "pw")
	assert.ErrorIs(t, err, flow.ErrNotAuthenticated)
	assert.Equal(t, 0, auth.TotalCalls())
}
