package api_test

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vestio/vestio/api"
	"github.com/vestio/vestio/authapi"
)

func TestLoginIssuesTicketAndMailsCode(t *testing.T) {
	env := setupServer(t)
	id := env.seed(t, "ada@example.com")

	res, err := env.client.Login(t.Context(), " Ada@Example.com ", []byte(testPassword))
	require.NoError(t, err)
	assert.NotEmpty(t, res.LoginTicket)
	assert.Equal(t, id, res.User.UserID)
	assert.Equal(t, "ada@example.com", res.User.Email)

	code := env.lastSecret(t, api.MessageLoginOTP, "ada@example.com")
	assert.Len(t, code, 6)
	assert.Equal(t, 1, env.outbox.Count(api.MessageLoginOTP, "ada@example.com"))
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := setupServer(t)
	env.seed(t, "ada@example.com")

	_, err := env.client.Login(t.Context(), "ada@example.com", []byte("wrong-password"))
	require.ErrorIs(t, err, authapi.ErrInvalidCredentials)
	assert.Equal(t, "Invalid email or password", err.Error())

	_, err = env.client.Login(t.Context(), "nobody@example.com", []byte(testPassword))
	require.ErrorIs(t, err, authapi.ErrInvalidCredentials)
	assert.Zero(t, env.outbox.Count(api.MessageLoginOTP, "ada@example.com"))
}

func TestLoginSuspendedAccount(t *testing.T) {
	env := setupServer(t)
	id := env.seed(t, "ada@example.com")
	require.NoError(t, env.api.SetAccountStatus(id, api.StatusSuspended))

	_, err := env.client.Login(t.Context(), "ada@example.com", []byte(testPassword))
	require.ErrorIs(t, err, authapi.ErrAccountSuspended)
	var apiErr *authapi.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
}

func TestLoginValidation(t *testing.T) {
	env := setupServer(t)

	resp, body := doJSON(t, http.MethodPost, env.server.URL+"/api/auth/login", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.False(t, body.Success)
	assert.Equal(t, authapi.CodeValidation, body.Code)
	var data struct {
		Errors []authapi.FieldError `json:"errors"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &data))
	require.Len(t, data.Errors, 2)
	assert.Equal(t, "email", data.Errors[0].Field)

	_, err := env.client.Login(t.Context(), "not-an-email", []byte(testPassword))
	require.ErrorIs(t, err, authapi.ErrValidation)
	assert.Equal(t, "Email is invalid", err.Error())
}

func TestLoginLockout(t *testing.T) {
	env := setupServer(t)
	env.seed(t, "ada@example.com")

	for range 5 {
		_, err := env.client.Login(t.Context(), "ada@example.com", []byte("wrong-password"))
		require.ErrorIs(t, err, authapi.ErrInvalidCredentials)
	}
	_, err := env.client.Login(t.Context(), "ada@example.com", []byte(testPassword))
	require.ErrorIs(t, err, authapi.ErrServer)
	var apiErr *authapi.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.Status)

	env.clock.Advance(2 * time.Minute)
	_, err = env.client.Login(t.Context(), "ada@example.com", []byte(testPassword))
	assert.NoError(t, err)
}

func TestVerifyEmailOTPIssuesTokens(t *testing.T) {
	env := setupServer(t)
	env.seed(t, "ada@example.com")
	ctx := t.Context()

	res, err := env.client.Login(ctx, "ada@example.com", []byte(testPassword))
	require.NoError(t, err)
	out, err := env.client.VerifyEmailOTP(ctx, res.LoginTicket, env.lastSecret(t, api.MessageLoginOTP, "ada@example.com"))
	require.NoError(t, err)
	assert.False(t, out.Requires2FA)
	require.True(t, out.Tokens().Valid())
	require.NotNil(t, out.User)

	prof, err := env.client.Profile(ctx, out.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", prof.FullName())
	assert.Equal(t, api.StatusActive, prof.Status)
	assert.NotEmpty(t, prof.LastLogin)

	// The ticket was consumed.
	_, err = env.client.VerifyEmailOTP(ctx, res.LoginTicket, "123456")
	assert.ErrorIs(t, err, authapi.ErrExpiredOrInvalidTicket)
}

func TestVerifyEmailOTPAttemptsExhaustTicket(t *testing.T) {
	env := setupServer(t)
	env.seed(t, "ada@example.com")
	ctx := t.Context()

	res, err := env.client.Login(ctx, "ada@example.com", []byte(testPassword))
	require.NoError(t, err)
	code := env.lastSecret(t, api.MessageLoginOTP, "ada@example.com")
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	for range 5 {
		_, err = env.client.VerifyEmailOTP(ctx, res.LoginTicket, wrong)
		require.ErrorIs(t, err, authapi.ErrInvalidCode)
	}
	_, err = env.client.VerifyEmailOTP(ctx, res.LoginTicket, code)
	assert.ErrorIs(t, err, authapi.ErrExpiredOrInvalidTicket)
}

func TestLoginTicketExpires(t *testing.T) {
	env := setupServer(t)
	env.seed(t, "ada@example.com")
	ctx := t.Context()

	res, err := env.client.Login(ctx, "ada@example.com", []byte(testPassword))
	require.NoError(t, err)
	env.clock.Advance(5*time.Minute + time.Second)

	_, err = env.client.VerifyEmailOTP(ctx, res.LoginTicket, env.lastSecret(t, api.MessageLoginOTP, "ada@example.com"))
	require.ErrorIs(t, err, authapi.ErrExpiredOrInvalidTicket)
	var apiErr *authapi.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusGone, apiErr.Status)

	_, err = env.client.ResendEmailOTP(ctx, res.LoginTicket)
	assert.ErrorIs(t, err, authapi.ErrExpiredOrInvalidTicket)
}

func TestResendOTPReplacesCode(t *testing.T) {
	env := setupServer(t)
	env.seed(t, "ada@example.com")
	ctx := t.Context()

	res, err := env.client.Login(ctx, "ada@example.com", []byte(testPassword))
	require.NoError(t, err)
	first := env.lastSecret(t, api.MessageLoginOTP, "ada@example.com")

	_, err = env.client.ResendEmailOTP(ctx, res.LoginTicket)
	require.ErrorIs(t, err, authapi.ErrServer, "resend inside the interval is throttled")

	env.clock.Advance(61 * time.Second)
	ack, err := env.client.ResendEmailOTP(ctx, res.LoginTicket)
	require.NoError(t, err)
	assert.NotEmpty(t, ack.Message)
	assert.Equal(t, 2, env.outbox.Count(api.MessageLoginOTP, "ada@example.com"))
	second := env.lastSecret(t, api.MessageLoginOTP, "ada@example.com")

	if first != second {
		_, err = env.client.VerifyEmailOTP(ctx, res.LoginTicket, first)
		require.ErrorIs(t, err, authapi.ErrInvalidCode)
	}
	_, err = env.client.VerifyEmailOTP(ctx, res.LoginTicket, second)
	assert.NoError(t, err)
}

func TestTwoFactorLifecycle(t *testing.T) {
	env := setupServer(t)
	env.seed(t, "ada@example.com")
	ctx := t.Context()
	token := env.signIn(t, "ada@example.com")

	setup, err := env.client.EnableTwoFactor(ctx, token)
	require.NoError(t, err)
	assert.NotEmpty(t, setup.Secret)
	assert.True(t, strings.HasPrefix(setup.QRCodeDataURL, "data:image/png;base64,"))
	require.Len(t, setup.BackupCodes, 8)
	for _, c := range setup.BackupCodes {
		assert.Len(t, c, 9)
	}

	code, err := api.TOTPCode(setup.Secret, env.clock.Now())
	require.NoError(t, err)
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	_, err = env.client.ConfirmTwoFactor(ctx, token, wrong)
	require.ErrorIs(t, err, authapi.ErrInvalidCode)
	_, err = env.client.ConfirmTwoFactor(ctx, token, code)
	require.NoError(t, err)

	prof, err := env.client.Profile(ctx, token)
	require.NoError(t, err)
	assert.True(t, prof.IsTwoFactorEnabled)

	// Email code now leads to a second-factor ticket.
	env.clock.Advance(61 * time.Second)
	secondFactorTicket := func() string {
		res, err := env.client.Login(ctx, "ada@example.com", []byte(testPassword))
		require.NoError(t, err)
		out, err := env.client.VerifyEmailOTP(ctx, res.LoginTicket, env.lastSecret(t, api.MessageLoginOTP, "ada@example.com"))
		require.NoError(t, err)
		require.True(t, out.Requires2FA)
		assert.False(t, out.Tokens().Valid())
		return out.SecondFactorTicket
	}

	ticket := secondFactorTicket()
	code, err = api.TOTPCode(setup.Secret, env.clock.Now())
	require.NoError(t, err)
	tokens, err := env.client.VerifySecondFactor(ctx, ticket, code)
	require.NoError(t, err)
	assert.True(t, tokens.Valid())

	// The same code cannot be replayed.
	ticket = secondFactorTicket()
	_, err = env.client.VerifySecondFactor(ctx, ticket, code)
	require.ErrorIs(t, err, authapi.ErrInvalidCode)

	// Backup codes work once.
	tokens, err = env.client.VerifySecondFactor(ctx, ticket, setup.BackupCodes[0])
	require.NoError(t, err)
	assert.True(t, tokens.Valid())
	ticket = secondFactorTicket()
	_, err = env.client.VerifySecondFactor(ctx, ticket, setup.BackupCodes[0])
	require.ErrorIs(t, err, authapi.ErrInvalidBackupCode)

	_, err = env.client.DisableTwoFactor(ctx, tokens.AccessToken, "wrong-password")
	require.ErrorIs(t, err, authapi.ErrInvalidPassword)
	_, err = env.client.DisableTwoFactor(ctx, tokens.AccessToken, testPassword)
	require.NoError(t, err)
	prof, err = env.client.Profile(ctx, tokens.AccessToken)
	require.NoError(t, err)
	assert.False(t, prof.IsTwoFactorEnabled)
}

func TestSecondFactorTicketExpires(t *testing.T) {
	env := setupServer(t, api.WithLoginTicketTTL(time.Minute))
	env.seed(t, "ada@example.com")
	ctx := t.Context()
	token := env.signIn(t, "ada@example.com")

	setup, err := env.client.EnableTwoFactor(ctx, token)
	require.NoError(t, err)
	code, err := api.TOTPCode(setup.Secret, env.clock.Now())
	require.NoError(t, err)
	_, err = env.client.ConfirmTwoFactor(ctx, token, code)
	require.NoError(t, err)

	res, err := env.client.Login(ctx, "ada@example.com", []byte(testPassword))
	require.NoError(t, err)
	out, err := env.client.VerifyEmailOTP(ctx, res.LoginTicket, env.lastSecret(t, api.MessageLoginOTP, "ada@example.com"))
	require.NoError(t, err)

	env.clock.Advance(2 * time.Minute)
	code, err = api.TOTPCode(setup.Secret, env.clock.Now())
	require.NoError(t, err)
	_, err = env.client.VerifySecondFactor(ctx, out.SecondFactorTicket, code)
	assert.ErrorIs(t, err, authapi.ErrExpiredOrInvalidTicket)
}

func TestRegisterAndVerifyEmail(t *testing.T) {
	env := setupServer(t)
	ctx := t.Context()

	req := authapi.RegisterRequest{
		Email:        "grace@example.com",
		Password:     testPassword,
		FirstName:    "Grace",
		LastName:     "Hopper",
		Phone:        "+2348000000001",
		Role:         authapi.RoleSeller,
		BusinessType: "company",
		BusinessName: "Cobol Ltd",
	}
	res, err := env.client.Register(ctx, req)
	require.NoError(t, err)
	assert.True(t, res.Tokens().Valid())
	assert.False(t, res.User.IsEmailVerified)

	_, err = env.client.Register(ctx, req)
	require.ErrorIs(t, err, authapi.ErrValidation)
	var apiErr *authapi.Error
	require.ErrorAs(t, err, &apiErr)
	require.Len(t, apiErr.Fields, 1)
	assert.Equal(t, "email", apiErr.Fields[0].Field)

	env.clock.Advance(time.Second)
	_, err = env.client.ResendVerification(ctx, res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, 2, env.outbox.Count(api.MessageEmailVerification, "grace@example.com"))

	link := env.lastSecret(t, api.MessageEmailVerification, "grace@example.com")
	_, err = env.client.VerifyEmail(ctx, link)
	require.NoError(t, err)
	_, err = env.client.VerifyEmail(ctx, link)
	require.ErrorIs(t, err, authapi.ErrInvalidOrExpiredToken)

	prof, err := env.client.Profile(ctx, res.AccessToken)
	require.NoError(t, err)
	assert.True(t, prof.IsEmailVerified)
	assert.Equal(t, "Cobol Ltd", prof.BusinessName)

	_, err = env.client.ResendVerification(ctx, res.AccessToken)
	assert.ErrorIs(t, err, authapi.ErrValidation)
}

func TestRegisterBusinessRules(t *testing.T) {
	env := setupServer(t)

	_, err := env.client.Register(t.Context(), authapi.RegisterRequest{
		Email:        "seller@example.com",
		Password:     "short",
		FirstName:    "S",
		LastName:     "E",
		Phone:        "1",
		Role:         authapi.RoleSeller,
		BusinessType: "individual",
	})
	require.ErrorIs(t, err, authapi.ErrValidation)
	var apiErr *authapi.Error
	require.ErrorAs(t, err, &apiErr)
	var fields []string
	for _, f := range apiErr.Fields {
		fields = append(fields, f.Field)
	}
	assert.Equal(t, []string{"password", "businessType", "businessName"}, fields)
}

func TestForgotAndResetPassword(t *testing.T) {
	env := setupServer(t)
	env.seed(t, "ada@example.com")
	ctx := t.Context()
	oldToken := env.signIn(t, "ada@example.com")

	ack, err := env.client.ForgotPassword(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, ack.Message)
	assert.Zero(t, env.outbox.Count(api.MessagePasswordReset, "nobody@example.com"))

	_, err = env.client.ForgotPassword(ctx, "ada@example.com")
	require.NoError(t, err)
	link := env.lastSecret(t, api.MessagePasswordReset, "ada@example.com")

	_, err = env.client.ResetPassword(ctx, link, "short")
	require.ErrorIs(t, err, authapi.ErrValidation)
	_, err = env.client.ResetPassword(ctx, "bogus", "new-password-1")
	require.ErrorIs(t, err, authapi.ErrInvalidOrExpiredToken)
	_, err = env.client.ResetPassword(ctx, link, "new-password-1")
	require.NoError(t, err)

	_, err = env.client.Profile(ctx, oldToken)
	require.ErrorIs(t, err, authapi.ErrUnauthorized, "reset revokes existing sessions")

	_, err = env.client.Login(ctx, "ada@example.com", []byte(testPassword))
	require.ErrorIs(t, err, authapi.ErrInvalidCredentials)
	_, err = env.client.Login(ctx, "ada@example.com", []byte("new-password-1"))
	assert.NoError(t, err)
}

func TestChangePassword(t *testing.T) {
	env := setupServer(t)
	env.seed(t, "ada@example.com")
	ctx := t.Context()
	token := env.signIn(t, "ada@example.com")

	_, err := env.client.ChangePassword(ctx, token, "wrong-password", "new-password-1")
	require.ErrorIs(t, err, authapi.ErrInvalidPassword)
	_, err = env.client.ChangePassword(ctx, token, testPassword, "new-password-1")
	require.NoError(t, err)

	_, err = env.client.Login(ctx, "ada@example.com", []byte("new-password-1"))
	assert.NoError(t, err)
}

func TestLogoutRevokesToken(t *testing.T) {
	env := setupServer(t)
	env.seed(t, "ada@example.com")
	ctx := t.Context()
	token := env.signIn(t, "ada@example.com")

	require.NoError(t, env.client.Logout(ctx, token))
	_, err := env.client.Profile(ctx, token)
	require.ErrorIs(t, err, authapi.ErrUnauthorized)
	assert.ErrorIs(t, env.client.Logout(ctx, token), authapi.ErrUnauthorized)
}

func TestSuspensionRevokesTokens(t *testing.T) {
	env := setupServer(t)
	id := env.seed(t, "ada@example.com")
	token := env.signIn(t, "ada@example.com")

	require.NoError(t, env.api.SetAccountStatus(id, api.StatusSuspended))
	_, err := env.client.Profile(t.Context(), token)
	assert.ErrorIs(t, err, authapi.ErrUnauthorized)
}

func TestProfileRequiresBearer(t *testing.T) {
	env := setupServer(t)

	resp, body := doJSON(t, http.MethodGet, env.server.URL+"/api/auth/profile", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, authapi.CodeUnauthorized, body.Code)
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}

func TestOpenAPIDocumentServed(t *testing.T) {
	env := setupServer(t)

	resp, err := http.Get(env.server.URL + "/api/openapi.yaml")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "/auth/verify-2fa-login")
}

func TestCreateAccountRejectsInvalidSeed(t *testing.T) {
	env := setupServer(t)
	seed := lenderSeed("ada@example.com")
	seed.Status = "banned"
	_, err := env.api.CreateAccount(seed)
	assert.Error(t, err)

	seed = lenderSeed("")
	_, err = env.api.CreateAccount(seed)
	assert.Error(t, err)
}
