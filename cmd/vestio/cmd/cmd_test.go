package cmd

import (
	"bytes"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vestio/vestio/api"
	"github.com/vestio/vestio/authapi"
)

const cliPassword = "correct-horse"

// scriptedInput answers one line per Read. Each answer is computed when it
// is asked for, so later answers can depend on what earlier ones caused.
type scriptedInput struct {
	lines []func() string
}

func (s *scriptedInput) Read(p []byte) (int, error) {
	if len(s.lines) == 0 {
		return 0, io.EOF
	}
	line := s.lines[0]() + "\n"
	s.lines = s.lines[1:]
	return copy(p, line), nil
}

func answer(s string) func() string { return func() string { return s } }

type cliEnv struct {
	url    string
	dir    string
	api    *api.API
	outbox *api.Outbox
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	outbox := &api.Outbox{}
	a, err := api.New(api.WithMailer(outbox), api.WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)
	r := chi.NewRouter()
	r.Mount("/api", a.Router())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	t.Setenv("VESTIO_SESSION_KEY", "")
	t.Setenv("VESTIO_LOG_LEVEL", "error")
	loginBackup, whoamiRefresh, resendVerification = false, false, false
	return &cliEnv{url: srv.URL + "/api", dir: t.TempDir(), api: a, outbox: outbox}
}

func (e *cliEnv) seed(t *testing.T, email string) {
	t.Helper()
	_, err := e.api.CreateAccount(api.AccountSeed{
		RegisterRequest: authapi.RegisterRequest{
			Email:        email,
			Password:     cliPassword,
			FirstName:    "Ada",
			LastName:     "Lovelace",
			Phone:        "+2348000000000",
			Role:         authapi.RoleLender,
			BusinessType: "individual",
		},
		EmailVerified: true,
	})
	require.NoError(t, err)
}

func (e *cliEnv) lastCode(email string) func() string {
	return func() string {
		msg, _ := e.outbox.Last(api.MessageLoginOTP, email)
		return msg.Secret
	}
}

func (e *cliEnv) run(t *testing.T, input []func() string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(&scriptedInput{lines: input})
	rootCmd.SetArgs(append([]string{"--api-url", e.url, "--data-dir", e.dir, "--log-format", "text"}, args...))
	err := rootCmd.ExecuteContext(t.Context())
	return out.String(), err
}

func TestLoginPersistsSession(t *testing.T) {
	env := newCLIEnv(t)
	env.seed(t, "ada@example.com")

	out, err := env.run(t, []func() string{
		answer("ada@example.com"),
		answer("wrong-password"),
		answer("ada@example.com"),
		answer(cliPassword),
		answer("12"),
		env.lastCode("ada@example.com"),
	}, "login")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Invalid email or password")
	assert.Contains(t, out, "Enter the 6-digit code.")
	assert.Contains(t, out, "Signed in as Ada Lovelace <ada@example.com>.")

	_, err = os.Stat(filepath.Join(env.dir, sessionKeyFile))
	require.NoError(t, err)

	out, err = env.run(t, nil, "whoami")
	require.NoError(t, err, out)
	assert.Contains(t, out, "ada@example.com")
	assert.Contains(t, out, "lender")

	out, err = env.run(t, nil, "status")
	require.NoError(t, err, out)
	assert.Contains(t, out, "authenticated")
	assert.Contains(t, out, "/dashboard")

	out, err = env.run(t, nil, "logout")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Signed out.")

	out, err = env.run(t, nil, "whoami")
	require.Error(t, err)
	assert.Contains(t, out, "not signed in")
}

func TestLoginWithBackupCode(t *testing.T) {
	env := newCLIEnv(t)
	env.seed(t, "grace@example.com")

	_, err := env.run(t, []func() string{
		answer("grace@example.com"), answer(cliPassword), env.lastCode("grace@example.com"),
	}, "login")
	require.NoError(t, err)

	out, err := env.run(t, nil, "twofa", "enable")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Secret: ")
	setupSecret, backup := parseEnrolment(t, out)

	code, err := api.TOTPCode(setupSecret, time.Now())
	require.NoError(t, err)
	out, err = env.run(t, nil, "twofa", "confirm", code)
	require.NoError(t, err, out)

	_, err = env.run(t, nil, "logout")
	require.NoError(t, err)

	out, err = env.run(t, []func() string{
		answer("grace@example.com"), answer(cliPassword), env.lastCode("grace@example.com"),
		answer("12345"),
		answer(backup[:3] + "-" + backup[3:6] + "-" + backup[6:]),
	}, "login", "--backup")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Backup code: ")
	assert.Contains(t, out, "Enter the 9-character code.")
	assert.Contains(t, out, "Signed in as Ada Lovelace <grace@example.com>.")
}

var backupCodeLine = regexp.MustCompile(`(?m)^  (\d{9})$`)

// parseEnrolment pulls the secret and the first backup code out of the
// output of twofa enable.
func parseEnrolment(t *testing.T, out string) (string, string) {
	t.Helper()
	_, rest, ok := strings.Cut(out, "Secret: ")
	require.True(t, ok)
	secret, _, _ := strings.Cut(rest, "\n")
	m := backupCodeLine.FindStringSubmatch(out)
	require.NotNil(t, m, out)
	return secret, m[1]
}

func TestStatusWhenSignedOut(t *testing.T) {
	env := newCLIEnv(t)
	out, err := env.run(t, nil, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "unauthenticated")
	assert.Contains(t, out, "redirects to /login")
}

func TestForgotPasswordAndReset(t *testing.T) {
	env := newCLIEnv(t)
	env.seed(t, "ada@example.com")

	out, err := env.run(t, nil, "password", "forgot", "ada@example.com")
	require.NoError(t, err, out)
	msg, ok := env.outbox.Last(api.MessagePasswordReset, "ada@example.com")
	require.True(t, ok)

	_, err = env.run(t, []func() string{answer("new-password-1"), answer("different")}, "password", "reset", msg.Secret)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "do not match")

	out, err = env.run(t, []func() string{answer("new-password-1"), answer("new-password-1")}, "password", "reset", msg.Secret)
	require.NoError(t, err, out)

	out, err = env.run(t, []func() string{
		answer("ada@example.com"), answer("new-password-1"), env.lastCode("ada@example.com"),
	}, "login")
	require.NoError(t, err, out)
	assert.Contains(t, out, "Signed in as")
}

func TestSessionSecretFromEnvironment(t *testing.T) {
	env := newCLIEnv(t)
	env.seed(t, "ada@example.com")
	t.Setenv("VESTIO_SESSION_KEY", "00112233445566778899aabbccddeeff")

	out, err := env.run(t, []func() string{
		answer("ada@example.com"), answer(cliPassword), env.lastCode("ada@example.com"),
	}, "login")
	require.NoError(t, err, out)
	_, err = os.Stat(filepath.Join(env.dir, sessionKeyFile))
	assert.ErrorIs(t, err, os.ErrNotExist, "no key file when the key comes from the environment")

	out, err = env.run(t, nil, "whoami")
	require.NoError(t, err, out)
	assert.Contains(t, out, "ada@example.com")

	t.Setenv("VESTIO_SESSION_KEY", "not hex")
	_, err = env.run(t, nil, "whoami")
	assert.ErrorContains(t, err, "VESTIO_SESSION_KEY")
}

func TestLoadOrCreateKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "k")
	first, err := loadOrCreateKey(path)
	require.NoError(t, err)
	assert.Len(t, first, 32)

	second, err := loadOrCreateKey(path)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.NoError(t, os.WriteFile(path, []byte("not hex"), 0o600))
	_, err = loadOrCreateKey(path)
	assert.Error(t, err)
}
