package api_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/vestio/vestio/api"
	"github.com/vestio/vestio/authapi"
)

const testPassword = "correct-horse"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	api    *api.API
	server *httptest.Server
	outbox *api.Outbox
	clock  *testClock
	client *authapi.Client
}

func setupServer(t *testing.T, opts ...api.Option) *testEnv {
	t.Helper()
	env := &testEnv{outbox: &api.Outbox{}, clock: newTestClock()}
	base := []api.Option{
		api.WithMailer(env.outbox),
		api.WithClock(env.clock.Now),
		api.WithLogger(slog.New(slog.DiscardHandler)),
	}
	a, err := api.New(append(base, opts...)...)
	require.NoError(t, err)
	env.api = a

	r := chi.NewRouter()
	r.Mount("/api", a.Router())
	env.server = httptest.NewServer(r)
	t.Cleanup(env.server.Close)
	env.client = authapi.NewClient(env.server.URL + "/api")
	return env
}

func lenderSeed(email string) api.AccountSeed {
	return api.AccountSeed{
		RegisterRequest: authapi.RegisterRequest{
			Email:        email,
			Password:     testPassword,
			FirstName:    "Ada",
			LastName:     "Lovelace",
			Phone:        "+2348000000000",
			Role:         authapi.RoleLender,
			BusinessType: "individual",
		},
		EmailVerified: true,
	}
}

func (e *testEnv) seed(t *testing.T, email string) string {
	t.Helper()
	id, err := e.api.CreateAccount(lenderSeed(email))
	require.NoError(t, err)
	return id
}

// lastSecret returns the most recent code or token mailed to addr.
func (e *testEnv) lastSecret(t *testing.T, kind api.MessageKind, addr string) string {
	t.Helper()
	msg, ok := e.outbox.Last(kind, addr)
	require.True(t, ok, "no %s message for %s", kind, addr)
	return msg.Secret
}

// signIn runs credentials and email code for an account without a second
// factor and returns the access token.
func (e *testEnv) signIn(t *testing.T, email string) string {
	t.Helper()
	ctx := t.Context()
	res, err := e.client.Login(ctx, email, []byte(testPassword))
	require.NoError(t, err)
	otp, err := e.client.VerifyEmailOTP(ctx, res.LoginTicket, e.lastSecret(t, api.MessageLoginOTP, email))
	require.NoError(t, err)
	require.False(t, otp.Requires2FA)
	return otp.AccessToken
}

type rawResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
	Data    json.RawMessage `json:"data"`
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, rawResponse) {
	t.Helper()
	var reqBody bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&reqBody).Encode(body))
	}
	req, err := http.NewRequestWithContext(t.Context(), method, url, &reqBody)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out rawResponse
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return resp, out
}
