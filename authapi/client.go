package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/samber/oops"

	"github.com/vestio/vestio/internal/util"
	"github.com/vestio/vestio/internal/uuid"
	"github.com/vestio/vestio/session"
)

const (
	defaultTimeout  = 15 * time.Second
	maxResponseSize = 1 << 20
	// RequestIDHeader carries a per-call identifier for correlating logs.
	RequestIDHeader = "X-Request-ID"
)

// Client is the HTTP implementation of Authority.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

var _ Authority = (*Client)(nil)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.http = hc
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.http.Timeout = d
	}
}

// WithLogger sets the structured logger for request tracing.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a client for the authority rooted at baseURL
// (for example "http://localhost:3000/api").
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	c.logger = c.logger.With("component", "authapi")
	return c
}

// call describes one endpoint: where it lives and how bare HTTP statuses
// map onto the error taxonomy for it.
type call struct {
	method   string
	path     string
	bearer   string
	body     any
	raw      []byte // pre-encoded body, wiped after the request
	defaults statusKinds
}

// Login exchanges credentials for a login ticket. The password is encoded
// straight from the slice into a buffer that is wiped once the request is
// sent, so no immutable copy of it is made. The caller still owns password.
func (c *Client) Login(ctx context.Context, email string, password []byte) (*LoginResult, error) {
	payload, err := loginPayload(email, password)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Message: "could not encode request", Cause: err}
	}
	var out LoginResult
	_, err = c.do(ctx, call{
		method:   http.MethodPost,
		path:     "/auth/login",
		raw:      payload,
		defaults: statusKinds{unauthorized: KindInvalidCredentials, forbidden: KindAccountSuspended},
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.LoginTicket == "" {
		return nil, malformed("/auth/login", "missing loginToken")
	}
	return &out, nil
}

func (c *Client) VerifyEmailOTP(ctx context.Context, loginTicket, code string) (*OTPResult, error) {
	var out OTPResult
	_, err := c.do(ctx, call{
		method:   http.MethodPost,
		path:     "/auth/verify-email-otp",
		body:     VerifyEmailOTPRequest{LoginTicket: loginTicket, EmailOTP: code},
		defaults: statusKinds{unauthorized: KindInvalidCode, gone: KindExpiredOrInvalidTicket},
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.SecondFactorTicket == "" && !out.Tokens().Valid() {
		return nil, malformed("/auth/verify-email-otp", "neither twoFAToken nor token pair present")
	}
	return &out, nil
}

func (c *Client) ResendEmailOTP(ctx context.Context, loginTicket string) (*Ack, error) {
	msg, err := c.do(ctx, call{
		method:   http.MethodPost,
		path:     "/auth/resend-otp",
		body:     ResendOTPRequest{LoginTicket: loginTicket},
		defaults: statusKinds{unauthorized: KindExpiredOrInvalidTicket, gone: KindExpiredOrInvalidTicket},
	}, nil)
	if err != nil {
		return nil, err
	}
	return &Ack{Message: msg}, nil
}

func (c *Client) VerifySecondFactor(ctx context.Context, secondFactorTicket, code string) (session.Tokens, error) {
	var out session.Tokens
	_, err := c.do(ctx, call{
		method:   http.MethodPost,
		path:     "/auth/verify-2fa-login",
		body:     VerifySecondFactorRequest{SecondFactorTicket: secondFactorTicket, Code: code},
		defaults: statusKinds{unauthorized: KindInvalidCode, gone: KindExpiredOrInvalidTicket},
	}, &out)
	if err != nil {
		return session.Tokens{}, err
	}
	if !out.Valid() {
		return session.Tokens{}, malformed("/auth/verify-2fa-login", "missing token pair")
	}
	return out, nil
}

func (c *Client) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	var out RegisterResult
	_, err := c.do(ctx, call{
		method: http.MethodPost,
		path:   "/auth/register",
		body:   req,
	}, &out)
	if err != nil {
		return nil, err
	}
	if !out.Tokens().Valid() {
		return nil, malformed("/auth/register", "missing token pair")
	}
	return &out, nil
}

func (c *Client) VerifyEmail(ctx context.Context, token string) (*Ack, error) {
	return c.ack(ctx, call{
		method:   http.MethodPost,
		path:     "/auth/verify-email",
		body:     map[string]string{"token": token},
		defaults: statusKinds{unauthorized: KindInvalidOrExpiredToken, gone: KindInvalidOrExpiredToken},
	})
}

func (c *Client) ResendVerification(ctx context.Context, accessToken string) (*Ack, error) {
	return c.ack(ctx, call{
		method: http.MethodPost,
		path:   "/auth/resend-verification",
		bearer: accessToken,
		body:   struct{}{},
	})
}

func (c *Client) ForgotPassword(ctx context.Context, email string) (*Ack, error) {
	return c.ack(ctx, call{
		method: http.MethodPost,
		path:   "/auth/forgot-password",
		body:   map[string]string{"email": email},
	})
}

func (c *Client) ResetPassword(ctx context.Context, token, password string) (*Ack, error) {
	return c.ack(ctx, call{
		method:   http.MethodPost,
		path:     "/auth/reset-password",
		body:     map[string]string{"token": token, "password": password},
		defaults: statusKinds{unauthorized: KindInvalidOrExpiredToken, gone: KindInvalidOrExpiredToken},
	})
}

func (c *Client) ChangePassword(ctx context.Context, accessToken, currentPassword, newPassword string) (*Ack, error) {
	return c.ack(ctx, call{
		method: http.MethodPut,
		path:   "/auth/change-password",
		bearer: accessToken,
		body: map[string]string{
			"currentPassword": currentPassword,
			"newPassword":     newPassword,
		},
		defaults: statusKinds{forbidden: KindInvalidPassword},
	})
}

func (c *Client) EnableTwoFactor(ctx context.Context, accessToken string) (*TwoFactorSetup, error) {
	var out TwoFactorSetup
	_, err := c.do(ctx, call{
		method: http.MethodPost,
		path:   "/auth/enable-2fa",
		bearer: accessToken,
		body:   struct{}{},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ConfirmTwoFactor(ctx context.Context, accessToken, code string) (*Ack, error) {
	return c.ack(ctx, call{
		method:   http.MethodPost,
		path:     "/auth/verify-2fa",
		bearer:   accessToken,
		body:     map[string]string{"token": code},
		defaults: statusKinds{forbidden: KindInvalidCode},
	})
}

func (c *Client) DisableTwoFactor(ctx context.Context, accessToken, password string) (*Ack, error) {
	return c.ack(ctx, call{
		method:   http.MethodPost,
		path:     "/auth/disable-2fa",
		bearer:   accessToken,
		body:     map[string]string{"password": password},
		defaults: statusKinds{forbidden: KindInvalidPassword},
	})
}

func (c *Client) Profile(ctx context.Context, accessToken string) (*Profile, error) {
	var out Profile
	_, err := c.do(ctx, call{
		method: http.MethodGet,
		path:   "/auth/profile",
		bearer: accessToken,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Logout(ctx context.Context, accessToken string) error {
	_, err := c.do(ctx, call{
		method: http.MethodPost,
		path:   "/logout",
		bearer: accessToken,
		body:   struct{}{},
	}, nil)
	return err
}

func (c *Client) ack(ctx context.Context, cl call) (*Ack, error) {
	msg, err := c.do(ctx, cl, nil)
	if err != nil {
		return nil, err
	}
	return &Ack{Message: msg}, nil
}

// do performs the request, decodes the envelope into out (when non-nil) and
// returns the authority's message. Every failure comes back as *Error.
func (c *Client) do(ctx context.Context, cl call, out any) (string, error) {
	payload := cl.raw
	if payload != nil {
		defer util.WipeBytes(payload)
	} else if cl.body != nil {
		b, err := json.Marshal(cl.body)
		if err != nil {
			return "", &Error{Kind: KindValidation, Message: "could not encode request", Cause: err}
		}
		payload = b
		defer util.WipeBytes(payload)
	}

	req, err := http.NewRequestWithContext(ctx, cl.method, c.baseURL+cl.path, bytes.NewReader(payload))
	if err != nil {
		return "", networkError(cl.path, err)
	}
	reqID := uuid.New()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, reqID)
	if cl.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+cl.bearer)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.LogAttrs(ctx, slog.LevelWarn, "request failed",
			slog.String("endpoint", cl.path),
			slog.String("request_id", reqID),
			slog.Any("error", err))
		return "", networkError(cl.path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", networkError(cl.path, err)
	}
	c.logger.LogAttrs(ctx, slog.LevelDebug, "request completed",
		slog.String("method", cl.method),
		slog.String("endpoint", cl.path),
		slog.String("request_id", reqID),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(start)))

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return "", malformed(cl.path, "response is not JSON")
		}
		env = envelope{Error: http.StatusText(resp.StatusCode)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !env.Success {
		status := resp.StatusCode
		if status >= 200 && status < 300 {
			// success:false on a 2xx: classify by code, else treat as a bad request.
			status = http.StatusBadRequest
		}
		return "", classify(status, &env, cl.defaults)
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return "", malformed(cl.path, "undecodable data: "+err.Error())
		}
	}
	return env.Message, nil
}

func networkError(endpoint string, err error) *Error {
	msg := "Network error, please try again"
	if errors.Is(err, context.DeadlineExceeded) {
		msg = "Request timed out, please try again"
	}
	return &Error{
		Kind:    KindNetwork,
		Message: msg,
		Cause: oops.
			Code("network_error").
			In("authapi").
			With("endpoint", endpoint).
			Wrapf(err, "calling %s", endpoint),
	}
}

func malformed(endpoint, detail string) *Error {
	return &Error{
		Kind:    KindServer,
		Message: "Unexpected response from server",
		Cause: oops.
			Code("malformed_response").
			In("authapi").
			With("endpoint", endpoint).
			Errorf("%s", detail),
	}
}


// loginPayload renders a LoginRequest without converting password to a
// string. The buffer is sized for the worst case up front so append never
// leaves a stale copy behind.
func loginPayload(email string, password []byte) ([]byte, error) {
	e, err := json.Marshal(email)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, len(e)+6*len(password)+32)
	buf = append(buf, `{"email":`...)
	buf = append(buf, e...)
	buf = append(buf, `,"password":`...)
	buf = appendJSONString(buf, password)
	return append(buf, '}'), nil
}

func appendJSONString(dst, b []byte) []byte {
	const hex = "0123456789abcdef"
	dst = append(dst, '"')
	for _, c := range b {
		switch {
		case c == '"' || c == '\\':
			dst = append(dst, '\\', c)
		case c < 0x20:
			dst = append(dst, '\\', 'u', '0', '0', hex[c>>4], hex[c&0xf])
		default:
			dst = append(dst, c)
		}
	}
	return append(dst, '"')
}
