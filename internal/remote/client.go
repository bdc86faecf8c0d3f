// Package remote talks to a tat server so the CLI can clock in and out
// against a shared ledger. Errors reported by the server are mapped back to
// the ledger and identity errors the local mode returns.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/Tiliavir/trivial-attendance-tracker/internal/docstore"
	"github.com/Tiliavir/trivial-attendance-tracker/internal/identity"
	"github.com/Tiliavir/trivial-attendance-tracker/internal/ledger"
	"github.com/Tiliavir/trivial-attendance-tracker/internal/model"
	"github.com/Tiliavir/trivial-attendance-tracker/internal/server"
)

// APIError is an error response the client has no better mapping for.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server error %d (%s): %s", e.Status, e.Code, e.Message)
}

// Client is a tat server client.
type Client struct {
	base   string
	cfg    *oauth2.Config
	tokens TokenFile
	http   *http.Client
	loc    *time.Location
	logger *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the client used for token and API requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLocation sets the timezone used to display punch times.
func WithLocation(loc *time.Location) Option {
	return func(c *Client) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New returns a Client for the server at baseURL keeping its token in tokens.
func New(baseURL string, tokens TokenFile, opts ...Option) *Client {
	base := strings.TrimRight(baseURL, "/")
	c := &Client{
		base: base,
		cfg: &oauth2.Config{
			Endpoint: oauth2.Endpoint{
				TokenURL:  base + "/v1/oauth/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		tokens: tokens,
		http:   http.DefaultClient,
		loc:    time.Local,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Location returns the timezone used to display punch times.
func (c *Client) Location() *time.Location {
	return c.loc
}

func (c *Client) withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.http)
}

// Register creates an account and signs it in.
func (c *Client) Register(ctx context.Context, pin, first, last string) (string, error) {
	if _, err := identity.CredentialFromPIN(pin); err != nil {
		return "", err
	}
	var resp server.RegisterResponse
	req := server.RegisterRequest{PIN: pin, FirstName: first, LastName: last}
	if err := c.call(ctx, c.http, http.MethodPost, "/v1/accounts", req, &resp); err != nil {
		return "", err
	}
	if _, err := c.SignIn(ctx, pin); err != nil {
		return "", err
	}
	return resp.UID, nil
}

// SignIn trades the PIN for an access token and saves it.
func (c *Client) SignIn(ctx context.Context, pin string) (string, error) {
	cred, err := identity.CredentialFromPIN(pin)
	if err != nil {
		return "", err
	}
	tok, err := c.cfg.PasswordCredentialsToken(c.withHTTPClient(ctx), pin, cred.Secret)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.ErrorCode == "invalid_grant" {
			return "", &identity.AuthFailedError{Reason: re.ErrorDescription, Err: err}
		}
		return "", unavailable(err)
	}
	if err := c.tokens.Save(tok); err != nil {
		return "", err
	}
	p, err := c.profile(ctx)
	if err != nil {
		return "", err
	}
	c.logger.Info("signed in remotely", zap.String("uid", p.UID))
	return p.UID, nil
}

// SignOut forgets the saved token.
func (c *Client) SignOut(context.Context) error {
	return c.tokens.Clear()
}

// CurrentUser reports whether a usable token is saved. The uid is only known
// to the server, so it is fetched from there.
func (c *Client) CurrentUser(ctx context.Context) (string, bool) {
	p, err := c.profile(ctx)
	if err != nil {
		return "", false
	}
	return p.UID, true
}

// ClockIn clocks the signed-in user in.
func (c *Client) ClockIn(ctx context.Context) (ledger.Punch, error) {
	return c.punch(ctx, "/v1/clock-in")
}

// ClockOut clocks the signed-in user out.
func (c *Client) ClockOut(ctx context.Context) (ledger.Punch, error) {
	return c.punch(ctx, "/v1/clock-out")
}

// Today returns the signed-in user's record for the server's current day.
func (c *Client) Today(ctx context.Context) (model.DayRecord, error) {
	return c.day(ctx, "/v1/days/today")
}

// Day returns the signed-in user's record for day key.
func (c *Client) Day(ctx context.Context, key string) (model.DayRecord, error) {
	return c.day(ctx, "/v1/days/"+key)
}

// Profile returns the ledger root of the signed-in user.
func (c *Client) Profile(ctx context.Context) (model.Profile, error) {
	p, err := c.profile(ctx)
	if err != nil {
		return model.Profile{}, err
	}
	return model.Profile{Username: p.Username}, nil
}

func (c *Client) profile(ctx context.Context) (server.ProfileResponse, error) {
	var resp server.ProfileResponse
	err := c.authed(ctx, http.MethodGet, "/v1/profile", &resp)
	return resp, err
}

func (c *Client) punch(ctx context.Context, path string) (ledger.Punch, error) {
	var resp server.PunchResponse
	if err := c.authed(ctx, http.MethodPost, path, &resp); err != nil {
		return ledger.Punch{}, err
	}
	return ledger.Punch{
		UserID:         resp.UID,
		Day:            resp.Day,
		AtMillis:       resp.AtMillis,
		TotalShiftTime: resp.TotalShiftTime,
		SplitDay:       resp.SplitDay,
		SplitTotal:     resp.SplitTotal,
	}, nil
}

func (c *Client) day(ctx context.Context, path string) (model.DayRecord, error) {
	var resp server.DayResponse
	if err := c.authed(ctx, http.MethodGet, path, &resp); err != nil {
		return model.DayRecord{}, err
	}
	return resp.DayRecord, nil
}

// authed sends a request with the saved token. A missing or expired token
// means nobody is signed in; password-grant tokens are not refreshed.
func (c *Client) authed(ctx context.Context, method, path string, out any) error {
	tok, err := c.tokens.Load()
	if err != nil {
		return err
	}
	if tok == nil || !tok.Valid() {
		return ledger.ErrNoUserSignedIn
	}
	hc := oauth2.NewClient(c.withHTTPClient(ctx), oauth2.StaticTokenSource(tok))
	return c.call(ctx, hc, method, path, nil, out)
}

func (c *Client) call(ctx context.Context, hc *http.Client, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return unavailable(err)
	}
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return unavailable(fmt.Errorf("reading response body: %w", err))
	}
	c.logger.Debug("server call", zap.String("method", method), zap.String("path", path), zap.Int("status", resp.StatusCode))

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp.StatusCode, data)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding server response: %w", err)
	}
	return nil
}

func unavailable(err error) error {
	err = fmt.Errorf("%w: %w", docstore.ErrStoreUnavailable, err)
	return &ledger.StoreUnavailableError{Reason: err.Error(), Err: err}
}

// decodeError maps an error body back to the error the local mode returns.
func decodeError(status int, data []byte) error {
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.Unmarshal(data, &body); err != nil || body.Code == "" {
		return &APIError{Status: status, Code: "unknown", Message: strings.TrimSpace(string(data))}
	}

	switch body.Code {
	case "unauthenticated":
		return ledger.ErrNoUserSignedIn
	case "already_clocked_in":
		return ledger.ErrAlreadyClockedIn
	case "no_active_shift":
		return ledger.ErrNoActiveShift
	case "invalid_argument":
		return fmt.Errorf("%w: %s", ledger.ErrInvalidDay, body.Error)
	case "corrupt_record":
		return fmt.Errorf("%w: %s", ledger.ErrCorruptRecord, body.Error)
	case "store_unavailable":
		return &ledger.StoreUnavailableError{Reason: body.Error, Err: docstore.ErrStoreUnavailable}
	case "already_exists", "registration_failed":
		return &identity.RegistrationFailedError{Reason: body.Error}
	}
	return &APIError{Status: status, Code: body.Code, Message: body.Error}
}
