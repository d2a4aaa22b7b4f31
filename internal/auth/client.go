// Package auth implements login, registration, logout and session
// validation against the remote API.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/okian/podium/internal/adapters/http/apiclient"
	"github.com/okian/podium/internal/adapters/ui"
	"github.com/okian/podium/internal/domain/apierr"
	"github.com/okian/podium/internal/domain/normalize"
	"github.com/okian/podium/internal/domain/types"
	"github.com/okian/podium/pkg/logger"
	"github.com/okian/podium/pkg/metrics"
)

// Remote paths.
const (
	PathLogin = "api/auth/login"
	PathUsers = "api/usuarios"
)

// Transport sends one API request.
type Transport interface {
	Do(ctx context.Context, req apiclient.Request) (*apiclient.Response, error)
}

// SessionStore is the session the client owns.
type SessionStore interface {
	Get() types.Session
	Set(ctx context.Context, token, username string) error
	Clear(ctx context.Context) error
}

// Client runs the auth operations. It is the only writer of the session.
type Client struct {
	api      Transport
	sessions SessionStore
	surface  ui.Surface
	logger   logger.Logger
	now      func() time.Time

	treatProfileFailureAsExpiry bool

	// tx is held across every transition: the session write, the state
	// change and the surface call land together.
	tx sync.Mutex

	mu    sync.Mutex
	state State
}

// Option applies a configuration option to the Client.
type Option func(*Client)

// WithProfileFailureAsExpiry controls how validation treats failures that are
// not a clear rejection. When true (the default) any failure, network errors
// included, expires the session. When false only 4xx responses do; transport
// errors and 5xx are returned as network errors and the session is kept.
func WithProfileFailureAsExpiry(enabled bool) Option {
	return func(c *Client) { c.treatProfileFailureAsExpiry = enabled }
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock overrides the time source used for local token expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// New builds a Client. The initial state is PendingValidation when the
// session store already holds a session.
func New(api Transport, sessions SessionStore, surface ui.Surface, opts ...Option) *Client {
	c := &Client{
		api:                         api,
		sessions:                    sessions,
		surface:                     surface,
		now:                         time.Now,
		treatProfileFailureAsExpiry: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.Get().Named("auth")
	}
	if sessions.Get().Authenticated() {
		c.state = StatePendingValidation
	}
	return c
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

type loginUser struct {
	Username string `json:"username"`
}

type loginResponse struct {
	Token   string     `json:"token"`
	Usuario *loginUser `json:"usuario"`
	User    *loginUser `json:"user"`
}

func (r loginResponse) username() string {
	for _, u := range []*loginUser{r.Usuario, r.User} {
		if u != nil && strings.TrimSpace(u.Username) != "" {
			return u.Username
		}
	}
	return ""
}

// Login exchanges credentials for a session. A failed attempt leaves any
// existing session untouched.
func (c *Client) Login(ctx context.Context, creds types.Credentials) (types.Session, error) {
	const op = "login"

	if !creds.Complete() {
		return types.Session{}, c.fail(ctx, op, apierr.New(op, apierr.ErrValidation))
	}

	resp, err := c.api.Do(ctx, apiclient.Request{
		Method:   http.MethodPost,
		Path:     PathLogin,
		Endpoint: "login",
		Body:     creds,
	})
	if err != nil {
		return types.Session{}, c.fail(ctx, op, transportError(op, err))
	}
	if !resp.OK() {
		return types.Session{}, c.fail(ctx, op,
			apierr.Status(op, apierr.ErrAuthFailed, resp.Status, apiclient.ServerMessage(resp.Body)))
	}

	var body loginResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return types.Session{}, c.fail(ctx, op, malformed(op, resp.Status, err))
	}
	username := body.username()
	if body.Token == "" || username == "" {
		return types.Session{}, c.fail(ctx, op, malformed(op, resp.Status, errors.New("token or username missing")))
	}

	c.tx.Lock()
	err = c.sessions.Set(ctx, body.Token, username)
	if err == nil {
		c.setState(StateAuthenticated)
		c.surface.HideAuthPanel()
	}
	c.tx.Unlock()
	if err != nil {
		return types.Session{}, c.fail(ctx, op, apierr.Wrap(op, apierr.ErrAuthFailed, err))
	}

	metrics.RecordAuthEvent(op, "ok")
	c.logger.Info(ctx, "logged in", logger.String("username", username))
	return types.Session{Token: body.Token, Username: username}, nil
}

// Register creates the account and then logs in with the same credentials.
// A failed registration does not attempt the login.
func (c *Client) Register(ctx context.Context, creds types.Credentials) (types.Session, error) {
	const op = "register"

	if !creds.Complete() {
		return types.Session{}, c.fail(ctx, op, apierr.New(op, apierr.ErrValidation))
	}

	resp, err := c.api.Do(ctx, apiclient.Request{
		Method:   http.MethodPost,
		Path:     PathUsers,
		Endpoint: "register",
		Body:     creds,
	})
	if err != nil {
		return types.Session{}, c.fail(ctx, op, transportError(op, err))
	}
	if !resp.OK() {
		return types.Session{}, c.fail(ctx, op,
			apierr.Status(op, apierr.ErrRegisterFailed, resp.Status, apiclient.ServerMessage(resp.Body)))
	}

	metrics.RecordAuthEvent(op, "ok")
	c.logger.Info(ctx, "registered", logger.String("username", creds.Username))
	return c.Login(ctx, creds)
}

// Logout clears the session locally and shows the auth surface. No server
// call is made. The returned error only reports a failed durable write; the
// in-memory session is cleared regardless.
func (c *Client) Logout(ctx context.Context) error {
	c.tx.Lock()
	err := c.clearLocked(ctx)
	c.tx.Unlock()
	return c.loggedOut(ctx, err)
}

// clearLocked requires tx.
func (c *Client) clearLocked(ctx context.Context) error {
	err := c.sessions.Clear(ctx)
	c.setState(StateUnauthenticated)
	c.surface.ShowAuthPanel()
	return err
}

func (c *Client) loggedOut(ctx context.Context, err error) error {
	metrics.RecordAuthEvent("logout", "ok")
	if err != nil {
		c.logger.Error(ctx, "logout could not persist", logger.Error(err))
		return err
	}
	c.logger.Info(ctx, "logged out")
	return nil
}

// ValidateSession checks the stored session against the server and returns
// the caller's own record. Rejections expire the session and log out.
func (c *Client) ValidateSession(ctx context.Context) (types.UserRecord, error) {
	const op = "validate session"

	sess := c.sessions.Get()
	if !sess.Authenticated() {
		c.tx.Lock()
		if !c.sessions.Get().Authenticated() {
			c.setState(StateUnauthenticated)
			c.surface.ShowAuthPanel()
		}
		c.tx.Unlock()
		return types.UserRecord{}, c.fail(ctx, "validate", apierr.New(op, apierr.ErrUnauthenticated))
	}

	if tokenExpired(sess.Token, c.now()) {
		return types.UserRecord{}, c.expire(ctx, sess, apierr.Wrap(op, apierr.ErrTokenExpired, errors.New("token past exp")))
	}

	resp, err := c.api.Do(ctx, apiclient.Request{
		Method:   http.MethodGet,
		Path:     PathUsers,
		Endpoint: "profile",
		Token:    sess.Token,
	})
	if err != nil {
		if !c.treatProfileFailureAsExpiry {
			return types.UserRecord{}, c.fail(ctx, "validate", transportError(op, err))
		}
		return types.UserRecord{}, c.expire(ctx, sess, apierr.Wrap(op, apierr.ErrTokenExpired, err))
	}
	if !resp.OK() {
		msg := apiclient.ServerMessage(resp.Body)
		if !c.treatProfileFailureAsExpiry && resp.Status >= http.StatusInternalServerError {
			return types.UserRecord{}, c.fail(ctx, "validate", apierr.Status(op, apierr.ErrNetwork, resp.Status, msg))
		}
		return types.UserRecord{}, c.expire(ctx, sess, apierr.Status(op, apierr.ErrTokenExpired, resp.Status, msg))
	}

	record := c.ownRecord(ctx, sess.Username, resp.Body)

	c.tx.Lock()
	defer c.tx.Unlock()
	if c.sessions.Get().Token != sess.Token {
		// superseded by a newer login or a logout while in flight
		return record, nil
	}
	c.setState(StateAuthenticated)
	c.surface.HideAuthPanel()
	metrics.RecordAuthEvent("validate", "ok")
	return record, nil
}

// ownRecord picks the caller out of the profile body. An unreadable body does
// not invalidate a session the server accepted.
func (c *Client) ownRecord(ctx context.Context, username string, body []byte) types.UserRecord {
	fallback := types.UserRecord{Username: username, Active: true}

	records, err := normalize.Users(body)
	if err != nil {
		c.logger.Warn(ctx, "profile body unreadable; keeping session", logger.Error(err))
		return fallback
	}
	for _, r := range records {
		if r.Username == username {
			return r
		}
	}
	for _, r := range records {
		if strings.EqualFold(r.Username, username) {
			return r
		}
	}
	c.logger.Warn(ctx, "own record missing from profile body", logger.String("username", username))
	return fallback
}

// expire logs out when sess is still the current session. A newer session
// established while the check was in flight is left alone.
func (c *Client) expire(ctx context.Context, sess types.Session, err error) error {
	metrics.RecordAuthEvent("validate", apierr.KindName(err))
	c.logger.Warn(ctx, "session rejected", logger.String("username", sess.Username), logger.Error(err))

	c.tx.Lock()
	current := c.sessions.Get().Token == sess.Token
	var clearErr error
	if current {
		clearErr = c.clearLocked(ctx)
	}
	c.tx.Unlock()

	if !current {
		return err
	}
	if logoutErr := c.loggedOut(ctx, clearErr); logoutErr != nil {
		return errors.Join(err, logoutErr)
	}
	return err
}

func (c *Client) fail(ctx context.Context, event string, err error) error {
	metrics.RecordAuthEvent(event, apierr.KindName(err))
	metrics.RecordErrorByComponent("auth", apierr.KindName(err))
	c.logger.Warn(ctx, event+" failed", logger.Error(err))
	return err
}

// transportError keeps an already classified transport error and classifies
// anything else as a network failure.
func transportError(op string, err error) error {
	var classified *apierr.Error
	if errors.As(err, &classified) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return apierr.Wrap(op, apierr.ErrNetwork, err)
}

func malformed(op string, status int, cause error) error {
	return &apierr.Error{
		Op:     op,
		Kind:   apierr.ErrAuthFailed,
		Status: status,
		Err:    apierr.Wrap("decode login response", apierr.ErrParse, cause),
	}
}
