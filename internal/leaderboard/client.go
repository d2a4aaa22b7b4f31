// Package leaderboard fetches and ranks the remote leaderboard and submits
// score updates.
//
// Fetches may overlap. Each one takes a sequence number when issued and its
// result is applied only if no later-issued fetch has been applied already,
// so the displayed leaderboard never moves backwards.
package leaderboard

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/podium/internal/adapters/http/apiclient"
	"github.com/okian/podium/internal/adapters/ui"
	"github.com/okian/podium/internal/domain/apierr"
	"github.com/okian/podium/internal/domain/normalize"
	"github.com/okian/podium/internal/domain/policy"
	"github.com/okian/podium/internal/domain/types"
	"github.com/okian/podium/pkg/logger"
	"github.com/okian/podium/pkg/metrics"
)

// PathUsers is the collection endpoint for reads and score writes.
const PathUsers = "api/usuarios"

// Transport sends one API request.
type Transport interface {
	Do(ctx context.Context, req apiclient.Request) (*apiclient.Response, error)
}

// Sessions exposes the current session.
type Sessions interface {
	Get() types.Session
}

// Renderer turns a snapshot into display text.
type Renderer interface {
	Render(s types.Snapshot) string
}

// Client fetches and submits against the remote leaderboard.
type Client struct {
	api      Transport
	sessions Sessions
	render   Renderer
	surface  ui.Surface
	logger   logger.Logger
	now      func() time.Time

	issued atomic.Uint64

	mu      sync.Mutex
	current types.Snapshot
}

// Option applies a configuration option to the Client.
type Option func(*Client)

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock overrides the time stamped on snapshots.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// New builds a Client.
func New(api Transport, sessions Sessions, render Renderer, surface ui.Surface, opts ...Option) *Client {
	c := &Client{
		api:      api,
		sessions: sessions,
		render:   render,
		surface:  surface,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.Get().Named("leaderboard")
	}
	return c
}

// Current returns the last applied snapshot. Snapshot.Empty reports whether
// any fetch has been applied.
func (c *Client) Current() types.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Fetch reads, normalizes and ranks the leaderboard. On success the snapshot
// is returned; it is applied and rendered only if it is the newest completed
// fetch. On any failure the applied snapshot and the display are untouched.
func (c *Client) Fetch(ctx context.Context) (types.Snapshot, error) {
	const op = "fetch leaderboard"

	sess := c.sessions.Get()
	if sess.Token == "" {
		metrics.RecordFetch("unauthenticated")
		return types.Snapshot{}, apierr.New(op, apierr.ErrUnauthenticated)
	}

	seq := c.issued.Add(1)

	resp, err := c.api.Do(ctx, apiclient.Request{
		Method:   http.MethodGet,
		Path:     PathUsers,
		Endpoint: "leaderboard",
		Token:    sess.Token,
	})
	if err != nil {
		return types.Snapshot{}, c.fetchFailed(ctx, apierr.Wrap(op, apierr.ErrFetch, err))
	}
	if !resp.OK() {
		e := apierr.Status(op, apierr.ErrFetch, resp.Status, apiclient.ServerMessage(resp.Body))
		if resp.Status == http.StatusUnauthorized || resp.Status == http.StatusForbidden {
			e.Err = apierr.ErrTokenExpired
		}
		return types.Snapshot{}, c.fetchFailed(ctx, e)
	}

	records, err := normalize.Users(resp.Body)
	if err != nil {
		return types.Snapshot{}, c.fetchFailed(ctx, apierr.Wrap(op, apierr.ErrFetch, err))
	}

	snap := types.Snapshot{
		Entries:   policy.Rank(records),
		Seq:       seq,
		FetchedAt: c.now(),
	}
	if !c.apply(snap) {
		metrics.RecordFetch("stale")
		c.logger.Debug(ctx, "discarded stale leaderboard", logger.Uint64("seq", seq))
		return snap, nil
	}

	metrics.RecordFetch("ok")
	metrics.UpdateSnapshotEntries(len(snap.Entries))
	return snap, nil
}

// apply installs snap if it is newer than the current one and renders it.
// Rendering happens under the lock so display updates follow sequence order.
func (c *Client) apply(snap types.Snapshot) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if snap.Seq <= c.current.Seq {
		return false
	}
	c.current = snap
	c.surface.SetLeaderboardText(c.render.Render(snap))
	return true
}

func (c *Client) fetchFailed(ctx context.Context, err error) error {
	metrics.RecordFetch("error")
	metrics.RecordErrorByComponent("leaderboard", apierr.KindName(err))
	c.logger.Warn(ctx, "leaderboard fetch failed", logger.Error(err))
	return err
}

// Submit writes candidate as username's score and refreshes the leaderboard
// on success. A failed refresh does not fail the submission.
func (c *Client) Submit(ctx context.Context, username string, candidate int) error {
	const op = "submit score"

	sess := c.sessions.Get()
	if !sess.Authenticated() {
		metrics.RecordScoreSubmission("unauthenticated")
		return apierr.New(op, apierr.ErrUnauthenticated)
	}
	if strings.TrimSpace(username) == "" {
		metrics.RecordScoreSubmission("invalid")
		return apierr.Wrap(op, apierr.ErrValidation, errors.New("username is required"))
	}
	if candidate <= 0 {
		metrics.RecordScoreSubmission("invalid")
		return apierr.Wrap(op, apierr.ErrValidation, fmt.Errorf("score %d is not positive", candidate))
	}

	resp, err := c.api.Do(ctx, apiclient.Request{
		Method:   http.MethodPatch,
		Path:     PathUsers,
		Endpoint: "score",
		Token:    sess.Token,
		Body:     types.NewScoreUpdate(username, candidate),
	})
	if err != nil {
		return c.submitFailed(ctx, apierr.Wrap(op, apierr.ErrSubmit, err))
	}
	if !resp.OK() {
		return c.submitFailed(ctx, apierr.Status(op, apierr.ErrSubmit, resp.Status, apiclient.ServerMessage(resp.Body)))
	}

	metrics.RecordScoreSubmission("ok")
	c.logger.Info(ctx, "score submitted", logger.String("username", username), logger.Int("score", candidate))

	if _, err := c.Fetch(ctx); err != nil {
		c.logger.Warn(ctx, "refresh after submit failed", logger.Error(err))
	}
	return nil
}

func (c *Client) submitFailed(ctx context.Context, err error) error {
	metrics.RecordScoreSubmission("error")
	metrics.RecordErrorByComponent("leaderboard", apierr.KindName(err))
	c.logger.Warn(ctx, "score submission failed", logger.Error(err))
	return err
}
