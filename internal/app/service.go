// Package service wires the podium client together: durable store, session,
// auth and leaderboard clients, score policy, and the async dispatch pool.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/okian/podium/internal/adapters/http/apiclient"
	"github.com/okian/podium/internal/adapters/kvstore"
	eventqueue "github.com/okian/podium/internal/adapters/mq/queue"
	workerpool "github.com/okian/podium/internal/adapters/mq/worker"
	"github.com/okian/podium/internal/adapters/ui"
	"github.com/okian/podium/internal/auth"
	"github.com/okian/podium/internal/config"
	"github.com/okian/podium/internal/domain/apierr"
	"github.com/okian/podium/internal/domain/policy"
	"github.com/okian/podium/internal/domain/presenter"
	"github.com/okian/podium/internal/domain/types"
	"github.com/okian/podium/internal/leaderboard"
	"github.com/okian/podium/internal/session"
	"github.com/okian/podium/pkg/logger"
	"github.com/okian/podium/pkg/metrics"
)

// taskTimeoutFactor sizes a worker task's deadline in request timeouts; the
// longest task (register then login then refresh) makes three calls.
const taskTimeoutFactor = 4

// Service is the client's single entry point.
type Service struct {
	mu      sync.Mutex
	started bool

	store     kvstore.Store
	ownsStore bool
	sessions  *session.Store
	auth      *auth.Client
	board     *leaderboard.Client
	book      *policy.ScoreBook
	advance   policy.AdvanceMode

	loop    *Loop
	surface ui.Surface
	queue   *eventqueue.InMemoryQueue
	pool    *workerpool.Pool

	httpClient *http.Client
	logger     logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStore uses store instead of opening the configured backend. The caller
// keeps ownership and closes it.
func WithStore(store kvstore.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithHTTPClient replaces the HTTP client used for the remote API.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *Service) {
		if hc != nil {
			s.httpClient = hc
		}
	}
}

// WithLoop sets the loop continuations and surface calls are posted to.
func WithLoop(l *Loop) Option {
	return func(s *Service) {
		if l != nil {
			s.loop = l
		}
	}
}

// New constructs a Service from cfg. Surface calls are posted to the loop,
// so nothing reaches surface until the loop is drained or run.
func New(ctx context.Context, cfg *config.Config, surface ui.Surface, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	advance, err := policy.ParseAdvanceMode(cfg.ScoreAdvance)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}

	s := &Service{advance: advance}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get()
	}
	if s.loop == nil {
		s.loop = NewLoop()
	}
	if s.store == nil {
		store, err := OpenStore(ctx, cfg, s.logger)
		if err != nil {
			return nil, err
		}
		s.store = store
		s.ownsStore = true
	}

	apiOpts := []apiclient.Option{
		apiclient.WithLogger(s.logger.Named("apiclient")),
		apiclient.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
	}
	if s.httpClient != nil {
		apiOpts = append(apiOpts, apiclient.WithHTTPClient(s.httpClient))
	}
	apiOpts = append(apiOpts, apiclient.WithTimeout(cfg.RequestTimeout))
	api, err := apiclient.New(cfg.BaseURL, apiOpts...)
	if err != nil {
		_ = s.closeStore()
		return nil, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}

	s.surface = ui.Marshal(surface, s.loop)
	s.sessions = session.New(ctx, s.store, s.logger.Named("session"))
	s.auth = auth.New(api, s.sessions, s.surface,
		auth.WithLogger(s.logger.Named("auth")),
		auth.WithProfileFailureAsExpiry(cfg.TreatProfileFailureAsExpiry),
	)
	s.board = leaderboard.New(api, s.sessions,
		presenter.New(presenter.WithTitle(cfg.LeaderboardTitle), presenter.WithSanitizer(cfg.SanitizeUsernames)),
		s.surface,
		leaderboard.WithLogger(s.logger.Named("leaderboard")),
	)
	s.book = policy.NewScoreBook(s.store)
	s.queue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(cfg.QueueSize))
	s.pool = workerpool.NewPool(cfg.WorkerCount, s.queue,
		workerpool.WithLogger(s.logger.Named("worker-pool")),
		workerpool.WithTaskTimeout(cfg.RequestTimeout*taskTimeoutFactor),
	)

	s.logger.Info(ctx, "podium client ready",
		logger.String("base_url", api.BaseURL()),
		logger.String("store", cfg.StoreBackend),
		logger.String("score_advance", advance.String()),
		logger.Bool("session_restored", s.sessions.Get().Authenticated()),
	)
	return s, nil
}

// Start launches the worker pool used by the async operations.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.pool.Start(ctx)
	s.started = true
}

// Close drains queued async work and releases the store if the service
// opened it.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()

	var errs []error
	if started {
		if err := s.pool.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	} else {
		_ = s.queue.Close()
	}
	if err := s.closeStore(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (s *Service) closeStore() error {
	if !s.ownsStore {
		return nil
	}
	return s.store.Close()
}

// Loop returns the loop surface calls and continuations are posted to.
func (s *Service) Loop() *Loop { return s.loop }

// Session returns the current session.
func (s *Service) Session() types.Session { return s.sessions.Get() }

// AuthState returns the auth lifecycle state.
func (s *Service) AuthState() auth.State { return s.auth.State() }

// Snapshot returns the last applied leaderboard.
func (s *Service) Snapshot() types.Snapshot { return s.board.Current() }

// LocalScore returns the cached score of the signed-in user, 0 when signed out.
func (s *Service) LocalScore(ctx context.Context) int {
	sess := s.sessions.Get()
	if !sess.Authenticated() {
		return 0
	}
	return s.book.Current(ctx, sess.Username)
}

// Login signs in and refreshes the leaderboard.
func (s *Service) Login(ctx context.Context, creds types.Credentials) (types.Session, error) {
	sess, err := s.auth.Login(ctx, creds)
	if err != nil {
		return sess, err
	}
	s.refreshQuietly(ctx)
	return sess, nil
}

// Register creates the account, signs in and refreshes the leaderboard.
func (s *Service) Register(ctx context.Context, creds types.Credentials) (types.Session, error) {
	sess, err := s.auth.Register(ctx, creds)
	if err != nil {
		return sess, err
	}
	s.refreshQuietly(ctx)
	return sess, nil
}

// LoginFrom reads credentials from in and signs in.
func (s *Service) LoginFrom(ctx context.Context, in ui.Input) (types.Session, error) {
	creds, err := readCredentials(in)
	if err != nil {
		return types.Session{}, err
	}
	return s.Login(ctx, creds)
}

// RegisterFrom reads credentials from in and registers.
func (s *Service) RegisterFrom(ctx context.Context, in ui.Input) (types.Session, error) {
	creds, err := readCredentials(in)
	if err != nil {
		return types.Session{}, err
	}
	return s.Register(ctx, creds)
}

func readCredentials(in ui.Input) (types.Credentials, error) {
	if in == nil {
		return types.Credentials{}, ui.ErrNoInput
	}
	username, password, err := in.Credentials()
	if err != nil {
		return types.Credentials{}, err
	}
	return types.Credentials{Username: username, Password: password}, nil
}

// Logout clears the session locally.
func (s *Service) Logout(ctx context.Context) error {
	return s.auth.Logout(ctx)
}

// ValidateSession confirms a restored session and refreshes the leaderboard.
func (s *Service) ValidateSession(ctx context.Context) (types.UserRecord, error) {
	rec, err := s.auth.ValidateSession(ctx)
	if err != nil {
		return rec, err
	}
	s.refreshQuietly(ctx)
	return rec, nil
}

// Refresh fetches the leaderboard.
func (s *Service) Refresh(ctx context.Context) (types.Snapshot, error) {
	return s.board.Fetch(ctx)
}

func (s *Service) refreshQuietly(ctx context.Context) {
	if _, err := s.board.Fetch(ctx); err != nil {
		s.logger.Warn(ctx, "leaderboard refresh failed", logger.Error(err))
	}
}

// Submit sends candidate as the signed-in user's score when the score policy
// accepts it. It reports whether a remote write was attempted.
func (s *Service) Submit(ctx context.Context, candidate int) (bool, error) {
	return s.submit(ctx, "submit score", func(int) int { return candidate })
}

// submit holds the user's score book entry from reading the local score
// until the local score has advanced. Overlapping submissions run one at a
// time.
func (s *Service) submit(ctx context.Context, op string, next func(local int) int) (bool, error) {
	sess := s.sessions.Get()
	if !sess.Authenticated() {
		return false, apierr.New(op, apierr.ErrUnauthenticated)
	}

	release := s.book.Hold(sess.Username)
	defer release()

	local := s.book.Current(ctx, sess.Username)
	candidate := next(local)
	if !policy.ShouldSubmit(local, candidate) {
		metrics.RecordScoreSubmission("skipped")
		s.logger.Debug(ctx, "score not an improvement",
			logger.String("username", sess.Username),
			logger.Int("local", local),
			logger.Int("candidate", candidate),
		)
		return false, nil
	}

	if s.advance == policy.AdvanceOptimistic {
		if _, err := s.book.Advance(ctx, sess.Username, candidate); err != nil {
			s.logger.Warn(ctx, "local score not persisted", logger.Error(err))
		}
		return true, s.board.Submit(ctx, sess.Username, candidate)
	}

	if err := s.board.Submit(ctx, sess.Username, candidate); err != nil {
		return true, err
	}
	if _, err := s.book.Advance(ctx, sess.Username, candidate); err != nil {
		return true, fmt.Errorf("%s: record local score: %w", op, err)
	}
	return true, nil
}

// AddPoints submits the local score plus points. The leaderboard is
// refreshed whenever the submission did not already refresh it.
func (s *Service) AddPoints(ctx context.Context, points int) (bool, error) {
	const op = "add points"

	if !s.sessions.Get().Authenticated() {
		return false, apierr.New(op, apierr.ErrUnauthenticated)
	}
	submitted, err := s.submit(ctx, op, func(local int) int { return local + points })
	if !submitted || err != nil {
		s.refreshQuietly(ctx)
	}
	return submitted, err
}
