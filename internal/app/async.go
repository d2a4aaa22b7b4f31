package service

import (
	"context"

	eventqueue "github.com/okian/podium/internal/adapters/mq/queue"
	"github.com/okian/podium/internal/domain/types"
	"github.com/okian/podium/pkg/logger"
)

// The Async variants run the operation on the worker pool and post done to
// the loop with the result. They return an error only when the operation
// could not be queued, in which case done is never called. Start must have
// been called.

// LoginAsync runs Login off the caller's goroutine.
func (s *Service) LoginAsync(ctx context.Context, creds types.Credentials, done func(types.Session, error)) error {
	return s.dispatch(ctx, "login", func(taskCtx context.Context) func() {
		sess, err := s.Login(taskCtx, creds)
		return func() { done(sess, err) }
	})
}

// RegisterAsync runs Register off the caller's goroutine.
func (s *Service) RegisterAsync(ctx context.Context, creds types.Credentials, done func(types.Session, error)) error {
	return s.dispatch(ctx, "register", func(taskCtx context.Context) func() {
		sess, err := s.Register(taskCtx, creds)
		return func() { done(sess, err) }
	})
}

// ValidateAsync runs ValidateSession off the caller's goroutine.
func (s *Service) ValidateAsync(ctx context.Context, done func(types.UserRecord, error)) error {
	return s.dispatch(ctx, "validate", func(taskCtx context.Context) func() {
		rec, err := s.ValidateSession(taskCtx)
		return func() { done(rec, err) }
	})
}

// RefreshAsync runs Refresh off the caller's goroutine.
func (s *Service) RefreshAsync(ctx context.Context, done func(types.Snapshot, error)) error {
	return s.dispatch(ctx, "refresh", func(taskCtx context.Context) func() {
		snap, err := s.Refresh(taskCtx)
		return func() { done(snap, err) }
	})
}

// SubmitAsync runs Submit off the caller's goroutine.
func (s *Service) SubmitAsync(ctx context.Context, candidate int, done func(bool, error)) error {
	return s.dispatch(ctx, "submit", func(taskCtx context.Context) func() {
		submitted, err := s.Submit(taskCtx, candidate)
		return func() { done(submitted, err) }
	})
}

// AddPointsAsync runs AddPoints off the caller's goroutine.
func (s *Service) AddPointsAsync(ctx context.Context, points int, done func(bool, error)) error {
	return s.dispatch(ctx, "add_points", func(taskCtx context.Context) func() {
		submitted, err := s.AddPoints(taskCtx, points)
		return func() { done(submitted, err) }
	})
}

// dispatch queues run; the continuation it returns is posted to the loop.
func (s *Service) dispatch(ctx context.Context, name string, run func(context.Context) func()) error {
	return s.queue.Enqueue(ctx, eventqueue.Task{
		Name: name,
		Run: func(taskCtx context.Context) {
			cont := run(taskCtx)
			if cont == nil {
				return
			}
			if !s.loop.Post(cont) {
				s.logger.Warn(taskCtx, "loop closed; dropping continuation", logger.String("task", name))
			}
		},
	})
}
