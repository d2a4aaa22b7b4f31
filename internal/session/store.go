// Package session holds the authenticated identity and mirrors it to the
// durable key-value store.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/okian/podium/internal/adapters/kvstore"
	"github.com/okian/podium/internal/domain/types"
	"github.com/okian/podium/pkg/logger"
	"github.com/okian/podium/pkg/metrics"
)

// Durable keys.
const (
	KeyToken    = "token"
	KeyUsername = "username"
)

// KV is the slice of the durable store the session needs. Both keys are
// always written in one Commit so no save ever persists half a pair.
type KV interface {
	GetString(ctx context.Context, key, def string) string
	Commit(ctx context.Context, b kvstore.Batch) error
}

var clearBatch = kvstore.Batch{
	Delete:      []string{KeyToken, KeyUsername},
	KeepOnError: true,
}

// Store guards the session with a single-writer lock. Reads never block on
// the durable store.
type Store struct {
	mu      sync.RWMutex
	kv      KV
	current types.Session
	logger  logger.Logger
}

// New loads any persisted session. A half-written pair is discarded.
func New(ctx context.Context, kv KV, log logger.Logger) *Store {
	if log == nil {
		log = logger.Get().Named("session")
	}
	s := &Store{kv: kv, logger: log}

	loaded := types.Session{
		Token:    kv.GetString(ctx, KeyToken, ""),
		Username: kv.GetString(ctx, KeyUsername, ""),
	}
	switch {
	case loaded.Authenticated():
		s.current = loaded
		log.Info(ctx, "restored persisted session", logger.String("username", loaded.Username))
	case loaded.Token != "" || loaded.Username != "":
		log.Warn(ctx, "discarding incomplete persisted session", logger.String("username", loaded.Username))
		if err := kv.Commit(ctx, clearBatch); err != nil {
			log.Error(ctx, "failed to clear incomplete session", logger.Error(err))
		}
	}
	metrics.SetSessionActive(s.current.Authenticated())
	return s
}

// Get returns the current session.
func (s *Store) Get() types.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Set stores both fields durably. The in-memory session changes only once
// the durable write succeeded; on failure the store keeps the previous pair.
func (s *Store) Set(ctx context.Context, token, username string) error {
	if token == "" || username == "" {
		return ErrIncomplete
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pair := kvstore.Batch{Set: map[string]string{KeyToken: token, KeyUsername: username}}
	if err := s.kv.Commit(ctx, pair); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}

	s.current = types.Session{Token: token, Username: username}
	metrics.SetSessionActive(true)
	return nil
}

// Clear empties the session. Memory is cleared even when the durable write
// fails; the deletion stays buffered for the next save and the error is
// still returned.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = types.Session{}
	metrics.SetSessionActive(false)

	if err := s.kv.Commit(ctx, clearBatch); err != nil {
		return fmt.Errorf("persist cleared session: %w", err)
	}
	return nil
}
