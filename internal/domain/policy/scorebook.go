package policy

import (
	"context"
	"fmt"
	"sync"
)

// IntStore is the slice of the durable key-value store the score book needs.
type IntStore interface {
	GetInt(ctx context.Context, key string, def int) int
	SetInt(ctx context.Context, key string, val int)
	Save(ctx context.Context) error
}

// ScoreBook reads and advances the per-user local score.
type ScoreBook struct {
	mu    sync.Mutex
	store IntStore
	users map[string]*sync.Mutex
}

// NewScoreBook wraps store.
func NewScoreBook(store IntStore) *ScoreBook {
	return &ScoreBook{store: store, users: make(map[string]*sync.Mutex)}
}

// Hold blocks until no other caller holds username and returns the release
// func.
func (b *ScoreBook) Hold(username string) func() {
	b.mu.Lock()
	m, ok := b.users[username]
	if !ok {
		m = &sync.Mutex{}
		b.users[username] = m
	}
	b.mu.Unlock()

	m.Lock()
	return m.Unlock
}

func scoreKey(username string) string {
	return "score_" + username
}

// Current returns the local score for username, 0 when unknown.
func (b *ScoreBook) Current(ctx context.Context, username string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.store.GetInt(ctx, scoreKey(username), 0)
}

// Advance stores score for username if it is higher than the current value.
// It returns whether the value moved.
func (b *ScoreBook) Advance(ctx context.Context, username string, score int) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !ShouldSubmit(b.store.GetInt(ctx, scoreKey(username), 0), score) {
		return false, nil
	}
	b.store.SetInt(ctx, scoreKey(username), score)
	if err := b.store.Save(ctx); err != nil {
		return true, fmt.Errorf("save local score: %w", err)
	}
	return true, nil
}
