// Package kvstore provides the durable key-value collaborator backing the
// session and the per-user local score.
//
// Reads and writes are synchronous and never fail from the caller's point of
// view; writes are buffered until Save or Commit, the only calls that report
// persistence errors.
package kvstore

import (
	"context"
	"strconv"
	"sync"
)

// Store is the key-value contract.
type Store interface {
	GetString(ctx context.Context, key, def string) string
	SetString(ctx context.Context, key, val string)
	GetInt(ctx context.Context, key string, def int) int
	SetInt(ctx context.Context, key string, val int)
	Delete(ctx context.Context, key string)
	// Save makes every write since the previous Save durable.
	Save(ctx context.Context) error
	// Commit applies b and saves as one step. No concurrent Save observes
	// part of b.
	Commit(ctx context.Context, b Batch) error
	Close() error
}

// Batch is a group of writes committed together.
type Batch struct {
	Set    map[string]string
	Delete []string
	// KeepOnError leaves the writes buffered when the save fails so the
	// next Save retries them. By default they are reverted.
	KeepOnError bool
}

// Memory is a process-local Store. Save only counts calls.
type Memory struct {
	mu      sync.RWMutex
	vals    map[string]string
	saves   int
	saveErr error

	// saveMu serializes Save and Commit.
	saveMu sync.Mutex
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{vals: make(map[string]string)}
}

func (m *Memory) GetString(_ context.Context, key, def string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.vals[key]; ok {
		return v
	}
	return def
}

func (m *Memory) SetString(_ context.Context, key, val string) {
	m.mu.Lock()
	m.vals[key] = val
	m.mu.Unlock()
}

func (m *Memory) GetInt(ctx context.Context, key string, def int) int {
	return parseInt(m.GetString(ctx, key, ""), def)
}

func (m *Memory) SetInt(ctx context.Context, key string, val int) {
	m.SetString(ctx, key, strconv.Itoa(val))
}

func (m *Memory) Delete(_ context.Context, key string) {
	m.mu.Lock()
	delete(m.vals, key)
	m.mu.Unlock()
}

func (m *Memory) Save(context.Context) error {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()
	return m.count()
}

func (m *Memory) count() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	return nil
}

func (m *Memory) Commit(_ context.Context, b Batch) error {
	return m.commit(b, m.count)
}

// FailSaves makes every following save return err. A nil err clears it.
func (m *Memory) FailSaves(err error) {
	m.mu.Lock()
	m.saveErr = err
	m.mu.Unlock()
}

// Saves returns how many saves succeeded.
func (m *Memory) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

func (m *Memory) Close() error { return nil }

// prior is a key's value before a batch touched it.
type prior struct {
	val string
	ok  bool
}

// commit applies b and runs save with saveMu held, reverting b when save
// fails unless b asks to keep it.
func (m *Memory) commit(b Batch, save func() error) error {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	prev := m.apply(b)
	if err := save(); err != nil {
		if !b.KeepOnError {
			m.revert(prev)
		}
		return err
	}
	return nil
}

func (m *Memory) apply(b Batch) map[string]prior {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := make(map[string]prior, len(b.Set)+len(b.Delete))
	record := func(k string) {
		if _, seen := prev[k]; !seen {
			v, ok := m.vals[k]
			prev[k] = prior{val: v, ok: ok}
		}
	}
	for k, v := range b.Set {
		record(k)
		m.vals[k] = v
	}
	for _, k := range b.Delete {
		record(k)
		delete(m.vals, k)
	}
	return prev
}

func (m *Memory) revert(prev map[string]prior) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, p := range prev {
		if p.ok {
			m.vals[k] = p.val
			continue
		}
		delete(m.vals, k)
	}
}

// snapshot copies the current values.
func (m *Memory) snapshot() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.vals))
	for k, v := range m.vals {
		out[k] = v
	}
	return out
}

func parseInt(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
