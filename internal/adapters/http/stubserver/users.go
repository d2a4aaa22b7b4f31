package stubserver

import (
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type user struct {
	ID           string
	Username     string
	PasswordHash []byte
	Active       bool
	Score        *int
}

// userStore keeps users in registration order, which is the order the
// collection endpoint returns them in.
type userStore struct {
	mu    sync.RWMutex
	order []*user
	index map[string]*user
	cost  int
}

func newUserStore(cost int) *userStore {
	return &userStore{index: make(map[string]*user), cost: cost}
}

func (s *userStore) create(username, password string) (user, error) {
	key := strings.ToLower(username)

	s.mu.RLock()
	_, exists := s.index[key]
	s.mu.RUnlock()
	if exists {
		return user{}, ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return user{}, err
	}
	u := &user{ID: uuid.NewString(), Username: username, PasswordHash: hash, Active: true}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.index[key]; exists {
		return user{}, ErrUserExists
	}
	s.index[key] = u
	s.order = append(s.order, u)
	return *u, nil
}

func (s *userStore) authenticate(username, password string) (user, error) {
	s.mu.RLock()
	u, ok := s.index[strings.ToLower(username)]
	var snapshot user
	if ok {
		snapshot = *u
	}
	s.mu.RUnlock()

	if !ok || bcrypt.CompareHashAndPassword(snapshot.PasswordHash, []byte(password)) != nil {
		return user{}, ErrInvalidCredentials
	}
	return snapshot, nil
}

func (s *userStore) setScore(username string, score int) (user, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.index[strings.ToLower(username)]
	if !ok {
		return user{}, ErrUserNotFound
	}
	u.Score = &score
	return *u, nil
}

func (s *userStore) list() []user {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]user, 0, len(s.order))
	for _, u := range s.order {
		out = append(out, *u)
	}
	return out
}
