// Package stubserver is an in-memory stand-in for the remote leaderboard API:
// registration, login, the user collection and score updates. Tokens are
// HS256 JWTs passed in the x-token header.
package stubserver

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/okian/podium/internal/adapters/http/swagger"
	"github.com/okian/podium/pkg/logger"
	"github.com/okian/podium/pkg/metrics"
)

// Shape selects how the collection endpoint wraps its array.
type Shape int32

const (
	// ShapeWrapped answers {"usuarios":[...]}.
	ShapeWrapped Shape = iota
	// ShapeBare answers [...].
	ShapeBare
)

const (
	tokenHeader    = "x-token"
	issuer         = "podium-stub"
	defaultTTL     = 24 * time.Hour
	secretSize     = 32
	maxRequestBody = 1 << 20
)

// Server implements the remote API over an in-memory user table.
type Server struct {
	users   *userStore
	secret  []byte
	ttl     time.Duration
	shape   atomic.Int32
	userKey string
	now     func() time.Time
	logger  logger.Logger
}

// Option applies a configuration option to the Server.
type Option func(*Server)

// WithSecret sets the JWT signing key. Empty keeps a random key.
func WithSecret(secret string) Option {
	return func(s *Server) {
		if secret != "" {
			s.secret = []byte(secret)
		}
	}
}

// WithTokenTTL sets token lifetime. A negative TTL mints already expired
// tokens.
func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Server) {
		if ttl != 0 {
			s.ttl = ttl
		}
	}
}

// WithShape sets the initial collection shape.
func WithShape(shape Shape) Option {
	return func(s *Server) { s.shape.Store(int32(shape)) }
}

// WithLoginUserKey names the object carrying the user in login responses.
func WithLoginUserKey(key string) Option {
	return func(s *Server) {
		if key != "" {
			s.userKey = key
		}
	}
}

// WithBcryptCost lowers hashing cost, mostly for tests.
func WithBcryptCost(cost int) Option {
	return func(s *Server) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			s.users.cost = cost
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a stub server with no users.
func New(opts ...Option) (*Server, error) {
	secret := make([]byte, secretSize)
	if _, err := rand.Read(secret); err != nil {
		return nil, err
	}
	s := &Server{
		users:   newUserStore(bcrypt.DefaultCost),
		secret:  secret,
		ttl:     defaultTTL,
		userKey: "usuario",
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("stubserver")
	}
	return s, nil
}

// SetShape switches the collection shape at runtime.
func (s *Server) SetShape(shape Shape) {
	s.shape.Store(int32(shape))
}

// Seed registers a user and optionally records a score.
func (s *Server) Seed(username, password string, score *int) error {
	if _, err := s.users.create(username, password); err != nil {
		return err
	}
	if score != nil {
		_, err := s.users.setScore(username, *score)
		return err
	}
	return nil
}

// Handler returns the routed API. Both "/api/..." paths and a mounting base
// path are up to the caller.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware(s.logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())
	swagger.Register(r)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", s.handleLogin)
		r.Route("/usuarios", func(r chi.Router) {
			r.Post("/", s.handleRegister)
			r.Group(func(r chi.Router) {
				r.Use(s.requireToken)
				r.Get("/", s.handleList)
				r.Patch("/", s.handleUpdateScore)
			})
		})
	})
	return r
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type scoreRequest struct {
	Username string `json:"username"`
	Data     *struct {
		Score *int `json:"score"`
	} `json:"data"`
}

type scoreData struct {
	Score int `json:"score"`
}

type userResponse struct {
	ID       string     `json:"_id"`
	Username string     `json:"username"`
	Estado   bool       `json:"estado"`
	Data     *scoreData `json:"data,omitempty"`
}

type messageResponse struct {
	Msg string `json:"msg"`
}

func toResponse(u user) userResponse {
	out := userResponse{ID: u.ID, Username: u.Username, Estado: u.Active}
	if u.Score != nil {
		out.Data = &scoreData{Score: *u.Score}
	}
	return out
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decode(w, r, &req) {
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		writeMessage(w, http.StatusBadRequest, "username and password are required")
		return
	}

	u, err := s.users.create(req.Username, req.Password)
	switch {
	case errors.Is(err, ErrUserExists):
		writeMessage(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.logger.Error(r.Context(), "register failed", logger.Error(err))
		writeMessage(w, http.StatusInternalServerError, "could not create user")
		return
	}
	s.logger.Info(r.Context(), "user registered", logger.String("username", u.Username))
	writeJSON(w, http.StatusOK, map[string]userResponse{"usuario": toResponse(u)})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decode(w, r, &req) {
		return
	}
	u, err := s.users.authenticate(strings.TrimSpace(req.Username), req.Password)
	if err != nil {
		writeMessage(w, http.StatusUnauthorized, err.Error())
		return
	}
	token, err := s.mint(u.Username)
	if err != nil {
		s.logger.Error(r.Context(), "token signing failed", logger.Error(err))
		writeMessage(w, http.StatusInternalServerError, "could not issue token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":   token,
		s.userKey: toResponse(u),
	})
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	users := s.users.list()
	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, toResponse(u))
	}
	if Shape(s.shape.Load()) == ShapeBare {
		writeJSON(w, http.StatusOK, out)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]userResponse{"usuarios": out})
}

func (s *Server) handleUpdateScore(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Data == nil || req.Data.Score == nil {
		writeMessage(w, http.StatusBadRequest, "username and data.score are required")
		return
	}
	u, err := s.users.setScore(req.Username, *req.Data.Score)
	if err != nil {
		writeMessage(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]userResponse{"usuario": toResponse(u)})
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := s.verify(r.Header.Get(tokenHeader)); err != nil {
			writeMessage(w, http.StatusUnauthorized, ErrInvalidToken.Error())
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) mint(username string) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   username,
		Issuer:    issuer,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *Server) verify(token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return "", errors.Join(ErrInvalidToken, err)
	}
	return claims.Subject, nil
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(v); err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, messageResponse{Msg: msg})
}
