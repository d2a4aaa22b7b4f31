package auth_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/okian/podium/internal/adapters/http/apiclient"
	"github.com/okian/podium/internal/adapters/kvstore"
	"github.com/okian/podium/internal/adapters/ui"
	"github.com/okian/podium/internal/auth"
	"github.com/okian/podium/internal/domain/apierr"
	"github.com/okian/podium/internal/domain/types"
	"github.com/okian/podium/internal/session"
	"github.com/okian/podium/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

type fixture struct {
	srv      *httptest.Server
	kv       *kvstore.Memory
	sessions *session.Store
	surface  *ui.Recorder
	client   *auth.Client

	mu   sync.Mutex
	hits map[string]int
}

func (f *fixture) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[key]
}

// newFixture serves handler and seeds the store with an optional session.
func newFixture(t *testing.T, handler http.HandlerFunc, seed *types.Session, opts ...auth.Option) *fixture {
	f := &fixture{hits: map[string]int{}}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.hits[r.Method+" "+r.URL.Path]++
		f.mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(f.srv.Close)

	ctx := context.Background()
	f.kv = kvstore.NewMemory()
	if seed != nil {
		f.kv.SetString(ctx, session.KeyToken, seed.Token)
		f.kv.SetString(ctx, session.KeyUsername, seed.Username)
	}
	f.sessions = session.New(ctx, f.kv, logger.Nop())
	f.surface = &ui.Recorder{}

	api, err := apiclient.New(f.srv.URL, apiclient.WithLogger(logger.Nop()))
	So(err, ShouldBeNil)
	opts = append([]auth.Option{auth.WithLogger(logger.Nop())}, opts...)
	f.client = auth.New(api, f.sessions, f.surface, opts...)
	return f
}

func reply(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func authPanelHidden(r *ui.Recorder) bool {
	visible, known := r.AuthVisible()
	return known && !visible
}

func authPanelShown(r *ui.Recorder) bool {
	visible, known := r.AuthVisible()
	return known && visible
}

var bob = types.Credentials{Username: "bob", Password: "pw"}

func TestLogin(t *testing.T) {
	ctx := context.Background()

	Convey("Given a server accepting bob", t, func() {
		f := newFixture(t, reply(http.StatusOK, `{"token":"abc","usuario":{"username":"bob"}}`), nil)
		So(f.client.State(), ShouldEqual, auth.StateUnauthenticated)

		Convey("When bob logs in", func() {
			sess, err := f.client.Login(ctx, bob)

			Convey("Then the session is abc/bob, persisted, and the auth panel hidden", func() {
				So(err, ShouldBeNil)
				So(sess, ShouldResemble, types.Session{Token: "abc", Username: "bob"})
				So(f.sessions.Get(), ShouldResemble, sess)
				So(f.kv.GetString(ctx, session.KeyToken, ""), ShouldEqual, "abc")
				So(authPanelHidden(f.surface), ShouldBeTrue)
				So(f.client.State(), ShouldEqual, auth.StateAuthenticated)
				So(f.count("POST /api/auth/login"), ShouldEqual, 1)
			})
		})
	})

	Convey("Given a server answering with a user object", t, func() {
		f := newFixture(t, reply(http.StatusOK, `{"token":"abc","user":{"username":"bob"}}`), nil)

		sess, err := f.client.Login(ctx, bob)

		Convey("Then the username is taken from it", func() {
			So(err, ShouldBeNil)
			So(sess.Username, ShouldEqual, "bob")
		})
	})

	Convey("Given an existing session and a server rejecting the new login", t, func() {
		f := newFixture(t, reply(http.StatusUnauthorized, `{"msg":"Usuario no encontrado"}`),
			&types.Session{Token: "old", Username: "ann"})

		_, err := f.client.Login(ctx, bob)

		Convey("Then AuthFailed carries the server message and the old session stays", func() {
			So(errors.Is(err, apierr.ErrAuthFailed), ShouldBeTrue)
			So(apierr.Message(err), ShouldEqual, "Usuario no encontrado")
			So(apierr.StatusOf(err), ShouldEqual, http.StatusUnauthorized)
			So(f.sessions.Get(), ShouldResemble, types.Session{Token: "old", Username: "ann"})
			So(f.surface.Calls(), ShouldBeEmpty)
		})
	})

	Convey("Given a server answering 200 with a malformed body", t, func() {
		for _, body := range []string{`not json`, `{"token":"abc"}`, `{"usuario":{"username":"bob"}}`, `{"token":"abc","usuario":{"username":""}}`} {
			f := newFixture(t, reply(http.StatusOK, body), nil)

			_, err := f.client.Login(ctx, bob)

			So(errors.Is(err, apierr.ErrAuthFailed), ShouldBeTrue)
			So(errors.Is(err, apierr.ErrParse), ShouldBeTrue)
			So(f.sessions.Get().Authenticated(), ShouldBeFalse)
		}
	})

	Convey("Given incomplete credentials", t, func() {
		f := newFixture(t, reply(http.StatusOK, `{}`), nil)

		_, errUser := f.client.Login(ctx, types.Credentials{Password: "pw"})
		_, errPass := f.client.Login(ctx, types.Credentials{Username: "bob"})

		Convey("Then validation fails before any request", func() {
			So(errors.Is(errUser, apierr.ErrValidation), ShouldBeTrue)
			So(errors.Is(errPass, apierr.ErrValidation), ShouldBeTrue)
			So(f.count("POST /api/auth/login"), ShouldEqual, 0)
		})
	})

	Convey("Given an unreachable server", t, func() {
		f := newFixture(t, reply(http.StatusOK, `{}`), nil)
		f.srv.Close()

		_, err := f.client.Login(ctx, bob)

		Convey("Then the failure is a network error", func() {
			So(errors.Is(err, apierr.ErrNetwork), ShouldBeTrue)
			So(errors.Is(err, apierr.ErrAuthFailed), ShouldBeFalse)
		})
	})
}

func TestRegister(t *testing.T) {
	ctx := context.Background()

	Convey("Given a server accepting registration and login", t, func() {
		mux := http.NewServeMux()
		mux.HandleFunc("POST /api/usuarios", reply(http.StatusOK, `{"usuario":{"_id":"1","username":"bob"}}`))
		mux.HandleFunc("POST /api/auth/login", reply(http.StatusOK, `{"token":"abc","usuario":{"username":"bob"}}`))
		f := newFixture(t, mux.ServeHTTP, nil)

		Convey("When bob registers", func() {
			sess, err := f.client.Register(ctx, bob)

			Convey("Then he is logged in without a second call from the caller", func() {
				So(err, ShouldBeNil)
				So(sess, ShouldResemble, types.Session{Token: "abc", Username: "bob"})
				So(f.count("POST /api/usuarios"), ShouldEqual, 1)
				So(f.count("POST /api/auth/login"), ShouldEqual, 1)
				So(authPanelHidden(f.surface), ShouldBeTrue)
			})
		})
	})

	Convey("Given a server rejecting the registration", t, func() {
		mux := http.NewServeMux()
		mux.HandleFunc("POST /api/usuarios", reply(http.StatusBadRequest, `{"msg":"username already exists"}`))
		mux.HandleFunc("POST /api/auth/login", reply(http.StatusOK, `{"token":"abc","usuario":{"username":"bob"}}`))
		f := newFixture(t, mux.ServeHTTP, nil)

		_, err := f.client.Register(ctx, bob)

		Convey("Then RegisterFailed is returned and no login is attempted", func() {
			So(errors.Is(err, apierr.ErrRegisterFailed), ShouldBeTrue)
			So(apierr.Message(err), ShouldEqual, "username already exists")
			So(f.count("POST /api/auth/login"), ShouldEqual, 0)
			So(f.sessions.Get().Authenticated(), ShouldBeFalse)
		})
	})
}

func TestLogout(t *testing.T) {
	Convey("Given a logged in client", t, func() {
		f := newFixture(t, reply(http.StatusOK, `{}`), &types.Session{Token: "abc", Username: "bob"})
		So(f.client.State(), ShouldEqual, auth.StatePendingValidation)

		Convey("When logging out", func() {
			err := f.client.Logout(context.Background())

			Convey("Then the session is cleared locally without any request", func() {
				So(err, ShouldBeNil)
				So(f.sessions.Get().Authenticated(), ShouldBeFalse)
				So(authPanelShown(f.surface), ShouldBeTrue)
				So(f.client.State(), ShouldEqual, auth.StateUnauthenticated)
				So(f.count("GET /api/usuarios"), ShouldEqual, 0)
			})
		})
	})
}

func TestValidateSession(t *testing.T) {
	ctx := context.Background()
	seed := &types.Session{Token: "abc", Username: "bob"}

	Convey("Given no session", t, func() {
		f := newFixture(t, reply(http.StatusOK, `[]`), nil)

		_, err := f.client.ValidateSession(ctx)

		Convey("Then it fails fast as unauthenticated", func() {
			So(errors.Is(err, apierr.ErrUnauthenticated), ShouldBeTrue)
			So(f.count("GET /api/usuarios"), ShouldEqual, 0)
			So(authPanelShown(f.surface), ShouldBeTrue)
		})
	})

	Convey("Given a server accepting the token", t, func() {
		gotToken := make(chan string, 1)
		f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
			gotToken <- r.Header.Get("x-token")
			reply(http.StatusOK, `{"usuarios":[{"_id":"1","username":"ann","data":{"score":3}},{"_id":"2","username":"bob","estado":true,"data":{"score":9}}]}`)(w, r)
		}, seed)

		rec, err := f.client.ValidateSession(ctx)

		Convey("Then bob's record is returned and the auth panel hidden", func() {
			So(err, ShouldBeNil)
			So(<-gotToken, ShouldEqual, "abc")
			So(rec, ShouldResemble, types.UserRecord{ID: "2", Username: "bob", Active: true, Score: 9})
			So(authPanelHidden(f.surface), ShouldBeTrue)
			So(f.client.State(), ShouldEqual, auth.StateAuthenticated)
		})
	})

	Convey("Given a server accepting the token with an unreadable body", t, func() {
		f := newFixture(t, reply(http.StatusOK, `<html>`), seed)

		rec, err := f.client.ValidateSession(ctx)

		Convey("Then the session stays valid", func() {
			So(err, ShouldBeNil)
			So(rec.Username, ShouldEqual, "bob")
			So(f.sessions.Get().Authenticated(), ShouldBeTrue)
		})
	})

	Convey("Given a server rejecting the token with 401", t, func() {
		f := newFixture(t, reply(http.StatusUnauthorized, `{"msg":"invalid token"}`), seed)

		_, err := f.client.ValidateSession(ctx)

		Convey("Then TokenExpired is returned and the client logs out", func() {
			So(errors.Is(err, apierr.ErrTokenExpired), ShouldBeTrue)
			So(f.sessions.Get().Authenticated(), ShouldBeFalse)
			So(f.kv.GetString(ctx, session.KeyToken, ""), ShouldBeEmpty)
			So(authPanelShown(f.surface), ShouldBeTrue)
			So(f.client.State(), ShouldEqual, auth.StateUnauthenticated)
		})
	})

	Convey("Given the default fail-closed policy and an unreachable server", t, func() {
		f := newFixture(t, reply(http.StatusOK, `[]`), seed)
		f.srv.Close()

		_, err := f.client.ValidateSession(ctx)

		Convey("Then the outage is treated as expiry", func() {
			So(errors.Is(err, apierr.ErrTokenExpired), ShouldBeTrue)
			So(f.sessions.Get().Authenticated(), ShouldBeFalse)
		})
	})

	Convey("Given profile failures are not treated as expiry", t, func() {
		Convey("When the server is unreachable", func() {
			f := newFixture(t, reply(http.StatusOK, `[]`), seed, auth.WithProfileFailureAsExpiry(false))
			f.srv.Close()

			_, err := f.client.ValidateSession(ctx)

			Convey("Then a network error is returned and the session kept", func() {
				So(errors.Is(err, apierr.ErrNetwork), ShouldBeTrue)
				So(errors.Is(err, apierr.ErrTokenExpired), ShouldBeFalse)
				So(f.sessions.Get().Authenticated(), ShouldBeTrue)
				So(f.client.State(), ShouldEqual, auth.StatePendingValidation)
			})
		})

		Convey("When the server answers 503", func() {
			f := newFixture(t, reply(http.StatusServiceUnavailable, `down`), seed, auth.WithProfileFailureAsExpiry(false))

			_, err := f.client.ValidateSession(ctx)

			Convey("Then the session is kept", func() {
				So(errors.Is(err, apierr.ErrNetwork), ShouldBeTrue)
				So(apierr.StatusOf(err), ShouldEqual, http.StatusServiceUnavailable)
				So(f.sessions.Get().Authenticated(), ShouldBeTrue)
			})
		})

		Convey("When the server answers 403", func() {
			f := newFixture(t, reply(http.StatusForbidden, `{}`), seed, auth.WithProfileFailureAsExpiry(false))

			_, err := f.client.ValidateSession(ctx)

			Convey("Then the session still expires", func() {
				So(errors.Is(err, apierr.ErrTokenExpired), ShouldBeTrue)
				So(f.sessions.Get().Authenticated(), ShouldBeFalse)
			})
		})
	})

	Convey("Given a stored JWT past its exp", t, func() {
		now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			Subject:   "bob",
			ExpiresAt: jwt.NewNumericDate(now.Add(-time.Minute)),
		}).SignedString([]byte("k"))
		So(err, ShouldBeNil)

		f := newFixture(t, reply(http.StatusOK, `[]`), &types.Session{Token: token, Username: "bob"},
			auth.WithClock(func() time.Time { return now }))

		_, err = f.client.ValidateSession(ctx)

		Convey("Then it expires without a network call", func() {
			So(errors.Is(err, apierr.ErrTokenExpired), ShouldBeTrue)
			So(f.count("GET /api/usuarios"), ShouldEqual, 0)
			So(f.sessions.Get().Authenticated(), ShouldBeFalse)
		})
	})

	Convey("Given a stored JWT still valid", t, func() {
		now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		}).SignedString([]byte("k"))

		f := newFixture(t, reply(http.StatusOK, `[{"_id":"1","username":"bob"}]`), &types.Session{Token: token, Username: "bob"},
			auth.WithClock(func() time.Time { return now }))

		_, err := f.client.ValidateSession(ctx)

		Convey("Then the server is asked", func() {
			So(err, ShouldBeNil)
			So(f.count("GET /api/usuarios"), ShouldEqual, 1)
		})
	})
}

func TestStateString(t *testing.T) {
	Convey("States have stable names", t, func() {
		So(auth.StateUnauthenticated.String(), ShouldEqual, "unauthenticated")
		So(auth.StatePendingValidation.String(), ShouldEqual, "pending_validation")
		So(auth.StateAuthenticated.String(), ShouldEqual, "authenticated")
		So(auth.State(42).String(), ShouldEqual, "unknown")
	})
}

// interleaved wraps the session store. Once armed it starts interrupt in the
// background at the chosen call and gives it time to run before returning.
type interleaved struct {
	*session.Store

	mu        sync.Mutex
	on        string
	skip      int
	interrupt func()
	done      chan struct{}
}

func (s *interleaved) arm(on string, skip int, interrupt func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.on, s.skip, s.interrupt = on, skip, interrupt
	s.done = make(chan struct{})
}

func (s *interleaved) fire(on string) {
	s.mu.Lock()
	run, done := s.interrupt, s.done
	if run == nil || s.on != on {
		s.mu.Unlock()
		return
	}
	if s.skip > 0 {
		s.skip--
		s.mu.Unlock()
		return
	}
	s.interrupt = nil
	s.mu.Unlock()

	go func() {
		run()
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
}

func (s *interleaved) Get() types.Session {
	sess := s.Store.Get()
	s.fire("get")
	return sess
}

func (s *interleaved) Set(ctx context.Context, token, username string) error {
	if err := s.Store.Set(ctx, token, username); err != nil {
		return err
	}
	s.fire("set")
	return nil
}

func (s *interleaved) wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	<-done
}

func TestLogoutRacingTransitions(t *testing.T) {
	ctx := context.Background()

	newRacingClient := func(f *fixture) (*auth.Client, *interleaved) {
		api, err := apiclient.New(f.srv.URL, apiclient.WithLogger(logger.Nop()))
		So(err, ShouldBeNil)
		sessions := &interleaved{Store: f.sessions}
		return auth.New(api, sessions, f.surface, auth.WithLogger(logger.Nop())), sessions
	}

	Convey("Given a logout that starts right after login stores the session", t, func() {
		f := newFixture(t, reply(http.StatusOK, `{"token":"abc","usuario":{"username":"bob"}}`), nil)
		client, sessions := newRacingClient(f)
		sessions.arm("set", 0, func() { _ = client.Logout(ctx) })

		_, err := client.Login(ctx, bob)
		sessions.wait()

		Convey("Then the logout is applied whole after the login", func() {
			So(err, ShouldBeNil)
			So(f.sessions.Get().Authenticated(), ShouldBeFalse)
			So(f.kv.GetString(ctx, session.KeyToken, ""), ShouldBeEmpty)
			So(client.State(), ShouldEqual, auth.StateUnauthenticated)
			So(authPanelShown(f.surface), ShouldBeTrue)
		})
	})

	Convey("Given a logout that starts while validation confirms the session", t, func() {
		seed := &types.Session{Token: "abc", Username: "bob"}
		f := newFixture(t, reply(http.StatusOK, `[{"username":"bob"}]`), seed)
		client, sessions := newRacingClient(f)
		// The first read captures the session; the second is the check
		// before it is marked authenticated.
		sessions.arm("get", 1, func() { _ = client.Logout(ctx) })

		_, err := client.ValidateSession(ctx)
		sessions.wait()

		Convey("Then the session, state and auth panel agree", func() {
			So(err, ShouldBeNil)
			So(f.sessions.Get().Authenticated(), ShouldBeFalse)
			So(client.State(), ShouldEqual, auth.StateUnauthenticated)
			So(authPanelShown(f.surface), ShouldBeTrue)
		})
	})

	Convey("Given concurrent logins and logouts", t, func() {
		f := newFixture(t, reply(http.StatusOK, `{"token":"abc","usuario":{"username":"bob"}}`), nil)

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(2)
			go func() { defer wg.Done(); _, _ = f.client.Login(ctx, bob) }()
			go func() { defer wg.Done(); _ = f.client.Logout(ctx) }()
		}
		wg.Wait()

		Convey("Then the final state matches the final session", func() {
			authenticated := f.sessions.Get().Authenticated()
			So(f.client.State() == auth.StateAuthenticated, ShouldEqual, authenticated)
			So(authPanelHidden(f.surface), ShouldEqual, authenticated)
		})
	})
}
