package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/okian/podium/internal/adapters/http/stubserver"
	"github.com/okian/podium/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

type result struct {
	code   int
	stdout string
	stderr string
}

func invoke(stdin string, args ...string) result {
	var out, errOut bytes.Buffer
	code := run(context.Background(), args, strings.NewReader(stdin), &out, &errOut)
	return result{code: code, stdout: out.String(), stderr: errOut.String()}
}

// useStub points the CLI at a fresh stub server and a private state file.
func useStub(t *testing.T) *stubserver.Server {
	stub, err := stubserver.New(
		stubserver.WithLogger(logger.Nop()),
		stubserver.WithBcryptCost(bcrypt.MinCost),
	)
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(stub.Handler())
	t.Cleanup(srv.Close)

	t.Setenv("PODIUM_BASE_URL", srv.URL)
	t.Setenv("PODIUM_STORE_BACKEND", "file")
	t.Setenv("PODIUM_STORE_PATH", filepath.Join(t.TempDir(), "state.yaml"))
	t.Setenv("PODIUM_RATE_LIMIT_RPS", "0")
	t.Setenv("PODIUM_LOG_LEVEL", "error")
	return stub
}

func TestCLISession(t *testing.T) {
	convey.Convey("Given the CLI against a stub server", t, func() {
		useStub(t)

		convey.Convey("When a user registers and plays across invocations", func() {
			reg := invoke("", "register", "-u", "bob", "-p", "pw")
			who := invoke("", "whoami")
			add := invoke("", "add", "5")
			lower := invoke("", "submit", "3")
			board := invoke("", "leaderboard")
			out := invoke("", "logout")
			gone := invoke("", "whoami")

			convey.Convey("Then the session and score persist between runs", func() {
				convey.So(reg.code, convey.ShouldEqual, exitOK)
				convey.So(reg.stdout, convey.ShouldContainSubstring, "Signed in.")
				convey.So(reg.stdout, convey.ShouldContainSubstring, "Welcome, bob.")

				convey.So(who.stdout, convey.ShouldContainSubstring, "bob (pending_validation), local best 0")

				convey.So(add.code, convey.ShouldEqual, exitOK)
				convey.So(add.stdout, convey.ShouldContainSubstring, "New best: 5.")
				convey.So(add.stdout, convey.ShouldContainSubstring, "bob: 5 pts")

				convey.So(lower.code, convey.ShouldEqual, exitOK)
				convey.So(lower.stdout, convey.ShouldContainSubstring, "Local best is 5; nothing submitted.")

				convey.So(board.code, convey.ShouldEqual, exitOK)
				convey.So(board.stdout, convey.ShouldContainSubstring, "bob: 5 pts")

				convey.So(out.code, convey.ShouldEqual, exitOK)
				convey.So(out.stdout, convey.ShouldContainSubstring, "Signed out.")
				convey.So(gone.stdout, convey.ShouldContainSubstring, "Not signed in.")
			})
		})

		convey.Convey("When credentials come from the prompt", func() {
			convey.So(invoke("", "register", "-u", "ann", "-p", "pw").code, convey.ShouldEqual, exitOK)
			convey.So(invoke("", "logout").code, convey.ShouldEqual, exitOK)

			res := invoke("ann\npw\n", "login")

			convey.Convey("Then the prompted values are used", func() {
				convey.So(res.code, convey.ShouldEqual, exitOK)
				convey.So(res.stdout, convey.ShouldContainSubstring, "username: ")
				convey.So(res.stdout, convey.ShouldContainSubstring, "Welcome, ann.")
			})
		})

		convey.Convey("When the password is wrong", func() {
			convey.So(invoke("", "register", "-u", "eve", "-p", "pw").code, convey.ShouldEqual, exitOK)
			res := invoke("", "login", "-u", "eve", "-p", "nope")

			convey.Convey("Then the server's message is shown", func() {
				convey.So(res.code, convey.ShouldEqual, exitError)
				convey.So(res.stderr, convey.ShouldContainSubstring, "login: invalid credentials")
			})
		})

		convey.Convey("When scoring without a session", func() {
			res := invoke("", "add", "5")

			convey.Convey("Then the command fails as unauthenticated", func() {
				convey.So(res.code, convey.ShouldEqual, exitError)
				convey.So(res.stderr, convey.ShouldContainSubstring, "add: not authenticated")
			})
		})
	})
}

func TestCLIUsage(t *testing.T) {
	convey.Convey("Given bad invocations", t, func() {
		useStub(t)

		convey.So(invoke("").code, convey.ShouldEqual, exitUsage)
		convey.So(invoke("", "dance").code, convey.ShouldEqual, exitUsage)
		convey.So(invoke("", "submit", "lots").code, convey.ShouldEqual, exitUsage)
		convey.So(invoke("", "add").code, convey.ShouldEqual, exitUsage)
		convey.So(invoke("", "-help").code, convey.ShouldEqual, exitOK)
	})

	convey.Convey("Given a bad base URL flag", t, func() {
		useStub(t)

		res := invoke("", "-url", "ftp://nowhere", "whoami")

		convey.Convey("Then the client refuses to start", func() {
			convey.So(res.code, convey.ShouldEqual, exitError)
			convey.So(res.stderr, convey.ShouldContainSubstring, "failed to start client")
		})
	})
}
