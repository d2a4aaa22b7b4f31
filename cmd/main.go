package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/okian/podium/internal/adapters/ui"
	service "github.com/okian/podium/internal/app"
	"github.com/okian/podium/internal/auth"
	"github.com/okian/podium/internal/config"
	"github.com/okian/podium/internal/domain/apierr"
	"github.com/okian/podium/internal/domain/types"
	"github.com/okian/podium/pkg/logger"
)

// Exit codes.
const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

const closeTimeout = 5 * time.Second

const usage = `Usage: podium [flags] <command> [args]

Commands:
  login [-u user] [-p password]     sign in (prompts when flags are omitted)
  register [-u user] [-p password]  create an account and sign in
  logout                            forget the stored session
  validate                          check the stored session with the server
  whoami                            show the session and local best score
  leaderboard                       fetch and print the leaderboard
  submit <score>                    submit score if it beats the local best
  add <points>                      add points to the local best and submit

Configuration is read from PODIUM_CONFIG (YAML) and PODIUM_* env vars.

Flags:
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("podium", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	baseURL := fs.String("url", "", "remote API base URL (overrides base_url)")
	verbose := fs.Bool("v", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return exitUsage
	}

	cfg, err := config.Load(ctx)
	if err != nil {
		fmt.Fprintln(stderr, "failed to load config: "+err.Error())
		return exitError
	}
	if *baseURL != "" {
		cfg.BaseURL = *baseURL
	}

	if err := logger.Init(logger.WithFormat(cfg.LogFormat), logger.WithWriter(stderr)); err != nil {
		fmt.Fprintln(stderr, "failed to initialize logging: "+err.Error())
		return exitError
	}
	defer func() { _ = logger.Sync() }()
	level := cfg.LogLevel
	if *verbose {
		level = "debug"
	}
	log := logger.Get()
	if err := logger.SetLevelString(level); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", level), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	svc, err := service.New(ctx, cfg, ui.NewConsole(stdout), service.WithLogger(log))
	if err != nil {
		fmt.Fprintln(stderr, "failed to start client: "+err.Error())
		return exitError
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := svc.Close(closeCtx); err != nil {
			log.Error(closeCtx, "close failed", logger.Error(err))
		}
	}()

	c := &cli{svc: svc, stdin: stdin, stdout: stdout, stderr: stderr}
	return c.dispatch(ctx, fs.Arg(0), fs.Args()[1:])
}

type cli struct {
	svc    *service.Service
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func (c *cli) dispatch(ctx context.Context, cmd string, args []string) int {
	var err error
	switch cmd {
	case "login", "register":
		err = c.authenticate(ctx, cmd, args)
	case "logout":
		err = c.svc.Logout(ctx)
	case "validate":
		_, err = c.svc.ValidateSession(ctx)
	case "whoami":
		c.whoami(ctx)
	case "leaderboard":
		err = c.withSession(ctx, func() error {
			_, err := c.svc.Refresh(ctx)
			return err
		})
	case "submit", "add":
		n, perr := intArg(cmd, args)
		if perr != nil {
			fmt.Fprintln(c.stderr, perr)
			return exitUsage
		}
		err = c.withSession(ctx, func() error { return c.score(ctx, cmd, n) })
	default:
		fmt.Fprintf(c.stderr, "unknown command %q\n", cmd)
		return exitUsage
	}

	c.svc.Loop().Drain()
	if err != nil {
		fmt.Fprintf(c.stderr, "%s: %s\n", cmd, describe(err))
		return exitError
	}
	return exitOK
}

func (c *cli) authenticate(ctx context.Context, cmd string, args []string) error {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	username := fs.String("u", "", "username")
	password := fs.String("p", "", "password")
	if err := fs.Parse(args); err != nil {
		return apierr.Wrap(cmd, apierr.ErrValidation, err)
	}

	var in ui.Input = ui.Static{Username: *username, Password: *password}
	if *username == "" && *password == "" {
		in = ui.NewPrompt(c.stdin, c.stdout)
	}
	var (
		sess types.Session
		err  error
	)
	if cmd == "register" {
		sess, err = c.svc.RegisterFrom(ctx, in)
	} else {
		sess, err = c.svc.LoginFrom(ctx, in)
	}
	if err == nil {
		fmt.Fprintf(c.stdout, "Welcome, %s.\n", sess.Username)
	}
	return err
}

// withSession resolves a restored session before running fn.
func (c *cli) withSession(ctx context.Context, fn func() error) error {
	if c.svc.AuthState() == auth.StatePendingValidation {
		if _, err := c.svc.ValidateSession(ctx); err != nil {
			return err
		}
	}
	return fn()
}

func (c *cli) score(ctx context.Context, cmd string, n int) error {
	var (
		submitted bool
		err       error
	)
	if cmd == "add" {
		submitted, err = c.svc.AddPoints(ctx, n)
	} else {
		submitted, err = c.svc.Submit(ctx, n)
	}
	if err != nil {
		return err
	}
	if !submitted {
		fmt.Fprintf(c.stdout, "Local best is %d; nothing submitted.\n", c.svc.LocalScore(ctx))
		return nil
	}
	fmt.Fprintf(c.stdout, "New best: %d.\n", c.svc.LocalScore(ctx))
	return nil
}

func (c *cli) whoami(ctx context.Context) {
	sess := c.svc.Session()
	if !sess.Authenticated() {
		fmt.Fprintln(c.stdout, "Not signed in.")
		return
	}
	fmt.Fprintf(c.stdout, "%s (%s), local best %d\n", sess.Username, c.svc.AuthState(), c.svc.LocalScore(ctx))
}

func intArg(cmd string, args []string) (int, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("%s: expected exactly one integer argument", cmd)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not an integer", cmd, args[0])
	}
	return n, nil
}

// describe prefers the server's message and falls back to the error kind.
func describe(err error) string {
	if msg := apierr.Message(err); msg != "" {
		return msg
	}
	var e *apierr.Error
	if errors.As(err, &e) {
		return e.Kind.Error()
	}
	return err.Error()
}
