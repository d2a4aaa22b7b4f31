package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/okian/podium/internal/simulate"
	"github.com/okian/podium/pkg/logger"
)

// Default configuration constants.
const (
	defaultPlayers   = 20
	defaultRounds    = 5
	defaultMaxPoints = 100
	defaultWorkers   = 2 // multiplier for runtime.NumCPU()
	defaultTimeout   = 10 * time.Second
	defaultRunTime   = 10 * time.Minute
)

func main() {
	var (
		baseURL   = flag.String("url", "http://localhost:9081/", "Base URL of the leaderboard API")
		players   = flag.Int("players", defaultPlayers, "Number of players to register")
		rounds    = flag.Int("rounds", defaultRounds, "Score events per player")
		maxPoints = flag.Int("max-points", defaultMaxPoints, "Upper bound of points per event")
		workers   = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Players played concurrently")
		timeout   = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		format    = flag.String("log-format", "text", "Log format: text or json")
		verbose   = flag.Bool("verbose", false, "Log every player")
	)
	flag.Parse()

	if err := logger.Init(logger.WithFormat(*format)); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultRunTime)
	defer cancel()

	_, err := simulate.Run(ctx, &simulate.Config{
		BaseURL:   *baseURL,
		Players:   *players,
		Rounds:    *rounds,
		MaxPoints: *maxPoints,
		Workers:   *workers,
		Timeout:   *timeout,
		Verbose:   *verbose,
	})
	if err != nil {
		os.Stderr.WriteString("Simulation failed: " + err.Error() + "\n")
		cancel()
		os.Exit(1)
	}
}
