package simulate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/podium/internal/adapters/kvstore"
	"github.com/okian/podium/internal/adapters/ui"
	service "github.com/okian/podium/internal/app"
	"github.com/okian/podium/internal/config"
	"github.com/okian/podium/internal/domain/types"
	"github.com/okian/podium/pkg/logger"
)

// ErrNoPlayers is returned when every player failed to register.
var ErrNoPlayers = errors.New("no player could register")

const closeTimeout = 5 * time.Second

// Run executes a complete simulation.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	if cfg.Players <= 0 || cfg.Workers <= 0 {
		return nil, fmt.Errorf("players and workers must be positive")
	}
	stats := &Stats{StartTime: time.Now()}
	log := logger.Named("simulate")

	log.Info(ctx, "starting podium simulation",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("players", cfg.Players),
		logger.Int("rounds", cfg.Rounds),
		logger.Int("workers", cfg.Workers),
		logger.Duration("timeout", cfg.Timeout))

	players := generatePlayers(cfg.Players)
	playAll(ctx, cfg, players, stats)

	var host *Player
	for _, p := range players {
		if p.Err == nil {
			host = p
			break
		}
	}
	if host == nil {
		return stats, ErrNoPlayers
	}

	snap, err := finalLeaderboard(ctx, cfg, host)
	if err != nil {
		return stats, fmt.Errorf("leaderboard retrieval failed: %w", err)
	}
	stats.LeaderboardEntries = len(snap.Entries)

	if err := verify(snap, players); err != nil {
		return stats, fmt.Errorf("result verification failed: %w", err)
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	logStats(ctx, log, stats)
	return stats, nil
}

// newClient builds an isolated client with its own in-memory session.
func newClient(ctx context.Context, cfg *Config) (*service.Service, error) {
	c := config.New()
	c.BaseURL = cfg.BaseURL
	c.StoreBackend = config.BackendMemory
	c.RateLimitRPS = 0
	c.LeaderboardTitle = ""
	if cfg.Timeout > 0 {
		c.RequestTimeout = cfg.Timeout
	}
	return service.New(ctx, c, ui.NewConsole(io.Discard),
		service.WithLogger(logger.Named("client")),
		service.WithStore(kvstore.NewMemory()),
	)
}

// playAll runs every player through the worker pool.
func playAll(ctx context.Context, cfg *Config, players []*Player, stats *Stats) {
	var (
		registered int64
		failed     int64
		submitted  int64
		skipped    int64
		rejected   int64
	)

	ch := make(chan *Player, cfg.Workers*2)
	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range ch {
				if ctx.Err() != nil {
					p.Err = ctx.Err()
					atomic.AddInt64(&failed, 1)
					continue
				}
				sub, skip, rej := play(ctx, cfg, p)
				if p.Err != nil {
					atomic.AddInt64(&failed, 1)
					logger.Named("simulate").Warn(ctx, "player failed",
						logger.String("username", p.Username), logger.Error(p.Err))
					continue
				}
				atomic.AddInt64(&registered, 1)
				atomic.AddInt64(&submitted, int64(sub))
				atomic.AddInt64(&skipped, int64(skip))
				atomic.AddInt64(&rejected, int64(rej))
			}
		}()
	}

	for _, p := range players {
		ch <- p
	}
	close(ch)
	wg.Wait()

	stats.PlayersRegistered = int(registered)
	stats.PlayersFailed = int(failed)
	stats.Submissions = int(submitted)
	stats.Skipped = int(skipped)
	stats.SubmitFailures = int(rejected)
}

// play registers p and plays its rounds. Submission failures are counted,
// not fatal: the player keeps playing like a real user would.
func play(ctx context.Context, cfg *Config, p *Player) (submitted, skipped, rejected int) {
	svc, err := newClient(ctx, cfg)
	if err != nil {
		p.Err = err
		return 0, 0, 0
	}
	defer closeClient(svc)

	if _, err := svc.Register(ctx, types.Credentials{Username: p.Username, Password: p.Password}); err != nil {
		p.Err = err
		return 0, 0, 0
	}
	for round := 0; round < cfg.Rounds; round++ {
		ok, err := svc.AddPoints(ctx, randomPoints(cfg.MaxPoints))
		switch {
		case err != nil:
			rejected++
		case ok:
			submitted++
		default:
			skipped++
		}
		svc.Loop().Drain()
	}
	p.Best = svc.LocalScore(ctx)
	if cfg.Verbose {
		logger.Named("simulate").Info(ctx, "player done",
			logger.String("username", p.Username), logger.Int("best", p.Best))
	}
	return submitted, skipped, rejected
}

// finalLeaderboard signs host in on a fresh client and fetches the board.
func finalLeaderboard(ctx context.Context, cfg *Config, host *Player) (types.Snapshot, error) {
	svc, err := newClient(ctx, cfg)
	if err != nil {
		return types.Snapshot{}, err
	}
	defer closeClient(svc)

	if _, err := svc.Login(ctx, types.Credentials{Username: host.Username, Password: host.Password}); err != nil {
		return types.Snapshot{}, err
	}
	return svc.Refresh(ctx)
}

func closeClient(svc *service.Service) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	_ = svc.Close(ctx)
}

func logStats(ctx context.Context, log logger.Logger, stats *Stats) {
	log.Info(ctx, "final statistics",
		logger.Int("playersRegistered", stats.PlayersRegistered),
		logger.Int("playersFailed", stats.PlayersFailed),
		logger.Int("submissions", stats.Submissions),
		logger.Int("skipped", stats.Skipped),
		logger.Int("submitFailures", stats.SubmitFailures),
		logger.Int("leaderboardEntries", stats.LeaderboardEntries),
		logger.Duration("duration", stats.Duration))
}
