// Package simulate drives many concurrent players through the podium client
// against a live API and checks that the final leaderboard agrees with what
// each player believes their best score to be.
package simulate

import "time"

// Config holds configuration for a simulation run.
type Config struct {
	BaseURL   string        // Remote API base URL
	Players   int           // Number of players to register
	Rounds    int           // Score events per player
	MaxPoints int           // Upper bound of points per event
	Workers   int           // Players played concurrently
	Timeout   time.Duration // Per-request timeout
	Verbose   bool          // Log every player
}

// Player is one simulated account.
type Player struct {
	Username string
	Password string
	// Best is the local best score after the player's last round.
	Best     int
	Err      error
}

// Stats holds run statistics.
type Stats struct {
	PlayersRegistered  int
	PlayersFailed      int
	Submissions        int
	Skipped            int
	SubmitFailures     int
	LeaderboardEntries int
	StartTime          time.Time
	EndTime            time.Time
	Duration           time.Duration
}
