package simulate

import (
	"crypto/rand"
	"math/big"

	"github.com/google/uuid"
)

const usernamePrefix = "sim-"

// Point tiers. Most events are small; a few are zero and never submitted.
const (
	tierCount   = 8
	tierZero    = 0
	tierJackpot = 7
)

// generatePlayers creates n players with unique usernames.
func generatePlayers(n int) []*Player {
	players := make([]*Player, n)
	for i := range players {
		id := uuid.NewString()
		players[i] = &Player{
			Username: usernamePrefix + id[:8],
			Password: id,
		}
	}
	return players
}

// randomPoints returns points for one event in [0, limit].
func randomPoints(limit int) int {
	if limit <= 0 {
		return 0
	}
	switch randInt(tierCount) {
	case tierZero:
		return 0
	case tierJackpot:
		return limit
	default:
		return 1 + randInt(limit)
	}
}

// randInt returns a uniform int in [0, n).
func randInt(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(v.Int64())
}
