package simulate

import (
	"errors"
	"fmt"

	"github.com/okian/podium/internal/domain/types"
)

// ErrMismatch reports a leaderboard that disagrees with the players.
var ErrMismatch = errors.New("leaderboard mismatch")

// verify checks that snap is ranked and that every player who scored appears
// with their local best. Other accounts on a shared server are ignored.
func verify(snap types.Snapshot, players []*Player) error {
	byName := make(map[string]types.Entry, len(snap.Entries))
	for i, e := range snap.Entries {
		if e.Rank != i+1 {
			return fmt.Errorf("%w: entry %d has rank %d", ErrMismatch, i, e.Rank)
		}
		if i > 0 && e.Score > snap.Entries[i-1].Score {
			return fmt.Errorf("%w: entry %d outscores entry %d", ErrMismatch, i, i-1)
		}
		byName[e.Username] = e
	}

	for _, p := range players {
		if p.Err != nil || p.Best <= 0 {
			continue
		}
		e, ok := byName[p.Username]
		if !ok {
			return fmt.Errorf("%w: %s missing", ErrMismatch, p.Username)
		}
		if e.Score != p.Best {
			return fmt.Errorf("%w: %s has %d, expected %d", ErrMismatch, p.Username, e.Score, p.Best)
		}
	}
	return nil
}
