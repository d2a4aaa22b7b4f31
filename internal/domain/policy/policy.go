// Package policy holds the rules that decide which score writes are attempted
// and how server records become a ranked leaderboard.
package policy

import (
	"fmt"
	"sort"

	"github.com/okian/podium/internal/domain/types"
)

// ShouldSubmit reports whether candidate replaces the locally stored score.
// Strictly greater wins; equal, lower and non-positive candidates below a
// zero baseline never submit.
func ShouldSubmit(localCurrent, candidate int) bool {
	return candidate > localCurrent
}

// Rank filters out records with score <= 0 and orders the rest by score
// descending. Ties keep their relative server order.
func Rank(records []types.UserRecord) []types.Entry {
	kept := make([]types.UserRecord, 0, len(records))
	for _, r := range records {
		if r.Score > 0 {
			kept = append(kept, r)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Score > kept[j].Score
	})

	entries := make([]types.Entry, len(kept))
	for i, r := range kept {
		entries[i] = types.Entry{Rank: i + 1, Username: r.Username, Score: r.Score}
	}
	return entries
}

// AdvanceMode decides when the local cached score moves to a submitted candidate.
type AdvanceMode int

const (
	// AdvanceOnConfirm moves the local score only after the remote write succeeds.
	AdvanceOnConfirm AdvanceMode = iota
	// AdvanceOptimistic moves the local score before the remote write is sent.
	// A failed write leaves local ahead of the server until a later success.
	AdvanceOptimistic
)

func (m AdvanceMode) String() string {
	switch m {
	case AdvanceOnConfirm:
		return "confirm"
	case AdvanceOptimistic:
		return "optimistic"
	default:
		return fmt.Sprintf("AdvanceMode(%d)", int(m))
	}
}

// ParseAdvanceMode maps the configuration value to a mode.
func ParseAdvanceMode(s string) (AdvanceMode, error) {
	switch s {
	case "", "confirm":
		return AdvanceOnConfirm, nil
	case "optimistic":
		return AdvanceOptimistic, nil
	default:
		return AdvanceOnConfirm, fmt.Errorf("unknown advance mode %q", s)
	}
}
