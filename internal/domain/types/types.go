// Package types contains the data model shared across the client packages.
package types

import (
	"strings"
	"time"
)

// Session is the identity the client currently holds. Either both fields are
// set or both are empty.
type Session struct {
	Token    string
	Username string
}

// Authenticated reports whether the session carries a token and a username.
func (s Session) Authenticated() bool {
	return s.Token != "" && s.Username != ""
}

// Credentials are built per login/register call and never persisted.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Complete reports whether both fields carry non-blank input.
func (c Credentials) Complete() bool {
	return strings.TrimSpace(c.Username) != "" && c.Password != ""
}

// UserRecord is one leaderboard participant as known to the server.
type UserRecord struct {
	ID       string
	Username string
	Active   bool
	Score    int
}

// Entry is one ranked row of a snapshot. Rank starts at 1.
type Entry struct {
	Rank     int    `json:"rank"`
	Username string `json:"username"`
	Score    int    `json:"score"`
}

// Snapshot is the filtered, ranked leaderboard from one successful fetch.
type Snapshot struct {
	Entries   []Entry
	Seq       uint64
	FetchedAt time.Time
}

// Empty reports whether no fetch has been applied yet.
func (s Snapshot) Empty() bool {
	return s.Seq == 0
}

// ScoreData is the nested score object used on the wire.
type ScoreData struct {
	Score int `json:"score"`
}

// ScoreUpdateRequest is the PATCH body for a score write.
type ScoreUpdateRequest struct {
	Username string    `json:"username"`
	Data     ScoreData `json:"data"`
}

// NewScoreUpdate builds the PATCH body for username and score.
func NewScoreUpdate(username string, score int) ScoreUpdateRequest {
	return ScoreUpdateRequest{Username: username, Data: ScoreData{Score: score}}
}
