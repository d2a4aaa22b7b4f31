// Package normalize reconciles the two leaderboard payload layouts served by
// the users endpoint into one list of records.
//
// The endpoint answers either {"usuarios": [...]} or a bare [...] array. The
// layout is chosen from the first non-space byte; no fallback parse is tried
// once a layout is chosen, and any structural problem fails the whole body.
package normalize

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/okian/podium/internal/domain/apierr"
	"github.com/okian/podium/internal/domain/types"
)

const op = "normalize users"

// wireUser mirrors one user object on the wire. Pointers distinguish absent
// fields from zero values.
type wireUser struct {
	ID       *string    `json:"_id"`
	Username *string    `json:"username"`
	Estado   *bool      `json:"estado"`
	Data     *wireScore `json:"data"`
}

type wireScore struct {
	Score *int `json:"score"`
}

type wrapped struct {
	Usuarios *[]wireUser `json:"usuarios"`
}

// Users parses body into records. The error, when non-nil, is classified as
// apierr.ErrParse and no records are returned.
func Users(body []byte) ([]types.UserRecord, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, apierr.Wrap(op, apierr.ErrParse, fmt.Errorf("empty body"))
	}

	var list []wireUser
	switch trimmed[0] {
	case '{':
		var w wrapped
		if err := json.Unmarshal(trimmed, &w); err != nil {
			return nil, apierr.Wrap(op, apierr.ErrParse, err)
		}
		if w.Usuarios == nil {
			return nil, apierr.Wrap(op, apierr.ErrParse, fmt.Errorf(`object without "usuarios" array`))
		}
		list = *w.Usuarios
	case '[':
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, apierr.Wrap(op, apierr.ErrParse, err)
		}
	default:
		return nil, apierr.Wrap(op, apierr.ErrParse, fmt.Errorf("unexpected leading byte %q", trimmed[0]))
	}

	out := make([]types.UserRecord, 0, len(list))
	for i, u := range list {
		rec, err := u.record()
		if err != nil {
			return nil, apierr.Wrap(op, apierr.ErrParse, fmt.Errorf("user %d: %w", i, err))
		}
		out = append(out, rec)
	}
	return out, nil
}

// record validates required fields. _id and username are required; estado
// defaults to false and a missing or null data object means score 0.
func (u wireUser) record() (types.UserRecord, error) {
	if u.ID == nil {
		return types.UserRecord{}, fmt.Errorf("missing _id")
	}
	if u.Username == nil || *u.Username == "" {
		return types.UserRecord{}, fmt.Errorf("missing username")
	}
	rec := types.UserRecord{ID: *u.ID, Username: *u.Username}
	if u.Estado != nil {
		rec.Active = *u.Estado
	}
	if u.Data != nil {
		if u.Data.Score == nil {
			return types.UserRecord{}, fmt.Errorf("data without score")
		}
		rec.Score = *u.Data.Score
	}
	return rec, nil
}
