// Package presenter turns a snapshot into the ranked text block handed to the
// UI surface.
package presenter

import (
	"html"
	"strconv"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/okian/podium/internal/domain/policy"
	"github.com/okian/podium/internal/domain/types"
)

const defaultTitle = "🏆 Leaderboard 🏆"

// Option configures a Presenter.
type Option func(*Presenter)

// WithTitle sets the header line. An empty title drops the header.
func WithTitle(title string) Option {
	return func(p *Presenter) {
		p.title = title
	}
}

// WithSanitizer toggles markup stripping for server-supplied usernames.
func WithSanitizer(enabled bool) Option {
	return func(p *Presenter) {
		if enabled {
			p.policy = bluemonday.StrictPolicy()
		} else {
			p.policy = nil
		}
	}
}

// Presenter renders ranked leaderboards. Safe for concurrent use.
type Presenter struct {
	title  string
	policy *bluemonday.Policy
}

// New returns a Presenter with the default header and sanitizing enabled.
func New(opts ...Option) *Presenter {
	p := &Presenter{
		title:  defaultTitle,
		policy: bluemonday.StrictPolicy(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Render produces one "name: score pts" line per entry with score > 0, in
// descending score order with ties kept in input order.
func (p *Presenter) Render(s types.Snapshot) string {
	records := make([]types.UserRecord, len(s.Entries))
	for i, e := range s.Entries {
		records[i] = types.UserRecord{Username: e.Username, Score: e.Score}
	}

	var b strings.Builder
	if p.title != "" {
		b.WriteString(p.title)
		b.WriteByte('\n')
	}
	for _, e := range policy.Rank(records) {
		b.WriteString(p.name(e.Username))
		b.WriteString(": ")
		b.WriteString(strconv.Itoa(e.Score))
		b.WriteString(" pts\n")
	}
	return b.String()
}

// name strips markup so a username cannot inject rich-text tags into the
// surface. Entities produced by the sanitizer are decoded back to text.
func (p *Presenter) name(username string) string {
	if p.policy == nil {
		return username
	}
	return html.UnescapeString(p.policy.Sanitize(username))
}
