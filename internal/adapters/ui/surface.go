// Package ui holds the display and input collaborators the client talks to.
// The client only ever calls into them; it never reads display state back.
package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// Surface is what the client drives after a state transition.
type Surface interface {
	ShowAuthPanel()
	HideAuthPanel()
	SetLeaderboardText(text string)
}

// Console renders the surface as plain lines on a writer.
type Console struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsole returns a Console writing to w.
func NewConsole(w io.Writer) *Console {
	return &Console{w: w}
}

func (c *Console) ShowAuthPanel() {
	c.println("Signed out. Log in or register to continue.")
}

func (c *Console) HideAuthPanel() {
	c.println("Signed in.")
}

func (c *Console) SetLeaderboardText(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = io.WriteString(c.w, text)
	if text != "" && !strings.HasSuffix(text, "\n") {
		_, _ = io.WriteString(c.w, "\n")
	}
}

func (c *Console) println(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintln(c.w, s)
}

// Call is one recorded surface invocation.
type Call struct {
	Op   string
	Text string
}

// Recorder operations.
const (
	OpShowAuth    = "show_auth"
	OpHideAuth    = "hide_auth"
	OpLeaderboard = "leaderboard"
)

// Recorder keeps every call for inspection.
type Recorder struct {
	mu    sync.Mutex
	calls []Call
}

func (r *Recorder) ShowAuthPanel() { r.record(Call{Op: OpShowAuth}) }

func (r *Recorder) HideAuthPanel() { r.record(Call{Op: OpHideAuth}) }

func (r *Recorder) SetLeaderboardText(text string) {
	r.record(Call{Op: OpLeaderboard, Text: text})
}

func (r *Recorder) record(c Call) {
	r.mu.Lock()
	r.calls = append(r.calls, c)
	r.mu.Unlock()
}

// Calls returns a copy of the recorded calls.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// AuthVisible reports the auth panel state implied by the last show/hide
// call, and whether any such call happened.
func (r *Recorder) AuthVisible() (visible, known bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.calls) - 1; i >= 0; i-- {
		switch r.calls[i].Op {
		case OpShowAuth:
			return true, true
		case OpHideAuth:
			return false, true
		}
	}
	return false, false
}

// Leaderboard returns the last leaderboard text and how many times it was set.
func (r *Recorder) Leaderboard() (text string, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if c.Op == OpLeaderboard {
			text = c.Text
			count++
		}
	}
	return text, count
}

// Poster schedules fn on the owner's goroutine. It returns false once the
// owner no longer accepts work.
type Poster interface {
	Post(fn func()) bool
}

type marshalled struct {
	next   Surface
	poster Poster
}

// Marshal returns a Surface that forwards every call through p, so the
// wrapped surface is only touched from the goroutine that drains p.
func Marshal(s Surface, p Poster) Surface {
	return &marshalled{next: s, poster: p}
}

func (m *marshalled) ShowAuthPanel() { m.poster.Post(m.next.ShowAuthPanel) }

func (m *marshalled) HideAuthPanel() { m.poster.Post(m.next.HideAuthPanel) }

func (m *marshalled) SetLeaderboardText(text string) {
	m.poster.Post(func() { m.next.SetLeaderboardText(text) })
}
