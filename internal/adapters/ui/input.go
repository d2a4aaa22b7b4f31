package ui

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrNoInput means the input collaborator could not supply a field at all.
// It signals a wiring mistake, unlike an empty field typed by the user.
var ErrNoInput = errors.New("input source unavailable")

// Input supplies raw credentials on demand.
type Input interface {
	Credentials() (username, password string, err error)
}

// Static is an Input with fixed values.
type Static struct {
	Username string
	Password string
}

func (s Static) Credentials() (string, string, error) {
	return s.Username, s.Password, nil
}

// Prompt reads a username line then a password line.
type Prompt struct {
	r *bufio.Reader
	w io.Writer
}

// NewPrompt asks on w and reads answers from r.
func NewPrompt(r io.Reader, w io.Writer) *Prompt {
	return &Prompt{r: bufio.NewReader(r), w: w}
}

func (p *Prompt) Credentials() (string, string, error) {
	user, err := p.ask("username: ")
	if err != nil {
		return "", "", err
	}
	pass, err := p.ask("password: ")
	if err != nil {
		return "", "", err
	}
	return user, pass, nil
}

func (p *Prompt) ask(label string) (string, error) {
	if p.w != nil {
		_, _ = io.WriteString(p.w, label)
	}
	line, err := p.r.ReadString('\n')
	if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
		return "", fmt.Errorf("%w: reading %s: %w", ErrNoInput, strings.TrimSuffix(label, ": "), err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
