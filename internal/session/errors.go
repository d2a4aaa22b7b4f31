package session

import "errors"

// ErrIncomplete rejects a write that would leave a token without a username
// or the reverse.
var ErrIncomplete = errors.New("token and username must be set together")
