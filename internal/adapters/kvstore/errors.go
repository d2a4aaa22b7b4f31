package kvstore

import "errors"

// Sentinel kinds for store errors.
var (
	ErrOpen    = errors.New("open store")
	ErrCorrupt = errors.New("store contents unreadable")
	ErrSave    = errors.New("save store")
)
