package repository

import "errors"

// Sentinel kinds for repository errors. Session lookups reuse exam.ErrNotFound
// and exam.ErrActiveExists so callers need not import this package.
var (
	ErrSessionClosed = errors.New("session is in a terminal state")
	ErrDuplicateID   = errors.New("session id already exists")
)
