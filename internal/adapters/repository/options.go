package repository

import "time"

// Option applies a configuration option to the SQLiteStore.
type Option func(*SQLiteStore)

// WithClock overrides the time source used for updated_at and received_at.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) {
		if now != nil {
			s.now = now
		}
	}
}

// WithBusyTimeout sets how long SQLite waits on a locked database.
func WithBusyTimeout(d time.Duration) Option {
	return func(s *SQLiteStore) {
		if d > 0 {
			s.busyTimeout = d
		}
	}
}
