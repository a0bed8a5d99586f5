package index

import (
	"errors"
	"time"

	"github.com/mattn/go-sqlite3"
)

const (
	retryAttempts = 3
	retryBackoff  = 50 * time.Millisecond
)

// withRetry runs fn, retrying a bounded number of times when SQLite reports
// a transient busy/locked condition. Exhaustion surfaces the last error;
// nothing is ever silently dropped.
func withRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !isTransient(err) {
			return err
		}
		time.Sleep(retryBackoff * time.Duration(attempt+1))
	}
	return err
}

func isTransient(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked
	}
	return false
}
