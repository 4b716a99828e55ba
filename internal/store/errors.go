package store

import (
	"errors"
	"fmt"
)

// ErrSiteNotFound is returned by GetSite for unknown or deleted sites.
var ErrSiteNotFound = errors.New("store: site not found")

// PersistenceError reports a failed write or query. Work committed before the
// failure is kept.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func persistErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}
