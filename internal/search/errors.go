package search

import (
	"fmt"

	"github.com/rotisserie/eris"
)

// ErrNoProgress is returned by Resume when nothing has been persisted yet.
var ErrNoProgress = eris.New("search: no saved progress")

// TransportError is a single-point query failure after the transport gave up
// retrying. The point stays pending and the run continues.
type TransportError struct {
	PointID string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("search: query point %s: %v", e.PointID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StateMismatchError means the persisted run was started with a different
// area, category or grid configuration. Resuming it would mix parameters, so
// the operator must start fresh explicitly.
type StateMismatchError struct {
	Persisted string
	Requested string
	Reason    string
}

func (e *StateMismatchError) Error() string {
	return fmt.Sprintf("search: saved progress %s does not match requested run %s: %s", e.Persisted, e.Requested, e.Reason)
}

// PersistenceError means a checkpoint write failed. The run must stop:
// advancing past an unpersisted point would break resume.
type PersistenceError struct {
	Op          string
	PointID     string
	Fingerprint string
	Err         error
}

func (e *PersistenceError) Error() string {
	if e.PointID == "" {
		return fmt.Sprintf("search: %s (run %s): %v", e.Op, e.Fingerprint, e.Err)
	}
	return fmt.Sprintf("search: %s for point %s (run %s): %v", e.Op, e.PointID, e.Fingerprint, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
