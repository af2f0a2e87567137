package activate

import (
	"fmt"

	"github.com/pkg/errors"
)

// State is a step of a commit. Each state is reached only after the
// previous one succeeded.
type State int

// Commit states, in order.
const (
	StateNone State = iota
	StateValidated
	StatePersisted
	StateActivated
	StateConfirmed
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateValidated:
		return "validated"
	case StatePersisted:
		return "persisted"
	case StateActivated:
		return "activated"
	case StateConfirmed:
		return "confirmed"
	}

	return fmt.Sprintf("state(%d)", int(s))
}

var (
	// ErrNoMajority - fewer than a majority of the metadata copies were
	// written.
	ErrNoMajority = errors.New("metadata written to too few copies")

	// ErrUnconfirmed - the kernel's device list does not match the model.
	ErrUnconfirmed = errors.New("device list does not match metadata")
)

// ActivationError is an aborted commit or activation. State is the last
// state reached. From StatePersisted on, the new metadata is on disk and
// only activation needs to be retried.
type ActivationError struct {
	State State
	Op    string
	Err   error
}

func (e *ActivationError) Error() string {
	if e.Committed() {
		return fmt.Sprintf("%s: metadata committed, activation unknown (reached %s): %s", e.Op, e.State, e.Err)
	}

	return fmt.Sprintf("%s: aborted after %s: %s", e.Op, e.State, e.Err)
}

// Unwrap returns the cause.
func (e *ActivationError) Unwrap() error {
	return e.Err
}

// Committed reports whether the metadata reached the disks.
func (e *ActivationError) Committed() bool {
	return e.State >= StatePersisted
}

// Retry returns what the caller should do next: "commit" when nothing was
// persisted, "activate" when only activation is incomplete.
func (e *ActivationError) Retry() string {
	if e.Committed() {
		return "activate"
	}

	return "commit"
}
