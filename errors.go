package lvmeta

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidMetadata - a tree or model breaks a volume group invariant.
	// Every *InvalidMetadataError matches it with errors.Is.
	ErrInvalidMetadata = errors.New("invalid metadata")

	// ErrNotFound - the named PV or LV is not part of the volume group.
	ErrNotFound = errors.New("not found")

	// ErrExists - a PV or LV with that name or identity is already present.
	ErrExists = errors.New("already exists")

	// ErrInUse - the PV still holds extents of a logical volume.
	ErrInUse = errors.New("in use")

	// ErrInsufficientSpace - not enough free extents for an allocation.
	ErrInsufficientSpace = errors.New("insufficient free extents")
)

// InvalidMetadataError carries the reason a metadata tree or model was
// rejected.
type InvalidMetadataError struct {
	Reason string
}

func (e *InvalidMetadataError) Error() string {
	return "invalid metadata: " + e.Reason
}

// Is makes errors.Is(err, ErrInvalidMetadata) succeed.
func (e *InvalidMetadataError) Is(target error) bool {
	return target == ErrInvalidMetadata
}

func invalidf(format string, args ...interface{}) error {
	return &InvalidMetadataError{Reason: fmt.Sprintf(format, args...)}
}

func prefixInvalid(prefix string, err error) error {
	var ie *InvalidMetadataError
	if errors.As(err, &ie) {
		return invalidf("%s: %s", prefix, ie.Reason)
	}

	return err
}
