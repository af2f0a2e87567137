package dm

import (
	"fmt"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

var (
	// ErrDeviceBusy - the device is open, or the name or number is taken.
	ErrDeviceBusy = errors.New("device busy")

	// ErrNoSuchDevice - no mapped device has the requested name.
	ErrNoSuchDevice = errors.New("no such device")

	// ErrUnsupportedVersion - the kernel speaks another major version of the
	// interface.
	ErrUnsupportedVersion = errors.New("unsupported device-mapper version")
)

// DmError is a failed ioctl.
type DmError struct {
	Command Command
	Name    string
	Errno   unix.Errno
}

func (e *DmError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("dm %s: %s", e.Command, e.Errno.Error())
	}

	return fmt.Sprintf("dm %s %s: %s", e.Command, e.Name, e.Errno.Error())
}

// Unwrap returns the errno.
func (e *DmError) Unwrap() error {
	return e.Errno
}

// Is matches ErrDeviceBusy for EBUSY and ErrNoSuchDevice for ENXIO.
func (e *DmError) Is(target error) bool {
	switch target {
	case ErrDeviceBusy:
		return e.Errno == unix.EBUSY
	case ErrNoSuchDevice:
		return e.Errno == unix.ENXIO
	}

	return false
}
