//go:build linux
// +build linux

package linux

import (
	"os"
	"runtime"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"machinerun.io/lvmeta/dm"
)

// DefaultControl is the device-mapper control node.
const DefaultControl = "/dev/mapper/control"

// ErrNoControl is returned when the control node is missing.
var ErrNoControl = errors.New("device-mapper control node not found")

// Control issues device-mapper ioctls on the control node. It satisfies
// dm.Control.
type Control struct {
	path string
	f    *os.File
}

// OpenControl opens the control node at path, DefaultControl if empty.
func OpenControl(path string) (*Control, error) {
	if path == "" {
		path = DefaultControl
	}

	if !pathExists(path) {
		return nil, errors.Wrapf(ErrNoControl, "%s", path)
	}

	f, err := os.OpenFile(path, os.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}

	return &Control{path: path, f: f}, nil
}

// Ioctl runs cmd with buf as the in and out buffer. The buffer starts with
// the header and must be at least dm.HeaderSize long.
func (c *Control) Ioctl(cmd dm.Command, buf []byte) error {
	if len(buf) < dm.HeaderSize {
		return unix.EINVAL
	}

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, c.f.Fd(), cmd.Request(), uintptr(unsafe.Pointer(&buf[0])))
	runtime.KeepAlive(buf)

	if errno != 0 {
		return errno
	}

	return nil
}

// Close closes the control device.
func (c *Control) Close() error {
	return c.f.Close()
}

// String returns the path the control device was opened at.
func (c *Control) String() string {
	return c.path
}
