package lvmeta

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Device identifies a block device by its kernel major and minor numbers.
type Device struct {
	Major uint32
	Minor uint32
}

// ErrBadDevice is returned when a device string can not be parsed.
var ErrBadDevice = errors.New("invalid device number")

// Pack returns the kernel's 64 bit encoding of d. Minors below 256 sit in
// the low byte, the rest of the minor goes above the 12 bit major.
func (d Device) Pack() uint64 {
	major, minor := uint64(d.Major), uint64(d.Minor)

	return (minor & 0xff) | ((major & 0xfff) << 8) | ((minor &^ 0xff) << 12) | ((major &^ 0xfff) << 32)
}

// DeviceFromPacked is the inverse of Device.Pack.
func DeviceFromPacked(n uint64) Device {
	return Device{
		Major: uint32(((n >> 8) & 0xfff) | ((n >> 32) &^ 0xfff)),
		Minor: uint32((n & 0xff) | ((n >> 12) & 0xffffff00)),
	}
}

func (d Device) String() string {
	return fmt.Sprintf("%d:%d", d.Major, d.Minor)
}

// IsZero reports whether d is the unset device 0:0.
func (d Device) IsZero() bool {
	return d.Major == 0 && d.Minor == 0
}

// Path returns the path of the device node under deviceDir, using the
// block/major:minor links udev maintains.
func (d Device) Path(deviceDir string) string {
	return path.Join(deviceDir, "block", d.String())
}

// ParseDevice parses "major:minor".
func ParseDevice(s string) (Device, error) {
	toks := strings.Split(s, ":")
	if len(toks) != 2 {
		return Device{}, errors.Wrapf(ErrBadDevice, "%q", s)
	}

	major, err := strconv.ParseUint(toks[0], 10, 32)
	if err != nil {
		return Device{}, errors.Wrapf(ErrBadDevice, "%q: %s", s, err)
	}

	minor, err := strconv.ParseUint(toks[1], 10, 32)
	if err != nil {
		return Device{}, errors.Wrapf(ErrBadDevice, "%q: %s", s, err)
	}

	return Device{Major: uint32(major), Minor: uint32(minor)}, nil
}
