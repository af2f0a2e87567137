package dm

import (
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"machinerun.io/lvmeta"
)

// Control carries one request buffer to the kernel and back. The kernel
// reads the request from buf and writes its answer into the same buffer.
// Failures are reported as a unix.Errno.
type Control interface {
	Ioctl(cmd Command, buf []byte) error
}

// initialListSize is the first buffer size tried for list and status
// requests. It doubles while the kernel reports the buffer full.
const (
	initialListSize = 16 * 1024
	maxListSize     = 16 * 1024 * 1024
)

// Channel issues device-mapper requests over a Control.
//
// A Channel holds no per-device state. Requests for different device names
// may run concurrently; requests for the same name must be serialized by
// the caller.
type Channel struct {
	ctl Control
	log *logrus.Entry
}

// New returns a Channel over ctl. A nil log uses the standard logger.
func New(ctl Control, log *logrus.Entry) *Channel {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Channel{ctl: ctl, log: log}
}

type request struct {
	cmd     Command
	name    string
	uuid    string
	flags   uint32
	dev     uint64
	count   uint32
	payload []byte
	size    int
}

func (c *Channel) ioctl(r request) (*Header, []byte, error) {
	size := HeaderSize + len(r.payload)
	if r.size > size {
		size = r.size
	}

	buf := make([]byte, size)
	hdr := Header{
		Version:     [3]uint32{VersionMajor, VersionMinor, VersionPatch},
		DataSize:    uint32(size),
		DataStart:   HeaderSize,
		TargetCount: r.count,
		Flags:       r.flags,
		Dev:         r.dev,
		Name:        r.name,
		UUID:        r.uuid,
	}

	if err := hdr.Put(buf); err != nil {
		return nil, nil, errors.Wrapf(err, "dm %s", r.cmd)
	}

	copy(buf[HeaderSize:], r.payload)

	log := c.log.WithFields(logrus.Fields{"command": r.cmd.String(), "dm_name": r.name})
	log.Debug("ioctl")

	err := c.ctl.Ioctl(r.cmd, buf)
	if errors.Is(err, unix.EINTR) {
		log.Debug("interrupted, retrying")

		err = c.ctl.Ioctl(r.cmd, buf)
	}

	if err != nil {
		var errno unix.Errno
		if errors.As(err, &errno) {
			// the kernel may still have answered in the header, as it does
			// with its own version on a version mismatch
			out, _ := ParseHeader(buf)

			return out, nil, &DmError{Command: r.cmd, Name: r.name, Errno: errno}
		}

		return nil, nil, errors.Wrapf(err, "dm %s %s", r.cmd, r.name)
	}

	out, err := ParseHeader(buf)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "dm %s %s: reply", r.cmd, r.name)
	}

	return out, buf, nil
}

// query repeats r with a growing buffer until the answer fits and returns
// the answer's payload.
func (c *Channel) query(r request) (*Header, []byte, error) {
	for r.size = initialListSize; ; r.size *= 2 {
		hdr, buf, err := c.ioctl(r)
		if err != nil {
			return nil, nil, err
		}

		if hdr.Flags&FlagBufferFull == 0 {
			payload, err := hdr.Payload(buf)
			if err != nil {
				return nil, nil, errors.Wrapf(err, "dm %s %s: reply", r.cmd, r.name)
			}

			return hdr, payload, nil
		}

		if r.size >= maxListSize {
			return nil, nil, errors.Errorf("dm %s %s: reply larger than %d bytes", r.cmd, r.name, maxListSize)
		}
	}
}

// Version returns the kernel's interface version. On failure the version is
// still returned when the kernel reported one.
func (c *Channel) Version() (Version, error) {
	hdr, _, err := c.ioctl(request{cmd: CmdVersion})
	if hdr == nil {
		return Version{}, err
	}

	return Version{Major: hdr.Version[0], Minor: hdr.Version[1], Patch: hdr.Version[2]}, err
}

// CheckVersion fails with ErrUnsupportedVersion unless the kernel speaks
// the major version this package implements.
func (c *Channel) CheckVersion() (Version, error) {
	v, err := c.Version()
	if v.Major != VersionMajor && (err == nil || errors.Is(err, unix.EINVAL)) {
		return v, errors.Wrapf(ErrUnsupportedVersion, "kernel %s, need %d.x", v, VersionMajor)
	}

	return v, err
}

// ListDevices returns every mapped device sorted by name.
func (c *Channel) ListDevices() ([]NamedDevice, error) {
	hdr, payload, err := c.query(request{cmd: CmdListDevices})
	if err != nil {
		return nil, err
	}

	if hdr.DataSize == hdr.DataStart {
		return []NamedDevice{}, nil
	}

	devs, err := DecodeNameList(payload)
	if err != nil {
		return nil, errors.Wrap(err, "dm list_devices")
	}

	sort.Slice(devs, func(i, j int) bool { return devs[i].Name < devs[j].Name })

	return devs, nil
}

// DeviceCreate creates an empty mapped device. A non-nil dev asks for that
// device number; otherwise the kernel picks one. The number in use is
// returned.
func (c *Channel) DeviceCreate(name, uuid string, dev *lvmeta.Device) (lvmeta.Device, error) {
	r := request{cmd: CmdDevCreate, name: name, uuid: uuid}

	if dev != nil {
		r.flags |= FlagPersistentDev
		r.dev = dev.Pack()
	}

	hdr, _, err := c.ioctl(r)
	if err != nil {
		return lvmeta.Device{}, err
	}

	created := lvmeta.DeviceFromPacked(hdr.Dev)
	c.log.WithFields(logrus.Fields{"dm_name": name, "device": created.String()}).Debug("device created")

	return created, nil
}

// TableLoad stages lines as the inactive table of name. The live table is
// untouched until TableResume.
func (c *Channel) TableLoad(name string, lines []TableLine) error {
	payload, err := EncodeTable(lines)
	if err != nil {
		return errors.Wrapf(err, "dm table_load %s", name)
	}

	_, _, err = c.ioctl(request{cmd: CmdTableLoad, name: name, count: uint32(len(lines)), payload: payload})

	return err
}

// TableResume swaps a staged table in and resumes I/O.
func (c *Channel) TableResume(name string) (lvmeta.Device, error) {
	hdr, _, err := c.ioctl(request{cmd: CmdDevSuspend, name: name})
	if err != nil {
		return lvmeta.Device{}, err
	}

	return lvmeta.DeviceFromPacked(hdr.Dev), nil
}

// DeviceSuspend holds I/O to name.
func (c *Channel) DeviceSuspend(name string) error {
	_, _, err := c.ioctl(request{cmd: CmdDevSuspend, name: name, flags: FlagSuspend})

	return err
}

// DeviceRemove tears down name. An open device fails with ErrDeviceBusy.
func (c *Channel) DeviceRemove(name string) error {
	_, _, err := c.ioctl(request{cmd: CmdDevRemove, name: name})

	return err
}

// TableClear drops a staged table.
func (c *Channel) TableClear(name string) error {
	_, _, err := c.ioctl(request{cmd: CmdTableClear, name: name})

	return err
}

// DeviceInfo returns the state of name.
func (c *Channel) DeviceInfo(name string) (Info, error) {
	hdr, _, err := c.ioctl(request{cmd: CmdDevStatus, name: name})
	if err != nil {
		return Info{}, err
	}

	return infoFromHeader(hdr), nil
}

// TableStatus returns the live table of name.
func (c *Channel) TableStatus(name string) ([]TableLine, error) {
	hdr, payload, err := c.query(request{cmd: CmdTableStatus, name: name, flags: FlagStatusTable})
	if err != nil {
		return nil, err
	}

	lines, err := DecodeTableStatus(payload, hdr.TargetCount)
	if err != nil {
		return nil, errors.Wrapf(err, "dm table_status %s", name)
	}

	return lines, nil
}

func infoFromHeader(hdr *Header) Info {
	return Info{
		Name:        hdr.Name,
		UUID:        hdr.UUID,
		Device:      lvmeta.DeviceFromPacked(hdr.Dev),
		OpenCount:   hdr.OpenCount,
		TargetCount: hdr.TargetCount,
		EventNr:     hdr.EventNr,
		Flags:       hdr.Flags,
	}
}
