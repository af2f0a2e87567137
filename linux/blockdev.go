//go:build linux
// +build linux

package linux

import (
	"os"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"machinerun.io/lvmeta"
)

// ErrNotBlockDevice is returned for paths that are neither block devices
// nor regular files.
var ErrNotBlockDevice = errors.New("not a block device or image file")

// BlockDevice is an open block device or disk image. It is an mda.Device.
// Images have a zero Device.
type BlockDevice struct {
	*os.File
	Path   string
	Device lvmeta.Device
	size   uint64
}

// OpenBlockDevice opens path for reading and writing.
func OpenBlockDevice(path string) (*BlockDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}

	bd := &BlockDevice{File: f, Path: path}

	if err := bd.probe(); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "%s", path)
	}

	return bd, nil
}

func (bd *BlockDevice) probe() error {
	var st unix.Stat_t

	if err := unix.Fstat(int(bd.Fd()), &st); err != nil {
		return err
	}

	switch st.Mode & unix.S_IFMT {
	case unix.S_IFBLK:
		rdev := uint64(st.Rdev) //nolint:unconvert
		bd.Device = lvmeta.Device{Major: unix.Major(rdev), Minor: unix.Minor(rdev)}

		var size uint64

		_, _, errno := unix.Syscall(unix.SYS_IOCTL, bd.Fd(), unix.BLKGETSIZE64, uintptr(unsafe.Pointer(&size)))
		if errno != 0 {
			return errors.Wrap(errno, "BLKGETSIZE64")
		}

		bd.size = size
	case unix.S_IFREG:
		size, err := getFileSize(bd.File)
		if err != nil {
			return err
		}

		bd.size = size
	default:
		return ErrNotBlockDevice
	}

	return nil
}

// Size returns the size in bytes.
func (bd *BlockDevice) Size() uint64 {
	return bd.size
}

// Sectors returns the size in whole 512 byte sectors.
func (bd *BlockDevice) Sectors() uint64 {
	return Floor(bd.size, lvmeta.SectorSize) / lvmeta.SectorSize
}
