// Package mda reads and writes the on-disk structures of an LVM2 physical
// volume: the label in the first sectors, the PV header behind it, and the
// metadata areas holding the volume group text in a circular buffer.
package mda

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

const (
	// SectorSize of the on-disk structures.
	SectorSize = 512

	// LabelSector is where Initialize writes the label.
	LabelSector = 1

	// LabelScanSectors is how many leading sectors are searched for a label.
	LabelScanSectors = 4

	// DefaultAreaSize is the size of each metadata area Initialize creates.
	DefaultAreaSize = 1024 * 1024

	labelID       = "LABELONE"
	labelType     = "LVM2 001"
	labelSize     = 32
	idLen         = 32
	locnSize      = 16
	extVersion    = 1
	firstAreaOffs = 8 * SectorSize
)

// Locn is an area of the device, in bytes from the device start.
type Locn struct {
	Offset uint64
	Size   uint64
}

// Label is the PV label and header. UUID is stored without hyphens.
type Label struct {
	Sector          uint64
	UUID            string
	DevSize         uint64
	DataAreas       []Locn
	MetadataAreas   []Locn
	ExtVersion      uint32
	ExtFlags        uint32
	BootloaderAreas []Locn
}

// Device is what the label and the metadata areas are stored on. If it also
// has a Sync method, writes are flushed at the commit points.
type Device interface {
	io.ReaderAt
	io.WriterAt
}

type syncer interface {
	Sync() error
}

func flush(dev Device) error {
	if s, ok := dev.(syncer); ok {
		return errors.Wrap(s.Sync(), "sync")
	}

	return nil
}

func readFull(dev Device, buf []byte, off uint64) error {
	n, err := dev.ReadAt(buf, int64(off))
	if n == len(buf) {
		return nil
	}

	if err == nil {
		err = io.ErrUnexpectedEOF
	}

	return errors.Wrapf(err, "read %d bytes at %d", len(buf), off)
}

func writeFull(dev Device, buf []byte, off uint64) error {
	n, err := dev.WriteAt(buf, int64(off))
	if err == nil && n != len(buf) {
		err = io.ErrShortWrite
	}

	return errors.Wrapf(err, "write %d bytes at %d", len(buf), off)
}

// ReadLabel searches the first LabelScanSectors sectors of dev for a PV
// label and decodes the PV header it points to.
func ReadLabel(dev Device) (*Label, error) {
	buf := make([]byte, LabelScanSectors*SectorSize)
	if err := readFull(dev, buf, 0); err != nil {
		return nil, err
	}

	for s := 0; s < LabelScanSectors; s++ {
		sec := buf[s*SectorSize : (s+1)*SectorSize]
		if !bytes.Equal(sec[:8], []byte(labelID)) {
			continue
		}

		return parseLabel(uint64(s), sec)
	}

	return nil, ErrNoLabel
}

func parseLabel(s uint64, sec []byte) (*Label, error) {
	le := binary.LittleEndian

	if crc := le.Uint32(sec[16:20]); crc != Checksum(sec[20:]) {
		return nil, errors.Wrapf(ErrCorruptLabel, "sector %d: checksum %#x", s, crc)
	}

	if sector := le.Uint64(sec[8:16]); sector != s {
		return nil, errors.Wrapf(ErrCorruptLabel, "sector %d claims to be sector %d", s, sector)
	}

	if string(sec[24:32]) != labelType {
		return nil, errors.Wrapf(ErrCorruptLabel, "unsupported label type %q", sec[24:32])
	}

	offset := le.Uint32(sec[20:24])
	if offset < labelSize || offset >= SectorSize-idLen-8 {
		return nil, errors.Wrapf(ErrCorruptLabel, "pv header offset %d", offset)
	}

	l := &Label{Sector: s}
	hdr := sec[offset:]

	l.UUID = string(hdr[:idLen])
	l.DevSize = le.Uint64(hdr[idLen : idLen+8])
	rest := hdr[idLen+8:]

	var ok bool

	if l.DataAreas, rest, ok = parseLocns(rest); !ok {
		return nil, errors.Wrap(ErrCorruptLabel, "data area list overruns sector")
	}

	if l.MetadataAreas, rest, ok = parseLocns(rest); !ok {
		return nil, errors.Wrap(ErrCorruptLabel, "metadata area list overruns sector")
	}

	if len(rest) < 8 {
		return l, nil
	}

	l.ExtVersion = le.Uint32(rest[:4])
	if l.ExtVersion == 0 {
		return l, nil
	}

	l.ExtFlags = le.Uint32(rest[4:8])

	if l.BootloaderAreas, _, ok = parseLocns(rest[8:]); !ok {
		return nil, errors.Wrap(ErrCorruptLabel, "bootloader area list overruns sector")
	}

	return l, nil
}

// parseLocns reads a zero-terminated list of areas and returns the bytes
// following the terminator.
func parseLocns(buf []byte) ([]Locn, []byte, bool) {
	out := []Locn{}

	for {
		if len(buf) < locnSize {
			return nil, nil, false
		}

		l := Locn{
			Offset: binary.LittleEndian.Uint64(buf[:8]),
			Size:   binary.LittleEndian.Uint64(buf[8:16]),
		}
		buf = buf[locnSize:]

		if l.Offset == 0 {
			return out, buf, true
		}

		out = append(out, l)
	}
}

func putLocns(buf []byte, locns []Locn) ([]byte, error) {
	terminated := make([]Locn, 0, len(locns)+1)
	terminated = append(append(terminated, locns...), Locn{})

	for _, l := range terminated {
		if len(buf) < locnSize {
			return nil, errors.New("area lists do not fit in the label sector")
		}

		binary.LittleEndian.PutUint64(buf[:8], l.Offset)
		binary.LittleEndian.PutUint64(buf[8:16], l.Size)
		buf = buf[locnSize:]
	}

	return buf, nil
}

// Marshal returns the label sector.
func (l *Label) Marshal() ([]byte, error) {
	le := binary.LittleEndian
	sec := make([]byte, SectorSize)

	if len(l.UUID) != idLen {
		return nil, errors.Errorf("pv uuid %q is not %d characters", l.UUID, idLen)
	}

	copy(sec[:8], labelID)
	le.PutUint64(sec[8:16], l.Sector)
	le.PutUint32(sec[20:24], labelSize)
	copy(sec[24:32], labelType)

	hdr := sec[labelSize:]
	copy(hdr[:idLen], l.UUID)
	le.PutUint64(hdr[idLen:idLen+8], l.DevSize)

	rest, err := putLocns(hdr[idLen+8:], l.DataAreas)
	if err != nil {
		return nil, err
	}

	if rest, err = putLocns(rest, l.MetadataAreas); err != nil {
		return nil, err
	}

	if l.ExtVersion != 0 {
		if len(rest) < 8 {
			return nil, errors.New("extension header does not fit in the label sector")
		}

		le.PutUint32(rest[:4], l.ExtVersion)
		le.PutUint32(rest[4:8], l.ExtFlags)

		if _, err = putLocns(rest[8:], l.BootloaderAreas); err != nil {
			return nil, err
		}
	}

	le.PutUint32(sec[16:20], Checksum(sec[20:]))

	return sec, nil
}

// WriteLabel writes l into its sector of dev.
func WriteLabel(dev Device, l *Label) error {
	if l.Sector >= LabelScanSectors {
		return errors.Errorf("label sector %d outside the scanned sectors", l.Sector)
	}

	sec, err := l.Marshal()
	if err != nil {
		return err
	}

	if err := writeFull(dev, sec, l.Sector*SectorSize); err != nil {
		return err
	}

	return flush(dev)
}

// Initialize makes dev a PV of devSize bytes: a label in sector 1, a
// metadata area of areaSize bytes starting at 4KiB (less the label space),
// a second one at the end of the device when copies is 2, and the data
// area starting at areaSize. Both metadata areas get an empty header.
func Initialize(dev Device, devSize uint64, uuid string, areaSize uint64, copies int) (*Label, error) {
	if areaSize == 0 {
		areaSize = DefaultAreaSize
	}

	if areaSize%SectorSize != 0 || areaSize <= firstAreaOffs+SectorSize {
		return nil, errors.Errorf("bad metadata area size %d", areaSize)
	}

	if copies < 1 || copies > 2 {
		return nil, errors.Errorf("%d metadata copies per pv, want 1 or 2", copies)
	}

	devSize -= devSize % SectorSize
	if devSize < uint64(copies+1)*areaSize {
		return nil, errors.Wrapf(ErrDeviceTooSmall, "%d bytes", devSize)
	}

	l := &Label{
		Sector:        LabelSector,
		UUID:          uuid,
		DevSize:       devSize,
		DataAreas:     []Locn{{Offset: areaSize}},
		MetadataAreas: []Locn{{Offset: firstAreaOffs, Size: areaSize - firstAreaOffs}},
		ExtVersion:    extVersion,

		BootloaderAreas: []Locn{},
	}

	if copies == 2 {
		l.MetadataAreas = append(l.MetadataAreas, Locn{Offset: devSize - areaSize, Size: areaSize})
	}

	// stale labels in the other scanned sectors would shadow ours
	blank := make([]byte, SectorSize)

	for s := uint64(0); s < LabelScanSectors; s++ {
		if s == l.Sector {
			continue
		}

		if err := writeFull(dev, blank, s*SectorSize); err != nil {
			return nil, err
		}
	}

	for _, locn := range l.MetadataAreas {
		if err := Format(dev, locn); err != nil {
			return nil, err
		}
	}

	if err := WriteLabel(dev, l); err != nil {
		return nil, err
	}

	return l, nil
}

// Areas opens every metadata area listed in the label.
func (l *Label) Areas(dev Device) []*Area {
	areas := make([]*Area, 0, len(l.MetadataAreas))
	for _, locn := range l.MetadataAreas {
		areas = append(areas, Open(dev, locn))
	}

	return areas
}
