package mda

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"

	"machinerun.io/lvmeta"
	"machinerun.io/lvmeta/textfmt"
)

const (
	// HeaderSize is the size of the header at the start of every area. The
	// circular text region follows it.
	HeaderSize = 512

	headerVersion = 1
	rawLocnOffs   = 40
	rawLocnSize   = 24

	// RawLocnIgnored marks an area that readers and writers skip.
	RawLocnIgnored = 1
)

var headerMagic = []byte(" LVM2 x[5A%r0N*>")

// RawLocn locates the committed text inside an area. Offset is relative to
// the area start and always past the header; text longer than the space
// left before the area end continues right after the header.
type RawLocn struct {
	Offset   uint64
	Size     uint64
	Checksum uint32
	Flags    uint32
}

// Header is the decoded metadata area header.
type Header struct {
	Start uint64
	Size  uint64
	Locns []RawLocn
}

// Area is one metadata area on a device.
type Area struct {
	dev  Device
	locn Locn

	// undo holds the header sector the last Write replaced.
	undo []byte
}

// Open returns the area at locn of dev. No I/O happens until Read or Write.
func Open(dev Device, locn Locn) *Area {
	return &Area{dev: dev, locn: locn}
}

// Locn returns where the area lives on its device.
func (a *Area) Locn() Locn {
	return a.locn
}

// Format writes an empty header to the area at locn.
func Format(dev Device, locn Locn) error {
	a := Open(dev, locn)

	return a.writeHeader(nil)
}

func (a *Area) ringSize() uint64 {
	return a.locn.Size - HeaderSize
}

func (a *Area) marshalHeader(locns []RawLocn) []byte {
	le := binary.LittleEndian
	buf := make([]byte, HeaderSize)

	copy(buf[4:20], headerMagic)
	le.PutUint32(buf[20:24], headerVersion)
	le.PutUint64(buf[24:32], a.locn.Offset)
	le.PutUint64(buf[32:40], a.locn.Size)

	off := rawLocnOffs
	for _, rl := range locns {
		le.PutUint64(buf[off:], rl.Offset)
		le.PutUint64(buf[off+8:], rl.Size)
		le.PutUint32(buf[off+16:], rl.Checksum)
		le.PutUint32(buf[off+20:], rl.Flags)
		off += rawLocnSize
	}

	le.PutUint32(buf[:4], Checksum(buf[4:]))

	return buf
}

func (a *Area) writeHeader(locns []RawLocn) error {
	if a.locn.Size <= HeaderSize || a.locn.Size%SectorSize != 0 {
		return errors.Errorf("metadata area at %d: bad size %d", a.locn.Offset, a.locn.Size)
	}

	if err := writeFull(a.dev, a.marshalHeader(locns), a.locn.Offset); err != nil {
		return errors.Wrapf(err, "metadata area at %d: header", a.locn.Offset)
	}

	return flush(a.dev)
}

func (a *Area) readHeaderSector() ([]byte, error) {
	buf := make([]byte, HeaderSize)

	if err := readFull(a.dev, buf, a.locn.Offset); err != nil {
		return nil, errors.Wrapf(err, "metadata area at %d", a.locn.Offset)
	}

	return buf, nil
}

// ReadHeader reads and checks the area header.
func (a *Area) ReadHeader() (*Header, error) {
	buf, err := a.readHeaderSector()
	if err != nil {
		return nil, err
	}

	return a.parseHeader(buf)
}

func (a *Area) parseHeader(buf []byte) (*Header, error) {
	le := binary.LittleEndian

	if crc := le.Uint32(buf[:4]); crc != Checksum(buf[4:]) {
		return nil, errors.Wrapf(ErrCorruptHeader, "area at %d: checksum %#x", a.locn.Offset, crc)
	}

	if !bytes.Equal(buf[4:20], headerMagic) {
		return nil, errors.Wrapf(ErrCorruptHeader, "area at %d: bad magic %q", a.locn.Offset, buf[4:20])
	}

	if v := le.Uint32(buf[20:24]); v != headerVersion {
		return nil, errors.Wrapf(ErrCorruptHeader, "area at %d: version %d", a.locn.Offset, v)
	}

	h := &Header{Start: le.Uint64(buf[24:32]), Size: le.Uint64(buf[32:40])}
	if h.Start != a.locn.Offset || h.Size != a.locn.Size {
		return nil, errors.Wrapf(ErrCorruptHeader, "area at %d size %d: header says %d size %d",
			a.locn.Offset, a.locn.Size, h.Start, h.Size)
	}

	for off := rawLocnOffs; off+rawLocnSize <= HeaderSize; off += rawLocnSize {
		rl := RawLocn{
			Offset:   le.Uint64(buf[off:]),
			Size:     le.Uint64(buf[off+8:]),
			Checksum: le.Uint32(buf[off+16:]),
			Flags:    le.Uint32(buf[off+20:]),
		}

		if rl.Offset == 0 {
			break
		}

		if rl.Offset < HeaderSize || rl.Offset >= a.locn.Size || rl.Size > a.ringSize() {
			return nil, errors.Wrapf(ErrCorruptHeader, "area at %d: text at %d size %d out of bounds",
				a.locn.Offset, rl.Offset, rl.Size)
		}

		h.Locns = append(h.Locns, rl)
	}

	return h, nil
}

// Current returns the location of the committed text.
func (a *Area) Current() (RawLocn, error) {
	h, err := a.ReadHeader()
	if err != nil {
		return RawLocn{}, err
	}

	if len(h.Locns) == 0 {
		return RawLocn{}, errors.Wrapf(ErrNoMetadata, "area at %d", a.locn.Offset)
	}

	return h.Locns[0], nil
}

// ReadRaw returns the committed text, including its trailing NUL, after
// verifying its checksum.
func (a *Area) ReadRaw() ([]byte, error) {
	rl, err := a.Current()
	if err != nil {
		return nil, err
	}

	if rl.Flags&RawLocnIgnored != 0 {
		return nil, errors.Wrapf(ErrIgnored, "area at %d", a.locn.Offset)
	}

	text := make([]byte, rl.Size)
	first := a.locn.Size - rl.Offset

	if first > rl.Size {
		first = rl.Size
	}

	if err := readFull(a.dev, text[:first], a.locn.Offset+rl.Offset); err != nil {
		return nil, err
	}

	if first < rl.Size {
		if err := readFull(a.dev, text[first:], a.locn.Offset+HeaderSize); err != nil {
			return nil, err
		}
	}

	if crc := Checksum(text); crc != rl.Checksum {
		return nil, errors.Wrapf(ErrCorruptPayload, "area at %d: text checksum %#x, header says %#x",
			a.locn.Offset, crc, rl.Checksum)
	}

	return text, nil
}

// Read returns the decoded committed metadata.
func (a *Area) Read() (*textfmt.Map, error) {
	text, err := a.ReadRaw()
	if err != nil {
		return nil, err
	}

	m, err := textfmt.Decode(bytes.TrimRight(text, "\x00"))
	if err != nil {
		return nil, errors.Wrapf(err, "area at %d", a.locn.Offset)
	}

	return m, nil
}

func alignSector(n uint64) uint64 {
	return (n + SectorSize - 1) &^ (SectorSize - 1)
}

// overlaps reports whether two runs on a ring of size ring intersect. Starts
// are ring relative.
func overlaps(a, alen, b, blen, ring uint64) bool {
	if alen == 0 || blen == 0 {
		return false
	}

	d := (b + ring - a) % ring

	return d < alen || d > ring-blen
}

// Write commits tree, whose volume group section must carry seqno. The text
// goes right after the current text, wrapping past the area end, and the
// header is rewritten last: a crash before that leaves the previous text
// committed. A header that fails its checks is replaced. The replaced
// header is kept for Revert.
func (a *Area) Write(tree *textfmt.Map, seqno uint64) error {
	if got, ok := lvmeta.SeqnoOf(tree); !ok || got != seqno {
		return errors.Wrapf(ErrSeqnoMismatch, "tree has seqno %d (found %t), expected %d", got, ok, seqno)
	}

	text := append(textfmt.Encode(tree), 0)
	size := uint64(len(text))
	ring := a.ringSize()

	if size > ring {
		return errors.Wrapf(ErrNoSpace, "area at %d: %d bytes of text, %d available",
			a.locn.Offset, size, ring)
	}

	var prev *RawLocn

	var flags uint32

	old, err := a.readHeaderSector()
	if err != nil {
		return err
	}

	h, err := a.parseHeader(old)

	switch {
	case err == nil && len(h.Locns) > 0:
		prev = &h.Locns[0]
		flags = prev.Flags
	case err == nil, errors.Is(err, ErrCorruptHeader):
	default:
		return err
	}

	if flags&RawLocnIgnored != 0 {
		return errors.Wrapf(ErrIgnored, "area at %d", a.locn.Offset)
	}

	start := uint64(0)

	if prev != nil {
		start = alignSector(prev.Offset - HeaderSize + prev.Size) % ring

		if overlaps(prev.Offset-HeaderSize, prev.Size, start, size, ring) {
			return errors.Wrapf(ErrNoSpace, "area at %d: %d bytes would overwrite the current %d",
				a.locn.Offset, size, prev.Size)
		}
	}

	first := ring - start
	if first > size {
		first = size
	}

	if err := writeFull(a.dev, text[:first], a.locn.Offset+HeaderSize+start); err != nil {
		return err
	}

	if first < size {
		if err := writeFull(a.dev, text[first:], a.locn.Offset+HeaderSize); err != nil {
			return err
		}
	}

	if err := flush(a.dev); err != nil {
		return err
	}

	a.undo = nil

	if err := a.writeHeader([]RawLocn{{
		Offset:   HeaderSize + start,
		Size:     size,
		Checksum: Checksum(text),
		Flags:    flags,
	}}); err != nil {
		return err
	}

	a.undo = old

	return nil
}

// Revert puts back the header the last successful Write replaced, making
// the text committed before it current again. That text is intact since
// Write never overlaps it.
func (a *Area) Revert() error {
	if a.undo == nil {
		return errors.Wrapf(ErrNothingToRevert, "area at %d", a.locn.Offset)
	}

	if err := writeFull(a.dev, a.undo, a.locn.Offset); err != nil {
		return errors.Wrapf(err, "metadata area at %d: restoring header", a.locn.Offset)
	}

	if err := flush(a.dev); err != nil {
		return err
	}

	a.undo = nil

	return nil
}
