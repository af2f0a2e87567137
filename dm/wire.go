package dm

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"

	"machinerun.io/lvmeta"
)

// Sizes of the fixed kernel structures.
const (
	HeaderSize     = 312
	TargetSpecSize = 40

	NameLen       = 128
	UUIDLen       = 129
	TargetTypeLen = 16

	nameListHead = 12
)

// ErrShortBuffer is returned when a buffer can not hold the structure being
// decoded.
var ErrShortBuffer = errors.New("dm: short buffer")

var le = binary.LittleEndian

// Header is struct dm_ioctl.
//
//	0   version[3]   u32
//	12  data_size    u32  total buffer size, header included
//	16  data_start   u32  payload offset from the buffer start
//	20  target_count u32
//	24  open_count   i32
//	28  flags        u32
//	32  event_nr     u32
//	36  padding      u32
//	40  dev          u64
//	48  name         [128]byte
//	176 uuid         [129]byte
//	305 data         [7]byte
type Header struct {
	Version     [3]uint32
	DataSize    uint32
	DataStart   uint32
	TargetCount uint32
	OpenCount   int32
	Flags       uint32
	EventNr     uint32
	Dev         uint64
	Name        string
	UUID        string
}

// Put writes h into the first HeaderSize bytes of buf.
func (h *Header) Put(buf []byte) error {
	if len(buf) < HeaderSize {
		return errors.Wrapf(ErrShortBuffer, "header needs %d bytes, have %d", HeaderSize, len(buf))
	}

	if len(h.Name) >= NameLen {
		return errors.Errorf("dm: name %q longer than %d bytes", h.Name, NameLen-1)
	}

	if len(h.UUID) >= UUIDLen {
		return errors.Errorf("dm: uuid %q longer than %d bytes", h.UUID, UUIDLen-1)
	}

	for i := range buf[:HeaderSize] {
		buf[i] = 0
	}

	for i, v := range h.Version {
		le.PutUint32(buf[4*i:], v)
	}

	le.PutUint32(buf[12:], h.DataSize)
	le.PutUint32(buf[16:], h.DataStart)
	le.PutUint32(buf[20:], h.TargetCount)
	le.PutUint32(buf[24:], uint32(h.OpenCount))
	le.PutUint32(buf[28:], h.Flags)
	le.PutUint32(buf[32:], h.EventNr)
	le.PutUint64(buf[40:], h.Dev)
	copy(buf[48:48+NameLen], h.Name)
	copy(buf[176:176+UUIDLen], h.UUID)

	return nil
}

// ParseHeader decodes the header at the start of buf.
func ParseHeader(buf []byte) (*Header, error) {
	if len(buf) < HeaderSize {
		return nil, errors.Wrapf(ErrShortBuffer, "header needs %d bytes, have %d", HeaderSize, len(buf))
	}

	h := &Header{
		DataSize:    le.Uint32(buf[12:]),
		DataStart:   le.Uint32(buf[16:]),
		TargetCount: le.Uint32(buf[20:]),
		OpenCount:   int32(le.Uint32(buf[24:])),
		Flags:       le.Uint32(buf[28:]),
		EventNr:     le.Uint32(buf[32:]),
		Dev:         le.Uint64(buf[40:]),
		Name:        cString(buf[48 : 48+NameLen]),
		UUID:        cString(buf[176 : 176+UUIDLen]),
	}

	for i := range h.Version {
		h.Version[i] = le.Uint32(buf[4*i:])
	}

	return h, nil
}

// Payload returns the bytes between DataStart and DataSize.
func (h *Header) Payload(buf []byte) ([]byte, error) {
	if h.DataStart < HeaderSize || h.DataStart > h.DataSize || int(h.DataSize) > len(buf) {
		return nil, errors.Wrapf(ErrShortBuffer, "payload [%d, %d) of a %d byte buffer",
			h.DataStart, h.DataSize, len(buf))
	}

	return buf[h.DataStart:h.DataSize], nil
}

func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}

	return string(b)
}

func align8(n int) int {
	return (n + 7) &^ 7
}

// EncodeTable lays out lines as a TABLE_LOAD payload: dm_target_spec
// records each followed by its NUL terminated parameters padded to eight
// bytes. Every next field is the distance to the following record.
func EncodeTable(lines []TableLine) ([]byte, error) {
	return encodeTargets(lines, false)
}

// EncodeTableStatus lays out lines the way TABLE_STATUS returns them, with
// next fields counted from the payload start.
func EncodeTableStatus(lines []TableLine) ([]byte, error) {
	return encodeTargets(lines, true)
}

func encodeTargets(lines []TableLine, fromStart bool) ([]byte, error) {
	var buf []byte

	for _, l := range lines {
		if len(l.Type) >= TargetTypeLen {
			return nil, errors.Errorf("dm: target type %q longer than %d bytes", l.Type, TargetTypeLen-1)
		}

		start := len(buf)
		size := TargetSpecSize + align8(len(l.Params)+1)
		rec := make([]byte, size)

		le.PutUint64(rec[0:], l.Start)
		le.PutUint64(rec[8:], l.Length)
		copy(rec[24:24+TargetTypeLen], l.Type)
		copy(rec[TargetSpecSize:], l.Params)

		if fromStart {
			le.PutUint32(rec[20:], uint32(start+size))
		} else {
			le.PutUint32(rec[20:], uint32(size))
		}

		buf = append(buf, rec...)
	}

	return buf, nil
}

// DecodeTable reads count records written by EncodeTable.
func DecodeTable(payload []byte, count uint32) ([]TableLine, error) {
	return decodeTargets(payload, count, false)
}

// DecodeTableStatus reads count records written by EncodeTableStatus.
func DecodeTableStatus(payload []byte, count uint32) ([]TableLine, error) {
	return decodeTargets(payload, count, true)
}

func decodeTargets(payload []byte, count uint32, fromStart bool) ([]TableLine, error) {
	lines := make([]TableLine, 0, count)
	off := 0

	for i := uint32(0); i < count; i++ {
		if off < 0 || off+TargetSpecSize > len(payload) {
			return nil, errors.Wrapf(ErrShortBuffer, "target %d at %d of %d bytes", i, off, len(payload))
		}

		rec := payload[off:]
		next := int(le.Uint32(rec[20:]))
		end := len(payload)

		if i+1 < count {
			end = next
			if !fromStart {
				end += off
			}

			if end <= off || end > len(payload) {
				return nil, errors.Wrapf(ErrShortBuffer, "target %d: next %d out of range", i, next)
			}
		}

		lines = append(lines, TableLine{
			Start:  le.Uint64(rec[0:]),
			Length: le.Uint64(rec[8:]),
			Type:   cString(rec[24 : 24+TargetTypeLen]),
			Params: cString(payload[off+TargetSpecSize : end]),
		})

		off = end
	}

	return lines, nil
}

// EncodeNameList lays out devs as a LIST_DEVICES result: dm_name_list
// records of dev u64, next u32 and a NUL terminated name, each padded to
// eight bytes. An empty list is a single zeroed record.
func EncodeNameList(devs []NamedDevice) []byte {
	if len(devs) == 0 {
		return make([]byte, 16)
	}

	var buf []byte

	for i, d := range devs {
		size := align8(nameListHead + len(d.Name) + 1)
		rec := make([]byte, size)

		le.PutUint64(rec[0:], d.Device.Pack())
		copy(rec[nameListHead:], d.Name)

		if i+1 < len(devs) {
			le.PutUint32(rec[8:], uint32(size))
		}

		buf = append(buf, rec...)
	}

	return buf
}

// DecodeNameList reads a LIST_DEVICES result.
func DecodeNameList(payload []byte) ([]NamedDevice, error) {
	devs := []NamedDevice{}

	if len(payload) < nameListHead || le.Uint64(payload) == 0 {
		return devs, nil
	}

	for off := 0; ; {
		if off+nameListHead > len(payload) {
			return nil, errors.Wrapf(ErrShortBuffer, "name record at %d of %d bytes", off, len(payload))
		}

		rec := payload[off:]
		name := rec[nameListHead:]

		if bytes.IndexByte(name, 0) < 0 {
			return nil, errors.Wrapf(ErrShortBuffer, "name record at %d is not terminated", off)
		}

		devs = append(devs, NamedDevice{Name: cString(name), Device: lvmeta.DeviceFromPacked(le.Uint64(rec))})

		next := int(le.Uint32(rec[8:]))
		if next == 0 {
			return devs, nil
		}

		off += next
	}
}
