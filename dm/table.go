package dm

import (
	"fmt"
	"strings"

	"machinerun.io/lvmeta"
)

// Target types this package builds lines for.
const (
	TargetLinear  = "linear"
	TargetStriped = "striped"
)

// TableLine is one mapping of a device-mapper table: Length sectors
// starting at sector Start of the mapped device are served by target Type
// configured with Params.
type TableLine struct {
	Start  uint64
	Length uint64
	Type   string
	Params string
}

func (l TableLine) String() string {
	return fmt.Sprintf("%d %d %s %s", l.Start, l.Length, l.Type, l.Params)
}

// StripeTarget is one leg of a striped line: a device and the sector on it
// where the leg begins.
type StripeTarget struct {
	Device lvmeta.Device
	Offset uint64
}

func (s StripeTarget) String() string {
	return fmt.Sprintf("%s %d", s.Device, s.Offset)
}

// LinearLine maps [start, start+length) onto dev beginning at sector offset.
func LinearLine(start, length uint64, dev lvmeta.Device, offset uint64) TableLine {
	return TableLine{
		Start:  start,
		Length: length,
		Type:   TargetLinear,
		Params: StripeTarget{Device: dev, Offset: offset}.String(),
	}
}

// StripedLine interleaves [start, start+length) across legs in chunks of
// chunk sectors.
func StripedLine(start, length, chunk uint64, legs []StripeTarget) TableLine {
	params := make([]string, 0, len(legs)+2)
	params = append(params, fmt.Sprint(len(legs)), fmt.Sprint(chunk))

	for _, l := range legs {
		params = append(params, l.String())
	}

	return TableLine{
		Start:  start,
		Length: length,
		Type:   TargetStriped,
		Params: strings.Join(params, " "),
	}
}

// NamedDevice is an entry of the kernel's device list.
type NamedDevice struct {
	Name   string
	Device lvmeta.Device
}

// Version is the kernel's device-mapper interface version.
type Version struct {
	Major uint32
	Minor uint32
	Patch uint32
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Info is the state of one mapped device.
type Info struct {
	Name        string
	UUID        string
	Device      lvmeta.Device
	OpenCount   int32
	TargetCount uint32
	EventNr     uint32
	Flags       uint32
}

// Suspended reports whether I/O to the device is held.
func (i Info) Suspended() bool {
	return i.Flags&FlagSuspend != 0
}

// LiveTable reports whether the device has an active table.
func (i Info) LiveTable() bool {
	return i.Flags&FlagActivePresent != 0
}

// InactiveTable reports whether a loaded table is waiting for a resume.
func (i Info) InactiveTable() bool {
	return i.Flags&FlagInactivePresent != 0
}

// ReadOnly reports whether the device refuses writes.
func (i Info) ReadOnly() bool {
	return i.Flags&FlagReadOnly != 0
}
