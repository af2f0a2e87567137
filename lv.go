package lvmeta

import (
	"fmt"

	"machinerun.io/lvmeta/textfmt"
)

// LV is a logical volume: an ordered list of segments that together map
// extents [0, UsedExtents()) of the volume onto physical volumes.
type LV struct {
	Name         string
	UUID         string
	Status       []string
	Flags        []string
	CreationHost string
	CreationTime int64

	// Device is the persistent device number, if one was assigned.
	Device   *Device
	Segments []Segment

	Extra *textfmt.Map
}

// UsedExtents returns the sum of the segment extent counts.
func (lv LV) UsedExtents() uint64 {
	var n uint64
	for _, s := range lv.Segments {
		n = addExtents(n, s.ExtentCount)
	}

	return n
}

func segmentKey(i int) string {
	return fmt.Sprintf("segment%d", i+1)
}

// LVFromTree builds an LV from its section.
func LVFromTree(name string, m *textfmt.Map) (LV, error) {
	f := newFields("logical volume "+name, m)
	lv := LV{
		Name:         name,
		UUID:         f.str("id", true),
		Status:       f.strs("status"),
		Flags:        f.strs("flags"),
		CreationHost: f.str("creation_host", false),
		CreationTime: int64(f.num("creation_time", false)),
	}

	_, hasMajor := f.entry("major", false)
	_, hasMinor := f.entry("minor", false)

	if hasMajor || hasMinor {
		lv.Device = &Device{
			Major: uint32(f.num("major", true)),
			Minor: uint32(f.num("minor", true)),
		}
	}

	count := f.num("segment_count", true)
	if f.err != nil {
		return lv, f.err
	}

	if count > uint64(m.Len()) {
		return lv, invalidf("logical volume %s: segment_count %d exceeds section size", name, count)
	}

	for i := 0; i < int(count); i++ {
		key := segmentKey(i)

		seg, err := SegmentFromTree(key, f.nested(key, true))
		if f.err != nil {
			return lv, f.err
		}

		if err != nil {
			return lv, prefixInvalid("logical volume "+name, err)
		}

		lv.Segments = append(lv.Segments, seg)
	}

	lv.Extra = f.extra()

	return lv, nil
}

// ToTree returns the LV's section.
func (lv LV) ToTree() *textfmt.Map {
	m := textfmt.NewMap()
	m.Set("id", textfmt.String(lv.UUID))
	m.Set("status", textfmt.Strings(lv.Status))
	m.Set("flags", textfmt.Strings(lv.Flags))

	if lv.CreationHost != "" {
		m.Set("creation_host", textfmt.String(lv.CreationHost))
	}

	if lv.CreationTime != 0 {
		m.Set("creation_time", textfmt.Number(lv.CreationTime))
	}

	if lv.Device != nil {
		m.Set("major", number(uint64(lv.Device.Major)))
		m.Set("minor", number(uint64(lv.Device.Minor)))
	}

	m.Set("segment_count", number(uint64(len(lv.Segments))))

	for i, s := range lv.Segments {
		m.Set(segmentKey(i), textfmt.Nested(s.ToTree()))
	}

	appendExtra(m, lv.Extra)

	return m
}
