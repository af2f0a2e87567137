package lvmeta

import (
	"time"

	"machinerun.io/lvmeta/textfmt"
)

const (
	diskContents = "Text Format Volume Group"
	diskVersion  = 1
)

// DiskTree wraps the volume group section in the header keys written into
// metadata areas.
func DiskTree(vg *VG, host string, now time.Time) *textfmt.Map {
	m := textfmt.NewMap()
	m.Set("contents", textfmt.String(diskContents))
	m.Set("version", textfmt.Number(diskVersion))
	m.Set("description", textfmt.String(""))
	m.Set("creation_host", textfmt.String(host))
	m.Set("creation_time", textfmt.Number(now.Unix()))
	m.Set(vg.Name, textfmt.Nested(vg.ToTree()))

	return m
}

// VGFromDiskTree finds the single volume group section of a metadata area
// tree and builds the VG from it.
func VGFromDiskTree(m *textfmt.Map) (*VG, error) {
	var name string

	var section *textfmt.Map

	err := m.Each(func(key string, value textfmt.Entry) error {
		sub, ok := value.AsMap()
		if !ok {
			return nil
		}

		if section != nil {
			return invalidf("metadata holds volume groups %s and %s", name, key)
		}

		name, section = key, sub

		return nil
	})
	if err != nil {
		return nil, err
	}

	if section == nil {
		return nil, invalidf("metadata holds no volume group")
	}

	if v, ok := m.Number("version"); ok && v != diskVersion {
		return nil, invalidf("unsupported metadata version %d", v)
	}

	return VGFromTree(name, section)
}

// SeqnoOf returns the seqno of the volume group section in a metadata area
// tree without building the model.
func SeqnoOf(m *textfmt.Map) (uint64, bool) {
	var seqno int64

	found := false

	_ = m.Each(func(key string, value textfmt.Entry) error {
		if sub, ok := value.AsMap(); ok && !found {
			seqno, found = sub.Number("seqno")
		}

		return nil
	})

	if !found || seqno < 0 {
		return 0, false
	}

	return uint64(seqno), true
}
