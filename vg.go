package lvmeta

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"machinerun.io/lvmeta/textfmt"
)

// VG is a volume group. Seqno is the metadata revision; every committed
// change increments it by one.
type VG struct {
	Name           string
	UUID           string
	Seqno          uint64
	Format         string
	Status         []string
	Flags          []string
	ExtentSize     uint64
	MaxLV          uint64
	MaxPV          uint64
	MetadataCopies uint64
	PVs            []PV
	LVs            []LV

	Extra *textfmt.Map
}

// NewVG returns an empty, writable volume group with a fresh UUID.
func NewVG(name string, extentSize uint64) *VG {
	if extentSize == 0 {
		extentSize = DefaultExtentSize
	}

	return &VG{
		Name:       name,
		UUID:       NewUUID(),
		Format:     FormatLVM2,
		Status:     []string{StatusResizeable, StatusRead, StatusWrite},
		Flags:      []string{},
		ExtentSize: extentSize,
	}
}

// VGFromTree builds and validates a volume group from its section.
func VGFromTree(name string, m *textfmt.Map) (*VG, error) {
	f := newFields("volume group "+name, m)
	vg := &VG{
		Name:           name,
		UUID:           f.str("id", true),
		Seqno:          f.num("seqno", true),
		Format:         f.str("format", false),
		Status:         f.strs("status"),
		Flags:          f.strs("flags"),
		ExtentSize:     f.num("extent_size", true),
		MaxLV:          f.num("max_lv", false),
		MaxPV:          f.num("max_pv", false),
		MetadataCopies: f.num("metadata_copies", false),
	}

	pvs := f.nested("physical_volumes", true)
	lvs := f.nested("logical_volumes", false)

	if f.err != nil {
		return nil, f.err
	}

	err := pvs.Each(func(key string, value textfmt.Entry) error {
		sub, ok := value.AsMap()
		if !ok {
			return invalidf("volume group %s: physical volume %s is a %s", name, key, value.Kind())
		}

		pv, err := PVFromTree(key, sub)
		if err != nil {
			return prefixInvalid("volume group "+name, err)
		}

		vg.PVs = append(vg.PVs, pv)

		return nil
	})
	if err != nil {
		return nil, err
	}

	err = lvs.Each(func(key string, value textfmt.Entry) error {
		sub, ok := value.AsMap()
		if !ok {
			return invalidf("volume group %s: logical volume %s is a %s", name, key, value.Kind())
		}

		lv, err := LVFromTree(key, sub)
		if err != nil {
			return prefixInvalid("volume group "+name, err)
		}

		vg.LVs = append(vg.LVs, lv)

		return nil
	})
	if err != nil {
		return nil, err
	}

	vg.Extra = f.extra()

	if err := vg.Validate(); err != nil {
		return nil, err
	}

	return vg, nil
}

// ToTree returns the volume group's section, sub-sections keyed by the
// PV and LV names.
func (vg *VG) ToTree() *textfmt.Map {
	m := textfmt.NewMap()
	m.Set("id", textfmt.String(vg.UUID))
	m.Set("seqno", number(vg.Seqno))
	m.Set("format", textfmt.String(vg.Format))
	m.Set("status", textfmt.Strings(vg.Status))
	m.Set("flags", textfmt.Strings(vg.Flags))
	m.Set("extent_size", number(vg.ExtentSize))
	m.Set("max_lv", number(vg.MaxLV))
	m.Set("max_pv", number(vg.MaxPV))
	m.Set("metadata_copies", number(vg.MetadataCopies))
	appendExtra(m, vg.Extra)

	pvs := textfmt.NewMap()
	for _, pv := range vg.PVs {
		pvs.Set(pv.Name, textfmt.Nested(pv.ToTree()))
	}

	m.Set("physical_volumes", textfmt.Nested(pvs))

	if len(vg.LVs) != 0 {
		lvs := textfmt.NewMap()
		for _, lv := range vg.LVs {
			lvs.Set(lv.Name, textfmt.Nested(lv.ToTree()))
		}

		m.Set("logical_volumes", textfmt.Nested(lvs))
	}

	return m
}

// Clone returns a deep copy of vg.
func (vg *VG) Clone() *VG {
	c := *vg
	c.Status = cloneStrings(vg.Status)
	c.Flags = cloneStrings(vg.Flags)
	c.Extra = cloneExtra(vg.Extra)
	c.PVs = make([]PV, len(vg.PVs))
	c.LVs = make([]LV, len(vg.LVs))

	for i, pv := range vg.PVs {
		pv.Status = cloneStrings(pv.Status)
		pv.Flags = cloneStrings(pv.Flags)
		pv.Extra = cloneExtra(pv.Extra)
		c.PVs[i] = pv
	}

	for i, lv := range vg.LVs {
		lv.Status = cloneStrings(lv.Status)
		lv.Flags = cloneStrings(lv.Flags)
		lv.Extra = cloneExtra(lv.Extra)

		if lv.Device != nil {
			d := *lv.Device
			lv.Device = &d
		}

		segs := make([]Segment, len(lv.Segments))
		for j, s := range lv.Segments {
			s.Stripes = append([]Stripe{}, s.Stripes...)
			s.Extra = cloneExtra(s.Extra)
			segs[j] = s
		}

		lv.Segments = segs
		c.LVs[i] = lv
	}

	if vg.PVs == nil {
		c.PVs = nil
	}

	if vg.LVs == nil {
		c.LVs = nil
	}

	return &c
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}

	return append([]string{}, s...)
}

func cloneExtra(m *textfmt.Map) *textfmt.Map {
	if m == nil {
		return nil
	}

	return m.Clone()
}

// PVByName returns the PV with section name name.
func (vg *VG) PVByName(name string) (*PV, error) {
	for i := range vg.PVs {
		if vg.PVs[i].Name == name {
			return &vg.PVs[i], nil
		}
	}

	return nil, errors.Wrapf(ErrNotFound, "physical volume %s in %s", name, vg.Name)
}

// LVByName returns the LV named name.
func (vg *VG) LVByName(name string) (*LV, error) {
	for i := range vg.LVs {
		if vg.LVs[i].Name == name {
			return &vg.LVs[i], nil
		}
	}

	return nil, errors.Wrapf(ErrNotFound, "logical volume %s in %s", name, vg.Name)
}

// Extents returns the total number of physical extents in the group.
func (vg *VG) Extents() uint64 {
	var n uint64
	for _, pv := range vg.PVs {
		n = addExtents(n, pv.PECount)
	}

	return n
}

// ExtentsInUse returns the number of physical extents allocated to LVs.
func (vg *VG) ExtentsInUse() uint64 {
	var n uint64
	for _, lv := range vg.LVs {
		n = addExtents(n, lv.UsedExtents())
	}

	return n
}

// ExtentsFree returns the number of unallocated physical extents.
func (vg *VG) ExtentsFree() uint64 {
	used := vg.ExtentsInUse()
	total := vg.Extents()

	if used > total {
		return 0
	}

	return total - used
}

// AddPV adds pv to the group. An empty Name gets the next free "pvN"; a
// zero PECount is computed from the device size, keeping the last MiB
// free for the trailing metadata area.
func (vg *VG) AddPV(pv PV) (*PV, error) {
	if vg.MaxPV != 0 && uint64(len(vg.PVs)) >= vg.MaxPV {
		return nil, invalidf("volume group %s: max_pv %d reached", vg.Name, vg.MaxPV)
	}

	if pv.Name == "" {
		pv.Name = vg.nextPVName()
	}

	for _, p := range vg.PVs {
		switch {
		case p.Name == pv.Name:
			return nil, errors.Wrapf(ErrExists, "physical volume %s", pv.Name)
		case p.UUID == pv.UUID:
			return nil, errors.Wrapf(ErrExists, "physical volume id %s", pv.UUID)
		case !pv.Device.IsZero() && p.Device == pv.Device:
			return nil, errors.Wrapf(ErrExists, "physical volume device %s", pv.Device)
		}
	}

	if pv.PEStart == 0 {
		pv.PEStart = DefaultPEStart
	}

	if pv.PECount == 0 {
		reserved := pv.PEStart + DefaultPEStart
		if pv.DevSize <= reserved {
			return nil, invalidf("physical volume %s: device too small (%d sectors)", pv.Name, pv.DevSize)
		}

		pv.PECount = (pv.DevSize - reserved) / vg.ExtentSize
	}

	if pv.Status == nil {
		pv.Status = []string{StatusAllocatable}
	}

	if pv.Flags == nil {
		pv.Flags = []string{}
	}

	vg.PVs = append(vg.PVs, pv)

	return &vg.PVs[len(vg.PVs)-1], nil
}

func (vg *VG) nextPVName() string {
	for i := 0; ; i++ {
		name := fmt.Sprintf("pv%d", i)
		if _, err := vg.PVByName(name); err != nil {
			return name
		}
	}
}

// RemovePV removes an unused PV from the group.
func (vg *VG) RemovePV(name string) error {
	for i := range vg.PVs {
		if vg.PVs[i].Name != name {
			continue
		}

		if len(vg.pvRanges()[name]) != 0 {
			return errors.Wrapf(ErrInUse, "physical volume %s", name)
		}

		vg.PVs = append(vg.PVs[:i], vg.PVs[i+1:]...)

		return nil
	}

	return errors.Wrapf(ErrNotFound, "physical volume %s in %s", name, vg.Name)
}

// RemoveLV removes the named LV, releasing its extents.
func (vg *VG) RemoveLV(name string) error {
	for i := range vg.LVs {
		if vg.LVs[i].Name == name {
			vg.LVs = append(vg.LVs[:i], vg.LVs[i+1:]...)
			return nil
		}
	}

	return errors.Wrapf(ErrNotFound, "logical volume %s in %s", name, vg.Name)
}

func (vg *VG) newLV(name string, host string, now int64) (LV, error) {
	if vg.MaxLV != 0 && uint64(len(vg.LVs)) >= vg.MaxLV {
		return LV{}, invalidf("volume group %s: max_lv %d reached", vg.Name, vg.MaxLV)
	}

	if _, err := vg.LVByName(name); err == nil {
		return LV{}, errors.Wrapf(ErrExists, "logical volume %s", name)
	}

	return LV{
		Name:         name,
		UUID:         NewUUID(),
		Status:       []string{StatusRead, StatusWrite, StatusVisible},
		Flags:        []string{},
		CreationHost: host,
		CreationTime: now,
	}, nil
}

// CreateLinearLV allocates extents for a new linear LV from the free areas
// of the group's PVs, in PV order, using as many segments as needed.
func (vg *VG) CreateLinearLV(name string, extents uint64, host string, now int64) (*LV, error) {
	if extents == 0 {
		return nil, invalidf("logical volume %s: zero size", name)
	}

	lv, err := vg.newLV(name, host, now)
	if err != nil {
		return nil, err
	}

	if vg.ExtentsFree() < extents {
		return nil, errors.Wrapf(ErrInsufficientSpace, "%s needs %d extents, %d free",
			name, extents, vg.ExtentsFree())
	}

	var next uint64

	for _, pv := range vg.PVs {
		for _, area := range vg.FreeAreas(pv.Name) {
			if next == extents {
				break
			}

			count := area.Count
			if count > extents-next {
				count = extents - next
			}

			lv.Segments = append(lv.Segments, Segment{
				Name:        segmentKey(len(lv.Segments)),
				StartExtent: next,
				ExtentCount: count,
				Type:        SegmentLinear,
				Stripes:     []Stripe{{PV: pv.Name, StartExtent: area.Start}},
			})

			next += count
		}
	}

	if next != extents {
		return nil, errors.Wrapf(ErrInsufficientSpace, "%s needs %d extents", name, extents)
	}

	vg.LVs = append(vg.LVs, lv)

	return &vg.LVs[len(vg.LVs)-1], nil
}

// CreateStripedLV allocates a single striped segment over stripes PVs.
// extents must be a multiple of stripes; each PV contributes one
// contiguous free area of extents/stripes.
func (vg *VG) CreateStripedLV(name string, extents uint64, stripes int, stripeSize uint64,
	host string, now int64) (*LV, error) {
	if stripes < 2 {
		return nil, invalidf("logical volume %s: striping needs at least 2 stripes", name)
	}

	if extents == 0 || extents%uint64(stripes) != 0 {
		return nil, invalidf("logical volume %s: %d extents not a multiple of %d stripes",
			name, extents, stripes)
	}

	if stripeSize == 0 {
		stripeSize = DefaultStripeSize
	}

	lv, err := vg.newLV(name, host, now)
	if err != nil {
		return nil, err
	}

	per := extents / uint64(stripes)
	seg := Segment{
		Name:        segmentKey(0),
		ExtentCount: extents,
		Type:        SegmentStriped,
		StripeSize:  stripeSize,
	}

	for _, pv := range vg.PVs {
		if len(seg.Stripes) == stripes {
			break
		}

		for _, area := range vg.FreeAreas(pv.Name) {
			if area.Count >= per {
				seg.Stripes = append(seg.Stripes, Stripe{PV: pv.Name, StartExtent: area.Start})
				break
			}
		}
	}

	if len(seg.Stripes) != stripes {
		return nil, errors.Wrapf(ErrInsufficientSpace, "%s needs %d PVs with %d free extents",
			name, stripes, per)
	}

	lv.Segments = []Segment{seg}
	vg.LVs = append(vg.LVs, lv)

	return &vg.LVs[len(vg.LVs)-1], nil
}

// DMName returns the device-mapper name of an LV: the VG and LV names
// joined by a hyphen, with hyphens inside either name doubled.
func DMName(vg, lv string) string {
	return doubleHyphens(vg) + "-" + doubleHyphens(lv)
}

func doubleHyphens(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '-' {
			out = append(out, '-')
		}

		out = append(out, s[i])
	}

	return string(out)
}

// SplitDMName is the inverse of DMName. It fails on names without a single
// hyphen separator, which no LV produces.
func SplitDMName(name string) (string, string, bool) {
	for i := 0; i < len(name); i++ {
		if name[i] != '-' {
			continue
		}

		if i+1 < len(name) && name[i+1] == '-' {
			i++
			continue
		}

		return strings.ReplaceAll(name[:i], "--", "-"), strings.ReplaceAll(name[i+1:], "--", "-"), true
	}

	return "", "", false
}

// DMUUID returns the device-mapper uuid of an LV.
func DMUUID(vgUUID, lvUUID string) string {
	return "LVM-" + StripUUID(vgUUID) + StripUUID(lvUUID)
}
