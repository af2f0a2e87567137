package lvmeta

import (
	"machinerun.io/lvmeta/textfmt"
)

// PV is a physical volume as recorded in volume group metadata. Name is
// the key of the PV's section ("pv0") and is what segments refer to; the
// UUID is its identity.
type PV struct {
	Name   string
	UUID   string
	Device Device
	Status []string
	Flags  []string

	// DevSize, PEStart are in sectors.
	DevSize uint64
	PEStart uint64
	PECount uint64

	// Extra holds keys this package does not interpret.
	Extra *textfmt.Map
}

// Path returns the device node path of the PV under deviceDir.
func (pv PV) Path(deviceDir string) string {
	return pv.Device.Path(deviceDir)
}

// PVFromTree builds a PV from its section.
func PVFromTree(name string, m *textfmt.Map) (PV, error) {
	f := newFields("physical volume "+name, m)
	pv := PV{
		Name:    name,
		UUID:    f.str("id", true),
		Status:  f.strs("status"),
		Flags:   f.strs("flags"),
		DevSize: f.num("dev_size", true),
		PEStart: f.num("pe_start", true),
		PECount: f.num("pe_count", true),
	}

	if e, ok := f.entry("device", false); ok {
		switch e.Kind() {
		case textfmt.KindNumber:
			n, _ := e.AsNumber()
			pv.Device = DeviceFromPacked(uint64(n))
		case textfmt.KindString:
			s, _ := e.AsString()

			dev, err := ParseDevice(s)
			if err != nil {
				f.fail("device: %s", err)
			}

			pv.Device = dev
		case textfmt.KindList, textfmt.KindMap:
			f.fail("device is a %s", e.Kind())
		}
	}

	pv.Extra = f.extra()

	return pv, f.err
}

// ToTree returns the PV's section.
func (pv PV) ToTree() *textfmt.Map {
	m := textfmt.NewMap()
	m.Set("id", textfmt.String(pv.UUID))
	m.Set("device", number(pv.Device.Pack()))
	m.Set("status", textfmt.Strings(pv.Status))
	m.Set("flags", textfmt.Strings(pv.Flags))
	m.Set("dev_size", number(pv.DevSize))
	m.Set("pe_start", number(pv.PEStart))
	m.Set("pe_count", number(pv.PECount))
	appendExtra(m, pv.Extra)

	return m
}
