package lvmeta

import (
	"machinerun.io/lvmeta/textfmt"
)

// Segment type tags.
const (
	SegmentLinear  = "linear"
	SegmentStriped = "striped"
)

// Stripe places one stripe of a segment on a PV, starting at a physical
// extent of that PV.
type Stripe struct {
	PV          string
	StartExtent uint64
}

// Segment maps ExtentCount logical extents, starting at StartExtent of the
// LV, onto its stripes. Each stripe holds ExtentCount/len(Stripes) extents.
type Segment struct {
	Name        string
	StartExtent uint64
	ExtentCount uint64
	Type        string

	// StripeSize is the chunk size in sectors, meaningful with more than
	// one stripe.
	StripeSize uint64
	Stripes    []Stripe

	Extra *textfmt.Map
}

// StripeExtents returns the number of physical extents each stripe uses.
func (s Segment) StripeExtents() uint64 {
	if len(s.Stripes) == 0 {
		return 0
	}

	return s.ExtentCount / uint64(len(s.Stripes))
}

// End returns the first logical extent past the segment.
func (s Segment) End() uint64 {
	return s.StartExtent + s.ExtentCount
}

// SegmentFromTree builds a segment from its section.
func SegmentFromTree(name string, m *textfmt.Map) (Segment, error) {
	f := newFields("segment "+name, m)
	seg := Segment{
		Name:        name,
		StartExtent: f.num("start_extent", true),
		ExtentCount: f.num("extent_count", true),
		Type:        f.str("type", true),
		StripeSize:  f.num("stripe_size", false),
	}

	count := f.num("stripe_count", true)

	if e, ok := f.entry("stripes", true); ok {
		seg.Stripes = stripesFromList(f, e)
	}

	if f.err == nil && uint64(len(seg.Stripes)) != count {
		f.fail("stripe_count %d but %d stripes listed", count, len(seg.Stripes))
	}

	seg.Extra = f.extra()

	return seg, f.err
}

func stripesFromList(f *fields, e textfmt.Entry) []Stripe {
	list, ok := e.AsList()
	if !ok || len(list)%2 != 0 {
		f.fail("stripes must be a list of pv name, extent pairs")
		return nil
	}

	stripes := make([]Stripe, 0, len(list)/2)

	for i := 0; i < len(list); i += 2 {
		pv, ok := list[i].AsString()
		if !ok {
			f.fail("stripe %d: pv name is a %s", i/2, list[i].Kind())
			return nil
		}

		start, ok := list[i+1].AsNumber()
		if !ok || start < 0 {
			f.fail("stripe %d: bad start extent %s", i/2, list[i+1])
			return nil
		}

		stripes = append(stripes, Stripe{PV: pv, StartExtent: uint64(start)})
	}

	return stripes
}

// ToTree returns the segment's section.
func (s Segment) ToTree() *textfmt.Map {
	m := textfmt.NewMap()
	m.Set("start_extent", number(s.StartExtent))
	m.Set("extent_count", number(s.ExtentCount))
	m.Set("type", textfmt.String(s.Type))
	m.Set("stripe_count", number(uint64(len(s.Stripes))))

	if s.StripeSize != 0 {
		m.Set("stripe_size", number(s.StripeSize))
	}

	list := make([]textfmt.Entry, 0, 2*len(s.Stripes))
	for _, st := range s.Stripes {
		list = append(list, textfmt.String(st.PV), number(st.StartExtent))
	}

	m.Set("stripes", textfmt.List(list...))
	appendExtra(m, s.Extra)

	return m
}
