package lvmeta

import (
	"fmt"
	"math"
	"sort"
)

// addExtents sums extent counts, sticking at math.MaxUint64.
func addExtents(a, b uint64) uint64 {
	if b > math.MaxUint64-a {
		return math.MaxUint64
	}

	return a + b
}

// Area is a run of Count physical extents on a PV starting at Start.
type Area struct {
	PV    string
	Start uint64
	Count uint64
}

// uRange is an inclusive range of extents.
type uRange struct {
	Start, End uint64
}

func (r *uRange) Size() uint64 {
	return r.End - r.Start + 1
}

// findRangeGaps returns a set of uRange to represent the un-used
// uint64 between min and max that are not included in ranges.
//  findRangeGaps({{10, 40}, {50, 100}}, 0, 110}) ==
//      {{0, 9}, {41, 49}, {101, 110}}
func findRangeGaps(ranges []uRange, min, max uint64) []uRange {
	// start 'ret' off with full range of min to max, then start cutting it up.
	ret := []uRange{{min, max}}

	for _, i := range ranges {
		for r := 0; r < len(ret); r++ {
			switch {
			case i.Start > ret[r].End || i.End < ret[r].Start:
				// no overlap
			case i.Start <= ret[r].Start && i.End >= ret[r].End:
				// superset, drop ret[r]
				ret = append(ret[:r], ret[r+1:]...)
				r--
			case i.Start > ret[r].Start && i.End < ret[r].End:
				// strict subset, split ret[r]
				ret = append(ret, uRange{})
				copy(ret[r+2:], ret[r+1:])
				ret[r+1] = uRange{i.End + 1, ret[r].End}
				ret[r].End = i.Start - 1
				r++
			case i.Start <= ret[r].Start:
				ret[r].Start = i.End + 1
			case i.Start <= ret[r].End:
				ret[r].End = i.Start - 1
			default:
				panic(fmt.Sprintf("Error in findRangeGaps: %v, r=%d, ret=%v",
					i, r, ret))
			}
		}
	}

	return ret
}

// pvRanges returns the physical extents allocated on each PV, sorted by
// start. Ranges whose PV is unknown are keyed by the name used in the
// stripe anyway so validation can report them.
func (vg *VG) pvRanges() map[string][]uRange {
	out := map[string][]uRange{}

	for _, lv := range vg.LVs {
		for _, seg := range lv.Segments {
			per := seg.StripeExtents()
			if per == 0 {
				continue
			}

			for _, st := range seg.Stripes {
				out[st.PV] = append(out[st.PV], uRange{st.StartExtent, st.StartExtent + per - 1})
			}
		}
	}

	for _, r := range out {
		sort.Slice(r, func(a, b int) bool { return r[a].Start < r[b].Start })
	}

	return out
}

// FreeAreas returns the unallocated extent runs of the named PV in
// ascending order.
func (vg *VG) FreeAreas(pvName string) []Area {
	pv, err := vg.PVByName(pvName)
	if err != nil || pv.PECount == 0 {
		return []Area{}
	}

	gaps := findRangeGaps(vg.pvRanges()[pvName], 0, pv.PECount-1)
	areas := make([]Area, 0, len(gaps))

	for i := range gaps {
		areas = append(areas, Area{PV: pvName, Start: gaps[i].Start, Count: gaps[i].Size()})
	}

	return areas
}
