package lvmeta

// Validate checks the invariants of a volume group: geometry of every PV,
// partitioning of every LV into contiguous segments, stripes that stay
// inside their PV, and no physical extent allocated twice.
func (vg *VG) Validate() error {
	if vg.Name == "" {
		return invalidf("volume group has no name")
	}

	if vg.UUID == "" {
		return invalidf("volume group %s: missing id", vg.Name)
	}

	if vg.ExtentSize == 0 {
		return invalidf("volume group %s: extent_size must be positive", vg.Name)
	}

	if vg.MaxPV != 0 && uint64(len(vg.PVs)) > vg.MaxPV {
		return invalidf("volume group %s: %d physical volumes exceed max_pv %d",
			vg.Name, len(vg.PVs), vg.MaxPV)
	}

	if vg.MaxLV != 0 && uint64(len(vg.LVs)) > vg.MaxLV {
		return invalidf("volume group %s: %d logical volumes exceed max_lv %d",
			vg.Name, len(vg.LVs), vg.MaxLV)
	}

	if err := vg.validatePVs(); err != nil {
		return err
	}

	if err := vg.validateLVs(); err != nil {
		return err
	}

	if vg.ExtentsInUse() > vg.Extents() {
		return invalidf("volume group %s: %d extents used of %d",
			vg.Name, vg.ExtentsInUse(), vg.Extents())
	}

	return vg.validateAllocation()
}

func (vg *VG) validatePVs() error {
	names := map[string]bool{}
	ids := map[string]bool{}
	devs := map[Device]bool{}

	for _, pv := range vg.PVs {
		where := "volume group " + vg.Name + ": physical volume " + pv.Name

		if names[pv.Name] {
			return invalidf("%s: duplicate name", where)
		}

		if pv.UUID == "" {
			return invalidf("%s: missing id", where)
		}

		if ids[pv.UUID] {
			return invalidf("%s: duplicate id %s", where, pv.UUID)
		}

		if !pv.Device.IsZero() && devs[pv.Device] {
			return invalidf("%s: duplicate device %s", where, pv.Device)
		}

		if pv.PEStart < MinPEStart {
			return invalidf("%s: pe_start %d overlaps the label area", where, pv.PEStart)
		}

		if pv.PEStart > pv.DevSize || pv.PECount > (pv.DevSize-pv.PEStart)/vg.ExtentSize {
			return invalidf("%s: %d extents from sector %d exceed dev_size %d",
				where, pv.PECount, pv.PEStart, pv.DevSize)
		}

		names[pv.Name] = true
		ids[pv.UUID] = true
		devs[pv.Device] = true
	}

	return nil
}

func (vg *VG) validateLVs() error {
	names := map[string]bool{}
	ids := map[string]bool{}

	for _, lv := range vg.LVs {
		where := "volume group " + vg.Name + ": logical volume " + lv.Name

		if names[lv.Name] {
			return invalidf("%s: duplicate name", where)
		}

		if lv.UUID == "" {
			return invalidf("%s: missing id", where)
		}

		if ids[lv.UUID] {
			return invalidf("%s: duplicate id %s", where, lv.UUID)
		}

		names[lv.Name] = true
		ids[lv.UUID] = true

		var next uint64

		for _, seg := range lv.Segments {
			if seg.StartExtent != next {
				return invalidf("%s: %s starts at extent %d, expected %d",
					where, seg.Name, seg.StartExtent, next)
			}

			if err := vg.validateSegment(where, seg); err != nil {
				return err
			}

			next = seg.End()
		}
	}

	return nil
}

func (vg *VG) validateSegment(where string, seg Segment) error {
	where = where + ": " + seg.Name

	if seg.ExtentCount == 0 {
		return invalidf("%s: empty segment", where)
	}

	switch seg.Type {
	case SegmentLinear:
		if len(seg.Stripes) != 1 {
			return invalidf("%s: linear segment with %d stripes", where, len(seg.Stripes))
		}
	case SegmentStriped:
		if len(seg.Stripes) == 0 {
			return invalidf("%s: no stripes", where)
		}
	default:
		return invalidf("%s: unsupported segment type %q", where, seg.Type)
	}

	if seg.ExtentCount%uint64(len(seg.Stripes)) != 0 {
		return invalidf("%s: %d extents not divisible by %d stripes",
			where, seg.ExtentCount, len(seg.Stripes))
	}

	per := seg.StripeExtents()

	for _, st := range seg.Stripes {
		pv, err := vg.PVByName(st.PV)
		if err != nil {
			return invalidf("%s: stripe on unknown physical volume %s", where, st.PV)
		}

		if st.StartExtent > pv.PECount || per > pv.PECount-st.StartExtent {
			return invalidf("%s: %d stripe extents from %d beyond pe_count %d of %s",
				where, per, st.StartExtent, pv.PECount, pv.Name)
		}
	}

	return nil
}

func (vg *VG) validateAllocation() error {
	for pv, ranges := range vg.pvRanges() {
		for i := 1; i < len(ranges); i++ {
			if ranges[i].Start <= ranges[i-1].End {
				return invalidf("volume group %s: extents %d-%d of %s allocated twice",
					vg.Name, ranges[i].Start, ranges[i-1].End, pv)
			}
		}
	}

	return nil
}
