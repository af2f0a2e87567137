package mda

import (
	"fmt"
	"math"

	"machinerun.io/lvmeta"
)

func invalidLayout(format string, args ...interface{}) error {
	return &lvmeta.InvalidMetadataError{Reason: fmt.Sprintf(format, args...)}
}

// DataSectors returns the sector range the label leaves for extents: the
// data area, cut short by any metadata area that follows its start.
func (l *Label) DataSectors() (uint64, uint64) {
	if len(l.DataAreas) == 0 {
		return 0, 0
	}

	da := l.DataAreas[0]
	start, end := da.Offset/SectorSize, l.DevSize/SectorSize

	if da.Size != 0 {
		end = (da.Offset + da.Size) / SectorSize
	}

	for _, m := range l.MetadataAreas {
		if from := m.Offset / SectorSize; from >= start && from < end {
			end = from
		}
	}

	if end < start {
		end = start
	}

	return start, end
}

// CheckExtents checks that peCount extents of extentSize sectors starting
// at sector peStart lie inside the data area of the label and clear of
// every metadata area. All three come from the PV's metadata section.
func (l *Label) CheckExtents(peStart, peCount, extentSize uint64) error {
	if len(l.DataAreas) == 0 {
		return invalidLayout("pv %s has no data area", l.UUID)
	}

	da := l.DataAreas[0]

	if peStart < da.Offset/SectorSize {
		return invalidLayout("pe_start %d is before the data area at sector %d",
			peStart, da.Offset/SectorSize)
	}

	if extentSize != 0 && peCount > (math.MaxUint64-peStart)/extentSize {
		return invalidLayout("%d extents from sector %d overflow", peCount, peStart)
	}

	end := peStart + peCount*extentSize

	if da.Size != 0 && end > (da.Offset+da.Size)/SectorSize {
		return invalidLayout("extents end at sector %d, past the data area end at %d",
			end, (da.Offset+da.Size)/SectorSize)
	}

	if l.DevSize != 0 && end > l.DevSize/SectorSize {
		return invalidLayout("extents end at sector %d, past the device end at %d",
			end, l.DevSize/SectorSize)
	}

	if end == peStart {
		return nil
	}

	for _, m := range l.MetadataAreas {
		from, to := m.Offset/SectorSize, (m.Offset+m.Size)/SectorSize
		if peStart < to && from < end {
			return invalidLayout("extents [%d, %d) overlap the metadata area at sectors [%d, %d)",
				peStart, end, from, to)
		}
	}

	return nil
}
