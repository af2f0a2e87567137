package activate

import (
	"github.com/pkg/errors"

	"machinerun.io/lvmeta"
	"machinerun.io/lvmeta/dm"
)

// BuildTable returns the device-mapper table of lv: one line per segment.
// A segment with a single stripe maps linearly; wider segments interleave
// their stripes in chunks of StripeSize sectors.
func BuildTable(vg *lvmeta.VG, lv *lvmeta.LV) ([]dm.TableLine, error) {
	lines := make([]dm.TableLine, 0, len(lv.Segments))
	ext := vg.ExtentSize

	for _, seg := range lv.Segments {
		legs := make([]dm.StripeTarget, 0, len(seg.Stripes))

		for _, s := range seg.Stripes {
			pv, err := vg.PVByName(s.PV)
			if err != nil {
				return nil, errors.Wrapf(err, "%s/%s %s", vg.Name, lv.Name, seg.Name)
			}

			if pv.Device.IsZero() {
				return nil, errors.Errorf("%s/%s %s: %s has no device number", vg.Name, lv.Name, seg.Name, pv.Name)
			}

			legs = append(legs, dm.StripeTarget{Device: pv.Device, Offset: pv.PEStart + s.StartExtent*ext})
		}

		start, length := seg.StartExtent*ext, seg.ExtentCount*ext

		switch len(legs) {
		case 0:
			return nil, errors.Errorf("%s/%s %s: no stripes", vg.Name, lv.Name, seg.Name)
		case 1:
			lines = append(lines, dm.LinearLine(start, length, legs[0].Device, legs[0].Offset))
		default:
			chunk := seg.StripeSize
			if chunk == 0 {
				chunk = lvmeta.DefaultStripeSize
			}

			lines = append(lines, dm.StripedLine(start, length, chunk, legs))
		}
	}

	return lines, nil
}
