package activate

import (
	"fmt"

	"github.com/pkg/errors"

	"machinerun.io/lvmeta/mda"
)

// TargetsFor returns a target per metadata area of the PV on dev, named
// "name/mdaN", each carrying the PV's label.
func TargetsFor(name string, dev mda.Device) ([]Target, error) {
	label, err := mda.ReadLabel(dev)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", name)
	}

	areas := label.Areas(dev)
	targets := make([]Target, len(areas))

	for i, a := range areas {
		targets[i] = Target{Name: fmt.Sprintf("%s/mda%d", name, i), Area: a, Label: label}
	}

	return targets, nil
}
