package mockos

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"sort"

	"machinerun.io/lvmeta"
)

// Machine is a mock host: in-memory disks and a device-mapper kernel.
type Machine struct {
	Disks  map[string]*MemDisk
	Kernel *Kernel
}

type diskLayout struct {
	Name   string `json:"name"`
	Device string `json:"device"`
	Size   uint64 `json:"size"`
}

type machineLayout struct {
	DMMajor uint32       `json:"dm_major"`
	Disks   []diskLayout `json:"disks"`
}

// System returns a mock host built from the JSON layout file. It panics if
// the layout can not be loaded.
func System(layout string) *Machine {
	file, err := ioutil.ReadFile(layout)
	if err != nil {
		panic(err)
	}

	ml := machineLayout{}

	if err := json.Unmarshal(file, &ml); err != nil {
		panic(err)
	}

	m := &Machine{Disks: map[string]*MemDisk{}, Kernel: NewKernel()}

	if ml.DMMajor != 0 {
		m.Kernel.Major = ml.DMMajor
	}

	for _, d := range ml.Disks {
		dev, err := lvmeta.ParseDevice(d.Device)
		if err != nil {
			panic(err)
		}

		if _, ok := m.Disks[d.Name]; ok {
			panic(fmt.Sprintf("disk %s listed twice", d.Name))
		}

		m.Disks[d.Name] = NewMemDisk(d.Name, dev, d.Size)
	}

	return m
}

// Disk returns the named disk.
func (m *Machine) Disk(name string) (*MemDisk, error) {
	d, ok := m.Disks[name]
	if !ok {
		return nil, fmt.Errorf("disk %s not found", name)
	}

	return d, nil
}

// DiskByDevice returns the disk with device number dev.
func (m *Machine) DiskByDevice(dev lvmeta.Device) (*MemDisk, error) {
	for _, d := range m.Disks {
		if d.Device == dev {
			return d, nil
		}
	}

	return nil, fmt.Errorf("disk %s not found", dev)
}

// Names returns the disk names in order.
func (m *Machine) Names() []string {
	names := make([]string, 0, len(m.Disks))
	for n := range m.Disks {
		names = append(names, n)
	}

	sort.Strings(names)

	return names
}
