package mockos

import (
	"sort"
	"sync"

	"golang.org/x/sys/unix"

	"machinerun.io/lvmeta"
	"machinerun.io/lvmeta/dm"
)

// DefaultDMMajor is the block major the mock kernel numbers devices under.
const DefaultDMMajor = 253

type mapped struct {
	name      string
	uuid      string
	dev       lvmeta.Device
	live      []dm.TableLine
	staged    []dm.TableLine
	hasLive   bool
	hasStaged bool
	suspended bool
	open      int32
	events    uint32
}

// Kernel is an in-memory device-mapper. It decodes the same request
// buffers the real control device does and answers in place, so it can
// stand behind a dm.Channel.
type Kernel struct {
	Major   uint32
	Version dm.Version

	mu        sync.Mutex
	devices   map[string]*mapped
	nextMinor uint32
	faults    map[dm.Command][]unix.Errno
	calls     []dm.Command
}

// NewKernel returns a kernel with no mapped devices.
func NewKernel() *Kernel {
	return &Kernel{
		Major:   DefaultDMMajor,
		Version: dm.Version{Major: dm.VersionMajor, Minor: 48},
		devices: map[string]*mapped{},
		faults:  map[dm.Command][]unix.Errno{},
	}
}

// FailNext makes the next call of cmd fail with errno before it takes
// effect. Calls queue up.
func (k *Kernel) FailNext(cmd dm.Command, errno unix.Errno) {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.faults[cmd] = append(k.faults[cmd], errno)
}

// Calls returns the commands received so far, failed ones included.
func (k *Kernel) Calls() []dm.Command {
	k.mu.Lock()
	defer k.mu.Unlock()

	return append([]dm.Command{}, k.calls...)
}

// Open simulates a consumer holding name open.
func (k *Kernel) Open(name string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	m, ok := k.devices[name]
	if !ok {
		return unix.ENXIO
	}

	m.open++

	return nil
}

// Close releases one Open.
func (k *Kernel) Close(name string) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if m, ok := k.devices[name]; ok && m.open > 0 {
		m.open--
	}
}

// Table returns the live table of name.
func (k *Kernel) Table(name string) ([]dm.TableLine, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	m, ok := k.devices[name]
	if !ok || !m.hasLive {
		return nil, false
	}

	return append([]dm.TableLine{}, m.live...), true
}

// Ioctl implements dm.Control.
func (k *Kernel) Ioctl(cmd dm.Command, buf []byte) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.calls = append(k.calls, cmd)

	if q := k.faults[cmd]; len(q) > 0 {
		k.faults[cmd] = q[1:]
		return q[0]
	}

	hdr, err := dm.ParseHeader(buf)
	if err != nil || hdr.DataSize > uint32(len(buf)) || hdr.DataStart < dm.HeaderSize {
		return unix.EINVAL
	}

	if hdr.Version[0] != k.Version.Major {
		hdr.Version = [3]uint32{k.Version.Major, k.Version.Minor, k.Version.Patch}
		_ = hdr.Put(buf)

		return unix.EINVAL
	}

	var result []byte

	switch cmd {
	case dm.CmdVersion:
	case dm.CmdListDevices:
		result = k.listDevices()
	case dm.CmdDevCreate:
		err = k.create(hdr)
	case dm.CmdDevRemove:
		err = k.remove(hdr)
	case dm.CmdDevSuspend:
		err = k.suspend(hdr)
	case dm.CmdDevStatus:
		err = k.status(hdr)
	case dm.CmdTableLoad:
		err = k.load(hdr, buf)
	case dm.CmdTableClear:
		err = k.clear(hdr)
	case dm.CmdTableStatus:
		result, err = k.tableStatus(hdr)
	default:
		err = unix.ENOTTY
	}

	if err != nil {
		return err
	}

	hdr.Version = [3]uint32{k.Version.Major, k.Version.Minor, k.Version.Patch}
	hdr.DataSize = hdr.DataStart

	if result != nil {
		if int(hdr.DataStart)+len(result) > len(buf) {
			hdr.Flags |= dm.FlagBufferFull
		} else {
			copy(buf[hdr.DataStart:], result)
			hdr.DataSize += uint32(len(result))
		}
	}

	if err := hdr.Put(buf); err != nil {
		return unix.EINVAL
	}

	return nil
}

func (k *Kernel) lookup(hdr *dm.Header) (*mapped, error) {
	if m, ok := k.devices[hdr.Name]; ok && hdr.Name != "" {
		return m, nil
	}

	if hdr.Name == "" && hdr.UUID != "" {
		for _, m := range k.devices {
			if m.uuid == hdr.UUID {
				return m, nil
			}
		}
	}

	return nil, unix.ENXIO
}

func (k *Kernel) fill(hdr *dm.Header, m *mapped) {
	hdr.Name = m.name
	hdr.UUID = m.uuid
	hdr.Dev = m.dev.Pack()
	hdr.OpenCount = m.open
	hdr.EventNr = m.events
	hdr.TargetCount = uint32(len(m.live))
	hdr.Flags &^= dm.FlagSuspend | dm.FlagActivePresent | dm.FlagInactivePresent

	if m.suspended {
		hdr.Flags |= dm.FlagSuspend
	}

	if m.hasLive {
		hdr.Flags |= dm.FlagActivePresent
	}

	if m.hasStaged {
		hdr.Flags |= dm.FlagInactivePresent
	}
}

func (k *Kernel) listDevices() []byte {
	devs := make([]dm.NamedDevice, 0, len(k.devices))
	for _, m := range k.devices {
		devs = append(devs, dm.NamedDevice{Name: m.name, Device: m.dev})
	}

	sort.Slice(devs, func(i, j int) bool { return devs[i].Name < devs[j].Name })

	return dm.EncodeNameList(devs)
}

func (k *Kernel) create(hdr *dm.Header) error {
	if hdr.Name == "" {
		return unix.EINVAL
	}

	if _, ok := k.devices[hdr.Name]; ok {
		return unix.EBUSY
	}

	for _, m := range k.devices {
		if hdr.UUID != "" && m.uuid == hdr.UUID {
			return unix.EBUSY
		}
	}

	dev := lvmeta.Device{Major: k.Major, Minor: k.nextMinor}

	if hdr.Flags&dm.FlagPersistentDev != 0 {
		dev = lvmeta.DeviceFromPacked(hdr.Dev)
		if dev.Major != k.Major {
			return unix.EINVAL
		}
	}

	for _, m := range k.devices {
		if m.dev == dev {
			return unix.EBUSY
		}
	}

	if dev.Minor >= k.nextMinor {
		k.nextMinor = dev.Minor + 1
	}

	m := &mapped{name: hdr.Name, uuid: hdr.UUID, dev: dev}
	k.devices[m.name] = m
	k.fill(hdr, m)

	return nil
}

func (k *Kernel) remove(hdr *dm.Header) error {
	m, err := k.lookup(hdr)
	if err != nil {
		return err
	}

	if m.open > 0 {
		return unix.EBUSY
	}

	delete(k.devices, m.name)
	hdr.Dev = 0

	return nil
}

func (k *Kernel) suspend(hdr *dm.Header) error {
	m, err := k.lookup(hdr)
	if err != nil {
		return err
	}

	if hdr.Flags&dm.FlagSuspend != 0 {
		m.suspended = true
	} else {
		if m.hasStaged {
			m.live, m.hasLive = m.staged, true
			m.staged, m.hasStaged = nil, false
			m.events++
		}

		m.suspended = false
	}

	k.fill(hdr, m)

	return nil
}

func (k *Kernel) status(hdr *dm.Header) error {
	m, err := k.lookup(hdr)
	if err != nil {
		return err
	}

	k.fill(hdr, m)

	return nil
}

func validTarget(t string) bool {
	switch t {
	case dm.TargetLinear, dm.TargetStriped, "error", "zero":
		return true
	}

	return false
}

func (k *Kernel) load(hdr *dm.Header, buf []byte) error {
	m, err := k.lookup(hdr)
	if err != nil {
		return err
	}

	payload, err := hdr.Payload(buf)
	if err != nil {
		return unix.EINVAL
	}

	lines, err := dm.DecodeTable(payload, hdr.TargetCount)
	if err != nil || len(lines) == 0 {
		return unix.EINVAL
	}

	next := uint64(0)

	for _, l := range lines {
		if l.Start != next || l.Length == 0 || !validTarget(l.Type) {
			return unix.EINVAL
		}

		next += l.Length
	}

	m.staged, m.hasStaged = lines, true
	k.fill(hdr, m)

	return nil
}

func (k *Kernel) clear(hdr *dm.Header) error {
	m, err := k.lookup(hdr)
	if err != nil {
		return err
	}

	m.staged, m.hasStaged = nil, false
	k.fill(hdr, m)

	return nil
}

func (k *Kernel) tableStatus(hdr *dm.Header) ([]byte, error) {
	m, err := k.lookup(hdr)
	if err != nil {
		return nil, err
	}

	k.fill(hdr, m)

	if !m.hasLive {
		return []byte{}, nil
	}

	out, err := dm.EncodeTableStatus(m.live)
	if err != nil {
		return nil, unix.EINVAL
	}

	return out, nil
}
