package dm_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"

	"machinerun.io/lvmeta"
	"machinerun.io/lvmeta/dm"
	"machinerun.io/lvmeta/mockos"
)

func newChannel() (*dm.Channel, *mockos.Kernel) {
	k := mockos.NewKernel()
	log := logrus.New()
	log.SetLevel(logrus.DebugLevel)

	return dm.New(k, logrus.NewEntry(log)), k
}

var pv0 = lvmeta.Device{Major: 8, Minor: 0}

func TestRequestNumbers(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(uintptr(0xc138fd00), dm.CmdVersion.Request())
	assert.Equal(uintptr(0xc138fd09), dm.CmdTableLoad.Request())
	assert.Equal("table_load", dm.CmdTableLoad.String())
	assert.Equal("command(42)", dm.Command(42).String())
}

func TestHeaderLayout(t *testing.T) {
	assert := assert.New(t)

	buf := make([]byte, dm.HeaderSize)
	h := dm.Header{
		Version:   [3]uint32{4, 1, 2},
		DataSize:  dm.HeaderSize,
		DataStart: dm.HeaderSize,
		Flags:     dm.FlagSuspend,
		Dev:       lvmeta.Device{Major: 253, Minor: 3}.Pack(),
		Name:      "vg0-lv0",
		UUID:      "LVM-abc",
	}

	if !assert.NoError(h.Put(buf)) {
		return
	}

	assert.Equal(byte(4), buf[0])
	assert.Equal(byte(0x38), buf[12])
	assert.Equal(byte(0x01), buf[13])
	assert.Equal(byte(dm.FlagSuspend), buf[28])
	assert.Equal(byte(3), buf[40])
	assert.Equal(byte(253), buf[41])
	assert.Equal("vg0-lv0", string(buf[48:55]))
	assert.Equal(byte(0), buf[55])
	assert.Equal("LVM-abc", string(buf[176:183]))

	back, err := dm.ParseHeader(buf)
	assert.NoError(err)
	assert.Equal(&h, back)

	h.Name = string(make([]byte, dm.NameLen))
	assert.Error(h.Put(buf))

	_, err = dm.ParseHeader(buf[:100])
	assert.True(errors.Is(err, dm.ErrShortBuffer))
}

func TestTableEncoding(t *testing.T) {
	assert := assert.New(t)

	lines := []dm.TableLine{
		dm.LinearLine(0, 819200, pv0, 2048),
		dm.StripedLine(819200, 16384, 128, []dm.StripeTarget{
			{Device: pv0, Offset: 821248},
			{Device: lvmeta.Device{Major: 8, Minor: 16}, Offset: 2048},
		}),
	}

	assert.Equal("0 819200 linear 8:0 2048", lines[0].String())
	assert.Equal("striped", lines[1].Type)
	assert.Equal("2 128 8:0 821248 8:16 2048", lines[1].Params)

	buf, err := dm.EncodeTable(lines)
	if !assert.NoError(err) {
		return
	}

	// "8:0 2048" plus NUL pads to 16
	assert.Equal(dm.TargetSpecSize+16, int(buf[20]))
	assert.Equal(0, len(buf)%8)

	back, err := dm.DecodeTable(buf, 2)
	assert.NoError(err)
	assert.Equal(lines, back)

	status, err := dm.EncodeTableStatus(lines)
	assert.NoError(err)

	back, err = dm.DecodeTableStatus(status, 2)
	assert.NoError(err)
	assert.Equal(lines, back)

	_, err = dm.DecodeTable(buf[:30], 1)
	assert.True(errors.Is(err, dm.ErrShortBuffer))

	_, err = dm.EncodeTable([]dm.TableLine{{Type: "a-very-long-target-type"}})
	assert.Error(err)
}

func TestNameList(t *testing.T) {
	assert := assert.New(t)

	devs := []dm.NamedDevice{
		{Name: "vg0-lv0", Device: lvmeta.Device{Major: 253, Minor: 0}},
		{Name: "vg0-a--b", Device: lvmeta.Device{Major: 253, Minor: 300}},
	}

	back, err := dm.DecodeNameList(dm.EncodeNameList(devs))
	assert.NoError(err)
	assert.Equal(devs, back)

	back, err = dm.DecodeNameList(dm.EncodeNameList(nil))
	assert.NoError(err)
	assert.Empty(back)
}

func TestVersion(t *testing.T) {
	assert := assert.New(t)

	c, k := newChannel()

	v, err := c.CheckVersion()
	assert.NoError(err)
	assert.Equal("4.48.0", v.String())

	k.FailNext(dm.CmdVersion, unix.EACCES)

	_, err = c.Version()

	var dmErr *dm.DmError
	if assert.True(errors.As(err, &dmErr)) {
		assert.Equal(dm.CmdVersion, dmErr.Command)
		assert.Equal(unix.EACCES, dmErr.Errno)
		assert.False(errors.Is(err, dm.ErrUnsupportedVersion))
	}
}

func TestUnsupportedVersion(t *testing.T) {
	assert := assert.New(t)

	c, k := newChannel()

	for _, major := range []uint32{3, 5} {
		k.Version = dm.Version{Major: major, Minor: 1}

		v, err := c.CheckVersion()
		assert.True(errors.Is(err, dm.ErrUnsupportedVersion), "%v", err)
		assert.Equal(major, v.Major)
	}
}

func TestLifecycle(t *testing.T) {
	assert := assert.New(t)

	c, k := newChannel()

	devs, err := c.ListDevices()
	assert.NoError(err)
	assert.Empty(devs)

	dev, err := c.DeviceCreate("vg0-lv0", "LVM-x", nil)
	if !assert.NoError(err) {
		return
	}

	assert.Equal(lvmeta.Device{Major: mockos.DefaultDMMajor, Minor: 0}, dev)

	want := lvmeta.Device{Major: mockos.DefaultDMMajor, Minor: 7}
	dev, err = c.DeviceCreate("vg0-lv1", "LVM-y", &want)
	assert.NoError(err)
	assert.Equal(want, dev)

	_, err = c.DeviceCreate("vg0-lv0", "LVM-z", nil)
	assert.True(errors.Is(err, dm.ErrDeviceBusy))

	line := dm.LinearLine(0, 819200, pv0, 2048)
	assert.NoError(c.TableLoad("vg0-lv0", []dm.TableLine{line}))

	info, err := c.DeviceInfo("vg0-lv0")
	assert.NoError(err)
	assert.True(info.InactiveTable())
	assert.False(info.LiveTable())
	assert.Equal("LVM-x", info.UUID)

	_, ok := k.Table("vg0-lv0")
	assert.False(ok)

	_, err = c.TableResume("vg0-lv0")
	assert.NoError(err)

	live, ok := k.Table("vg0-lv0")
	assert.True(ok)
	assert.Equal([]dm.TableLine{line}, live)

	status, err := c.TableStatus("vg0-lv0")
	assert.NoError(err)
	assert.Equal([]dm.TableLine{line}, status)

	assert.NoError(c.DeviceSuspend("vg0-lv0"))

	info, _ = c.DeviceInfo("vg0-lv0")
	assert.True(info.Suspended())
	assert.True(info.LiveTable())

	_, err = c.TableResume("vg0-lv0")
	assert.NoError(err)

	devs, err = c.ListDevices()
	assert.NoError(err)
	assert.Equal([]dm.NamedDevice{
		{Name: "vg0-lv0", Device: lvmeta.Device{Major: mockos.DefaultDMMajor, Minor: 0}},
		{Name: "vg0-lv1", Device: want},
	}, devs)

	assert.NoError(k.Open("vg0-lv0"))
	assert.True(errors.Is(c.DeviceRemove("vg0-lv0"), dm.ErrDeviceBusy))
	k.Close("vg0-lv0")

	assert.NoError(c.DeviceRemove("vg0-lv0"))
	assert.True(errors.Is(c.DeviceRemove("vg0-lv0"), dm.ErrNoSuchDevice))

	assert.NoError(c.TableLoad("vg0-lv1", []dm.TableLine{line}))
	assert.NoError(c.TableClear("vg0-lv1"))

	info, _ = c.DeviceInfo("vg0-lv1")
	assert.False(info.InactiveTable())
}

func TestBadTable(t *testing.T) {
	c, _ := newChannel()

	_, err := c.DeviceCreate("vg0-lv0", "", nil)
	assert.NoError(t, err)

	err = c.TableLoad("vg0-lv0", []dm.TableLine{{Start: 8, Length: 8, Type: dm.TargetLinear, Params: "8:0 0"}})

	var dmErr *dm.DmError
	if assert.True(t, errors.As(err, &dmErr)) {
		assert.Equal(t, unix.EINVAL, dmErr.Errno)
		assert.Equal(t, "vg0-lv0", dmErr.Name)
		assert.Equal(t, "dm table_load vg0-lv0: invalid argument", dmErr.Error())
	}
}

func TestRetryInterrupted(t *testing.T) {
	assert := assert.New(t)

	c, k := newChannel()

	k.FailNext(dm.CmdDevCreate, unix.EINTR)

	_, err := c.DeviceCreate("vg0-lv0", "", nil)
	assert.NoError(err)

	// only one retry
	k.FailNext(dm.CmdDevRemove, unix.EINTR)
	k.FailNext(dm.CmdDevRemove, unix.EINTR)

	err = c.DeviceRemove("vg0-lv0")
	assert.True(errors.Is(err, unix.EINTR))

	calls := 0

	for _, cmd := range k.Calls() {
		if cmd == dm.CmdDevRemove {
			calls++
		}
	}

	assert.Equal(2, calls)

	// nothing else is retried
	k.FailNext(dm.CmdDevRemove, unix.EIO)
	assert.Error(c.DeviceRemove("vg0-lv0"))
	assert.NoError(c.DeviceRemove("vg0-lv0"))
}

func TestListGrowsBuffer(t *testing.T) {
	assert := assert.New(t)

	c, _ := newChannel()

	// each record is at least 16 bytes, 2000 of them overflow 16KiB
	for i := 0; i < 2000; i++ {
		_, err := c.DeviceCreate(lvmeta.DMName("vg0", lvmeta.NewUUID()), "", nil)
		if !assert.NoError(err) {
			return
		}
	}

	devs, err := c.ListDevices()
	assert.NoError(err)
	assert.Len(devs, 2000)
}
