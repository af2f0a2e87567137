package mockos_test

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"golang.org/x/sys/unix"

	"machinerun.io/lvmeta"
	"machinerun.io/lvmeta/dm"
	"machinerun.io/lvmeta/mockos"
)

func TestKernel(t *testing.T) {
	Convey("testing the device-mapper kernel", t, func() {
		k := mockos.NewKernel()
		c := dm.New(k, nil)

		So(k.Open("nope"), ShouldEqual, unix.ENXIO)

		Convey("A short or foreign buffer is rejected", func() {
			So(k.Ioctl(dm.CmdVersion, make([]byte, 10)), ShouldEqual, unix.EINVAL)

			buf := make([]byte, dm.HeaderSize)
			hdr := dm.Header{Version: [3]uint32{4}, DataSize: dm.HeaderSize, DataStart: dm.HeaderSize}
			So(hdr.Put(buf), ShouldBeNil)
			So(k.Ioctl(dm.CmdTargetMsg, buf), ShouldEqual, unix.ENOTTY)
		})

		Convey("A persistent number outside the kernel's major is refused", func() {
			_, err := c.DeviceCreate("a", "", &lvmeta.Device{Major: 8, Minor: 1})
			So(err, ShouldBeError)
		})

		Convey("Faults are consumed in order", func() {
			k.FailNext(dm.CmdDevCreate, unix.ENOMEM)

			_, err := c.DeviceCreate("a", "", nil)
			So(err, ShouldBeError)

			_, err = c.DeviceCreate("a", "", nil)
			So(err, ShouldBeNil)

			So(k.Calls(), ShouldResemble, []dm.Command{dm.CmdDevCreate, dm.CmdDevCreate})
		})

		Convey("Resume without a staged table keeps the device empty", func() {
			_, err := c.DeviceCreate("a", "LVM-a", nil)
			So(err, ShouldBeNil)

			_, err = c.TableResume("a")
			So(err, ShouldBeNil)

			_, ok := k.Table("a")
			So(ok, ShouldBeFalse)

			lines, err := c.TableStatus("a")
			So(err, ShouldBeNil)
			So(lines, ShouldBeEmpty)
		})
	})
}
