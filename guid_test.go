package lvmeta_test

import (
	"regexp"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"machinerun.io/lvmeta"
)

func TestNewUUID(t *testing.T) {
	uuidfmt := "^[0-9a-zA-Z!#]{6}(-[0-9a-zA-Z!#]{4}){5}-[0-9a-zA-Z!#]{6}$"
	matcher := regexp.MustCompile(uuidfmt)

	seen := map[string]bool{}

	for i := 0; i < 50; i++ {
		id := lvmeta.NewUUID()
		if !matcher.MatchString(id) {
			t.Errorf("uuid %s did not match format %s", id, uuidfmt)
		}

		if seen[id] {
			t.Errorf("uuid %s generated twice", id)
		}

		seen[id] = true

		raw, err := lvmeta.ParseUUID(id)
		if err != nil {
			t.Errorf("ParseUUID(%s) failed: %s", id, err)
		}

		if lvmeta.FormatUUID(raw) != id {
			t.Errorf("Round trip failed. %s -> %s -> %s", id, raw, lvmeta.FormatUUID(raw))
		}
	}
}

func TestParseUUIDBad(t *testing.T) {
	assert := assert.New(t)

	for _, s := range []string{"", "short", "aaaaaa-bbbb-cccc-dddd-eeee-ffff-ggggg", "aaaaaa-bbbb-cccc-dddd-eeee-ffff-ggggg%"} {
		_, err := lvmeta.ParseUUID(s)
		assert.True(errors.Is(err, lvmeta.ErrBadUUID), "%q", s)
	}
}

func TestDevice(t *testing.T) {
	assert := assert.New(t)

	for _, td := range []struct {
		dev    lvmeta.Device
		packed uint64
	}{
		{lvmeta.Device{Major: 8, Minor: 1}, 2049},
		{lvmeta.Device{Major: 253, Minor: 0}, 253 << 8},
		{lvmeta.Device{Major: 259, Minor: 300}, (300 & 0xff) | 259<<8 | (300&^0xff)<<12},
		{lvmeta.Device{Major: 4096, Minor: 70000}, (70000 & 0xff) | (4096&0xfff)<<8 | (70000&^0xff)<<12 | (4096&^0xfff)<<32},
	} {
		assert.Equal(td.packed, td.dev.Pack(), "%s", td.dev)
		assert.Equal(td.dev, lvmeta.DeviceFromPacked(td.packed))

		back, err := lvmeta.ParseDevice(td.dev.String())
		assert.NoError(err)
		assert.Equal(td.dev, back)
	}

	assert.Equal("/dev/block/8:1", lvmeta.Device{Major: 8, Minor: 1}.Path("/dev"))

	for _, s := range []string{"8", "8:x", "a:1", "1:2:3"} {
		_, err := lvmeta.ParseDevice(s)
		assert.True(errors.Is(err, lvmeta.ErrBadDevice), s)
	}
}
