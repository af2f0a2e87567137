package lvmeta_test

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"machinerun.io/lvmeta"
	"machinerun.io/lvmeta/textfmt"
)

const vgText = `vg0 {
	id = "aaaaaa-bbbb-cccc-dddd-eeee-ffff-gggggg"
	seqno = 7
	format = "lvm2"
	status = ["RESIZEABLE", "READ", "WRITE"]
	flags = []
	extent_size = 8192
	max_lv = 0
	max_pv = 0
	metadata_copies = 0
	allocation_policy = "normal"
	physical_volumes {
		pv0 {
			id = "hhhhhh-iiii-jjjj-kkkk-llll-mmmm-nnnnnn"
			device = 2049
			status = ["ALLOCATABLE"]
			flags = []
			dev_size = 8390656
			pe_start = 2048
			pe_count = 1000
			ba_start = 0
		}
		pv1 {
			id = "oooooo-pppp-qqqq-rrrr-ssss-tttt-uuuuuu"
			device = 2065
			status = ["ALLOCATABLE"]
			flags = []
			dev_size = 8390656
			pe_start = 2048
			pe_count = 1000
		}
	}
	logical_volumes {
		lv0 {
			id = "vvvvvv-wwww-xxxx-yyyy-zzzz-AAAA-BBBBBB"
			status = ["READ", "WRITE", "VISIBLE"]
			flags = []
			creation_host = "host"
			creation_time = 1700000000
			segment_count = 2
			segment1 {
				start_extent = 0
				extent_count = 100
				type = "linear"
				stripe_count = 1
				stripes = ["pv0", 0]
			}
			segment2 {
				start_extent = 100
				extent_count = 200
				type = "striped"
				stripe_count = 2
				stripe_size = 128
				stripes = ["pv0", 100, "pv1", 0]
			}
		}
	}
}
`

func decodeVG(t *testing.T, text string) (*lvmeta.VG, error) {
	t.Helper()

	m, err := textfmt.Decode([]byte(text))
	if err != nil {
		t.Fatalf("decode: %s", err)
	}

	return lvmeta.VGFromDiskTree(m)
}

func TestVGFromTree(t *testing.T) {
	assert := assert.New(t)

	vg, err := decodeVG(t, vgText)
	if !assert.NoError(err) {
		return
	}

	assert.Equal("vg0", vg.Name)
	assert.Equal(uint64(7), vg.Seqno)
	assert.Len(vg.PVs, 2)
	assert.Equal(lvmeta.Device{Major: 8, Minor: 1}, vg.PVs[0].Device)
	assert.Equal(uint64(300), vg.ExtentsInUse())
	assert.Equal(uint64(1700), vg.ExtentsFree())

	lv, err := vg.LVByName("lv0")
	if assert.NoError(err) {
		assert.Equal(uint64(300), lv.UsedExtents())
		assert.Equal(uint64(100), lv.Segments[1].StripeExtents())
	}

	policy, ok := vg.Extra.String("allocation_policy")
	assert.True(ok)
	assert.Equal("normal", policy)

	_, ok = vg.PVs[0].Extra.Number("ba_start")
	assert.True(ok)
}

func TestVGRoundTrip(t *testing.T) {
	assert := assert.New(t)

	orig, err := textfmt.Decode([]byte(vgText))
	if !assert.NoError(err) {
		return
	}

	vg, err := lvmeta.VGFromDiskTree(orig)
	if !assert.NoError(err) {
		return
	}

	tree := vg.ToTree()
	section, _ := orig.Nested("vg0")
	assert.True(section.Equal(tree), "tree differs:\n%s", textfmt.Encode(tree))

	back, err := lvmeta.VGFromTree(vg.Name, tree)
	if assert.NoError(err) {
		assert.True(cmp.Equal(vg, back, cmp.Comparer(func(a, b *textfmt.Map) bool { return a.Equal(b) })),
			cmp.Diff(vg, back, cmp.Comparer(func(a, b *textfmt.Map) bool { return a.Equal(b) })))
	}
}

func TestDiskTree(t *testing.T) {
	assert := assert.New(t)

	vg := lvmeta.NewVG("vg0", 0)
	_, err := vg.AddPV(lvmeta.PV{UUID: lvmeta.NewUUID(), Device: lvmeta.Device{Major: 8, Minor: 16},
		DevSize: 1000*8192 + 4096})
	assert.NoError(err)

	tree := lvmeta.DiskTree(vg, "myhost", time.Unix(1700000000, 0))
	assert.Equal([]string{"contents", "version", "description", "creation_host", "creation_time", "vg0"},
		tree.Keys())

	back, err := textfmt.Decode(textfmt.Encode(tree))
	assert.NoError(err)

	again, err := lvmeta.VGFromDiskTree(back)
	if assert.NoError(err) {
		assert.Equal(vg.UUID, again.UUID)
		assert.Equal(uint64(1000), again.PVs[0].PECount)
	}

	seqno, ok := lvmeta.SeqnoOf(back)
	assert.True(ok)
	assert.Equal(uint64(0), seqno)
}

func TestInvalidMetadata(t *testing.T) {
	tables := []struct {
		name string
		old  string
		new  string
	}{
		{"overlapping segments", "start_extent = 100", "start_extent = 50"},
		{"gap between segments", "start_extent = 100", "start_extent = 101"},
		{"unknown pv", `stripes = ["pv0", 0]`, `stripes = ["pv9", 0]`},
		{"stripe past pe_count", `stripes = ["pv0", 0]`, `stripes = ["pv0", 950]`},
		{"double allocation", `"pv1", 0]`, `"pv0", 0]`},
		{"stripe count mismatch", "stripe_count = 2", "stripe_count = 3"},
		{"zero extent size", "extent_size = 8192", "extent_size = 0"},
		{"pv past device", "pe_count = 1000\n\t\t\tba_start", "pe_count = 1100\n\t\t\tba_start"},
		{"pe_start in label", "pe_start = 2048\n\t\t\tpe_count = 1000\n\t\t\tba", "pe_start = 1\n\t\t\tpe_count = 1000\n\t\t\tba"},
		{"duplicate pv id", `"oooooo-pppp-qqqq-rrrr-ssss-tttt-uuuuuu"`, `"hhhhhh-iiii-jjjj-kkkk-llll-mmmm-nnnnnn"`},
		{"unsupported type", `type = "linear"`, `type = "thin"`},
		{"negative number", "seqno = 7", "seqno = -7"},
		{"wrong kind", "seqno = 7", `seqno = "7"`},
		{"missing key", "extent_size = 8192\n", "\n"},
		{"max_pv", "max_pv = 0", "max_pv = 1"},
		{"pe_count wrapping", "pe_count = 1000\n\t\t\tba_start", "pe_count = 2251799813685248\n\t\t\tba_start"},
		{"pe_start past device", "pe_start = 2048\n\t\t\tpe_count = 1000\n\t\t\tba", "pe_start = 9000000\n\t\t\tpe_count = 1000\n\t\t\tba"},
	}

	for _, table := range tables {
		text := replaceOnce(t, vgText, table.old, table.new)

		_, err := decodeVG(t, text)
		if !assert.Error(t, err, table.name) {
			continue
		}

		assert.True(t, errors.Is(err, lvmeta.ErrInvalidMetadata), "%s: %v", table.name, err)

		var ie *lvmeta.InvalidMetadataError
		assert.True(t, errors.As(err, &ie), table.name)
	}
}

func replaceOnce(t *testing.T, s, old, new string) string {
	t.Helper()

	if !strings.Contains(s, old) {
		t.Fatalf("%q not found", old)
	}

	return strings.Replace(s, old, new, 1)
}

func TestExtentSumsSaturate(t *testing.T) {
	assert := assert.New(t)

	vg := lvmeta.NewVG("vg0", 8192)
	vg.PVs = []lvmeta.PV{{Name: "pv0", PECount: math.MaxUint64 - 5}, {Name: "pv1", PECount: 10}}
	vg.LVs = []lvmeta.LV{
		{Name: "a", Segments: []lvmeta.Segment{{ExtentCount: math.MaxUint64}}},
		{Name: "b", Segments: []lvmeta.Segment{{ExtentCount: 1}}},
	}

	assert.Equal(uint64(math.MaxUint64), vg.Extents())
	assert.Equal(uint64(math.MaxUint64), vg.ExtentsInUse())
	assert.Equal(uint64(0), vg.ExtentsFree())
}

func TestAllocation(t *testing.T) {
	assert := assert.New(t)

	vg := lvmeta.NewVG("vg0", 8192)

	for i, minor := range []uint32{0, 16} {
		_, err := vg.AddPV(lvmeta.PV{UUID: lvmeta.NewUUID(), Device: lvmeta.Device{Major: 8, Minor: minor},
			DevSize: 2048 + 100*8192 + 2048, Name: ""})
		assert.NoError(err, "pv %d", i)
	}

	assert.Equal("pv1", vg.PVs[1].Name)
	assert.Equal(uint64(200), vg.Extents())

	_, err := vg.AddPV(lvmeta.PV{UUID: lvmeta.NewUUID(), Device: lvmeta.Device{Major: 8, Minor: 16},
		DevSize: 1 << 30})
	assert.True(errors.Is(err, lvmeta.ErrExists))

	lv, err := vg.CreateLinearLV("data", 150, "h", 1)
	if assert.NoError(err) {
		assert.Len(lv.Segments, 2)
		assert.Equal(lvmeta.Stripe{PV: "pv1", StartExtent: 0}, lv.Segments[1].Stripes[0])
		assert.Equal(uint64(100), lv.Segments[1].StartExtent)
	}

	_, err = vg.CreateLinearLV("data", 1, "h", 1)
	assert.True(errors.Is(err, lvmeta.ErrExists))

	_, err = vg.CreateLinearLV("big", 51, "h", 1)
	assert.True(errors.Is(err, lvmeta.ErrInsufficientSpace))

	_, err = vg.CreateStripedLV("fast", 20, 2, 0, "h", 1)
	assert.True(errors.Is(err, lvmeta.ErrInsufficientSpace))

	assert.NoError(vg.RemoveLV("data"))

	lv, err = vg.CreateStripedLV("fast", 20, 2, 0, "h", 1)
	if assert.NoError(err) {
		assert.Equal(uint64(lvmeta.DefaultStripeSize), lv.Segments[0].StripeSize)
		assert.Len(lv.Segments[0].Stripes, 2)
	}

	assert.True(errors.Is(vg.RemovePV("pv0"), lvmeta.ErrInUse))
	assert.True(errors.Is(vg.RemoveLV("data"), lvmeta.ErrNotFound))
	assert.NoError(vg.Validate())

	clone := vg.Clone()
	clone.LVs[0].Segments[0].Stripes[0].StartExtent = 99
	assert.Equal(uint64(0), vg.LVs[0].Segments[0].Stripes[0].StartExtent)
}

func TestDMNames(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("vg0-lv0", lvmeta.DMName("vg0", "lv0"))
	assert.Equal("my--vg-thin--lv", lvmeta.DMName("my-vg", "thin-lv"))
	assert.Equal("LVM-aaaaaabbbbccccddddeeeeffffgggggghhhhhhiiiijjjjkkkkllllmmmmnnnnnn",
		lvmeta.DMUUID("aaaaaa-bbbb-cccc-dddd-eeee-ffff-gggggg", "hhhhhh-iiii-jjjj-kkkk-llll-mmmm-nnnnnn"))

	for _, names := range [][2]string{{"vg0", "lv0"}, {"my-vg", "thin-lv"}, {"a-", "b"}, {"x", "y--z"}} {
		vg, lv, ok := lvmeta.SplitDMName(lvmeta.DMName(names[0], names[1]))
		assert.True(ok)
		assert.Equal(names[0], vg)
		assert.Equal(names[1], lv)
	}

	_, _, ok := lvmeta.SplitDMName("no--separator")
	assert.False(ok)
}
