package lvmeta

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFindGaps0(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(
		[]uRange{{0, 100}},
		findRangeGaps([]uRange{}, 0, 100))
}

func TestFindGaps1(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(
		[]uRange{{0, 49}, {60, 100}},
		findRangeGaps([]uRange{{50, 59}}, 0, 100))
}

func TestFindGapsEdges(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(
		[]uRange{{51, 100}},
		findRangeGaps([]uRange{{0, 50}}, 0, 100))
	assert.Equal(
		[]uRange{{0, 10}},
		findRangeGaps([]uRange{{11, 100}}, 0, 100))
	assert.Equal(
		[]uRange{{10, 100}},
		findRangeGaps([]uRange{{110, 200}}, 10, 100))
}

func TestFindGapsFull(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(
		[]uRange{},
		findRangeGaps([]uRange{{0, 10}, {11, 100}}, 0, 100))
	assert.Equal(
		[]uRange{},
		findRangeGaps([]uRange{{0, 150}, {50, 100}}, 0, 100))
}

func TestFindGapsUnsorted(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(
		[]uRange{{0, 9}, {21, 49}, {60, 100}},
		findRangeGaps([]uRange{{50, 59}, {10, 20}}, 0, 100))
	assert.Equal(
		[]uRange{{0, 10}, {50, 59}, {91, 100}},
		findRangeGaps([]uRange{{60, 90}, {11, 49}}, 0, 100))
}

func TestFreeAreas(t *testing.T) {
	assert := assert.New(t)

	vg := &VG{
		Name:       "vg0",
		ExtentSize: 8192,
		PVs:        []PV{{Name: "pv0", PECount: 100}, {Name: "pv1", PECount: 10}},
		LVs: []LV{
			{Name: "a", Segments: []Segment{
				{ExtentCount: 20, Type: SegmentLinear, Stripes: []Stripe{{"pv0", 10}}},
			}},
			{Name: "b", Segments: []Segment{
				{ExtentCount: 20, Type: SegmentStriped, Stripes: []Stripe{{"pv0", 50}, {"pv1", 0}}},
			}},
		},
	}

	assert.Equal(
		[]Area{{"pv0", 0, 10}, {"pv0", 30, 20}, {"pv0", 60, 40}},
		vg.FreeAreas("pv0"))
	assert.Equal([]Area{}, vg.FreeAreas("pv1"))
	assert.Equal([]Area{}, vg.FreeAreas("nope"))
	assert.Equal(uint64(70), vg.ExtentsFree())
}
