package mda_test

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"machinerun.io/lvmeta"
	"machinerun.io/lvmeta/mda"
)

func TestDataSectors(t *testing.T) {
	assert := assert.New(t)

	_, label := newPV(t)

	start, end := label.DataSectors()
	assert.Equal(uint64(mda.DefaultAreaSize/mda.SectorSize), start)
	assert.Equal(uint64((diskSize-mda.DefaultAreaSize)/mda.SectorSize), end)

	single := &mda.Label{
		DevSize:       diskSize,
		DataAreas:     []mda.Locn{{Offset: mda.DefaultAreaSize}},
		MetadataAreas: []mda.Locn{{Offset: 4096, Size: mda.DefaultAreaSize - 4096}},
	}

	_, end = single.DataSectors()
	assert.Equal(uint64(diskSize/mda.SectorSize), end)
}

func TestCheckExtents(t *testing.T) {
	assert := assert.New(t)

	_, label := newPV(t)

	start, end := label.DataSectors()
	extents := (end - start) / lvmeta.DefaultExtentSize

	assert.NoError(label.CheckExtents(start, extents, lvmeta.DefaultExtentSize))
	assert.NoError(label.CheckExtents(start+lvmeta.DefaultExtentSize, extents-1, lvmeta.DefaultExtentSize))

	tables := []struct {
		name    string
		peStart uint64
		peCount uint64
	}{
		{"inside the first metadata area", 8, 1},
		{"before the data area", start - 1, 1},
		{"into the trailing metadata area", start + 2048, extents},
		{"past the device end", start, extents + 2},
		{"wrapping", start, 1 << 51},
	}

	for _, table := range tables {
		err := label.CheckExtents(table.peStart, table.peCount, lvmeta.DefaultExtentSize)
		assert.True(errors.Is(err, lvmeta.ErrInvalidMetadata), "%s: %v", table.name, err)
	}
}
