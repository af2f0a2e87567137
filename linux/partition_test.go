package linux

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/rekby/gpt"
	"github.com/rekby/mbr"
	uuid "github.com/satori/go.uuid"
	"github.com/stretchr/testify/assert"

	"machinerun.io/lvmeta"
	"machinerun.io/lvmeta/mda"
)

const testDiskSize = 64 * 1024 * 1024

func tempDisk(t *testing.T) *os.File {
	t.Helper()

	fp, err := os.Create(filepath.Join(t.TempDir(), "disk.img"))
	if err != nil {
		t.Fatalf("create: %s", err)
	}

	t.Cleanup(func() { fp.Close() })

	if err := fp.Truncate(testDiskSize); err != nil {
		t.Fatalf("truncate: %s", err)
	}

	return fp
}

// newProtectiveMBR - return a Protective MBR for the disk. buf holds the
// existing first sector.
func newProtectiveMBR(buf []byte, sectorSize uint, diskSize uint64) (mbr.MBR, error) {
	if len(buf) < int(sectorSize) {
		return mbr.MBR{},
			fmt.Errorf("buffer too small. Must be sectorSize(%d)", sectorSize)
	}

	// partition table takes up 446 (0x1BE) to 511 (0x1FF).
	for offset, i := 0x1BE, 0; i < 16*4; i++ {
		buf[offset+i] = 0
	}

	buf[0x1FE] = 0x55
	buf[0x1FF] = 0xAA

	myMBR, err := mbr.Read(bytes.NewReader(buf))
	if err != nil {
		return mbr.MBR{}, err
	}

	pt := myMBR.GetPartition(1)
	pt.SetType(mbr.PART_GPT)
	pt.SetLBAStart(1)
	pt.SetLBALen(uint32(diskSize/uint64(sectorSize)) - 2) // nolint: gomnd

	return *myMBR, myMBR.Check()
}

func writeNewGPTTable(fp io.ReadWriteSeeker, sectorSize uint, diskSize uint64) error {
	buf := make([]byte, sectorSize)

	m, err := newProtectiveMBR(buf, sectorSize, diskSize)
	if err != nil {
		return err
	}

	if _, err := fp.Seek(0, io.SeekStart); err != nil {
		return err
	}

	if err := m.Write(fp); err != nil {
		return err
	}

	table := gpt.NewTable(diskSize, &gpt.NewTableArgs{
		SectorSize: uint64(sectorSize),
		DiskGuid:   gpt.Guid(uuid.NewV4()),
	})

	if err := table.Write(fp); err != nil {
		return err
	}

	return table.CreateOtherSideTable().Write(fp)
}

func TestNoTableOnBlankDisk(t *testing.T) {
	assert := assert.New(t)
	fp := tempDisk(t)

	tt, n, err := FindPartitionTable(fp)
	assert.Nil(err)
	assert.Equal(TableNone, tt)
	assert.Equal(0, n)
	assert.Nil(CheckNoPartitionTable(fp))
}

func TestGPTRefused(t *testing.T) {
	assert := assert.New(t)
	fp := tempDisk(t)

	assert.Nil(writeNewGPTTable(fp, sectorSize512, testDiskSize))

	tt, _, err := FindPartitionTable(fp)
	assert.Nil(err)
	assert.Equal(TableGPT, tt)

	err = CheckNoPartitionTable(fp)
	assert.True(errors.Is(err, ErrPartitionTable), "got %v", err)
}

func TestMBRWithPartitionRefused(t *testing.T) {
	assert := assert.New(t)
	fp := tempDisk(t)

	buf := make([]byte, sectorSize512)
	buf[0x1FE] = 0x55
	buf[0x1FF] = 0xAA

	m, err := mbr.Read(bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("mbr: %s", err)
	}

	// An empty MBR is fine.
	assert.Nil(m.Write(fp))

	tt, n, err := FindPartitionTable(fp)
	assert.Nil(err)
	assert.Equal(TableMBR, tt)
	assert.Equal(0, n)
	assert.Nil(CheckNoPartitionTable(fp))

	pt := m.GetPartition(1)
	pt.SetType(0x8e)
	pt.SetLBAStart(2048)
	pt.SetLBALen(4096)

	_, err = fp.Seek(0, io.SeekStart)
	assert.Nil(err)
	assert.Nil(m.Write(fp))

	err = CheckNoPartitionTable(fp)
	assert.True(errors.Is(err, ErrPartitionTable), "got %v", err)
}

func TestPVLabelIsNotATable(t *testing.T) {
	assert := assert.New(t)
	fp := tempDisk(t)

	raw, err := lvmeta.ParseUUID(lvmeta.NewUUID())
	assert.Nil(err)

	_, err = mda.Initialize(fp, testDiskSize, raw, 0, 1)
	assert.Nil(err)

	assert.Nil(CheckNoPartitionTable(fp))
}
