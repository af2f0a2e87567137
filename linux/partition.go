package linux

import (
	"io"

	"github.com/pkg/errors"
	"github.com/rekby/gpt"
	"github.com/rekby/mbr"
)

const (
	sectorSize512 = 512
	sectorSize4k  = 4096
)

// TableType names a partition table format.
type TableType string

const (
	TableNone TableType = "none"
	TableMBR  TableType = "mbr"
	TableGPT  TableType = "gpt"
)

var (
	// ErrNoPartitionTable is returned if there is no partition table.
	ErrNoPartitionTable = errors.New("no partition table found")

	// ErrPartitionTable is returned when a device about to become a PV
	// carries a partition table.
	ErrPartitionTable = errors.New("device has a partition table")
)

func readGPTTableSearch(fp io.ReadSeeker, sizes []uint) (gpt.Table, uint, error) {
	const noGptFound = "Bad GPT signature"

	var size uint

	for _, size = range sizes {
		// consider seek failure to be fatal
		if _, err := fp.Seek(int64(size), io.SeekStart); err != nil {
			return gpt.Table{}, size, err
		}

		gptTable, err := gpt.ReadTable(fp, uint64(size))
		if err != nil {
			if err.Error() == noGptFound {
				continue
			}

			return gpt.Table{}, size, err
		}

		return gptTable, size, nil
	}

	return gpt.Table{}, size, ErrNoPartitionTable
}

func readGPTTable(fp io.ReadSeeker) (gpt.Table, uint, error) {
	return readGPTTableSearch(fp, []uint{sectorSize512, sectorSize4k})
}

// readMBRTable returns the number of used MBR entries.
func readMBRTable(fp io.ReadSeeker) (int, error) {
	if _, err := fp.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}

	mbrTable, err := mbr.Read(fp)
	if err == mbr.ErrorBadMbrSign {
		return 0, ErrNoPartitionTable
	} else if err != nil {
		return 0, err
	}

	n := 0

	for _, p := range mbrTable.GetAllPartitions() {
		if !p.IsEmpty() {
			n++
		}
	}

	return n, nil
}

// FindPartitionTable reports which partition table fp carries and how
// many partitions it holds.
func FindPartitionTable(fp io.ReadSeeker) (TableType, int, error) {
	gptTable, _, err := readGPTTable(fp)
	if err == ErrNoPartitionTable {
		n, err := readMBRTable(fp)
		if err == ErrNoPartitionTable {
			return TableNone, 0, nil
		}

		return TableMBR, n, err
	}

	if err != nil {
		return TableGPT, 0, err
	}

	n := 0

	for _, p := range gptTable.Partitions {
		if !p.IsEmpty() {
			n++
		}
	}

	return TableGPT, n, nil
}

// CheckNoPartitionTable fails with ErrPartitionTable if fp carries a GPT,
// or an MBR with any partition in it.
func CheckNoPartitionTable(fp io.ReadSeeker) error {
	tt, n, err := FindPartitionTable(fp)
	if err != nil {
		return err
	}

	switch {
	case tt == TableGPT:
		return errors.Wrapf(ErrPartitionTable, "gpt with %d partitions", n)
	case tt == TableMBR && n > 0:
		return errors.Wrapf(ErrPartitionTable, "mbr with %d partitions", n)
	}

	return nil
}
