// Package lvmeta models LVM2 volume group metadata: physical volumes,
// volume groups, logical volumes and their segments. The types convert to
// and from the generic tree of package textfmt, which is how the metadata
// is stored in metadata areas and exchanged with the metadata cache daemon.
package lvmeta

const (
	// SectorSize is the unit of pe_start, dev_size and extent_size.
	SectorSize = 512

	// Mebibyte is 1024 * 1024 bytes.
	Mebibyte = 1024 * 1024

	// DefaultExtentSize is 4MiB expressed in sectors.
	DefaultExtentSize = 8192

	// DefaultPEStart places the first extent at 1MiB, after the label and
	// the first metadata area.
	DefaultPEStart = Mebibyte / SectorSize

	// MinPEStart keeps the first extent clear of the label sectors.
	MinPEStart = 8

	// FormatLVM2 is the only metadata format written.
	FormatLVM2 = "lvm2"

	// DefaultStripeSize is the stripe chunk in sectors (64KiB).
	DefaultStripeSize = 128
)

// Status flags stored in the status lists.
const (
	StatusRead        = "READ"
	StatusWrite       = "WRITE"
	StatusResizeable  = "RESIZEABLE"
	StatusAllocatable = "ALLOCATABLE"
	StatusVisible     = "VISIBLE"
)
