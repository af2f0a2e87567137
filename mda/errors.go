package mda

import "github.com/pkg/errors"

var (
	// ErrNoLabel - none of the first sectors carries a PV label.
	ErrNoLabel = errors.New("no lvm label found")

	// ErrCorruptLabel - a label was found but its checksum or fields are bad.
	ErrCorruptLabel = errors.New("corrupt lvm label")

	// ErrCorruptHeader - the metadata area header fails its checksum, magic,
	// version or bounds checks.
	ErrCorruptHeader = errors.New("corrupt metadata area header")

	// ErrNoMetadata - the header is valid but no text was ever committed.
	ErrNoMetadata = errors.New("metadata area is empty")

	// ErrIgnored - the metadata area is flagged as ignored.
	ErrIgnored = errors.New("metadata area is ignored")

	// ErrCorruptPayload - the committed text does not match its checksum.
	ErrCorruptPayload = errors.New("metadata text checksum mismatch")

	// ErrNoSpace - the text does not fit without overwriting the current copy.
	ErrNoSpace = errors.New("metadata area too small")

	// ErrSeqnoMismatch - the tree handed to Write carries a different seqno.
	ErrSeqnoMismatch = errors.New("metadata seqno mismatch")

	// ErrDeviceTooSmall - the device can not hold a label and two areas.
	ErrDeviceTooSmall = errors.New("device too small")

	// ErrNothingToRevert - Revert without a preceding successful Write.
	ErrNothingToRevert = errors.New("no write to revert")
)
