package lvmeta

import (
	"strings"

	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
)

// UUIDLen is the length of an LVM identifier without hyphens.
const UUIDLen = 32

// uuidChars is the LVM id alphabet. Ids holding '!' or '#' are written as
// quoted keys where they name a section.
const uuidChars = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ!#"

// hyphens are inserted after these positions of the 32 characters.
var uuidGroups = []int{6, 4, 4, 4, 4, 4, 6}

// ErrBadUUID is returned for identifiers that are not 32 LVM characters.
var ErrBadUUID = errors.New("invalid lvm uuid")

// NewUUID returns a random LVM identifier in its hyphenated form, as in
// "AbCdEf-gHiJ-kLmN-oPqR-sTuV-wXyZ-012345".
func NewUUID() string {
	raw := make([]byte, 0, UUIDLen)

	for len(raw) < UUIDLen {
		for _, b := range uuid.NewV4().Bytes() {
			raw = append(raw, uuidChars[b&0x3f])
		}
	}

	return FormatUUID(string(raw[:UUIDLen]))
}

// FormatUUID inserts hyphens into a 32 character identifier. Other input is
// returned unchanged.
func FormatUUID(raw string) string {
	if len(raw) != UUIDLen {
		return raw
	}

	parts := make([]string, 0, len(uuidGroups))

	for _, n := range uuidGroups {
		parts = append(parts, raw[:n])
		raw = raw[n:]
	}

	return strings.Join(parts, "-")
}

// StripUUID removes hyphens, giving the form stored in PV labels and used
// in device-mapper uuids.
func StripUUID(s string) string {
	return strings.ReplaceAll(s, "-", "")
}

// ParseUUID checks s and returns its 32 character form.
func ParseUUID(s string) (string, error) {
	raw := StripUUID(s)
	if len(raw) != UUIDLen {
		return "", errors.Wrapf(ErrBadUUID, "%q has %d characters", s, len(raw))
	}

	for i := 0; i < len(raw); i++ {
		if !strings.ContainsRune(uuidChars, rune(raw[i])) {
			return "", errors.Wrapf(ErrBadUUID, "%q contains %q", s, raw[i])
		}
	}

	return raw, nil
}
