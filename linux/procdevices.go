package linux

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const procDevices = "/proc/devices"

// ErrNoDriver is returned when no block driver of the name is registered.
var ErrNoDriver = errors.New("block driver not registered")

// ParseProcDevices returns the block major of the driver called name, read
// from the format of /proc/devices.
func ParseProcDevices(r io.Reader, name string) (uint32, error) {
	scanner := bufio.NewScanner(r)
	block := false

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "":
			continue
		case strings.HasSuffix(line, "devices:"):
			block = line == "Block devices:"
			continue
		case !block:
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 2 || fields[1] != name {
			continue
		}

		major, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			return 0, errors.Wrapf(err, "%s major %q", name, fields[0])
		}

		return uint32(major), nil
	}

	if err := scanner.Err(); err != nil {
		return 0, err
	}

	return 0, errors.Wrapf(ErrNoDriver, "%s", name)
}

// DMMajor returns the block major the kernel assigned to device-mapper.
func DMMajor() (uint32, error) {
	f, err := os.Open(procDevices)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	return ParseProcDevices(f, "device-mapper")
}
