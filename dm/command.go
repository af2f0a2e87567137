// Package dm talks to the kernel device-mapper through its control device.
//
// Every request is a single buffer: a fixed Header followed by a command
// specific payload. The kernel answers in the same buffer. Channel builds
// the requests and decodes the answers; Control moves the buffer to the
// kernel and back, which lets tests substitute an in-memory kernel.
package dm

import "fmt"

// Command is a device-mapper ioctl command number.
type Command uint32

// Command numbers, in kernel order.
const (
	CmdVersion Command = iota
	CmdRemoveAll
	CmdListDevices
	CmdDevCreate
	CmdDevRemove
	CmdDevRename
	CmdDevSuspend
	CmdDevStatus
	CmdDevWait
	CmdTableLoad
	CmdTableClear
	CmdTableDeps
	CmdTableStatus
	CmdListVersions
	CmdTargetMsg
	CmdDevSetGeometry
)

var commandNames = []string{
	"version",
	"remove_all",
	"list_devices",
	"dev_create",
	"dev_remove",
	"dev_rename",
	"dev_suspend",
	"dev_status",
	"dev_wait",
	"table_load",
	"table_clear",
	"table_deps",
	"table_status",
	"list_versions",
	"target_msg",
	"dev_set_geometry",
}

func (c Command) String() string {
	if int(c) < len(commandNames) {
		return commandNames[c]
	}

	return fmt.Sprintf("command(%d)", uint32(c))
}

const (
	ioctlType = 0xfd

	iocWrite = 1
	iocRead  = 2
)

// Request returns the ioctl request number for c, _IOWR(0xfd, c, Header).
func (c Command) Request() uintptr {
	return uintptr((iocRead|iocWrite)<<30 | HeaderSize<<16 | ioctlType<<8 | uint32(c))
}

// Header flags.
const (
	FlagReadOnly        = 1 << 0
	FlagSuspend         = 1 << 1
	FlagPersistentDev   = 1 << 3
	FlagStatusTable     = 1 << 4
	FlagActivePresent   = 1 << 5
	FlagInactivePresent = 1 << 6
	FlagBufferFull      = 1 << 8
)

// Protocol version sent with every request. The kernel rejects a request
// whose major version differs from its own.
const (
	VersionMajor = 4
	VersionMinor = 0
	VersionPatch = 0
)
