package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"machinerun.io/lvmeta"
	"machinerun.io/lvmeta/linux"
)

//nolint:gochecknoglobals
var dmCommands = cli.Command{
	Name:  "dm",
	Usage: "device-mapper commands",
	Subcommands: []*cli.Command{
		{
			Name:   "version",
			Usage:  "Show the kernel's device-mapper interface version",
			Action: dmVersion,
		},
		{
			Name:   "ls",
			Usage:  "List mapped devices",
			Action: dmList,
		},
		{
			Name:      "info",
			Usage:     "Show a mapped device, its table and udev links",
			ArgsUsage: "name",
			Action:    dmInfo,
		},
		{
			Name:      "remove",
			Usage:     "Remove a mapped device",
			ArgsUsage: "name...",
			Action:    dmRemove,
		},
	},
}

func dmVersion(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}

	ch, closer, err := e.channel()
	if err != nil {
		return err
	}
	defer closer()

	v, err := ch.Version()
	if err != nil {
		return err
	}

	major, err := linux.DMMajor()
	if err != nil {
		return err
	}

	fmt.Printf("interface %s, block major %d\n", v, major)

	return nil
}

func dmList(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}

	ch, closer, err := e.channel()
	if err != nil {
		return err
	}
	defer closer()

	devs, err := ch.ListDevices()
	if err != nil {
		return err
	}

	data := [][]string{{"Name", "Device", "VG", "LV"}}

	for _, d := range devs {
		vg, lv, _ := lvmeta.SplitDMName(d.Name)
		data = append(data, []string{d.Name, d.Device.String(), vg, lv})
	}

	printTextTable(data)

	return nil
}

func dmInfo(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return errors.Errorf("expected one device name, got %d", c.Args().Len())
	}

	e, err := setup(c)
	if err != nil {
		return err
	}

	ch, closer, err := e.channel()
	if err != nil {
		return err
	}
	defer closer()

	name := c.Args().First()

	info, err := ch.DeviceInfo(name)
	if err != nil {
		return err
	}

	fmt.Printf("name:      %s\nuuid:      %s\ndevice:    %s\nopen:      %d\nsuspended: %t\n",
		info.Name, info.UUID, info.Device, info.OpenCount, info.Suspended())

	if info.LiveTable() {
		table, err := ch.TableStatus(name)
		if err != nil {
			return err
		}

		for _, line := range table {
			fmt.Printf("table:     %s\n", line)
		}
	}

	udev, err := linux.GetUdevInfo(fmt.Sprintf("dm-%d", info.Device.Minor))
	if err != nil {
		e.log.WithError(err).Debug("no udev info")
		return nil
	}

	for _, l := range udev.MapperLinks() {
		fmt.Printf("link:      %s\n", l)
	}

	return nil
}

func dmRemove(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}

	ch, closer, err := e.channel()
	if err != nil {
		return err
	}
	defer closer()

	for _, name := range c.Args().Slice() {
		if err := ch.DeviceRemove(name); err != nil {
			return err
		}
	}

	return nil
}
