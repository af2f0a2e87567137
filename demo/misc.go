package main

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"machinerun.io/lvmeta"
	"machinerun.io/lvmeta/activate"
	"machinerun.io/lvmeta/dm"
	"machinerun.io/lvmeta/ledger"
	"machinerun.io/lvmeta/mda"
	"machinerun.io/lvmeta/mockos"
)

//nolint:gochecknoglobals
var miscCommands = cli.Command{
	Name:  "misc",
	Usage: "miscellaneous test/debug",
	Subcommands: []*cli.Command{
		{
			Name:   "updown",
			Usage:  "On a mock machine: create PVs, a vg, lvs, take it all down",
			Action: miscUpDown,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "layout",
					Usage:    "mock machine layout (json)",
					Required: true,
				},
				&cli.IntFlag{
					Name:  "loops",
					Value: 1,
					Usage: "how many times to go up and down",
				},
				&cli.BoolFlag{
					Name:  "skip-teardown",
					Value: false,
					Usage: "Do not tear down on final run",
				},
			},
		},
	},
}

func miscUpDown(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}

	m := mockos.System(c.String("layout"))
	if len(m.Disks) == 0 {
		return errors.New("layout has no disks")
	}

	eng := activate.New(dm.New(m.Kernel, e.log), ledger.New(), e.log)
	eng.Hostname = e.cfg.Hostname

	vg := lvmeta.NewVG("vg0", e.cfg.ExtentSize)
	targets := []activate.Target{}

	for _, name := range m.Names() {
		disk, _ := m.Disk(name)

		raw, err := lvmeta.ParseUUID(lvmeta.NewUUID())
		if err != nil {
			return err
		}

		label, err := mda.Initialize(disk, disk.Size(), raw, e.cfg.MetadataAreaSize, e.cfg.MetadataCopies)
		if err != nil {
			return errors.Wrapf(err, "%s", name)
		}

		if _, err := vg.AddPV(labelPV(label, disk.Device, disk.Size()/lvmeta.SectorSize, vg.ExtentSize)); err != nil {
			return err
		}

		t, err := activate.TargetsFor(name, disk)
		if err != nil {
			return err
		}

		targets = append(targets, t...)
	}

	ctx, cancel := e.context()
	defer cancel()

	res, err := eng.Commit(ctx, nil, vg, targets)
	if err != nil {
		return err
	}

	cur := res.VG

	for i := 0; i < c.Int("loops"); i++ {
		fmt.Printf("[%d] up\n", i)

		next := cur.Clone()
		now := time.Now().Unix()

		if _, err := next.CreateLinearLV("lv0", 100, e.cfg.Hostname, now); err != nil {
			return err
		}

		if len(next.PVs) > 1 {
			if _, err := next.CreateStripedLV("lv1", uint64(10*len(next.PVs)), len(next.PVs), 0, e.cfg.Hostname, now); err != nil {
				return err
			}
		}

		if res, err = eng.Commit(ctx, cur, next, targets); err != nil {
			return err
		}

		cur = res.VG
		showMock(m, cur)

		if c.Bool("skip-teardown") && i == c.Int("loops")-1 {
			break
		}

		fmt.Printf("[%d] down\n", i)

		next = cur.Clone()
		for _, lv := range cur.LVs {
			if err := next.RemoveLV(lv.Name); err != nil {
				return err
			}
		}

		if res, err = eng.Commit(ctx, cur, next, targets); err != nil {
			return err
		}

		cur = res.VG
		showMock(m, cur)
	}

	return nil
}

func showMock(m *mockos.Machine, vg *lvmeta.VG) {
	data := [][]string{{"Name", "Table"}}

	for _, lv := range vg.LVs {
		name := lvmeta.DMName(vg.Name, lv.Name)

		lines, ok := m.Kernel.Table(name)
		if !ok {
			data = append(data, []string{name, "(none)"})
			continue
		}

		for _, l := range lines {
			data = append(data, []string{name, l.String()})
		}
	}

	fmt.Printf("seqno %d, %d LVs\n", vg.Seqno, len(vg.LVs))

	if len(data) > 1 {
		printTextTable(data)
	}
}
