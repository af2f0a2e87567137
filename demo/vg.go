package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"machinerun.io/lvmeta"
	"machinerun.io/lvmeta/activate"
	"machinerun.io/lvmeta/ledger"
	"machinerun.io/lvmeta/linux"
	"machinerun.io/lvmeta/textfmt"
)

//nolint:gochecknoglobals
var vgFlag = &cli.StringFlag{
	Name:     "vg",
	Usage:    "volume group name",
	Required: true,
}

//nolint:gochecknoglobals
var vgCommands = cli.Command{
	Name:  "vg",
	Usage: "volume group commands",
	Subcommands: []*cli.Command{
		{
			Name:      "create",
			Usage:     "Create a volume group on initialized PVs",
			ArgsUsage: "device...",
			Action:    vgCreate,
			Flags:     []cli.Flag{vgFlag},
		},
		{
			Name:      "dump",
			Usage:     "Print the current metadata of a volume group",
			ArgsUsage: "device...",
			Action:    vgDump,
			Flags: []cli.Flag{
				vgFlag,
				&cli.BoolFlag{
					Name:  "repair",
					Usage: "Rewrite stale metadata copies",
				},
			},
		},
	},
}

//nolint:gochecknoglobals
var lvCommands = cli.Command{
	Name:  "lv",
	Usage: "logical volume commands",
	Subcommands: []*cli.Command{
		{
			Name:      "create",
			Usage:     "Create and activate a logical volume",
			ArgsUsage: "device...",
			Action:    lvCreate,
			Flags: []cli.Flag{
				vgFlag,
				&cli.StringFlag{Name: "name", Required: true},
				&cli.Uint64Flag{Name: "size", Usage: "size in bytes, rounded up to extents"},
				&cli.Uint64Flag{Name: "extents"},
				&cli.IntFlag{Name: "stripes", Value: 1},
				&cli.Uint64Flag{Name: "stripe-size", Usage: "chunk size in sectors"},
			},
		},
		{
			Name:      "remove",
			Usage:     "Remove a logical volume and its mapping",
			ArgsUsage: "device...",
			Action:    lvRemove,
			Flags: []cli.Flag{
				vgFlag,
				&cli.StringFlag{Name: "name", Required: true},
			},
		},
	},
}

//nolint:gochecknoglobals
var activateCommand = cli.Command{
	Name:      "activate",
	Usage:     "Bring the device-mapper state in line with the metadata",
	ArgsUsage: "device...",
	Action:    vgActivate,
	Flags:     []cli.Flag{vgFlag},
}

func vgCreate(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}

	s, err := openPVs(c.Args().Slice())
	if err != nil {
		return err
	}
	defer s.Close()

	vg := lvmeta.NewVG(c.String("vg"), e.cfg.ExtentSize)

	for _, pv := range s.PVs(vg.ExtentSize) {
		if _, err := vg.AddPV(pv); err != nil {
			return err
		}
	}

	ctx, cancel := e.context()
	defer cancel()

	res, err := e.engine(nil).Commit(ctx, nil, vg, s.targets)
	if err != nil {
		return err
	}

	fmt.Printf("%s: %d extents on %d PVs, seqno %d\n",
		res.VG.Name, res.VG.Extents(), len(res.VG.PVs), res.VG.Seqno)

	for _, pv := range res.VG.PVs {
		fmt.Printf("  %s %s %s\n", pv.Name, pv.UUID, pv.Path(e.cfg.DeviceDir))
	}

	return nil
}

// load reads the named volume group from the PVs. The engine shares the
// ledger the group was resolved in, so a later Commit builds on it.
func load(ctx context.Context, eng *activate.Engine, name string, s *pvSet) (*ledger.Resolution, error) {
	res, err := eng.Load(ctx, name, s.targets)
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s", name)
	}

	return res, nil
}

func vgDump(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}

	s, err := openPVs(c.Args().Slice())
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := e.context()
	defer cancel()

	eng := e.engine(nil)

	res, err := load(ctx, eng, c.String("vg"), s)
	if err != nil {
		return err
	}

	if c.Bool("repair") {
		repaired, err := eng.Repair(ctx, res, s.targets)
		for _, r := range repaired {
			fmt.Fprintf(os.Stderr, "repaired %s\n", r)
		}

		if err != nil {
			return err
		}
	}

	m := textfmt.NewMap()
	m.Set(res.VG.Name, textfmt.Nested(res.VG.ToTree()))
	os.Stdout.Write(textfmt.Encode(m))

	return nil
}

// modify loads the volume group, applies fn to a copy and commits it.
func modify(c *cli.Context, fn func(vg *lvmeta.VG, e *env) error) (*activate.Result, error) {
	e, err := setup(c)
	if err != nil {
		return nil, err
	}

	s, err := openPVs(c.Args().Slice())
	if err != nil {
		return nil, err
	}
	defer s.Close()

	ch, closer, err := e.channel()
	if err != nil {
		return nil, err
	}
	defer closer()

	ctx, cancel := e.context()
	defer cancel()

	eng := e.engine(ch)

	res, err := load(ctx, eng, c.String("vg"), s)
	if err != nil {
		return nil, err
	}

	next := res.VG.Clone()
	if err := fn(next, e); err != nil {
		return nil, err
	}

	result, err := eng.Commit(ctx, res.VG, next, s.targets)
	if err != nil {
		var ae *activate.ActivationError
		if errors.As(err, &ae) && ae.Committed() {
			fmt.Fprintf(os.Stderr, "metadata committed; run '%s activate' to retry activation\n", c.App.Name)
		}

		return result, err
	}

	if err := linux.UdevSettle(); err != nil {
		e.log.WithError(err).Warn("udev settle failed")
	}

	return result, nil
}

func lvCreate(c *cli.Context) error {
	res, err := modify(c, func(vg *lvmeta.VG, e *env) error {
		extents := c.Uint64("extents")
		if size := c.Uint64("size"); size != 0 {
			extentBytes := vg.ExtentSize * lvmeta.SectorSize
			extents = linux.Ceiling(size, extentBytes) / extentBytes
		}

		if extents == 0 {
			return errors.New("one of --size or --extents is required")
		}

		now := time.Now().Unix()

		if stripes := c.Int("stripes"); stripes > 1 {
			_, err := vg.CreateStripedLV(c.String("name"), extents, stripes, c.Uint64("stripe-size"), e.cfg.Hostname, now)
			return err
		}

		_, err := vg.CreateLinearLV(c.String("name"), extents, e.cfg.Hostname, now)

		return err
	})
	if err != nil {
		return err
	}

	name := c.String("name")
	fmt.Printf("/dev/mapper/%s (%s) seqno %d\n",
		lvmeta.DMName(res.VG.Name, name), res.Devices[name], res.VG.Seqno)

	return nil
}

func lvRemove(c *cli.Context) error {
	res, err := modify(c, func(vg *lvmeta.VG, e *env) error {
		return vg.RemoveLV(c.String("name"))
	})
	if err != nil {
		return err
	}

	fmt.Printf("removed %s/%s, seqno %d\n", res.VG.Name, c.String("name"), res.VG.Seqno)

	return nil
}

func vgActivate(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}

	s, err := openPVs(c.Args().Slice())
	if err != nil {
		return err
	}
	defer s.Close()

	ch, closer, err := e.channel()
	if err != nil {
		return err
	}
	defer closer()

	ctx, cancel := e.context()
	defer cancel()

	eng := e.engine(ch)

	res, err := load(ctx, eng, c.String("vg"), s)
	if err != nil {
		return err
	}

	if _, err := eng.Repair(ctx, res, s.targets); err != nil {
		e.log.WithError(err).Warn("stale metadata not repaired")
	}

	result, err := eng.Activate(ctx, nil, res.VG)
	if err != nil {
		return err
	}

	data := [][]string{{"LV", "Mapper", "Device"}}
	for _, lv := range result.VG.LVs {
		data = append(data, []string{lv.Name, lvmeta.DMName(result.VG.Name, lv.Name), result.Devices[lv.Name].String()})
	}

	printTextTable(data)

	return nil
}
