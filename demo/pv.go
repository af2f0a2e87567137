package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"machinerun.io/lvmeta"
	"machinerun.io/lvmeta/activate"
	"machinerun.io/lvmeta/linux"
	"machinerun.io/lvmeta/mda"
)

//nolint:gochecknoglobals
var pvCommands = cli.Command{
	Name:  "pv",
	Usage: "physical volume commands",
	Subcommands: []*cli.Command{
		{
			Name:      "init",
			Usage:     "Write a PV label and empty metadata areas",
			ArgsUsage: "device...",
			Action:    pvInit,
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "force",
					Usage: "Initialize even if a partition table is present",
				},
			},
		},
		{
			Name:      "show",
			Usage:     "Show the label of each PV",
			ArgsUsage: "device...",
			Action:    pvShow,
		},
	},
}

// pvSet is a group of opened PVs and their metadata copies.
type pvSet struct {
	devs    []*linux.BlockDevice
	labels  []*mda.Label
	targets []activate.Target
}

func (s *pvSet) Close() {
	for _, d := range s.devs {
		d.Close()
	}
}

// openPVs opens every path and reads its label.
func openPVs(paths []string) (*pvSet, error) {
	if len(paths) == 0 {
		return nil, errors.New("no devices given")
	}

	s := &pvSet{}

	for _, p := range paths {
		bd, err := linux.OpenBlockDevice(p)
		if err != nil {
			s.Close()
			return nil, err
		}

		s.devs = append(s.devs, bd)

		label, err := mda.ReadLabel(bd)
		if err != nil {
			s.Close()
			return nil, errors.Wrapf(err, "%s", p)
		}

		s.labels = append(s.labels, label)

		targets, err := activate.TargetsFor(p, bd)
		if err != nil {
			s.Close()
			return nil, err
		}

		s.targets = append(s.targets, targets...)
	}

	return s, nil
}

// PVs returns the model PV of each device, its extents filling the data
// area of its label.
func (s *pvSet) PVs(extentSize uint64) []lvmeta.PV {
	pvs := make([]lvmeta.PV, len(s.devs))

	for i, d := range s.devs {
		pvs[i] = labelPV(s.labels[i], d.Device, d.Sectors(), extentSize)
	}

	return pvs
}

func labelPV(label *mda.Label, dev lvmeta.Device, sectors, extentSize uint64) lvmeta.PV {
	start, end := label.DataSectors()

	return lvmeta.PV{
		UUID:    lvmeta.FormatUUID(label.UUID),
		Device:  dev,
		DevSize: sectors,
		PEStart: start,
		PECount: (end - start) / extentSize,
	}
}

func pvInit(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}

	if c.Args().Len() == 0 {
		return errors.New("no devices given")
	}

	for _, p := range c.Args().Slice() {
		if err := initOne(e, p, c.Bool("force")); err != nil {
			return err
		}
	}

	return nil
}

func initOne(e *env, path string, force bool) error {
	bd, err := linux.OpenBlockDevice(path)
	if err != nil {
		return err
	}
	defer bd.Close()

	if !force {
		if err := linux.CheckNoPartitionTable(bd); err != nil {
			return errors.Wrapf(err, "%s", path)
		}
	}

	raw, err := lvmeta.ParseUUID(lvmeta.NewUUID())
	if err != nil {
		return err
	}

	label, err := mda.Initialize(bd, bd.Size(), raw, e.cfg.MetadataAreaSize, e.cfg.MetadataCopies)
	if err != nil {
		return errors.Wrapf(err, "%s", path)
	}

	e.log.WithField("device", path).Info("physical volume initialized")
	fmt.Printf("%s: %s\n", path, lvmeta.FormatUUID(label.UUID))

	return nil
}

func pvShow(c *cli.Context) error {
	s, err := openPVs(c.Args().Slice())
	if err != nil {
		return err
	}
	defer s.Close()

	data := [][]string{{"Path", "Device", "UUID", "Size", "Data", "Metadata"}}

	for i, d := range s.devs {
		l := s.labels[i]

		data = append(data, []string{
			d.Path,
			d.Device.String(),
			lvmeta.FormatUUID(l.UUID),
			fmt.Sprintf("%d", l.DevSize),
			locns(l.DataAreas),
			locns(l.MetadataAreas),
		})
	}

	printTextTable(data)

	return nil
}

func locns(ls []mda.Locn) string {
	s := ""

	for i, l := range ls {
		if i > 0 {
			s += ","
		}

		s += fmt.Sprintf("%d+%d", l.Offset, l.Size)
	}

	return s
}
