package main

import (
	"os"

	"github.com/urfave/cli/v2"

	"machinerun.io/lvmeta/lvmetad"
	"machinerun.io/lvmeta/textfmt"
)

//nolint:gochecknoglobals
var lvmetadCommands = cli.Command{
	Name:  "lvmetad",
	Usage: "metadata cache daemon commands",
	Subcommands: []*cli.Command{
		{
			Name:   "list",
			Usage:  "List the volume groups the daemon knows",
			Action: lvmetadList,
		},
		{
			Name:      "show",
			Usage:     "Print the daemon's metadata for a volume group id",
			ArgsUsage: "uuid",
			Action:    lvmetadShow,
		},
		{
			Name:      "push",
			Usage:     "Send the on-disk metadata of a volume group to the daemon",
			ArgsUsage: "device...",
			Action:    lvmetadPush,
			Flags:     []cli.Flag{vgFlag},
		},
	},
}

func (e *env) lvmetad() *lvmetad.Client {
	return lvmetad.New(e.cfg.LvmetadSocket, e.log)
}

func lvmetadList(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}

	ctx, cancel := e.context()
	defer cancel()

	refs, err := e.lvmetad().ListVGs(ctx)
	if err != nil {
		return err
	}

	data := [][]string{{"UUID", "Name"}}
	for _, r := range refs {
		data = append(data, []string{r.UUID, r.Name})
	}

	printTextTable(data)

	return nil
}

func lvmetadShow(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}

	ctx, cancel := e.context()
	defer cancel()

	vg, err := e.lvmetad().LookupVG(ctx, c.Args().First())
	if err != nil {
		return err
	}

	m := textfmt.NewMap()
	m.Set(vg.Name, textfmt.Nested(vg.ToTree()))
	os.Stdout.Write(textfmt.Encode(m))

	return nil
}

func lvmetadPush(c *cli.Context) error {
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

	res, err := load(ctx, e.engine(nil), c.String("vg"), s)
	if err != nil {
		return err
	}

	return e.lvmetad().UpdateVG(ctx, res.VG)
}
