package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"machinerun.io/lvmeta/activate"
	"machinerun.io/lvmeta/config"
	"machinerun.io/lvmeta/dm"
	"machinerun.io/lvmeta/ledger"
	"machinerun.io/lvmeta/linux"
)

var version string

func printTextTable(data [][]string) {
	var lengths = make([]int, len(data[0]))

	for _, line := range data {
		for i, field := range line {
			if len(field) > lengths[i] {
				lengths[i] = len(field)
			}
		}
	}

	fmts := make([]string, len(lengths))

	for i, l := range lengths {
		fmts[i] = fmt.Sprintf("%%-%ds", l)
	}

	pfmt := strings.Join(fmts, " | ") + " |\n"

	for _, line := range data {
		s := make([]interface{}, len(line))
		for i, v := range line {
			s[i] = v
		}

		fmt.Printf(pfmt, s...)
	}
}

// env is what every command needs: the config with flag overrides applied
// and a logger at the configured level.
type env struct {
	cfg config.Config
	log *logrus.Entry
}

func setup(c *cli.Context) (*env, error) {
	var (
		cfg config.Config
		err error
	)

	if path := c.String("config"); path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load(nil)
	}

	if err != nil {
		return nil, err
	}

	if c.IsSet("dm-control") {
		cfg.DMControl = c.String("dm-control")
	}

	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}

	lvl, err := cfg.Level()
	if err != nil {
		return nil, err
	}

	log := logrus.New()
	log.SetLevel(lvl)
	log.SetOutput(os.Stderr)

	return &env{cfg: cfg, log: logrus.NewEntry(log)}, nil
}

func (e *env) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), e.cfg.ActivationTimeout)
}

// channel opens the device-mapper control node. The returned func closes
// it.
func (e *env) channel() (*dm.Channel, func(), error) {
	ctl, err := linux.OpenControl(e.cfg.DMControl)
	if err != nil {
		return nil, func() {}, err
	}

	ch := dm.New(ctl, e.log)

	if _, err := ch.CheckVersion(); err != nil {
		ctl.Close()
		return nil, func() {}, err
	}

	return ch, func() { ctl.Close() }, nil
}

func (e *env) engine(ch *dm.Channel) *activate.Engine {
	eng := activate.New(ch, ledger.New(), e.log)
	eng.Hostname = e.cfg.Hostname

	return eng
}

func main() {
	app := &cli.App{
		Name:    "lvmeta-demo",
		Version: version,
		Usage:   "Play around or test lvmeta",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "YAML config file",
			},
			&cli.StringFlag{
				Name:  "dm-control",
				Usage: "device-mapper control node",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "panic, fatal, error, warn, info, debug or trace",
			},
		},
		Commands: []*cli.Command{
			&pvCommands,
			&vgCommands,
			&lvCommands,
			&activateCommand,
			&dmCommands,
			&lvmetadCommands,
			&miscCommands,
		},
	}

	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}
