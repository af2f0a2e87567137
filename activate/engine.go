// Package activate commits volume group metadata and brings the kernel's
// device-mapper state in line with it.
//
// A commit walks through Validated, Persisted, Activated and Confirmed. A
// failure before Persisted leaves the previous metadata on disk. A failure
// after it leaves the new metadata committed; running Activate again is
// the recovery, not another commit.
package activate

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"machinerun.io/lvmeta"
	"machinerun.io/lvmeta/dm"
	"machinerun.io/lvmeta/ledger"
	"machinerun.io/lvmeta/mda"
	"machinerun.io/lvmeta/textfmt"
)

// MetadataStore holds one redundant copy of a volume group's metadata.
// *mda.Area is one. Revert undoes the last successful Write.
type MetadataStore interface {
	Read() (*textfmt.Map, error)
	Write(tree *textfmt.Map, seqno uint64) error
	Revert() error
}

// Target is a named metadata copy. Label, when set, is the label of the
// PV holding it and bounds where that PV's extents may lie.
type Target struct {
	Name  string
	Area  MetadataStore
	Label *mda.Label
}

// checkLayout checks the extents of every PV of vg that carries one of the
// targets against that PV's label.
func checkLayout(vg *lvmeta.VG, targets []Target) error {
	for _, t := range targets {
		if t.Label == nil {
			continue
		}

		id := lvmeta.FormatUUID(t.Label.UUID)

		for _, pv := range vg.PVs {
			if pv.UUID != id {
				continue
			}

			if err := t.Label.CheckExtents(pv.PEStart, pv.PECount, vg.ExtentSize); err != nil {
				return errors.Wrapf(err, "volume group %s: physical volume %s", vg.Name, pv.Name)
			}
		}
	}

	return nil
}

// Engine runs commits and activations. Channel may be nil for an engine
// that only reads and writes metadata.
type Engine struct {
	Channel  *dm.Channel
	Ledger   *ledger.Ledger
	Log      *logrus.Entry
	Hostname string
	Now      func() time.Time
}

// New returns an Engine with the local hostname and clock.
func New(ch *dm.Channel, l *ledger.Ledger, log *logrus.Entry) *Engine {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	if l == nil {
		l = ledger.New()
	}

	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}

	return &Engine{Channel: ch, Ledger: l, Log: log, Hostname: host, Now: time.Now}
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}

	return e.Now()
}

// Load reads every target concurrently and resolves the copies through the
// ledger. A non-empty name rejects copies of other volume groups.
func (e *Engine) Load(ctx context.Context, name string, targets []Target) (*ledger.Resolution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	copies := make([]ledger.Copy, len(targets))

	var wg sync.WaitGroup

	for i, t := range targets {
		wg.Add(1)

		go func(i int, t Target) {
			defer wg.Done()

			copies[i] = readCopy(name, t)
		}(i, t)
	}

	wg.Wait()

	for _, c := range copies {
		if c.Err != nil {
			e.Log.WithFields(logrus.Fields{"vg": name, "copy": c.Source}).WithError(c.Err).Warn("metadata copy unreadable")
		}
	}

	res, err := e.Ledger.Resolve(copies)
	if err != nil {
		return nil, err
	}

	log := e.Log.WithFields(logrus.Fields{"vg": res.VG.Name, "seqno": res.Seqno})

	for _, s := range res.Stale {
		log.WithField("copy", s).Warn("metadata copy is stale")
	}

	log.Debug("metadata loaded")

	return res, nil
}

func readCopy(name string, t Target) ledger.Copy {
	c := ledger.Copy{Source: t.Name}

	tree, err := t.Area.Read()
	if err != nil {
		c.Err = err
		return c
	}

	vg, err := lvmeta.VGFromDiskTree(tree)
	if err != nil {
		c.Err = err
		return c
	}

	if name != "" && vg.Name != name {
		c.Err = errors.Errorf("%s holds volume group %s, not %s", t.Name, vg.Name, name)
		return c
	}

	if err := checkLayout(vg, []Target{t}); err != nil {
		c.Err = err
		return c
	}

	c.VG = vg

	return c
}

// Repair rewrites the stale copies of res with the winning metadata.
// Failed copies are left alone. It returns the names of the copies
// rewritten.
func (e *Engine) Repair(ctx context.Context, res *ledger.Resolution, targets []Target) ([]string, error) {
	stale := map[string]bool{}
	for _, s := range res.Stale {
		stale[s] = true
	}

	var repair []Target

	for _, t := range targets {
		if stale[t.Name] {
			repair = append(repair, t)
		}
	}

	if len(repair) == 0 {
		return nil, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tree := lvmeta.DiskTree(res.VG, e.Hostname, e.now())
	written, failed := writeAll(tree, res.Seqno, repair)

	for name, err := range failed {
		e.Log.WithFields(logrus.Fields{"vg": res.VG.Name, "copy": name}).WithError(err).Warn("repair failed")
	}

	if len(failed) > 0 {
		return written, errors.Errorf("%s: %d of %d stale copies not repaired", res.VG.Name, len(failed), len(repair))
	}

	return written, nil
}

// writeAll writes tree to every target concurrently and waits for all of
// them. It returns the names written, in target order, and the errors of
// the rest.
func writeAll(tree *textfmt.Map, seqno uint64, targets []Target) ([]string, map[string]error) {
	errs := make([]error, len(targets))

	var wg sync.WaitGroup

	for i, t := range targets {
		wg.Add(1)

		go func(i int, t Target) {
			defer wg.Done()

			errs[i] = t.Area.Write(tree, seqno)
		}(i, t)
	}

	wg.Wait()

	written := []string{}
	failed := map[string]error{}

	for i, t := range targets {
		if errs[i] != nil {
			failed[t.Name] = errs[i]
		} else {
			written = append(written, t.Name)
		}
	}

	return written, failed
}

// revertAll undoes the writes of a commit that missed its majority so the
// copies written hold the previous metadata again. It returns the names it
// could not revert.
func revertAll(targets []Target, written []string) map[string]error {
	undo := map[string]bool{}
	for _, name := range written {
		undo[name] = true
	}

	failed := map[string]error{}

	for _, t := range targets {
		if !undo[t.Name] {
			continue
		}

		if err := t.Area.Revert(); err != nil {
			failed[t.Name] = err
		}
	}

	return failed
}
