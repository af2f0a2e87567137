package activate

import (
	"context"
	"sort"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"machinerun.io/lvmeta"
	"machinerun.io/lvmeta/dm"
	"machinerun.io/lvmeta/textfmt"
)

var extraComparer = cmp.Comparer(func(a, b *textfmt.Map) bool { return a.Equal(b) })

// Result describes a finished commit or activation.
type Result struct {
	VG    *lvmeta.VG
	State State

	// Written and Failed name the metadata copies by outcome.
	Written []string
	Failed  map[string]error

	// Devices maps each LV name to its mapped device.
	Devices map[string]lvmeta.Device
}

// Majority returns how many copies must be written for a commit of vg to
// count: more than half of the configured copies, where MetadataCopies
// configures them and zero means one per target.
func Majority(vg *lvmeta.VG, targets int) int {
	configured := int(vg.MetadataCopies)
	if configured == 0 {
		configured = targets
	}

	return configured/2 + 1
}

// Commit persists next, a modified copy of the volume group at next.Seqno,
// and activates it. prev is the metadata next was derived from, nil for a
// new group; it is only used to report segment changes.
func (e *Engine) Commit(ctx context.Context, prev, next *lvmeta.VG, targets []Target) (*Result, error) {
	log := e.Log.WithField("vg", next.Name)

	if err := ctx.Err(); err != nil {
		return nil, &ActivationError{State: StateNone, Op: "validate", Err: err}
	}

	if err := next.Validate(); err != nil {
		return nil, &ActivationError{State: StateNone, Op: "validate", Err: err}
	}

	if err := checkLayout(next, targets); err != nil {
		return nil, &ActivationError{State: StateNone, Op: "validate", Err: err}
	}

	log.WithField("state", StateValidated.String()).Info("metadata validated")

	committed, err := e.Ledger.Commit(next)
	if err != nil {
		return nil, &ActivationError{State: StateValidated, Op: "commit", Err: err}
	}

	log = log.WithField("seqno", committed.Seqno)

	if err := ctx.Err(); err != nil {
		e.Ledger.Abort(committed.Name, committed.Seqno)
		return nil, &ActivationError{State: StateValidated, Op: "persist", Err: err}
	}

	tree := lvmeta.DiskTree(committed, e.Hostname, e.now())
	written, failed := writeAll(tree, committed.Seqno, targets)

	for name, err := range failed {
		log.WithField("copy", name).WithError(err).Warn("metadata write failed")
	}

	res := &Result{VG: committed, State: StateValidated, Written: written, Failed: failed}

	if need := Majority(committed, len(targets)); len(written) < need {
		for name, err := range revertAll(targets, written) {
			log.WithField("copy", name).WithError(err).Error("aborted metadata left in place")
		}

		e.Ledger.Abort(committed.Name, committed.Seqno)

		return res, &ActivationError{
			State: StateValidated,
			Op:    "persist",
			Err:   errors.Wrapf(ErrNoMajority, "%d of %d needed, %s", len(written), need, describe(failed)),
		}
	}

	res.State = StatePersisted
	log.WithFields(logrus.Fields{"state": res.State.String(), "copies": len(written)}).Info("metadata persisted")

	if e.Channel == nil {
		return res, nil
	}

	if err := e.activate(ctx, prev, res); err != nil {
		return res, err
	}

	return res, nil
}

// Activate brings the kernel in line with vg without writing metadata.
// It is safe to repeat.
func (e *Engine) Activate(ctx context.Context, prev, vg *lvmeta.VG) (*Result, error) {
	if e.Channel == nil {
		return nil, errors.New("activate: no device-mapper channel")
	}

	res := &Result{VG: vg, State: StatePersisted}

	if err := e.activate(ctx, prev, res); err != nil {
		return res, err
	}

	return res, nil
}

func (e *Engine) activate(ctx context.Context, prev *lvmeta.VG, res *Result) error {
	vg := res.VG
	log := e.Log.WithFields(logrus.Fields{"vg": vg.Name, "seqno": vg.Seqno})

	fail := func(op string, err error) error {
		log.WithFields(logrus.Fields{"state": res.State.String(), "op": op}).WithError(err).Error("activation aborted")
		return &ActivationError{State: res.State, Op: op, Err: err}
	}

	live, err := e.Channel.ListDevices()
	if err != nil {
		return fail("list", err)
	}

	current := map[string]lvmeta.Device{}
	for _, d := range live {
		current[d.Name] = d.Device
	}

	res.Devices = map[string]lvmeta.Device{}

	for i := range vg.LVs {
		if err := ctx.Err(); err != nil {
			return fail("activate", err)
		}

		lv := &vg.LVs[i]

		dev, err := e.activateLV(prev, vg, lv, current)
		if err != nil {
			return fail("activate "+lv.Name, err)
		}

		res.Devices[lv.Name] = dev
	}

	for _, name := range staleDevices(vg, live) {
		if err := ctx.Err(); err != nil {
			return fail("activate", err)
		}

		log.WithField("dm_name", name).Info("removing device")

		if err := e.Channel.DeviceRemove(name); err != nil && !errors.Is(err, dm.ErrNoSuchDevice) {
			return fail("remove "+name, err)
		}
	}

	res.State = StateActivated
	log.WithField("state", res.State.String()).Info("devices activated")

	if err := ctx.Err(); err != nil {
		return fail("confirm", err)
	}

	if err := e.confirm(vg, res.Devices); err != nil {
		return fail("confirm", err)
	}

	res.State = StateConfirmed
	log.WithField("state", res.State.String()).Info("activation confirmed")

	return nil
}

// activateLV makes sure the kernel serves lv with its current table,
// loading and resuming only when the live table differs.
func (e *Engine) activateLV(prev, vg *lvmeta.VG, lv *lvmeta.LV, current map[string]lvmeta.Device) (lvmeta.Device, error) {
	name := lvmeta.DMName(vg.Name, lv.Name)
	log := e.Log.WithFields(logrus.Fields{"vg": vg.Name, "lv": lv.Name, "dm_name": name})

	lines, err := BuildTable(vg, lv)
	if err != nil {
		return lvmeta.Device{}, err
	}

	if prev != nil {
		if old, err := prev.LVByName(lv.Name); err == nil {
			if diff := cmp.Diff(old.Segments, lv.Segments, extraComparer); diff != "" {
				log.Debugf("segments changed:\n%s", diff)
			}
		}
	}

	dev, exists := current[name]

	if exists {
		table, err := e.Channel.TableStatus(name)
		if err != nil {
			return lvmeta.Device{}, err
		}

		if cmp.Equal(table, lines) {
			log.Debug("table unchanged")
			return dev, nil
		}
	} else {
		dev, err = e.Channel.DeviceCreate(name, lvmeta.DMUUID(vg.UUID, lv.UUID), lv.Device)
		if err != nil {
			return lvmeta.Device{}, err
		}

		current[name] = dev
	}

	if err := e.Channel.TableLoad(name, lines); err != nil {
		return dev, err
	}

	if _, err := e.Channel.TableResume(name); err != nil {
		return dev, err
	}

	log.WithField("device", dev.String()).Info("table loaded")

	return dev, nil
}

// staleDevices returns the mapped devices of vg whose LV is gone.
func staleDevices(vg *lvmeta.VG, live []dm.NamedDevice) []string {
	var names []string

	for _, d := range live {
		vgName, lvName, ok := lvmeta.SplitDMName(d.Name)
		if !ok || vgName != vg.Name {
			continue
		}

		if _, err := vg.LVByName(lvName); err != nil {
			names = append(names, d.Name)
		}
	}

	return names
}

// confirm checks that the kernel lists exactly the devices of vg.
func (e *Engine) confirm(vg *lvmeta.VG, want map[string]lvmeta.Device) error {
	live, err := e.Channel.ListDevices()
	if err != nil {
		return err
	}

	expected := map[string]lvmeta.Device{}
	for lv, dev := range want {
		expected[lvmeta.DMName(vg.Name, lv)] = dev
	}

	got := map[string]lvmeta.Device{}

	for _, d := range live {
		if vgName, _, ok := lvmeta.SplitDMName(d.Name); ok && vgName == vg.Name {
			got[d.Name] = d.Device
		}
	}

	if diff := cmp.Diff(expected, got); diff != "" {
		return errors.Wrapf(ErrUnconfirmed, "%s (-want +got):\n%s", vg.Name, diff)
	}

	return nil
}

func describe(failed map[string]error) string {
	if len(failed) == 0 {
		return "no failures"
	}

	names := make([]string, 0, len(failed))
	for n := range failed {
		names = append(names, n)
	}

	sort.Strings(names)

	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = n + ": " + failed[n].Error()
	}

	return strings.Join(parts, "; ")
}
