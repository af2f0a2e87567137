// Package ledger orders volume group metadata revisions. It picks the
// authoritative copy among the redundant metadata areas and detects commits
// made from a stale base revision.
package ledger

import (
	"sort"
	"sync"

	"github.com/google/go-cmp/cmp"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"

	"machinerun.io/lvmeta"
	"machinerun.io/lvmeta/textfmt"
)

var (
	// ErrNoValidMetadata - every copy failed to read or validate.
	ErrNoValidMetadata = errors.New("no valid metadata copy")

	// ErrDivergentMetadata - valid copies share the winning seqno but differ.
	ErrDivergentMetadata = errors.New("metadata copies differ at the same seqno")

	// ErrStaleRevision - a commit's base seqno is no longer the latest.
	ErrStaleRevision = errors.New("stale metadata revision")
)

// Copy is the outcome of reading one redundant metadata copy: either VG is
// set or Err is.
type Copy struct {
	Source string
	VG     *lvmeta.VG
	Err    error
}

// Resolution is the result of reducing a set of copies.
type Resolution struct {
	VG    *lvmeta.VG
	Seqno uint64

	// Stale lists the sources holding an older seqno. They are out-ranked
	// and can be rewritten with VG.
	Stale []string

	// Failed lists the sources that could not be read.
	Failed []string
}

var extraComparer = cmp.Comparer(func(a, b *textfmt.Map) bool { return a.Equal(b) })

// Resolve discards failed copies and returns the one with the highest
// seqno.
func Resolve(copies []Copy) (*Resolution, error) {
	res := &Resolution{}

	var winners []Copy

	for _, c := range copies {
		switch {
		case c.Err != nil || c.VG == nil:
			res.Failed = append(res.Failed, c.Source)
		case len(winners) == 0 || c.VG.Seqno > winners[0].VG.Seqno:
			for _, w := range winners {
				res.Stale = append(res.Stale, w.Source)
			}

			winners = []Copy{c}
		case c.VG.Seqno == winners[0].VG.Seqno:
			winners = append(winners, c)
		default:
			res.Stale = append(res.Stale, c.Source)
		}
	}

	if len(winners) == 0 {
		return nil, errors.Wrapf(ErrNoValidMetadata, "%d copies failed", len(res.Failed))
	}

	for _, w := range winners[1:] {
		if !cmp.Equal(winners[0].VG, w.VG, extraComparer) {
			return nil, errors.Wrapf(ErrDivergentMetadata, "seqno %d: %s and %s:\n%s",
				w.VG.Seqno, winners[0].Source, w.Source,
				cmp.Diff(winners[0].VG, w.VG, extraComparer))
		}
	}

	res.VG = winners[0].VG
	res.Seqno = res.VG.Seqno

	return res, nil
}

// Ledger remembers the latest resolved or committed seqno of each volume
// group in this process.
type Ledger struct {
	mu        sync.Mutex
	revisions *cache.Cache
}

// New returns an empty Ledger.
func New() *Ledger {
	return &Ledger{revisions: cache.New(cache.NoExpiration, 0)}
}

// Resolve reduces copies like the package level Resolve and records the
// winning seqno for the volume group, never moving a record backwards.
func (l *Ledger) Resolve(copies []Copy) (*Resolution, error) {
	res, err := Resolve(copies)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if cur, ok := l.get(res.VG.Name); !ok || res.Seqno > cur {
		l.revisions.Set(res.VG.Name, res.Seqno, cache.NoExpiration)
	}

	return res, nil
}

// Commit claims the revision after vg.Seqno. It fails with ErrStaleRevision
// unless vg.Seqno is the latest recorded revision of the group; a group
// without a record is accepted as is. The returned copy carries the new
// seqno and becomes the recorded revision.
func (l *Ledger) Commit(vg *lvmeta.VG) (*lvmeta.VG, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cur, ok := l.get(vg.Name); ok && cur != vg.Seqno {
		return nil, errors.Wrapf(ErrStaleRevision, "%s: base seqno %d, latest %d", vg.Name, vg.Seqno, cur)
	}

	next := vg.Clone()
	next.Seqno = vg.Seqno + 1
	l.revisions.Set(vg.Name, next.Seqno, cache.NoExpiration)

	return next, nil
}

// Abort undoes the Commit that produced seqno, if it is still the latest.
func (l *Ledger) Abort(name string, seqno uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if cur, ok := l.get(name); ok && cur == seqno && seqno > 0 {
		l.revisions.Set(name, seqno-1, cache.NoExpiration)
	}
}

// Revision returns the recorded seqno of the named group.
func (l *Ledger) Revision(name string) (uint64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.get(name)
}

// Forget drops the record of the named group.
func (l *Ledger) Forget(name string) {
	l.revisions.Delete(name)
}

// Names lists the groups with a record.
func (l *Ledger) Names() []string {
	items := l.revisions.Items()
	names := make([]string, 0, len(items))

	for name := range items {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

func (l *Ledger) get(name string) (uint64, bool) {
	v, ok := l.revisions.Get(name)
	if !ok {
		return 0, false
	}

	return v.(uint64), true
}
