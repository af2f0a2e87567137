package ledger_test

import (
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"machinerun.io/lvmeta"
	"machinerun.io/lvmeta/ledger"
)

func vgAt(base *lvmeta.VG, seqno uint64) *lvmeta.VG {
	vg := base.Clone()
	vg.Seqno = seqno

	return vg
}

func TestResolveHighestWins(t *testing.T) {
	assert := assert.New(t)

	base := lvmeta.NewVG("vg0", 0)

	res, err := ledger.Resolve([]ledger.Copy{
		{Source: "a", VG: vgAt(base, 4)},
		{Source: "b", Err: errors.New("io error")},
		{Source: "c", VG: vgAt(base, 5)},
		{Source: "d", VG: vgAt(base, 5)},
		{Source: "e", VG: vgAt(base, 3)},
	})
	if !assert.NoError(err) {
		return
	}

	assert.Equal(uint64(5), res.Seqno)
	assert.Equal([]string{"a", "e"}, res.Stale)
	assert.Equal([]string{"b"}, res.Failed)
}

func TestResolveNoValid(t *testing.T) {
	_, err := ledger.Resolve([]ledger.Copy{
		{Source: "a", Err: errors.New("corrupt")},
		{Source: "b"},
	})
	assert.True(t, errors.Is(err, ledger.ErrNoValidMetadata))

	_, err = ledger.Resolve(nil)
	assert.True(t, errors.Is(err, ledger.ErrNoValidMetadata))
}

func TestResolveDivergent(t *testing.T) {
	base := lvmeta.NewVG("vg0", 0)
	other := vgAt(base, 2)
	other.MaxLV = 10

	_, err := ledger.Resolve([]ledger.Copy{
		{Source: "a", VG: vgAt(base, 2)},
		{Source: "b", VG: other},
		{Source: "c", VG: vgAt(base, 1)},
	})
	assert.True(t, errors.Is(err, ledger.ErrDivergentMetadata))
}

func TestCommit(t *testing.T) {
	assert := assert.New(t)

	l := ledger.New()
	base := lvmeta.NewVG("vg0", 0)

	next, err := l.Commit(base)
	if !assert.NoError(err) {
		return
	}

	assert.Equal(uint64(1), next.Seqno)
	assert.Equal(uint64(0), base.Seqno)

	rev, ok := l.Revision("vg0")
	assert.True(ok)
	assert.Equal(uint64(1), rev)

	// a second commit from the same base is stale
	_, err = l.Commit(base)
	assert.True(errors.Is(err, ledger.ErrStaleRevision))

	l.Abort("vg0", 1)

	rev, _ = l.Revision("vg0")
	assert.Equal(uint64(0), rev)

	_, err = l.Commit(base)
	assert.NoError(err)

	// resolving an older copy never moves the record back
	_, err = l.Resolve([]ledger.Copy{{Source: "a", VG: vgAt(base, 0)}})
	assert.NoError(err)

	rev, _ = l.Revision("vg0")
	assert.Equal(uint64(1), rev)

	assert.Equal([]string{"vg0"}, l.Names())
	l.Forget("vg0")
	_, ok = l.Revision("vg0")
	assert.False(ok)
}

func TestConcurrentCommits(t *testing.T) {
	assert := assert.New(t)

	l := ledger.New()
	base := lvmeta.NewVG("vg0", 0)

	_, err := l.Resolve([]ledger.Copy{{Source: "a", VG: base}})
	assert.NoError(err)

	var wg sync.WaitGroup

	errs := make([]error, 8)

	for i := range errs {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			_, errs[i] = l.Commit(base)
		}(i)
	}

	wg.Wait()

	ok := 0

	for _, err := range errs {
		if err == nil {
			ok++
		} else {
			assert.True(errors.Is(err, ledger.ErrStaleRevision))
		}
	}

	assert.Equal(1, ok)
}
