package mockos

import (
	"io"
	"sync"

	"github.com/pkg/errors"

	"machinerun.io/lvmeta"
)

// ErrInjected is returned by writes failed on purpose.
var ErrInjected = errors.New("injected write failure")

const pageSize = 4096

// MemDisk is a sparse in-memory block device. Pages never written read as
// zeros. Writes can be made to fail after a number of successful ones to
// simulate I/O errors or a crash.
type MemDisk struct {
	Name   string
	Device lvmeta.Device

	mu         sync.Mutex
	size       uint64
	pages      map[uint64][]byte
	writesLeft int
	writes     int
	syncs      int
}

// NewMemDisk returns a zero filled disk of size bytes.
func NewMemDisk(name string, dev lvmeta.Device, size uint64) *MemDisk {
	return &MemDisk{Name: name, Device: dev, size: size, pages: map[uint64][]byte{}, writesLeft: -1}
}

// Size returns the disk size in bytes.
func (d *MemDisk) Size() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.size
}

// page returns the page holding off, allocating it when alloc is set.
func (d *MemDisk) page(off uint64, alloc bool) []byte {
	p, ok := d.pages[off/pageSize]
	if !ok && alloc {
		p = make([]byte, pageSize)
		d.pages[off/pageSize] = p
	}

	return p
}

// copyAt moves bytes between p and the disk starting at off.
func (d *MemDisk) copyAt(p []byte, off uint64, write bool) {
	for done := 0; done < len(p); {
		at := off + uint64(done)
		pg := d.page(at, write)
		in := int(at % pageSize)
		n := pageSize - in

		if n > len(p)-done {
			n = len(p) - done
		}

		switch {
		case write:
			copy(pg[in:in+n], p[done:done+n])
		case pg == nil:
			for i := done; i < done+n; i++ {
				p[i] = 0
			}
		default:
			copy(p[done:done+n], pg[in:in+n])
		}

		done += n
	}
}

// ReadAt implements io.ReaderAt.
func (d *MemDisk) ReadAt(p []byte, off int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if off < 0 || uint64(off) >= d.size {
		return 0, io.EOF
	}

	n := len(p)
	if left := d.size - uint64(off); uint64(n) > left {
		n = int(left)
	}

	d.copyAt(p[:n], uint64(off), false)

	if n < len(p) {
		return n, io.EOF
	}

	return n, nil
}

// WriteAt implements io.WriterAt.
func (d *MemDisk) WriteAt(p []byte, off int64) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.writesLeft == 0 {
		return 0, errors.Wrapf(ErrInjected, "%s: write at %d", d.Name, off)
	}

	if off < 0 || uint64(off)+uint64(len(p)) > d.size {
		return 0, errors.Errorf("%s: write of %d bytes at %d beyond end %d", d.Name, len(p), off, d.size)
	}

	if d.writesLeft > 0 {
		d.writesLeft--
	}

	d.writes++

	d.copyAt(p, uint64(off), true)

	return len(p), nil
}

// Sync counts flushes.
func (d *MemDisk) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.syncs++

	return nil
}

// FailAfter lets n more writes succeed and fails every later one. A
// negative n removes the limit.
func (d *MemDisk) FailAfter(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.writesLeft = n
}

// Flip inverts the byte at off.
func (d *MemDisk) Flip(off uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.page(off, true)[off%pageSize] ^= 0xff
}

// Writes returns the number of successful writes and syncs so far.
func (d *MemDisk) Writes() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.writes, d.syncs
}
