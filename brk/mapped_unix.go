//go:build linux || darwin || freebsd || netbsd || openbsd

package brk

import (
	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// Mapped is a Region whose bytes live in a private anonymous mapping outside the Go heap. It must be
// closed when the heap built on it is no longer needed.
type Mapped struct {
	Region
}

var _ Grower = &Mapped{}

// NewMapped maps maxSize bytes of anonymous memory. A maxSize of 0 or less selects DefaultMaxHeap.
// The kernel only commits pages as the heap touches them.
func NewMapped(maxSize int) (*Mapped, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxHeap
	}

	data, err := unix.Mmap(-1, 0, maxSize,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE,
	)
	if err != nil {
		return nil, cerrors.Wrapf(err, "failed to map %d bytes", maxSize)
	}

	return &Mapped{Region: Region{data: data}}, nil
}

// Close unmaps the region. It is safe to call more than once.
func (m *Mapped) Close() error {
	if m.data == nil {
		return nil
	}

	err := unix.Munmap(m.data)
	m.data = nil
	m.brk = 0
	if err != nil {
		return cerrors.Wrap(err, "failed to unmap region")
	}

	return nil
}
