//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package brk

import cerrors "github.com/cockroachdb/errors"

type Mapped struct {
	Region
}

// NewMapped always fails on this platform. Use NewRegion instead.
func NewMapped(maxSize int) (*Mapped, error) {
	return nil, cerrors.New("anonymous mappings are not supported on this platform")
}

func (m *Mapped) Close() error {
	return nil
}
