//go:build linux || darwin || freebsd || netbsd || openbsd

package brk_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/mmheap"
	"github.com/vkngwrapper/mmheap/brk"
)

func TestMappedGrow(t *testing.T) {
	mapped, err := brk.NewMapped(1 << 16)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, mapped.Close())
	}()

	start, err := mapped.Grow(4096)
	require.NoError(t, err)
	require.Equal(t, 0, start)

	data := mapped.Bytes()
	require.Len(t, data, 4096)
	data[0] = 1
	data[4095] = 2
	require.Equal(t, byte(2), mapped.Bytes()[4095])

	_, err = mapped.Grow(1 << 16)
	require.True(t, errors.Is(err, mmheap.ErrOutOfMemory))
}

func TestMappedCloseTwice(t *testing.T) {
	mapped, err := brk.NewMapped(4096)
	require.NoError(t, err)

	require.NoError(t, mapped.Close())
	require.NoError(t, mapped.Close())
}
