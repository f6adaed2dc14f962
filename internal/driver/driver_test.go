package driver_test

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/mmheap"
	"github.com/vkngwrapper/mmheap/brk"
	"github.com/vkngwrapper/mmheap/heap"
	"github.com/vkngwrapper/mmheap/internal/driver"
	"github.com/vkngwrapper/mmheap/internal/trace"
)

func parse(t *testing.T, input string) *trace.Trace {
	tr, err := trace.Parse(strings.NewReader(input))
	require.NoError(t, err)
	return tr
}

func newHeap(t *testing.T, options heap.CreateOptions) *heap.Heap {
	h, err := heap.New(nil, options)
	require.NoError(t, err)
	return h
}

func TestReplay(t *testing.T) {
	tr := parse(t, `4096
2
5
1
a 0 512
a 1 128
r 0 640
f 1
f 0
`)
	h := newHeap(t, heap.CreateOptions{})

	result, err := driver.Replay(h, tr, driver.Options{Check: true})
	require.NoError(t, err)
	require.Equal(t, 5, result.Ops)
	require.Equal(t, 768, result.PeakPayload)
	require.Equal(t, 16+heap.DefaultChunkSize, result.HeapSize)
	require.InDelta(t, 768.0/4112.0, result.Utilization(), 1e-9)

	require.Equal(t, 0, result.Statistics.AllocationCount)
	require.Equal(t, 1, result.Statistics.FreeBlockCount)
}

func TestReplayReallocInPlace(t *testing.T) {
	tr := parse(t, `0
1
4
1
a 0 16
r 0 32
r 0 8
f 0
`)
	h := newHeap(t, heap.CreateOptions{})

	result, err := driver.Replay(h, tr, driver.Options{Check: true})
	require.NoError(t, err)
	require.Equal(t, 4, result.Ops)
	require.Equal(t, 32, result.PeakPayload)
}

func TestReplayZeroSize(t *testing.T) {
	tr := parse(t, `0
2
5
1
a 0 0
a 1 24
r 1 0
f 0
f 1
`)
	h := newHeap(t, heap.CreateOptions{})

	result, err := driver.Replay(h, tr, driver.Options{Check: true})
	require.NoError(t, err)
	require.Equal(t, 5, result.Ops)
	require.Equal(t, 24, result.PeakPayload)
}

func TestReplayBadSequence(t *testing.T) {
	h := newHeap(t, heap.CreateOptions{})

	_, err := driver.Replay(h, parse(t, "0\n1\n1\n1\nf 0\n"), driver.Options{})
	require.True(t, errors.Is(err, driver.ErrBadSequence))

	result, err := driver.Replay(h, parse(t, "0\n1\n2\n1\na 0 8\na 0 8\n"), driver.Options{})
	require.True(t, errors.Is(err, driver.ErrBadSequence))
	require.Equal(t, 1, result.Ops)
}

func TestReplayOutOfMemory(t *testing.T) {
	h := newHeap(t, heap.CreateOptions{Grower: brk.NewRegion(16 + heap.DefaultChunkSize)})

	tr := parse(t, "0\n2\n3\n1\na 0 100\nr 0 8000\nf 0\n")
	result, err := driver.Replay(h, tr, driver.Options{Check: true})
	require.True(t, errors.Is(err, mmheap.ErrOutOfMemory))
	require.Equal(t, 1, result.Ops)
	require.Equal(t, 100, result.PeakPayload)
	require.Equal(t, 1, result.Statistics.AllocationCount)
}

func TestReplayRandomTrace(t *testing.T) {
	const numIDs = 200
	rng := rand.New(rand.NewSource(7))

	tr := &trace.Trace{NumIDs: numIDs, Weight: 1}
	live := make([]bool, numIDs)
	for line := 1; len(tr.Ops) < 4000; line++ {
		id := rng.Intn(numIDs)
		size := rng.Intn(2000)

		switch {
		case !live[id]:
			tr.Ops = append(tr.Ops, trace.Op{Kind: trace.OpAlloc, ID: id, Size: size, Line: line})
			live[id] = true
		case rng.Intn(3) == 0:
			tr.Ops = append(tr.Ops, trace.Op{Kind: trace.OpRealloc, ID: id, Size: size + 1, Line: line})
		default:
			tr.Ops = append(tr.Ops, trace.Op{Kind: trace.OpFree, ID: id, Line: line})
			live[id] = false
		}
	}

	h := newHeap(t, heap.CreateOptions{ChunkSize: 1024})
	result, err := driver.Replay(h, tr, driver.Options{Check: true})
	require.NoError(t, err)
	require.Equal(t, len(tr.Ops), result.Ops)
	require.Greater(t, result.Utilization(), 0.0)
	require.LessOrEqual(t, result.Utilization(), 1.0)
}
