package heap_test

import (
	"encoding/json"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/mmheap"
	"github.com/vkngwrapper/mmheap/heap"
)

func TestAddStatistics(t *testing.T) {
	h := newHeap(t, heap.CreateOptions{})
	mustMalloc(t, h, 16)

	var stats mmheap.Statistics
	h.AddStatistics(&stats)
	require.Equal(t, mmheap.Statistics{
		HeapBytes:       16 + heap.DefaultChunkSize,
		AllocationCount: 1,
		AllocationBytes: 24,
		FreeBlockCount:  1,
		FreeBytes:       heap.DefaultChunkSize - 24,
	}, stats)

	// Sums rather than overwrites
	h.AddStatistics(&stats)
	require.Equal(t, 2, stats.AllocationCount)
	require.Equal(t, 48, stats.AllocationBytes)
}

func TestAddDetailedStatistics(t *testing.T) {
	h := newHeap(t, heap.CreateOptions{})
	a := mustMalloc(t, h, 16)
	mustMalloc(t, h, 100)
	mustMalloc(t, h, 40)
	h.Free(a)

	var stats mmheap.DetailedStatistics
	stats.Clear()
	h.AddDetailedStatistics(&stats)

	require.Equal(t, 2, stats.AllocationCount)
	require.Equal(t, 48, stats.AllocationSizeMin)
	require.Equal(t, 112, stats.AllocationSizeMax)
	require.Equal(t, 2, stats.FreeBlockCount)
	require.Equal(t, 24, stats.FreeBlockSizeMin)
	require.Equal(t, heap.DefaultChunkSize-184, stats.FreeBlockSizeMax)
	require.Equal(t, stats.HeapBytes-16, stats.AllocationBytes+stats.FreeBytes)
}

func TestVisitAllBlocksStopsOnError(t *testing.T) {
	h := newHeap(t, heap.CreateOptions{})
	mustMalloc(t, h, 16)
	mustMalloc(t, h, 16)

	stop := errors.New("stop")
	visited := 0
	err := h.VisitAllBlocks(func(p heap.Pointer, size int, free bool) error {
		visited++
		return stop
	})
	require.Equal(t, stop, err)
	require.Equal(t, 1, visited)
}

type detailedMap struct {
	TotalBytes   int
	UnusedBytes  int
	Allocations  int
	UnusedRanges int
	Blocks       []struct {
		Offset int
		Type   string
		Size   int
	}
	FreeList []int
}

func TestPrintDetailedMap(t *testing.T) {
	h := newHeap(t, heap.CreateOptions{})
	a := mustMalloc(t, h, 16)
	mustMalloc(t, h, 16)
	h.Free(a)

	writer := jwriter.NewWriter()
	h.PrintDetailedMap(&writer)
	require.NoError(t, writer.Error())

	var out detailedMap
	require.NoError(t, json.Unmarshal(writer.Bytes(), &out))

	require.Equal(t, 16+heap.DefaultChunkSize, out.TotalBytes)
	require.Equal(t, heap.DefaultChunkSize-24, out.UnusedBytes)
	require.Equal(t, 1, out.Allocations)
	require.Equal(t, 2, out.UnusedRanges)

	require.Len(t, out.Blocks, 3)
	require.Equal(t, 16, out.Blocks[0].Offset)
	require.Equal(t, "FREE", out.Blocks[0].Type)
	require.Equal(t, 24, out.Blocks[0].Size)
	require.Equal(t, "ALLOCATED", out.Blocks[1].Type)
	require.Equal(t, "FREE", out.Blocks[2].Type)

	// Most recently freed first
	require.Equal(t, []int{16, 64}, out.FreeList)
}

func TestPrintDetailedMapUninitialized(t *testing.T) {
	h, err := heap.New(nil, heap.CreateOptions{})
	require.NoError(t, err)

	writer := jwriter.NewWriter()
	h.PrintDetailedMap(&writer)

	var out detailedMap
	require.NoError(t, json.Unmarshal(writer.Bytes(), &out))
	require.Equal(t, 0, out.TotalBytes)
	require.Empty(t, out.Blocks)
	require.Empty(t, out.FreeList)
}
