package heap

import (
	"bytes"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

func newTestHeap(t *testing.T) *Heap {
	h, err := New(nil, CreateOptions{})
	require.NoError(t, err)
	require.NoError(t, h.Init())
	return h
}

func testMalloc(t *testing.T, h *Heap, size int) int {
	p, err := h.Malloc(size)
	require.NoError(t, err)
	return int(p)
}

func requireViolations(t *testing.T, report Report, check CheckFlags, offsets ...int) {
	var found []int
	for _, violation := range report.Violations {
		require.Equal(t, check, violation.Check, violation.Error())
		found = append(found, violation.Offset)
	}
	require.Equal(t, offsets, found)
}

func TestCheckCleanHeap(t *testing.T) {
	h := newTestHeap(t)
	a := testMalloc(t, h, 16)
	testMalloc(t, h, 100)
	h.Free(Pointer(a))

	report := h.Check(CheckAll)
	require.True(t, report.OK())
	require.Equal(t, CheckAll, report.Checks)
	require.NoError(t, report.Err())
}

func TestCheckUninitialized(t *testing.T) {
	h, err := New(nil, CreateOptions{})
	require.NoError(t, err)

	report := h.Check(CheckAll)
	require.True(t, report.OK())
}

func TestCheckBoundaryTags(t *testing.T) {
	h := newTestHeap(t)
	a := testMalloc(t, h, 16)
	h.setWord(h.footer(a), pack(32, true))

	requireViolations(t, h.Check(CheckBoundaryTags), CheckBoundaryTags, a)
	require.True(t, h.Check(CheckFreeListMarkedFree|CheckFreeBlocksListed).OK())
	require.False(t, h.Check(CheckBoundaryTags).OK())
	require.True(t, errors.Is(h.Check(CheckBoundaryTags).Err(), ErrHeapCorrupted))
}

func TestCheckPrologue(t *testing.T) {
	h := newTestHeap(t)
	h.setWord(header(h.prologue()), pack(16, true))

	requireViolations(t, h.Check(CheckBoundaryTags), CheckBoundaryTags, h.prologue())
}

func TestCheckFreeListMarkedFree(t *testing.T) {
	h := newTestHeap(t)
	first := h.firstBlock()
	h.writeTags(first, h.blockSize(first), true)

	requireViolations(t, h.Check(CheckFreeListMarkedFree), CheckFreeListMarkedFree, first)
	require.True(t, h.Check(CheckFreeBlocksListed).OK())
}

func TestCheckNoContiguousFree(t *testing.T) {
	h := newTestHeap(t)
	a := testMalloc(t, h, 16)
	b := testMalloc(t, h, 16)
	testMalloc(t, h, 16)

	// Mark both free without touching the list or coalescing
	h.writeTags(a, 24, false)
	h.writeTags(b, 24, false)

	requireViolations(t, h.Check(CheckNoContiguousFree), CheckNoContiguousFree, b)
	requireViolations(t, h.Check(CheckFreeBlocksListed), CheckFreeBlocksListed, a, b)
	require.True(t, h.Check(CheckBoundaryTags|CheckFreeListLinks).OK())
}

func TestCheckFreeListBackLink(t *testing.T) {
	h := newTestHeap(t)
	a := testMalloc(t, h, 16)
	b := testMalloc(t, h, 16)
	testMalloc(t, h, 16)
	h.Free(Pointer(a))

	tail := h.nextFree(h.root)
	require.Equal(t, a, h.root)
	h.setWord(tail, uint32(b))

	requireViolations(t, h.Check(CheckFreeListLinks), CheckFreeListLinks, tail)
	require.True(t, h.Check(CheckHeapBounds).OK())
}

func TestCheckFreeListCycle(t *testing.T) {
	h := newTestHeap(t)
	a := testMalloc(t, h, 16)
	testMalloc(t, h, 16)
	h.Free(Pointer(a))

	tail := h.nextFree(h.root)
	h.setWord(tail+wordSize, uint32(h.root))

	requireViolations(t, h.Check(CheckFreeListLinks), CheckFreeListLinks, a)
}

func TestCheckForgedFreeBlock(t *testing.T) {
	h := newTestHeap(t)
	a := testMalloc(t, h, 100)
	tail := h.root

	// Forge a free block inside a's payload and link it after the real free block
	forged := a + 24
	h.setWord(header(forged), pack(32, false))
	h.setLinks(forged, tail, 0)
	h.setWord(tail+wordSize, uint32(forged))

	requireViolations(t, h.Check(CheckFreeListLinks), CheckFreeListLinks, forged)
	requireViolations(t, h.Check(CheckNoOverlap), CheckNoOverlap, forged)
	require.True(t, h.Check(CheckFreeListMarkedFree).OK())
}

func TestCheckBlockPastBreak(t *testing.T) {
	h := newTestHeap(t)
	a := testMalloc(t, h, 16)
	h.setWord(header(a), pack(8192, true))

	requireViolations(t, h.Check(CheckHeapBounds), CheckHeapBounds, a)
}

func TestCheckRootOutOfBounds(t *testing.T) {
	h := newTestHeap(t)
	h.root = 1 << 20

	report := h.Check(CheckHeapBounds)
	requireViolations(t, report, CheckHeapBounds, 1<<20, 1<<20)

	report = h.Check(CheckFreeBlocksListed)
	requireViolations(t, report, CheckFreeBlocksListed, h.firstBlock())
}

func TestCheckReservedBits(t *testing.T) {
	h := newTestHeap(t)
	a := testMalloc(t, h, 16)

	tag := pack(24, true) | 0x2
	h.setWord(header(a), tag)
	h.setWord(h.footer(a), tag)

	requireViolations(t, h.Check(CheckAlignment), CheckAlignment, a)
	require.True(t, h.Check(CheckBoundaryTags|CheckNoOverlap).OK())
}

func TestValidateLogsAndMarks(t *testing.T) {
	var buf bytes.Buffer
	h, err := New(slog.New(slog.NewTextHandler(&buf)), CreateOptions{})
	require.NoError(t, err)
	require.NoError(t, h.Init())

	a := testMalloc(t, h, 16)
	h.setWord(h.footer(a), pack(32, true))

	err = h.Validate()
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrHeapCorrupted))
	require.Contains(t, buf.String(), "heap consistency violation")
	require.Contains(t, buf.String(), "CheckBoundaryTags")
}

func TestCheckFlagsString(t *testing.T) {
	require.Equal(t, "CheckFreeListLinks", CheckFreeListLinks.String())
	require.Equal(t, "CheckFreeListLinks|CheckAlignment", (CheckFreeListLinks | CheckAlignment).String())
	require.Equal(t, "CheckFreeListMarkedFree|CheckNoContiguousFree|CheckFreeBlocksListed|CheckFreeListLinks|"+
		"CheckNoOverlap|CheckHeapBounds|CheckBoundaryTags|CheckAlignment", CheckAll.String())
}

func TestFreeListPanicsOnCorruption(t *testing.T) {
	h := newTestHeap(t)
	a := testMalloc(t, h, 16)

	require.Panics(t, func() { h.removeFree(a) })
	require.Panics(t, func() { h.insertFree(h.root) })

	h.root = 1 << 20
	require.Panics(t, func() { h.findFit(16) })
}
