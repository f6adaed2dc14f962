package heap

import (
	"context"
	"fmt"
	"sort"
	"strings"

	cerrors "github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"golang.org/x/exp/slog"
)

// ErrHeapCorrupted marks every error returned from Report.Err and Heap.Validate
var ErrHeapCorrupted = cerrors.New("heap consistency check failed")

// CheckFlags selects the consistency checks run by Heap.Check. Each check is independent and can
// be enabled on its own.
type CheckFlags uint32

const (
	// CheckFreeListMarkedFree verifies that every block in the free list is marked free
	CheckFreeListMarkedFree CheckFlags = 1 << iota
	// CheckNoContiguousFree verifies that no two physically adjacent blocks are both free
	CheckNoContiguousFree
	// CheckFreeBlocksListed verifies that every free block in the heap is reachable from the free list
	CheckFreeBlocksListed
	// CheckFreeListLinks verifies that free list links point at the start of a block, that back
	// links agree with forward links and that the list has no cycle
	CheckFreeListLinks
	// CheckNoOverlap verifies that no two blocks, whether reached physically or through the free
	// list, share any bytes
	CheckNoOverlap
	// CheckHeapBounds verifies that every tag, link and the list root lie within the heap, and that
	// the epilogue sits at the break
	CheckHeapBounds
	// CheckBoundaryTags verifies that every block's header equals its footer and that the prologue
	// and epilogue are well formed
	CheckBoundaryTags
	// CheckAlignment verifies that every payload offset and block size is aligned, that no reserved
	// tag bits are set and that no block is smaller than MinBlockSize
	CheckAlignment

	CheckAll = CheckFreeListMarkedFree |
		CheckNoContiguousFree |
		CheckFreeBlocksListed |
		CheckFreeListLinks |
		CheckNoOverlap |
		CheckHeapBounds |
		CheckBoundaryTags |
		CheckAlignment
)

var checkFlagsMapping = map[CheckFlags]string{
	CheckFreeListMarkedFree: "CheckFreeListMarkedFree",
	CheckNoContiguousFree:   "CheckNoContiguousFree",
	CheckFreeBlocksListed:   "CheckFreeBlocksListed",
	CheckFreeListLinks:      "CheckFreeListLinks",
	CheckNoOverlap:          "CheckNoOverlap",
	CheckHeapBounds:         "CheckHeapBounds",
	CheckBoundaryTags:       "CheckBoundaryTags",
	CheckAlignment:          "CheckAlignment",
}

func (f CheckFlags) String() string {
	if name, ok := checkFlagsMapping[f]; ok {
		return name
	}

	var names []string
	for flag := CheckFreeListMarkedFree; flag <= CheckAlignment; flag <<= 1 {
		if f&flag != 0 {
			names = append(names, checkFlagsMapping[flag])
		}
	}
	return strings.Join(names, "|")
}

// Violation is a single problem found by a consistency check
type Violation struct {
	// Check is the check that found the problem
	Check CheckFlags
	// Offset is the heap offset the problem was found at: usually a block's payload offset
	Offset  int
	Message string
}

func (v Violation) Error() string {
	return fmt.Sprintf("%s: offset %d: %s", v.Check, v.Offset, v.Message)
}

// Report is the result of Heap.Check
type Report struct {
	// Checks is the set of checks that were run
	Checks     CheckFlags
	Violations []Violation
}

// OK returns true if no violations were found
func (r Report) OK() bool {
	return len(r.Violations) == 0
}

// Err combines every violation into a single error marked with ErrHeapCorrupted, or returns nil
// if there were none
func (r Report) Err() error {
	var err error
	for _, violation := range r.Violations {
		err = cerrors.CombineErrors(err, violation)
	}

	if err == nil {
		return nil
	}

	return cerrors.Mark(err, ErrHeapCorrupted)
}

func (r *Report) add(check CheckFlags, offset int, format string, args ...any) {
	r.Violations = append(r.Violations, Violation{
		Check:   check,
		Offset:  offset,
		Message: fmt.Sprintf(format, args...),
	})
}

type scannedBlock struct {
	bp     int
	size   int
	header uint32
	footer uint32
}

func (b scannedBlock) free() bool {
	return !tagAllocated(b.header)
}

type boundsProblem struct {
	offset  int
	message string
}

// heapScan is a single read-only pass over the heap shared by every check. It never follows a
// tag or link without checking it against the break first, so it is safe on a corrupted heap.
type heapScan struct {
	blocks []scannedBlock
	// starts maps a block's payload offset to its index in blocks
	starts *swiss.Map[int, int]

	list []int
	// listed maps a free list entry to its index in list
	listed    *swiss.Map[int, int]
	listCycle int

	epilogue      int
	epilogueFound bool

	boundsProblems []boundsProblem
}

func (s *heapScan) outOfBounds(offset int, format string, args ...any) {
	s.boundsProblems = append(s.boundsProblems, boundsProblem{offset: offset, message: fmt.Sprintf(format, args...)})
}

func (h *Heap) scan() *heapScan {
	s := &heapScan{
		starts: swiss.NewMap[int, int](64),
		listed: swiss.NewMap[int, int](16),
	}
	limit := len(h.data)

	for bp := h.firstBlock(); ; {
		if header(bp)+wordSize > limit {
			s.outOfBounds(header(bp), "block header lies past the break at %d", limit)
			break
		}

		tag := h.word(header(bp))
		size := tagSize(tag)
		if size == 0 {
			s.epilogue = header(bp)
			s.epilogueFound = true
			break
		}

		if bp+size > limit {
			s.outOfBounds(bp, "block of size %d extends past the break at %d", size, limit)
			break
		}

		s.starts.Put(bp, len(s.blocks))
		s.blocks = append(s.blocks, scannedBlock{
			bp:     bp,
			size:   size,
			header: tag,
			footer: h.word(bp + size - doubleWordSize),
		})
		bp += size
	}

	for bp := h.root; bp != 0; {
		if _, seen := s.listed.Get(bp); seen {
			s.listCycle = bp
			break
		}

		if !h.isBlockOffset(bp) {
			s.outOfBounds(bp, "free list entry lies outside the heap")
			break
		}

		s.listed.Put(bp, len(s.list))
		s.list = append(s.list, bp)
		bp = h.nextFree(bp)
	}

	return s
}

type checkPass struct {
	check CheckFlags
	run   func(h *Heap, s *heapScan, r *Report)
}

var checkPasses = []checkPass{
	{check: CheckFreeListMarkedFree, run: checkFreeListMarkedFree},
	{check: CheckNoContiguousFree, run: checkNoContiguousFree},
	{check: CheckFreeBlocksListed, run: checkFreeBlocksListed},
	{check: CheckFreeListLinks, run: checkFreeListLinks},
	{check: CheckNoOverlap, run: checkNoOverlap},
	{check: CheckHeapBounds, run: checkHeapBounds},
	{check: CheckBoundaryTags, run: checkBoundaryTags},
	{check: CheckAlignment, run: checkAlignment},
}

func checkFreeListMarkedFree(h *Heap, s *heapScan, r *Report) {
	for _, bp := range s.list {
		if h.isAllocated(bp) {
			r.add(CheckFreeListMarkedFree, bp, "block in the free list is marked allocated")
		}
	}
}

func checkNoContiguousFree(h *Heap, s *heapScan, r *Report) {
	for i := 1; i < len(s.blocks); i++ {
		if s.blocks[i-1].free() && s.blocks[i].free() {
			r.add(CheckNoContiguousFree, s.blocks[i].bp, "free block follows the free block at offset %d", s.blocks[i-1].bp)
		}
	}
}

func checkFreeBlocksListed(h *Heap, s *heapScan, r *Report) {
	for _, block := range s.blocks {
		if !block.free() {
			continue
		}

		if _, listed := s.listed.Get(block.bp); !listed {
			r.add(CheckFreeBlocksListed, block.bp, "free block of size %d is not in the free list", block.size)
		}
	}
}

func checkFreeListLinks(h *Heap, s *heapScan, r *Report) {
	if s.listCycle != 0 {
		r.add(CheckFreeListLinks, s.listCycle, "free list returns to this block and never terminates")
	}

	for i, bp := range s.list {
		if _, isBlock := s.starts.Get(bp); !isBlock {
			r.add(CheckFreeListLinks, bp, "free list entry is not the start of a block")
		}

		expectedPrev := 0
		if i > 0 {
			expectedPrev = s.list[i-1]
		}

		prev := h.prevFree(bp)
		if prev != expectedPrev {
			r.add(CheckFreeListLinks, bp, "previous link is %d but the entry before it in the list is %d", prev, expectedPrev)
		}
	}
}

type extent struct {
	start, end int
	bp         int
}

func checkNoOverlap(h *Heap, s *heapScan, r *Report) {
	extents := make([]extent, 0, len(s.blocks)+len(s.list))
	for _, block := range s.blocks {
		extents = append(extents, extent{start: header(block.bp), end: header(block.bp) + block.size, bp: block.bp})
	}

	// Free list entries that are not also physical block starts describe a second claim on
	// some bytes
	for _, bp := range s.list {
		if _, isBlock := s.starts.Get(bp); isBlock {
			continue
		}

		size := h.blockSize(bp)
		if size == 0 || bp+size > len(h.data) {
			size = MinBlockSize
		}
		extents = append(extents, extent{start: header(bp), end: header(bp) + size, bp: bp})
	}

	sort.Slice(extents, func(i, j int) bool {
		return extents[i].start < extents[j].start
	})

	for i := 1; i < len(extents); i++ {
		if extents[i].start < extents[i-1].end {
			r.add(CheckNoOverlap, extents[i].bp, "block spanning [%d, %d) overlaps the block spanning [%d, %d)",
				extents[i].start, extents[i].end, extents[i-1].start, extents[i-1].end)
		}
	}
}

func checkHeapBounds(h *Heap, s *heapScan, r *Report) {
	for _, problem := range s.boundsProblems {
		r.add(CheckHeapBounds, problem.offset, problem.message)
	}

	if h.root != 0 && !h.isBlockOffset(h.root) {
		r.add(CheckHeapBounds, h.root, "free list root lies outside the heap")
	}

	for _, bp := range s.list {
		prev := h.prevFree(bp)
		if prev != 0 && !h.isBlockOffset(prev) {
			r.add(CheckHeapBounds, bp, "previous link %d lies outside the heap", prev)
		}

		next := h.nextFree(bp)
		if next != 0 && !h.isBlockOffset(next) {
			r.add(CheckHeapBounds, bp, "next link %d lies outside the heap", next)
		}
	}

	if s.epilogueFound && s.epilogue != len(h.data)-wordSize {
		r.add(CheckHeapBounds, s.epilogue, "epilogue is not at the break: break is %d", len(h.data))
	}
}

func checkBoundaryTags(h *Heap, s *heapScan, r *Report) {
	prologue := h.prologue()
	expectedPrologue := pack(doubleWordSize, true)
	if h.word(header(prologue)) != expectedPrologue || h.word(prologue) != expectedPrologue {
		r.add(CheckBoundaryTags, prologue, "prologue tags are %#x/%#x", h.word(header(prologue)), h.word(prologue))
	}

	if s.epilogueFound && h.word(s.epilogue) != pack(0, true) {
		r.add(CheckBoundaryTags, s.epilogue, "epilogue tag is %#x", h.word(s.epilogue))
	}

	for _, block := range s.blocks {
		if block.header != block.footer {
			r.add(CheckBoundaryTags, block.bp, "header %#x does not match footer %#x", block.header, block.footer)
		}
	}
}

func checkAlignment(h *Heap, s *heapScan, r *Report) {
	for _, block := range s.blocks {
		if block.bp%doubleWordSize != 0 {
			r.add(CheckAlignment, block.bp, "payload offset is not %d-byte aligned", doubleWordSize)
		}

		if block.header&reservedBits != 0 {
			r.add(CheckAlignment, block.bp, "header %#x has reserved bits set", block.header)
		}

		if block.size < MinBlockSize {
			r.add(CheckAlignment, block.bp, "block of size %d is smaller than the minimum of %d", block.size, MinBlockSize)
		}
	}
}

// Check runs the selected consistency checks and reports every violation found. It is a
// diagnostic: it walks every block and the whole free list and should not be run on a hot path.
// An uninitialized heap always produces an empty report.
func (h *Heap) Check(checks CheckFlags) Report {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.check(checks)
}

func (h *Heap) check(checks CheckFlags) Report {
	report := Report{Checks: checks}
	if !h.initialized {
		return report
	}

	s := h.scan()
	for _, pass := range checkPasses {
		if checks&pass.check != 0 {
			pass.run(h, s, &report)
		}
	}

	return report
}

// Validate runs every consistency check. Each violation is logged at error level and the combined
// violations are returned as an error marked with ErrHeapCorrupted.
func (h *Heap) Validate() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.validate()
}

func (h *Heap) validate() error {
	report := h.check(CheckAll)
	for _, violation := range report.Violations {
		h.logger.LogAttrs(context.Background(), slog.LevelError, "heap consistency violation",
			slog.String("check", violation.Check.String()),
			slog.Int("offset", violation.Offset),
			slog.String("message", violation.Message),
		)
	}

	return report.Err()
}

type validateFunc func() error

func (f validateFunc) Validate() error {
	return f()
}
