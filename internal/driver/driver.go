// Package driver replays allocation traces against a heap and checks every block the heap hands
// out: alignment, bounds, overlap with other live blocks and the integrity of payload bytes.
package driver

import (
	"context"
	"io"

	cerrors "github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/mmheap"
	"github.com/vkngwrapper/mmheap/heap"
	"github.com/vkngwrapper/mmheap/internal/trace"
	"golang.org/x/exp/slog"
)

var (
	// ErrPayloadCorrupted is returned when a live block's bytes changed while the driver was not
	// writing them
	ErrPayloadCorrupted = errors.New("payload corrupted")
	// ErrMisaligned is returned when the heap hands out an unaligned pointer
	ErrMisaligned = errors.New("block is misaligned")
	// ErrOutOfBounds is returned when a block does not lie within the heap or is smaller than requested
	ErrOutOfBounds = errors.New("block lies outside the heap")
	// ErrOverlap is returned when two live blocks share bytes
	ErrOverlap = errors.New("blocks overlap")
	// ErrBadSequence is returned when a trace frees a block that is not live or allocates over a
	// live one
	ErrBadSequence = errors.New("invalid operation sequence")
)

type Options struct {
	// Check runs heap.Validate after every operation
	Check bool
	// Logger receives a Debug record per operation. A nil logger discards everything.
	Logger *slog.Logger
}

// Result summarizes a replay
type Result struct {
	Ops int
	// PeakPayload is the largest total of requested bytes live at once
	PeakPayload int
	// HeapSize is the size of the heap when the trace finished
	HeapSize int
	// Statistics describes the heap when the trace finished
	Statistics mmheap.DetailedStatistics
}

// Utilization is the peak live payload as a fraction of the final heap size
func (r Result) Utilization() float64 {
	if r.HeapSize == 0 {
		return 0
	}

	return float64(r.PeakPayload) / float64(r.HeapSize)
}

type liveBlock struct {
	p    heap.Pointer
	size int
}

type replayer struct {
	heap    *heap.Heap
	options Options
	logger  *slog.Logger

	live        *swiss.Map[int, liveBlock]
	livePayload int
	result      Result
}

// Replay runs every operation in t against h. It stops at the first operation that fails or that
// leaves the heap or a live block in a bad state, and returns the error along with the statistics
// gathered up to that point.
func Replay(h *heap.Heap, t *trace.Trace, options Options) (Result, error) {
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard))
	}

	r := &replayer{
		heap:    h,
		options: options,
		logger:  logger,
		live:    swiss.NewMap[int, liveBlock](uint32(max(t.NumIDs, 1))),
	}

	err := r.run(t)

	r.result.HeapSize = h.HeapSize()
	r.result.Statistics.Clear()
	h.AddDetailedStatistics(&r.result.Statistics)

	return r.result, err
}

func (r *replayer) run(t *trace.Trace) error {
	for _, op := range t.Ops {
		err := r.apply(op)
		if err != nil {
			return cerrors.Wrapf(err, "line %d: %s %d", op.Line, op.Kind, op.ID)
		}
		r.result.Ops++

		if r.livePayload > r.result.PeakPayload {
			r.result.PeakPayload = r.livePayload
		}

		if r.options.Check {
			err = r.heap.Validate()
			if err != nil {
				return cerrors.Wrapf(err, "line %d: heap is inconsistent after %s %d", op.Line, op.Kind, op.ID)
			}
		}
	}

	return nil
}

func (r *replayer) apply(op trace.Op) error {
	r.logger.LogAttrs(context.Background(), slog.LevelDebug, "replay",
		slog.String("op", op.Kind.String()),
		slog.Int("id", op.ID),
		slog.Int("size", op.Size),
	)

	switch op.Kind {
	case trace.OpAlloc:
		return r.alloc(op.ID, op.Size)
	case trace.OpRealloc:
		return r.realloc(op.ID, op.Size)
	case trace.OpFree:
		return r.free(op.ID)
	}

	return cerrors.Newf("unknown operation kind %d", op.Kind)
}

func (r *replayer) alloc(id, size int) error {
	if _, live := r.live.Get(id); live {
		return cerrors.Wrapf(ErrBadSequence, "block %d is already live", id)
	}

	p, err := r.heap.Malloc(size)
	if err != nil {
		return err
	}
	if p == heap.Nil {
		// Zero-byte blocks own no bytes but can still be freed
		r.live.Put(id, liveBlock{})
		return nil
	}

	block := liveBlock{p: p, size: size}
	err = r.verifyPlacement(id, block)
	if err != nil {
		return err
	}

	fillPattern(r.heap.Bytes(p)[:size], id, 0)
	r.live.Put(id, block)
	r.livePayload += size
	return nil
}

func (r *replayer) realloc(id, size int) error {
	old, live := r.live.Get(id)
	if live {
		err := r.verifyPayload(id, old)
		if err != nil {
			return err
		}
	}

	p, err := r.heap.Realloc(old.p, size)
	if err != nil {
		if live {
			// The old block must have survived the failure untouched
			return cerrors.CombineErrors(err, r.verifyPayload(id, old))
		}
		return err
	}

	r.livePayload -= old.size
	if p == heap.Nil {
		r.live.Put(id, liveBlock{})
		return nil
	}

	block := liveBlock{p: p, size: size}
	err = r.verifyPlacement(id, block)
	if err != nil {
		return err
	}

	preserved := min(old.size, size)
	err = verifyPattern(r.heap.Bytes(p)[:preserved], id, 0)
	if err != nil {
		return cerrors.Wrapf(err, "block %d lost its contents when it moved from %d to %d", id, old.p, p)
	}

	fillPattern(r.heap.Bytes(p)[preserved:size], id, preserved)
	r.live.Put(id, block)
	r.livePayload += size
	return nil
}

func (r *replayer) free(id int) error {
	block, live := r.live.Get(id)
	if !live {
		return cerrors.Wrapf(ErrBadSequence, "block %d is not live", id)
	}

	err := r.verifyPayload(id, block)
	if err != nil {
		return err
	}

	r.heap.Free(block.p)
	r.live.Delete(id)
	r.livePayload -= block.size
	return nil
}

func (r *replayer) verifyPayload(id int, block liveBlock) error {
	if block.p == heap.Nil {
		return nil
	}

	err := verifyPattern(r.heap.Bytes(block.p)[:block.size], id, 0)
	if err != nil {
		return cerrors.Wrapf(err, "block %d at %d", id, block.p)
	}
	return nil
}

// verifyPlacement checks a block the heap just handed out against the heap bounds and every other
// live block
func (r *replayer) verifyPlacement(id int, block liveBlock) error {
	start := int(block.p)
	if !mmheap.IsAligned(start, mmheap.Alignment) {
		return cerrors.Wrapf(ErrMisaligned, "block %d at %d", id, start)
	}

	payload := r.heap.PayloadSize(block.p)
	if payload < block.size {
		return cerrors.Wrapf(ErrOutOfBounds, "block %d at %d holds %d bytes but %d were requested", id, start, payload, block.size)
	}

	base := r.heap.Base()
	if start < base || start+payload > base+r.heap.HeapSize() {
		return cerrors.Wrapf(ErrOutOfBounds, "block %d spans [%d, %d) but the heap spans [%d, %d)", id, start, start+payload, base, base+r.heap.HeapSize())
	}

	var overlapErr error
	r.live.Iter(func(otherID int, other liveBlock) bool {
		if otherID == id || other.p == heap.Nil {
			return false
		}

		otherStart := int(other.p)
		otherEnd := otherStart + r.heap.PayloadSize(other.p)
		if start < otherEnd && otherStart < start+payload {
			overlapErr = cerrors.Wrapf(ErrOverlap, "block %d at [%d, %d) overlaps block %d at [%d, %d)", id, start, start+payload, otherID, otherStart, otherEnd)
			return true
		}
		return false
	})

	return overlapErr
}

func patternByte(id, index int) byte {
	return byte(id*131 + index*7 + 1)
}

func fillPattern(data []byte, id, offset int) {
	for i := range data {
		data[i] = patternByte(id, offset+i)
	}
}

func verifyPattern(data []byte, id, offset int) error {
	for i := range data {
		if data[i] != patternByte(id, offset+i) {
			return cerrors.Wrapf(ErrPayloadCorrupted, "byte %d is %#x, expected %#x", offset+i, data[i], patternByte(id, offset+i))
		}
	}
	return nil
}
