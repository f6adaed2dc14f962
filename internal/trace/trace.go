// Package trace reads allocation trace files. A trace starts with four header numbers (suggested
// heap size, number of distinct block ids, number of operations and a weight) followed by one
// operation per line:
//
//	a <id> <bytes>    allocate bytes and remember the block as id
//	r <id> <bytes>    reallocate block id to bytes
//	f <id>            free block id
//
// Blank lines and lines starting with # are ignored anywhere in the file.
package trace

import (
	"bufio"
	"io"
	"os"
	"strconv"
	"strings"

	cerrors "github.com/cockroachdb/errors"
	"github.com/pkg/errors"
)

// ErrMalformed is wrapped by every error Parse returns for bad input
var ErrMalformed = errors.New("malformed trace")

type OpKind int

const (
	OpAlloc OpKind = iota
	OpRealloc
	OpFree
)

var opKindMapping = map[OpKind]string{
	OpAlloc:   "alloc",
	OpRealloc: "realloc",
	OpFree:    "free",
}

func (k OpKind) String() string {
	return opKindMapping[k]
}

// Op is a single trace operation. Size is 0 for OpFree.
type Op struct {
	Kind OpKind
	ID   int
	Size int
	// Line is the 1-based line of the trace the op was read from
	Line int
}

type Trace struct {
	SuggestedHeapSize int
	NumIDs            int
	Weight            int
	Ops               []Op
}

// ParseFile opens and parses the trace at path
func ParseFile(path string) (*Trace, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, cerrors.Wrapf(err, "failed to open trace %s", path)
	}
	defer file.Close()

	t, err := Parse(file)
	if err != nil {
		return nil, cerrors.Wrapf(err, "trace %s", path)
	}
	return t, nil
}

// Parse reads a trace. The number of operations must match the header and every id must be
// below the declared number of ids.
func Parse(r io.Reader) (*Trace, error) {
	scanner := bufio.NewScanner(r)

	var header [4]int
	headerLines := 0
	numOps := 0
	t := &Trace{}

	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if headerLines < len(header) {
			value, err := strconv.Atoi(line)
			if err != nil || value < 0 {
				return nil, cerrors.Wrapf(ErrMalformed, "line %d: header value %q is not a non-negative integer", lineNumber, line)
			}
			header[headerLines] = value
			headerLines++

			if headerLines == len(header) {
				t.SuggestedHeapSize = header[0]
				t.NumIDs = header[1]
				numOps = header[2]
				t.Weight = header[3]
				t.Ops = make([]Op, 0, numOps)
			}
			continue
		}

		op, err := parseOp(line, lineNumber, t.NumIDs)
		if err != nil {
			return nil, err
		}
		t.Ops = append(t.Ops, op)
	}

	if err := scanner.Err(); err != nil {
		return nil, cerrors.Wrap(err, "failed to read trace")
	}

	if headerLines < len(header) {
		return nil, cerrors.Wrapf(ErrMalformed, "header has %d of %d values", headerLines, len(header))
	}

	if len(t.Ops) != numOps {
		return nil, cerrors.Wrapf(ErrMalformed, "header declares %d operations but the trace has %d", numOps, len(t.Ops))
	}

	return t, nil
}

func parseOp(line string, lineNumber int, numIDs int) (Op, error) {
	fields := strings.Fields(line)
	op := Op{Line: lineNumber}

	expectedFields := 3
	switch fields[0] {
	case "a":
		op.Kind = OpAlloc
	case "r":
		op.Kind = OpRealloc
	case "f":
		op.Kind = OpFree
		expectedFields = 2
	default:
		return op, cerrors.Wrapf(ErrMalformed, "line %d: unknown operation %q", lineNumber, fields[0])
	}

	if len(fields) != expectedFields {
		return op, cerrors.Wrapf(ErrMalformed, "line %d: %s takes %d arguments but has %d", lineNumber, op.Kind, expectedFields-1, len(fields)-1)
	}

	id, err := strconv.Atoi(fields[1])
	if err != nil || id < 0 || id >= numIDs {
		return op, cerrors.Wrapf(ErrMalformed, "line %d: id %q is not in [0, %d)", lineNumber, fields[1], numIDs)
	}
	op.ID = id

	if expectedFields == 3 {
		size, err := strconv.Atoi(fields[2])
		if err != nil || size < 0 {
			return op, cerrors.Wrapf(ErrMalformed, "line %d: size %q is not a non-negative integer", lineNumber, fields[2])
		}
		op.Size = size
	}

	return op, nil
}
