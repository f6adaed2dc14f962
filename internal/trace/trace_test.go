package trace_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/mmheap/internal/trace"
)

const shortTrace = `20000
2
5
1
# grow one block, then free both
a 0 512
a 1 128

r 0 640
f 1
f 0
`

func TestParse(t *testing.T) {
	tr, err := trace.Parse(strings.NewReader(shortTrace))
	require.NoError(t, err)

	require.Equal(t, 20000, tr.SuggestedHeapSize)
	require.Equal(t, 2, tr.NumIDs)
	require.Equal(t, 1, tr.Weight)
	require.Equal(t, []trace.Op{
		{Kind: trace.OpAlloc, ID: 0, Size: 512, Line: 6},
		{Kind: trace.OpAlloc, ID: 1, Size: 128, Line: 7},
		{Kind: trace.OpRealloc, ID: 0, Size: 640, Line: 9},
		{Kind: trace.OpFree, ID: 1, Line: 10},
		{Kind: trace.OpFree, ID: 0, Line: 11},
	}, tr.Ops)
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.rep")
	require.NoError(t, os.WriteFile(path, []byte(shortTrace), 0o600))

	tr, err := trace.ParseFile(path)
	require.NoError(t, err)
	require.Len(t, tr.Ops, 5)

	_, err = trace.ParseFile(filepath.Join(t.TempDir(), "missing.rep"))
	require.Error(t, err)
}

func TestParseMalformed(t *testing.T) {
	cases := map[string]string{
		"short header":    "100\n2\n",
		"bad header":      "100\nmany\n1\n1\na 0 8\n",
		"negative size":   "100\n1\n1\n1\na 0 -8\n",
		"unknown op":      "100\n1\n1\n1\nx 0 8\n",
		"id out of range": "100\n1\n1\n1\na 1 8\n",
		"missing size":    "100\n1\n1\n1\na 0\n",
		"extra field":     "100\n1\n1\n1\nf 0 8\n",
		"too few ops":     "100\n1\n2\n1\na 0 8\n",
		"too many ops":    "100\n1\n1\n1\na 0 8\nf 0\n",
	}

	for name, input := range cases {
		_, err := trace.Parse(strings.NewReader(input))
		require.Error(t, err, name)
		require.True(t, errors.Is(err, trace.ErrMalformed), name)
	}
}

func TestOpKindString(t *testing.T) {
	require.Equal(t, "alloc", trace.OpAlloc.String())
	require.Equal(t, "realloc", trace.OpRealloc.String())
	require.Equal(t, "free", trace.OpFree.String())
}
