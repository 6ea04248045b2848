package store

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkpointd/internal/database"
)

func numberedLines(n int) []string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("l%d", i+1)
	}
	return lines
}

func TestDiffLines_Hunks(t *testing.T) {
	oldLines := numberedLines(10)
	newLines := numberedLines(10)
	newLines[1] = "x2"
	newLines[8] = "x9"

	t.Run("distant changes split", func(t *testing.T) {
		opts := DefaultDiffOptions()
		opts.ContextLines = 1

		hunks := diffLines(oldLines, newLines, opts)
		require.Len(t, hunks, 2)

		assert.Equal(t, Hunk{
			FromLine: 1, FromCount: 3, ToLine: 1, ToCount: 3,
			Changes: []LineChange{
				{Kind: LineContext, LineNumber: 1, Content: "l1"},
				{Kind: LineDeleted, LineNumber: 2, Content: "l2"},
				{Kind: LineAdded, LineNumber: 2, Content: "x2"},
				{Kind: LineContext, LineNumber: 3, Content: "l3"},
			},
		}, hunks[0])

		assert.Equal(t, 8, hunks[1].FromLine)
		assert.Equal(t, 3, hunks[1].FromCount)
		assert.Equal(t, 8, hunks[1].ToLine)
		assert.Equal(t, 3, hunks[1].ToCount)
	})

	t.Run("close changes merge", func(t *testing.T) {
		hunks := diffLines(oldLines, newLines, DefaultDiffOptions())
		require.Len(t, hunks, 1)
		assert.Equal(t, 1, hunks[0].FromLine)
		assert.Equal(t, 10, hunks[0].FromCount)
		assert.Equal(t, 10, hunks[0].ToCount)
		assert.Len(t, hunks[0].Changes, 12)
	})

	t.Run("no line numbers", func(t *testing.T) {
		opts := DefaultDiffOptions()
		opts.ShowLineNumbers = false
		for _, h := range diffLines(oldLines, newLines, opts) {
			for _, c := range h.Changes {
				assert.Zero(t, c.LineNumber)
			}
		}
	})
}

func TestDiffLines_PureInsert(t *testing.T) {
	opts := DefaultDiffOptions()
	opts.ContextLines = 0

	hunks := diffLines([]string{"a", "b"}, []string{"a", "x", "b"}, opts)
	require.Len(t, hunks, 1)
	assert.Equal(t, Hunk{
		FromLine: 1, FromCount: 0, ToLine: 2, ToCount: 1,
		Changes: []LineChange{{Kind: LineAdded, LineNumber: 2, Content: "x"}},
	}, hunks[0])
}

func TestDiffLines_IgnoreWhitespace(t *testing.T) {
	oldLines := []string{"func main() {", "\treturn  1", "}"}
	newLines := []string{"func main() {", "    return 1", "}"}

	opts := DefaultDiffOptions()
	assert.Len(t, diffLines(oldLines, newLines, opts), 1)

	opts.IgnoreWhitespace = true
	assert.Empty(t, diffLines(oldLines, newLines, opts))
}

func TestDiffLines_Identical(t *testing.T) {
	lines := numberedLines(5)
	assert.Empty(t, diffLines(lines, lines, DefaultDiffOptions()))
}

func TestSplitLines(t *testing.T) {
	assert.Nil(t, splitLines(nil))
	assert.Equal(t, []string{"a", "b"}, splitLines([]byte("a\nb\n")))
	assert.Equal(t, []string{"a", "b"}, splitLines([]byte("a\nb")))
	assert.Equal(t, []string{"a", "", "b"}, splitLines([]byte("a\n\nb")))
}

func TestIsBinary(t *testing.T) {
	assert.False(t, isBinary([]byte("plain text")))
	assert.True(t, isBinary([]byte("bin\x00ary")))

	late := make([]byte, binarySniffLen+10)
	for i := range late {
		late[i] = 'a'
	}
	late[binarySniffLen+5] = 0
	assert.False(t, isBinary(late), "only the leading bytes are sniffed")
}

func TestMerkleRoot_OrderIndependent(t *testing.T) {
	a := []database.FileRow{{Path: "a.txt", Hash: "h1"}, {Path: "b.txt", Hash: "h2"}, {Path: "c.txt", Hash: "h3"}}
	b := []database.FileRow{{Path: "c.txt", Hash: "h3"}, {Path: "a.txt", Hash: "h1"}, {Path: "b.txt", Hash: "h2"}}
	assert.Equal(t, merkleRoot(a), merkleRoot(b))

	changed := []database.FileRow{{Path: "a.txt", Hash: "h1"}, {Path: "b.txt", Hash: "h2"}, {Path: "c.txt", Hash: "other"}}
	assert.NotEqual(t, merkleRoot(a), merkleRoot(changed))
	assert.Equal(t, HashContent(nil), merkleRoot(nil))
}
