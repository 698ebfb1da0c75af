package versioning

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unified(t *testing.T, d *FileDiff) string {
	t.Helper()
	var b strings.Builder
	require.NoError(t, d.WriteUnified(&b, "a/guide.md", "b/guide.md"))
	return b.String()
}

func TestDiff_EmptyInputs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		base      string
		target    string
		additions int
		deletions int
		emptyDiff bool
	}{
		{"both empty", "", "", 0, 0, true},
		{"base empty", "", "line1\nline2\n", 2, 0, false},
		{"target empty", "line1\nline2\n", "", 0, 2, false},
		{"identical", "a\nb\nc\n", "a\nb\nc\n", 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Diff(tt.base, tt.target, 3)
			assert.Equal(t, tt.additions, d.Additions)
			assert.Equal(t, tt.deletions, d.Deletions)
			assert.Equal(t, tt.emptyDiff, d.Empty())
		})
	}
}

func TestDiff_Insertion(t *testing.T) {
	t.Parallel()

	d := Diff("a\nc\n", "a\nb\nc\n", 3)

	assert.Equal(t, "--- a/guide.md\n+++ b/guide.md\n@@ -1,2 +1,3 @@\n a\n+b\n c\n", unified(t, d))
}

func TestDiff_Replacement(t *testing.T) {
	t.Parallel()

	d := Diff("a\nb\nc\n", "a\nB\nc\n", 1)

	require.Len(t, d.Hunks, 1)
	assert.Equal(t, 1, d.Additions)
	assert.Equal(t, 1, d.Deletions)
	assert.Equal(t, "--- a/guide.md\n+++ b/guide.md\n@@ -1,3 +1,3 @@\n a\n-b\n+B\n c\n", unified(t, d))
}

func TestDiff_SeparateHunks(t *testing.T) {
	t.Parallel()

	base := "1\n2\n3\n4\n5\n6\n7\n8\n9\n10\n"
	target := "one\n2\n3\n4\n5\n6\n7\n8\n9\nten\n"

	d := Diff(base, target, 1)

	require.Len(t, d.Hunks, 2)
	assert.Equal(t, DiffHunk{OldStart: 1, OldCount: 2, NewStart: 1, NewCount: 2, Lines: []DiffLine{
		{Op: DiffDelete, Text: "1\n"},
		{Op: DiffAdd, Text: "one\n"},
		{Op: DiffContext, Text: "2\n"},
	}}, d.Hunks[0])
	assert.Equal(t, 9, d.Hunks[1].OldStart)
	assert.Equal(t, 2, d.Hunks[1].OldCount)

	// with enough context both changes share one hunk
	assert.Len(t, Diff(base, target, 4).Hunks, 1)
}

func TestDiff_MissingFinalNewline(t *testing.T) {
	t.Parallel()

	d := Diff("a", "a\n", 0)

	assert.Equal(t, "--- a/guide.md\n+++ b/guide.md\n@@ -1 +1 @@\n-a\n\\ No newline at end of file\n+a\n", unified(t, d))
}

func TestDiff_PureInsertWithoutContext(t *testing.T) {
	t.Parallel()

	d := Diff("a\nb\n", "a\nx\nb\n", 0)

	require.Len(t, d.Hunks, 1)
	assert.Equal(t, 1, d.Hunks[0].OldStart)
	assert.Equal(t, 0, d.Hunks[0].OldCount)
	assert.Equal(t, 2, d.Hunks[0].NewStart)
	assert.Equal(t, 1, d.Hunks[0].NewCount)
}
