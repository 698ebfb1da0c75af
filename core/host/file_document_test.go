package host

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileDocument_ContentAndWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "README.md")
	require.NoError(t, os.WriteFile(path, []byte("local\n"), 0600))

	doc := NewFileDocument(path)
	got, err := doc.Content(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "local\n", got)

	require.NoError(t, doc.Write("merged\n"))
	got, err = doc.Content(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "merged\n", got)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestFileDocument_WriteCreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs", "guide.md")
	doc := NewFileDocument(path)

	require.NoError(t, doc.Write("fresh"))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(data))
}

func TestFileDocument_MissingFile(t *testing.T) {
	doc := NewFileDocument(filepath.Join(t.TempDir(), "absent.md"))
	_, err := doc.Content(context.Background())
	assert.Error(t, err)
}

func TestFileDocument_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewFileDocument("unused").Content(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFileDocument_Dirty(t *testing.T) {
	doc := NewFileDocument("unused")
	assert.False(t, doc.Dirty())
	doc.SetDirty(true)
	assert.True(t, doc.Dirty())
}

func TestStaticDocument(t *testing.T) {
	doc := NewStaticDocument("a")
	doc.Set("b")
	got, err := doc.Content(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "b", got)

	doc.SetDirty(true)
	assert.True(t, doc.Dirty())

	var _ Document = doc
	var _ Document = NewFileDocument("x")
}
