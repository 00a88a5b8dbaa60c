package storage

import (
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSpoolPublishLifecycle(t *testing.T) {
	store, err := NewStagingStore(t.TempDir())
	require.NoError(t, err)

	n, err := store.SpoolStream("file-1", strings.NewReader("id,name\n1,alpha\n"))
	require.NoError(t, err)
	require.Equal(t, int64(16), n)

	// Spooled files are readable for parsing but not yet published.
	require.False(t, store.Exists("file-1"))
	f, err := store.Open("file-1")
	require.NoError(t, err)
	content, err := io.ReadAll(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.Equal(t, "id,name\n1,alpha\n", string(content))

	require.NoError(t, store.Publish("file-1"))
	require.True(t, store.Exists("file-1"))

	size, err := store.Size("file-1")
	require.NoError(t, err)
	require.Equal(t, int64(16), size)
}

func TestDiscardRemovesSpooledFile(t *testing.T) {
	store, err := NewStagingStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.SpoolStream("file-1", strings.NewReader("broken"))
	require.NoError(t, err)
	require.NoError(t, store.Discard("file-1"))

	_, err = store.Open("file-1")
	require.Error(t, err)
}

func TestDiscardMissingFileIsNoop(t *testing.T) {
	store, err := NewStagingStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Discard("never-spooled"))
}

func TestPublishedFileSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStagingStore(dir)
	require.NoError(t, err)

	_, err = store.SpoolStream("file-1", strings.NewReader("id\n1\n"))
	require.NoError(t, err)
	require.NoError(t, store.Publish("file-1"))

	reopened, err := NewStagingStore(dir)
	require.NoError(t, err)
	require.True(t, reopened.Exists("file-1"))

	info, err := os.Stat(reopened.Path("file-1"))
	require.NoError(t, err)
	require.Equal(t, int64(5), info.Size())
}
