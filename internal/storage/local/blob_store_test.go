package local

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jdbirch/awardharvest/internal/harvest"
)

func TestNewRequiresBaseDir(t *testing.T) {
	t.Parallel()

	_, err := New(Config{BaseDir: "  "})
	require.Error(t, err)
}

func TestNewCreatesMissingBaseDir(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "archive")
	store, err := New(Config{BaseDir: dir})
	require.NoError(t, err)
	require.NotNil(t, store)
}

func TestPutAndStat(t *testing.T) {
	t.Parallel()

	store, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	data := []byte("%PDF-1.4 fake protocol")
	uri, err := store.Put(context.Background(), "protocols/NIHR001_protocol.pdf", "application/pdf", data)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(uri, "file://"))

	size, err := store.Stat(context.Background(), "protocols/NIHR001_protocol.pdf")
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), size)
}

func TestStatMissingObject(t *testing.T) {
	t.Parallel()

	store, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.Stat(context.Background(), "protocols/missing.pdf")
	require.ErrorIs(t, err, harvest.ErrObjectNotFound)
}

func TestPutRejectsPathTraversal(t *testing.T) {
	t.Parallel()

	store, err := New(Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	_, err = store.Put(context.Background(), "../escape.pdf", "application/pdf", []byte("x"))
	require.Error(t, err)

	_, err = store.Put(context.Background(), "", "application/pdf", []byte("x"))
	require.Error(t, err)
}
