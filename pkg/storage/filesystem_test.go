package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLocalStoragePutGetDelete(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	location, err := store.Put(ctx, "reports/org-1/rep-1/summary.csv", []byte("a,b\n"), "text/csv")
	require.NoError(t, err)
	require.Equal(t, "file://reports/org-1/rep-1/summary.csv", location)

	data, err := store.Get(ctx, location)
	require.NoError(t, err)
	require.Equal(t, "a,b\n", string(data))

	require.NoError(t, store.Delete(ctx, location))
	_, err = store.Get(ctx, location)
	require.ErrorIs(t, err, ErrObjectNotFound)
	require.NoError(t, store.Delete(ctx, location))
}

func TestLocalStorageRejectsTraversal(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = store.Put(context.Background(), "../escape.txt", []byte("x"), "text/plain")
	require.Error(t, err)
	_, err = store.Get(context.Background(), "file:///etc/passwd")
	require.Error(t, err)
}

func TestLocalStorageCleanupOlderThan(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStorage(dir)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Put(ctx, "reports/old.pdf", []byte("old"), "application/pdf")
	require.NoError(t, err)
	_, err = store.Put(ctx, "reports/new.pdf", []byte("new"), "application/pdf")
	require.NoError(t, err)
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "reports", "old.pdf"), past, past))

	deleted, err := store.CleanupOlderThan(24 * time.Hour)
	require.NoError(t, err)
	require.Equal(t, []string{"reports/old.pdf"}, deleted)
}

func TestArtifactKeyIsUniquePerRender(t *testing.T) {
	at := time.Date(2024, 1, 31, 10, 0, 0, 0, time.UTC)
	first := ArtifactKey("org-1", "rep-1", "Project Summary: Tower", "pdf", at)
	second := ArtifactKey("org-1", "rep-1", "Project Summary: Tower", "pdf", at.Add(time.Nanosecond))

	require.True(t, strings.HasPrefix(first, "reports/org-1/rep-1/project-summary-tower-"))
	require.True(t, strings.HasSuffix(first, ".pdf"))
	require.NotEqual(t, first, second)
	require.Equal(t, "report", SanitizeFilename("***"))
}
