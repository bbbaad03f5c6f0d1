package storage

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutGetRoundTrip(t *testing.T) {
	store, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)

	payload := []byte("hello, temporary world")
	locator, written, err := store.Put(bytes.NewReader(payload), ".txt")
	require.NoError(t, err)
	require.EqualValues(t, len(payload), written)
	require.True(t, strings.HasSuffix(locator, ".txt"))

	f, err := store.Get(locator)
	require.NoError(t, err)
	defer f.Close()
	got, err := io.ReadAll(f)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestPutCleansUpOnReaderFailure(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDiskStore(dir)
	require.NoError(t, err)

	boom := errors.New("connection dropped")
	r := io.MultiReader(strings.NewReader("partial data"), failingReader{err: boom})
	_, _, err = store.Put(r, ".bin")
	require.ErrorIs(t, err, boom)

	// Nothing may be left behind, not even the temp file.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestGetMissingObject(t *testing.T) {
	store, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get("no-such-object")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteIsIdempotent(t *testing.T) {
	store, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)

	locator, _, err := store.Put(strings.NewReader("bytes"), "")
	require.NoError(t, err)

	require.NoError(t, store.Delete(locator))
	_, err = store.Get(locator)
	require.ErrorIs(t, err, ErrNotFound)

	// Deleting again is not an error.
	require.NoError(t, store.Delete(locator))
}

func TestLocatorValidation(t *testing.T) {
	store, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)

	for _, locator := range []string{
		"",
		"../escape",
		"a/b",
		filepath.Join("..", "..", "etc", "passwd"),
		".hidden",
	} {
		_, err := store.Get(locator)
		require.ErrorIs(t, err, ErrInvalidLocator, "locator %q", locator)
		require.ErrorIs(t, store.Delete(locator), ErrInvalidLocator, "locator %q", locator)
	}
}

func TestExtensionSanitizing(t *testing.T) {
	store, err := NewDiskStore(t.TempDir())
	require.NoError(t, err)

	// Hostile or oversized extensions are dropped, not escaped.
	for _, ext := range []string{"../../x", ".tar.gz", ".with space", ".averylongextension123", "noleadingdot"} {
		locator, _, err := store.Put(strings.NewReader("x"), ext)
		require.NoError(t, err)
		require.NotContains(t, locator, "/")
		require.NotContains(t, locator, " ")
	}

	locator, _, err := store.Put(strings.NewReader("x"), ".PDF")
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(locator, ".pdf"))
}

type failingReader struct{ err error }

func (f failingReader) Read([]byte) (int, error) { return 0, f.err }
