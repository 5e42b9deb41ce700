package storage

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAndLatest(t *testing.T) {
	d := New(filepath.Join(t.TempDir(), "reports"))

	older := Key(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	newer := Key(time.Date(2025, 3, 1, 17, 30, 5, 0, time.UTC))
	assert.Equal(t, "20250301_173005", newer)

	_, err := d.Write(newer, "snapshot.json", []byte(`{"n":2}`))
	require.NoError(t, err)
	_, err = d.Write(older, "snapshot.json", []byte(`{"n":1}`))
	require.NoError(t, err)
	_, err = d.Write(newer, "failures.csv", []byte("Email\n"))
	require.NoError(t, err)

	got, err := d.Latest("snapshot.json")
	require.NoError(t, err)
	assert.Equal(t, d.Path(newer, "snapshot.json"), got)

	data, err := os.ReadFile(got)
	require.NoError(t, err)
	assert.Equal(t, `{"n":2}`, string(data))

	entries, err := os.ReadDir(d.Root())
	require.NoError(t, err)
	assert.Len(t, entries, 3, "temporary files must not remain")
}

func TestNewKeySequencesWithinOneSecond(t *testing.T) {
	d := New(t.TempDir())
	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	first, err := d.NewKey(at)
	require.NoError(t, err)
	assert.Equal(t, "20250301_090000", first)
	_, err = d.Write(first, "snapshot.json", []byte("1"))
	require.NoError(t, err)

	second, err := d.NewKey(at)
	require.NoError(t, err)
	assert.Equal(t, "20250301_090000-02", second)
	_, err = d.Write(second, "snapshot.json", []byte("2"))
	require.NoError(t, err)

	got, err := d.Latest("snapshot.json")
	require.NoError(t, err)
	assert.Equal(t, d.Path(second, "snapshot.json"), got)

	// a later second still wins over a sequenced key
	later := Key(at.Add(time.Second))
	_, err = d.Write(later, "snapshot.json", []byte("3"))
	require.NoError(t, err)
	got, err = d.Latest("snapshot.json")
	require.NoError(t, err)
	assert.Equal(t, d.Path(later, "snapshot.json"), got)
}

func TestLatestNotFound(t *testing.T) {
	d := New(t.TempDir())
	_, err := d.Latest("snapshot.json")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWriteRejectsTraversal(t *testing.T) {
	d := New(t.TempDir())
	_, err := d.Write("../x", "full.csv", nil)
	assert.Error(t, err)
}

func TestArchive(t *testing.T) {
	d := New(t.TempDir())

	require.NoError(t, d.Archive("abc123", "recipient@example.com", []byte("body")))

	dayDirs, err := os.ReadDir(filepath.Join(d.Root(), "archive"))
	require.NoError(t, err)
	require.Len(t, dayDirs, 1)

	dayDir := filepath.Join(d.Root(), "archive", dayDirs[0].Name())
	files, err := os.ReadDir(dayDir)
	require.NoError(t, err)
	require.Len(t, files, 1)

	name := files[0].Name()
	assert.False(t, strings.Contains(name, "recipient@example.com"), "recipient should be hashed, got %q", name)

	data, err := os.ReadFile(filepath.Join(dayDir, name))
	require.NoError(t, err)
	assert.Equal(t, "body", string(data))
}

func TestArchiveSanitizesID(t *testing.T) {
	d := New(t.TempDir())
	assert.Error(t, d.Archive("../bad", "recipient@example.com", []byte("body")))
}
