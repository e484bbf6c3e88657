package violations

import (
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestampFormat(t *testing.T) {
	at := time.Date(2025, 3, 7, 9, 5, 42, 37*int(time.Millisecond), time.UTC)
	assert.Equal(t, "2025-03-07_09-05-42-037", Timestamp(at))

	// millisecond precision, dash separated throughout
	pattern := regexp.MustCompile(`^\d{4}-\d{2}-\d{2}_\d{2}-\d{2}-\d{2}-\d{3}$`)
	assert.Regexp(t, pattern, Timestamp(time.Now()))
}

func TestStoreInsertAndList(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	first := Record{Approach: 1, Timestamp: "2025-03-07_09-05-42-037", Reason: "Vehicle ID 3 ran red light"}
	second := Record{Approach: 2, Timestamp: "2025-03-07_09-06-00-000", Reason: "IR sensor triggered on red light for Road 3", ImagePath: "/tmp/x.jpg"}

	require.NoError(t, store.Insert(first))
	require.NoError(t, store.Insert(second))

	records, err := store.List(10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	// newest first
	assert.Equal(t, second.Reason, records[0].Reason)
	assert.Equal(t, second.ImagePath, records[0].ImagePath)
	assert.Equal(t, first.Reason, records[1].Reason)
	assert.Empty(t, records[1].ImagePath)
}

func TestStoreListRespectsLimit(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Insert(Record{Approach: i % 4, Timestamp: "ts", Reason: "r"}))
	}

	records, err := store.List(3)
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestImagePathLayout(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)
	defer store.Close()

	ts := "2025-03-07_09-05-42-037"
	assert.Equal(t,
		filepath.Join(dir, "VIO_2025-03-07_09-05-42-037_R1.jpg"),
		store.TrackerImagePath(0, ts))
	assert.Equal(t,
		filepath.Join(dir, "VIO_IR_2025-03-07_09-05-42-037_R4_IMG2.jpg"),
		store.IRImagePath(3, 2, ts))
}

func TestNewStoreCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", DirName)
	store, err := NewStore(dir)
	require.NoError(t, err)
	defer store.Close()

	assert.DirExists(t, dir)
}
