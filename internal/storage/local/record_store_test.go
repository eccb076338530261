// Package local_test tests the local filesystem record store.
package local_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/JakeFAU/realtime-csv-ingest/internal/storage/local"
	"github.com/JakeFAU/realtime-csv-ingest/internal/store"
	"github.com/JakeFAU/realtime-csv-ingest/internal/store/storetest"
)

func TestRecordStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.RecordStore {
		s, err := local.New(local.Config{BaseDir: t.TempDir()}, nil, nil)
		require.NoError(t, err)
		return s
	})
}

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		s, err := local.New(local.Config{BaseDir: t.TempDir()}, nil, nil)
		require.NoError(t, err)
		assert.NotNil(t, s)
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{}, nil, nil)
		assert.Error(t, err)
	})

	t.Run("CreatesBaseDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "records")
		_, err := local.New(local.Config{BaseDir: dir}, nil, nil)
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		tempFile, err := os.CreateTemp(t.TempDir(), "testfile")
		require.NoError(t, err)
		require.NoError(t, tempFile.Close())

		_, err = local.New(local.Config{BaseDir: tempFile.Name()}, nil, nil)
		assert.Error(t, err)
	})
}

func TestCreateWritesMsgpackFile(t *testing.T) {
	dir := t.TempDir()
	s, err := local.New(local.Config{BaseDir: dir}, nil, nil)
	require.NoError(t, err)

	rec, err := s.Create(context.Background(), store.NewRecord{Rows: [][]string{{"a", "b"}}, SizeBytes: 3})
	require.NoError(t, err)

	// #nosec G304 -- test reads from the controlled temp directory.
	data, err := os.ReadFile(filepath.Join(dir, rec.ID+".msgpack"))
	require.NoError(t, err)
	var decoded store.Record
	require.NoError(t, msgpack.Unmarshal(data, &decoded))
	assert.Equal(t, rec.ID, decoded.ID)
	assert.Equal(t, [][]string{{"a", "b"}}, decoded.Rows)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files are renamed away")
}

func TestGetRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	s, err := local.New(local.Config{BaseDir: filepath.Join(dir, "records")}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "secret.msgpack"), []byte{0x80}, 0o600))

	for _, id := range []string{"../secret", "..", "a/b", ""} {
		_, err := s.Get(context.Background(), id)
		assert.True(t, errors.Is(err, store.ErrNotFound), "id %q: %v", id, err)
	}
}

func TestGetCorruptFile(t *testing.T) {
	dir := t.TempDir()
	s, err := local.New(local.Config{BaseDir: dir}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.msgpack"), []byte("not msgpack"), 0o600))

	_, err = s.Get(context.Background(), "broken")
	require.Error(t, err)
	assert.False(t, errors.Is(err, store.ErrNotFound))
}

func TestCreateUnavailable(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "records")
	s, err := local.New(local.Config{BaseDir: dir}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(dir))

	_, err = s.Create(context.Background(), store.NewRecord{Rows: [][]string{{"a"}}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrUnavailable), "got %v", err)
}
