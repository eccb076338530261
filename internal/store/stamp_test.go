package store

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedIDs struct {
	id  string
	err error
}

func (f fixedIDs) NewID() (string, error) { return f.id, f.err }

type fixedClock struct{ t time.Time }

func (f fixedClock) Now() time.Time { return f.t }

func TestStamperStamp(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("X", 3600))
	s := NewStamper(fixedIDs{id: "rec-1"}, fixedClock{t: now})
	rows := [][]string{{"a", "b"}}

	rec, err := s.Stamp(NewRecord{Rows: rows, Checksum: "abc", SizeBytes: 3})
	require.NoError(t, err)
	assert.Equal(t, "rec-1", rec.ID)
	assert.Equal(t, rows, rec.Rows)
	assert.Equal(t, "abc", rec.Checksum)
	assert.EqualValues(t, 3, rec.SizeBytes)
	assert.Equal(t, time.UTC, rec.CreatedAt.Location())
	assert.True(t, rec.CreatedAt.Equal(now))

	rows[0][0] = "mutated"
	assert.Equal(t, "a", rec.Rows[0][0])
}

func TestStamperErrors(t *testing.T) {
	t.Parallel()

	_, err := NewStamper(fixedIDs{err: errors.New("boom")}, nil).Stamp(NewRecord{})
	require.Error(t, err)

	_, err = NewStamper(fixedIDs{id: "../etc"}, nil).Stamp(NewRecord{})
	require.Error(t, err)
}

func TestNewStamperDefaults(t *testing.T) {
	t.Parallel()

	rec, err := NewStamper(nil, nil).Stamp(NewRecord{})
	require.NoError(t, err)
	assert.Len(t, rec.ID, 36)
	assert.Equal(t, [][]string{}, rec.Rows)
	assert.WithinDuration(t, time.Now(), rec.CreatedAt, time.Minute)
}

func TestValidID(t *testing.T) {
	t.Parallel()

	assert.True(t, ValidID("0190b8a4-6e6f-7c3a-9a3e-1b2c3d4e5f60"))
	assert.True(t, ValidID("rec_1"))
	assert.False(t, ValidID(""))
	assert.False(t, ValidID("nonexistent/../id"))
	assert.False(t, ValidID("a.b"))
}
