package store

import (
	"fmt"
	"regexp"

	"github.com/JakeFAU/realtime-csv-ingest/internal/clock/system"
	"github.com/JakeFAU/realtime-csv-ingest/internal/id/uuid"
)

var validID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// ValidID reports whether id has the shape of an issued identifier. Backends
// that derive object keys or file names from ids reject anything else as not
// found.
func ValidID(id string) bool {
	return validID.MatchString(id)
}

// Stamper assigns identity and creation time to new records.
type Stamper struct {
	ids   IDGenerator
	clock Clock
}

// NewStamper falls back to UUIDv7 ids and the UTC system clock when either
// dependency is nil.
func NewStamper(ids IDGenerator, clock Clock) Stamper {
	if ids == nil {
		ids = uuid.New()
	}
	if clock == nil {
		clock = system.New()
	}
	return Stamper{ids: ids, clock: clock}
}

// Stamp builds the stored form of rec with a fresh id.
func (s Stamper) Stamp(rec NewRecord) (Record, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return Record{}, fmt.Errorf("assign record id: %w", err)
	}
	if !ValidID(id) {
		return Record{}, fmt.Errorf("generated id %q is not a valid record id", id)
	}
	return Record{
		ID:        id,
		Rows:      CloneRows(rec.Rows),
		Checksum:  rec.Checksum,
		SizeBytes: rec.SizeBytes,
		CreatedAt: s.clock.Now().UTC(),
	}, nil
}
