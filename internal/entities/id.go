package entities

import (
	"crypto/rand"

	"github.com/oklog/ulid/v2"
)

// NewID generates a new ULID for entity types, attribute definitions and
// entities. ULIDs sort by creation time, which keeps listing order stable
// without an extra sequence column.
func NewID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}
