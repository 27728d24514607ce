package id

import (
	"crypto/rand"

	"github.com/oklog/ulid/v2"
)

// New generates a new ULID string. Used for account IDs and for challenge
// revisions, where sortability makes the newest write easy to spot in logs.
func New() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}
