package address

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// LocalPartLength is the number of hex characters taken from a random UUID.
const LocalPartLength = 10

// RandomLocalPart returns 10 lowercase hex characters of a random 128-bit UUID.
func RandomLocalPart() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])[:LocalPartLength]
}

// Compose joins a local part and a domain into an address.
func Compose(local, domain string) string {
	return local + "@" + domain
}
