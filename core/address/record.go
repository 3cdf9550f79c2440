// Package address holds the disposable address model, the table contract and the
// lifecycle rules around it.
package address

import (
	"context"
	"errors"
	"time"
)

// TimestampLayout renders UTC ISO-8601 timestamps with microseconds and a trailing Z.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

var (
	// ErrAddressExists is returned by Store.Create when the key is already taken.
	ErrAddressExists = errors.New("address: already exists")
	// ErrNotFound is returned when no record exists for the key.
	ErrNotFound = errors.New("address: not found")
	// ErrNotOwner is returned when a user acts on another user's address.
	ErrNotOwner = errors.New("address: not owned by requester")
	// ErrExhausted is returned when every generated candidate collided.
	ErrExhausted = errors.New("address: no free address after retries")
)

// Record is one row of the address table, keyed by EmailAddress.
type Record struct {
	EmailAddress   string  `json:"email_address" db:"email_address"`
	TelegramUserID string  `json:"telegram_user_id" db:"telegram_user_id"`
	CreatedAt      string  `json:"created_at" db:"created_at"`
	Active         bool    `json:"active" db:"active"`
	UsageCount     int     `json:"usage_count" db:"usage_count"`
	LastEmailAt    *string `json:"last_email_at,omitempty" db:"last_email_at"`
}

// Store is the durable address table.
//
// Create must be atomic with respect to the key: two concurrent creates of the same
// address leave exactly one record and one ErrAddressExists. Deactivate only ever
// writes active=false and reports ErrNotFound instead of creating a record.
type Store interface {
	Create(ctx context.Context, rec Record) error
	Get(ctx context.Context, email string) (Record, error)
	ListByOwner(ctx context.Context, ownerID string) ([]Record, error)
	Deactivate(ctx context.Context, email string) error
	Ping(ctx context.Context) error
}

// FormatTimestamp renders t the way created_at and last_email_at are stored.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
