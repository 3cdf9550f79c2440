// Package memory keeps the address table in process memory. It is used for tests
// and local development; nothing survives a restart.
package memory

import (
	"context"
	"sync"

	"github.com/m3rciful/inboxbot/core/address"
)

// Store is a mutex-guarded map keyed by email address.
type Store struct {
	mu      sync.RWMutex
	records map[string]address.Record
	writes  int
}

// New returns an empty store.
func New() *Store {
	return &Store{records: make(map[string]address.Record)}
}

var _ address.Store = (*Store)(nil)

func (s *Store) Create(_ context.Context, rec address.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.EmailAddress]; ok {
		return address.ErrAddressExists
	}
	s.records[rec.EmailAddress] = clone(rec)
	s.writes++
	return nil
}

func (s *Store) Get(_ context.Context, email string) (address.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[email]
	if !ok {
		return address.Record{}, address.ErrNotFound
	}
	return clone(rec), nil
}

// ListByOwner scans every record, like the key-value table it stands in for.
func (s *Store) ListByOwner(_ context.Context, ownerID string) ([]address.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []address.Record
	for _, rec := range s.records {
		if rec.TelegramUserID == ownerID {
			out = append(out, clone(rec))
		}
	}
	return out, nil
}

func (s *Store) Deactivate(_ context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[email]
	if !ok {
		return address.ErrNotFound
	}
	rec.Active = false
	s.records[email] = rec
	s.writes++
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }

// Put stores rec unconditionally. It stands in for writers outside this bot,
// such as the mail ingestion side setting last_email_at.
func (s *Store) Put(rec address.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.EmailAddress] = clone(rec)
}

// Writes reports how many mutating calls succeeded.
func (s *Store) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

// Len reports the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func clone(rec address.Record) address.Record {
	if rec.LastEmailAt != nil {
		v := *rec.LastEmailAt
		rec.LastEmailAt = &v
	}
	return rec
}
