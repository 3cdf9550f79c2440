package address

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/m3rciful/inboxbot/core/logger"
)

// Options configures a Service. Zero values fall back to production defaults.
type Options struct {
	Domain      string
	MaxAttempts int
	LocalPart   func() string
	Now         func() time.Time
	// OnCollision is called for each create attempt that hit an existing key.
	OnCollision func(email string)
	// OnDeactivated is called after a record was switched to inactive.
	OnDeactivated func(email string)
}

// Service applies the address lifecycle on top of a Store.
type Service struct {
	store       Store
	domain      string
	maxAttempts int
	localPart   func() string
	now         func() time.Time
	onCollision func(string)
	onDeactive  func(string)
}

// NewService wires a Service around the given store.
func NewService(store Store, opts Options) *Service {
	s := &Service{
		store:       store,
		domain:      opts.Domain,
		maxAttempts: opts.MaxAttempts,
		localPart:   opts.LocalPart,
		now:         opts.Now,
		onCollision: opts.OnCollision,
		onDeactive:  opts.OnDeactivated,
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = 1
	}
	if s.localPart == nil {
		s.localPart = RandomLocalPart
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// OwnerID renders a Telegram chat id the way it is stored in telegram_user_id.
func OwnerID(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}

// Create provisions a fresh active address for owner. A key collision regenerates the
// local part; after MaxAttempts collisions it fails with ErrExhausted.
func (s *Service) Create(ctx context.Context, owner string) (Record, error) {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		rec := Record{
			EmailAddress:   Compose(s.localPart(), s.domain),
			TelegramUserID: owner,
			CreatedAt:      FormatTimestamp(s.now()),
			Active:         true,
			UsageCount:     0,
		}
		err := s.store.Create(ctx, rec)
		if err == nil {
			logger.LogEvent(ctx, logger.Store, slog.LevelInfo, "address.create",
				slog.String("status", "ok"),
				slog.String("address", rec.EmailAddress),
				slog.Int("attempts", attempt),
			)
			return rec, nil
		}
		if !errors.Is(err, ErrAddressExists) {
			return Record{}, fmt.Errorf("create address: %w", err)
		}
		if s.onCollision != nil {
			s.onCollision(rec.EmailAddress)
		}
		logger.LogEvent(ctx, logger.Store, slog.LevelWarn, "address.collision",
			slog.String("status", "skip"),
			slog.String("address", rec.EmailAddress),
			slog.Int("attempts", attempt),
		)
	}
	return Record{}, fmt.Errorf("create address after %d attempts: %w", s.maxAttempts, ErrExhausted)
}

// List returns owner's records ordered by creation time, then address.
func (s *Service) List(ctx context.Context, owner string) ([]Record, error) {
	recs, err := s.store.ListByOwner(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list addresses: %w", err)
	}
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].CreatedAt != recs[j].CreatedAt {
			return recs[i].CreatedAt < recs[j].CreatedAt
		}
		return recs[i].EmailAddress < recs[j].EmailAddress
	})
	return recs, nil
}

// Deactivate sets active=false on email when it belongs to requester.
// An already inactive record is returned as is without another write.
func (s *Service) Deactivate(ctx context.Context, email, requester string) (Record, error) {
	rec, err := s.store.Get(ctx, email)
	if err != nil {
		return Record{}, fmt.Errorf("deactivate %s: %w", email, err)
	}
	if rec.TelegramUserID != requester {
		return Record{}, fmt.Errorf("deactivate %s: %w", email, ErrNotOwner)
	}
	if !rec.Active {
		return rec, nil
	}
	if err := s.store.Deactivate(ctx, email); err != nil {
		return Record{}, fmt.Errorf("deactivate %s: %w", email, err)
	}
	rec.Active = false
	if s.onDeactive != nil {
		s.onDeactive(email)
	}
	logger.LogEvent(ctx, logger.Store, slog.LevelInfo, "address.deactivate",
		slog.String("status", "ok"),
		slog.String("address", email),
	)
	return rec, nil
}

// Ping checks the underlying store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
