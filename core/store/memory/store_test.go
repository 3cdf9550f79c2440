package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/m3rciful/inboxbot/core/address"
)

func TestCreateIsConditional(t *testing.T) {
	s := New()
	ctx := context.Background()
	rec := address.Record{EmailAddress: "a@x", TelegramUserID: "1", Active: true}
	if err := s.Create(ctx, rec); err != nil {
		t.Fatalf("create: %v", err)
	}
	rec.TelegramUserID = "2"
	if err := s.Create(ctx, rec); !errors.Is(err, address.ErrAddressExists) {
		t.Fatalf("second create err = %v, want ErrAddressExists", err)
	}
	got, err := s.Get(ctx, "a@x")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.TelegramUserID != "1" {
		t.Fatalf("owner overwritten: %q", got.TelegramUserID)
	}
}

func TestConcurrentCreateSingleWinner(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Create(context.Background(), address.Record{EmailAddress: "race@x"}); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("wins = %d, want 1", wins)
	}
}

func TestDeactivateMissing(t *testing.T) {
	s := New()
	if err := s.Deactivate(context.Background(), "nope@x"); !errors.Is(err, address.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if s.Len() != 0 {
		t.Fatalf("deactivate must not create records")
	}
}

func TestListByOwnerFilters(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.Create(ctx, address.Record{EmailAddress: "a@x", TelegramUserID: "1"})
	_ = s.Create(ctx, address.Record{EmailAddress: "b@x", TelegramUserID: "2"})
	_ = s.Create(ctx, address.Record{EmailAddress: "c@x", TelegramUserID: "1"})
	recs, err := s.ListByOwner(ctx, "1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("len = %d, want 2", len(recs))
	}
	for _, r := range recs {
		if r.TelegramUserID != "1" {
			t.Fatalf("foreign record %+v", r)
		}
	}
}
