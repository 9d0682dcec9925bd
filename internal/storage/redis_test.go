package storage

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/user/tender-service/internal/domain"
)

func newTestRedis(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	s := NewRedisStore(mr.Addr(), "", 0, ttl)
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestPublishTendersWritesJSONByID(t *testing.T) {
	s, mr := newTestRedis(t, 0)
	ctx := context.Background()
	count := 2

	err := s.PublishTenders(ctx, []*domain.Tender{
		{Category: domain.Nonresidential, TenderID: "1", InvestmoscowURL: "u1", NonresidentialFields: &domain.NonresidentialFields{}},
		{Category: domain.ParkingSpace, TenderID: "2", ParkingFields: &domain.ParkingFields{Count: &count}},
	})
	if err != nil {
		t.Fatalf("PublishTenders: %v", err)
	}

	raw, err := mr.Get("1")
	if err != nil {
		t.Fatalf("key 1 missing: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["tender_id"] != "1" || decoded["investmoscow_url"] != "u1" {
		t.Fatalf("decoded = %v", decoded)
	}

	got, err := s.GetTender(ctx, "2")
	if err != nil {
		t.Fatal(err)
	}
	if got.Category != domain.ParkingSpace || got.ParkingFields == nil || *got.Count != 2 {
		t.Fatalf("round trip lost parking fields: %+v", got)
	}
}

func TestPublishTendersAppliesTTL(t *testing.T) {
	s, mr := newTestRedis(t, time.Hour)
	if err := s.PublishTenders(context.Background(), []*domain.Tender{{TenderID: "5"}}); err != nil {
		t.Fatal(err)
	}
	if ttl := mr.TTL("5"); ttl != time.Hour {
		t.Fatalf("ttl = %v", ttl)
	}
}

func TestGetTenderMiss(t *testing.T) {
	s, _ := newTestRedis(t, 0)
	if _, err := s.GetTender(context.Background(), "missing"); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("err = %v, want ErrCacheMiss", err)
	}
}

func TestPatchImageLinks(t *testing.T) {
	s, mr := newTestRedis(t, time.Hour)
	ctx := context.Background()
	if err := s.PublishTenders(ctx, []*domain.Tender{{Category: domain.Nonresidential, TenderID: "3"}}); err != nil {
		t.Fatal(err)
	}
	mr.FastForward(10 * time.Minute)

	if err := s.PatchImageLinks(ctx, "3", []string{"https://disk.yandex.ru/i/x"}); err != nil {
		t.Fatalf("PatchImageLinks: %v", err)
	}
	got, err := s.GetTender(ctx, "3")
	if err != nil {
		t.Fatal(err)
	}
	if len(got.ImagesLinks) != 1 || got.ImagesLinks[0] != "https://disk.yandex.ru/i/x" {
		t.Fatalf("links = %v", got.ImagesLinks)
	}
	if ttl := mr.TTL("3"); ttl != 50*time.Minute {
		t.Fatalf("ttl = %v, want the remaining 50m", ttl)
	}

	if err := s.PatchImageLinks(ctx, "absent", []string{"x"}); err != nil {
		t.Fatalf("patching an uncached record should be a no-op, got %v", err)
	}
	if mr.Exists("absent") {
		t.Fatal("patch must not create records")
	}
}

func TestDelete(t *testing.T) {
	s, mr := newTestRedis(t, 0)
	ctx := context.Background()
	_ = s.PublishTenders(ctx, []*domain.Tender{{TenderID: "a"}, {TenderID: "b"}})

	if err := s.Delete(ctx, "a", "b"); err != nil {
		t.Fatal(err)
	}
	if mr.Exists("a") || mr.Exists("b") {
		t.Fatal("keys not deleted")
	}
	if err := s.Delete(ctx); err != nil {
		t.Fatal(err)
	}
}
