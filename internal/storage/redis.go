package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/user/tender-service/internal/domain"
)

var ErrCacheMiss = errors.New("tender not cached")

// RedisStore mirrors normalized records keyed by tender id.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(addr, password string, db int, ttl time.Duration) *RedisStore {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	return &RedisStore{client: rdb, ttl: ttl}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// PublishTenders writes each record as JSON under its tender id.
func (s *RedisStore) PublishTenders(ctx context.Context, tenders []*domain.Tender) error {
	if len(tenders) == 0 {
		return nil
	}
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, t := range tenders {
			b, err := json.Marshal(t)
			if err != nil {
				return fmt.Errorf("encode tender %s: %w", t.TenderID, err)
			}
			pipe.Set(ctx, t.TenderID, b, s.ttl)
		}
		return nil
	})
	return err
}

// GetTender returns the cached record or ErrCacheMiss.
func (s *RedisStore) GetTender(ctx context.Context, tenderID string) (*domain.Tender, error) {
	b, err := s.client.Get(ctx, tenderID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	var t domain.Tender
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("decode cached tender %s: %w", tenderID, err)
	}
	return &t, nil
}

// PatchImageLinks replaces the links of a cached record, keeping its TTL.
// Records that are not cached are left alone.
func (s *RedisStore) PatchImageLinks(ctx context.Context, tenderID string, links []string) error {
	t, err := s.GetTender(ctx, tenderID)
	if errors.Is(err, ErrCacheMiss) {
		return nil
	}
	if err != nil {
		return err
	}
	t.ImagesLinks = links
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, tenderID, b, redis.KeepTTL).Err()
}

func (s *RedisStore) Delete(ctx context.Context, tenderIDs ...string) error {
	if len(tenderIDs) == 0 {
		return nil
	}
	return s.client.Del(ctx, tenderIDs...).Err()
}
