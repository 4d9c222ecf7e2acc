package redis

import (
	"context"
	"fmt"
	"time"

	redislib "github.com/redis/go-redis/v9"

	"github.com/fastygo/taskledger/domain"
)

// Suppressor claims notification dedup keys in Redis so that every engine
// instance sharing the same Redis agrees on the suppression window.
type Suppressor struct {
	client *redislib.Client
	prefix string
}

// NewSuppressor creates a Redis-backed notification suppressor.
func NewSuppressor(client *redislib.Client) *Suppressor {
	return &Suppressor{
		client: client,
		prefix: "notify:dedup:",
	}
}

// Claim returns true when the caller is the first to use key inside window.
// SET NX PX makes the check and the claim a single atomic step.
func (s *Suppressor) Claim(ctx context.Context, key string, window time.Duration) (bool, error) {
	if window <= 0 {
		return true, nil
	}
	ok, err := s.client.SetNX(ctx, s.key(key), time.Now().UnixNano(), window).Result()
	if err != nil {
		return false, domain.WrapError(domain.ErrCodeUnavailable, "redis suppressor unavailable", err)
	}
	return ok, nil
}

// Release drops a claim, used when the event that claimed it could not be created.
func (s *Suppressor) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

func (s *Suppressor) key(id string) string {
	return fmt.Sprintf("%s%s", s.prefix, id)
}
