//go:build integration

package redis_test

import (
	"context"
	"testing"
	"time"

	redislib "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/fastygo/taskledger/repository/redis"
)

type SuppressorSuite struct {
	suite.Suite
	container *tcredis.RedisContainer
	client    *redislib.Client
	sup       *redis.Suppressor
}

func TestSuppressorSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(SuppressorSuite))
}

func (s *SuppressorSuite) SetupSuite() {
	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	s.Require().NoError(err)
	s.container = container

	addr, err := container.ConnectionString(ctx)
	s.Require().NoError(err)
	opts, err := redislib.ParseURL(addr)
	s.Require().NoError(err)
	s.client = redislib.NewClient(opts)
	s.Require().NoError(s.client.Ping(ctx).Err())
	s.sup = redis.NewSuppressor(s.client)
}

func (s *SuppressorSuite) TearDownSuite() {
	if s.client != nil {
		_ = s.client.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(context.Background())
	}
}

func (s *SuppressorSuite) SetupTest() {
	s.Require().NoError(s.client.FlushAll(context.Background()).Err())
}

func (s *SuppressorSuite) TestClaimWindow() {
	ctx := context.Background()

	s.Run("first claim wins, second is suppressed", func() {
		ok, err := s.sup.Claim(ctx, "u1|evidence-approved|t1", time.Minute)
		s.Require().NoError(err)
		s.True(ok)

		ok, err = s.sup.Claim(ctx, "u1|evidence-approved|t1", time.Minute)
		s.Require().NoError(err)
		s.False(ok)
	})

	s.Run("claim is available again after the window", func() {
		ok, err := s.sup.Claim(ctx, "u2|evidence-approved|t1", 50*time.Millisecond)
		s.Require().NoError(err)
		s.True(ok)

		s.Eventually(func() bool {
			ok, err := s.sup.Claim(ctx, "u2|evidence-approved|t1", 50*time.Millisecond)
			return err == nil && ok
		}, 2*time.Second, 20*time.Millisecond)
	})

	s.Run("release frees the key", func() {
		ok, err := s.sup.Claim(ctx, "u3|task-assigned|t9", time.Hour)
		s.Require().NoError(err)
		s.True(ok)
		s.Require().NoError(s.sup.Release(ctx, "u3|task-assigned|t9"))

		ok, err = s.sup.Claim(ctx, "u3|task-assigned|t9", time.Hour)
		s.Require().NoError(err)
		s.True(ok)
	})
}
