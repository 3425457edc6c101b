//go:build integration

package sessions_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"smartattend/internal/escalation/sessions"
	"smartattend/pkg/testutil/containers"
)

type RedisInvalidatorSuite struct {
	suite.Suite
	redis       *containers.RedisContainer
	invalidator *sessions.RedisInvalidator
}

func TestRedisInvalidatorSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisInvalidatorSuite))
}

func (s *RedisInvalidatorSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	s.invalidator = sessions.NewRedis(s.redis.Client)
}

func (s *RedisInvalidatorSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisInvalidatorSuite) TestMarkAndCheck() {
	ctx := context.Background()

	marked, err := s.invalidator.IsMarked(ctx, "user-1")
	s.Require().NoError(err)
	s.False(marked)

	s.Require().NoError(s.invalidator.Invalidate(ctx, "user-1"))

	marked, err = s.invalidator.IsMarked(ctx, "user-1")
	s.Require().NoError(err)
	s.True(marked)

	s.Run("other users stay unmarked", func() {
		marked, err := s.invalidator.IsMarked(ctx, "user-2")
		s.Require().NoError(err)
		s.False(marked)
	})

	s.Run("marking is idempotent", func() {
		s.Require().NoError(s.invalidator.Invalidate(ctx, "user-1"))
		marked, err := s.invalidator.IsMarked(ctx, "user-1")
		s.Require().NoError(err)
		s.True(marked)
	})
}

func (s *RedisInvalidatorSuite) TestMarkExpires() {
	ctx := context.Background()
	short := sessions.NewRedis(s.redis.Client, sessions.WithMarkTTL(200*time.Millisecond))

	s.Require().NoError(short.Invalidate(ctx, "user-1"))

	marked, err := short.IsMarked(ctx, "user-1")
	s.Require().NoError(err)
	s.True(marked)

	time.Sleep(300 * time.Millisecond)

	marked, err = short.IsMarked(ctx, "user-1")
	s.Require().NoError(err)
	s.False(marked)
}
