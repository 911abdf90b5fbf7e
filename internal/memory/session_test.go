package memory

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev.helix.ensemble/internal/models"
)

func testMemory(t *testing.T) (*RedisMemory, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisMemory(client, logrus.New()), mr
}

func TestStoreAndGetContext(t *testing.T) {
	mem, _ := testMemory(t)
	ctx := context.Background()

	require.NoError(t, mem.Store(ctx, "s1", Turn{Prompt: "first question", Answer: "first answer"}, time.Minute))
	require.NoError(t, mem.Store(ctx, "s1", Turn{Prompt: "second question", Answer: "second answer"}, time.Minute))

	got, err := mem.GetContext(ctx, "s1")
	require.NoError(t, err)
	assert.Contains(t, got, "first question")
	assert.Contains(t, got, "second answer")
}

func TestGetContextEmptySession(t *testing.T) {
	mem, _ := testMemory(t)

	got, err := mem.GetContext(context.Background(), "never-seen")
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = mem.GetContext(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStoreTrimsToMaxTurns(t *testing.T) {
	mem, mr := testMemory(t)
	ctx := context.Background()

	for i := 0; i < maxTurns+5; i++ {
		require.NoError(t, mem.Store(ctx, "s1", Turn{Prompt: "p", Answer: "a"}, 0))
	}
	entries, err := mr.List(sessionKey("s1"))
	require.NoError(t, err)
	assert.Len(t, entries, maxTurns)
}

func TestStoreSetsTTL(t *testing.T) {
	mem, mr := testMemory(t)

	require.NoError(t, mem.Store(context.Background(), "s1", Turn{Prompt: "p", Answer: "a"}, time.Minute))
	assert.Greater(t, mr.TTL(sessionKey("s1")), time.Duration(0))
}

func TestContextForDegradesOnFailure(t *testing.T) {
	mem, mr := testMemory(t)
	mr.Close()

	got := ContextFor(context.Background(), mem, &models.Request{SessionID: "s1"}, logrus.New())
	assert.Empty(t, got, "store failure degrades to empty context")
}

func TestContextForSkipsWithoutSession(t *testing.T) {
	got := ContextFor(context.Background(), NopMemory{}, &models.Request{}, logrus.New())
	assert.Empty(t, got)
}

func TestNopMemory(t *testing.T) {
	var mem SessionMemory = NopMemory{}

	require.NoError(t, mem.Store(context.Background(), "s", Turn{}, time.Minute))
	got, err := mem.GetContext(context.Background(), "s")
	require.NoError(t, err)
	assert.Empty(t, got)
}
