package admission

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPassToken(t *testing.T) {
	a, err := NewPassToken()
	require.NoError(t, err)
	b, err := NewPassToken()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(a, "pass_"))
	assert.Len(t, a, len("pass_")+64)
	assert.NotEqual(t, a, b)
}

func TestPassTokenStore_IssuePeekConsume(t *testing.T) {
	_, rdb := newTestRedis(t)
	s := NewPassTokenStore(rdb, 30*time.Minute)
	ctx := context.Background()

	_, ok, err := s.Peek(ctx, "concert", "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	token, err := s.Issue(ctx, "concert", "u1", time.Minute)
	require.NoError(t, err)

	peeked, ok, err := s.Peek(ctx, "concert", "u1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, token, peeked)

	ok, err = s.ValidateAndConsume(ctx, "concert", "u1", "pass_wrong")
	require.NoError(t, err)
	assert.False(t, ok, "a mismatching token leaves the pass in place")

	ok, err = s.ValidateAndConsume(ctx, "concert", "u2", token)
	require.NoError(t, err)
	assert.False(t, ok, "passes are bound to their client")

	ok, err = s.ValidateAndConsume(ctx, "concert", "u1", token)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ValidateAndConsume(ctx, "concert", "u1", token)
	require.NoError(t, err)
	assert.False(t, ok, "a pass is single use")

	ok, err = s.ValidateAndConsume(ctx, "concert", "u1", "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPassTokenStore_IssueReplacesPrevious(t *testing.T) {
	_, rdb := newTestRedis(t)
	s := NewPassTokenStore(rdb, 30*time.Minute)
	ctx := context.Background()

	old, err := s.Issue(ctx, "concert", "u1", time.Minute)
	require.NoError(t, err)
	fresh, err := s.Issue(ctx, "concert", "u1", time.Minute)
	require.NoError(t, err)

	ok, err := s.ValidateAndConsume(ctx, "concert", "u1", old)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.ValidateAndConsume(ctx, "concert", "u1", fresh)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPassTokenStore_Expiry(t *testing.T) {
	mr, rdb := newTestRedis(t)
	s := NewPassTokenStore(rdb, 30*time.Minute)
	ctx := context.Background()

	token, err := s.Issue(ctx, "concert", "u1", 5*time.Minute)
	require.NoError(t, err)

	mr.FastForward(5*time.Minute + time.Second)

	ok, err := s.ValidateAndConsume(ctx, "concert", "u1", token)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPassTokenStore_ConcurrentConsumeHasOneWinner(t *testing.T) {
	_, rdb := newTestRedis(t)
	s := NewPassTokenStore(rdb, 30*time.Minute)
	ctx := context.Background()

	token, err := s.Issue(ctx, "concert", "u1", time.Minute)
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, err := s.ValidateAndConsume(ctx, "concert", "u1", token); err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestPassTokenStore_StoreErrors(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	s := NewPassTokenStore(rdb, 30*time.Minute)
	ctx := context.Background()

	mock.ExpectGet("q:{concert}:pass:u1").SetErr(errors.New("connection refused"))
	_, ok, err := s.Peek(ctx, "concert", "u1")
	assert.Error(t, err)
	assert.False(t, ok)

	keys := []string{"q:{concert}:pass:u1", "q:{concert}:used:u1"}
	mock.ExpectEvalSha(consumeScript.Hash(), keys, "pass_abc", int64(30*time.Minute/time.Millisecond)).
		SetErr(errors.New("connection refused"))
	ok, err = s.ValidateAndConsume(ctx, "concert", "u1", "pass_abc")
	assert.Error(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}
