package security

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// expectCount queues the MULTI that increments key and opens its window.
func expectCount(mock redismock.ClientMock, key string, window time.Duration, count int64) {
	mock.ExpectTxPipeline()
	mock.ExpectIncr(key).SetVal(count)
	mock.ExpectExpireNX(key, window).SetVal(count == 1)
	mock.ExpectTxPipelineExec()
}

func TestRateLimiter_FirstRequestOpensWindow(t *testing.T) {
	db, mock := redismock.NewClientMock()
	limiter := NewRateLimiter(db, 2, time.Minute, nil)

	expectCount(mock, "ratelimit:scan:user:u1", time.Minute, 1)

	allowed, retry, err := limiter.Allow(context.Background(), "scan", "user:u1")
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Zero(t, retry)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// A counter whose first EXPIRE was lost gets its window back on the next
// request instead of blocking the caller forever.
func TestRateLimiter_EveryIncrementCarriesWindow(t *testing.T) {
	db, mock := redismock.NewClientMock()
	limiter := NewRateLimiter(db, 2, time.Minute, nil)

	expectCount(mock, "ratelimit:scan:user:u1", time.Minute, 2)
	expectCount(mock, "ratelimit:scan:user:u1", time.Minute, 3)
	mock.ExpectTTL("ratelimit:scan:user:u1").SetVal(time.Minute)

	allowed, _, err := limiter.Allow(context.Background(), "scan", "user:u1")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, retry, err := limiter.Allow(context.Background(), "scan", "user:u1")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, time.Minute, retry)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRateLimiter_OverLimit(t *testing.T) {
	db, mock := redismock.NewClientMock()
	limiter := NewRateLimiter(db, 2, time.Minute, nil)

	expectCount(mock, "ratelimit:scan:user:u1", time.Minute, 3)
	mock.ExpectTTL("ratelimit:scan:user:u1").SetVal(20 * time.Second)

	allowed, retry, err := limiter.Allow(context.Background(), "scan", "user:u1")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 20*time.Second, retry)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRateLimiter_OverLimitWithoutTTLFallsBackToWindow(t *testing.T) {
	db, mock := redismock.NewClientMock()
	limiter := NewRateLimiter(db, 1, 30*time.Second, nil)

	expectCount(mock, "ratelimit:orders:10.0.0.1", 30*time.Second, 5)
	mock.ExpectTTL("ratelimit:orders:10.0.0.1").SetErr(errors.New("timeout"))

	allowed, retry, err := limiter.Allow(context.Background(), "orders", "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Equal(t, 30*time.Second, retry)
}

func TestRateLimiter_RedisError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	limiter := NewRateLimiter(db, 2, time.Minute, nil)

	mock.ExpectTxPipeline()
	mock.ExpectIncr("ratelimit:scan:user:u1").SetErr(errors.New("connection refused"))
	mock.ExpectExpireNX("ratelimit:scan:user:u1", time.Minute).SetErr(errors.New("connection refused"))
	mock.ExpectTxPipelineExec()

	_, _, err := limiter.Allow(context.Background(), "scan", "user:u1")
	assert.Error(t, err)
}

func TestIsSuspiciousUserAgent(t *testing.T) {
	tests := []struct {
		ua       string
		expected bool
	}{
		{"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0)", false},
		{"Googlebot/2.1", true},
		{"Some-Crawler/1.0", true},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.ua, func(t *testing.T) {
			assert.Equal(t, tt.expected, isSuspiciousUserAgent(tt.ua))
		})
	}
}
