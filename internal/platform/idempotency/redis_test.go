package idempotency

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store, err := NewRedisStore(client, "idem:")
	require.NoError(t, err)
	return store, srv
}

func TestRedisStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store, srv := newRedisStore(t)

	res, err := store.Reserve(ctx, "k|u1", "fp", fixedTime, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, ReservationStateNew, res.State)
	assert.True(t, srv.Exists("idem:"+compositeKey("k|u1")))

	res, err = store.Reserve(ctx, "k|u1", "fp", fixedTime, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, ReservationStatePending, res.State)

	_, err = store.Reserve(ctx, "k|u1", "other", fixedTime, time.Minute)
	require.ErrorIs(t, err, ErrFingerprintMismatch)

	resp := Response{Status: http.StatusCreated, Headers: http.Header{"Content-Type": {"application/json"}, "Date": {"x"}}, Body: []byte(`{"ok":true}`)}
	require.NoError(t, store.SaveResponse(ctx, "k|u1", "fp", resp, fixedTime, time.Minute))

	res, err = store.Reserve(ctx, "k|u1", "fp", fixedTime, time.Minute)
	require.NoError(t, err)
	require.Equal(t, ReservationStateCompleted, res.State)
	assert.Equal(t, http.StatusCreated, res.Record.ResponseStatus)
	assert.Equal(t, `{"ok":true}`, string(res.Record.ResponseBody))
	assert.NotContains(t, res.Record.ResponseHeaders, "Date")

	srv.FastForward(2 * time.Minute)
	res, err = store.Reserve(ctx, "k|u1", "other", fixedTime, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, ReservationStateNew, res.State)
}

func TestRedisStoreReleaseChecksFingerprint(t *testing.T) {
	ctx := context.Background()
	store, srv := newRedisStore(t)

	_, err := store.Reserve(ctx, "k", "fp", fixedTime, time.Minute)
	require.NoError(t, err)

	require.NoError(t, store.Release(ctx, "k", "someone-else"))
	assert.True(t, srv.Exists("idem:"+compositeKey("k")))

	require.NoError(t, store.Release(ctx, "k", "fp"))
	assert.False(t, srv.Exists("idem:"+compositeKey("k")))
}

func TestNewRedisStoreRequiresClient(t *testing.T) {
	_, err := NewRedisStore(nil, "")
	require.Error(t, err)
}
