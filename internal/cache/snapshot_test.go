package cache

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotCacheHit(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	sc := NewSnapshotCache(rdb, 2*time.Second)

	mock.ExpectGet("seatsnap:st-1").SetVal(`{"seats":[]}`)

	body, ok := sc.Get(context.Background(), "st-1")
	require.True(t, ok)
	assert.Equal(t, `{"seats":[]}`, string(body))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotCacheMissAndErrorBothReadAsMiss(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	sc := NewSnapshotCache(rdb, 2*time.Second)

	mock.ExpectGet("seatsnap:st-1").RedisNil()
	_, ok := sc.Get(context.Background(), "st-1")
	assert.False(t, ok)

	mock.ExpectGet("seatsnap:st-1").SetErr(assert.AnError)
	_, ok = sc.Get(context.Background(), "st-1")
	assert.False(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotCacheSetUsesTTL(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	sc := NewSnapshotCache(rdb, 2*time.Second)

	mock.ExpectSetEx("seatsnap:st-1", []byte(`{"seats":[]}`), 2*time.Second).SetVal("OK")
	sc.Set(context.Background(), "st-1", []byte(`{"seats":[]}`))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotCacheDefaultTTL(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	sc := NewSnapshotCache(rdb, 0)

	mock.ExpectSetEx("seatsnap:st-9", []byte("x"), 2*time.Second).SetVal("OK")
	sc.Set(context.Background(), "st-9", []byte("x"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotCacheInvalidate(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	sc := NewSnapshotCache(rdb, time.Second)

	mock.ExpectDel("seatsnap:st-1").SetVal(1)
	sc.Invalidate(context.Background(), "st-1")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshotCacheNilClientIsDisabled(t *testing.T) {
	sc := NewSnapshotCache(nil, time.Second)

	_, ok := sc.Get(context.Background(), "st-1")
	assert.False(t, ok)
	sc.Set(context.Background(), "st-1", []byte("x"))
	sc.Invalidate(context.Background(), "st-1")
}
