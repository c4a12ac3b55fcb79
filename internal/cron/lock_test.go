package cron

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryLockStore struct {
	values  map[string]string
	extends int
}

func (m *memoryLockStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = value.(string)
	return true, nil
}

func (m *memoryLockStore) CompareAndDelete(_ context.Context, key, expected string) (bool, error) {
	if m.values[key] != expected {
		return false, nil
	}
	delete(m.values, key)
	return true, nil
}

func (m *memoryLockStore) CompareAndExpire(_ context.Context, key, expected string, _ time.Duration) (bool, error) {
	if m.values[key] != expected {
		return false, nil
	}
	m.extends++
	return true, nil
}

func TestRedisLockIsExclusive(t *testing.T) {
	store := &memoryLockStore{values: map[string]string{}}
	first, err := NewRedisLock(store, "ml:lock:cron", time.Minute)
	require.NoError(t, err)
	second, err := NewRedisLock(store, "ml:lock:cron", time.Minute)
	require.NoError(t, err)

	ok, err := first.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = second.Acquire(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, second.Release(context.Background()))
	assert.Contains(t, store.values, "ml:lock:cron", "a non-owner release leaves the lock")

	require.NoError(t, first.Release(context.Background()))
	ok, err = second.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLockReleaseSkipsTakenOverLock(t *testing.T) {
	store := &memoryLockStore{values: map[string]string{}}
	lock, err := NewRedisLock(store, "ml:lock:cron", 0)
	require.NoError(t, err)
	assert.Equal(t, defaultLockTTL, lock.ttl)

	ok, err := lock.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	// TTL expired and another worker took over
	store.values["ml:lock:cron"] = "someone-else"
	require.NoError(t, lock.Release(context.Background()))
	assert.Equal(t, "someone-else", store.values["ml:lock:cron"])
}

func TestNewRedisLockValidates(t *testing.T) {
	_, err := NewRedisLock(nil, "k", time.Minute)
	assert.Error(t, err)
	_, err = NewRedisLock(&memoryLockStore{}, "", time.Minute)
	assert.Error(t, err)
}

func TestRedisLockExtendDetectsLostLease(t *testing.T) {
	store := &memoryLockStore{values: map[string]string{}}
	lock, err := NewRedisLock(store, "ml:lock:cron", time.Minute)
	require.NoError(t, err)

	ok, err := lock.Extend(context.Background())
	require.NoError(t, err)
	assert.False(t, ok, "extend before acquire")

	ok, err = lock.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = lock.Extend(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, store.extends)

	store.values["ml:lock:cron"] = "someone-else"
	ok, err = lock.Extend(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, lock.Release(context.Background()))
	assert.Equal(t, "someone-else", store.values["ml:lock:cron"], "a lost lease is never released")
}
