package authz

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPrincipalCachePutGetInvalidate(t *testing.T) {
	cache := NewPrincipalCache(4, time.Minute)

	_, ok := cache.Get(1)
	require.False(t, ok)

	cache.Put(1, Principal{ID: 1, IsActive: true, Roles: []Role{RoleNurse}})
	got, ok := cache.Get(1)
	require.True(t, ok)
	require.Equal(t, int64(1), got.ID)

	cache.Invalidate(1)
	_, ok = cache.Get(1)
	require.False(t, ok)
}

func TestPrincipalCacheTTLExpiry(t *testing.T) {
	cache := NewPrincipalCache(4, 20*time.Millisecond)
	cache.Put(1, Principal{ID: 1})

	_, ok := cache.Get(1)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		_, ok := cache.Get(1)
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestPrincipalCacheDefaults(t *testing.T) {
	cache := NewPrincipalCache(0, 0)
	require.Equal(t, DefaultCacheTTL, cache.TTL())

	cache = NewPrincipalCache(-1, -time.Second)
	require.Equal(t, DefaultCacheTTL, cache.TTL())
}

func TestPrincipalCacheEviction(t *testing.T) {
	cache := NewPrincipalCache(2, time.Minute)
	cache.Put(1, Principal{ID: 1})
	cache.Put(2, Principal{ID: 2})
	cache.Put(3, Principal{ID: 3})

	_, ok := cache.Get(1)
	require.False(t, ok)
	_, ok = cache.Get(3)
	require.True(t, ok)
}
