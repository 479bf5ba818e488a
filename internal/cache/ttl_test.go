package cache

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTTLCacheExpiresEntries(t *testing.T) {
	clock := quartz.NewMock(t)
	c := NewTTLCache[string, int](clock, 10)

	c.Set("a", 1, time.Minute)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	clock.Advance(time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestTTLCacheIgnoresNonPositiveTTL(t *testing.T) {
	c := NewTTLCache[string, int](quartz.NewMock(t), 10)
	c.Set("a", 1, 0)
	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestTTLCacheSweepsWhenFull(t *testing.T) {
	clock := quartz.NewMock(t)
	c := NewTTLCache[int, int](clock, 2)

	c.Set(1, 1, time.Second)
	c.Set(2, 2, time.Hour)
	clock.Advance(2 * time.Second)
	c.Set(3, 3, time.Hour)

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get(2)
	assert.True(t, ok)
}

func TestResourceLinkCacheIsCaseSensitive(t *testing.T) {
	c := NewResourceLinkCache(quartz.NewMock(t), time.Minute)
	c.SetResourceID("O", "aws", "i-ABC", snowflake.ID(42))

	id, ok := c.GetResourceID("O", "aws", "i-ABC")
	require.True(t, ok)
	assert.Equal(t, snowflake.ID(42), id)

	_, ok = c.GetResourceID("O", "aws", "i-abc")
	assert.False(t, ok)

	c.Forget("O", "aws", "i-ABC")
	_, ok = c.GetResourceID("O", "aws", "i-ABC")
	assert.False(t, ok)
}

func TestResourceLinkCacheSkipsZeroID(t *testing.T) {
	c := NewResourceLinkCache(quartz.NewMock(t), time.Minute)
	c.SetResourceID("O", "aws", "i-1", 0)
	_, ok := c.GetResourceID("O", "aws", "i-1")
	assert.False(t, ok)
}
