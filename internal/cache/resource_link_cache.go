package cache

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/coder/quartz"
)

const defaultResourceLinkTTL = 5 * time.Minute

// ResourceLinkCache remembers which internal resource id an external resource id resolved to.
// Only hits are stored: a miss may become a hit once the resource is ingested.
type ResourceLinkCache interface {
	GetResourceID(orgID, provider, externalID string) (snowflake.ID, bool)
	SetResourceID(orgID, provider, externalID string, id snowflake.ID)
	Forget(orgID, provider, externalID string)
}

type resourceLinkCache struct {
	links Cache[string, snowflake.ID]
	ttl   time.Duration
}

func NewResourceLinkCache(clock quartz.Clock, ttl time.Duration) ResourceLinkCache {
	if ttl <= 0 {
		ttl = defaultResourceLinkTTL
	}
	return &resourceLinkCache{
		links: NewTTLCache[string, snowflake.ID](clock, 50000),
		ttl:   ttl,
	}
}

func (c *resourceLinkCache) GetResourceID(orgID, provider, externalID string) (snowflake.ID, bool) {
	return c.links.Get(cacheKey(orgID, provider, externalID))
}

func (c *resourceLinkCache) SetResourceID(orgID, provider, externalID string, id snowflake.ID) {
	if id == 0 {
		return
	}
	c.links.Set(cacheKey(orgID, provider, externalID), id, c.ttl)
}

func (c *resourceLinkCache) Forget(orgID, provider, externalID string) {
	c.links.Delete(cacheKey(orgID, provider, externalID))
}

// cacheKey keeps the parts case-sensitive: external resource ids are opaque.
func cacheKey(parts ...string) string {
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		values = append(values, strings.TrimSpace(part))
	}
	return strings.Join(values, "\x1f")
}
