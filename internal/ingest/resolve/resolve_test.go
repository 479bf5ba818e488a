package resolve

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/coder/quartz"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/cloudunify/internal/cache"
	"github.com/smallbiznis/cloudunify/internal/ingest/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Resource{}))
	return db
}

func seedResource(t *testing.T, db *gorm.DB, id snowflake.ID, provider, externalID string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, db.Create(&domain.Resource{
		ID:             id,
		OrganizationID: "org-1",
		Provider:       provider,
		ResourceID:     externalID,
		ResourceType:   "vm",
		Region:         "eu",
		State:          "running",
		CreatedAt:      now,
		UpdatedAt:      now,
		Revision:       1,
	}).Error)
}

func TestLinkFoundAndCachedAfterCommit(t *testing.T) {
	db := openDB(t)
	seedResource(t, db, 101, domain.ProviderGCP, "vm-9")

	links := cache.NewResourceLinkCache(quartz.NewMock(t), time.Minute)
	resolver := New(db, links, zap.NewNop())

	session := resolver.Begin(db)
	rec := &domain.Recommendation{ID: "rec-1", OrganizationID: "org-1", Provider: domain.ProviderGCP, ResourceExternalID: "vm-9"}
	require.NoError(t, session.Link(context.Background(), rec))
	require.NotNil(t, rec.ResourceID)
	assert.Equal(t, snowflake.ID(101), *rec.ResourceID)

	_, cached := links.GetResourceID("org-1", domain.ProviderGCP, "vm-9")
	assert.False(t, cached, "links are published only on commit")

	session.Commit()
	id, cached := links.GetResourceID("org-1", domain.ProviderGCP, "vm-9")
	assert.True(t, cached)
	assert.Equal(t, snowflake.ID(101), id)
}

func TestLinkMissIsNilAndNotCached(t *testing.T) {
	db := openDB(t)
	links := cache.NewResourceLinkCache(quartz.NewMock(t), time.Minute)
	resolver := New(db, links, zap.NewNop())

	session := resolver.Begin(db)
	rec := &domain.Recommendation{ID: "rec-2", OrganizationID: "org-1", Provider: domain.ProviderAWS, ResourceExternalID: "i-404"}
	require.NoError(t, session.Link(context.Background(), rec))
	assert.Nil(t, rec.ResourceID)

	session.Commit()
	_, cached := links.GetResourceID("org-1", domain.ProviderAWS, "i-404")
	assert.False(t, cached)
}

func TestLinkDefaultsProviderToAWS(t *testing.T) {
	db := openDB(t)
	seedResource(t, db, 7, domain.ProviderAWS, "i-1")

	session := New(db, nil, nil).Begin(db)
	rec := &domain.Recommendation{ID: "rec-3", OrganizationID: "org-1", ResourceExternalID: "i-1"}
	require.NoError(t, session.Link(context.Background(), rec))
	require.NotNil(t, rec.ResourceID)
	assert.Equal(t, snowflake.ID(7), *rec.ResourceID)
}

func TestDiscardDropsPendingLinks(t *testing.T) {
	db := openDB(t)
	seedResource(t, db, 9, domain.ProviderAzure, "vm-a")
	links := cache.NewResourceLinkCache(quartz.NewMock(t), time.Minute)

	session := New(db, links, nil).Begin(db)
	rec := &domain.Recommendation{ID: "rec-4", OrganizationID: "org-1", Provider: domain.ProviderAzure, ResourceExternalID: "vm-a"}
	require.NoError(t, session.Link(context.Background(), rec))
	session.Discard()
	session.Commit()

	_, cached := links.GetResourceID("org-1", domain.ProviderAzure, "vm-a")
	assert.False(t, cached)
}

func TestLinkWithoutExternalID(t *testing.T) {
	db := openDB(t)
	session := New(db, nil, nil).Begin(db)
	id := snowflake.ID(5)
	rec := &domain.Recommendation{ID: "rec-5", OrganizationID: "org-1", ResourceID: &id}
	require.NoError(t, session.Link(context.Background(), rec))
	assert.Nil(t, rec.ResourceID)
}
