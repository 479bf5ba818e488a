package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/coder/quartz"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/cloudunify/internal/activity"
	"github.com/smallbiznis/cloudunify/internal/cache"
	"github.com/smallbiznis/cloudunify/internal/config"
	"github.com/smallbiznis/cloudunify/internal/ingest/domain"
	"github.com/smallbiznis/cloudunify/internal/ingest/repository"
	"github.com/smallbiznis/cloudunify/internal/ingest/resolve"
	"github.com/smallbiznis/cloudunify/internal/ingest/validate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// -- Fakes --

type recordingPublisher struct {
	mu     sync.Mutex
	events map[string][]activity.Event
}

func (p *recordingPublisher) Publish(_ context.Context, orgID string, event activity.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.events == nil {
		p.events = map[string][]activity.Event{}
	}
	p.events[orgID] = append(p.events[orgID], event)
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, events := range p.events {
		n += len(events)
	}
	return n
}

type fixture struct {
	svc       domain.Service
	db        *gorm.DB
	clock     *quartz.Mock
	publisher *recordingPublisher
	links     cache.ResourceLinkCache
}

var start = time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Resource{}, &domain.CostRecord{}, &domain.Recommendation{}))

	ctx := context.Background()
	clock := quartz.NewMock(t)
	clock.Set(start).MustWait(ctx)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := config.Config{Ingest: config.IngestConfig{MaxItems: 10, ChunkSize: 2, TxTimeout: 5 * time.Second}}
	links := cache.NewResourceLinkCache(clock, time.Minute)
	publisher := &recordingPublisher{}
	log := zap.NewNop()

	svc := NewService(ServiceParam{
		DB:        db,
		Log:       log,
		GenID:     node,
		Clock:     clock,
		Config:    cfg,
		Rules:     config.StaticIngestRules(config.DefaultIngestRules()),
		Validator: validate.New(),
		Resolver:  resolve.New(db, links, log),
		Executor:  repository.NewExecutor(cfg, log),
		Publisher: publisher,
	})
	return &fixture{svc: svc, db: db, clock: clock, publisher: publisher, links: links}
}

func resourceItem(id, state string) map[string]any {
	return map[string]any{
		"organization_id": "org-1",
		"provider":        "aws",
		"resource_id":     id,
		"resource_type":   "ec2",
		"region":          "us-east-1",
		"state":           state,
	}
}

func bulk(kind domain.Kind, items ...map[string]any) domain.BulkRequest {
	return domain.BulkRequest{Kind: kind, Items: items}
}

// -- Tests --

func TestIngestResourceInsertThenUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.svc.Ingest(ctx, bulk(domain.KindResources, resourceItem("i-1", "running")))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Inserted)
	assert.Equal(t, 0, result.Updated)
	assert.Empty(t, result.Errors)
	assert.NotEmpty(t, result.BatchID)

	f.clock.Advance(time.Hour).MustWait(ctx)

	result, err = f.svc.Ingest(ctx, bulk(domain.KindResources, resourceItem("i-1", "stopped")))
	require.NoError(t, err)
	assert.Equal(t, 0, result.Inserted)
	assert.Equal(t, 1, result.Updated)

	var stored []domain.Resource
	require.NoError(t, f.db.Find(&stored).Error)
	require.Len(t, stored, 1)
	assert.Equal(t, "stopped", stored[0].State)
	assert.True(t, start.Equal(stored[0].CreatedAt), "created_at kept from first insert")
	assert.True(t, stored[0].UpdatedAt.After(stored[0].CreatedAt), "updated_at advanced")
}

func TestIngestPartialErrorsKeepIndices(t *testing.T) {
	f := newFixture(t)

	missingRegion := resourceItem("i-2", "running")
	delete(missingRegion, "region")

	result, err := f.svc.Ingest(context.Background(), bulk(domain.KindResources,
		resourceItem("i-1", "running"),
		missingRegion,
		resourceItem("i-3", "running"),
	))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Inserted)
	assert.Equal(t, []domain.RowError{{Index: 1, Message: "region is required"}}, result.Errors)
}

func TestIngestAllRowsInvalid(t *testing.T) {
	f := newFixture(t)

	bad := resourceItem("i-1", "running")
	bad["provider"] = "oracle"
	noID := resourceItem("", "running")

	result, err := f.svc.Ingest(context.Background(), bulk(domain.KindResources, bad, noID))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrAllRowsRejected))
	assert.Zero(t, result.Processed())

	var rejected *domain.RejectedBatchError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, []domain.RowError{
		{Index: 0, Message: `provider must be one of aws, azure, gcp (got "oracle")`},
		{Index: 1, Message: "resource_id is required"},
	}, rejected.Errors)
	assert.Zero(t, rejected.Result().Inserted)

	var count int64
	require.NoError(t, f.db.Model(&domain.Resource{}).Count(&count).Error)
	assert.Zero(t, count)
	assert.Zero(t, f.publisher.count())
}

func TestIngestRecommendationLinks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Ingest(ctx, bulk(domain.KindResources, resourceItem("i-1", "running")))
	require.NoError(t, err)

	result, err := f.svc.Ingest(ctx, bulk(domain.KindRecommendations,
		map[string]any{"organization_id": "org-1", "recommendation_id": "rec-linked", "resource_id": "i-1", "impact": "Save 20%"},
		map[string]any{"organization_id": "org-1", "recommendation_id": "rec-orphan", "resource_id": "i-missing"},
	))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Inserted)

	var linked, orphan domain.Recommendation
	require.NoError(t, f.db.Take(&linked, "id = ?", "rec-linked").Error)
	require.NoError(t, f.db.Take(&orphan, "id = ?", "rec-orphan").Error)

	var resource domain.Resource
	require.NoError(t, f.db.Take(&resource, "resource_id = ?", "i-1").Error)
	require.NotNil(t, linked.ResourceID)
	assert.Equal(t, resource.ID, *linked.ResourceID)
	assert.Equal(t, []string{"Save 20%"}, []string(linked.ActionItems))
	assert.Nil(t, orphan.ResourceID)

	id, cached := f.links.GetResourceID("org-1", "aws", "i-1")
	assert.True(t, cached)
	assert.Equal(t, resource.ID, id)
	_, cached = f.links.GetResourceID("org-1", "aws", "i-missing")
	assert.False(t, cached)
}

func TestIngestCostFullReplace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cost := func(amount float64) map[string]any {
		return map[string]any{
			"organization_id":  "org-1",
			"cloud_account_id": "acct-1",
			"provider":         "aws",
			"service_name":     "EC2",
			"region":           "us-east-1",
			"cost_date":        "2024-01-01",
			"usage_quantity":   24,
			"usage_unit":       "Hours",
			"cost_amount":      amount,
			"currency":         "usd",
		}
	}

	result, err := f.svc.Ingest(ctx, bulk(domain.KindCosts, cost(10)))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Inserted)

	result, err = f.svc.Ingest(ctx, bulk(domain.KindCosts, cost(12.5)))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Updated)

	var stored []domain.CostRecord
	require.NoError(t, f.db.Find(&stored).Error)
	require.Len(t, stored, 1)
	assert.Equal(t, "12.5", stored[0].CostAmount.String())
	assert.Equal(t, "USD", stored[0].Currency)
}

func TestIngestDryRunRollsBack(t *testing.T) {
	f := newFixture(t)

	req := bulk(domain.KindResources, resourceItem("i-1", "running"), resourceItem("i-2", "running"))
	req.DryRun = true
	result, err := f.svc.Ingest(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Inserted)

	var count int64
	require.NoError(t, f.db.Model(&domain.Resource{}).Count(&count).Error)
	assert.Zero(t, count)
	assert.Zero(t, f.publisher.count())
}

func TestIngestPublishesPerOrganization(t *testing.T) {
	f := newFixture(t)

	other := resourceItem("i-9", "running")
	other["organization_id"] = "org-2"

	req := bulk(domain.KindResources, resourceItem("i-1", "running"), resourceItem("i-2", "running"), other)
	req.Source = "loader"
	result, err := f.svc.Ingest(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, f.publisher.events["org-1"], 1)
	require.Len(t, f.publisher.events["org-2"], 1)

	event := f.publisher.events["org-1"][0]
	assert.Equal(t, "resources.bulk", event.Type)
	assert.Equal(t, activity.BulkSummary{
		Source:         "loader",
		BatchID:        result.BatchID,
		ProcessedCount: 2,
		InsertedTotal:  2,
	}, event.Payload)
	assert.Equal(t, 1, f.publisher.events["org-2"][0].Payload.(activity.BulkSummary).InsertedTotal)
}

func TestIngestRejectsBadRequests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Ingest(ctx, domain.BulkRequest{Kind: "invoices", Items: []map[string]any{}})
	assert.ErrorIs(t, err, domain.ErrInvalidKind)

	_, err = f.svc.Ingest(ctx, domain.BulkRequest{Kind: domain.KindCosts})
	assert.ErrorIs(t, err, domain.ErrInvalidItems)

	items := make([]map[string]any, 11)
	_, err = f.svc.Ingest(ctx, domain.BulkRequest{Kind: domain.KindCosts, Items: items})
	assert.ErrorIs(t, err, domain.ErrTooManyItems)
}

func TestIngestEmptyItems(t *testing.T) {
	f := newFixture(t)
	result, err := f.svc.Ingest(context.Background(), domain.BulkRequest{Kind: domain.KindCosts, Items: []map[string]any{}})
	require.NoError(t, err)
	assert.Zero(t, result.Processed())
	assert.Empty(t, result.Errors)
}

func TestIngestCancelledContextAborts(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.svc.Ingest(ctx, bulk(domain.KindResources, resourceItem("i-1", "running")))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBatchAborted)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, f.publisher.count())
}
