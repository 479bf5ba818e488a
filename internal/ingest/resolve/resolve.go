// Package resolve links recommendations to the internal id of the resource they target.
package resolve

import (
	"context"
	"fmt"
	"strings"

	"github.com/smallbiznis/cloudunify/internal/cache"
	"github.com/smallbiznis/cloudunify/internal/ingest/domain"
	"github.com/smallbiznis/cloudunify/pkg/db/option"
	"github.com/smallbiznis/cloudunify/pkg/repository"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// FallbackProvider is used when neither the row nor the batch names a provider.
const FallbackProvider = domain.ProviderAWS

type Resolver struct {
	links     cache.ResourceLinkCache
	resources repository.Repository[domain.Resource]
	log       *zap.Logger
}

func New(db *gorm.DB, links cache.ResourceLinkCache, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{
		links:     links,
		resources: repository.ProvideStore[domain.Resource](db),
		log:       log.Named("ingest.resolve"),
	}
}

type link struct {
	orgID, provider, externalID string
	record                      *domain.Recommendation
}

// Session resolves links for one batch inside its transaction. Hits found in the
// database are published to the shared cache only by Commit.
type Session struct {
	resolver  *Resolver
	resources repository.Repository[domain.Resource]
	pending   []link
	hits      int
	misses    int
}

func (r *Resolver) Begin(tx *gorm.DB) *Session {
	return &Session{
		resolver:  r,
		resources: r.resources.WithTrx(tx),
	}
}

// Link sets rec.ResourceID from its external resource id. A missing resource leaves the link nil.
func (s *Session) Link(ctx context.Context, rec *domain.Recommendation) error {
	rec.ResourceID = nil

	externalID := strings.TrimSpace(rec.ResourceExternalID)
	if externalID == "" {
		return nil
	}
	provider := rec.Provider
	if provider == "" {
		provider = FallbackProvider
	}

	if s.resolver.links != nil {
		if id, ok := s.resolver.links.GetResourceID(rec.OrganizationID, provider, externalID); ok {
			rec.ResourceID = &id
			s.hits++
			return nil
		}
	}

	found, err := s.resources.FindOne(ctx, &domain.Resource{
		OrganizationID: rec.OrganizationID,
		Provider:       provider,
		ResourceID:     externalID,
	}, option.WithSelect("id"))
	if err != nil {
		return fmt.Errorf("resolve resource %s/%s: %w", provider, externalID, err)
	}
	if found == nil {
		s.misses++
		return nil
	}

	id := found.ID
	rec.ResourceID = &id
	s.pending = append(s.pending, link{orgID: rec.OrganizationID, provider: provider, externalID: externalID, record: rec})
	return nil
}

// Commit stores the links found during the session. Call it only after the transaction committed.
func (s *Session) Commit() {
	if s.resolver.links != nil {
		for _, l := range s.pending {
			if l.record.ResourceID != nil {
				s.resolver.links.SetResourceID(l.orgID, l.provider, l.externalID, *l.record.ResourceID)
			}
		}
	}
	s.resolver.log.Debug("resolver session committed",
		zap.Int("cache_hits", s.hits),
		zap.Int("db_hits", len(s.pending)),
		zap.Int("misses", s.misses),
	)
	s.pending = nil
}

// Discard drops pending links, for rollbacks and dry runs.
func (s *Session) Discard() {
	s.pending = nil
}
