package service

import (
	"context"
	"time"

	"tradehub/internal/models"
	"tradehub/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ListingCache is the fast path in front of the listing source
type ListingCache interface {
	GetCachedListing(ctx context.Context, id uuid.UUID) (*models.Listing, bool, error)
	CacheListing(ctx context.Context, listing *models.Listing, ttl time.Duration) error
}

// CachedCatalog reads listing snapshots from Redis first and falls back to
// the source of truth
type CachedCatalog struct {
	source ListingCatalog
	cache  ListingCache
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedCatalog creates a catalog that caches snapshots for ttl
func NewCachedCatalog(source ListingCatalog, cache ListingCache, ttl time.Duration) *CachedCatalog {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CachedCatalog{
		source: source,
		cache:  cache,
		ttl:    ttl,
		logger: util.GetLogger(),
	}
}

// GetListing returns a listing snapshot
func (c *CachedCatalog) GetListing(ctx context.Context, id uuid.UUID) (*models.Listing, error) {
	ctx, span := util.StartSpan(ctx, "CachedCatalog.GetListing")
	defer span.End()

	listing, ok, err := c.cache.GetCachedListing(ctx, id)
	if err != nil {
		c.logger.Warn("Listing cache lookup failed, falling back to store",
			zap.String("listing_id", id.String()),
			zap.Error(err))
	}
	if ok {
		return listing, nil
	}

	listing, err = c.source.GetListing(ctx, id)
	if err != nil {
		return nil, err
	}

	snapshot := *listing
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := c.cache.CacheListing(ctx, &snapshot, c.ttl); err != nil {
			c.logger.Error("Failed to cache listing",
				zap.String("listing_id", snapshot.ID.String()),
				zap.Error(err))
		}
	}()

	return listing, nil
}
