package service

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/raphaelgruber/intake/internal/models"
	"github.com/raphaelgruber/intake/internal/store"
)

// Directory answers "does this engagement exist" with a short-lived cache in
// front of the engagement store. Cached values are for existence checks only;
// the phase may be stale.
type Directory struct {
	engagements store.Engagements
	cache       *expirable.LRU[string, models.Engagement]
}

// NewDirectory creates a directory caching up to size engagements for ttl.
func NewDirectory(engagements store.Engagements, size int, ttl time.Duration) *Directory {
	if size <= 0 {
		size = 1024
	}
	return &Directory{
		engagements: engagements,
		cache:       expirable.NewLRU[string, models.Engagement](size, nil, ttl),
	}
}

// Lookup returns the engagement or an apperr not-found error.
func (d *Directory) Lookup(ctx context.Context, id string) (*models.Engagement, error) {
	if e, ok := d.cache.Get(id); ok {
		return &e, nil
	}
	e, err := d.engagements.GetEngagement(ctx, id)
	if err != nil {
		return nil, notFound(err, "engagement", id)
	}
	d.cache.Add(id, *e)
	return e, nil
}

// Invalidate drops id from the cache.
func (d *Directory) Invalidate(id string) {
	d.cache.Remove(id)
}
