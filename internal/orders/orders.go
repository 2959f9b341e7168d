// Package orders binds the generic resource cache to the marketplace order collection.
package orders

import (
	"context"

	"conserv/internal/models"
	"conserv/internal/remote"
	"conserv/internal/resource"
)

type Cache = resource.Cache[models.Order, models.OrderPatch]

type Collection = resource.Collection[models.Order]

type source struct {
	api remote.OrdersAPI
}

func (s source) List(ctx context.Context, q models.Query) (models.Page[models.Order], error) {
	return s.api.ListOrders(ctx, q)
}

func (s source) Patch(ctx context.Context, id string, patch models.OrderPatch) (models.Order, error) {
	return s.api.PatchOrder(ctx, id, patch)
}

// New creates the order cache. gate may be nil.
func New(api remote.OrdersAPI, gate func() error) *Cache {
	return resource.New(resource.Config[models.Order, models.OrderPatch]{
		Name:   "orders",
		Source: source{api: api},
		ID:     func(o models.Order) string { return o.ID },
		Apply: func(o models.Order, p models.OrderPatch) (models.Order, error) {
			return p.Apply(o)
		},
		Gate: gate,
	})
}

func Start(ctx context.Context, c *Cache, id string) (Collection, error) {
	return c.Update(ctx, id, models.StatusPatch(models.OrderStatusInProgress))
}

func Complete(ctx context.Context, c *Cache, id string) (Collection, error) {
	return c.Update(ctx, id, models.StatusPatch(models.OrderStatusCompleted))
}

func Cancel(ctx context.Context, c *Cache, id string) (Collection, error) {
	return c.Update(ctx, id, models.StatusPatch(models.OrderStatusCancelled))
}
