package resource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"conserv/internal/models"

	"golang.org/x/sync/singleflight"
)

// ErrSuperseded is returned to a fetch whose response arrived after a newer fetch was issued.
// Its result was discarded.
var ErrSuperseded = errors.New("fetch superseded by a newer request")

// Source is the remote side of a collection.
type Source[T, P any] interface {
	List(ctx context.Context, q models.Query) (models.Page[T], error)
	Patch(ctx context.Context, id string, patch P) (T, error)
}

type Config[T, P any] struct {
	// Name is used in logs and errors.
	Name   string
	Source Source[T, P]
	// ID extracts the identity of an item.
	ID func(T) string
	// Apply returns a patched copy of an item without modifying it.
	Apply func(T, P) (T, error)
	// Gate, when set, is consulted before every fetch.
	Gate func() error
}

// Collection is a snapshot of the cache.
type Collection[T any] struct {
	Items      []T
	Pagination models.Pagination
	Filters    models.Filters
	IsLoading  bool
	Error      error
	// Pending lists ids of items showing an unconfirmed patch.
	Pending []string
}

func (c Collection[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Items      []T               `json:"items"`
		Pagination models.Pagination `json:"pagination"`
		Filters    models.Filters    `json:"filters"`
		IsLoading  bool              `json:"isLoading"`
		Error      *models.ErrorInfo `json:"error,omitempty"`
		Pending    []string          `json:"pending,omitempty"`
	}{c.Items, c.Pagination, c.Filters, c.IsLoading, models.Describe(c.Error), c.Pending})
}

// record keeps the server-confirmed item apart from its unconfirmed patch.
type record[T, P any] struct {
	confirmed  T
	pending    *P
	optimistic T
	// sem holds one token while a patch for this item is outstanding.
	sem     chan struct{}
	waiters int
}

func newRecord[T, P any](item T) *record[T, P] {
	return &record[T, P]{confirmed: item, sem: make(chan struct{}, 1)}
}

func (r *record[T, P]) busy() bool {
	return r.pending != nil || r.waiters > 0
}

func (r *record[T, P]) view() T {
	if r.pending != nil {
		return r.optimistic
	}
	return r.confirmed
}

// Cache is a paginated, filterable collection kept in sync with a remote source.
type Cache[T, P any] struct {
	cfg   Config[T, P]
	group singleflight.Group

	mu         sync.Mutex
	order      []string
	records    map[string]*record[T, P]
	pagination models.Pagination
	filters    models.Filters
	loading    bool
	err        error
	fetched    bool
	// issued counts fetches; only the latest may apply its response.
	issued uint64
	// epoch changes on Reset so in-flight updates stop touching state.
	epoch uint64

	onChange func(Collection[T])
}

func New[T, P any](cfg Config[T, P]) *Cache[T, P] {
	return &Cache[T, P]{
		cfg:     cfg,
		records: make(map[string]*record[T, P]),
		filters: models.Filters{},
	}
}

// OnChange registers a callback receiving a snapshot after every change.
func (c *Cache[T, P]) OnChange(fn func(Collection[T])) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

func (c *Cache[T, P]) Snapshot() Collection[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Fetch loads one page. Identical in-flight requests are shared. Only the most recently
// issued fetch applies its response; older ones return ErrSuperseded.
// Failures keep the previously loaded items visible.
func (c *Cache[T, P]) Fetch(ctx context.Context, q models.Query) (Collection[T], error) {
	q.Filters = q.Filters.Normalize()
	if err := q.Validate(); err != nil {
		return c.Snapshot(), err
	}
	if c.cfg.Gate != nil {
		if err := c.cfg.Gate(); err != nil {
			return c.Snapshot(), err
		}
	}

	key := q.Key()

	c.mu.Lock()
	c.issued++
	gen := c.issued
	c.loading = true
	c.err = nil
	ch := c.group.DoChan(key, func() (any, error) {
		// Other callers may share this request, so it must outlive this caller.
		return c.cfg.Source.List(context.WithoutCancel(ctx), q)
	})
	snap, fn := c.snapshotLocked(), c.onChange
	c.mu.Unlock()
	notify(fn, snap)

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		c.mu.Lock()
		if gen == c.issued {
			c.loading = false
		}
		snap, fn = c.snapshotLocked(), c.onChange
		c.mu.Unlock()
		notify(fn, snap)
		return snap, ctx.Err()
	}

	c.mu.Lock()
	if gen != c.issued {
		snap = c.snapshotLocked()
		c.mu.Unlock()
		slog.Debug("discarding superseded response", "resource", c.cfg.Name, "query", key, "shared", res.Shared)
		return snap, ErrSuperseded
	}

	c.loading = false
	if res.Err != nil {
		c.err = res.Err
		if !c.fetched {
			c.order = nil
		}
		slog.Warn("fetch failed", "resource", c.cfg.Name, "query", key, "error", res.Err)
	} else {
		c.applyLocked(res.Val.(models.Page[T]), q)
	}
	snap, fn = c.snapshotLocked(), c.onChange
	c.mu.Unlock()

	notify(fn, snap)
	return snap, res.Err
}

// SetFilters stores filters for the next fetch. It never issues a request.
func (c *Cache[T, P]) SetFilters(f models.Filters) (Collection[T], error) {
	f = f.Normalize()
	if err := f.Validate(); err != nil {
		return c.Snapshot(), err
	}

	c.mu.Lock()
	c.filters = f
	snap, fn := c.snapshotLocked(), c.onChange
	c.mu.Unlock()

	notify(fn, snap)
	return snap, nil
}

// Update applies patch locally at once and confirms it remotely.
// Patches to the same item run one at a time in call order. On remote failure
// the item returns to its confirmed state and the error is recorded.
func (c *Cache[T, P]) Update(ctx context.Context, id string, patch P) (Collection[T], error) {
	c.mu.Lock()
	rec, ok := c.records[id]
	if !ok || !c.inPageLocked(id) {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, fmt.Errorf("%w: %s %s", models.ErrNotFound, c.cfg.Name, id)
	}
	rec.waiters++
	epoch := c.epoch
	c.mu.Unlock()

	select {
	case rec.sem <- struct{}{}:
	case <-ctx.Done():
		c.mu.Lock()
		rec.waiters--
		c.cleanupLocked(id, rec)
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, ctx.Err()
	}
	defer func() { <-rec.sem }()

	c.mu.Lock()
	rec.waiters--
	if epoch != c.epoch {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, fmt.Errorf("%w: %s reset", ErrSuperseded, c.cfg.Name)
	}
	optimistic, err := c.cfg.Apply(rec.confirmed, patch)
	if err != nil {
		c.cleanupLocked(id, rec)
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, err
	}
	rec.pending = &patch
	rec.optimistic = optimistic
	snap, fn := c.snapshotLocked(), c.onChange
	c.mu.Unlock()
	notify(fn, snap)

	server, err := c.cfg.Source.Patch(ctx, id, patch)

	c.mu.Lock()
	rec.pending = nil
	if epoch == c.epoch {
		if err != nil {
			c.err = err
			slog.Warn("rolled back optimistic update", "resource", c.cfg.Name, "id", id, "error", err)
		} else {
			rec.confirmed = server
		}
	}
	c.cleanupLocked(id, rec)
	snap, fn = c.snapshotLocked(), c.onChange
	c.mu.Unlock()

	notify(fn, snap)
	return snap, err
}

func (c *Cache[T, P]) ClearError() Collection[T] {
	c.mu.Lock()
	c.err = nil
	snap, fn := c.snapshotLocked(), c.onChange
	c.mu.Unlock()

	notify(fn, snap)
	return snap
}

// Reset empties the cache and discards every in-flight response.
func (c *Cache[T, P]) Reset() {
	c.mu.Lock()
	c.issued++
	c.epoch++
	c.order = nil
	c.records = make(map[string]*record[T, P])
	c.pagination = models.Pagination{}
	c.filters = models.Filters{}
	c.loading = false
	c.err = nil
	c.fetched = false
	snap, fn := c.snapshotLocked(), c.onChange
	c.mu.Unlock()

	notify(fn, snap)
}

func (c *Cache[T, P]) applyLocked(page models.Page[T], q models.Query) {
	limit := page.Limit
	if limit <= 0 {
		limit = q.Limit
	}
	items := page.Items
	if len(items) > limit {
		slog.Warn("server returned more items than the page limit", "resource", c.cfg.Name, "items", len(items), "limit", limit)
		items = items[:limit]
	}

	order := make([]string, 0, len(items))
	records := make(map[string]*record[T, P], len(items))
	for _, item := range items {
		id := c.cfg.ID(item)
		if _, dup := records[id]; dup {
			continue
		}
		rec, ok := c.records[id]
		if !ok {
			rec = newRecord[T, P](item)
		}
		rec.confirmed = item
		if rec.pending != nil {
			if v, err := c.cfg.Apply(item, *rec.pending); err == nil {
				rec.optimistic = v
			} else {
				rec.optimistic = item
			}
		}
		records[id] = rec
		order = append(order, id)
	}
	// Items with outstanding patches keep their record so later patches stay serialized.
	for id, rec := range c.records {
		if _, ok := records[id]; !ok && rec.busy() {
			records[id] = rec
		}
	}

	pageNum := page.Page
	if pageNum <= 0 {
		pageNum = q.Page
	}

	c.order = order
	c.records = records
	c.pagination = models.Pagination{
		Page:       pageNum,
		Limit:      limit,
		Total:      page.Total,
		TotalPages: page.TotalPages,
	}
	c.fetched = true
}

func (c *Cache[T, P]) inPageLocked(id string) bool {
	for _, v := range c.order {
		if v == id {
			return true
		}
	}
	return false
}

func (c *Cache[T, P]) cleanupLocked(id string, rec *record[T, P]) {
	if rec.busy() || c.records[id] != rec || c.inPageLocked(id) {
		return
	}
	delete(c.records, id)
}

func (c *Cache[T, P]) snapshotLocked() Collection[T] {
	items := make([]T, 0, len(c.order))
	var pending []string
	for _, id := range c.order {
		rec := c.records[id]
		items = append(items, rec.view())
		if rec.pending != nil {
			pending = append(pending, id)
		}
	}
	return Collection[T]{
		Items:      items,
		Pagination: c.pagination,
		Filters:    c.filters.Clone(),
		IsLoading:  c.loading,
		Error:      c.err,
		Pending:    pending,
	}
}

func notify[T any](fn func(Collection[T]), snap Collection[T]) {
	if fn != nil {
		fn(snap)
	}
}
