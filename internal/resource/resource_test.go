package resource

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"conserv/internal/models"
)

type item struct {
	ID      string
	Status  string
	Version int
	Tags    []string
}

type itemPatch struct {
	Status string
}

type listReply struct {
	page models.Page[item]
	err  error
}

type listCall struct {
	q     models.Query
	reply chan listReply
}

type patchReply struct {
	item item
	err  error
}

type patchCall struct {
	id    string
	patch itemPatch
	reply chan patchReply
}

// fakeSource hands every call to the test, which decides when and how it completes.
type fakeSource struct {
	lists   chan *listCall
	patches chan *patchCall
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		lists:   make(chan *listCall, 10),
		patches: make(chan *patchCall, 10),
	}
}

func (f *fakeSource) List(ctx context.Context, q models.Query) (models.Page[item], error) {
	c := &listCall{q: q, reply: make(chan listReply, 1)}
	f.lists <- c
	r := <-c.reply
	return r.page, r.err
}

func (f *fakeSource) Patch(ctx context.Context, id string, p itemPatch) (item, error) {
	c := &patchCall{id: id, patch: p, reply: make(chan patchReply, 1)}
	f.patches <- c
	r := <-c.reply
	return r.item, r.err
}

func newTestCache(src *fakeSource) *Cache[item, itemPatch] {
	return New(Config[item, itemPatch]{
		Name:   "items",
		Source: src,
		ID:     func(i item) string { return i.ID },
		Apply: func(i item, p itemPatch) (item, error) {
			if p.Status == "" {
				return i, fmt.Errorf("%w: empty status", models.ErrInvalidInput)
			}
			i.Status = p.Status
			return i, nil
		},
	})
}

func pageOf(page, limit, total int, ids ...string) models.Page[item] {
	p := models.Page[item]{Page: page, Limit: limit, Total: total, TotalPages: (total + limit - 1) / limit}
	for _, id := range ids {
		p.Items = append(p.Items, item{ID: id, Status: "PENDING", Version: 1, Tags: []string{"a"}})
	}
	return p
}

type fetchResult struct {
	col Collection[item]
	err error
}

func fetchAsync(c *Cache[item, itemPatch], q models.Query) chan fetchResult {
	ch := make(chan fetchResult, 1)
	go func() {
		col, err := c.Fetch(context.Background(), q)
		ch <- fetchResult{col, err}
	}()
	return ch
}

func nextList(t *testing.T, src *fakeSource) *listCall {
	t.Helper()
	select {
	case c := <-src.lists:
		return c
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for List call")
		return nil
	}
}

func nextPatch(t *testing.T, src *fakeSource) *patchCall {
	t.Helper()
	select {
	case c := <-src.patches:
		return c
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for Patch call")
		return nil
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func ids(items []item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}

func loadPage(t *testing.T, c *Cache[item, itemPatch], src *fakeSource, page models.Page[item]) {
	t.Helper()
	res := fetchAsync(c, models.Query{Page: page.Page, Limit: page.Limit})
	nextList(t, src).reply <- listReply{page: page}
	if r := <-res; r.err != nil {
		t.Fatalf("fetch failed: %v", r.err)
	}
}

func TestCache_LastIssuedWins(t *testing.T) {
	src := newFakeSource()
	c := newTestCache(src)

	res1 := fetchAsync(c, models.Query{Page: 1, Limit: 5})
	call1 := nextList(t, src)
	res2 := fetchAsync(c, models.Query{Page: 2, Limit: 5})
	call2 := nextList(t, src)

	// Page 2 arrives first, page 1 last.
	call2.reply <- listReply{page: pageOf(2, 5, 7, "o6", "o7")}
	r2 := <-res2
	if r2.err != nil {
		t.Fatalf("page 2 fetch failed: %v", r2.err)
	}

	call1.reply <- listReply{page: pageOf(1, 5, 7, "o1", "o2", "o3", "o4", "o5")}
	r1 := <-res1
	if !errors.Is(r1.err, ErrSuperseded) {
		t.Fatalf("expected ErrSuperseded for page 1, got %v", r1.err)
	}

	snap := c.Snapshot()
	if got := ids(snap.Items); !reflect.DeepEqual(got, []string{"o6", "o7"}) {
		t.Errorf("expected page 2 items, got %v", got)
	}
	if snap.Pagination.Page != 2 || snap.Pagination.Total != 7 || snap.Pagination.TotalPages != 2 {
		t.Errorf("unexpected pagination: %+v", snap.Pagination)
	}
	if snap.IsLoading {
		t.Error("loading must be cleared")
	}
}

func TestCache_StaleFailureIgnored(t *testing.T) {
	src := newFakeSource()
	c := newTestCache(src)

	res1 := fetchAsync(c, models.Query{Page: 1, Limit: 5})
	call1 := nextList(t, src)
	res2 := fetchAsync(c, models.Query{Page: 2, Limit: 5})
	call2 := nextList(t, src)

	call1.reply <- listReply{err: models.ErrNetwork}
	if r := <-res1; !errors.Is(r.err, ErrSuperseded) {
		t.Fatalf("expected ErrSuperseded, got %v", r.err)
	}
	if c.Snapshot().Error != nil {
		t.Error("stale failure must not set error")
	}

	call2.reply <- listReply{page: pageOf(2, 5, 6, "o6")}
	<-res2
	if snap := c.Snapshot(); snap.Error != nil || len(snap.Items) != 1 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}

func TestCache_CoalescesIdenticalRequests(t *testing.T) {
	src := newFakeSource()
	c := newTestCache(src)
	q := models.Query{Page: 1, Limit: 5, Filters: models.Filters{models.FilterStatus: "PENDING"}}

	res1 := fetchAsync(c, q)
	call := nextList(t, src)
	res2 := fetchAsync(c, models.Query{Page: 1, Limit: 5, Filters: models.Filters{models.FilterStatus: "PENDING", models.FilterSearch: " "}})

	waitFor(t, "second fetch issued", func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.issued == 2
	})

	call.reply <- listReply{page: pageOf(1, 5, 1, "o1")}

	r1, r2 := <-res1, <-res2
	if !errors.Is(r1.err, ErrSuperseded) {
		t.Errorf("first caller should be superseded by the identical later one, got %v", r1.err)
	}
	if r2.err != nil || len(r2.col.Items) != 1 {
		t.Errorf("second caller should apply the shared result, got %+v, %v", r2.col, r2.err)
	}

	select {
	case extra := <-src.lists:
		t.Errorf("identical request was duplicated: %+v", extra.q)
	default:
	}
}

func TestCache_FetchFailureKeepsItems(t *testing.T) {
	src := newFakeSource()
	c := newTestCache(src)
	loadPage(t, c, src, pageOf(1, 5, 2, "o1", "o2"))

	res := fetchAsync(c, models.Query{Page: 2, Limit: 5})
	nextList(t, src).reply <- listReply{err: fmt.Errorf("%w: timeout", models.ErrNetwork)}
	r := <-res

	if !errors.Is(r.err, models.ErrNetwork) {
		t.Fatalf("expected ErrNetwork, got %v", r.err)
	}
	if got := ids(r.col.Items); !reflect.DeepEqual(got, []string{"o1", "o2"}) {
		t.Errorf("previous items must stay visible, got %v", got)
	}
	if r.col.Pagination.Page != 1 || r.col.Pagination.Total != 2 {
		t.Errorf("pagination must stay from the last success, got %+v", r.col.Pagination)
	}
	if r.col.IsLoading {
		t.Error("loading and error must not both be set")
	}
}

func TestCache_FirstFetchFailure(t *testing.T) {
	src := newFakeSource()
	c := newTestCache(src)

	res := fetchAsync(c, models.Query{Page: 1, Limit: 5})
	nextList(t, src).reply <- listReply{err: models.ErrNetwork}
	r := <-res

	if len(r.col.Items) != 0 || models.KindOf(r.col.Error) != models.KindNetwork {
		t.Errorf("unexpected snapshot: %+v", r.col)
	}
}

func TestCache_RejectsInvalidQuery(t *testing.T) {
	src := newFakeSource()
	c := newTestCache(src)

	tests := []models.Query{
		{Page: 0, Limit: 5},
		{Page: 1, Limit: 0},
		{Page: 1, Limit: 5, Filters: models.Filters{"color": "red"}},
		{Page: 1, Limit: 5, Filters: models.Filters{models.FilterUrgency: "ASAP"}},
	}
	for i, q := range tests {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			if _, err := c.Fetch(context.Background(), q); !errors.Is(err, models.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}

	select {
	case call := <-src.lists:
		t.Errorf("invalid query reached the source: %+v", call.q)
	default:
	}
}

func TestCache_Gate(t *testing.T) {
	src := newFakeSource()
	c := newTestCache(src)
	c.cfg.Gate = func() error { return models.ErrAuth }

	if _, err := c.Fetch(context.Background(), models.Query{Page: 1, Limit: 5}); !errors.Is(err, models.ErrAuth) {
		t.Errorf("expected gate error, got %v", err)
	}
	select {
	case <-src.lists:
		t.Error("gated fetch reached the source")
	default:
	}
}

func TestCache_SetFiltersDoesNotFetch(t *testing.T) {
	src := newFakeSource()
	c := newTestCache(src)

	snap, err := c.SetFilters(models.Filters{models.FilterCategory: "plumbing", models.FilterSearch: ""})
	if err != nil {
		t.Fatalf("SetFilters failed: %v", err)
	}
	if !reflect.DeepEqual(snap.Filters, models.Filters{models.FilterCategory: "plumbing"}) {
		t.Errorf("unexpected filters: %v", snap.Filters)
	}
	if _, err := c.SetFilters(models.Filters{models.FilterStatus: "LOST"}); !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	if got := c.Snapshot().Filters[models.FilterCategory]; got != "plumbing" {
		t.Errorf("rejected filters must not replace stored ones, got %q", got)
	}

	select {
	case <-src.lists:
		t.Error("SetFilters issued a fetch")
	default:
	}
}

func TestCache_TruncatesToLimit(t *testing.T) {
	src := newFakeSource()
	c := newTestCache(src)

	loadPage(t, c, src, pageOf(1, 2, 40, "o1", "o2", "o3"))

	snap := c.Snapshot()
	if len(snap.Items) != 2 {
		t.Errorf("expected items capped at limit 2, got %d", len(snap.Items))
	}
	if snap.Pagination.Total != 40 {
		t.Errorf("total must come from the server, got %d", snap.Pagination.Total)
	}
}

type updateResult struct {
	col Collection[item]
	err error
}

func updateAsync(c *Cache[item, itemPatch], id string, p itemPatch) chan updateResult {
	ch := make(chan updateResult, 1)
	go func() {
		col, err := c.Update(context.Background(), id, p)
		ch <- updateResult{col, err}
	}()
	return ch
}

func TestCache_UpdateOptimisticThenReconcile(t *testing.T) {
	src := newFakeSource()
	c := newTestCache(src)
	loadPage(t, c, src, pageOf(1, 5, 2, "o1", "o2"))

	res := updateAsync(c, "o1", itemPatch{Status: "DONE"})
	call := nextPatch(t, src)

	snap := c.Snapshot()
	if snap.Items[0].Status != "DONE" {
		t.Errorf("patch must be visible before confirmation, got %+v", snap.Items[0])
	}
	if !reflect.DeepEqual(snap.Pending, []string{"o1"}) {
		t.Errorf("expected o1 pending, got %v", snap.Pending)
	}

	call.reply <- patchReply{item: item{ID: "o1", Status: "DONE", Version: 2}}
	r := <-res
	if r.err != nil {
		t.Fatalf("Update failed: %v", r.err)
	}
	if r.col.Items[0].Version != 2 || len(r.col.Pending) != 0 {
		t.Errorf("expected server representation, got %+v pending=%v", r.col.Items[0], r.col.Pending)
	}
}

func TestCache_UpdateRollbackIsExact(t *testing.T) {
	for _, failure := range []error{models.ErrConflict, models.ErrNetwork, models.ErrForbidden} {
		t.Run(string(models.KindOf(failure)), func(t *testing.T) {
			src := newFakeSource()
			c := newTestCache(src)
			loadPage(t, c, src, pageOf(1, 5, 2, "o1", "o2"))
			before := c.Snapshot().Items

			res := updateAsync(c, "o2", itemPatch{Status: "DONE"})
			nextPatch(t, src).reply <- patchReply{err: failure}
			r := <-res

			if !errors.Is(r.err, failure) {
				t.Fatalf("expected %v, got %v", failure, r.err)
			}
			if !reflect.DeepEqual(r.col.Items, before) {
				t.Errorf("rollback not exact:\nbefore %+v\nafter  %+v", before, r.col.Items)
			}
			if !errors.Is(r.col.Error, failure) || len(r.col.Pending) != 0 {
				t.Errorf("expected error recorded and nothing pending, got %+v", r.col)
			}
		})
	}
}

func TestCache_UpdatesSerializedPerItem(t *testing.T) {
	src := newFakeSource()
	c := newTestCache(src)
	loadPage(t, c, src, pageOf(1, 5, 2, "o1", "o2"))

	res1 := updateAsync(c, "o1", itemPatch{Status: "DONE"})
	first := nextPatch(t, src)

	res2 := updateAsync(c, "o1", itemPatch{Status: "DONE"})
	waitFor(t, "second update queued", func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.records["o1"].waiters == 1
	})

	// A different item is not blocked.
	res3 := updateAsync(c, "o2", itemPatch{Status: "CANCELLED"})
	other := nextPatch(t, src)
	if other.id != "o2" {
		t.Fatalf("expected o2 patch, got %s", other.id)
	}
	other.reply <- patchReply{item: item{ID: "o2", Status: "CANCELLED", Version: 2}}
	<-res3

	select {
	case p := <-src.patches:
		t.Fatalf("second patch for o1 interleaved with the first: %+v", p)
	case <-time.After(20 * time.Millisecond):
	}

	first.reply <- patchReply{item: item{ID: "o1", Status: "DONE", Version: 2}}
	if r := <-res1; r.err != nil {
		t.Fatalf("first update failed: %v", r.err)
	}

	second := nextPatch(t, src)
	if second.id != "o1" {
		t.Fatalf("expected o1 patch, got %s", second.id)
	}
	if v := c.Snapshot().Items[0].Version; v != 2 {
		t.Errorf("second patch must build on the first's confirmation, got version %d", v)
	}
	second.reply <- patchReply{item: item{ID: "o1", Status: "DONE", Version: 3}}

	r2 := <-res2
	if r2.err != nil {
		t.Fatalf("second update failed: %v", r2.err)
	}
	if got := r2.col.Items[0]; got.Version != 3 || got.Status != "DONE" {
		t.Errorf("unexpected final item: %+v", got)
	}
}

func TestCache_UpdateInvalidPatch(t *testing.T) {
	src := newFakeSource()
	c := newTestCache(src)
	loadPage(t, c, src, pageOf(1, 5, 1, "o1"))

	if _, err := c.Update(context.Background(), "o1", itemPatch{}); !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := c.Update(context.Background(), "missing", itemPatch{Status: "DONE"}); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	select {
	case <-src.patches:
		t.Error("invalid update reached the source")
	default:
	}
}

func TestCache_FetchKeepsPendingPatch(t *testing.T) {
	src := newFakeSource()
	c := newTestCache(src)
	loadPage(t, c, src, pageOf(1, 5, 2, "o1", "o2"))

	res := updateAsync(c, "o1", itemPatch{Status: "DONE"})
	call := nextPatch(t, src)

	refreshed := pageOf(1, 5, 2, "o1", "o2")
	refreshed.Items[0].Version = 5
	loadPage(t, c, src, refreshed)

	got := c.Snapshot().Items[0]
	if got.Status != "DONE" || got.Version != 5 {
		t.Errorf("pending patch must stay applied over refreshed data, got %+v", got)
	}

	call.reply <- patchReply{err: models.ErrConflict}
	r := <-res
	if got := r.col.Items[0]; got.Status != "PENDING" || got.Version != 5 {
		t.Errorf("rollback must restore the latest confirmed item, got %+v", got)
	}
}

func TestCache_ResetDiscardsInFlight(t *testing.T) {
	src := newFakeSource()
	c := newTestCache(src)

	var mu sync.Mutex
	changes := 0
	c.OnChange(func(Collection[item]) {
		mu.Lock()
		changes++
		mu.Unlock()
	})

	res := fetchAsync(c, models.Query{Page: 1, Limit: 5})
	call := nextList(t, src)
	c.Reset()
	call.reply <- listReply{page: pageOf(1, 5, 1, "o1")}

	if r := <-res; !errors.Is(r.err, ErrSuperseded) {
		t.Errorf("expected ErrSuperseded, got %v", r.err)
	}
	if n := len(c.Snapshot().Items); n != 0 {
		t.Errorf("expected empty cache after reset, got %d items", n)
	}

	mu.Lock()
	defer mu.Unlock()
	if changes == 0 {
		t.Error("expected change notifications")
	}
}
