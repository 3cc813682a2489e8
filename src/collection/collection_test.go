package collection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"keyper/src/datasource"
	"keyper/src/entitykey"
	"keyper/src/keyquery"
	"keyper/src/keyutil"
)

// gatedSource lets a test control exactly when FindOne/Find settle, to
// exercise fetch coalescing deterministically.
type gatedSource struct {
	mu       sync.Mutex
	items    map[string]keyutil.Entity
	findOneN int
	findN    int
	gate     chan struct{} // closed to release all waiting calls
	gateFind bool
}

func newGatedSource(items ...keyutil.Entity) *gatedSource {
	s := &gatedSource{items: map[string]keyutil.Entity{}, gate: make(chan struct{})}
	for _, item := range items {
		pk, _ := entitykey.FromEntity(item, []string{"id"})
		s.items[pk.String()] = item
	}
	return s
}

func (s *gatedSource) release() { close(s.gate) }

func (s *gatedSource) FindOne(ctx context.Context, pk entitykey.Key, _ datasource.Options) (keyutil.Entity, error) {
	s.mu.Lock()
	s.findOneN++
	s.mu.Unlock()
	<-s.gate
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[pk.String()]
	if !ok {
		return nil, datasource.ErrNotFound
	}
	return e, nil
}

func (s *gatedSource) Find(ctx context.Context, params datasource.FetchParams, _ datasource.Options) (datasource.Slice, error) {
	s.mu.Lock()
	s.findN++
	s.mu.Unlock()
	if s.gateFind {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []keyutil.Entity
	for _, e := range s.items {
		ok, err := keyquery.Test(e, params.Where)
		if err != nil {
			return datasource.Slice{}, err
		}
		if ok {
			out = append(out, e)
		}
	}
	return datasource.Slice{Items: out, Total: len(out)}, nil
}

func (s *gatedSource) FindAll(_ context.Context, pks []entitykey.Key, _ datasource.Options) ([]keyutil.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]keyutil.Entity, 0, len(pks))
	for _, pk := range pks {
		if e, ok := s.items[pk.String()]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *gatedSource) Create(_ context.Context, payload keyutil.Entity, _ datasource.Options) (keyutil.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pk, err := entitykey.FromEntity(payload, []string{"id"})
	if err != nil {
		return nil, err
	}
	s.items[pk.String()] = payload
	return payload, nil
}

func (s *gatedSource) Update(_ context.Context, pk entitykey.Key, payload keyutil.Entity, _ datasource.Options) (keyutil.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[pk.String()] = payload
	return payload, nil
}

func (s *gatedSource) Delete(_ context.Context, pk entitykey.Key, _ datasource.Options) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, pk.String())
	return nil
}

type noopRegistry struct {
	byName map[string]*Collection
}

func newNoopRegistry() *noopRegistry { return &noopRegistry{byName: map[string]*Collection{}} }

func (r *noopRegistry) GetCollection(name string) (*Collection, error) {
	if c, ok := r.byName[name]; ok {
		return c, nil
	}
	return nil, datasource.ErrNotFound
}
func (r *noopRegistry) OnCollectionCreated(fn func(string, *Collection)) func() {
	for name, c := range r.byName {
		fn(name, c)
	}
	return func() {}
}

// TestInsertIdentityStability checks that inserting x, then inserting
// an x' that is deep-equal to x, returns the same reference as the
// first insert.
func TestInsertIdentityStability(t *testing.T) {
	c, err := New("widgets", Config{PrimaryKey: []string{"id"}}, newGatedSource(), newNoopRegistry(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	first, err := c.Insert(keyutil.Entity{"id": "w1", "name": "alpha"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	second, err := c.Insert(keyutil.Entity{"id": "w1", "name": "alpha"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	// insert(x) followed by insert(x') with x' deep-equal to x must
	// return the very same map value as the first insert, not a
	// freshly built replacement — Go map equality is by reference, so
	// this is a true identity check, not just a content comparison.
	if mapIdentity(first) != mapIdentity(second) {
		t.Fatalf("expected insert to return the identical cached reference for an equal payload")
	}
}

// mapIdentity returns a stable identity token for a map value (its
// underlying header address via the %p verb), used only to assert
// reference identity in tests.
func mapIdentity(m keyutil.Entity) string {
	return fmt.Sprintf("%p", m)
}

// TestInsertReplacesOnChange covers the converse of identity stability:
// a not-equal payload replaces the cached snapshot and fires Inserted
// with the previous value attached.
func TestInsertReplacesOnChange(t *testing.T) {
	c, err := New("widgets", Config{PrimaryKey: []string{"id"}}, newGatedSource(), newNoopRegistry(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var events []InsertEvent
	c.Inserted().Attach(func(ev InsertEvent) { events = append(events, ev) })

	if _, err := c.Insert(keyutil.Entity{"id": "w1", "name": "alpha"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := c.Insert(keyutil.Entity{"id": "w1", "name": "beta"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 Inserted events, got %d", len(events))
	}
	if events[0].Previous != nil {
		t.Fatalf("expected nil Previous on first insert")
	}
	if events[1].Previous == nil || events[1].Previous["name"] != "alpha" {
		t.Fatalf("expected second insert's Previous to be the first snapshot, got %v", events[1].Previous)
	}
	if events[1].New["name"] != "beta" {
		t.Fatalf("expected replaced snapshot to carry the new value")
	}
}

// TestFetchOneDedup checks that N concurrent FetchOne calls before
// release cause exactly one FindOne invocation, and all resolve to the
// same snapshot.
func TestFetchOneDedup(t *testing.T) {
	src := newGatedSource(keyutil.Entity{"id": "w1", "name": "alpha"})
	c, err := New("widgets", Config{PrimaryKey: []string{"id"}}, src, newNoopRegistry(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pk := entitykey.MustNew("w1")

	const n = 5
	results := make([]keyutil.Entity, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.FetchOne(context.Background(), pk, FetchOptions{})
		}(i)
	}
	// Give the goroutines a chance to register as pending before
	// releasing, so the dedup path is actually exercised.
	waitUntilPending(t, src, 1)
	src.release()
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("FetchOne[%d]: %v", i, err)
		}
	}
	if src.findOneN != 1 {
		t.Fatalf("expected exactly one FindOne call, got %d", src.findOneN)
	}
	for i, r := range results {
		if r["name"] != "alpha" {
			t.Fatalf("result[%d] = %v, expected name alpha", i, r)
		}
	}

	// A subsequent FetchOne resolves from cache without another call.
	if _, err := c.FetchOne(context.Background(), pk, FetchOptions{}); err != nil {
		t.Fatalf("FetchOne from cache: %v", err)
	}
	if src.findOneN != 1 {
		t.Fatalf("expected cache hit to avoid a second FindOne call, got %d calls", src.findOneN)
	}
}

func waitUntilPending(t *testing.T, src *gatedSource, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		src.mu.Lock()
		n := src.findOneN
		src.mu.Unlock()
		if n >= want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("FindOne was never called")
}

// TestQueryCacheSoundness checks that a cached query's items remain a
// subset of the live index and all still satisfy its where clause
// after further unrelated inserts.
func TestQueryCacheSoundness(t *testing.T) {
	src := newGatedSource(
		keyutil.Entity{"id": "w1", "status": "active"},
		keyutil.Entity{"id": "w2", "status": "inactive"},
	)
	c, err := New("widgets", Config{PrimaryKey: []string{"id"}}, src, newNoopRegistry(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	where := keyquery.Criteria{"status": "active"}
	res, err := c.Fetch(context.Background(), datasource.FetchParams{Where: where}, FetchOptions{})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(res.Items) != 1 || res.Items[0]["id"] != "w1" {
		t.Fatalf("expected one active widget, got %v", res.Items)
	}

	// Insert an unrelated entity and one that now matches the query.
	if _, err := c.Insert(keyutil.Entity{"id": "w3", "status": "inactive"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if _, err := c.Insert(keyutil.Entity{"id": "w4", "status": "active"}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	filtered, err := c.Filter(FilterParams{Where: where})
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if len(filtered.Items) != 2 {
		t.Fatalf("expected Filter to see both active widgets, got %v", filtered.Items)
	}

	res2, err := c.Fetch(context.Background(), datasource.FetchParams{Where: where}, FetchOptions{})
	if err != nil {
		t.Fatalf("Fetch (cached): %v", err)
	}
	if src.findN != 1 {
		t.Fatalf("expected the second Fetch to hit the query cache, not the source; findN=%d", src.findN)
	}
	// The cached query result must still be a sound subset satisfying
	// where. It was promoted before w4 existed; Insert then added w4 to
	// it because w4 matches the query's where clause.
	for _, item := range res2.Items {
		ok, err := keyquery.Test(item, where)
		if err != nil || !ok {
			t.Fatalf("cached query item %v does not satisfy where", item)
		}
	}
}

// TestRemoveInvalidatesMatchingQueries checks that any cached query
// whose Items contained the removed pk is invalidated by Remove.
func TestRemoveInvalidatesMatchingQueries(t *testing.T) {
	src := newGatedSource(keyutil.Entity{"id": "w1", "status": "active"})
	c, err := New("widgets", Config{PrimaryKey: []string{"id"}}, src, newNoopRegistry(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	where := keyquery.Criteria{"status": "active"}
	if _, err := c.Fetch(context.Background(), datasource.FetchParams{Where: where}, FetchOptions{}); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	cached, _ := c.currentIndex().Get(entitykey.MustNew("w1"))
	c.Remove(cached, true)

	if _, err := c.Fetch(context.Background(), datasource.FetchParams{Where: where}, FetchOptions{}); err != nil {
		t.Fatalf("Fetch after remove: %v", err)
	}
	if src.findN != 2 {
		t.Fatalf("expected the query cache to be invalidated by Remove, forcing a second Find; findN=%d", src.findN)
	}
}

// TestFilterOffsetLimitRequireOrderBy checks that Filter rejects
// Offset/Limit without an OrderBy.
func TestFilterOffsetLimitRequireOrderBy(t *testing.T) {
	c, err := New("widgets", Config{PrimaryKey: []string{"id"}}, newGatedSource(), newNoopRegistry(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	offset := 1
	_, err = c.Filter(FilterParams{Offset: &offset})
	if !errors.Is(err, ErrOffsetLimitRequireOrderBy) {
		t.Fatalf("expected ErrOffsetLimitRequireOrderBy, got %v", err)
	}
}

// TestBackRefCascadeOnEmbeddedReplacement checks that inserting an
// entity with an embedded back-ref array removes previously referenced
// entities whose pks are absent from the new array.
func TestBackRefCascadeOnEmbeddedReplacement(t *testing.T) {
	registry := newNoopRegistry()
	authors, err := New("authors", Config{PrimaryKey: []string{"id"}}, newGatedSource(), registry, nil)
	if err != nil {
		t.Fatalf("New authors: %v", err)
	}
	registry.byName["authors"] = authors

	// books declares the forward relation to authors and names "books"
	// as the back-ref accessor installed on authors — the field authors
	// payloads use to embed their book array.
	books, err := New("books", Config{
		PrimaryKey: []string{"id"},
		Relations: map[string]RelationConfig{
			"author": {Collection: "authors", ForeignKey: "author_id", BackRef: "books"},
		},
	}, newGatedSource(), registry, nil)
	if err != nil {
		t.Fatalf("New books: %v", err)
	}
	registry.byName["books"] = books

	if _, err := authors.Insert(keyutil.Entity{
		"id": "a1",
		"books": []any{
			keyutil.Entity{"id": "b1", "title": "One"},
			keyutil.Entity{"id": "b2", "title": "Two"},
		},
	}); err != nil {
		t.Fatalf("Insert author: %v", err)
	}
	if books.currentIndex().Len() != 2 {
		t.Fatalf("expected both embedded books to be inserted, got %d", books.currentIndex().Len())
	}

	// Replace with an array that drops b1 and adds b3: b1 should be
	// cascade-removed, b2 kept, b3 added.
	if _, err := authors.Insert(keyutil.Entity{
		"id": "a1",
		"books": []any{
			keyutil.Entity{"id": "b2", "title": "Two"},
			keyutil.Entity{"id": "b3", "title": "Three"},
		},
	}); err != nil {
		t.Fatalf("Insert author (replace): %v", err)
	}

	if _, ok := books.currentIndex().Get(entitykey.MustNew("b1")); ok {
		t.Fatalf("expected b1 to be cascade-removed")
	}
	if _, ok := books.currentIndex().Get(entitykey.MustNew("b2")); !ok {
		t.Fatalf("expected b2 to remain")
	}
	if _, ok := books.currentIndex().Get(entitykey.MustNew("b3")); !ok {
		t.Fatalf("expected b3 to be added")
	}
}

// TestGetMissReturnsErrNotFound checks the cache-only lookup path.
func TestGetMissReturnsErrNotFound(t *testing.T) {
	c, err := New("widgets", Config{PrimaryKey: []string{"id"}}, newGatedSource(), newNoopRegistry(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Get(entitykey.MustNew("nope")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	inserted, err := c.Insert(keyutil.Entity{"id": "w1"})
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	got, err := c.Get(entitykey.MustNew("w1"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if mapIdentity(got) != mapIdentity(inserted) {
		t.Fatalf("expected Get to return the cached snapshot")
	}
}

// TestBackRefNameCollisionRejected checks that a back-reference whose
// name clashes with a relation already declared on the target is a
// configuration error.
func TestBackRefNameCollisionRejected(t *testing.T) {
	registry := newNoopRegistry()
	authors, err := New("authors", Config{
		PrimaryKey: []string{"id"},
		Relations: map[string]RelationConfig{
			"books": {Collection: "authors", ForeignKey: "books_id"},
		},
	}, newGatedSource(), registry, nil)
	if err != nil {
		t.Fatalf("New authors: %v", err)
	}
	registry.byName["authors"] = authors

	_, err = New("books", Config{
		PrimaryKey: []string{"id"},
		Relations: map[string]RelationConfig{
			"author": {Collection: "authors", ForeignKey: "author_id", BackRef: "books"},
		},
	}, newGatedSource(), registry, nil)
	if !errors.Is(err, ErrDuplicateAccessor) {
		t.Fatalf("expected ErrDuplicateAccessor, got %v", err)
	}
}

// TestParentAdoption checks that a collection declaring Parent is
// adopted as a child by the parent relation's target collection.
func TestParentAdoption(t *testing.T) {
	registry := newNoopRegistry()
	authors, err := New("authors", Config{PrimaryKey: []string{"id"}}, newGatedSource(), registry, nil)
	if err != nil {
		t.Fatalf("New authors: %v", err)
	}
	registry.byName["authors"] = authors

	if _, err := New("books", Config{
		PrimaryKey: []string{"id"},
		Parent:     "author",
		Relations: map[string]RelationConfig{
			"author": {Collection: "authors", ForeignKey: "author_id"},
		},
	}, newGatedSource(), registry, nil); err != nil {
		t.Fatalf("New books: %v", err)
	}

	children := authors.ChildCollections()
	if len(children) != 1 || children[0] != "books" {
		t.Fatalf("expected authors to adopt books as a child, got %v", children)
	}
}

// TestParentWithoutRelationRejected covers the configuration error for
// a Parent naming an undeclared relation field.
func TestParentWithoutRelationRejected(t *testing.T) {
	_, err := New("books", Config{
		PrimaryKey: []string{"id"},
		Parent:     "author",
	}, newGatedSource(), newNoopRegistry(), nil)
	if !errors.Is(err, ErrParentWithoutRelation) {
		t.Fatalf("expected ErrParentWithoutRelation, got %v", err)
	}
}

// TestRelatedResolvesThroughCurrentIndex covers invariant 6: a relation
// accessor always reflects the related collection's latest snapshot,
// since it never holds the entity by reference.
func TestRelatedResolvesThroughCurrentIndex(t *testing.T) {
	registry := newNoopRegistry()
	authors, err := New("authors", Config{PrimaryKey: []string{"id"}}, newGatedSource(), registry, nil)
	if err != nil {
		t.Fatalf("New authors: %v", err)
	}
	registry.byName["authors"] = authors

	books, err := New("books", Config{
		PrimaryKey: []string{"id"},
		Relations: map[string]RelationConfig{
			"author": {Collection: "authors", ForeignKey: "author_id"},
		},
	}, newGatedSource(), registry, nil)
	if err != nil {
		t.Fatalf("New books: %v", err)
	}
	registry.byName["books"] = books

	if _, err := authors.Insert(keyutil.Entity{"id": "a1", "name": "Ada"}); err != nil {
		t.Fatalf("Insert author: %v", err)
	}
	book, err := books.Insert(keyutil.Entity{"id": "b1", "author_id": "a1"})
	if err != nil {
		t.Fatalf("Insert book: %v", err)
	}

	related, err := books.Related(book, "author")
	if err != nil {
		t.Fatalf("Related: %v", err)
	}
	entity, ok := related.(keyutil.Entity)
	if !ok || entity["name"] != "Ada" {
		t.Fatalf("expected Related to resolve the author, got %v", related)
	}

	// Update the author; the relation must reflect the new snapshot
	// without the book holding a stale reference.
	if _, err := authors.Insert(keyutil.Entity{"id": "a1", "name": "Ada Lovelace"}); err != nil {
		t.Fatalf("Insert (update) author: %v", err)
	}
	related2, err := books.Related(book, "author")
	if err != nil {
		t.Fatalf("Related (after update): %v", err)
	}
	if related2.(keyutil.Entity)["name"] != "Ada Lovelace" {
		t.Fatalf("expected Related to reflect the updated author snapshot, got %v", related2)
	}
}
