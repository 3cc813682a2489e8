package collection

import (
	"fmt"
	"sort"

	"keyper/src/entitykey"
	"keyper/src/keyquery"
	"keyper/src/keyutil"
	"keyper/src/uniqueindex"
)

// Insert is the single ingress path for all cached state: fetch results,
// and user create/update responses. It applies BeforeInsert, computes
// the pk, cascades embedded relations and back-reference arrays, and —
// if the result differs from what's already cached — atomically
// replaces the index, every maintained secondary index, and every
// matching cached query, then fires Inserted().
func (c *Collection) Insert(raw keyutil.Entity) (keyutil.Entity, error) {
	if c.cfg.BeforeInsert != nil {
		raw = c.cfg.BeforeInsert(raw)
	}
	payload := keyutil.CloneEntity(raw)

	pk, err := entitykey.FromEntity(payload, c.cfg.PrimaryKey)
	if err != nil {
		return nil, fmt.Errorf("collection %q: %w", c.name, err)
	}

	if err := c.cascadeEmbedded(pk, payload); err != nil {
		return nil, err
	}

	cached := keyutil.CloneOver(nil, payload)
	cached[keyutil.CollectionTag] = c.name

	c.mu.Lock()
	prev, existed := c.index.Get(pk)
	if existed && keyutil.DeepEqual(prev, cached) {
		c.mu.Unlock()
		return prev, nil
	}

	var previous keyutil.Entity
	if existed {
		previous = prev
		c.removeLocked(prev, false)
	}

	c.index = c.index.Add(cached)
	for field, idx := range c.indexes {
		if v, ok := cached[field]; ok {
			idx.Put(stringifyFK(v), cached)
		}
	}
	for _, q := range c.queries {
		if ok, _ := keyquery.Test(cached, q.where); ok {
			q.items = q.items.Add(cached)
		}
	}
	// Emit while still holding the lock: listeners must observe the
	// mutation they're being told about, and no concurrent Remove may
	// slip its own emission in between.
	c.inserted.Emit(InsertEvent{New: cached, Previous: previous})
	c.mu.Unlock()
	return cached, nil
}

// cascadeEmbedded handles embedded nested payloads on insert: embedded
// forward relations are inserted recursively into the related
// collection and replaced in payload with their foreign key; embedded
// back-reference arrays are inserted into the back-referenced
// collection and any previously-referenced entity missing from the new
// array is removed (cascade-delete on back-ref replacement).
func (c *Collection) cascadeEmbedded(ownerPK entitykey.Key, payload keyutil.Entity) error {
	for field, rel := range c.relationsSnapshot() {
		val, ok := payload[field]
		if !ok {
			continue
		}
		nested, ok := val.(keyutil.Entity)
		if !ok {
			continue
		}
		related, err := c.registry.GetCollection(rel.Collection)
		if err != nil {
			return fmt.Errorf("collection %q: embedded relation %q: %w", c.name, field, err)
		}
		insertedNested, err := related.Insert(nested)
		if err != nil {
			return err
		}
		fk, err := entitykey.FromEntity(insertedNested, related.cfg.PrimaryKey)
		if err != nil {
			return err
		}
		payload[rel.ForeignKey] = fkValue(fk)
		delete(payload, field)
	}

	for backRefName, cfg := range c.backRefsSnapshot() {
		val, ok := payload[backRefName]
		if !ok {
			continue
		}
		arr, ok := val.([]any)
		if !ok {
			continue
		}
		declaring, err := c.registry.GetCollection(cfg.Collection)
		if err != nil {
			return fmt.Errorf("collection %q: embedded back-reference %q: %w", c.name, backRefName, err)
		}
		previousBucket := declaring.backRefBucket(cfg.ForeignKey, ownerPK)
		previousPKs := make(map[string]keyutil.Entity, previousBucket.Len())
		for _, item := range previousBucket.All() {
			previousPKs[declaring.pkOf(item).String()] = item
		}

		for _, elem := range arr {
			nested, ok := elem.(keyutil.Entity)
			if !ok {
				continue
			}
			nested = keyutil.CloneEntity(nested)
			nested[cfg.ForeignKey] = fkValue(ownerPK)
			inserted, err := declaring.Insert(nested)
			if err != nil {
				return err
			}
			delete(previousPKs, declaring.pkOf(inserted).String())
		}
		for _, stale := range previousPKs {
			declaring.Remove(stale, true)
		}
		delete(payload, backRefName)
	}
	return nil
}

func fkValue(k entitykey.Key) any {
	parts := k.Parts()
	if len(parts) == 1 {
		return parts[0]
	}
	out := make([]any, len(parts))
	copy(out, parts)
	return out
}

func (c *Collection) relationsSnapshot() map[string]RelationConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]RelationConfig, len(c.relations))
	for k, v := range c.relations {
		out[k] = v
	}
	return out
}

func (c *Collection) backRefsSnapshot() map[string]BackRefConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]BackRefConfig, len(c.backRefs))
	for k, v := range c.backRefs {
		out[k] = v
	}
	return out
}

func (c *Collection) backRefBucket(fkField string, pk entitykey.Key) *uniqueindex.UniqueIndex {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ensureNonUniqueIndex(fkField).Bucket(pk.String())
}

// Remove drops entity from the cache and, if notify is true, fires
// Removed() — under the same lock as the mutation, so emission order
// matches mutation order across concurrent goroutines.
func (c *Collection) Remove(entity keyutil.Entity, notify bool) {
	c.mu.Lock()
	c.removeLocked(entity, false)
	if notify {
		c.removed.Emit(entity)
	}
	c.mu.Unlock()
}

// removeLocked must be called with c.mu held.
func (c *Collection) removeLocked(entity keyutil.Entity, _ bool) {
	pk := c.pkOf(entity)
	c.index = c.index.Remove(pk)
	for field, idx := range c.indexes {
		if v, ok := entity[field]; ok {
			idx.Remove(stringifyFK(v), pk)
		}
	}
	for key, q := range c.queries {
		if q.items.Has(pk) {
			delete(c.queries, key)
		}
	}
}

// FilterResult is a result page annotated with Total, the full-match
// count before Offset/Limit.
type FilterResult struct {
	Items []keyutil.Entity
	Total int
}

// FilterParams configures Filter: a predicate, an ordering, and
// optional paging. Offset/Limit require OrderBy to be set.
type FilterParams struct {
	Where   keyquery.Criteria
	OrderBy any
	Offset  *int
	Limit   *int
}

// Filter evaluates params against the in-memory cache only (no Data
// Source access), choosing the cheapest candidate set it can — it looks
// up the bucket of every indexed field that has a bare-equality term and
// scans only the smallest of them, falling back to a full scan when no
// such term exists. Buckets are not intersected.
func (c *Collection) Filter(params FilterParams) (FilterResult, error) {
	c.mu.Lock()
	candidates, empty := c.candidateSet(params.Where)
	c.mu.Unlock()
	if empty {
		return FilterResult{Items: []keyutil.Entity{}, Total: 0}, nil
	}

	matched := make([]keyutil.Entity, 0, len(candidates))
	for _, item := range candidates {
		ok, err := keyquery.Test(item, params.Where)
		if err != nil {
			return FilterResult{}, err
		}
		if ok {
			matched = append(matched, item)
		}
	}

	if params.OrderBy != nil {
		cmp := keyquery.BuildComparator(params.OrderBy)
		sort.SliceStable(matched, func(i, j int) bool { return cmp(matched[i], matched[j]) < 0 })
	}

	total := len(matched)
	if params.Offset != nil || params.Limit != nil {
		if params.OrderBy == nil {
			return FilterResult{}, ErrOffsetLimitRequireOrderBy
		}
		matched = page(matched, params.Offset, params.Limit)
	}
	return FilterResult{Items: matched, Total: total}, nil
}

// candidateSet picks the smallest secondary-index bucket touched by a
// bare-equality term in where, or the full index if none applies. The
// second return value is true when a referenced bucket doesn't exist at
// all, meaning the result is empty without further evaluation.
func (c *Collection) candidateSet(where keyquery.Criteria) ([]keyutil.Entity, bool) {
	var best []keyutil.Entity
	for field, idx := range c.indexes {
		arg, ok := where[field]
		value, isBareEquality := bareEqualityValue(arg)
		if !ok || !isBareEquality {
			continue
		}
		bucket := idx.Bucket(stringifyFK(value))
		if bucket.Len() == 0 {
			if !idx.Has(stringifyFK(value)) {
				return nil, true
			}
		}
		items := bucket.All()
		if best == nil || len(items) < len(best) {
			best = items
		}
	}
	if best != nil {
		return best, false
	}
	return c.index.All(), false
}

func bareEqualityValue(arg any) (any, bool) {
	switch t := arg.(type) {
	case keyquery.Criteria:
		if v, ok := t["$eq"]; ok && len(t) == 1 {
			return v, true
		}
		return nil, false
	case map[string]any:
		if v, ok := t["$eq"]; ok && len(t) == 1 {
			return v, true
		}
		return nil, false
	default:
		return arg, true
	}
}

func page(items []keyutil.Entity, offset, limit *int) []keyutil.Entity {
	start := 0
	if offset != nil {
		start = *offset
	}
	if start > len(items) {
		start = len(items)
	}
	end := len(items)
	if limit != nil {
		end = start + *limit
		if end > len(items) {
			end = len(items)
		}
	}
	return items[start:end]
}
