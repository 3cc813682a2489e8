package collection

import (
	"context"
	"fmt"

	"keyper/src/entitykey"
	"keyper/src/keyutil"
)

// LoadRelations hydrates items for every field in mask (merged with the
// collection's configured EagerLoad defaults and every relation whose
// RelationConfig.EagerLoad is set) so relation accessors resolve without
// further I/O. Back-reference fields are skipped —
// hydrating them eagerly would require scanning the declaring
// collection's Data Source with no pk to filter on, which this
// in-memory hydration pass does not attempt. LoadRelations returns only
// an error and never modifies the items slice, so callers that attached
// extra metadata (e.g. Total) keep it.
func (c *Collection) LoadRelations(ctx context.Context, items []keyutil.Entity, mask RelationMask) error {
	merged := mergeMasks(c.cfg.EagerLoad, mask)
	c.mu.Lock()
	for field, rel := range c.relations {
		if _, listed := merged[field]; !rel.EagerLoad || listed {
			continue
		}
		// Copy before adding: merged may alias the config or caller mask.
		withEager := make(RelationMask, len(merged)+1)
		for k, v := range merged {
			withEager[k] = v
		}
		withEager[field] = true
		merged = withEager
	}
	c.mu.Unlock()
	if len(merged) == 0 || len(items) == 0 {
		return nil
	}

	type perField struct {
		rel RelationConfig
		sub RelationMask
	}
	fields := make(map[string]perField)
	c.mu.Lock()
	for field, sub := range merged {
		if _, isBackRef := c.backRefs[field]; isBackRef {
			continue
		}
		rel, ok := c.relations[field]
		if !ok {
			continue
		}
		nested, _ := sub.(RelationMask)
		fields[field] = perField{rel: rel, sub: nested}
	}
	c.mu.Unlock()

	// Group pks to load per related collection, excluding pks already
	// present in that collection's index.
	type group struct {
		target *Collection
		pks    map[string]entitykey.Key
	}
	groups := make(map[string]*group)

	for field, pf := range fields {
		target, err := c.registry.GetCollection(pf.rel.Collection)
		if err != nil {
			return fmt.Errorf("collection %q: relation %q: %w", c.name, field, err)
		}
		g, ok := groups[pf.rel.Collection]
		if !ok {
			g = &group{target: target, pks: make(map[string]entitykey.Key)}
			groups[pf.rel.Collection] = g
		}
		for _, item := range items {
			if item == nil {
				continue
			}
			fkVal, present := item[pf.rel.ForeignKey]
			if !present || fkVal == nil {
				continue
			}
			pks, err := foreignKeysOf(fkVal, pf.rel.Many)
			if err != nil {
				return fmt.Errorf("collection %q: relation %q: %w", c.name, field, err)
			}
			for _, pk := range pks {
				target.mu.Lock()
				_, already := target.index.Get(pk)
				target.mu.Unlock()
				if !already {
					g.pks[pk.String()] = pk
				}
			}
		}
	}

	// One FetchAll per related collection with the deduplicated pk set.
	for name, g := range groups {
		if len(g.pks) == 0 {
			continue
		}
		pks := make([]entitykey.Key, 0, len(g.pks))
		for _, pk := range g.pks {
			pks = append(pks, pk)
		}
		if _, err := g.target.FetchAll(ctx, pks, FetchOptions{}); err != nil {
			return fmt.Errorf("collection %q: loading relation target %q: %w", c.name, name, err)
		}
	}

	// Recurse for fields that had a nested mask, gathering the
	// now-resolved related entities across all input items.
	for field, pf := range fields {
		if pf.sub == nil {
			continue
		}
		target, err := c.registry.GetCollection(pf.rel.Collection)
		if err != nil {
			continue
		}
		var toHydrate []keyutil.Entity
		for _, item := range items {
			if item == nil {
				continue
			}
			related, err := c.Related(item, field)
			if err != nil {
				continue
			}
			switch t := related.(type) {
			case keyutil.Entity:
				toHydrate = append(toHydrate, t)
			case []keyutil.Entity:
				toHydrate = append(toHydrate, t...)
			}
		}
		if err := target.LoadRelations(ctx, toHydrate, pf.sub); err != nil {
			return err
		}
	}
	return nil
}

func mergeMasks(a, b RelationMask) RelationMask {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}
	out := make(RelationMask, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

func foreignKeysOf(fkVal any, many bool) ([]entitykey.Key, error) {
	if !many {
		pk, err := entitykey.New(fkVal)
		if err != nil {
			return nil, err
		}
		return []entitykey.Key{pk}, nil
	}
	arr, ok := fkVal.([]any)
	if !ok {
		return nil, fmt.Errorf("expected a list of foreign keys, got %T", fkVal)
	}
	out := make([]entitykey.Key, 0, len(arr))
	for _, v := range arr {
		pk, err := entitykey.New(v)
		if err != nil {
			return nil, err
		}
		out = append(out, pk)
	}
	return out, nil
}
