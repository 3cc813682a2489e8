package collection

import (
	"fmt"

	"keyper/src/entitykey"
	"keyper/src/keyutil"
	"keyper/src/uniqueindex"
)

// defineRelation registers field's RelationConfig, deriving ForeignKey
// when absent and wiring the back-reference onto the target collection
// (immediately if it already exists, deferred via OnCollectionCreated
// otherwise, so circular or not-yet-declared targets resolve once they
// show up).
func (c *Collection) defineRelation(field string, rel RelationConfig) error {
	if rel.ForeignKey == "" {
		related, err := c.lookupPKFields(rel.Collection)
		if err != nil {
			// Target doesn't exist yet: defer the whole relation's
			// foreign-key derivation until it does.
			c.deferRelationWiring(field, rel)
			return nil
		}
		fk, err := entitykey.DefaultForeignKey(field, related, rel.Many)
		if err != nil {
			return fmt.Errorf("collection %q: %w", c.name, err)
		}
		rel.ForeignKey = fk
	}
	if _, clash := c.backRefs[field]; clash {
		return fmt.Errorf("collection %q field %q: %w", c.name, field, ErrDuplicateAccessor)
	}
	c.relations[field] = rel
	c.foreignKeys[rel.ForeignKey] = field
	c.ensureNonUniqueIndex(rel.ForeignKey)

	if rel.BackRef != "" {
		if err := c.wireBackRef(field, rel); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collection) lookupPKFields(collectionName string) ([]string, error) {
	if collectionName == c.name {
		return c.cfg.PrimaryKey, nil
	}
	target, err := c.registry.GetCollection(collectionName)
	if err != nil {
		return nil, err
	}
	return target.cfg.PrimaryKey, nil
}

func (c *Collection) deferRelationWiring(field string, rel RelationConfig) {
	c.registry.OnCollectionCreated(func(name string, created *Collection) {
		if name != rel.Collection {
			return
		}
		fk, err := entitykey.DefaultForeignKey(field, created.cfg.PrimaryKey, rel.Many)
		if err != nil {
			if c.logger != nil {
				c.logger.Warnf("collection %q: deferred relation %q could not derive a foreign key: %v", c.name, field, err)
			}
			return
		}
		rel.ForeignKey = fk
		c.mu.Lock()
		c.relations[field] = rel
		c.foreignKeys[rel.ForeignKey] = field
		c.ensureNonUniqueIndex(rel.ForeignKey)
		c.mu.Unlock()
		if rel.BackRef != "" {
			if err := c.wireBackRef(field, rel); err != nil && c.logger != nil {
				c.logger.Warnf("collection %q: deferred relation %q: %v", c.name, field, err)
			}
		}
	})
}

// wireBackRef installs an accessor on the target collection, resolving
// the target now if it already exists, or deferring until it's created.
// A back-ref name that collides with a relation or back-ref already on
// the target is a configuration error, surfaced immediately when the
// target exists and logged when the wiring was deferred.
func (c *Collection) wireBackRef(field string, rel RelationConfig) error {
	install := func(target *Collection) error {
		target.mu.Lock()
		defer target.mu.Unlock()
		_, asRelation := target.relations[rel.BackRef]
		_, asBackRef := target.backRefs[rel.BackRef]
		if asRelation || asBackRef {
			return fmt.Errorf("collection %q back-reference %q on %q: %w", c.name, rel.BackRef, target.name, ErrDuplicateAccessor)
		}
		target.backRefs[rel.BackRef] = BackRefConfig{
			Collection: c.name,
			ForeignKey: rel.ForeignKey,
		}
		return nil
	}
	if rel.Collection == c.name {
		return install(c)
	}
	if target, err := c.registry.GetCollection(rel.Collection); err == nil {
		return install(target)
	}
	c.registry.OnCollectionCreated(func(name string, created *Collection) {
		if name != rel.Collection {
			return
		}
		if err := install(created); err != nil && c.logger != nil {
			c.logger.Warnf("deferred back-reference wiring for %q failed: %v", field, err)
		}
	})
	return nil
}

// Related resolves the single- or many-valued forward relation field on
// e. The accessor never holds a direct entity reference — it looks the
// related collection up by name and reads its *current* index, so it
// always reflects the latest snapshot.
func (c *Collection) Related(e keyutil.Entity, field string) (any, error) {
	c.mu.Lock()
	rel, ok := c.relations[field]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("collection %q field %q: %w", c.name, field, ErrNoSuchRelation)
	}
	target, err := c.registry.GetCollection(rel.Collection)
	if err != nil {
		return nil, fmt.Errorf("relation %q targeting %q: %w", field, rel.Collection, ErrUnknownRelationTarget)
	}
	fkVal, present := e[rel.ForeignKey]
	if !present || fkVal == nil {
		return nil, nil
	}
	targetIndex := target.currentIndex()
	if rel.Many {
		pks, ok := fkVal.([]any)
		if !ok {
			return nil, fmt.Errorf("relation %q: foreign key %q is not a list", field, rel.ForeignKey)
		}
		out := make([]keyutil.Entity, 0, len(pks))
		for _, p := range pks {
			pk, err := entitykey.New(p)
			if err != nil {
				return nil, fmt.Errorf("relation %q: %w", field, err)
			}
			if item, ok := targetIndex.Get(pk); ok {
				out = append(out, item)
			}
		}
		return out, nil
	}
	pk, err := entitykey.New(fkVal)
	if err != nil {
		return nil, fmt.Errorf("relation %q: %w", field, err)
	}
	item, ok := targetIndex.Get(pk)
	if !ok {
		return nil, nil
	}
	return item, nil
}

// currentIndex returns the collection's current frozen index snapshot.
func (c *Collection) currentIndex() *uniqueindex.UniqueIndex {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index
}

// BackRef resolves the back-reference field on e: the set of entities in
// the declaring collection whose foreign key points at e's primary key.
// Returns a frozen empty index when nothing points at e.
func (c *Collection) BackRef(e keyutil.Entity, field string) (*uniqueindex.UniqueIndex, error) {
	c.mu.Lock()
	cfg, ok := c.backRefs[field]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("collection %q field %q: %w", c.name, field, ErrNoSuchRelation)
	}
	declaring, err := c.registry.GetCollection(cfg.Collection)
	if err != nil {
		return nil, fmt.Errorf("back-reference %q targeting %q: %w", field, cfg.Collection, ErrUnknownRelationTarget)
	}
	pk := c.pkOf(e)
	declaring.mu.Lock()
	defer declaring.mu.Unlock()
	idx := declaring.ensureNonUniqueIndex(cfg.ForeignKey)
	return idx.Bucket(pk.String()), nil
}
