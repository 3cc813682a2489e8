package collection

import (
	"fmt"

	"keyper/src/entitykey"
	"keyper/src/keyutil"
	"keyper/src/uniqueindex"
)

// GetMutable returns a mutable clone of the cached entity at pk. If mask
// is non-nil, each requested back-reference field is installed as a
// mutable UniqueIndex of deep mutable clones of the back-referenced
// entities, recursing with the nested mask.
func (c *Collection) GetMutable(pk entitykey.Key, mask RelationMask) (*MutableEntity, error) {
	c.mu.Lock()
	cached, ok := c.index.Get(pk)
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("collection %q: %w", c.name, ErrNotFound)
	}
	return c.mutableFrom(cached, pk, mask)
}

func (c *Collection) mutableFrom(cached keyutil.Entity, pk entitykey.Key, mask RelationMask) (*MutableEntity, error) {
	fields := keyutil.CloneEntity(cached)
	mutable := &MutableEntity{Fields: fields, Mask: mask, SourcePK: pk}

	for field, sub := range mask {
		cfg, ok := c.backRefsSnapshot()[field]
		if !ok {
			continue
		}
		declaring, err := c.registry.GetCollection(cfg.Collection)
		if err != nil {
			return nil, fmt.Errorf("collection %q: back-reference %q: %w", c.name, field, err)
		}
		bucket := declaring.backRefBucket(cfg.ForeignKey, pk)
		nestedMask, _ := sub.(RelationMask)
		mutBucket := uniqueindex.New(declaring.pkOf)
		for _, item := range bucket.All() {
			childPK := declaring.pkOf(item)
			childMutable, err := declaring.mutableFrom(item, childPK, nestedMask)
			if err != nil {
				return nil, err
			}
			mutBucket = mutBucket.Add(childMutable.Fields)
		}
		fields[field] = mutBucket
	}
	return mutable, nil
}

// HasChanges reports whether mutable's fields differ from the currently
// cached snapshot at its SourcePK.
func (c *Collection) HasChanges(mutable *MutableEntity) (bool, error) {
	c.mu.Lock()
	cached, ok := c.index.Get(mutable.SourcePK)
	c.mu.Unlock()
	if !ok {
		return true, nil
	}
	diff := diffFields(cached, mutable.Fields)
	return len(diff) > 0, nil
}

// GetDiff computes the own-property differences between mutable and the
// currently cached snapshot, stamped with the source pk. Back-reference
// fields are diffed element-wise: an element with no pk is new,
// otherwise it's diffed recursively; the property surfaces only if
// something actually changed or the length differs.
func (c *Collection) GetDiff(mutable *MutableEntity) (keyutil.Entity, error) {
	c.mu.Lock()
	cached, _ := c.index.Get(mutable.SourcePK)
	c.mu.Unlock()
	diff := diffFields(cached, mutable.Fields)
	diff[keyutil.CollectionTag] = c.name
	diff["$pk"] = mutable.SourcePK.String()
	return diff, nil
}

func diffFields(cached, mutated keyutil.Entity) keyutil.Entity {
	diff := keyutil.Entity{}
	for k, v := range mutated {
		if k == keyutil.CollectionTag {
			continue
		}
		if bucket, ok := v.(*uniqueindex.UniqueIndex); ok {
			if changed := diffBucket(cached[k], bucket); changed != nil {
				diff[k] = changed
			}
			continue
		}
		if old, existed := cached[k]; !existed || !keyutil.DeepEqual(old, v) {
			diff[k] = v
		}
	}
	return diff
}

// diffBucket compares a back-reference bucket's current elements
// against their mutated counterparts; an element lacking a recognizable
// pk among the original entities is treated as new.
func diffBucket(originalAny any, mutated *uniqueindex.UniqueIndex) []keyutil.Entity {
	original, _ := originalAny.(*uniqueindex.UniqueIndex)
	var changed []keyutil.Entity
	lengthChanged := original == nil || original.Len() != mutated.Len()
	for _, item := range mutated.All() {
		if original == nil {
			changed = append(changed, item)
			continue
		}
		pk := mutated.PK(item)
		was, existed := original.Get(pk)
		if !existed {
			changed = append(changed, item)
			continue
		}
		if d := diffFields(was, item); len(d) > 0 {
			changed = append(changed, item)
		}
	}
	if lengthChanged || len(changed) > 0 {
		if changed == nil {
			changed = []keyutil.Entity{}
		}
		return changed
	}
	return nil
}
