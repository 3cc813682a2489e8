// Package uniqueindex implements UniqueIndex and NonUniqueIndex: a
// sorted-by-pk sequence paired with a hash map, giving O(1) pk lookup
// and O(log n) sorted iteration in one value, with copy-on-write
// semantics when frozen. Sorted insertion uses keyutil's binary-search
// helper to find the insertion point.
package uniqueindex

import (
	"fmt"

	"keyper/src/entitykey"
	"keyper/src/keyutil"
)

// PKFunc extracts the primary key from an entity.
type PKFunc func(keyutil.Entity) entitykey.Key

// UniqueIndex is a pk-keyed sorted sequence of entities: exactly one
// entry per pk, iteration ascending by pk comparator. When frozen,
// mutating operations return a new frozen copy; when mutable, they
// mutate the receiver in place and return it.
type UniqueIndex struct {
	pkOf   PKFunc
	frozen bool
	items  []keyutil.Entity // sorted ascending by pk
	pos    map[string]int   // pk string -> index into items
}

// New creates an empty, mutable UniqueIndex using pkOf to derive each
// item's key.
func New(pkOf PKFunc) *UniqueIndex {
	return &UniqueIndex{pkOf: pkOf, pos: make(map[string]int)}
}

// Empty returns a new frozen, empty UniqueIndex for back-reference
// accessors on entities with no holders. Each call allocates its own
// instance.
func Empty(pkOf PKFunc) *UniqueIndex {
	idx := New(pkOf)
	idx.frozen = true
	return idx
}

// Len reports the number of entries.
func (u *UniqueIndex) Len() int { return len(u.items) }

// PK returns item's primary key, using the same extractor u was
// constructed with.
func (u *UniqueIndex) PK(item keyutil.Entity) entitykey.Key { return u.pkOf(item) }

// Get returns the entity stored under pk, if any. Panics if pk is the
// zero Key.
func (u *UniqueIndex) Get(pk entitykey.Key) (keyutil.Entity, bool) {
	if pk.IsZero() {
		panic("uniqueindex: Get called with a nil/zero key")
	}
	i, ok := u.pos[pk.String()]
	if !ok {
		return nil, false
	}
	return u.items[i], true
}

// Has reports whether pk is present.
func (u *UniqueIndex) Has(pk entitykey.Key) bool {
	_, ok := u.pos[pk.String()]
	return ok
}

// All returns the entries in ascending pk order. The returned slice
// must not be mutated by the caller.
func (u *UniqueIndex) All() []keyutil.Entity {
	return u.items
}

// Frozen reports whether u is in frozen mode.
func (u *UniqueIndex) Frozen() bool { return u.frozen }

// Freeze returns a frozen UniqueIndex holding the same entries. If u is
// already frozen, it is returned unchanged.
func (u *UniqueIndex) Freeze() *UniqueIndex {
	if u.frozen {
		return u
	}
	return u.Copy(true)
}

// Copy returns an independent UniqueIndex (own items/pos slices) in the
// requested mode.
func (u *UniqueIndex) Copy(freeze bool) *UniqueIndex {
	out := &UniqueIndex{
		pkOf:   u.pkOf,
		frozen: freeze,
		items:  append([]keyutil.Entity(nil), u.items...),
		pos:    make(map[string]int, len(u.pos)),
	}
	for k, v := range u.pos {
		out.pos[k] = v
	}
	return out
}

// Add inserts or replaces items at their sorted position. If u is
// frozen, Add returns a new frozen UniqueIndex and leaves u untouched;
// otherwise it mutates u and returns u.
func (u *UniqueIndex) Add(items ...keyutil.Entity) *UniqueIndex {
	target := u
	if u.frozen {
		target = u.Copy(true)
	}
	for _, item := range items {
		target.addOne(item)
	}
	return target
}

func (u *UniqueIndex) addOne(item keyutil.Entity) {
	pk := u.pkOf(item)
	key := pk.String()
	if i, exists := u.pos[key]; exists {
		u.items[i] = item
		return
	}
	at := keyutil.SearchInsertPos(len(u.items), func(i int) bool {
		return u.pkOf(u.items[i]).Less(pk)
	})
	u.items = append(u.items, nil)
	copy(u.items[at+1:], u.items[at:])
	u.items[at] = item
	for k, i := range u.pos {
		if i >= at {
			u.pos[k] = i + 1
		}
	}
	u.pos[key] = at
}

// Remove deletes the entries for the given pks, if present. Frozen
// semantics mirror Add.
func (u *UniqueIndex) Remove(pks ...entitykey.Key) *UniqueIndex {
	target := u
	if u.frozen {
		target = u.Copy(true)
	}
	for _, pk := range pks {
		target.removeOne(pk)
	}
	return target
}

func (u *UniqueIndex) removeOne(pk entitykey.Key) {
	key := pk.String()
	at, exists := u.pos[key]
	if !exists {
		return
	}
	u.items = append(u.items[:at], u.items[at+1:]...)
	delete(u.pos, key)
	for k, i := range u.pos {
		if i > at {
			u.pos[k] = i - 1
		}
	}
}

func (u *UniqueIndex) String() string {
	return fmt.Sprintf("UniqueIndex(len=%d, frozen=%v)", len(u.items), u.frozen)
}
