package uniqueindex

import (
	"keyper/src/entitykey"
	"keyper/src/keyutil"
)

// NonUniqueIndex maps a stringified foreign-key value to the frozen
// UniqueIndex of entities sharing that value. Empty buckets are pruned
// immediately, as Go's built-in map already gives O(1) amortized
// string-keyed lookup — no hand-rolled hash/bucket structure is needed
// here.
type NonUniqueIndex struct {
	pkOf    PKFunc
	buckets map[string]*UniqueIndex
}

// NewNonUnique creates an empty NonUniqueIndex.
func NewNonUnique(pkOf PKFunc) *NonUniqueIndex {
	return &NonUniqueIndex{pkOf: pkOf, buckets: make(map[string]*UniqueIndex)}
}

// Bucket returns the frozen UniqueIndex of entities sharing fk, or a
// frozen empty index if none exist.
func (n *NonUniqueIndex) Bucket(fk string) *UniqueIndex {
	if b, ok := n.buckets[fk]; ok {
		return b
	}
	return Empty(n.pkOf)
}

// Put adds item to the bucket for fk.
func (n *NonUniqueIndex) Put(fk string, item keyutil.Entity) {
	b, ok := n.buckets[fk]
	if !ok {
		b = New(n.pkOf)
		b.frozen = true
		n.buckets[fk] = b
	}
	n.buckets[fk] = b.Add(item)
}

// Remove drops pk from the bucket for fk, pruning the bucket entirely
// if it becomes empty.
func (n *NonUniqueIndex) Remove(fk string, pk entitykey.Key) {
	b, ok := n.buckets[fk]
	if !ok {
		return
	}
	b = b.Remove(pk)
	if b.Len() == 0 {
		delete(n.buckets, fk)
		return
	}
	n.buckets[fk] = b
}

// Has reports whether fk has any entries.
func (n *NonUniqueIndex) Has(fk string) bool {
	b, ok := n.buckets[fk]
	return ok && b.Len() > 0
}
