package keyquery

import (
	"sort"
	"testing"

	"keyper/src/keyutil"
)

func TestOrderingDescending(t *testing.T) {
	items := []keyutil.Entity{
		{"a": 2}, {"a": 3}, {"a": 1},
	}
	cmp := BuildComparator("a-")
	sort.Slice(items, func(i, j int) bool { return cmp(items[i], items[j]) < 0 })
	got := []int{items[0]["a"].(int), items[1]["a"].(int), items[2]["a"].(int)}
	want := []int{3, 2, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestAscendingIsNegationOfDescending(t *testing.T) {
	a := keyutil.Entity{"f": 1}
	b := keyutil.Entity{"f": 2}
	asc := BuildComparator("f+")
	desc := BuildComparator("f-")
	if asc(a, b) != -desc(a, b) {
		t.Fatalf("ascending should be the negation of descending")
	}
}

func TestCompoundComparatorShortCircuits(t *testing.T) {
	cmp := BuildComparator([]string{"group", "rank-"})
	items := []keyutil.Entity{
		{"group": "b", "rank": 1},
		{"group": "a", "rank": 2},
		{"group": "a", "rank": 1},
	}
	sort.Slice(items, func(i, j int) bool { return cmp(items[i], items[j]) < 0 })
	if items[0]["rank"] != 2 || items[1]["rank"] != 1 || items[2]["group"] != "b" {
		t.Fatalf("unexpected order: %v", items)
	}
}
