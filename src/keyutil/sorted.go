package keyutil

import "sort"

// SearchInsertPos returns the smallest index i in [0,n) such that
// less(i) is false, or n if no such index exists — an O(log n)
// binary search for the sorted-insertion point, via sort.Search.
func SearchInsertPos(n int, less func(i int) bool) int {
	return sort.Search(n, func(i int) bool { return !less(i) })
}
