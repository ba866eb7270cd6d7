package search

import (
	"sort"
	"strings"
)

// Rank orders results in place:
//
//  1. volume24h > 0 before volume24h == 0
//  2. higher volume24h first among traded results
//  3. names containing query (case-insensitive) after those that do not
//  4. ordinal name comparison
//
// Rule 3 deliberately sinks literal name matches within their tie group.
// It is product policy; keep it unless product owners change it.
func Rank(results []Result, query string) {
	q := strings.ToLower(strings.TrimSpace(query))
	sort.SliceStable(results, func(i, j int) bool {
		return less(results[i], results[j], q)
	})
}

func less(a, b Result, q string) bool {
	aTraded, bTraded := a.Volume24h > 0, b.Volume24h > 0
	if aTraded != bTraded {
		return aTraded
	}
	if aTraded && a.Volume24h != b.Volume24h {
		return a.Volume24h > b.Volume24h
	}
	aMatch := strings.Contains(strings.ToLower(a.Name), q)
	bMatch := strings.Contains(strings.ToLower(b.Name), q)
	if aMatch != bMatch {
		return !aMatch
	}
	return a.Name < b.Name
}
