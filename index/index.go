// Package index keeps the catalog of written records.
//
// The record store can't list its keys, so every write appends an Entry
// (record id and write time) to an index. Reading records back means
// reading the index, sorting it newest first and fetching each record.
package index

import (
	"context"
	"sort"
)

type Entry struct {
	ID string `json:"id"`
	// time in utc unix milliseconds
	Ts int64 `json:"ts"`
}

type Index interface {
	Append(ctx context.Context, e Entry) error
	// Entries returns all entries in the order they were appended
	Entries(ctx context.Context) ([]Entry, error)
}

// SortNewestFirst sorts by Ts descending. Entries with equal Ts keep
// their relative order.
func SortNewestFirst(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Ts > entries[j].Ts
	})
}
