package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/kjk/despacho/index"
	"github.com/kjk/despacho/kv"
)

// Repository persists records and reads them back
type Repository interface {
	// Append stores a record that already has ID and Ts set
	Append(ctx context.Context, rec *Record) error
	// List returns at most limit records, newest first. limit <= 0 means all.
	List(ctx context.Context, limit int) ([]*Record, error)
}

const recordKeyPrefix = "record:"

// RecordKey returns the store key of a record
func RecordKey(id string) string {
	return recordKeyPrefix + id
}

const defaultFetchConcurrency = 16

// KVRepository stores every record under its own key and keeps track of
// them in an index
type KVRepository struct {
	Store kv.Store
	Index index.Index
	// max number of parallel store reads in List
	Concurrency int
	// OnSkip is called for an index entry whose record is missing or
	// unreadable. Such records are left out of List results.
	OnSkip func(e index.Entry, err error)
}

var _ Repository = &KVRepository{}

func NewKVRepository(store kv.Store, idx index.Index) *KVRepository {
	return &KVRepository{
		Store: store,
		Index: idx,
	}
}

// Append writes the record before the index entry. If the index update
// fails the record stays in the store, unreferenced.
func (r *KVRepository) Append(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		return errors.New("records: record has no id")
	}
	d, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err = r.Store.Put(ctx, RecordKey(rec.ID), d); err != nil {
		return &PersistenceError{Op: "write record", Err: err}
	}
	e := index.Entry{ID: rec.ID, Ts: rec.Ts}
	if err = r.Index.Append(ctx, e); err != nil {
		return &PersistenceError{Op: "update index", Err: err}
	}
	return nil
}

func (r *KVRepository) get(ctx context.Context, e index.Entry) (*Record, error) {
	d, err := r.Store.Get(ctx, RecordKey(e.ID))
	if err != nil {
		return nil, err
	}
	var rec Record
	if err = json.Unmarshal(d, &rec); err != nil {
		return nil, fmt.Errorf("record '%s' is malformed: %w", e.ID, err)
	}
	if rec.ID == "" {
		rec.ID = e.ID
	}
	return &rec, nil
}

func (r *KVRepository) skip(e index.Entry, err error) {
	if r.OnSkip != nil {
		r.OnSkip(e, err)
	}
}

func (r *KVRepository) List(ctx context.Context, limit int) ([]*Record, error) {
	entries, err := r.Index.Entries(ctx)
	if err != nil {
		return nil, &PersistenceError{Op: "read index", Err: err}
	}
	index.SortNewestFirst(entries)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	n := r.Concurrency
	if n <= 0 {
		n = defaultFetchConcurrency
	}
	sem := make(chan struct{}, n)
	fetched := make([]*Record, len(entries))
	var wg sync.WaitGroup
	for i, e := range entries {
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer func() {
				<-sem
				wg.Done()
			}()
			rec, err := r.get(ctx, e)
			if err != nil {
				r.skip(e, err)
				return
			}
			fetched[i] = rec
		}()
	}
	wg.Wait()
	if err = ctx.Err(); err != nil {
		return nil, &PersistenceError{Op: "read records", Err: err}
	}

	res := make([]*Record, 0, len(fetched))
	for _, rec := range fetched {
		if rec != nil {
			res = append(res, rec)
		}
	}
	return res, nil
}
