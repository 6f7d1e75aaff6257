package index

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/kjk/despacho/kv"
)

// DefaultKey is the store key holding the index
const DefaultKey = "index"

// KVIndex keeps all entries as a single JSON array under one key of a
// kv.Store.
//
// If the store implements kv.Updater, appends are atomic across processes
// (for stores whose Update is). Otherwise they are serialized within this
// process only and concurrent writers in other processes can lose entries.
type KVIndex struct {
	store kv.Store
	key   string
	mu    sync.Mutex
}

var _ Index = &KVIndex{}

func NewKVIndex(store kv.Store) *KVIndex {
	return &KVIndex{
		store: store,
		key:   DefaultKey,
	}
}

// DecodeEntries parses the stored JSON array. Missing or blank data is an
// empty index.
func DecodeEntries(d []byte) ([]Entry, error) {
	if len(bytes.TrimSpace(d)) == 0 {
		return nil, nil
	}
	var res []Entry
	if err := json.Unmarshal(d, &res); err != nil {
		return nil, fmt.Errorf("index: malformed index: %w", err)
	}
	return res, nil
}

func appendEntry(e Entry) kv.UpdateFunc {
	return func(old []byte) ([]byte, error) {
		entries, err := DecodeEntries(old)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
		return json.Marshal(entries)
	}
}

func (x *KVIndex) Append(ctx context.Context, e Entry) error {
	if e.ID == "" {
		return errors.New("index: empty id")
	}
	fn := appendEntry(e)
	if u, ok := x.store.(kv.Updater); ok {
		return u.Update(ctx, x.key, fn)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	old, err := x.store.Get(ctx, x.key)
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		return err
	}
	d, err := fn(old)
	if err != nil {
		return err
	}
	return x.store.Put(ctx, x.key, d)
}

func (x *KVIndex) Entries(ctx context.Context) ([]Entry, error) {
	d, err := x.store.Get(ctx, x.key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return DecodeEntries(d)
}
