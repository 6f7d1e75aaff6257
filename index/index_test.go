package index

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/kjk/despacho/kv"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// putOnly hides Update so KVIndex falls back to in-process locking
type putOnly struct {
	kv.Store
}

func testIndexes(t *testing.T) map[string]Index {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	dir, err := kv.NewDir(t.TempDir())
	require.NoError(t, err)
	logIdx, err := OpenLog(t.TempDir(), "")
	require.NoError(t, err)
	return map[string]Index{
		"kv-memory":   NewKVIndex(kv.NewMemory()),
		"kv-dir":      NewKVIndex(dir),
		"kv-redis":    NewKVIndex(kv.NewRedisWithClient(client, "")),
		"kv-put-only": NewKVIndex(putOnly{kv.NewMemory()}),
		"log":         logIdx,
	}
}

func TestIndexAppendEntries(t *testing.T) {
	ctx := context.Background()
	for name, idx := range testIndexes(t) {
		t.Run(name, func(t *testing.T) {
			entries, err := idx.Entries(ctx)
			require.NoError(t, err)
			assert.Empty(t, entries)

			exp := []Entry{
				{ID: "a", Ts: 10},
				{ID: "b", Ts: 30},
				{ID: "c", Ts: 20},
			}
			for _, e := range exp {
				require.NoError(t, idx.Append(ctx, e))
			}
			entries, err = idx.Entries(ctx)
			require.NoError(t, err)
			assert.Equal(t, exp, entries)

			assert.Error(t, idx.Append(ctx, Entry{Ts: 5}))
		})
	}
}

func TestIndexConcurrentAppend(t *testing.T) {
	ctx := context.Background()
	for name, idx := range testIndexes(t) {
		t.Run(name, func(t *testing.T) {
			const n = 25
			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					err := idx.Append(ctx, Entry{ID: fmt.Sprintf("id-%d", i), Ts: int64(i)})
					assert.NoError(t, err)
				}(i)
			}
			wg.Wait()
			entries, err := idx.Entries(ctx)
			require.NoError(t, err)
			require.Len(t, entries, n)
			seen := map[string]bool{}
			for _, e := range entries {
				seen[e.ID] = true
			}
			assert.Len(t, seen, n)
		})
	}
}

func TestSortNewestFirst(t *testing.T) {
	entries := []Entry{
		{ID: "a", Ts: 1},
		{ID: "b", Ts: 3},
		{ID: "c", Ts: 2},
		{ID: "d", Ts: 3},
	}
	SortNewestFirst(entries)
	var ids []string
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"b", "d", "c", "a"}, ids)

	// random input ends up non-increasing
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	entries = nil
	for i := 0; i < 500; i++ {
		entries = append(entries, Entry{ID: fmt.Sprintf("%d", i), Ts: rng.Int63n(100)})
	}
	SortNewestFirst(entries)
	for i := 1; i < len(entries); i++ {
		assert.GreaterOrEqual(t, entries[i-1].Ts, entries[i].Ts)
	}
}

func TestKVIndexMalformed(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	require.NoError(t, store.Put(ctx, DefaultKey, []byte("{not json")))
	idx := NewKVIndex(store)
	_, err := idx.Entries(ctx)
	assert.Error(t, err)
	assert.Error(t, idx.Append(ctx, Entry{ID: "a", Ts: 1}))

	require.NoError(t, store.Put(ctx, DefaultKey, []byte("  ")))
	entries, err := idx.Entries(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestKVIndexStoredFormat(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemory()
	idx := NewKVIndex(store)
	require.NoError(t, idx.Append(ctx, Entry{ID: "x", Ts: 1700000000000}))
	d, err := store.Get(ctx, DefaultKey)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"x","ts":1700000000000}]`, string(d))
}

func TestParseLine(t *testing.T) {
	var e Entry
	require.NoError(t, ParseLine("1700000000000 abc-def", &e))
	assert.Equal(t, Entry{ID: "abc-def", Ts: 1700000000000}, e)

	bad := []string{"", "123", "abc def", "-1 x", "1 a b", "1 "}
	for _, s := range bad {
		assert.Error(t, ParseLine(s, &e), "line: '%s'", s)
	}
}

func TestLogIndexIgnoresPartialLastLine(t *testing.T) {
	ctx := context.Background()
	idx, err := OpenLog(t.TempDir(), "idx.txt")
	require.NoError(t, err)
	require.NoError(t, idx.Append(ctx, Entry{ID: "a", Ts: 1}))

	// simulate a crash in the middle of a write
	f, err := os.OpenFile(idx.Path(), os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("2 b")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	entries, err := idx.Entries(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Entry{{ID: "a", Ts: 1}}, entries)
}

func TestLogIndexAppendAfterPartialLine(t *testing.T) {
	ctx := context.Background()
	for _, partial := range []string{"20", "200 ", "200 b", strings.Repeat("9", 5000)} {
		idx, err := OpenLog(t.TempDir(), "")
		require.NoError(t, err)
		require.NoError(t, idx.Append(ctx, Entry{ID: "a", Ts: 100}))

		f, err := os.OpenFile(idx.Path(), os.O_APPEND|os.O_WRONLY, 0644)
		require.NoError(t, err)
		_, err = f.WriteString(partial)
		require.NoError(t, err)
		require.NoError(t, f.Close())

		require.NoError(t, idx.Append(ctx, Entry{ID: "c", Ts: 300}))
		entries, err := idx.Entries(ctx)
		require.NoError(t, err)
		assert.Equal(t, []Entry{{ID: "a", Ts: 100}, {ID: "c", Ts: 300}}, entries, "partial: '%s'", partial)

		d, err := os.ReadFile(idx.Path())
		require.NoError(t, err)
		assert.Equal(t, "100 a\n300 c\n", string(d))
	}
}

func TestLogIndexPartialFirstLine(t *testing.T) {
	ctx := context.Background()
	idx, err := OpenLog(t.TempDir(), "")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(idx.Path(), []byte("12"), 0644))

	require.NoError(t, idx.Append(ctx, Entry{ID: "a", Ts: 1}))
	entries, err := idx.Entries(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Entry{{ID: "a", Ts: 1}}, entries)
}

func TestLogIndexRejectsBadIDs(t *testing.T) {
	ctx := context.Background()
	idx, err := OpenLog(t.TempDir(), "")
	require.NoError(t, err)
	assert.Error(t, idx.Append(ctx, Entry{ID: "a b", Ts: 1}))
	assert.Error(t, idx.Append(ctx, Entry{ID: "a\nb", Ts: 1}))
	assert.Error(t, idx.Append(ctx, Entry{ID: "a", Ts: -1}))
}

func TestLogIndexReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	idx, err := OpenLog(dir, "")
	require.NoError(t, err)
	require.NoError(t, idx.Append(ctx, Entry{ID: "a", Ts: 1}))

	idx2, err := OpenLog(dir, "")
	require.NoError(t, err)
	entries, err := idx2.Entries(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Entry{{ID: "a", Ts: 1}}, entries)
}
