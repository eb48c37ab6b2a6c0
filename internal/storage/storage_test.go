package storage

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestStorage_PutGet(t *testing.T) {
	store := New(t.TempDir())
	ctx := context.Background()

	in := record{Name: "run-1", Count: 3}
	require.NoError(t, store.Put(ctx, []string{"run", "abc"}, in))

	var out record
	require.NoError(t, store.Get(ctx, []string{"run", "abc"}, &out))
	assert.Equal(t, in, out)
}

func TestStorage_GetMissing(t *testing.T) {
	store := New(t.TempDir())

	var out record
	err := store.Get(context.Background(), []string{"run", "nope"}, &out)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStorage_Delete(t *testing.T) {
	store := New(t.TempDir())
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, []string{"run", "abc"}, record{}))
	require.NoError(t, store.Delete(ctx, []string{"run", "abc"}))
	assert.False(t, store.Exists(ctx, []string{"run", "abc"}))

	// Deleting again is a no-op, not an error.
	assert.NoError(t, store.Delete(ctx, []string{"run", "abc"}))
}

func TestStorage_ScanOrder(t *testing.T) {
	store := New(t.TempDir())
	ctx := context.Background()

	// ULID-style keys: lexicographic order is creation order.
	keys := []string{"01A", "01B", "01C"}
	for i, key := range keys {
		require.NoError(t, store.Put(ctx, []string{"message", "sess-1", key}, record{Count: i}))
	}

	var got []string
	err := store.Scan(ctx, []string{"message", "sess-1"}, func(key string, data json.RawMessage) error {
		got = append(got, key)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, keys, got)
}

func TestStorage_ScanMissingDir(t *testing.T) {
	store := New(t.TempDir())

	called := false
	err := store.Scan(context.Background(), []string{"message", "none"}, func(string, json.RawMessage) error {
		called = true
		return nil
	})
	assert.NoError(t, err)
	assert.False(t, called)
}

func TestStorage_List(t *testing.T) {
	store := New(t.TempDir())
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, []string{"message", "s2", "m1"}, record{}))
	require.NoError(t, store.Put(ctx, []string{"message", "s1", "m1"}, record{}))

	sessions, err := store.List(ctx, []string{"message"})
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, sessions)
}
