package requestlog

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingSinkReturnsNewestFirst(t *testing.T) {
	sink := NewRingSink(3)
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		require.NoError(t, sink.Record(ctx, Entry{Path: fmt.Sprintf("/%d", i)}))
	}

	entries, err := sink.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "/2", entries[0].Path)
	assert.Equal(t, "/1", entries[1].Path)
}

func TestRingSinkDropsOldestWhenFull(t *testing.T) {
	sink := NewRingSink(3)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, sink.Record(ctx, Entry{Path: fmt.Sprintf("/%d", i)}))
	}

	assert.Equal(t, 3, sink.Len())

	entries, err := sink.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, []string{"/5", "/4", "/3"}, paths(entries))

	limited, err := sink.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"/5", "/4"}, paths(limited))
}

func TestSinksAreIndependent(t *testing.T) {
	a := NewRingSink(2)
	b := NewRingSink(2)

	require.NoError(t, a.Record(context.Background(), Entry{Path: "/a"}))
	assert.Equal(t, 1, a.Len())
	assert.Equal(t, 0, b.Len())
}

func TestRedisSinkIsCapped(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sink := NewRedisSink(client, "fleet:requests", 3)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		require.NoError(t, sink.Record(ctx, Entry{Path: fmt.Sprintf("/%d", i), Status: 200, At: time.Now()}))
	}

	entries, err := sink.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"/5", "/4", "/3"}, paths(entries))
	assert.Equal(t, 200, entries[0].Status)

	limited, err := sink.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"/5"}, paths(limited))
}

func paths(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Path)
	}
	return out
}
