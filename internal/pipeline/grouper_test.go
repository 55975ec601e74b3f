package pipeline

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/healthetl/pkg/models"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func timed(key string, seq uint64, offset time.Duration) *models.Record {
	return &models.Record{Key: key, Seq: seq, Sort: models.TimeSortKey(base.Add(offset))}
}

func TestGrouperConcurrentInsert(t *testing.T) {
	const (
		workers   = 8
		perWorker = 5000
		keys      = 13
	)
	g := NewGrouper(16, 4)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				seq := uint64(w*perWorker + i)
				key := fmt.Sprintf("key-%02d", seq%keys)
				offset := time.Duration((seq*7919)%(workers*perWorker)) * time.Second
				assert.NoError(t, g.Insert(timed(key, seq, offset)))
			}
		}(w)
	}
	wg.Wait()

	groups := g.Finalize()
	require.Len(t, groups, keys)

	seen := make(map[uint64]bool, workers*perWorker)
	for i, grp := range groups {
		assert.Equal(t, fmt.Sprintf("key-%02d", i), grp.Key, "groups sorted by key")
		for j, r := range grp.Records {
			assert.Equal(t, grp.Key, r.Key)
			assert.False(t, seen[r.Seq], "duplicate record %d", r.Seq)
			seen[r.Seq] = true
			if j > 0 {
				assert.LessOrEqual(t, models.CompareRecords(grp.Records[j-1], r), 0)
			}
		}
	}
	assert.Len(t, seen, workers*perWorker, "no record dropped")
}

func TestGrouperOrdering(t *testing.T) {
	g := NewGrouper(4, 1)
	records := []*models.Record{
		{Key: "k", Seq: 50},
		timed("k", 40, 2*time.Hour),
		{Key: "k", Seq: 10},
		timed("k", 30, time.Hour),
		timed("k", 20, time.Hour),
		{Key: "k", Seq: 60, Sort: models.TextSortKey("not a date")},
	}
	for _, r := range records {
		require.NoError(t, g.Insert(r))
	}

	groups := g.Finalize()
	require.Len(t, groups, 1)
	var seqs []uint64
	for _, r := range groups[0].Records {
		seqs = append(seqs, r.Seq)
	}
	// Timed keys first with ties broken by sequence, then text keys, then
	// records without a sort key in arrival order.
	assert.Equal(t, []uint64{20, 30, 40, 60, 10, 50}, seqs)
}

func TestGrouperSingletonAndArrivalOrder(t *testing.T) {
	g := NewGrouper(DefaultShards, 2)
	require.NoError(t, g.Insert(&models.Record{Key: "only", Seq: 7}))
	for _, seq := range []uint64{30, 10, 20} {
		require.NoError(t, g.Insert(&models.Record{Key: "plain", Seq: seq}))
	}

	groups := g.Finalize()
	require.Len(t, groups, 2)
	assert.Equal(t, "only", groups[0].Key)
	assert.Equal(t, 1, groups[0].Len())

	assert.Equal(t, "plain", groups[1].Key)
	assert.Equal(t, uint64(10), groups[1].Records[0].Seq)
	assert.Equal(t, uint64(30), groups[1].Records[2].Seq)
}

func TestGrouperClosedAfterFinalize(t *testing.T) {
	g := NewGrouper(2, 1)
	require.NoError(t, g.Insert(&models.Record{Key: "a"}))
	require.Len(t, g.Finalize(), 1)

	assert.ErrorIs(t, g.Insert(&models.Record{Key: "a"}), ErrGrouperClosed)
	assert.ErrorIs(t, g.Insert(&models.Record{Key: "new"}), ErrGrouperClosed)
	assert.Nil(t, g.Finalize(), "second finalize yields nothing")
}

func TestGrouperRejectsEmptyKey(t *testing.T) {
	g := NewGrouper(2, 1)
	assert.Error(t, g.Insert(&models.Record{}))
	assert.Error(t, g.Insert(nil))
}

func TestGrouperShardCountRoundsUp(t *testing.T) {
	assert.Len(t, NewGrouper(0, 1).shards, 1)
	assert.Len(t, NewGrouper(5, 1).shards, 8)
	assert.Len(t, NewGrouper(64, 1).shards, 64)
}

func BenchmarkGrouperInsert(b *testing.B) {
	keys := make([]string, 64)
	for i := range keys {
		keys[i] = fmt.Sprintf("HKQuantityTypeIdentifierMetric%02d", i)
	}
	g := NewGrouper(DefaultShards, 1)
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		var i uint64
		for pb.Next() {
			_ = g.Insert(&models.Record{Key: keys[i%uint64(len(keys))], Seq: i})
			i++
		}
	})
}
