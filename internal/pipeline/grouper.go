package pipeline

import (
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/healthetl/pkg/etlerrors"
	"github.com/ajitpratap0/healthetl/pkg/models"
)

// DefaultShards is the number of grouper shards.
const DefaultShards = 64

// ErrGrouperClosed is returned by Insert after Finalize.
var ErrGrouperClosed = etlerrors.New(etlerrors.ErrorTypeInternal, "grouper is finalized")

type bucket struct {
	mu      sync.Mutex
	records []*models.Record
}

type shard struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
}

// Grouper accumulates records by key. Inserts into different keys never
// contend on the same lock; inserts into one key serialize only on that
// key's bucket.
type Grouper struct {
	shards      []shard
	mask        uint64
	sortWorkers int
	closed      atomic.Bool
}

// NewGrouper creates a grouper with at least the given number of shards,
// rounded up to a power of two. sortWorkers bounds the parallelism of
// Finalize.
func NewGrouper(shards, sortWorkers int) *Grouper {
	n := 1
	for n < shards {
		n <<= 1
	}
	if sortWorkers < 1 {
		sortWorkers = 1
	}
	g := &Grouper{
		shards:      make([]shard, n),
		mask:        uint64(n - 1),
		sortWorkers: sortWorkers,
	}
	for i := range g.shards {
		g.shards[i].buckets = make(map[string]*bucket)
	}
	return g
}

// Insert adds a record to its key's bucket. Safe for concurrent use.
func (g *Grouper) Insert(r *models.Record) error {
	if r == nil || r.Key == "" {
		return etlerrors.New(etlerrors.ErrorTypeInternal, "record without grouping key")
	}
	sh := &g.shards[xxhash.Sum64String(r.Key)&g.mask]

	// The shard read lock is held across the append so that Finalize, which
	// takes the write lock, observes every insert that passed the closed
	// check.
	sh.mu.RLock()
	if g.closed.Load() {
		sh.mu.RUnlock()
		return ErrGrouperClosed
	}
	if b, ok := sh.buckets[r.Key]; ok {
		b.mu.Lock()
		b.records = append(b.records, r)
		b.mu.Unlock()
		sh.mu.RUnlock()
		return nil
	}
	sh.mu.RUnlock()

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if g.closed.Load() {
		return ErrGrouperClosed
	}
	b, ok := sh.buckets[r.Key]
	if !ok {
		b = &bucket{}
		sh.buckets[r.Key] = b
	}
	b.records = append(b.records, r)
	return nil
}

// Finalize closes the grouper and returns one group per key, sorted by key.
// Records in each group are ordered by sort key, then by sequence number.
// It must only be called once every producer has returned; later calls
// return nil.
func (g *Grouper) Finalize() []*models.Group {
	if !g.closed.CompareAndSwap(false, true) {
		return nil
	}

	var groups []*models.Group
	for i := range g.shards {
		sh := &g.shards[i]
		sh.mu.Lock()
		for key, b := range sh.buckets {
			groups = append(groups, &models.Group{Key: key, Records: b.records})
		}
		sh.buckets = nil
		sh.mu.Unlock()
	}

	var eg errgroup.Group
	eg.SetLimit(g.sortWorkers)
	for _, grp := range groups {
		grp := grp
		eg.Go(func() error {
			slices.SortFunc(grp.Records, models.CompareRecords)
			return nil
		})
	}
	_ = eg.Wait()

	slices.SortFunc(groups, func(a, b *models.Group) int {
		return strings.Compare(a.Key, b.Key)
	})
	return groups
}
