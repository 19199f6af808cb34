// Package persona tracks one-time preprocessing state per persona. A persona
// must never be dispatched for inference before its entry reports ready.
package persona

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"avatard/pkg/types"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultCapacity      = 50
	defaultRetention     = 24 * time.Hour
	defaultSweepInterval = time.Hour
)

// Config tunes cache capacity and eviction.
type Config struct {
	// Dir is the root for derived artifacts; entry artifacts live in Dir/<id>.
	Dir           string
	Capacity      int
	Retention     time.Duration
	SweepInterval time.Duration
}

// record is the mutable cache entry. Hot fields are atomics so lookups and
// touches never take a lock.
type record struct {
	id        string
	sourceRef string
	createdAt time.Time
	ready     atomic.Bool
	lastUsed  atomic.Int64 // unix nanos
	useCount  atomic.Int64
}

// Entry is a read-only projection of one cached persona.
type Entry struct {
	ID        string
	SourceRef string
	Ready     bool
	CreatedAt time.Time
	LastUsed  time.Time
	UseCount  int64
}

// Cache is safe for concurrent use.
type Cache struct {
	entries sync.Map // persona id -> *record
	size    atomic.Int64
	evicted atomic.Int64

	dir           string
	capacity      int
	retention     time.Duration
	sweepInterval time.Duration
}

func New(cfg Config) *Cache {
	c := &Cache{
		dir:           cfg.Dir,
		capacity:      cfg.Capacity,
		retention:     cfg.Retention,
		sweepInterval: cfg.SweepInterval,
	}
	if c.capacity <= 0 {
		c.capacity = defaultCapacity
	}
	if c.retention <= 0 {
		c.retention = defaultRetention
	}
	if c.sweepInterval <= 0 {
		c.sweepInterval = defaultSweepInterval
	}
	return c
}

// Ensure creates an entry lazily on first use and returns its projection.
func (c *Cache) Ensure(id, sourceRef string) Entry {
	now := time.Now()
	rec := &record{id: id, sourceRef: sourceRef, createdAt: now}
	rec.lastUsed.Store(now.UnixNano())
	if actual, loaded := c.entries.LoadOrStore(id, rec); loaded {
		rec = actual.(*record)
	} else {
		c.size.Add(1)
	}
	return rec.view()
}

// IsReady reports whether the persona exists and finished preprocessing.
func (c *Cache) IsReady(id string) bool {
	v, ok := c.entries.Load(id)
	if !ok {
		return false
	}
	return v.(*record).ready.Load()
}

// MarkReady flags preprocessing complete for the persona, creating the entry
// if needed.
func (c *Cache) MarkReady(id, sourceRef string) {
	c.Ensure(id, sourceRef)
	if v, ok := c.entries.Load(id); ok {
		v.(*record).ready.Store(true)
	}
}

// Touch records a use: bumps the use count and last-used time.
func (c *Cache) Touch(id string) {
	v, ok := c.entries.Load(id)
	if !ok {
		return
	}
	rec := v.(*record)
	rec.useCount.Add(1)
	rec.lastUsed.Store(time.Now().UnixNano())
}

// UseCount returns the recorded usage count, 0 when absent.
func (c *Cache) UseCount(id string) int64 {
	v, ok := c.entries.Load(id)
	if !ok {
		return 0
	}
	return v.(*record).useCount.Load()
}

// Lookup returns the entry projection if present.
func (c *Cache) Lookup(id string) (Entry, bool) {
	v, ok := c.entries.Load(id)
	if !ok {
		return Entry{}, false
	}
	return v.(*record).view(), true
}

// ArtifactDir is where derived preprocessing artifacts for a persona live.
func (c *Cache) ArtifactDir(id string) string {
	return filepath.Join(c.dir, id)
}

// Size returns the number of cached personas.
func (c *Cache) Size() int { return int(c.size.Load()) }

// Sweep evicts least-recently-used entries older than the retention window
// while the cache is over capacity. Entries still within retention are never
// evicted, whatever the capacity pressure. Returns the number evicted.
func (c *Cache) Sweep(now time.Time) int {
	var recs []*record
	c.entries.Range(func(_, v any) bool {
		recs = append(recs, v.(*record))
		return true
	})
	if len(recs) <= c.capacity {
		return 0
	}
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].lastUsed.Load() < recs[j].lastUsed.Load()
	})
	cutoff := now.Add(-c.retention).UnixNano()
	evicted := 0
	for _, rec := range recs {
		if len(recs)-evicted <= c.capacity {
			break
		}
		if rec.lastUsed.Load() > cutoff {
			// Sorted by last use, so everything after is younger still.
			break
		}
		c.entries.Delete(rec.id)
		c.size.Add(-1)
		if err := os.RemoveAll(c.ArtifactDir(rec.id)); err != nil {
			log.Printf("persona event=evict_artifacts_error id=%q err=%v", rec.id, err)
		}
		evicted++
	}
	if evicted > 0 {
		c.evicted.Add(int64(evicted))
		log.Printf("persona event=sweep_done evicted=%d size=%d", evicted, c.Size())
	}
	return evicted
}

// Run sweeps on a long fixed interval until ctx is canceled.
func (c *Cache) Run(ctx context.Context) {
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.Sweep(now)
		}
	}
}

// Stats summarizes the cache for /status.
func (c *Cache) Stats() types.CacheStats {
	ready := 0
	c.entries.Range(func(_, v any) bool {
		if v.(*record).ready.Load() {
			ready++
		}
		return true
	})
	return types.CacheStats{
		Entries:  c.Size(),
		Ready:    ready,
		Capacity: c.capacity,
		Evicted:  c.evicted.Load(),
	}
}

func (r *record) view() Entry {
	return Entry{
		ID:        r.id,
		SourceRef: r.sourceRef,
		Ready:     r.ready.Load(),
		CreatedAt: r.createdAt,
		LastUsed:  time.Unix(0, r.lastUsed.Load()),
		UseCount:  r.useCount.Load(),
	}
}
