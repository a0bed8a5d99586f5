// Package window serves bounded, byte-exact line windows for rendering.
//
// Lines are cached in fixed-size aligned chunks under a configurable byte
// ceiling, so the resident working set depends only on the viewport and
// prefetch configuration, never on document length. Misses are fetched
// synchronously (deduplicated via singleflight); the surrounding prefetch
// margin is fetched asynchronously and cancelled when a newer request
// supersedes it.
package window

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/gaidenhq/gaiden/internal/index"
	"github.com/gaidenhq/gaiden/internal/storage"
)

// Config tunes the cache. Zero values fall back to defaults.
type Config struct {
	// ChunkLines is the number of lines per cached chunk.
	ChunkLines int
	// MaxBytes is the resident byte ceiling across all chunks.
	MaxBytes int64
	// PrefetchChunks is how many chunks beyond the window to prefetch on
	// each side.
	PrefetchChunks int
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		ChunkLines:     64,
		MaxBytes:       1 << 20, // 1 MiB resident ceiling
		PrefetchChunks: 2,
	}
}

// Window is a contiguous run of lines, clamped to the guide's bounds.
type Window struct {
	GuideID   string   `json:"guide_id"`
	Version   int      `json:"version"`
	StartLine int      `json:"start_line"`
	Lines     []string `json:"lines"`
}

// Stats reports cache behavior for observability and tests.
type Stats struct {
	Hits           int64
	Misses         int64
	Evictions      int64
	ResidentBytes  int64
	ResidentChunks int
}

type chunkKey struct {
	guideID string
	version int
	start   int
}

type chunk struct {
	key   chunkKey
	lines []string
	bytes int64
	refs  int
}

// Cache is the window cache. It reads line offsets from the index and line
// bytes from the content store.
type Cache struct {
	cfg   Config
	db    *index.DB
	store storage.Provider
	group singleflight.Group

	mu       sync.Mutex
	entries  map[chunkKey]*list.Element
	lru      *list.List // front = most recently used
	curBytes int64
	stats    Stats

	// protected holds the persisted reading position per guide; the chunk
	// overlapping it is never evicted while resident.
	protected map[string]int

	prefetchMu     sync.Mutex
	prefetchCancel context.CancelFunc
}

// New creates a window cache over the given index and content store.
func New(cfg Config, db *index.DB, store storage.Provider) *Cache {
	def := DefaultConfig()
	if cfg.ChunkLines <= 0 {
		cfg.ChunkLines = def.ChunkLines
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = def.MaxBytes
	}
	if cfg.PrefetchChunks < 0 {
		cfg.PrefetchChunks = def.PrefetchChunks
	}
	return &Cache{
		cfg:       cfg,
		db:        db,
		store:     store,
		entries:   make(map[chunkKey]*list.Element),
		lru:       list.New(),
		protected: make(map[string]int),
	}
}

// GetWindow pins the guide's current version and returns the lines covering
// [centerLine-radius, centerLine+radius], clamped to [0, lineCount).
func (c *Cache) GetWindow(ctx context.Context, guideID string, centerLine, radius int) (*Window, error) {
	sess, err := c.db.Pin(guideID)
	if err != nil {
		return nil, err
	}
	defer sess.Release()
	return c.WindowAt(ctx, sess, centerLine, radius)
}

// WindowAt serves a window from an already pinned session, so a reader can
// keep receiving byte-identical content from an old version during a
// concurrent re-import.
func (c *Cache) WindowAt(ctx context.Context, sess *index.Session, centerLine, radius int) (*Window, error) {
	lineCount, err := c.db.VersionLineCount(sess.GuideID, sess.Version)
	if err != nil {
		return nil, err
	}
	if lineCount == 0 {
		return &Window{GuideID: sess.GuideID, Version: sess.Version}, nil
	}

	if centerLine < 0 {
		centerLine = 0
	}
	if centerLine >= lineCount {
		centerLine = lineCount - 1
	}
	start := centerLine - radius
	if start < 0 {
		start = 0
	}
	end := centerLine + radius + 1
	if end > lineCount {
		end = lineCount
	}

	firstChunk := start / c.cfg.ChunkLines
	lastChunk := (end - 1) / c.cfg.ChunkLines

	var held []*chunk
	defer func() {
		c.mu.Lock()
		for _, ch := range held {
			ch.refs--
		}
		c.mu.Unlock()
	}()

	w := &Window{GuideID: sess.GuideID, Version: sess.Version, StartLine: start, Lines: make([]string, 0, end-start)}
	for ci := firstChunk; ci <= lastChunk; ci++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ch, err := c.acquire(sess.GuideID, sess.Version, ci*c.cfg.ChunkLines, lineCount)
		if err != nil {
			return nil, err
		}
		held = append(held, ch)

		chunkStart := ch.key.start
		for i, line := range ch.lines {
			n := chunkStart + i
			if n >= start && n < end {
				w.Lines = append(w.Lines, line)
			}
		}
	}

	c.schedulePrefetch(sess.GuideID, sess.Version, firstChunk, lastChunk, lineCount)
	return w, nil
}

// acquire returns the chunk starting at chunkStart, fetching it through
// singleflight on a miss. The returned chunk has its refcount incremented;
// the caller must release it.
func (c *Cache) acquire(guideID string, version, chunkStart, lineCount int) (*chunk, error) {
	key := chunkKey{guideID: guideID, version: version, start: chunkStart}

	c.mu.Lock()
	if el, ok := c.entries[key]; ok {
		ch := el.Value.(*chunk)
		ch.refs++
		c.lru.MoveToFront(el)
		c.stats.Hits++
		c.mu.Unlock()
		return ch, nil
	}
	c.stats.Misses++
	c.mu.Unlock()

	sfKey := fmt.Sprintf("%s/%d/%d", guideID, version, chunkStart)
	v, err, _ := c.group.Do(sfKey, func() (any, error) {
		return c.fetch(key, lineCount)
	})
	if err != nil {
		return nil, err
	}
	ch := v.(*chunk)

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		// Another caller inserted it while we fetched.
		existing := el.Value.(*chunk)
		existing.refs++
		c.lru.MoveToFront(el)
		return existing, nil
	}
	ch.refs++
	c.insertLocked(ch)
	return ch, nil
}

// fetch reads one chunk's spans from the index and its bytes from the
// content store with a single range read.
func (c *Cache) fetch(key chunkKey, lineCount int) (*chunk, error) {
	end := key.start + c.cfg.ChunkLines
	if end > lineCount {
		end = lineCount
	}
	spans, err := c.db.GetLineRange(key.guideID, key.version, key.start, end)
	if err != nil {
		return nil, err
	}
	if len(spans) == 0 {
		return &chunk{key: key}, nil
	}

	first := spans[0]
	last := spans[len(spans)-1]
	total := int(last.ByteOffset + int64(last.ByteLength) - first.ByteOffset)
	raw, err := c.store.ReadRange(key.guideID, key.version, first.ByteOffset, total)
	if err != nil {
		return nil, err
	}

	ch := &chunk{key: key, lines: make([]string, 0, len(spans))}
	for _, s := range spans {
		rel := s.ByteOffset - first.ByteOffset
		ch.lines = append(ch.lines, string(raw[rel:rel+int64(s.ByteLength)]))
		ch.bytes += int64(s.ByteLength)
	}
	return ch, nil
}

// insertLocked adds a chunk and evicts least-recently-used chunks past the
// byte ceiling. Chunks with active readers and the chunk overlapping the
// guide's persisted position are never evicted.
func (c *Cache) insertLocked(ch *chunk) {
	el := c.lru.PushFront(ch)
	c.entries[ch.key] = el
	c.curBytes += ch.bytes

	for c.curBytes > c.cfg.MaxBytes {
		victim := c.evictableLocked()
		if victim == nil {
			break
		}
		v := victim.Value.(*chunk)
		c.lru.Remove(victim)
		delete(c.entries, v.key)
		c.curBytes -= v.bytes
		c.stats.Evictions++
	}
}

func (c *Cache) evictableLocked() *list.Element {
	for el := c.lru.Back(); el != nil; el = el.Prev() {
		ch := el.Value.(*chunk)
		if ch.refs > 0 {
			continue
		}
		if line, ok := c.protected[ch.key.guideID]; ok {
			if line >= ch.key.start && line < ch.key.start+c.cfg.ChunkLines {
				continue
			}
		}
		return el
	}
	return nil
}

// schedulePrefetch cancels any in-flight prefetch and starts one for the
// chunks flanking the served window. A cancelled fetch that completes late
// discards its result instead of touching the cache.
func (c *Cache) schedulePrefetch(guideID string, version, firstChunk, lastChunk, lineCount int) {
	if c.cfg.PrefetchChunks == 0 {
		return
	}

	c.prefetchMu.Lock()
	if c.prefetchCancel != nil {
		c.prefetchCancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.prefetchCancel = cancel
	c.prefetchMu.Unlock()

	maxChunk := (lineCount - 1) / c.cfg.ChunkLines
	var targets []int
	for i := 1; i <= c.cfg.PrefetchChunks; i++ {
		if ci := firstChunk - i; ci >= 0 {
			targets = append(targets, ci)
		}
		if ci := lastChunk + i; ci <= maxChunk {
			targets = append(targets, ci)
		}
	}

	go func() {
		for _, ci := range targets {
			if ctx.Err() != nil {
				return
			}
			key := chunkKey{guideID: guideID, version: version, start: ci * c.cfg.ChunkLines}
			c.mu.Lock()
			_, resident := c.entries[key]
			c.mu.Unlock()
			if resident {
				continue
			}

			sfKey := fmt.Sprintf("%s/%d/%d", guideID, version, key.start)
			v, err, _ := c.group.Do(sfKey, func() (any, error) {
				return c.fetch(key, lineCount)
			})
			if err != nil {
				return
			}
			// Superseded while fetching: drop the result.
			if ctx.Err() != nil {
				return
			}
			ch := v.(*chunk)
			c.mu.Lock()
			if _, ok := c.entries[key]; !ok {
				c.insertLocked(ch)
			}
			c.mu.Unlock()
		}
	}()
}

// Protect marks the guide's persisted reading position so the chunk holding
// it stays resident.
func (c *Cache) Protect(guideID string, line int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.protected[guideID] = line
}

// Invalidate drops every cached chunk for a guide, across all versions.
// Called after a re-import commits or a guide is deleted.
func (c *Cache) Invalidate(guideID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for el := c.lru.Front(); el != nil; {
		next := el.Next()
		ch := el.Value.(*chunk)
		if ch.key.guideID == guideID && ch.refs == 0 {
			c.lru.Remove(el)
			delete(c.entries, ch.key)
			c.curBytes -= ch.bytes
		}
		el = next
	}
	delete(c.protected, guideID)
}

// Stats returns a snapshot of cache statistics.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.ResidentBytes = c.curBytes
	s.ResidentChunks = c.lru.Len()
	return s
}

// Close cancels any in-flight prefetch.
func (c *Cache) Close() {
	c.prefetchMu.Lock()
	defer c.prefetchMu.Unlock()
	if c.prefetchCancel != nil {
		c.prefetchCancel()
		c.prefetchCancel = nil
	}
}
