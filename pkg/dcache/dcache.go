// Copyright 2026 The Sshfs Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package dcache caches remote stat results, symlink targets and directory
// listings by path, so the dispatcher can skip redundant round trips. The
// cache trusts entries until a local mutation invalidates them: the only
// staleness this process can introduce is its own writes, and staleness
// caused by other clients of the same remote tree is an accepted risk.
//
// Entries are indexed in a B-tree ordered by path, which makes invalidating
// a whole subtree (for rename or rmdir) a range scan instead of a full walk.
package dcache

import (
	"container/list"
	"strings"
	"sync"

	"github.com/google/btree"

	"github.com/andy0130tw/sshfs/pkg/metrics"
	"github.com/andy0130tw/sshfs/pkg/sftp"
)

// Kind tags which variant an Entry holds. An entry is exactly one of stat,
// link, or dir — never a blend.
type Kind uint8

const (
	KindStat Kind = 1
	KindLink Kind = 2
	KindDir  Kind = 3
)

// Entry is the cached knowledge about one remote path.
type Entry struct {
	Kind     Kind
	Attr     sftp.Attr // KindStat
	Target   string    // KindLink
	Children []string  // KindDir, in listing order
}

type item struct {
	path  string
	entry Entry
	epoch uint64
	elem  *list.Element // position in the recency list; value is the path
}

// Cache is the in-memory table. All methods are safe for concurrent use and
// none of them blocks on anything but the internal lock.
type Cache struct {
	mu    sync.Mutex
	tree  *btree.BTreeG[*item]
	lru   *list.List
	max   int
	epoch uint64
}

// New creates a cache bounded to maxEntries; 0 means unbounded. Eviction is
// least-recently-used. Evicting is always safe: a later lookup simply misses
// and forces a fresh round trip.
func New(maxEntries int) *Cache {
	return &Cache{
		tree: btree.NewG[*item](8, func(a, b *item) bool { return a.path < b.path }),
		lru:  list.New(),
		max:  maxEntries,
	}
}

// Lookup returns the entry cached for path, if any. A miss is not an error;
// it only means the caller has to ask the server.
func (c *Cache) Lookup(path string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.tree.Get(&item{path: path})
	if !ok {
		metrics.CacheMisses.Inc()
		return Entry{}, false
	}
	c.lru.MoveToFront(it.elem)
	metrics.CacheHits.Inc()
	return it.entry, true
}

// PutStat records attributes for path.
func (c *Cache) PutStat(path string, attr sftp.Attr) {
	c.put(path, Entry{Kind: KindStat, Attr: attr})
}

// PutLink records a symlink target for path.
func (c *Cache) PutLink(path, target string) {
	c.put(path, Entry{Kind: KindLink, Target: target})
}

// PutDir records an ordered child listing for path.
func (c *Cache) PutDir(path string, children []string) {
	c.put(path, Entry{Kind: KindDir, Children: append([]string(nil), children...)})
}

func (c *Cache) put(path string, e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	if it, ok := c.tree.Get(&item{path: path}); ok {
		it.entry = e
		it.epoch = c.epoch
		c.lru.MoveToFront(it.elem)
		return
	}
	it := &item{path: path, entry: e, epoch: c.epoch}
	it.elem = c.lru.PushFront(path)
	c.tree.ReplaceOrInsert(it)
	for c.max > 0 && c.tree.Len() > c.max {
		c.evictOldest()
	}
}

// evictOldest drops the least-recently-used entry. Caller holds the lock.
func (c *Cache) evictOldest() {
	back := c.lru.Back()
	if back == nil {
		return
	}
	path := back.Value.(string)
	c.lru.Remove(back)
	c.tree.Delete(&item{path: path})
}

// Invalidate forgets everything cached for path. It returns whether an entry
// was present.
func (c *Cache) Invalidate(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removeLocked(path)
}

func (c *Cache) removeLocked(path string) bool {
	it, ok := c.tree.Delete(&item{path: path})
	if !ok {
		return false
	}
	c.lru.Remove(it.elem)
	return true
}

// InvalidateSubtree forgets path and every entry below it. Used for renames
// and removals of directories, where any cached descendant is stale.
func (c *Cache) InvalidateSubtree(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(path)
	prefix := strings.TrimSuffix(path, "/") + "/"
	var doomed []string
	c.tree.AscendGreaterOrEqual(&item{path: prefix}, func(it *item) bool {
		if !strings.HasPrefix(it.path, prefix) {
			return false
		}
		doomed = append(doomed, it.path)
		return true
	})
	for _, p := range doomed {
		c.removeLocked(p)
	}
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tree.Clear(false)
	c.lru.Init()
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tree.Len()
}

// Walk visits every entry in path order. fn must not mutate the cache.
func (c *Cache) Walk(fn func(path string, e Entry)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.walk(fn)
}

// walk visits every entry in path order. Caller must not mutate the cache
// from inside fn.
func (c *Cache) walk(fn func(path string, e Entry)) {
	c.tree.Ascend(func(it *item) bool {
		fn(it.path, it.entry)
		return true
	})
}
