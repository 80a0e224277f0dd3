/*
File: scoring_cache.go
Version: 2.0.0
Description: Sharded LRU cache of prediction results keyed by the raw URL.
             Scoring is deterministic for a loaded model, so a cached result is always
             identical to a fresh one. A nil *PredictionCache is a valid, disabled cache.
*/

package main

import (
	"container/list"
	"hash/maphash"
	"sync"
)

const predictionCacheShards = 64

type predictionCacheEntry struct {
	key    string
	result PredictionResult
}

type predictionCacheShard struct {
	sync.Mutex
	items    map[string]*list.Element
	lru      *list.List
	capacity int
}

type PredictionCache struct {
	shards [predictionCacheShards]*predictionCacheShard
	seed   maphash.Seed
}

// NewPredictionCache returns nil (caching disabled) when capacity <= 0.
func NewPredictionCache(capacity int) *PredictionCache {
	if capacity <= 0 {
		return nil
	}
	c := &PredictionCache{seed: maphash.MakeSeed()}

	shardCap := capacity / predictionCacheShards
	if shardCap < 1 {
		shardCap = 1
	}
	for i := range c.shards {
		c.shards[i] = &predictionCacheShard{
			items:    make(map[string]*list.Element),
			lru:      list.New(),
			capacity: shardCap,
		}
	}
	return c
}

func (c *PredictionCache) shard(key string) *predictionCacheShard {
	return c.shards[maphash.String(c.seed, key)&(predictionCacheShards-1)]
}

func (c *PredictionCache) Get(key string) (PredictionResult, bool) {
	if c == nil {
		return PredictionResult{}, false
	}
	s := c.shard(key)
	s.Lock()
	defer s.Unlock()

	el, ok := s.items[key]
	if !ok {
		return PredictionResult{}, false
	}
	s.lru.MoveToFront(el)
	return el.Value.(*predictionCacheEntry).result, true
}

func (c *PredictionCache) Add(key string, result PredictionResult) {
	if c == nil {
		return
	}
	s := c.shard(key)
	s.Lock()
	defer s.Unlock()

	if el, ok := s.items[key]; ok {
		el.Value.(*predictionCacheEntry).result = result
		s.lru.MoveToFront(el)
		return
	}

	if s.lru.Len() >= s.capacity {
		if oldest := s.lru.Back(); oldest != nil {
			s.lru.Remove(oldest)
			delete(s.items, oldest.Value.(*predictionCacheEntry).key)
		}
	}
	s.items[key] = s.lru.PushFront(&predictionCacheEntry{key: key, result: result})
}

// Len counts cached entries across all shards.
func (c *PredictionCache) Len() int {
	if c == nil {
		return 0
	}
	n := 0
	for _, s := range c.shards {
		s.Lock()
		n += s.lru.Len()
		s.Unlock()
	}
	return n
}

func (c *PredictionCache) Flush() {
	if c == nil {
		return
	}
	for _, s := range c.shards {
		s.Lock()
		s.items = make(map[string]*list.Element)
		s.lru.Init()
		s.Unlock()
	}
}
