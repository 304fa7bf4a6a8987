package vectorstore

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kh_embedding_cache_hits_total",
		Help: "Query embeddings served from the LRU cache.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kh_embedding_cache_misses_total",
		Help: "Query embeddings that had to be computed.",
	})
)

// queryCache holds query embeddings keyed by the raw query text.
type queryCache struct {
	lru *expirable.LRU[string, []float32]
}

func newQueryCache(size int, ttl time.Duration) *queryCache {
	if size <= 0 {
		return nil
	}
	return &queryCache{lru: expirable.NewLRU[string, []float32](size, nil, ttl)}
}

func (c *queryCache) get(query string) ([]float32, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.lru.Get(query)
	if ok {
		cacheHitsTotal.Inc()
		return v, true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

func (c *queryCache) add(query string, vec []float32) {
	if c == nil {
		return
	}
	c.lru.Add(query, vec)
}
