// cache.go — LRU-кэш разрешённых конфигураций подключения с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"crypto/subtle"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/intersect-registry/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rs_lookup_cache_hits_total",
		Help: "Общее количество попаданий в кэш конфигураций подключения.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rs_lookup_cache_misses_total",
		Help: "Общее количество промахов кэша конфигураций подключения.",
	})
)

// cachedLookup — конфигурация namespace вместе с ключом, под которым она выдана.
type cachedLookup struct {
	apiKey string
	config *model.ConnectionConfig
}

// LookupCache — кэш успешных ResolveConnectionInfo.
// Ключ кэша — имя namespace; запись выдаётся только при совпадении API-ключа.
// Каждый экземпляр сервиса имеет собственный in-memory кэш.
type LookupCache struct {
	cache *expirable.LRU[string, cachedLookup]
}

// NewLookupCache создаёт кэш с указанным максимальным размером и TTL.
func NewLookupCache(maxSize int, ttl time.Duration) *LookupCache {
	return &LookupCache{
		cache: expirable.NewLRU[string, cachedLookup](maxSize, nil, ttl),
	}
}

// Get возвращает конфигурацию namespace, если ключ совпадает.
// Несовпадение ключа считается промахом.
func (c *LookupCache) Get(name, apiKey string) (*model.ConnectionConfig, bool) {
	val, ok := c.cache.Get(name)
	if ok && subtle.ConstantTimeCompare([]byte(val.apiKey), []byte(apiKey)) == 1 {
		cacheHitsTotal.Inc()
		return val.config, true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

// Set добавляет или обновляет запись.
func (c *LookupCache) Set(name, apiKey string, cfg *model.ConnectionConfig) {
	c.cache.Add(name, cachedLookup{apiKey: apiKey, config: cfg})
}

// Invalidate удаляет запись namespace (при удалении namespace).
func (c *LookupCache) Invalidate(name string) {
	c.cache.Remove(name)
}

// Len возвращает текущее количество записей.
func (c *LookupCache) Len() int {
	return c.cache.Len()
}
