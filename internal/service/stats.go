// stats.go — кэш агрегированных счётчиков пользователей и групп.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arturkryukov/radadmin/internal/domain/model"
)

// Prometheus-метрики кэша агрегатов.
var (
	statsCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "radadmin_stats_cache_hits_total",
		Help: "Общее количество попаданий в кэш агрегированных счётчиков.",
	})
	statsCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "radadmin_stats_cache_misses_total",
		Help: "Общее количество промахов кэша агрегированных счётчиков.",
	})
)

// Ключи кэша.
const (
	statsUserSummary = "users.summary"
	statsGroupsCount = "groups.count"
)

// statsEntry — значение кэша: сводка пользователей или количество групп.
type statsEntry struct {
	users  model.UserSummary
	groups int
}

// StatsCache — кэш счётчиков с TTL. Per-instance: изменения, сделанные
// другими процессами, становятся видны после истечения TTL.
// Нулевой указатель — отключённый кэш, все методы безопасны.
//
// Запись сопровождается поколением, полученным через Generation до чтения
// из хранилища: после Invalidate значения старого поколения не сохраняются.
type StatsCache struct {
	mu    sync.Mutex
	gen   uint64
	cache *expirable.LRU[string, statsEntry]
}

// NewStatsCache создаёт кэш счётчиков. При ttl <= 0 возвращает nil (кэш отключён).
func NewStatsCache(size int, ttl time.Duration) *StatsCache {
	if ttl <= 0 {
		return nil
	}
	return &StatsCache{cache: expirable.NewLRU[string, statsEntry](size, nil, ttl)}
}

// Generation возвращает текущее поколение кэша.
func (c *StatsCache) Generation() uint64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// UserSummary возвращает закэшированные счётчики пользователей.
func (c *StatsCache) UserSummary() (*model.UserSummary, bool) {
	e, ok := c.get(statsUserSummary)
	if !ok {
		return nil, false
	}
	summary := e.users
	return &summary, true
}

// SetUserSummary сохраняет счётчики пользователей, прочитанные в поколении gen.
func (c *StatsCache) SetUserSummary(s *model.UserSummary, gen uint64) {
	if s == nil {
		return
	}
	c.set(statsUserSummary, statsEntry{users: *s}, gen)
}

// GroupCount возвращает закэшированное количество групп.
func (c *StatsCache) GroupCount() (int, bool) {
	e, ok := c.get(statsGroupsCount)
	return e.groups, ok
}

// SetGroupCount сохраняет количество групп, прочитанное в поколении gen.
func (c *StatsCache) SetGroupCount(n int, gen uint64) {
	c.set(statsGroupsCount, statsEntry{groups: n}, gen)
}

// Invalidate сбрасывает все счётчики (вызывается после любой записи).
func (c *StatsCache) Invalidate() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.cache.Purge()
}

func (c *StatsCache) get(key string) (statsEntry, bool) {
	if c == nil {
		return statsEntry{}, false
	}
	e, ok := c.cache.Get(key)
	if ok {
		statsCacheHitsTotal.Inc()
	} else {
		statsCacheMissesTotal.Inc()
	}
	return e, ok
}

func (c *StatsCache) set(key string, e statsEntry, gen uint64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return
	}
	c.cache.Add(key, e)
}
