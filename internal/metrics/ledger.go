// Package metrics keeps process-wide performance counters for the
// retrieval and answering paths. The Ledger is an injectable service
// object, not a package global, so tests stay hermetic.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Ledger aggregates hit/miss counters and running latency averages.
// All methods are safe for concurrent use.
type Ledger struct {
	mu sync.Mutex

	searchHits    int64
	searchMisses  int64
	totalSearches int64
	avgSearchTime float64 // seconds

	answerHits    int64
	answerMisses  int64
	totalAnswers  int64
	avgAnswerTime float64 // seconds

	backendUsage map[string]int64
	startTime    time.Time
}

// NewLedger creates an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{
		backendUsage: make(map[string]int64),
		startTime:    time.Now(),
	}
}

// SearchCacheHit records a query-cache hit.
func (l *Ledger) SearchCacheHit() {
	l.mu.Lock()
	l.searchHits++
	l.mu.Unlock()
}

// SearchCacheMiss records a query-cache miss.
func (l *Ledger) SearchCacheMiss() {
	l.mu.Lock()
	l.searchMisses++
	l.mu.Unlock()
}

// ObserveSearch records one completed multi-index search and folds its
// duration into the running average.
func (l *Ledger) ObserveSearch(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.totalSearches++
	l.avgSearchTime += (d.Seconds() - l.avgSearchTime) / float64(l.totalSearches)
}

// AnswerCacheHit records an answer-cache hit.
func (l *Ledger) AnswerCacheHit() {
	l.mu.Lock()
	l.answerHits++
	l.mu.Unlock()
}

// AnswerCacheMiss records an answer-cache miss.
func (l *Ledger) AnswerCacheMiss() {
	l.mu.Lock()
	l.answerMisses++
	l.mu.Unlock()
}

// ObserveAnswer records one backend dispatch for the named backend and
// folds its duration into the running average.
func (l *Ledger) ObserveAnswer(backend string, d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.totalAnswers++
	l.avgAnswerTime += (d.Seconds() - l.avgAnswerTime) / float64(l.totalAnswers)
	l.backendUsage[backend]++
}

// Snapshot is a point-in-time copy of the ledger, safe to serialize.
type Snapshot struct {
	SearchCacheHits   int64            `json:"search_cache_hits"`
	SearchCacheMisses int64            `json:"search_cache_misses"`
	SearchHitRate     float64          `json:"search_hit_rate"`
	TotalSearches     int64            `json:"total_searches"`
	AvgSearchSeconds  float64          `json:"avg_search_seconds"`
	AnswerCacheHits   int64            `json:"answer_cache_hits"`
	AnswerCacheMisses int64            `json:"answer_cache_misses"`
	AnswerHitRate     float64          `json:"answer_hit_rate"`
	TotalAnswers      int64            `json:"total_answers"`
	AvgAnswerSeconds  float64          `json:"avg_answer_seconds"`
	BackendUsage      map[string]int64 `json:"backend_usage"`
	UptimeSeconds     int64            `json:"uptime_seconds"`
}

// Snapshot returns a copy of the current counters.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	usage := make(map[string]int64, len(l.backendUsage))
	for k, v := range l.backendUsage {
		usage[k] = v
	}
	return Snapshot{
		SearchCacheHits:   l.searchHits,
		SearchCacheMisses: l.searchMisses,
		SearchHitRate:     hitRate(l.searchHits, l.searchMisses),
		TotalSearches:     l.totalSearches,
		AvgSearchSeconds:  l.avgSearchTime,
		AnswerCacheHits:   l.answerHits,
		AnswerCacheMisses: l.answerMisses,
		AnswerHitRate:     hitRate(l.answerHits, l.answerMisses),
		TotalAnswers:      l.totalAnswers,
		AvgAnswerSeconds:  l.avgAnswerTime,
		BackendUsage:      usage,
		UptimeSeconds:     int64(time.Since(l.startTime).Seconds()),
	}
}

func hitRate(hits, misses int64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Handler serves the current snapshot as JSON.
func (l *Ledger) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(l.Snapshot())
	}
}
