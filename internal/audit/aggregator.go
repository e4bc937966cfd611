package audit

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fastjson"

	"github.com/fabworks/piecemark/pkg/kafka"
)

// Keep at most this many latency samples; beyond it the oldest half is
// discarded so a long-running aggregator does not grow without bound.
const maxLatencySamples = 100000

type AggregatedStats struct {
	TotalSearches     int64            `json:"total_searches"`
	RejectedSearches  int64            `json:"rejected_searches"`
	ComponentChanges  int64            `json:"component_changes"`
	Exports           int64            `json:"exports"`
	CacheHits         int64            `json:"cache_hits"`
	CacheMisses       int64            `json:"cache_misses"`
	ZeroResultCount   int64            `json:"zero_result_count"`
	ZeroResultRate    float64          `json:"zero_result_rate"`
	AvgLatencyMs      float64          `json:"avg_latency_ms"`
	P50LatencyMs      int64            `json:"p50_latency_ms"`
	P95LatencyMs      int64            `json:"p95_latency_ms"`
	P99LatencyMs      int64            `json:"p99_latency_ms"`
	TopQueries        []QueryCount     `json:"top_queries"`
	ZeroResultQueries []QueryCount     `json:"zero_result_queries"`
	QueryTypes        map[string]int64 `json:"query_types"`
	RejectionReasons  map[string]int64 `json:"rejection_reasons"`
	QueriesPerMinute  float64          `json:"queries_per_minute"`
}

type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// Aggregator consumes audit events from Kafka and keeps rolling usage
// statistics in memory.
type Aggregator struct {
	mu                sync.RWMutex
	totalSearches     atomic.Int64
	rejectedSearches  atomic.Int64
	componentChanges  atomic.Int64
	exports           atomic.Int64
	cacheHits         atomic.Int64
	cacheMisses       atomic.Int64
	zeroResults       atomic.Int64
	latencies         []int64
	queryCounts       map[string]int64
	zeroResultQueries map[string]int64
	queryTypes        map[string]int64
	rejectionReasons  map[string]int64
	startTime         time.Time

	parsers fastjson.ParserPool
	logger  *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		latencies:         make([]int64, 0, 10000),
		queryCounts:       make(map[string]int64),
		zeroResultQueries: make(map[string]int64),
		queryTypes:        make(map[string]int64),
		rejectionReasons:  make(map[string]int64),
		startTime:         time.Now(),
		logger:            slog.Default().With("component", "audit-aggregator"),
	}
}

// Start blocks consuming audit events from the given consumer until ctx is
// cancelled. The consumer must have been built with HandleEvent(a) as its
// handler.
func (a *Aggregator) Start(ctx context.Context, consumer *kafka.Consumer) error {
	a.logger.Info("audit aggregator starting")
	return consumer.Start(ctx)
}

// HandleEvent routes raw Kafka messages into the aggregator. The event type
// field is peeked with fastjson so each message is parsed once, whatever its
// shape.
func HandleEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		p := agg.parsers.Get()
		defer agg.parsers.Put(p)

		v, err := p.ParseBytes(value)
		if err != nil {
			agg.logger.Error("failed to parse audit event", "error", err)
			return nil
		}

		switch EventType(v.GetStringBytes("type")) {
		case EventSearch:
			agg.recordSearch(v, false)
		case EventSearchRejected:
			agg.recordSearch(v, true)
		case EventComponentChange:
			agg.componentChanges.Add(1)
		case EventExport:
			agg.exports.Add(1)
		default:
			agg.logger.Warn("unknown audit event type",
				"type", string(v.GetStringBytes("type")),
			)
		}
		return nil
	}
}

func (a *Aggregator) recordSearch(v *fastjson.Value, rejected bool) {
	if rejected {
		a.rejectedSearches.Add(1)
		a.mu.Lock()
		a.rejectionReasons[string(v.GetStringBytes("error_type"))]++
		a.mu.Unlock()
		return
	}

	a.totalSearches.Add(1)
	if v.GetBool("cache_hit") {
		a.cacheHits.Add(1)
	} else {
		a.cacheMisses.Add(1)
	}

	query := string(v.GetStringBytes("query"))
	totalHits := v.GetInt64("total_hits")
	if totalHits == 0 {
		a.zeroResults.Add(1)
	}

	a.mu.Lock()
	a.latencies = append(a.latencies, v.GetInt64("latency_ms"))
	if len(a.latencies) > maxLatencySamples {
		a.latencies = a.latencies[len(a.latencies)/2:]
	}
	if query != "" {
		a.queryCounts[query]++
		if totalHits == 0 {
			a.zeroResultQueries[query]++
		}
	}
	a.queryTypes[string(v.GetStringBytes("query_type"))]++
	a.mu.Unlock()
}

func (a *Aggregator) Stats() AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := AggregatedStats{
		TotalSearches:    a.totalSearches.Load(),
		RejectedSearches: a.rejectedSearches.Load(),
		ComponentChanges: a.componentChanges.Load(),
		Exports:          a.exports.Load(),
		CacheHits:        a.cacheHits.Load(),
		CacheMisses:      a.cacheMisses.Load(),
		ZeroResultCount:  a.zeroResults.Load(),
	}
	if stats.TotalSearches > 0 {
		stats.ZeroResultRate = float64(stats.ZeroResultCount) / float64(stats.TotalSearches)
	}
	if len(a.latencies) > 0 {
		sorted := make([]int64, len(a.latencies))
		copy(sorted, a.latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	stats.TopQueries = topN(a.queryCounts, 10)
	stats.ZeroResultQueries = topN(a.zeroResultQueries, 10)
	stats.QueryTypes = copyCounts(a.queryTypes)
	stats.RejectionReasons = copyCounts(a.rejectionReasons)
	elapsed := time.Since(a.startTime).Minutes()
	if elapsed > 0 {
		stats.QueriesPerMinute = float64(stats.TotalSearches) / elapsed
	}

	return stats
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func topN(counts map[string]int64, n int) []QueryCount {
	result := make([]QueryCount, 0, len(counts))
	for query, count := range counts {
		result = append(result, QueryCount{Query: query, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Query < result[j].Query
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}

func copyCounts(counts map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(counts))
	for k, v := range counts {
		out[k] = v
	}
	return out
}
