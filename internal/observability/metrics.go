package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MaxNodeSeries caps node_count label values. Node ids arrive from the
// remote endpoint, so ids past the cap are counted as dropped instead.
const MaxNodeSeries = 256

var (
	registerOnce sync.Once

	nodeSeriesMu sync.Mutex
	nodeSeries   = make(map[string]struct{})

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tallyctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total status HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tallyctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Status HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	sessionLines = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tallyctl",
			Subsystem: "session",
			Name:      "lines_total",
			Help:      "Lines received from the remote endpoint by outcome.",
		},
		[]string{"outcome"},
	)
	sessionState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tallyctl",
			Subsystem: "session",
			Name:      "state",
			Help:      "Current session state (0 connecting, 1 active, 2 draining, 3 closed).",
		},
	)
	nodeCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tallyctl",
			Subsystem: "tally",
			Name:      "node_count",
			Help:      "People seen per reporting node.",
		},
		[]string{"node"},
	)
	nodeSeriesDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tallyctl",
			Subsystem: "tally",
			Name:      "node_series_dropped_total",
			Help:      "Node count updates not exported because the node series cap was reached.",
		},
	)
	snapshotOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tallyctl",
			Subsystem: "snapshot",
			Name:      "operations_total",
			Help:      "Snapshot load/save operations by result.",
		},
		[]string{"op", "result"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, sessionLines, sessionState, nodeCount, nodeSeriesDropped, snapshotOps)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordLine(outcome string) {
	RegisterMetrics()
	sessionLines.WithLabelValues(outcome).Inc()
}

func RecordSessionState(state int) {
	RegisterMetrics()
	sessionState.Set(float64(state))
}

func RecordNodeCount(node string, count uint64) {
	RegisterMetrics()
	nodeSeriesMu.Lock()
	if _, ok := nodeSeries[node]; !ok {
		if len(nodeSeries) >= MaxNodeSeries {
			nodeSeriesMu.Unlock()
			nodeSeriesDropped.Inc()
			return
		}
		nodeSeries[node] = struct{}{}
	}
	nodeSeriesMu.Unlock()
	nodeCount.WithLabelValues(node).Set(float64(count))
}

func RecordSnapshot(op string, err error) {
	RegisterMetrics()
	result := "ok"
	if err != nil {
		result = "error"
	}
	snapshotOps.WithLabelValues(op, result).Inc()
}
