// Package metrics exposes Prometheus instrumentation for chain-state
// queries.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Klingon-tech/klingnet-chainstate/internal/chainerr"
)

var (
	QueryCount         *prometheus.CounterVec
	QueryErrors        *prometheus.CounterVec
	QueryDuration      *prometheus.HistogramVec
	UTXORecordsScanned prometheus.Counter
	BlocksAggregated   prometheus.Counter
	TipHeight          prometheus.Gauge
	TipChanges         prometheus.Counter

	waitersFn atomic.Pointer[func() int64]

	// only init the metrics once
	initOnce sync.Once
)

// Init registers all collectors with the default registry. Calling it
// again has no effect.
func Init() {
	initOnce.Do(initMetrics)
}

func initMetrics() {
	QueryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chainstate",
			Name:      "queries_total",
			Help:      "Number of chain-state queries served",
		},
		[]string{"op"},
	)
	QueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chainstate",
			Name:      "query_errors_total",
			Help:      "Number of failed chain-state queries",
		},
		[]string{
			"op",    // query that failed
			"error", // error class
		},
	)
	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chainstate",
			Name:      "query_duration_seconds",
			Help:      "Duration of chain-state queries",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		},
		[]string{"op"},
	)
	UTXORecordsScanned = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chainstate",
			Name:      "utxo_records_scanned_total",
			Help:      "Number of UTXO records hashed by set digests",
		},
	)
	BlocksAggregated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chainstate",
			Name:      "blocks_aggregated_total",
			Help:      "Number of blocks read by range aggregates",
		},
	)
	TipHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chainstate",
			Name:      "tip_height",
			Help:      "Height of the active chain tip",
		},
	)
	TipChanges = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chainstate",
			Name:      "tip_changes_total",
			Help:      "Number of active tip changes announced",
		},
	)
	promauto.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "chainstate",
			Name:      "tip_waiters",
			Help:      "Number of callers blocked waiting for a tip change",
		},
		func() float64 {
			if fn := waitersFn.Load(); fn != nil {
				return float64((*fn)())
			}
			return 0
		},
	)
}

// SetWaitersSource makes the tip_waiters gauge report fn.
func SetWaitersSource(fn func() int64) {
	waitersFn.Store(&fn)
}

// ObserveQuery records one query of op that started at start.
func ObserveQuery(op string, start time.Time, err error) {
	Init()
	QueryCount.WithLabelValues(op).Inc()
	QueryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		QueryErrors.WithLabelValues(op, ErrorClass(err)).Inc()
	}
}

// ErrorClass maps err onto a short label value.
func ErrorClass(err error) string {
	switch {
	case errors.Is(err, chainerr.ErrCancelled):
		return "cancelled"
	case errors.Is(err, chainerr.ErrInvalidRange):
		return "invalid_range"
	case errors.Is(err, chainerr.ErrBlockRead):
		return "block_read"
	case errors.Is(err, chainerr.ErrPrevOutputMissing):
		return "prevout_missing"
	case errors.Is(err, chainerr.ErrRead):
		return "read"
	}
	return "other"
}

// Server serves /metrics over HTTP.
type Server struct {
	srv *http.Server
	ln  net.Listener
}

// Listen binds addr and starts serving in the background.
func Listen(addr string) (*Server, error) {
	Init()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	s := &Server{
		srv: &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second},
		ln:  ln,
	}
	go func() { _ = s.srv.Serve(ln) }()
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
