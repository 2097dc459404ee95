// Package metrics provides the prometheus metrics of the transitclock service
package metrics

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/OpenTransitTools/transitclock/app/transitclock/matcher"
	"github.com/OpenTransitTools/transitclock/business/data/avl"
	"github.com/OpenTransitTools/transitclock/business/schedule"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

//report outcome labels beyond the matcher.Outcome names
const (
	OutcomeMalformed  = "malformed"
	OutcomeOutOfOrder = "out_of_order"
	OutcomeJump       = "implausible_jump"
	OutcomeNotLoaded  = "schedule_not_loaded"
	OutcomeFailed     = "failed"
	//OutcomeRateLimited reports are dropped by a source before reaching the matcher
	OutcomeRateLimited = "rate_limited"
)

//Metrics holds the prometheus collectors updated by the pipeline
type Metrics struct {
	//Registry contains only transitclock collectors
	Registry *prometheus.Registry

	ReportsTotal          *prometheus.CounterVec
	ReportLatency         prometheus.Histogram
	ProcessingDuration    prometheus.Histogram
	StatisticUpdatesTotal *prometheus.CounterVec
	EvictionsTotal        prometheus.Counter
	FeedPublishTotal      *prometheus.CounterVec
	Vehicles              prometheus.Gauge
	MatchedVehicles       prometheus.Gauge
	PredictedVehicles     prometheus.Gauge
	ScheduleVersion       prometheus.Gauge

	DBConnectionsOpen  prometheus.Gauge
	DBConnectionsInUse prometheus.Gauge

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

//New creates and registers every metric with a new registry
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		Registry: registry,
		ReportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transitclock_reports_total",
			Help: "AVL reports processed by outcome",
		}, []string{"outcome"}),
		ReportLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "transitclock_report_latency_seconds",
			Help:    "Time between an AVL report's timestamp and when it was received",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
		}),
		ProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "transitclock_report_processing_seconds",
			Help:    "Time taken to match a report and recompute its vehicle's predictions",
			Buckets: prometheus.DefBuckets,
		}),
		StatisticUpdatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transitclock_statistic_updates_total",
			Help: "Segment traversals offered to the travel time statistics by result",
		}, []string{"result"}),
		EvictionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "transitclock_evictions_total",
			Help: "Vehicles removed after no reports were received",
		}),
		FeedPublishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "transitclock_feed_publish_total",
			Help: "Feed snapshots built and sent to destinations by result",
		}, []string{"result"}),
		Vehicles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transitclock_vehicles",
			Help: "Vehicles in the last published feed",
		}),
		MatchedVehicles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transitclock_matched_vehicles",
			Help: "Vehicles assigned to a trip",
		}),
		PredictedVehicles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transitclock_predicted_vehicles",
			Help: "Vehicles with predictions in the last published feed",
		}),
		ScheduleVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transitclock_schedule_version",
			Help: "Version of the schedule snapshot in use",
		}),
		DBConnectionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transitclock_db_connections_open",
			Help: "Number of open database connections",
		}),
		DBConnectionsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "transitclock_db_connections_in_use",
			Help: "Number of database connections currently in use",
		}),
	}
	registry.MustRegister(
		m.ReportsTotal,
		m.ReportLatency,
		m.ProcessingDuration,
		m.StatisticUpdatesTotal,
		m.EvictionsTotal,
		m.FeedPublishTotal,
		m.Vehicles,
		m.MatchedVehicles,
		m.PredictedVehicles,
		m.ScheduleVersion,
		m.DBConnectionsOpen,
		m.DBConnectionsInUse,
	)
	return m
}

//Handler serves the registry in the prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

//OutcomeLabel returns the label a report processed with outcome and err is counted under
func OutcomeLabel(outcome matcher.Outcome, err error) string {
	switch {
	case err == nil:
		return outcome.String()
	case errors.Is(err, avl.ErrMalformed):
		return OutcomeMalformed
	case errors.Is(err, matcher.ErrOutOfOrder):
		return OutcomeOutOfOrder
	case errors.Is(err, matcher.ErrImplausibleJump):
		return OutcomeJump
	case errors.Is(err, schedule.ErrNotLoaded):
		return OutcomeNotLoaded
	}
	return OutcomeFailed
}

//ReportProcessed counts a report processed with outcome and err
func (m *Metrics) ReportProcessed(outcome matcher.Outcome, err error, took time.Duration) {
	m.ReportsTotal.WithLabelValues(OutcomeLabel(outcome, err)).Inc()
	m.ProcessingDuration.Observe(took.Seconds())
}

//StatisticUpdates counts traversals accepted and rejected as outliers
func (m *Metrics) StatisticUpdates(accepted, rejected int) {
	m.StatisticUpdatesTotal.WithLabelValues("accepted").Add(float64(accepted))
	m.StatisticUpdatesTotal.WithLabelValues("rejected").Add(float64(rejected))
}

//StartDBStatsCollector records db connection pool statistics every interval until Shutdown
func (m *Metrics) StartDBStatsCollector(log *log.Logger, db *sql.DB, interval time.Duration) {
	if db == nil || m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				stats := db.Stats()
				m.DBConnectionsOpen.Set(float64(stats.OpenConnections))
				m.DBConnectionsInUse.Set(float64(stats.InUse))
			case <-ctx.Done():
				log.Printf("db stats collector exiting")
				return
			}
		}
	}()
}

//Shutdown stops the db stats collector and waits for it to exit
func (m *Metrics) Shutdown() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}
