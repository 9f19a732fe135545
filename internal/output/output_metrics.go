package output

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/tkjaer/tcplat/internal/shared"
)

const (
	// Series for an address are dropped after this many intervals without a report
	seriesExpiryIntervals = 3
	minSeriesTTL          = time.Second
)

// MetricsOutput exposes cycle reports as Prometheus metrics
type MetricsOutput struct {
	registry  *prometheus.Registry
	latency   *prometheus.GaugeVec
	sentinel  *prometheus.GaugeVec
	sentinels *prometheus.CounterVec
	cycles    prometheus.Counter
	nonce     prometheus.Gauge

	seen      *ttlcache.Cache[string, struct{}]
	closeOnce sync.Once
}

func NewMetricsOutput() *MetricsOutput {
	m := &MetricsOutput{
		registry: prometheus.NewRegistry(),
		latency: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tcplat_connect_latency_us",
				Help: "Average TCP connect time of the last cycle in microseconds, absent when the cycle had no data",
			},
			[]string{"address"},
		),
		sentinel: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tcplat_sentinel",
				Help: "Whether the last cycle had no measurement for the address (1 = no data, 0 = measured)",
			},
			[]string{"address"},
		),
		sentinels: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tcplat_sentinels_total",
				Help: "Total number of cycles without a measurement for the address",
			},
			[]string{"address"},
		),
		cycles: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tcplat_cycles_total",
				Help: "Total number of completed measurement cycles",
			},
		),
		nonce: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tcplat_config_nonce",
				Help: "Generation of the probe configuration used by the last cycle",
			},
		),
		seen: ttlcache.New[string, struct{}](
			ttlcache.WithDisableTouchOnHit[string, struct{}](),
		),
	}

	m.registry.MustRegister(
		m.latency,
		m.sentinel,
		m.sentinels,
		m.cycles,
		m.nonce,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m.seen.OnEviction(func(ctx context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, struct{}]) {
		if reason == ttlcache.EvictionReasonExpired {
			m.forget(item.Key())
		}
	})
	go m.seen.Start()

	return m
}

// Registry returns the registry to serve on /metrics
func (m *MetricsOutput) Registry() *prometheus.Registry {
	return m.registry
}

func (m *MetricsOutput) Report(report shared.CycleReport) {
	m.cycles.Inc()
	m.nonce.Set(float64(report.Nonce))

	ttl := max(seriesExpiryIntervals*time.Duration(report.IntervalMs)*time.Millisecond, minSeriesTTL)
	for _, e := range report.Entries {
		m.seen.Set(e.Address, struct{}{}, ttl)

		if e.Sentinel {
			// No measurement this cycle, so the previous one must not read as current
			m.latency.DeleteLabelValues(e.Address)
			m.sentinel.WithLabelValues(e.Address).Set(1)
			m.sentinels.WithLabelValues(e.Address).Inc()
			continue
		}
		m.sentinel.WithLabelValues(e.Address).Set(0)
		m.latency.WithLabelValues(e.Address).Set(float64(e.Value))
	}
}

// forget removes every series of an address that is no longer reported
func (m *MetricsOutput) forget(address string) {
	slog.Debug("Expiring metrics for address", "address", address)
	m.latency.DeleteLabelValues(address)
	m.sentinel.DeleteLabelValues(address)
	m.sentinels.DeleteLabelValues(address)
}

func (m *MetricsOutput) Close() error {
	m.closeOnce.Do(m.seen.Stop)
	return nil
}
