// metrics.go — Prometheus-коллектор статистики пула.
// Снимает показатели puddle при каждом scrape — без собственного состояния.
package pool

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StatsCollector экспортирует статистику пула в Prometheus.
// Реализует prometheus.Collector; регистрируется вызывающей стороной:
//
//	prometheus.MustRegister(pool.NewStatsCollector(p, "main"))
type StatsCollector struct {
	pool *Pool

	totalConns        *prometheus.Desc
	idleConns         *prometheus.Desc
	acquiredConns     *prometheus.Desc
	constructingConns *prometheus.Desc
	acquireCount      *prometheus.Desc
	acquireSeconds    *prometheus.Desc
	emptyAcquireCount *prometheus.Desc
	canceledAcquires  *prometheus.Desc
}

// NewStatsCollector создаёт коллектор для пула.
// name — метка пула в метриках (различает несколько пулов процесса).
func NewStatsCollector(p *Pool, name string) *StatsCollector {
	labels := prometheus.Labels{"pool": name}
	return &StatsCollector{
		pool: p,
		totalConns: prometheus.NewDesc(
			"fondat_pool_total_conns",
			"Общее количество соединений в пуле.",
			nil, labels,
		),
		idleConns: prometheus.NewDesc(
			"fondat_pool_idle_conns",
			"Количество простаивающих соединений.",
			nil, labels,
		),
		acquiredConns: prometheus.NewDesc(
			"fondat_pool_acquired_conns",
			"Количество арендованных соединений.",
			nil, labels,
		),
		constructingConns: prometheus.NewDesc(
			"fondat_pool_constructing_conns",
			"Количество открываемых соединений.",
			nil, labels,
		),
		acquireCount: prometheus.NewDesc(
			"fondat_pool_acquires_total",
			"Общее количество успешных захватов соединения.",
			nil, labels,
		),
		acquireSeconds: prometheus.NewDesc(
			"fondat_pool_acquire_seconds_total",
			"Суммарное время ожидания захвата соединения в секундах.",
			nil, labels,
		),
		emptyAcquireCount: prometheus.NewDesc(
			"fondat_pool_empty_acquires_total",
			"Количество захватов, ожидавших освобождения соединения.",
			nil, labels,
		),
		canceledAcquires: prometheus.NewDesc(
			"fondat_pool_canceled_acquires_total",
			"Количество захватов, отменённых до получения соединения.",
			nil, labels,
		),
	}
}

// Describe реализует prometheus.Collector.
func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.totalConns
	ch <- c.idleConns
	ch <- c.acquiredConns
	ch <- c.constructingConns
	ch <- c.acquireCount
	ch <- c.acquireSeconds
	ch <- c.emptyAcquireCount
	ch <- c.canceledAcquires
}

// Collect реализует prometheus.Collector.
func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	stat := c.pool.Stat()
	ch <- prometheus.MustNewConstMetric(c.totalConns, prometheus.GaugeValue, float64(stat.TotalResources()))
	ch <- prometheus.MustNewConstMetric(c.idleConns, prometheus.GaugeValue, float64(stat.IdleResources()))
	ch <- prometheus.MustNewConstMetric(c.acquiredConns, prometheus.GaugeValue, float64(stat.AcquiredResources()))
	ch <- prometheus.MustNewConstMetric(c.constructingConns, prometheus.GaugeValue, float64(stat.ConstructingResources()))
	ch <- prometheus.MustNewConstMetric(c.acquireCount, prometheus.CounterValue, float64(stat.AcquireCount()))
	ch <- prometheus.MustNewConstMetric(c.acquireSeconds, prometheus.CounterValue, stat.AcquireDuration().Seconds())
	ch <- prometheus.MustNewConstMetric(c.emptyAcquireCount, prometheus.CounterValue, float64(stat.EmptyAcquireCount()))
	ch <- prometheus.MustNewConstMetric(c.canceledAcquires, prometheus.CounterValue, float64(stat.CanceledAcquireCount()))
}
