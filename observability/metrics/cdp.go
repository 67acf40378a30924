package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CDPMetrics exposes engine level collectors.
type CDPMetrics struct {
	operations   *prometheus.CounterVec
	opDuration   *prometheus.HistogramVec
	liquidated   *prometheus.CounterVec
	redeemed     prometheus.Counter
	activeTroves prometheus.Gauge
	tcr          prometheus.Gauge
	baseRate     prometheus.Gauge
	systemDebt   prometheus.Gauge
	systemColl   prometheus.Gauge
	poolDeposits prometheus.Gauge
	recoveryMode prometheus.Gauge
}

var (
	cdpOnce     sync.Once
	cdpRegistry *CDPMetrics
)

// CDP returns the process wide collectors, registering them on first use.
func CDP() *CDPMetrics {
	cdpOnce.Do(func() {
		cdpRegistry = &CDPMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "cdp_operations_total",
				Help: "Engine operations by name and outcome.",
			}, []string{"operation", "outcome"}),
			opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "cdp_operation_duration_seconds",
				Help:    "Latency of engine operations including commit.",
				Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
			}, []string{"operation"}),
			liquidated: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "cdp_troves_liquidated_total",
				Help: "Troves closed by liquidation, by system mode.",
			}, []string{"mode"}),
			redeemed: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "cdp_redeemed_stable_total",
				Help: "Stablecoin redeemed against collateral, in whole units.",
			}),
			activeTroves: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "cdp_active_troves",
				Help: "Number of active troves in the sorted index.",
			}),
			tcr: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "cdp_total_collateral_ratio",
				Help: "System TCR at the last observed price.",
			}),
			baseRate: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "cdp_base_rate",
				Help: "Stored fee base rate.",
			}),
			systemDebt: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "cdp_system_debt",
				Help: "Entire system debt (active plus default pool).",
			}),
			systemColl: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "cdp_system_collateral",
				Help: "Entire system collateral (active plus default pool).",
			}),
			poolDeposits: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "cdp_stability_pool_deposits",
				Help: "Stablecoin deposited in the Stability Pool.",
			}),
			recoveryMode: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "cdp_recovery_mode",
				Help: "1 while the system is in Recovery Mode.",
			}),
		}
		prometheus.MustRegister(
			cdpRegistry.operations,
			cdpRegistry.opDuration,
			cdpRegistry.liquidated,
			cdpRegistry.redeemed,
			cdpRegistry.activeTroves,
			cdpRegistry.tcr,
			cdpRegistry.baseRate,
			cdpRegistry.systemDebt,
			cdpRegistry.systemColl,
			cdpRegistry.poolDeposits,
			cdpRegistry.recoveryMode,
		)
	})
	return cdpRegistry
}

// ObserveOperation records the outcome and latency of one engine call.
func (m *CDPMetrics) ObserveOperation(op, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	if outcome == "" {
		outcome = "ok"
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.opDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (m *CDPMetrics) AddLiquidated(mode string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.liquidated.WithLabelValues(mode).Add(float64(count))
}

func (m *CDPMetrics) AddRedeemed(amount float64) {
	if m == nil || amount <= 0 {
		return
	}
	m.redeemed.Add(amount)
}

// SystemSnapshot carries the gauges refreshed after each commit.
type SystemSnapshot struct {
	ActiveTroves int
	TCR          float64
	BaseRate     float64
	Debt         float64
	Coll         float64
	PoolDeposits float64
	Recovery     bool
}

func (m *CDPMetrics) RecordSystem(s SystemSnapshot) {
	if m == nil {
		return
	}
	m.activeTroves.Set(float64(s.ActiveTroves))
	m.tcr.Set(s.TCR)
	m.baseRate.Set(s.BaseRate)
	m.systemDebt.Set(s.Debt)
	m.systemColl.Set(s.Coll)
	m.poolDeposits.Set(s.PoolDeposits)
	if s.Recovery {
		m.recoveryMode.Set(1)
	} else {
		m.recoveryMode.Set(0)
	}
}
