package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Cal9233/genthrust-repairs/internal/domain"
	"github.com/Cal9233/genthrust-repairs/internal/failover"
)

// FailoverMetrics — коллекторы арбитра бэкендов. Реализует failover.Observer.
type FailoverMetrics struct {
	requests     *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	fallbackMode prometheus.Gauge
	recoveries   prometheus.Counter
	bothFailed   prometheus.Counter
	activations  prometheus.Counter
	backendUp    *prometheus.GaugeVec
}

var _ failover.Observer = (*FailoverMetrics)(nil)

// NewFailoverMetrics регистрирует коллекторы в registerer (nil — registry по умолчанию).
func NewFailoverMetrics(registerer prometheus.Registerer) *FailoverMetrics {
	registerer = registererOrDefault(registerer)

	return &FailoverMetrics{
		requests: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "repairs_backend_requests_total",
			Help: "Repair order operations by serving backend and result",
		}, []string{"backend", "result"}),
		duration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "repairs_operation_duration_seconds",
			Help:    "Duration of repair order operations including failover",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}, []string{"operation", "source"}),
		fallbackMode: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "repairs_fallback_mode",
			Help: "1 while operations are served by the fallback backend",
		}),
		recoveries: registerCounter(registerer, prometheus.CounterOpts{
			Name: "repairs_backend_recoveries_total",
			Help: "Total number of returns from fallback to the primary backend",
		}),
		bothFailed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "repairs_both_backends_failed_total",
			Help: "Total number of operations failed on both backends",
		}),
		activations: registerCounter(registerer, prometheus.CounterOpts{
			Name: "repairs_fallback_activations_total",
			Help: "Total number of switches to the fallback backend",
		}),
		backendUp: registerGaugeVec(registerer, prometheus.GaugeOpts{
			Name: "repairs_backend_up",
			Help: "Result of the last health probe per backend",
		}, []string{"backend"}),
	}
}

func (m *FailoverMetrics) FallbackActivated(string, error) {
	m.fallbackMode.Set(1)
	m.activations.Inc()
}

func (m *FailoverMetrics) Recovered(string, time.Duration) {
	m.fallbackMode.Set(0)
	m.recoveries.Inc()
}

func (m *FailoverMetrics) BothFailed(string, *domain.BothFailedError) {
	m.bothFailed.Inc()
}

func (m *FailoverMetrics) OperationCompleted(op string, source failover.Source, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.requests.WithLabelValues(string(source.Backend()), result).Inc()
	m.duration.WithLabelValues(op, string(source)).Observe(duration.Seconds())
}

// SetFallbackMode выставляет gauge режима напрямую, например после ручного сброса.
func (m *FailoverMetrics) SetFallbackMode(on bool) {
	if on {
		m.fallbackMode.Set(1)
		return
	}
	m.fallbackMode.Set(0)
}

// SetBackendUp записывает результат проверки здоровья бэкенда.
func (m *FailoverMetrics) SetBackendUp(backend domain.Backend, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	m.backendUp.WithLabelValues(string(backend)).Set(v)
}
