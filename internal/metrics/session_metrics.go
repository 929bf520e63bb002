package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Cal9233/genthrust-repairs/internal/domain"
)

// SessionMetrics — жизненный цикл сессий документа и повторы вызовов.
type SessionMetrics struct {
	sessions *prometheus.CounterVec
	retries  *prometheus.CounterVec
}

// NewSessionMetrics регистрирует коллекторы в registerer (nil — registry по умолчанию).
func NewSessionMetrics(registerer prometheus.Registerer) *SessionMetrics {
	registerer = registererOrDefault(registerer)

	return &SessionMetrics{
		sessions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "repairs_workbook_sessions_total",
			Help: "Workbook session lifecycle events by result",
		}, []string{"result"}),
		retries: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "repairs_backend_retries_total",
			Help: "Retried backend calls by backend and operation",
		}, []string{"backend", "operation"}),
	}
}

// ObserveSession учитывает событие сессии: opened, open_failed, closed, close_failed.
func (m *SessionMetrics) ObserveSession(result string) {
	m.sessions.WithLabelValues(result).Inc()
}

// RetryHook возвращает хук политики повторов для бэкенда.
func (m *SessionMetrics) RetryHook(backend domain.Backend) func(op string, attempt int, err error) {
	return func(op string, _ int, _ error) {
		m.retries.WithLabelValues(string(backend), op).Inc()
	}
}
