package health

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Status — состояние компонента.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
	// StatusUnknown — проверка ещё не выполнялась.
	StatusUnknown Status = "unknown"
)

// Check — результат проверки компонента.
type Check struct {
	Name       string    `json:"name"`
	Status     Status    `json:"status"`
	Message    string    `json:"message,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	CheckedAt  time.Time `json:"checked_at,omitzero"`
	// Critical=false: неуспех компонента даёт degraded, а не unhealthy.
	Critical bool `json:"critical"`
}

// Response — тело ответа /healthz.
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// Checker проверяет один компонент.
type Checker interface {
	Check() Check
}

// Handler собирает проверки и отдаёт их по HTTP.
type Handler struct {
	mu        sync.RWMutex
	checkers  map[string]Checker
	version   string
	startTime time.Time
	now       func() time.Time
}

// NewHandler создаёт health handler.
func NewHandler(version string) *Handler {
	return &Handler{
		checkers:  make(map[string]Checker),
		version:   version,
		startTime: time.Now(),
		now:       time.Now,
	}
}

// RegisterChecker регистрирует проверку компонента.
func (h *Handler) RegisterChecker(name string, checker Checker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = checker
}

// Report выполняет все проверки и вычисляет общий статус.
func (h *Handler) Report() Response {
	h.mu.RLock()
	checkers := make(map[string]Checker, len(h.checkers))
	for k, v := range h.checkers {
		checkers[k] = v
	}
	h.mu.RUnlock()

	checks := make(map[string]Check, len(checkers))
	overall := StatusHealthy
	for name, checker := range checkers {
		check := checker.Check()
		checks[name] = check
		overall = combine(overall, check)
	}

	return Response{
		Status:        overall,
		Timestamp:     h.now(),
		Checks:        checks,
		Version:       h.version,
		UptimeSeconds: int64(h.now().Sub(h.startTime).Seconds()),
	}
}

// combine: отказ критичного компонента делает сервис unhealthy,
// некритичного или неизвестного — degraded.
func combine(overall Status, check Check) Status {
	switch check.Status {
	case StatusHealthy:
		return overall
	case StatusUnhealthy:
		if check.Critical {
			return StatusUnhealthy
		}
	}
	if overall == StatusHealthy {
		return StatusDegraded
	}
	return overall
}

// ServeHTTP обрабатывает /healthz.
func (h *Handler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	response := h.Report()

	statusCode := http.StatusOK
	if response.Status == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

// LivenessHandler — liveness probe, всегда 200.
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ReadinessHandler отвечает 503, пока сервис unhealthy: заказы
// обслуживаются, если жив хотя бы один бэкенд.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, _ *http.Request) {
	if h.Report().Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// Names возвращает отсортированные имена зарегистрированных проверок.
func (h *Handler) Names() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.checkers))
	for name := range h.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BackendChecker хранит результат последней пробы бэкенда.
// Пробы выполняет монитор, Check только читает сохранённое состояние.
type BackendChecker struct {
	name     string
	critical bool

	mu    sync.RWMutex
	check Check
}

// NewBackendChecker создаёт проверку бэкенда в состоянии unknown.
func NewBackendChecker(name string, critical bool) *BackendChecker {
	return &BackendChecker{
		name:     name,
		critical: critical,
		check:    Check{Name: name, Status: StatusUnknown, Critical: critical},
	}
}

// Record сохраняет результат пробы.
func (c *BackendChecker) Record(err error, took time.Duration, at time.Time) {
	check := Check{
		Name:       c.name,
		Status:     StatusHealthy,
		DurationMs: took.Milliseconds(),
		CheckedAt:  at,
		Critical:   c.critical,
	}
	if err != nil {
		check.Status = StatusUnhealthy
		check.Message = err.Error()
	}
	c.mu.Lock()
	c.check = check
	c.mu.Unlock()
}

// Healthy сообщает, была ли последняя проба успешной.
func (c *BackendChecker) Healthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.check.Status == StatusHealthy
}

// Check возвращает результат последней пробы.
func (c *BackendChecker) Check() Check {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.check
}

// ModeChecker сообщает degraded, пока сервис работает на резервном бэкенде.
type ModeChecker struct {
	name       string
	inFallback func() bool
}

// NewModeChecker создаёт проверку режима работы.
func NewModeChecker(name string, inFallback func() bool) *ModeChecker {
	return &ModeChecker{name: name, inFallback: inFallback}
}

// Check выполняет проверку.
func (c *ModeChecker) Check() Check {
	if c.inFallback() {
		return Check{Name: c.name, Status: StatusDegraded, Message: "serving from fallback backend"}
	}
	return Check{Name: c.name, Status: StatusHealthy}
}

// SimpleChecker — проверка на основе функции.
type SimpleChecker struct {
	name    string
	checkFn func() error
}

// NewSimpleChecker создаёт простую проверку.
func NewSimpleChecker(name string, checkFn func() error) *SimpleChecker {
	return &SimpleChecker{
		name:    name,
		checkFn: checkFn,
	}
}

// Check выполняет проверку. Ошибка считается критичной.
func (c *SimpleChecker) Check() Check {
	start := time.Now()
	err := c.checkFn()
	duration := time.Since(start)

	if err != nil {
		return Check{
			Name:       c.name,
			Status:     StatusUnhealthy,
			Message:    err.Error(),
			DurationMs: duration.Milliseconds(),
			Critical:   true,
		}
	}

	return Check{
		Name:       c.name,
		Status:     StatusHealthy,
		DurationMs: duration.Milliseconds(),
		Critical:   true,
	}
}
