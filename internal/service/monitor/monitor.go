package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Cal9233/genthrust-repairs/internal/domain"
	"github.com/Cal9233/genthrust-repairs/internal/health"
)

const (
	defaultProbeInterval = 30 * time.Second
	defaultProbeTimeout  = 5 * time.Second
)

// StatusSink получает результат каждой пробы: gauge, статус gRPC health и т.п.
type StatusSink interface {
	SetBackendUp(backend domain.Backend, up bool)
}

// ModeSink получает текущий режим арбитра после каждого цикла проб.
type ModeSink interface {
	SetFallbackMode(on bool)
}

// Target — проверяемый бэкенд.
type Target struct {
	Backend domain.Backend
	Prober  domain.HealthProber
	Checker *health.BackendChecker
}

// Options задаёт параметры монитора.
type Options struct {
	Logger     *log.Entry
	Interval   time.Duration
	Timeout    time.Duration
	Sinks      []StatusSink
	ModeSinks  []ModeSink
	InFallback func() bool
	Now        func() time.Time
}

// Option настраивает Monitor.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithInterval задаёт интервал между циклами проб.
func WithInterval(interval time.Duration) Option {
	return func(opts *Options) {
		opts.Interval = interval
	}
}

// WithTimeout ограничивает длительность одной пробы.
func WithTimeout(timeout time.Duration) Option {
	return func(opts *Options) {
		opts.Timeout = timeout
	}
}

// WithStatusSink подключает получателей статуса бэкендов.
func WithStatusSink(sinks ...StatusSink) Option {
	return func(opts *Options) {
		opts.Sinks = append(opts.Sinks, sinks...)
	}
}

// WithMode публикует режим арбитра inFallback в sinks после каждого цикла.
func WithMode(inFallback func() bool, sinks ...ModeSink) Option {
	return func(opts *Options) {
		opts.InFallback = inFallback
		opts.ModeSinks = append(opts.ModeSinks, sinks...)
	}
}

// WithClock подменяет часы.
func WithClock(now func() time.Time) Option {
	return func(opts *Options) {
		opts.Now = now
	}
}

// Monitor периодически проверяет оба бэкенда. Пробы не меняют состояние
// арбитра: переключением управляют только реальные операции.
type Monitor struct {
	targets    []Target
	logger     *log.Entry
	interval   time.Duration
	timeout    time.Duration
	sinks      []StatusSink
	modeSinks  []ModeSink
	inFallback func() bool
	now        func() time.Time

	mu   sync.Mutex
	last map[domain.Backend]bool
}

// New создаёт монитор для targets.
func New(targets []Target, options ...Option) *Monitor {
	opts := Options{
		Interval: defaultProbeInterval,
		Timeout:  defaultProbeTimeout,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "backend-monitor")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultProbeInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultProbeTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Monitor{
		targets:    targets,
		logger:     logger,
		interval:   opts.Interval,
		timeout:    opts.Timeout,
		sinks:      opts.Sinks,
		modeSinks:  opts.ModeSinks,
		inFallback: opts.InFallback,
		now:        opts.Now,
		last:       make(map[domain.Backend]bool, len(targets)),
	}
}

// Run выполняет пробы сразу и затем раз в interval до отмены ctx.
func (m *Monitor) Run(ctx context.Context) {
	if len(m.targets) == 0 {
		m.logger.Warn("backend monitor is disabled: no targets")
		return
	}

	m.ProbeAll(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ProbeAll(ctx)
		}
	}
}

// ProbeAll проверяет все бэкенды параллельно и возвращает ошибки проб.
func (m *Monitor) ProbeAll(ctx context.Context) map[domain.Backend]error {
	results := make(map[domain.Backend]error, len(m.targets))
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, target := range m.targets {
		wg.Add(1)
		go func(target Target) {
			defer wg.Done()
			err := m.probe(ctx, target)
			mu.Lock()
			results[target.Backend] = err
			mu.Unlock()
		}(target)
	}
	wg.Wait()

	if m.inFallback != nil {
		on := m.inFallback()
		for _, sink := range m.modeSinks {
			sink.SetFallbackMode(on)
		}
	}
	return results
}

func (m *Monitor) probe(ctx context.Context, target Target) error {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := m.now()
	err := target.Prober.CheckHealth(probeCtx)
	took := m.now().Sub(start)

	// Отмена родительского контекста не говорит о состоянии бэкенда.
	if err != nil && errors.Is(ctx.Err(), context.Canceled) {
		return err
	}

	up := err == nil
	if target.Checker != nil {
		target.Checker.Record(err, took, start)
	}
	for _, sink := range m.sinks {
		sink.SetBackendUp(target.Backend, up)
	}
	m.logTransition(target.Backend, up, err)
	return err
}

func (m *Monitor) logTransition(backend domain.Backend, up bool, err error) {
	m.mu.Lock()
	prev, seen := m.last[backend]
	m.last[backend] = up
	m.mu.Unlock()

	entry := m.logger.WithField("backend", backend)
	switch {
	case !seen && up:
		entry.Info("Backend is reachable")
	case up && !prev:
		entry.Info("Backend probe recovered")
	case !up && (!seen || prev):
		entry.WithError(err).Warn("Backend probe failed")
	case !up:
		entry.WithError(err).Debug("Backend probe still failing")
	}
}
