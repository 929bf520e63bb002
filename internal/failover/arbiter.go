// Package failover выбирает хранилище для каждой операции: основной реляционный
// бэкенд, а при его недоступности — резервный документ.
package failover

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Cal9233/genthrust-repairs/internal/domain"
)

// DefaultRetryInterval — пауза между попытками вернуться на основной бэкенд в режиме fallback.
const DefaultRetryInterval = 60 * time.Second

// Source — бэкенд, обслуживший операцию.
type Source string

const (
	SourcePrimary  Source = "primary"
	SourceFallback Source = "fallback"
)

// Backend возвращает хранилище, стоящее за источником.
func (s Source) Backend() domain.Backend {
	if s == SourceFallback {
		return domain.BackendWorkbook
	}
	return domain.BackendRelational
}

// Metrics — снимок счётчиков арбитра.
type Metrics struct {
	SuccessCount         int64     `json:"successCount"`
	FailureCount         int64     `json:"failureCount"`
	FallbackSuccessCount int64     `json:"fallbackSuccessCount"`
	FallbackFailureCount int64     `json:"fallbackFailureCount"`
	BothFailedCount      int64     `json:"bothFailedCount"`
	RecoveryCount        int64     `json:"recoveryCount"`
	InFallbackMode       bool      `json:"inFallbackMode"`
	LastFailureReason    string    `json:"lastFailureReason,omitempty"`
	LastFailureAt        time.Time `json:"lastFailureAt,omitzero"`
	LastSuccessAt        time.Time `json:"lastSuccessAt,omitzero"`
	LastPrimaryAttempt   time.Time `json:"lastPrimaryAttempt,omitzero"`
	RetryInterval        string    `json:"retryInterval"`
}

// Observer получает сигналы о смене режима. Паника наблюдателя не влияет на операцию.
type Observer interface {
	FallbackActivated(op string, reason error)
	Recovered(op string, downtime time.Duration)
	BothFailed(op string, err *domain.BothFailedError)
	OperationCompleted(op string, source Source, duration time.Duration, err error)
}

// Option настраивает Arbiter.
type Option func(*Arbiter)

// WithRetryInterval задаёт интервал повторной проверки основного бэкенда.
func WithRetryInterval(d time.Duration) Option {
	return func(a *Arbiter) {
		if d >= 0 {
			a.retryInterval = d
		}
	}
}

// WithClock подменяет часы.
func WithClock(now func() time.Time) Option {
	return func(a *Arbiter) {
		if now != nil {
			a.now = now
		}
	}
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(a *Arbiter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithObserver подключает наблюдателей.
func WithObserver(observers ...Observer) Option {
	return func(a *Arbiter) {
		for _, o := range observers {
			if o != nil {
				a.observers = append(a.observers, o)
			}
		}
	}
}

// Arbiter хранит состояние переключения. Каждое изменение состояния атомарно,
// но последовательность проверка → вызов бэкенда → запись итога под блокировкой не держится:
// параллельные операции могут чередоваться.
type Arbiter struct {
	mu            sync.Mutex
	now           func() time.Time
	retryInterval time.Duration
	fallbackMode  bool
	fallbackSince time.Time
	lastAttempt   time.Time
	metrics       Metrics

	observers []Observer
	logger    *log.Entry
}

// NewArbiter создаёт арбитр в режиме основного бэкенда.
func NewArbiter(opts ...Option) *Arbiter {
	a := &Arbiter{
		now:           time.Now,
		retryInterval: DefaultRetryInterval,
		logger:        log.WithField("component", "failover"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// InFallbackMode сообщает, работает ли арбитр на резервном бэкенде.
func (a *Arbiter) InFallbackMode() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fallbackMode
}

// Metrics возвращает снимок счётчиков.
func (a *Arbiter) Metrics() Metrics {
	a.mu.Lock()
	defer a.mu.Unlock()
	m := a.metrics
	m.InFallbackMode = a.fallbackMode
	m.LastPrimaryAttempt = a.lastAttempt
	m.RetryInterval = a.retryInterval.String()
	return m
}

// SetRetryInterval меняет интервал повторной проверки основного бэкенда.
func (a *Arbiter) SetRetryInterval(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if d >= 0 {
		a.retryInterval = d
	}
}

// ResetFallbackState возвращает арбитр на основной бэкенд без проверки.
func (a *Arbiter) ResetFallbackState() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fallbackMode = false
	a.fallbackSince = time.Time{}
	a.lastAttempt = time.Time{}
	a.logger.Info("Fallback state reset manually")
}

// ResetMetrics обнуляет счётчики.
func (a *Arbiter) ResetMetrics() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.metrics = Metrics{}
}

// shouldTryPrimary разрешает основной бэкенд вне режима fallback,
// а в режиме fallback — не чаще раза в retryInterval.
func (a *Arbiter) shouldTryPrimary() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.fallbackMode {
		return true
	}
	if a.now().Sub(a.lastAttempt) > a.retryInterval {
		a.lastAttempt = a.now()
		return true
	}
	return false
}

// recordPrimarySuccess возвращает true ровно для того вызова, который снял режим fallback.
func (a *Arbiter) recordPrimarySuccess() (bool, time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	a.metrics.SuccessCount++
	a.metrics.LastSuccessAt = now
	if !a.fallbackMode {
		return false, 0
	}
	downtime := now.Sub(a.fallbackSince)
	a.fallbackMode = false
	a.fallbackSince = time.Time{}
	a.metrics.RecoveryCount++
	return true, downtime
}

// recordPrimaryFailure возвращает true, если сбой включил режим fallback.
func (a *Arbiter) recordPrimaryFailure(err error) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	a.metrics.FailureCount++
	a.metrics.LastFailureAt = now
	a.metrics.LastFailureReason = err.Error()
	a.lastAttempt = now
	if a.fallbackMode {
		return false
	}
	a.fallbackMode = true
	a.fallbackSince = now
	return true
}

func (a *Arbiter) recordFallback(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err == nil {
		a.metrics.FallbackSuccessCount++
		return
	}
	a.metrics.FallbackFailureCount++
	a.metrics.BothFailedCount++
}

func (a *Arbiter) notify(op string, fn func(Observer)) {
	for _, o := range a.observers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					a.logger.WithFields(log.Fields{"operation": op, "panic": r}).Error("Failover observer panicked")
				}
			}()
			fn(o)
		}()
	}
}

// Operation — пара реализаций одной операции на основном и резервном бэкендах.
type Operation[T any] struct {
	Name     string
	Primary  func(ctx context.Context) (T, error)
	Fallback func(ctx context.Context) (T, error)
}

// Result — данные операции и бэкенд, который их вернул.
type Result[T any] struct {
	Data   T
	Source Source
	// Recovered — этот вызов вернул арбитр с резервного бэкенда на основной.
	Recovered bool
}

// Execute выполняет операцию на основном бэкенде, а при его сбое — на резервном.
// Отказ основного бэкенда до сетевого вызова (ключ чужого бэкенда, валидация, отмена контекста)
// возвращается как есть. Любой ответ основного бэкенда с ошибкой, включая 404 и 409,
// считается сбоем и ведёт на резервный. Отсутствие заказа или конфликт на резервном окончательны.
// Если не сработали оба бэкенда, возвращается *domain.BothFailedError.
func Execute[T any](ctx context.Context, a *Arbiter, op Operation[T]) (Result[T], error) {
	start := a.now()
	var zero T
	var primaryErr error

	if a.shouldTryPrimary() {
		data, err := op.Primary(ctx)
		if err == nil {
			recovered, downtime := a.recordPrimarySuccess()
			if recovered {
				a.logger.WithFields(log.Fields{"operation": op.Name, "downtime": downtime}).Info("Primary backend recovered")
				a.notify(op.Name, func(o Observer) { o.Recovered(op.Name, downtime) })
			}
			a.completed(op.Name, SourcePrimary, start, nil)
			return Result[T]{Data: data, Source: SourcePrimary, Recovered: recovered}, nil
		}
		if domain.IsLocalRejection(err) {
			a.completed(op.Name, SourcePrimary, start, err)
			return Result[T]{Source: SourcePrimary}, err
		}

		primaryErr = err
		activated := a.recordPrimaryFailure(err)
		entry := a.logger.WithFields(log.Fields{"operation": op.Name, "error": err})
		if activated {
			entry.Warn("Primary backend failed, switching to fallback")
			a.notify(op.Name, func(o Observer) { o.FallbackActivated(op.Name, err) })
		} else {
			entry.Debug("Primary backend still failing")
		}
	}

	data, err := op.Fallback(ctx)
	if err == nil {
		a.recordFallback(nil)
		a.completed(op.Name, SourceFallback, start, nil)
		return Result[T]{Data: data, Source: SourceFallback}, nil
	}
	if domain.IsDefinitive(err) {
		a.completed(op.Name, SourceFallback, start, err)
		return Result[T]{Source: SourceFallback}, err
	}

	both := &domain.BothFailedError{Operation: op.Name, PrimaryErr: primaryErr, FallbackErr: err}
	a.recordFallback(err)
	a.logger.WithFields(log.Fields{"operation": op.Name, "error": both}).Error("Both backends failed")
	a.notify(op.Name, func(o Observer) { o.BothFailed(op.Name, both) })
	a.completed(op.Name, SourceFallback, start, both)
	return Result[T]{Data: zero, Source: SourceFallback}, both
}

func (a *Arbiter) completed(op string, source Source, start time.Time, err error) {
	duration := a.now().Sub(start)
	a.notify(op, func(o Observer) { o.OperationCompleted(op, source, duration, err) })
}
