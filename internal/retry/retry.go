package retry

import (
	"context"
	"errors"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Cal9233/genthrust-repairs/internal/domain"
)

// Config задаёт параметры экспоненциального backoff.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// MaxDelay ограничивает задержку до добавления jitter; 0 — без ограничения.
	MaxDelay time.Duration
	// JitterFactor — максимальная доля случайной надбавки к задержке (0..1).
	JitterFactor float64
}

// DefaultConfig возвращает конфигурацию по умолчанию: 3 попытки, 1s, до 20% jitter.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		BaseDelay:    time.Second,
		JitterFactor: 0.2,
	}
}

// Options задаёт зависимости политики.
type Options struct {
	Logger  *log.Entry
	Backend domain.Backend
	Sleep   func(ctx context.Context, d time.Duration) error
	Rand    func() float64
	OnRetry func(op string, attempt int, err error)
	// Classify решает, повторять ли ошибку; по умолчанию IsRetryable.
	Classify func(err error) bool
}

// Option настраивает Policy.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithBackend помечает ошибки исчерпания именем бэкенда.
func WithBackend(backend domain.Backend) Option {
	return func(opts *Options) {
		opts.Backend = backend
	}
}

// WithSleep подменяет ожидание между попытками (для тестов).
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(opts *Options) {
		opts.Sleep = sleep
	}
}

// WithRand подменяет источник jitter; функция возвращает значение в [0,1).
func WithRand(rnd func() float64) Option {
	return func(opts *Options) {
		opts.Rand = rnd
	}
}

// WithRetryHook вызывается перед каждой повторной попыткой.
func WithRetryHook(hook func(op string, attempt int, err error)) Option {
	return func(opts *Options) {
		opts.OnRetry = hook
	}
}

// WithClassifier подменяет классификацию повторяемых ошибок.
func WithClassifier(classify func(err error) bool) Option {
	return func(opts *Options) {
		opts.Classify = classify
	}
}

// Policy повторяет временные ошибки удалённых вызовов.
type Policy struct {
	cfg  Config
	opts Options

	backend  domain.Backend
	logger   *log.Entry
	sleep    func(ctx context.Context, d time.Duration) error
	rand     func() float64
	onRetry  func(op string, attempt int, err error)
	classify func(err error) bool
}

// New создаёт политику повторов.
func New(cfg Config, options ...Option) *Policy {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay < 0 {
		cfg.BaseDelay = 0
	}
	if cfg.JitterFactor < 0 {
		cfg.JitterFactor = 0
	}

	opts := Options{
		Sleep:    sleepContext,
		Rand:     rand.Float64,
		Classify: IsRetryable,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "retry")
	}

	return &Policy{
		cfg:      cfg,
		opts:     opts,
		backend:  opts.Backend,
		logger:   logger,
		sleep:    opts.Sleep,
		rand:     opts.Rand,
		onRetry:  opts.OnRetry,
		classify: opts.Classify,
	}
}

// With возвращает копию политики с дополнительными опциями.
func (p *Policy) With(options ...Option) *Policy {
	base := []Option{func(opts *Options) { *opts = p.opts }}
	return New(p.cfg, append(base, options...)...)
}

// Config возвращает действующую конфигурацию.
func (p *Policy) Config() Config {
	return p.cfg
}

// Delay возвращает задержку перед повтором после неудачной попытки attempt (с единицы):
// base × 2^(attempt−1) плюс до JitterFactor случайной надбавки.
func (p *Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(p.cfg.BaseDelay) * math.Pow(2, float64(attempt-1))
	if p.cfg.MaxDelay > 0 && delay > float64(p.cfg.MaxDelay) {
		delay = float64(p.cfg.MaxDelay)
	}
	if p.cfg.JitterFactor > 0 {
		delay += delay * p.cfg.JitterFactor * p.rand()
	}
	return time.Duration(delay)
}

// Do выполняет fn, повторяя временные ошибки. Невременная ошибка возвращается сразу и без изменений.
// Исчерпание попыток возвращает *domain.BackendError с Retryable=true и числом попыток.
func (p *Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				p.logger.WithFields(log.Fields{
					"operation": op,
					"attempt":   attempt,
				}).Info("Operation succeeded after retry")
			}
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return err
		}

		if !p.classify(err) {
			p.logger.WithFields(log.Fields{
				"operation": op,
				"error":     err,
			}).Debug("Operation failed with non-retryable error")
			return err
		}

		if attempt == p.cfg.MaxAttempts {
			break
		}

		delay := p.Delay(attempt)
		p.logger.WithFields(log.Fields{
			"operation": op,
			"attempt":   attempt,
			"delay":     delay,
			"error":     err,
		}).Warn("Operation failed, retrying")
		if p.onRetry != nil {
			p.onRetry(op, attempt, err)
		}

		if err := p.sleep(ctx, delay); err != nil {
			return err
		}
	}

	p.logger.WithFields(log.Fields{
		"operation":    op,
		"max_attempts": p.cfg.MaxAttempts,
		"error":        lastErr,
	}).Error("Operation failed after all retry attempts")

	return exhausted(p.backend, op, p.cfg.MaxAttempts, lastErr)
}

func exhausted(backend domain.Backend, op string, attempts int, err error) error {
	var be *domain.BackendError
	if errors.As(err, &be) {
		out := *be
		if out.Backend == "" {
			out.Backend = backend
		}
		if out.Op == "" {
			out.Op = op
		}
		out.Retryable = true
		out.Attempts = attempts
		return &out
	}
	return &domain.BackendError{
		Backend:   backend,
		Op:        op,
		Retryable: true,
		Attempts:  attempts,
		Err:       err,
	}
}

// StatusRetryable сообщает, является ли HTTP-статус временным.
func StatusRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// IsRetryable классифицирует ошибку: временные HTTP-статусы, сбои транспорта и недействительная сессия.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, domain.ErrSessionInvalid) {
		return true
	}
	var be *domain.BackendError
	if errors.As(err, &be) {
		if be.StatusCode > 0 {
			return be.Retryable || StatusRetryable(be.StatusCode)
		}
		return be.Retryable || IsNetworkError(be.Err)
	}
	return IsNetworkError(err)
}

// IsNetworkError распознаёт сбои транспорта.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, context.DeadlineExceeded)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
