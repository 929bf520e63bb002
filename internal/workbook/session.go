package workbook

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Cal9233/genthrust-repairs/internal/domain"
	"github.com/Cal9233/genthrust-repairs/internal/retry"
)

const defaultSessionTTL = 5 * time.Minute

// Результаты жизненного цикла сессии для метрик.
const (
	SessionOpened      = "opened"
	SessionOpenFailed  = "open_failed"
	SessionClosed      = "closed"
	SessionCloseFailed = "close_failed"
)

// SessionAPI — вызовы бэкенда, нужные менеджеру сессий.
type SessionAPI interface {
	CreateSession(ctx context.Context, persistChanges bool) (string, error)
	CloseSession(ctx context.Context, sessionID string) error
	Probe(ctx context.Context) error
}

// SessionObserver получает события жизненного цикла сессий.
type SessionObserver interface {
	ObserveSession(result string)
}

// Session — эфемерная сессия документа. Наружу выдаётся только ID.
type Session struct {
	ID        string
	CreatedAt time.Time
	ExpiresAt time.Time
	InUse     bool
}

func (s *Session) valid(now time.Time) bool {
	return s != nil && !s.InUse && now.Before(s.ExpiresAt)
}

// SessionOption настраивает SessionManager.
type SessionOption func(*SessionManager)

// WithSessionTTL задаёт срок жизни сессии.
func WithSessionTTL(ttl time.Duration) SessionOption {
	return func(m *SessionManager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithPersistChanges задаёт режим сохранения изменений сессии.
func WithPersistChanges(persist bool) SessionOption {
	return func(m *SessionManager) {
		m.persist = persist
	}
}

// WithSessionClock подменяет часы.
func WithSessionClock(now func() time.Time) SessionOption {
	return func(m *SessionManager) {
		m.now = now
	}
}

// WithSessionLogger задаёт logger.
func WithSessionLogger(logger *log.Entry) SessionOption {
	return func(m *SessionManager) {
		m.logger = logger
	}
}

// WithSessionObserver подключает метрики сессий.
func WithSessionObserver(observer SessionObserver) SessionOption {
	return func(m *SessionManager) {
		m.observer = observer
	}
}

// SessionManager владеет единственной логической сессией документа.
// Единицы работы выполняются строго по одной: остальные ждут в очереди.
type SessionManager struct {
	api      SessionAPI
	retry    *retry.Policy
	lock     chan struct{}
	current  *Session
	ttl      time.Duration
	persist  bool
	now      func() time.Time
	logger   *log.Entry
	observer SessionObserver
}

// NewSessionManager создаёт менеджер сессий. policy оборачивает открытие и закрытие сессии.
func NewSessionManager(api SessionAPI, policy *retry.Policy, options ...SessionOption) *SessionManager {
	m := &SessionManager{
		api:     api,
		retry:   policy,
		lock:    make(chan struct{}, 1),
		ttl:     defaultSessionTTL,
		persist: true,
		now:     time.Now,
	}
	for _, option := range options {
		option(m)
	}
	if m.retry == nil {
		m.retry = retry.New(retry.DefaultConfig(), retry.WithBackend(domain.BackendWorkbook))
	}
	if m.logger == nil {
		m.logger = log.WithField("component", "workbook-session")
	}
	return m
}

// Retry возвращает политику повторов менеджера.
func (m *SessionManager) Retry() *retry.Policy {
	return m.retry
}

// WithSession выполняет fn с действующей сессией и закрывает её на любом пути выхода,
// включая ошибку и панику fn. Ожидание очереди прерывается отменой ctx;
// закрытие уже открытой сессии от отмены не зависит.
func (m *SessionManager) WithSession(ctx context.Context, fn func(ctx context.Context, sessionID string) error) (err error) {
	select {
	case m.lock <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-m.lock }()

	session, err := m.acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		m.release(context.WithoutCancel(ctx), session, errors.Is(err, domain.ErrSessionInvalid))
	}()

	return fn(ctx, session.ID)
}

// CheckHealth проверяет канал к бэкенду лёгким чтением без открытия сессии.
func (m *SessionManager) CheckHealth(ctx context.Context) error {
	return m.retry.Do(ctx, "probe", m.api.Probe)
}

// acquire вызывается под lock.
func (m *SessionManager) acquire(ctx context.Context) (*Session, error) {
	now := m.now()
	if m.current.valid(now) {
		m.current.InUse = true
		return m.current, nil
	}
	if m.current != nil {
		m.closeQuietly(context.WithoutCancel(ctx), m.current)
		m.current = nil
	}

	var id string
	err := m.retry.Do(ctx, "createSession", func(ctx context.Context) error {
		var err error
		id, err = m.api.CreateSession(ctx, m.persist)
		return err
	})
	if err != nil {
		m.observe(SessionOpenFailed)
		m.logger.WithError(err).Error("Failed to create workbook session")
		return nil, err
	}
	m.observe(SessionOpened)

	m.current = &Session{
		ID:        id,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
		InUse:     true,
	}
	return m.current, nil
}

// release закрывает сессию. Если закрыть не удалось, живая сессия остаётся текущей
// и может быть переиспользована до истечения TTL; отозванная бэкендом сбрасывается всегда.
func (m *SessionManager) release(ctx context.Context, session *Session, revoked bool) {
	if m.closeQuietly(ctx, session) || revoked {
		m.current = nil
	}
}

// closeQuietly закрывает сессию; ошибка закрытия только логируется.
func (m *SessionManager) closeQuietly(ctx context.Context, session *Session) bool {
	session.InUse = false
	err := m.retry.Do(ctx, "closeSession", func(ctx context.Context) error {
		return m.api.CloseSession(ctx, session.ID)
	})
	if err != nil {
		m.observe(SessionCloseFailed)
		m.logger.WithFields(log.Fields{
			"session_id": session.ID,
			"error":      err,
		}).Warn("Failed to close workbook session")
		return false
	}
	m.observe(SessionClosed)
	return true
}

func (m *SessionManager) observe(result string) {
	if m.observer != nil {
		m.observer.ObserveSession(result)
	}
}
