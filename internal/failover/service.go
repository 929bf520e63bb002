package failover

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Cal9233/genthrust-repairs/internal/domain"
)

// EventPublisher публикует доменные события. Ошибки публикации не влияют на операцию.
type EventPublisher interface {
	OrderArchived(ctx context.Context, order domain.RepairOrder, source Source) error
	OrderDeleted(ctx context.Context, key domain.OrderKey, source Source) error
}

// ServiceOption настраивает Service.
type ServiceOption func(*Service)

// WithEvents подключает публикацию событий.
func WithEvents(events EventPublisher) ServiceOption {
	return func(s *Service) {
		s.events = events
	}
}

// WithServiceLogger задаёт logger.
func WithServiceLogger(logger *log.Entry) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithServiceClock подменяет часы для смены рабочего статуса.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// Service — фасад доступа к заказам: каждая операция выполняется через Execute
// на паре репозиториев primary/fallback.
type Service struct {
	arbiter  *Arbiter
	primary  domain.RepairOrderRepository
	fallback domain.RepairOrderRepository
	events   EventPublisher
	now      func() time.Time
	logger   *log.Entry
}

// NewService создаёт фасад.
func NewService(arbiter *Arbiter, primary, fallback domain.RepairOrderRepository, opts ...ServiceOption) *Service {
	s := &Service{
		arbiter:  arbiter,
		primary:  primary,
		fallback: fallback,
		now:      time.Now,
		logger:   log.WithField("component", "repair-orders"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListRepairOrders возвращает заказы с архивным статусом status.
func (s *Service) ListRepairOrders(ctx context.Context, status domain.ArchiveStatus) (Result[[]domain.RepairOrder], error) {
	if !status.Valid() {
		return Result[[]domain.RepairOrder]{}, domain.ErrArchiveStatusInvalid
	}
	return Execute(ctx, s.arbiter, Operation[[]domain.RepairOrder]{
		Name:     "listRepairOrders",
		Primary:  func(ctx context.Context) ([]domain.RepairOrder, error) { return s.primary.List(ctx, status) },
		Fallback: func(ctx context.Context) ([]domain.RepairOrder, error) { return s.fallback.List(ctx, status) },
	})
}

// GetByID возвращает заказ по ключу.
func (s *Service) GetByID(ctx context.Context, key domain.OrderKey) (Result[domain.RepairOrder], error) {
	return Execute(ctx, s.arbiter, Operation[domain.RepairOrder]{
		Name:     "getRepairOrder",
		Primary:  func(ctx context.Context) (domain.RepairOrder, error) { return s.primary.Get(ctx, key) },
		Fallback: func(ctx context.Context) (domain.RepairOrder, error) { return s.fallback.Get(ctx, key) },
	})
}

// Create создаёт заказ в статусе ACTIVE.
func (s *Service) Create(ctx context.Context, order domain.RepairOrder) (Result[domain.RepairOrder], error) {
	return Execute(ctx, s.arbiter, Operation[domain.RepairOrder]{
		Name:     "createRepairOrder",
		Primary:  func(ctx context.Context) (domain.RepairOrder, error) { return s.primary.Create(ctx, order) },
		Fallback: func(ctx context.Context) (domain.RepairOrder, error) { return s.fallback.Create(ctx, order) },
	})
}

// Update применяет частичное обновление.
func (s *Service) Update(ctx context.Context, key domain.OrderKey, patch domain.RepairOrderPatch) (Result[domain.RepairOrder], error) {
	return Execute(ctx, s.arbiter, Operation[domain.RepairOrder]{
		Name:     "updateRepairOrder",
		Primary:  func(ctx context.Context) (domain.RepairOrder, error) { return s.primary.Update(ctx, key, patch) },
		Fallback: func(ctx context.Context) (domain.RepairOrder, error) { return s.fallback.Update(ctx, key, patch) },
	})
}

// UpdateStatus меняет рабочий статус; дата статуса — текущий момент.
func (s *Service) UpdateStatus(ctx context.Context, key domain.OrderKey, status string) (Result[domain.RepairOrder], error) {
	at := s.now()
	return Execute(ctx, s.arbiter, Operation[domain.RepairOrder]{
		Name: "updateRepairOrderStatus",
		Primary: func(ctx context.Context) (domain.RepairOrder, error) {
			return s.primary.UpdateStatus(ctx, key, status, at)
		},
		Fallback: func(ctx context.Context) (domain.RepairOrder, error) {
			return s.fallback.UpdateStatus(ctx, key, status, at)
		},
	})
}

// Delete удаляет заказ по ключу.
func (s *Service) Delete(ctx context.Context, key domain.OrderKey) (Result[struct{}], error) {
	res, err := Execute(ctx, s.arbiter, Operation[struct{}]{
		Name:     "deleteRepairOrder",
		Primary:  func(ctx context.Context) (struct{}, error) { return struct{}{}, s.primary.Delete(ctx, key) },
		Fallback: func(ctx context.Context) (struct{}, error) { return struct{}{}, s.fallback.Delete(ctx, key) },
	})
	if err == nil && s.events != nil {
		if pubErr := s.events.OrderDeleted(ctx, key, res.Source); pubErr != nil {
			s.logger.WithError(pubErr).WithField("key", key.String()).Warn("Failed to publish order deleted event")
		}
	}
	return res, err
}

// DeleteByOrderNumber удаляет заказ по номеру; номер понятен обоим бэкендам.
func (s *Service) DeleteByOrderNumber(ctx context.Context, number string) (Result[struct{}], error) {
	key, err := domain.ParseOrderKey(domain.KeyKindOrderNumber, number)
	if err != nil {
		return Result[struct{}]{}, err
	}
	return s.Delete(ctx, key)
}

// Archive переводит заказ в конечный архивный статус.
func (s *Service) Archive(ctx context.Context, key domain.OrderKey, target domain.ArchiveStatus) (Result[domain.RepairOrder], error) {
	if !target.Terminal() {
		return Result[domain.RepairOrder]{}, domain.CanTransition(domain.ArchiveActive, target)
	}
	res, err := Execute(ctx, s.arbiter, Operation[domain.RepairOrder]{
		Name:     "archiveRepairOrder",
		Primary:  func(ctx context.Context) (domain.RepairOrder, error) { return s.primary.Archive(ctx, key, target) },
		Fallback: func(ctx context.Context) (domain.RepairOrder, error) { return s.fallback.Archive(ctx, key, target) },
	})
	if err == nil && s.events != nil {
		if pubErr := s.events.OrderArchived(ctx, res.Data, res.Source); pubErr != nil {
			s.logger.WithError(pubErr).WithField("order_number", res.Data.OrderNumber).Warn("Failed to publish order archived event")
		}
	}
	return res, err
}

// GetDashboardStats возвращает сводку по правилам обслужившего бэкенда.
func (s *Service) GetDashboardStats(ctx context.Context) (Result[domain.DashboardStats], error) {
	return Execute(ctx, s.arbiter, Operation[domain.DashboardStats]{
		Name:     "dashboardStats",
		Primary:  s.primary.DashboardStats,
		Fallback: s.fallback.DashboardStats,
	})
}

// InFallbackMode сообщает, работает ли сервис на резервном бэкенде.
func (s *Service) InFallbackMode() bool { return s.arbiter.InFallbackMode() }

// Metrics возвращает снимок счётчиков арбитра.
func (s *Service) Metrics() Metrics { return s.arbiter.Metrics() }

// SetRetryInterval меняет интервал повторной проверки основного бэкенда.
func (s *Service) SetRetryInterval(d time.Duration) { s.arbiter.SetRetryInterval(d) }

// ResetFallbackState возвращает сервис на основной бэкенд.
func (s *Service) ResetFallbackState() { s.arbiter.ResetFallbackState() }

// ResetMetrics обнуляет счётчики арбитра.
func (s *Service) ResetMetrics() { s.arbiter.ResetMetrics() }
