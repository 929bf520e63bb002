package relational

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Cal9233/genthrust-repairs/internal/domain"
	"github.com/Cal9233/genthrust-repairs/internal/retry"
	"github.com/Cal9233/genthrust-repairs/internal/rostable"
)

// RepositoryOption настраивает Repository.
type RepositoryOption func(*Repository)

// WithRetryPolicy задаёт политику повторов вызовов. По умолчанию — одна попытка.
func WithRetryPolicy(policy *retry.Policy) RepositoryOption {
	return func(r *Repository) {
		r.retry = policy
	}
}

// WithRepositoryLogger задаёт logger.
func WithRepositoryLogger(logger *log.Entry) RepositoryOption {
	return func(r *Repository) {
		r.logger = logger
	}
}

// Repository хранит заказы в таблицах реляционного бэкенда, по таблице на архивный статус.
type Repository struct {
	client *Client
	retry  *retry.Policy
	logger *log.Entry
}

var _ domain.RepairOrderRepository = (*Repository)(nil)

// NewRepository создаёт репозиторий поверх клиента API.
func NewRepository(client *Client, options ...RepositoryOption) *Repository {
	r := &Repository{client: client}
	for _, option := range options {
		option(r)
	}
	if r.logger == nil {
		r.logger = log.WithField("component", "relational-repository")
	}
	if r.retry == nil {
		r.retry = retry.New(retry.Config{MaxAttempts: 1},
			retry.WithBackend(domain.BackendRelational),
			retry.WithLogger(r.logger))
	}
	return r
}

// CheckHealth проверяет доступность API.
func (r *Repository) CheckHealth(ctx context.Context) error {
	return r.retry.Do(ctx, "health", r.client.Health)
}

// List возвращает заказы из таблицы статуса.
func (r *Repository) List(ctx context.Context, status domain.ArchiveStatus) ([]domain.RepairOrder, error) {
	l, err := rostable.For(status)
	if err != nil {
		return nil, err
	}
	var rows []rostable.Row
	err = r.retry.Do(ctx, "listRows", func(ctx context.Context) error {
		var err error
		rows, err = r.client.ListRows(ctx, status)
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.RepairOrder, 0, len(rows))
	for _, row := range rows {
		out = append(out, rostable.ToOrder(l, row))
	}
	return out, nil
}

// Get ищет заказ по идентификатору строки или номеру.
func (r *Repository) Get(ctx context.Context, key domain.OrderKey) (domain.RepairOrder, error) {
	if err := checkKey(key); err != nil {
		return domain.RepairOrder{}, err
	}
	l, row, err := r.locate(ctx, key)
	if err != nil {
		return domain.RepairOrder{}, err
	}
	return rostable.ToOrder(l, row), nil
}

// Create добавляет заказ в таблицу ACTIVE.
func (r *Repository) Create(ctx context.Context, order domain.RepairOrder) (domain.RepairOrder, error) {
	order.ArchiveStatus = domain.ArchiveActive
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.RepairOrder{}, errors.Join(errs...)
	}
	l := rostable.MustFor(domain.ArchiveActive)

	var created rostable.Row
	err := r.retry.Do(ctx, "insertRow", func(ctx context.Context) error {
		var err error
		created, err = r.client.InsertRow(ctx, l.Status, rostable.FromOrder(l, order))
		return err
	})
	if err != nil {
		return domain.RepairOrder{}, err
	}
	return rostable.ToOrder(l, created), nil
}

// Update применяет патч к заказу в той таблице, где он лежит.
func (r *Repository) Update(ctx context.Context, key domain.OrderKey, patch domain.RepairOrderPatch) (domain.RepairOrder, error) {
	if err := checkKey(key); err != nil {
		return domain.RepairOrder{}, err
	}
	if err := patch.Validate(); err != nil {
		return domain.RepairOrder{}, err
	}
	l, current, err := r.locate(ctx, key)
	if err != nil {
		return domain.RepairOrder{}, err
	}

	row := rostable.FromOrder(l, patch.Apply(rostable.ToOrder(l, current)))
	delete(row, l.OrderNumberColumn())

	var updated rostable.Row
	err = r.retry.Do(ctx, "updateRow", func(ctx context.Context) error {
		var err error
		updated, err = r.client.UpdateRow(ctx, l.Status, current.ID(), row)
		return err
	})
	if err != nil {
		return domain.RepairOrder{}, err
	}
	return rostable.ToOrder(l, updated), nil
}

// UpdateStatus меняет рабочий статус заказа.
func (r *Repository) UpdateStatus(ctx context.Context, key domain.OrderKey, status string, at time.Time) (domain.RepairOrder, error) {
	return r.Update(ctx, key, domain.StatusPatch(status, at))
}

// Delete удаляет заказ. По номеру удаление выполняется одним запросом во всех таблицах.
func (r *Repository) Delete(ctx context.Context, key domain.OrderKey) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if number, ok := key.(domain.OrderNumber); ok {
		return r.retry.Do(ctx, "deleteByNumber", func(ctx context.Context) error {
			_, err := r.client.DeleteByNumber(ctx, string(number))
			return err
		})
	}

	l, row, err := r.locate(ctx, key)
	if err != nil {
		return err
	}
	return r.retry.Do(ctx, "deleteRow", func(ctx context.Context) error {
		return r.client.DeleteRow(ctx, l.Status, row.ID())
	})
}

// Archive переносит заказ в таблицу конечного статуса. Бэкенд выполняет перенос
// одной транзакцией: вставка в целевую таблицу и удаление из исходной.
func (r *Repository) Archive(ctx context.Context, key domain.OrderKey, target domain.ArchiveStatus) (domain.RepairOrder, error) {
	if err := checkKey(key); err != nil {
		return domain.RepairOrder{}, err
	}
	src, current, err := r.locate(ctx, key)
	if err != nil {
		return domain.RepairOrder{}, err
	}
	if err := domain.CanTransition(src.Status, target); err != nil {
		return domain.RepairOrder{}, err
	}
	dst := rostable.MustFor(target)
	merged := rostable.FromOrder(dst, rostable.ToOrder(src, current))

	var moved rostable.Row
	err = r.retry.Do(ctx, "moveRow", func(ctx context.Context) error {
		var err error
		moved, err = r.client.MoveRow(ctx, src.Status, dst.Status, current.ID(), merged)
		return err
	})
	if err != nil {
		return domain.RepairOrder{}, err
	}
	r.logger.WithFields(log.Fields{"id": current.ID(), "from": src.Status, "to": dst.Status}).Info("Repair order moved")
	return rostable.ToOrder(dst, moved), nil
}

// DashboardStats возвращает сводку, посчитанную бэкендом.
func (r *Repository) DashboardStats(ctx context.Context) (domain.DashboardStats, error) {
	var stats domain.DashboardStats
	err := r.retry.Do(ctx, "dashboard", func(ctx context.Context) error {
		var err error
		stats, err = r.client.Dashboard(ctx)
		return err
	})
	if stats.ByStatus == nil {
		stats.ByStatus = map[string]int{}
	}
	return stats, err
}

// locate находит таблицу и строку заказа. Идентификатор ищется по таблицам
// в порядке ACTIVE, PAID, NET, RETURNED до первого совпадения.
func (r *Repository) locate(ctx context.Context, key domain.OrderKey) (rostable.Layout, rostable.Row, error) {
	switch k := key.(type) {
	case domain.OrderNumber:
		var lookup NumberLookup
		err := r.retry.Do(ctx, "findByNumber", func(ctx context.Context) error {
			var err error
			lookup, err = r.client.FindByNumber(ctx, string(k))
			return err
		})
		if err != nil {
			return rostable.Layout{}, nil, err
		}
		l, err := rostable.For(lookup.ArchiveStatus)
		if err != nil {
			return rostable.Layout{}, nil, fmt.Errorf("lookup %s: %w", k, err)
		}
		return l, lookup.Row, nil

	case domain.RelationalID:
		for _, l := range rostable.All() {
			var row rostable.Row
			err := r.retry.Do(ctx, "getRow", func(ctx context.Context) error {
				var err error
				row, err = r.client.GetRow(ctx, l.Status, string(k))
				return err
			})
			if domain.IsNotFound(err) {
				continue
			}
			if err != nil {
				return rostable.Layout{}, nil, err
			}
			return l, row, nil
		}
		return rostable.Layout{}, nil, fmt.Errorf("%w: id %s", domain.ErrRepairOrderNotFound, k)
	}
	return rostable.Layout{}, nil, checkKey(key)
}

// checkKey отсекает ключ чужого бэкенда до обращения к API.
func checkKey(key domain.OrderKey) error {
	switch key.(type) {
	case domain.RelationalID, domain.OrderNumber:
		return nil
	case nil:
		return fmt.Errorf("%w: nil key", domain.ErrInvalidKey)
	default:
		return &domain.IdentifierMismatchError{Backend: domain.BackendRelational, Key: key}
	}
}
