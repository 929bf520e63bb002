package workbook

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Cal9233/genthrust-repairs/internal/domain"
	"github.com/Cal9233/genthrust-repairs/internal/retry"
)

// RowAPI — строковые вызовы таблицы документа внутри сессии.
type RowAPI interface {
	ListRows(ctx context.Context, sessionID string) ([]Row, error)
	GetRow(ctx context.Context, sessionID string, index int) (Row, error)
	UpdateRow(ctx context.Context, sessionID string, index int, values []any) (Row, error)
	AppendRow(ctx context.Context, sessionID string, values []any) (Row, error)
	DeleteRow(ctx context.Context, sessionID string, index int) error
}

// RepositoryOption настраивает Repository.
type RepositoryOption func(*Repository)

// WithRepositoryClock подменяет часы для дат создания и дашборда.
func WithRepositoryClock(now func() time.Time) RepositoryOption {
	return func(r *Repository) {
		r.now = now
	}
}

// WithRepositoryLogger задаёт logger.
func WithRepositoryLogger(logger *log.Entry) RepositoryOption {
	return func(r *Repository) {
		r.logger = logger
	}
}

// Repository хранит заказы в единой таблице документа.
// Каждая операция выполняется в одной сессии, каждый удалённый вызов — через политику повторов.
// Отозванная бэкендом сессия прерывает единицу работы, и она повторяется целиком в новой сессии.
type Repository struct {
	rows     RowAPI
	sessions *SessionManager
	retry    *retry.Policy
	units    *retry.Policy
	now      func() time.Time
	logger   *log.Entry
}

var _ domain.RepairOrderRepository = (*Repository)(nil)

// NewRepository создаёт репозиторий документа.
func NewRepository(rows RowAPI, sessions *SessionManager, options ...RepositoryOption) *Repository {
	policy := sessions.Retry()
	r := &Repository{
		rows:     rows,
		sessions: sessions,
		retry: policy.With(retry.WithClassifier(func(err error) bool {
			return retry.IsRetryable(err) && !errors.Is(err, domain.ErrSessionInvalid)
		})),
		units: policy.With(retry.WithClassifier(func(err error) bool {
			return errors.Is(err, domain.ErrSessionInvalid)
		})),
		now: time.Now,
	}
	for _, option := range options {
		option(r)
	}
	if r.logger == nil {
		r.logger = log.WithField("component", "workbook-repository")
	}
	return r
}

// CheckHealth проверяет доступность документа.
func (r *Repository) CheckHealth(ctx context.Context) error {
	return r.sessions.CheckHealth(ctx)
}

// List возвращает заказы с архивным статусом status. Пустая ячейка статуса означает ACTIVE.
func (r *Repository) List(ctx context.Context, status domain.ArchiveStatus) ([]domain.RepairOrder, error) {
	var out []domain.RepairOrder
	err := r.inSession(ctx, "list", func(ctx context.Context, sid string) error {
		orders, err := r.listAll(ctx, sid)
		if err != nil {
			return err
		}
		out = make([]domain.RepairOrder, 0, len(orders))
		for _, o := range orders {
			if o.ArchiveStatus == status {
				out = append(out, o)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get возвращает заказ по индексу строки или по номеру.
func (r *Repository) Get(ctx context.Context, key domain.OrderKey) (domain.RepairOrder, error) {
	if err := checkKey(key); err != nil {
		return domain.RepairOrder{}, err
	}
	var out domain.RepairOrder
	err := r.inSession(ctx, "get", func(ctx context.Context, sid string) error {
		order, _, err := r.resolve(ctx, sid, key)
		out = order
		return err
	})
	return out, err
}

// Create добавляет строку заказа в статусе ACTIVE.
func (r *Repository) Create(ctx context.Context, order domain.RepairOrder) (domain.RepairOrder, error) {
	order.ArchiveStatus = domain.ArchiveActive
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.RepairOrder{}, errors.Join(errs...)
	}
	values := encodeRow(order)

	var out domain.RepairOrder
	err := r.inSession(ctx, "create", func(ctx context.Context, sid string) error {
		existing, err := r.listAll(ctx, sid)
		if err != nil {
			return err
		}
		for _, o := range existing {
			if strings.EqualFold(o.OrderNumber, order.OrderNumber) {
				return fmt.Errorf("%w: %s", domain.ErrOrderNumberTaken, order.OrderNumber)
			}
		}

		var row Row
		err = r.retry.Do(ctx, "appendRow", func(ctx context.Context) error {
			var err error
			row, err = r.rows.AppendRow(ctx, sid, values)
			return err
		})
		if err != nil {
			return err
		}
		if row.Values == nil {
			row.Values = values
		}
		out = r.decode(row)
		return nil
	})
	return out, err
}

// Update применяет патч к строке заказа.
func (r *Repository) Update(ctx context.Context, key domain.OrderKey, patch domain.RepairOrderPatch) (domain.RepairOrder, error) {
	if err := checkKey(key); err != nil {
		return domain.RepairOrder{}, err
	}
	if err := patch.Validate(); err != nil {
		return domain.RepairOrder{}, err
	}
	var out domain.RepairOrder
	err := r.inSession(ctx, "update", func(ctx context.Context, sid string) error {
		current, row, err := r.resolve(ctx, sid, key)
		if err != nil {
			return err
		}
		out, err = r.writeRow(ctx, sid, row.Index, encodeRow(patch.Apply(current)))
		return err
	})
	return out, err
}

// UpdateStatus меняет рабочий статус заказа.
func (r *Repository) UpdateStatus(ctx context.Context, key domain.OrderKey, status string, at time.Time) (domain.RepairOrder, error) {
	return r.Update(ctx, key, domain.StatusPatch(status, at))
}

// Delete удаляет строку заказа.
func (r *Repository) Delete(ctx context.Context, key domain.OrderKey) error {
	if err := checkKey(key); err != nil {
		return err
	}
	return r.inSession(ctx, "delete", func(ctx context.Context, sid string) error {
		_, row, err := r.resolve(ctx, sid, key)
		if err != nil {
			return err
		}
		return r.retry.Do(ctx, "deleteRow", func(ctx context.Context) error {
			return r.rows.DeleteRow(ctx, sid, row.Index)
		})
	})
}

// Archive переводит заказ в конечный статус изменением одной ячейки строки.
func (r *Repository) Archive(ctx context.Context, key domain.OrderKey, target domain.ArchiveStatus) (domain.RepairOrder, error) {
	if err := checkKey(key); err != nil {
		return domain.RepairOrder{}, err
	}
	var out domain.RepairOrder
	err := r.inSession(ctx, "archive", func(ctx context.Context, sid string) error {
		current, row, err := r.resolve(ctx, sid, key)
		if err != nil {
			return err
		}
		if err := domain.CanTransition(current.ArchiveStatus, target); err != nil {
			return err
		}

		values := make([]any, ColumnCount)
		copy(values, row.Values)
		values[columnIndex(domain.FieldArchiveStatus)] = string(target)
		out, err = r.writeRow(ctx, sid, row.Index, values)
		return err
	})
	return out, err
}

// DashboardStats считает сводку на клиенте по всем строкам таблицы.
// OnTrack — активные заказы, следующее обновление которых позже сегодняшнего дня.
func (r *Repository) DashboardStats(ctx context.Context) (domain.DashboardStats, error) {
	var orders []domain.RepairOrder
	err := r.inSession(ctx, "dashboardStats", func(ctx context.Context, sid string) error {
		var err error
		orders, err = r.listAll(ctx, sid)
		return err
	})
	if err != nil {
		return domain.DashboardStats{}, err
	}

	today := r.now()
	stats := domain.DashboardStats{ByStatus: map[string]int{}}
	for i := range orders {
		o := &orders[i]
		switch o.ArchiveStatus {
		case domain.ArchivePaid:
			stats.Paid++
		case domain.ArchiveNet:
			stats.Net++
		case domain.ArchiveReturned:
			stats.Returned++
		case domain.ArchiveActive:
			stats.TotalActive++
			if o.CurrentStatus != "" {
				stats.ByStatus[o.CurrentStatus]++
			}
			if o.EstimatedCost != nil {
				stats.TotalEstimatedCost += *o.EstimatedCost
			}
			if o.FinalCost != nil {
				stats.TotalFinalCost += *o.FinalCost
			}
			switch o.ClassifyDue(today) {
			case domain.DueOverdue:
				stats.Overdue++
			case domain.DueToday:
				stats.DueToday++
			case domain.DueLater:
				stats.OnTrack++
			}
		}
	}
	return stats, nil
}

func (r *Repository) inSession(ctx context.Context, op string, fn func(ctx context.Context, sid string) error) error {
	return r.units.Do(ctx, op, func(ctx context.Context) error {
		return r.sessions.WithSession(ctx, fn)
	})
}

// checkKey отсекает ключ чужого бэкенда до открытия сессии.
func checkKey(key domain.OrderKey) error {
	switch key.(type) {
	case domain.RowIndex, domain.OrderNumber:
		return nil
	case nil:
		return domain.ErrInvalidKey
	default:
		return &domain.IdentifierMismatchError{Backend: domain.BackendWorkbook, Key: key}
	}
}

func (r *Repository) listAll(ctx context.Context, sid string) ([]domain.RepairOrder, error) {
	var rows []Row
	err := r.retry.Do(ctx, "listRows", func(ctx context.Context) error {
		var err error
		rows, err = r.rows.ListRows(ctx, sid)
		return err
	})
	if err != nil {
		return nil, err
	}

	orders := make([]domain.RepairOrder, 0, len(rows))
	for _, row := range rows {
		if isBlankRow(row.Values) {
			continue
		}
		orders = append(orders, r.decode(row))
	}
	return orders, nil
}

// resolve находит строку заказа по ключу.
func (r *Repository) resolve(ctx context.Context, sid string, key domain.OrderKey) (domain.RepairOrder, Row, error) {
	var row Row
	err := r.retry.Do(ctx, "resolveRow", func(ctx context.Context) error {
		var err error
		row, err = r.findRow(ctx, sid, key)
		return err
	})
	if err != nil {
		return domain.RepairOrder{}, Row{}, err
	}
	return r.decode(row), row, nil
}

func (r *Repository) findRow(ctx context.Context, sid string, key domain.OrderKey) (Row, error) {
	switch k := key.(type) {
	case domain.RowIndex:
		row, err := r.rows.GetRow(ctx, sid, int(k))
		if err != nil {
			return Row{}, err
		}
		if isBlankRow(row.Values) {
			return Row{}, fmt.Errorf("%w: row %d", domain.ErrRepairOrderNotFound, int(k))
		}
		row.Index = int(k)
		return row, nil
	case domain.OrderNumber:
		rows, err := r.rows.ListRows(ctx, sid)
		if err != nil {
			return Row{}, err
		}
		for _, row := range rows {
			if !isBlankRow(row.Values) && strings.EqualFold(parseText(row.Values[columnIndex(domain.FieldOrderNumber)]), string(k)) {
				return row, nil
			}
		}
		return Row{}, fmt.Errorf("%w: order number %s", domain.ErrRepairOrderNotFound, string(k))
	default:
		return Row{}, checkKey(key)
	}
}

func (r *Repository) writeRow(ctx context.Context, sid string, index int, values []any) (domain.RepairOrder, error) {
	var row Row
	err := r.retry.Do(ctx, "updateRow", func(ctx context.Context) error {
		var err error
		row, err = r.rows.UpdateRow(ctx, sid, index, values)
		return err
	})
	if err != nil {
		return domain.RepairOrder{}, err
	}
	if row.Values == nil {
		row.Values = values
	}
	row.Index = index
	return r.decode(row), nil
}

// decode разбирает строку и нормализует архивный статус.
func (r *Repository) decode(row Row) domain.RepairOrder {
	order := decodeRow(row.Values)
	order.Key = domain.RowIndex(row.Index)

	status, err := domain.ParseArchiveStatus(string(order.ArchiveStatus))
	if err != nil {
		r.logger.WithFields(log.Fields{
			"row":            row.Index,
			"archive_status": order.ArchiveStatus,
		}).Warn("Unknown archive status in workbook row")
		return order
	}
	order.ArchiveStatus = status
	return order
}
