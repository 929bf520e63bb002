package failover_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Cal9233/genthrust-repairs/internal/domain"
	"github.com/Cal9233/genthrust-repairs/internal/failover"
)

// memRepo — упрощённый репозиторий в памяти с управляемым сбоем.
type memRepo struct {
	mu      sync.Mutex
	backend domain.Backend
	orders  map[string]domain.RepairOrder
	err     error
	calls   int
}

func newMemRepo(backend domain.Backend) *memRepo {
	return &memRepo{backend: backend, orders: map[string]domain.RepairOrder{}}
}

func (r *memRepo) enter() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.err
}

func (r *memRepo) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *memRepo) checkKey(key domain.OrderKey) (string, error) {
	switch k := key.(type) {
	case domain.OrderNumber:
		return string(k), nil
	case domain.RowIndex:
		if r.backend == domain.BackendRelational {
			return "", &domain.IdentifierMismatchError{Backend: r.backend, Key: key}
		}
	case domain.RelationalID:
		if r.backend == domain.BackendWorkbook {
			return "", &domain.IdentifierMismatchError{Backend: r.backend, Key: key}
		}
	}
	return key.String(), nil
}

func (r *memRepo) List(_ context.Context, status domain.ArchiveStatus) ([]domain.RepairOrder, error) {
	if err := r.enter(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.RepairOrder
	for _, o := range r.orders {
		if o.ArchiveStatus == status {
			out = append(out, o)
		}
	}
	return out, nil
}

func (r *memRepo) Get(_ context.Context, key domain.OrderKey) (domain.RepairOrder, error) {
	if err := r.enter(); err != nil {
		return domain.RepairOrder{}, err
	}
	number, err := r.checkKey(key)
	if err != nil {
		return domain.RepairOrder{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[number]
	if !ok {
		return domain.RepairOrder{}, domain.ErrRepairOrderNotFound
	}
	return o, nil
}

func (r *memRepo) Create(_ context.Context, order domain.RepairOrder) (domain.RepairOrder, error) {
	if err := r.enter(); err != nil {
		return domain.RepairOrder{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	order.ArchiveStatus = domain.ArchiveActive
	order.Key = domain.OrderNumber(order.OrderNumber)
	r.orders[order.OrderNumber] = order
	return order, nil
}

func (r *memRepo) Update(ctx context.Context, key domain.OrderKey, patch domain.RepairOrderPatch) (domain.RepairOrder, error) {
	o, err := r.Get(ctx, key)
	if err != nil {
		return domain.RepairOrder{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	o = patch.Apply(o)
	r.orders[o.OrderNumber] = o
	return o, nil
}

func (r *memRepo) UpdateStatus(ctx context.Context, key domain.OrderKey, status string, at time.Time) (domain.RepairOrder, error) {
	return r.Update(ctx, key, domain.StatusPatch(status, at))
}

func (r *memRepo) Delete(ctx context.Context, key domain.OrderKey) error {
	o, err := r.Get(ctx, key)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.orders, o.OrderNumber)
	return nil
}

func (r *memRepo) Archive(ctx context.Context, key domain.OrderKey, target domain.ArchiveStatus) (domain.RepairOrder, error) {
	o, err := r.Get(ctx, key)
	if err != nil {
		return domain.RepairOrder{}, err
	}
	if err := domain.CanTransition(o.ArchiveStatus, target); err != nil {
		return domain.RepairOrder{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	o.ArchiveStatus = target
	r.orders[o.OrderNumber] = o
	return o, nil
}

func (r *memRepo) DashboardStats(context.Context) (domain.DashboardStats, error) {
	if err := r.enter(); err != nil {
		return domain.DashboardStats{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return domain.DashboardStats{TotalActive: len(r.orders), ByStatus: map[string]int{}}, nil
}

type recordedEvents struct {
	mu       sync.Mutex
	archived []string
	deleted  []string
	err      error
}

func (e *recordedEvents) OrderArchived(_ context.Context, order domain.RepairOrder, _ failover.Source) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.archived = append(e.archived, order.OrderNumber)
	return e.err
}

func (e *recordedEvents) OrderDeleted(_ context.Context, key domain.OrderKey, _ failover.Source) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deleted = append(e.deleted, key.String())
	return e.err
}

func newService(t *testing.T) (*failover.Service, *memRepo, *memRepo, *recordedEvents) {
	t.Helper()
	primary := newMemRepo(domain.BackendRelational)
	fallback := newMemRepo(domain.BackendWorkbook)
	events := &recordedEvents{}
	at := time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)
	svc := failover.NewService(failover.NewArbiter(), primary, fallback,
		failover.WithEvents(events),
		failover.WithServiceClock(func() time.Time { return at }))
	return svc, primary, fallback, events
}

func TestService_ArchiveHidesOrderFromActiveList(t *testing.T) {
	svc, _, _, events := newService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, domain.RepairOrder{OrderNumber: "RO-1"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, domain.RepairOrder{OrderNumber: "RO-2"})
	require.NoError(t, err)

	res, err := svc.Archive(ctx, domain.OrderNumber("RO-1"), domain.ArchivePaid)
	require.NoError(t, err)
	require.Equal(t, domain.ArchivePaid, res.Data.ArchiveStatus)
	require.Equal(t, []string{"RO-1"}, events.archived)

	active, err := svc.ListRepairOrders(ctx, domain.ArchiveActive)
	require.NoError(t, err)
	require.Len(t, active.Data, 1)
	require.Equal(t, "RO-2", active.Data[0].OrderNumber)
}

func TestService_ArchiveRejectsActiveTarget(t *testing.T) {
	svc, primary, _, _ := newService(t)

	_, err := svc.Archive(context.Background(), domain.OrderNumber("RO-1"), domain.ArchiveActive)
	require.ErrorIs(t, err, domain.ErrArchiveTransition)
	require.Zero(t, primary.calls)
}

func TestService_FallbackServesWhenPrimaryDown(t *testing.T) {
	svc, primary, fallback, _ := newService(t)
	ctx := context.Background()

	_, err := fallback.Create(ctx, domain.RepairOrder{OrderNumber: "RO-9"})
	require.NoError(t, err)
	primary.fail(errNetwork)

	res, err := svc.GetByID(ctx, domain.OrderNumber("RO-9"))
	require.NoError(t, err)
	require.Equal(t, failover.SourceFallback, res.Source)
	require.True(t, svc.InFallbackMode())

	// Идентификатор реляционного бэкенда не подходит документу.
	_, err = svc.GetByID(ctx, domain.RelationalID("0b3f"))
	require.ErrorIs(t, err, domain.ErrIdentifierMismatch)

	svc.ResetFallbackState()
	require.False(t, svc.InFallbackMode())
}

func TestService_OrderCreatedDuringOutageFoundAfterRecovery(t *testing.T) {
	svc, primary, fallback, events := newService(t)
	ctx := context.Background()

	// Заказ существует только в документе: основной бэкенд отвечает «не найден».
	_, err := fallback.Create(ctx, domain.RepairOrder{OrderNumber: "RO-9"})
	require.NoError(t, err)

	res, err := svc.GetByID(ctx, domain.OrderNumber("RO-9"))
	require.NoError(t, err)
	require.Equal(t, failover.SourceFallback, res.Source)
	require.Equal(t, "RO-9", res.Data.OrderNumber)
	require.True(t, svc.InFallbackMode())
	require.EqualValues(t, 1, svc.Metrics().FailureCount)
	require.Equal(t, 1, primary.calls)

	svc.ResetFallbackState()
	_, err = svc.DeleteByOrderNumber(ctx, "RO-9")
	require.NoError(t, err)
	require.Equal(t, []string{"RO-9"}, events.deleted)
	require.Empty(t, fallback.orders)
}

func TestService_UpdateStatusUsesClock(t *testing.T) {
	svc, _, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, domain.RepairOrder{OrderNumber: "RO-3"})
	require.NoError(t, err)

	res, err := svc.UpdateStatus(ctx, domain.OrderNumber("RO-3"), domain.StatusShipping)
	require.NoError(t, err)
	require.Equal(t, domain.StatusShipping, res.Data.CurrentStatus)
	require.Equal(t, time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC), *res.Data.CurrentStatusDate)
}

func TestService_DeleteByOrderNumber(t *testing.T) {
	svc, _, _, events := newService(t)
	ctx := context.Background()
	events.err = errors.New("broker down")

	_, err := svc.Create(ctx, domain.RepairOrder{OrderNumber: "RO-4"})
	require.NoError(t, err)

	_, err = svc.DeleteByOrderNumber(ctx, "RO-4")
	require.NoError(t, err)
	require.Equal(t, []string{"RO-4"}, events.deleted)

	_, err = svc.DeleteByOrderNumber(ctx, "RO-4")
	require.ErrorIs(t, err, domain.ErrRepairOrderNotFound)

	_, err = svc.DeleteByOrderNumber(ctx, "  ")
	require.ErrorIs(t, err, domain.ErrInvalidKey)
}

func TestService_BothDown(t *testing.T) {
	svc, primary, fallback, _ := newService(t)
	primary.fail(errNetwork)
	fallback.fail(errors.New("session create failed"))

	_, err := svc.GetDashboardStats(context.Background())
	require.True(t, domain.IsBothFailed(err))
	require.EqualValues(t, 1, svc.Metrics().BothFailedCount)

	svc.ResetMetrics()
	require.Zero(t, svc.Metrics().BothFailedCount)
}

func TestService_ListRejectsUnknownStatus(t *testing.T) {
	svc, _, _, _ := newService(t)
	_, err := svc.ListRepairOrders(context.Background(), domain.ArchiveStatus("LOST"))
	require.ErrorIs(t, err, domain.ErrArchiveStatusInvalid)
}
