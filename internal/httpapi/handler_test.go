package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Cal9233/genthrust-repairs/internal/domain"
	"github.com/Cal9233/genthrust-repairs/internal/failover"
)

type stubService struct {
	source    failover.Source
	recovered bool
	err       error

	orders   []domain.RepairOrder
	lastKey  domain.OrderKey
	lastList domain.ArchiveStatus
	created  domain.RepairOrder
	patch    domain.RepairOrderPatch
	status   string
	target   domain.ArchiveStatus
	deleted  string

	fallback      bool
	resets        int
	metricResets  int
	retryInterval time.Duration
}

func (s *stubService) result(order domain.RepairOrder) (failover.Result[domain.RepairOrder], error) {
	if s.err != nil {
		return failover.Result[domain.RepairOrder]{Source: s.source}, s.err
	}
	return failover.Result[domain.RepairOrder]{Data: order, Source: s.source, Recovered: s.recovered}, nil
}

func (s *stubService) ListRepairOrders(_ context.Context, status domain.ArchiveStatus) (failover.Result[[]domain.RepairOrder], error) {
	s.lastList = status
	if s.err != nil {
		return failover.Result[[]domain.RepairOrder]{}, s.err
	}
	return failover.Result[[]domain.RepairOrder]{Data: s.orders, Source: s.source, Recovered: s.recovered}, nil
}

func (s *stubService) GetByID(_ context.Context, key domain.OrderKey) (failover.Result[domain.RepairOrder], error) {
	s.lastKey = key
	return s.result(domain.RepairOrder{Key: key, OrderNumber: "RO-1", ArchiveStatus: domain.ArchiveActive})
}

func (s *stubService) Create(_ context.Context, order domain.RepairOrder) (failover.Result[domain.RepairOrder], error) {
	s.created = order
	order.Key = domain.RowIndex(3)
	order.ArchiveStatus = domain.ArchiveActive
	return s.result(order)
}

func (s *stubService) Update(_ context.Context, key domain.OrderKey, patch domain.RepairOrderPatch) (failover.Result[domain.RepairOrder], error) {
	s.lastKey, s.patch = key, patch
	return s.result(patch.Apply(domain.RepairOrder{Key: key, OrderNumber: "RO-1"}))
}

func (s *stubService) UpdateStatus(_ context.Context, key domain.OrderKey, status string) (failover.Result[domain.RepairOrder], error) {
	s.lastKey, s.status = key, status
	return s.result(domain.RepairOrder{Key: key, CurrentStatus: status})
}

func (s *stubService) Delete(_ context.Context, key domain.OrderKey) (failover.Result[struct{}], error) {
	s.lastKey = key
	return failover.Result[struct{}]{Source: s.source}, s.err
}

func (s *stubService) DeleteByOrderNumber(_ context.Context, number string) (failover.Result[struct{}], error) {
	s.deleted = number
	return failover.Result[struct{}]{Source: s.source}, s.err
}

func (s *stubService) Archive(_ context.Context, key domain.OrderKey, target domain.ArchiveStatus) (failover.Result[domain.RepairOrder], error) {
	s.lastKey, s.target = key, target
	return s.result(domain.RepairOrder{Key: key, ArchiveStatus: target})
}

func (s *stubService) GetDashboardStats(context.Context) (failover.Result[domain.DashboardStats], error) {
	if s.err != nil {
		return failover.Result[domain.DashboardStats]{}, s.err
	}
	return failover.Result[domain.DashboardStats]{Data: domain.DashboardStats{TotalActive: 4, OnTrack: 2}, Source: s.source}, nil
}

func (s *stubService) InFallbackMode() bool { return s.fallback }

func (s *stubService) Metrics() failover.Metrics {
	return failover.Metrics{InFallbackMode: s.fallback, FailureCount: 2}
}

func (s *stubService) SetRetryInterval(d time.Duration) { s.retryInterval = d }
func (s *stubService) ResetFallbackState()              { s.resets++; s.fallback = false }
func (s *stubService) ResetMetrics()                    { s.metricResets++ }

func serve(t *testing.T, svc Service, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	w := httptest.NewRecorder()
	NewHandler(svc).Router().ServeHTTP(w, req)
	return w
}

func TestHandler_ListSetsDataSource(t *testing.T) {
	svc := &stubService{
		source: failover.SourceFallback,
		orders: []domain.RepairOrder{{Key: domain.RowIndex(0), OrderNumber: "RO-1"}, {Key: domain.RowIndex(1), OrderNumber: "RO-2"}},
	}

	w := serve(t, svc, http.MethodGet, "/api/repair-orders?archiveStatus=paid", nil)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "workbook", w.Header().Get(HeaderDataSource))
	require.Equal(t, domain.ArchivePaid, svc.lastList)

	var orders []RepairOrderDTO
	require.NoError(t, json.NewDecoder(w.Body).Decode(&orders))
	require.Len(t, orders, 2)
	require.Equal(t, domain.KeyKindRowIndex, orders[1].Key.Kind)
	require.Equal(t, "1", orders[1].Key.Value)
}

func TestHandler_ListDefaultsToActive(t *testing.T) {
	svc := &stubService{source: failover.SourcePrimary}
	w := serve(t, svc, http.MethodGet, "/api/repair-orders", nil)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, domain.ArchiveActive, svc.lastList)
	require.Equal(t, "relational", w.Header().Get(HeaderDataSource))
	require.JSONEq(t, "[]", w.Body.String())
}

func TestHandler_ListRejectsUnknownStatus(t *testing.T) {
	w := serve(t, &stubService{}, http.MethodGet, "/api/repair-orders?archiveStatus=LOST", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_GetParsesKeyKind(t *testing.T) {
	cases := []struct {
		target string
		want   domain.OrderKey
	}{
		{"/api/repair-orders/RO-77", domain.OrderNumber("RO-77")},
		{"/api/repair-orders/RO-77?by=number", domain.OrderNumber("RO-77")},
		{"/api/repair-orders/5f1c?by=id", domain.RelationalID("5f1c")},
		{"/api/repair-orders/12?by=row", domain.RowIndex(12)},
	}
	for _, tc := range cases {
		t.Run(tc.target, func(t *testing.T) {
			svc := &stubService{source: failover.SourcePrimary, recovered: true}
			w := serve(t, svc, http.MethodGet, tc.target, nil)
			require.Equal(t, http.StatusOK, w.Code)
			require.Equal(t, tc.want, svc.lastKey)
			require.Equal(t, "true", w.Header().Get(HeaderRecovered))
		})
	}

	w := serve(t, &stubService{}, http.MethodGet, "/api/repair-orders/abc?by=row", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_Create(t *testing.T) {
	svc := &stubService{source: failover.SourcePrimary}
	cost := 120.5
	body := RepairOrderDTO{
		OrderNumber:   " RO-900 ",
		ShopName:      "Acme",
		EstimatedCost: &cost,
		NextUpdateDue: ptr("2026-11-20"),
		DateCreated:   ptr("2026-10-01T13:45:00Z"),
	}

	w := serve(t, svc, http.MethodPost, "/api/repair-orders", body)

	require.Equal(t, http.StatusCreated, w.Code)
	require.Equal(t, "RO-900", svc.created.OrderNumber)
	require.Equal(t, time.Date(2026, 11, 20, 0, 0, 0, 0, time.UTC), *svc.created.NextUpdateDue)

	var got RepairOrderDTO
	require.NoError(t, json.NewDecoder(w.Body).Decode(&got))
	require.Equal(t, "2026-11-20", *got.NextUpdateDue)
	require.Equal(t, "2026-10-01T13:45:00Z", *got.DateCreated)
	require.Equal(t, "ACTIVE", got.ArchiveStatus)
}

func TestHandler_CreateRejectsBadInput(t *testing.T) {
	svc := &stubService{}

	w := serve(t, svc, http.MethodPost, "/api/repair-orders", map[string]any{"orderNumber": "RO-1", "nextUpdateDue": "soon"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(t, svc, http.MethodPost, "/api/repair-orders", map[string]any{"orderNumber": "RO-1", "priority": 1})
	require.Equal(t, http.StatusBadRequest, w.Code)

	svc.err = domain.ErrOrderNumberRequired
	w = serve(t, svc, http.MethodPost, "/api/repair-orders", map[string]any{})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_UpdatePatch(t *testing.T) {
	svc := &stubService{source: failover.SourcePrimary}
	w := serve(t, svc, http.MethodPatch, "/api/repair-orders/abc?by=id", map[string]any{
		"notes":         "waiting for quote",
		"finalCost":     99.0,
		"nextUpdateDue": "2026-12-01",
	})

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, domain.RelationalID("abc"), svc.lastKey)
	require.Equal(t, "waiting for quote", *svc.patch.Notes)
	require.Equal(t, 99.0, *svc.patch.FinalCost)
	require.Nil(t, svc.patch.ShopName)
	require.NotNil(t, svc.patch.NextUpdateDue)
}

func TestHandler_UpdateStatus(t *testing.T) {
	svc := &stubService{source: failover.SourceFallback}
	w := serve(t, svc, http.MethodPut, "/api/repair-orders/RO-5/status", StatusRequest{Status: domain.StatusShipping})

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, domain.StatusShipping, svc.status)
	require.Equal(t, domain.OrderNumber("RO-5"), svc.lastKey)

	w = serve(t, svc, http.MethodPut, "/api/repair-orders/RO-5/status", StatusRequest{})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_Archive(t *testing.T) {
	svc := &stubService{source: failover.SourcePrimary}
	w := serve(t, svc, http.MethodPost, "/api/repair-orders/RO-5/archive", ArchiveRequest{Target: "returned"})

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, domain.ArchiveReturned, svc.target)

	w = serve(t, svc, http.MethodPost, "/api/repair-orders/RO-5/archive", ArchiveRequest{Target: "LOST"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_Delete(t *testing.T) {
	svc := &stubService{source: failover.SourceFallback}

	w := serve(t, svc, http.MethodDelete, "/api/repair-orders/4?by=row", nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, domain.RowIndex(4), svc.lastKey)
	require.Equal(t, "workbook", w.Header().Get(HeaderDataSource))

	w = serve(t, svc, http.MethodDelete, "/api/repair-orders/by-number/RO-31", nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "RO-31", svc.deleted)
}

func TestHandler_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"both failed", &domain.BothFailedError{Operation: "getRepairOrder", FallbackErr: errors.New("timeout")}, http.StatusServiceUnavailable},
		{"not found", domain.ErrRepairOrderNotFound, http.StatusNotFound},
		{"mismatch", &domain.IdentifierMismatchError{Backend: domain.BackendWorkbook, Key: domain.RelationalID("x")}, http.StatusBadRequest},
		{"taken", domain.ErrOrderNumberTaken, http.StatusConflict},
		{"transition", domain.ErrArchiveTransition, http.StatusBadRequest},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := serve(t, &stubService{err: tc.err}, http.MethodGet, "/api/repair-orders/RO-1", nil)
			require.Equal(t, tc.want, w.Code)

			var body map[string]string
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			require.NotEmpty(t, body["error"])
		})
	}
}

func TestHandler_Dashboard(t *testing.T) {
	w := serve(t, &stubService{source: failover.SourcePrimary}, http.MethodGet, "/api/dashboard", nil)

	require.Equal(t, http.StatusOK, w.Code)
	var stats domain.DashboardStats
	require.NoError(t, json.NewDecoder(w.Body).Decode(&stats))
	require.Equal(t, 4, stats.TotalActive)
	require.Equal(t, 2, stats.OnTrack)
}

func TestHandler_BackendStatusAndReset(t *testing.T) {
	svc := &stubService{fallback: true}

	w := serve(t, svc, http.MethodGet, "/api/backend/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var status struct {
		ActiveBackend string           `json:"activeBackend"`
		FallbackMode  bool             `json:"fallbackMode"`
		Metrics       failover.Metrics `json:"metrics"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	require.True(t, status.FallbackMode)
	require.Equal(t, "workbook", status.ActiveBackend)
	require.Equal(t, int64(2), status.Metrics.FailureCount)

	w = serve(t, svc, http.MethodPost, "/api/backend/reset?metrics=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 1, svc.resets)
	require.Equal(t, 1, svc.metricResets)
	require.False(t, svc.fallback)
}

func TestHandler_RetryInterval(t *testing.T) {
	svc := &stubService{}

	w := serve(t, svc, http.MethodPut, "/api/backend/retry-interval", RetryIntervalRequest{Interval: "90s"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 90*time.Second, svc.retryInterval)

	w = serve(t, svc, http.MethodPut, "/api/backend/retry-interval", RetryIntervalRequest{Interval: "-1s"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func ptr(s string) *string { return &s }
