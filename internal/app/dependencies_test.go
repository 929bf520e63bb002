package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/Cal9233/genthrust-repairs/internal/domain"
	"github.com/Cal9233/genthrust-repairs/internal/failover"
	healthcheck "github.com/Cal9233/genthrust-repairs/internal/health"
	"github.com/Cal9233/genthrust-repairs/internal/httpapi"
	"github.com/Cal9233/genthrust-repairs/internal/rosapi"
	"github.com/Cal9233/genthrust-repairs/internal/storage/memory"
	"github.com/Cal9233/genthrust-repairs/internal/workbook/workbooktest"
)

type backends struct {
	store    *memory.TableStore
	workbook *workbooktest.Server
	cfg      Config
}

func newBackends(t *testing.T) backends {
	t.Helper()
	store := memory.NewTableStore()
	ros := httptest.NewServer(rosapi.NewHandler(store).Router())
	t.Cleanup(ros.Close)

	wb := workbooktest.NewServer("RepairTable")
	t.Cleanup(wb.Close)

	cfg := DefaultConfig()
	cfg.Relational.BaseURL = ros.URL
	cfg.Relational.Timeout = 2 * time.Second
	cfg.Workbook.BaseURL = wb.URL
	cfg.Workbook.Timeout = 2 * time.Second
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.Retry.MaxDelay = 5 * time.Millisecond
	cfg.Retry.MaxAttempts = 2
	cfg.FailoverRetryInterval = time.Hour

	return backends{store: store, workbook: wb, cfg: cfg}
}

func newTestDependencies(t *testing.T, cfg Config) *Dependencies {
	t.Helper()
	deps, err := NewDependencies(context.Background(), cfg, prometheus.NewRegistry(), log.WithField("test", "app"))
	require.NoError(t, err)
	t.Cleanup(deps.Close)
	return deps
}

func TestNewDependencies_InvalidConfig(t *testing.T) {
	_, err := NewDependencies(context.Background(), DefaultConfig(), prometheus.NewRegistry(), nil)
	require.Error(t, err)
}

func TestNewDependencies_WithoutKafka(t *testing.T) {
	b := newBackends(t)
	deps := newTestDependencies(t, b.cfg)

	require.Nil(t, deps.Notifier)
	require.NotNil(t, deps.Service)
	require.Equal(t, []string{"backends", "mode", "relational", "workbook"}, deps.Health.Names())
}

func TestNewDependencies_PrimaryServesWhileHealthy(t *testing.T) {
	b := newBackends(t)
	deps := newTestDependencies(t, b.cfg)
	ctx := context.Background()

	created, err := deps.Service.Create(ctx, domain.RepairOrder{OrderNumber: "RO-100", ShopName: "Acme Aero"})
	require.NoError(t, err)
	require.Equal(t, failover.SourcePrimary, created.Source)
	require.Equal(t, "RO-100", created.Data.OrderNumber)

	list, err := deps.Service.ListRepairOrders(ctx, domain.ArchiveActive)
	require.NoError(t, err)
	require.Equal(t, failover.SourcePrimary, list.Source)
	require.Len(t, list.Data, 1)
	require.False(t, deps.Service.InFallbackMode())
	require.Zero(t, b.workbook.Stats().SessionsCreated)
}

func TestNewDependencies_FallsBackToWorkbook(t *testing.T) {
	b := newBackends(t)
	b.workbook.SetRows([][]any{
		{"RO-7", "", "Shop", "PN-1", "SN-1", "Valve", "Overhaul", "", 100, "", "", "RECEIVED", "", "", "", "", ""},
	})
	deps := newTestDependencies(t, b.cfg)
	ctx := context.Background()

	b.store.Fail(memory.OpList, errors.New("database is down"))

	list, err := deps.Service.ListRepairOrders(ctx, domain.ArchiveActive)
	require.NoError(t, err)
	require.Equal(t, failover.SourceFallback, list.Source)
	require.True(t, deps.Service.InFallbackMode())
	metrics := deps.Service.Metrics()
	require.EqualValues(t, 1, metrics.FailureCount)
	require.EqualValues(t, 1, metrics.FallbackSuccessCount)
	require.Len(t, list.Data, 1)
	require.Equal(t, "RO-7", list.Data[0].OrderNumber)

	// Все сессии документа закрыты после операции.
	require.Zero(t, b.workbook.OpenSessions())
}

func TestNewDependencies_BothBackendsFail(t *testing.T) {
	b := newBackends(t)
	deps := newTestDependencies(t, b.cfg)

	b.store.Fail(memory.OpList, errors.New("database is down"))
	unavailable := []int{http.StatusServiceUnavailable, http.StatusServiceUnavailable, http.StatusServiceUnavailable, http.StatusServiceUnavailable}
	b.workbook.FailStatus(workbooktest.OpCreateSession, unavailable...)

	_, err := deps.Service.ListRepairOrders(context.Background(), domain.ArchiveActive)
	require.Error(t, err)
	require.True(t, domain.IsBothFailed(err))
}

func TestNewDependencies_MonitorFeedsHealth(t *testing.T) {
	b := newBackends(t)
	deps := newTestDependencies(t, b.cfg)
	ctx := context.Background()

	results := deps.Monitor.ProbeAll(ctx)
	require.NoError(t, results[domain.BackendRelational])
	require.NoError(t, results[domain.BackendWorkbook])
	require.Equal(t, healthcheck.StatusHealthy, deps.Health.Report().Status)

	b.store.Fail(memory.OpPing, errors.New("database is down"))
	results = deps.Monitor.ProbeAll(ctx)
	require.Error(t, results[domain.BackendRelational])

	report := deps.Health.Report()
	require.Equal(t, healthcheck.StatusDegraded, report.Status)
	require.Equal(t, healthcheck.StatusUnhealthy, report.Checks["relational"].Status)

	b.workbook.FailStatus(workbooktest.OpProbe, http.StatusServiceUnavailable, http.StatusServiceUnavailable)
	deps.Monitor.ProbeAll(ctx)
	require.Equal(t, healthcheck.StatusUnhealthy, deps.Health.Report().Status)
}

func TestHTTPFacade_DataSourceHeaderFollowsFailover(t *testing.T) {
	b := newBackends(t)
	b.cfg.FailoverRetryInterval = time.Millisecond
	deps := newTestDependencies(t, b.cfg)

	api := httptest.NewServer(httpapi.NewHandler(deps.Service).Router())
	t.Cleanup(api.Close)

	post := func(number string) *http.Response {
		t.Helper()
		resp, err := http.Post(api.URL+"/api/repair-orders", "application/json",
			strings.NewReader(`{"orderNumber":"`+number+`","shopName":"Acme Aero"}`))
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	resp := post("RO-1")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, "relational", resp.Header.Get("X-Data-Source"))

	b.store.Fail(memory.OpInsert, errors.New("database is down"))
	resp = post("RO-2")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, "workbook", resp.Header.Get("X-Data-Source"))
	require.Len(t, b.workbook.Rows(), 1)

	b.store.Fail(memory.OpInsert, nil)
	time.Sleep(5 * time.Millisecond)
	resp = post("RO-3")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, "relational", resp.Header.Get("X-Data-Source"))
	require.Equal(t, "true", resp.Header.Get("X-Backend-Recovered"))

	statusResp, err := http.Get(api.URL + "/api/backend/status")
	require.NoError(t, err)
	defer statusResp.Body.Close()
	var status httpapi.BackendStatus
	require.NoError(t, json.NewDecoder(statusResp.Body).Decode(&status))
	require.False(t, status.FallbackMode)
	require.Equal(t, domain.BackendRelational, status.ActiveBackend)
}
