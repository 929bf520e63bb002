package rosapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Cal9233/genthrust-repairs/internal/domain"
	"github.com/Cal9233/genthrust-repairs/internal/rosapi"
	"github.com/Cal9233/genthrust-repairs/internal/rostable"
	"github.com/Cal9233/genthrust-repairs/internal/storage/memory"
)

var today = time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

func newServer(t *testing.T) (*httptest.Server, *memory.TableStore) {
	t.Helper()
	store := memory.NewTableStore()
	h := rosapi.NewHandler(store, rosapi.WithClock(func() time.Time { return today }))
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return srv, store
}

func do(t *testing.T, method, url string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func decodeRow(t *testing.T, data []byte) rostable.Row {
	t.Helper()
	var row rostable.Row
	require.NoError(t, json.Unmarshal(data, &row))
	return row
}

func TestCreateGetList(t *testing.T) {
	srv, _ := newServer(t)

	resp, body := do(t, http.MethodPost, srv.URL+"/ros", rostable.Row{
		"ro_number":      "RO-1",
		"estimated_cost": 120.0,
		"date_made":      "2026-10-01",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeRow(t, body)
	require.NotEmpty(t, created.ID())

	resp, body = do(t, http.MethodGet, srv.URL+"/ros/"+created.ID()+"?archiveStatus=ACTIVE", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "RO-1", decodeRow(t, body)["ro_number"])

	resp, _ = do(t, http.MethodGet, srv.URL+"/ros/"+created.ID()+"?archiveStatus=PAID", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = do(t, http.MethodGet, srv.URL+"/ros?archiveStatus=active", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rows []rostable.Row
	require.NoError(t, json.Unmarshal(body, &rows))
	require.Len(t, rows, 1)

	resp, _ = do(t, http.MethodPost, srv.URL+"/ros", rostable.Row{"ro_number": "ro-1"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	srv, _ := newServer(t)

	resp, _ := do(t, http.MethodPost, srv.URL+"/ros", rostable.Row{"ro_number": "RO-1", "estimated_cost": -5.0})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, srv.URL+"/ros?archiveStatus=LOST", rostable.Row{"ro_number": "RO-1"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = do(t, http.MethodPost, srv.URL+"/ros", rostable.Row{"notes": "no number"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUpdateAndMove(t *testing.T) {
	srv, store := newServer(t)
	ctx := context.Background()

	created, err := store.Insert(ctx, domain.ArchiveActive, rostable.Row{"ro_number": "RO-2", "shop_name": "Acme"})
	require.NoError(t, err)

	resp, body := do(t, http.MethodPatch, srv.URL+"/ros/"+created.ID()+"?archiveStatus=ACTIVE",
		rostable.Row{"current_status": domain.StatusShipping})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, domain.StatusShipping, decodeRow(t, body)["current_status"])

	resp, body = do(t, http.MethodPatch, srv.URL+"/ros/"+created.ID()+"?archiveStatus=ACTIVE&moveTo=RETURNED",
		rostable.Row{"remarks": "beyond economical repair"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	moved := decodeRow(t, body)
	require.Equal(t, "RO-2", moved["ro_num"])
	require.Equal(t, domain.StatusShipping, moved["last_status"])
	require.Equal(t, "beyond economical repair", moved["remarks"])

	active, err := store.List(ctx, domain.ArchiveActive)
	require.NoError(t, err)
	require.Empty(t, active)

	// Обратного перехода в ACTIVE нет.
	resp, _ = do(t, http.MethodPatch, srv.URL+"/ros/"+created.ID()+"?archiveStatus=RETURNED&moveTo=ACTIVE", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMoveFailureLeavesRowInSource(t *testing.T) {
	srv, store := newServer(t)
	ctx := context.Background()

	created, err := store.Insert(ctx, domain.ArchiveActive, rostable.Row{"ro_number": "RO-3"})
	require.NoError(t, err)
	store.Fail(memory.OpMove, errors.New("disk full"))

	resp, _ := do(t, http.MethodPatch, srv.URL+"/ros/"+created.ID()+"?archiveStatus=ACTIVE&moveTo=PAID", rostable.Row{})
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	_, err = store.Get(ctx, domain.ArchiveActive, created.ID())
	require.NoError(t, err)
	paid, err := store.List(ctx, domain.ArchivePaid)
	require.NoError(t, err)
	require.Empty(t, paid)
}

func TestDeleteByNumberAllTables(t *testing.T) {
	srv, store := newServer(t)
	ctx := context.Background()

	seed := map[domain.ArchiveStatus]rostable.Row{
		domain.ArchiveActive:   {"ro_number": "RO-A"},
		domain.ArchivePaid:     {"ro_no": "RO-P"},
		domain.ArchiveNet:      {"ro_num": "RO-N"},
		domain.ArchiveReturned: {"ro_num": "RO-R"},
	}
	for status, row := range seed {
		_, err := store.Insert(ctx, status, row)
		require.NoError(t, err)
	}

	for status, number := range map[domain.ArchiveStatus]string{
		domain.ArchiveActive:   "RO-A",
		domain.ArchivePaid:     "RO-P",
		domain.ArchiveNet:      "RO-N",
		domain.ArchiveReturned: "RO-R",
	} {
		resp, body := do(t, http.MethodDelete, srv.URL+"/ros/by-number/"+number, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode, number)
		var lookup rosapi.NumberLookup
		require.NoError(t, json.Unmarshal(body, &lookup))
		require.Equal(t, status, lookup.ArchiveStatus)

		resp, _ = do(t, http.MethodDelete, srv.URL+"/ros/by-number/"+number, nil)
		require.Equal(t, http.StatusNotFound, resp.StatusCode, number)
	}
}

func TestFindByNumber(t *testing.T) {
	srv, store := newServer(t)

	_, err := store.Insert(context.Background(), domain.ArchiveNet, rostable.Row{"ro_num": "RO-9"})
	require.NoError(t, err)

	resp, body := do(t, http.MethodGet, srv.URL+"/ros/by-number/ro-9", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var lookup rosapi.NumberLookup
	require.NoError(t, json.Unmarshal(body, &lookup))
	require.Equal(t, domain.ArchiveNet, lookup.ArchiveStatus)
	require.Equal(t, "RO-9", lookup.Row["ro_num"])
}

func TestDashboardOnTrackIncludesUndated(t *testing.T) {
	srv, store := newServer(t)
	ctx := context.Background()

	rows := []rostable.Row{
		{"ro_number": "RO-1", "next_date_to_update": "2026-10-10", "current_status": "APPROVED", "estimated_cost": 100.0},
		{"ro_number": "RO-2", "next_date_to_update": "2026-10-17", "current_status": "APPROVED", "final_cost": 40.0},
		{"ro_number": "RO-3", "next_date_to_update": "2026-11-01", "current_status": "SHIPPING"},
		{"ro_number": "RO-4"},
	}
	for _, row := range rows {
		_, err := store.Insert(ctx, domain.ArchiveActive, row)
		require.NoError(t, err)
	}
	_, err := store.Insert(ctx, domain.ArchivePaid, rostable.Row{"ro_no": "RO-5"})
	require.NoError(t, err)

	resp, body := do(t, http.MethodGet, srv.URL+"/ros/stats/dashboard", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var stats domain.DashboardStats
	require.NoError(t, json.Unmarshal(body, &stats))

	require.Equal(t, 4, stats.TotalActive)
	require.Equal(t, 1, stats.Overdue)
	require.Equal(t, 1, stats.DueToday)
	require.Equal(t, 2, stats.OnTrack)
	require.Equal(t, 1, stats.Paid)
	require.Equal(t, 2, stats.ByStatus["APPROVED"])
	require.Equal(t, 100.0, stats.TotalEstimatedCost)
	require.Equal(t, 40.0, stats.TotalFinalCost)
}

func TestHealth(t *testing.T) {
	srv, store := newServer(t)

	resp, _ := do(t, http.MethodGet, srv.URL+"/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	store.Fail(memory.OpPing, errors.New("down"))
	resp, _ = do(t, http.MethodGet, srv.URL+"/healthz", nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
