package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/fatih/color"
	"github.com/stretchr/testify/require"

	"github.com/Cal9233/genthrust-repairs/internal/messaging/kafka"
)

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

func mapLookup(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Body   string
}

func fakeAPI(t *testing.T, fallback bool) (*httptest.Server, *[]recordedRequest) {
	t.Helper()
	var requests []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		requests = append(requests, recordedRequest{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Body: string(body)})

		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/repair-orders":
			w.Header().Set("X-Data-Source", "workbook")
			_, _ = w.Write([]byte(`[{"orderNumber":"RO-1","shopName":"Acme Aero","partNumber":"PN-9","currentStatus":"RECEIVED","nextUpdateDue":"2026-10-20"}]`))
		case "/api/backend/retry-interval":
			var req struct {
				Interval string `json:"interval"`
			}
			_ = json.Unmarshal(body, &req)
			if req.Interval == "" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"interval must be a positive duration"}`))
				return
			}
			fallthrough
		default:
			active := "relational"
			if fallback {
				active = "workbook"
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"activeBackend": active,
				"fallbackMode":  fallback,
				"metrics": map[string]any{
					"successCount":      10,
					"failureCount":      2,
					"bothFailedCount":   1,
					"lastFailureReason": "connection refused",
					"lastFailureAt":     "2026-10-17T09:00:00Z",
					"retryInterval":     "1m0s",
				},
			})
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &requests
}

func runCLI(t *testing.T, lookup func(string) (string, bool), args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(lookup)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestStatusCommand(t *testing.T) {
	srv, requests := fakeAPI(t, true)

	out, err := runCLI(t, mapLookup(map[string]string{envAPIURL: srv.URL}), "status")
	require.NoError(t, err)
	require.Contains(t, out, "active backend: workbook")
	require.Contains(t, out, "FALLBACK")
	require.Contains(t, out, "primary:        10 ok / 2 failed")
	require.Contains(t, out, "both failed:    1")
	require.Contains(t, out, "last failure:   connection refused (2026-10-17T09:00:00Z)")
	require.Equal(t, "/api/backend/status", (*requests)[0].Path)
}

func TestResetCommand_WithMetrics(t *testing.T) {
	srv, requests := fakeAPI(t, false)

	out, err := runCLI(t, mapLookup(nil), "--url", srv.URL+"/", "reset", "--metrics")
	require.NoError(t, err)
	require.Contains(t, out, "mode:           normal")
	require.Equal(t, http.MethodPost, (*requests)[0].Method)
	require.Equal(t, "/api/backend/reset", (*requests)[0].Path)
	require.Equal(t, "metrics=true", (*requests)[0].Query)
}

func TestRetryIntervalCommand(t *testing.T) {
	srv, requests := fakeAPI(t, false)

	_, err := runCLI(t, mapLookup(nil), "--url", srv.URL, "retry-interval", "30s")
	require.NoError(t, err)
	require.Equal(t, http.MethodPut, (*requests)[0].Method)
	require.JSONEq(t, `{"interval":"30s"}`, (*requests)[0].Body)

	_, err = runCLI(t, mapLookup(nil), "--url", srv.URL, "retry-interval", "-5s")
	require.Error(t, err)
	require.Len(t, *requests, 1)
}

func TestListCommand(t *testing.T) {
	srv, requests := fakeAPI(t, true)

	out, err := runCLI(t, mapLookup(nil), "--url", srv.URL, "list", "--archive-status", "PAID")
	require.NoError(t, err)
	require.Contains(t, out, "source: workbook")
	require.Contains(t, out, "RO-1")
	require.Contains(t, out, "2026-10-20")
	require.Equal(t, "archiveStatus=PAID", (*requests)[0].Query)
}

func TestAPIClient_ErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"both backends failed"}`))
	}))
	defer srv.Close()

	_, err := newAPIClient(srv.URL, time.Second).Status(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "503: both backends failed")
}

func TestEventsCommand_RequiresBrokers(t *testing.T) {
	_, err := runCLI(t, mapLookup(nil), "events")
	require.Error(t, err)
	require.Contains(t, err.Error(), envKafkaBrokers)
}

func TestFormatEvent(t *testing.T) {
	at := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

	backend := kafka.NewBackendEvent(kafka.EventTypeBackendRecovered, "list", at)
	backend.Backend = "relational"
	backend.DowntimeMs = 90_000
	require.Equal(t,
		"2026-10-17T09:00:00Z backend.recovered op=list backend=relational downtime=1m30s",
		formatEvent(kafka.Event{Type: backend.EventType, Backend: backend}))

	order := kafka.NewRepairOrderEvent(kafka.EventTypeOrderArchived, "7", "row", "workbook", at)
	order.OrderNumber = "RO-7"
	order.ArchiveStatus = "PAID"
	require.Equal(t,
		"2026-10-17T09:00:00Z repair_order.archived row=7 source=workbook ro=RO-7 to=PAID",
		formatEvent(kafka.Event{Type: order.EventType, Order: order}))
}

func TestEventPrinter_Handle(t *testing.T) {
	var out bytes.Buffer
	printer := &eventPrinter{out: &out}

	event := kafka.NewBackendEvent(kafka.EventTypeFallbackActivated, "create", time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC))
	event.Reason = "connection refused"
	payload, err := json.Marshal(event)
	require.NoError(t, err)

	err = printer.Handle(context.Background(), &sarama.ConsumerMessage{
		Topic: kafka.TopicBackendEvents,
		Value: payload,
		Headers: []*sarama.RecordHeader{
			{Key: []byte(kafka.HeaderEventType), Value: []byte(kafka.EventTypeFallbackActivated)},
		},
	})
	require.NoError(t, err)

	err = printer.Handle(context.Background(), &sarama.ConsumerMessage{Topic: kafka.TopicBackendEvents, Value: []byte("{}")})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	require.Equal(t, `2026-10-17T09:00:00Z backend.fallback_activated op=create reason="connection refused"`, lines[0])
	require.True(t, strings.HasPrefix(lines[1], "! skip repairs.backend.events/0@0"))
}

func TestSplitBrokers(t *testing.T) {
	require.Equal(t, []string{"a:9092", "b:9092"}, splitBrokers(" a:9092,,b:9092 "))
	require.Nil(t, splitBrokers(""))
}
