package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
)

func mapLookup(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
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

func TestStoreOptions_Resolve(t *testing.T) {
	opts := storeOptions{}
	err := opts.resolve(mapLookup(map[string]string{envDriver: " SQLite ", envDSN: " file.db "}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.driver != driverSQLite || opts.dsn != "file.db" {
		t.Fatalf("unexpected options: %+v", opts)
	}

	opts = storeOptions{driver: "memory"}
	if err := opts.resolve(mapLookup(nil)); err != nil {
		t.Fatalf("memory driver needs no dsn: %v", err)
	}

	opts = storeOptions{}
	if err := opts.resolve(mapLookup(nil)); err == nil || !strings.Contains(err.Error(), envDSN) {
		t.Fatalf("expected dsn error for default postgres driver, got %v", err)
	}

	opts = storeOptions{driver: "oracle"}
	if err := opts.resolve(mapLookup(nil)); err == nil {
		t.Fatal("expected unsupported driver error")
	}
}

func TestAPIRouter_MemoryStore(t *testing.T) {
	store, closer, err := openStore(context.Background(), storeOptions{driver: driverMemory}, true)
	if err != nil {
		t.Fatalf("open memory store: %v", err)
	}
	defer closer.Close()

	srv := httptest.NewServer(newAPIRouter(store, log.WithField("test", "ros-api")))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /api/healthz, got %d", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz without prefix: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 outside /api, got %d", resp.StatusCode)
	}
}

func TestMigrateCommands_SQLite(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "ros.db")
	args := []string{"--driver", "sqlite", "--dsn", dsn}

	out, err := runCLI(t, mapLookup(nil), append([]string{"migrate", "up"}, args...)...)
	if err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	if !strings.Contains(out, "migrate up ok: version=2 applied=2") {
		t.Fatalf("unexpected up output: %q", out)
	}

	out, err = runCLI(t, mapLookup(nil), append([]string{"migrate", "down"}, args...)...)
	if err != nil {
		t.Fatalf("migrate down: %v", err)
	}
	if !strings.Contains(out, "migrate down ok: version=1 applied=1") {
		t.Fatalf("unexpected down output: %q", out)
	}

	out, err = runCLI(t, mapLookup(map[string]string{envDriver: "sqlite", envDSN: dsn}), "migrate", "status")
	if err != nil {
		t.Fatalf("migrate status: %v", err)
	}
	if !strings.Contains(out, "migration status: version=1 applied=1 pending=1") ||
		!strings.Contains(out, "pending 0002_next_update_index") {
		t.Fatalf("unexpected status output: %q", out)
	}
}

func TestMigrateCommands_MemoryRejected(t *testing.T) {
	if _, err := runCLI(t, mapLookup(nil), "migrate", "up", "--driver", "memory"); err == nil {
		t.Fatal("expected error for memory driver")
	}
}
