package main

import (
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"

	"github.com/Cal9233/genthrust-repairs/internal/app"
)

func mapLookup(values map[string]string) app.LookupFunc {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestReadConfig_FromEnv(t *testing.T) {
	cfg, warnings, err := readConfig(nil, mapLookup(map[string]string{
		app.EnvWorkbookURL: "http://workbook:8081",
		app.EnvHTTPAddr:    ":18080",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", warnings)
	}
	if cfg.HTTPAddr != ":18080" {
		t.Fatalf("unexpected http addr: %s", cfg.HTTPAddr)
	}
	if cfg.Workbook.BaseURL != "http://workbook:8081" {
		t.Fatalf("unexpected workbook url: %s", cfg.Workbook.BaseURL)
	}
}

func TestReadConfig_ConfigFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "repairs.yaml")
	if err := os.WriteFile(path, []byte("workbook:\n  base_url: http://file:8081\nlog_level: debug\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, err := readConfig([]string{"--config", path}, mapLookup(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Workbook.BaseURL != "http://file:8081" {
		t.Fatalf("unexpected workbook url: %s", cfg.Workbook.BaseURL)
	}
	if parseLevel(cfg.LogLevel) != log.DebugLevel {
		t.Fatalf("unexpected log level: %s", cfg.LogLevel)
	}
}

func TestReadConfig_MissingWorkbookURL(t *testing.T) {
	if _, _, err := readConfig(nil, mapLookup(nil)); err == nil {
		t.Fatal("expected validation error without workbook url")
	}
}

func TestReadConfig_UnknownFlag(t *testing.T) {
	if _, _, err := readConfig([]string{"--bogus"}, mapLookup(nil)); err == nil {
		t.Fatal("expected error for unknown flag")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]log.Level{
		"":        log.InfoLevel,
		"warn":    log.WarnLevel,
		" DEBUG ": log.DebugLevel,
		"chatty":  log.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
