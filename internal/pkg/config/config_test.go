package config_test

import (
	"strings"
	"testing"

	"github.com/samirrijal/wilusmap/internal/pkg/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("wilusmap-test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Repository.Source != config.SourcePostgres {
		t.Errorf("expected postgres source, got %s", cfg.Repository.Source)
	}
	if cfg.Map.CenterLat != -6.2088 || cfg.Map.Zoom != 6 {
		t.Errorf("unexpected initial view %v/%v", cfg.Map.CenterLat, cfg.Map.Zoom)
	}
	if cfg.Repository.Columns.Organization != "Pemegang Wilus" {
		t.Errorf("unexpected organization column %q", cfg.Repository.Columns.Organization)
	}
	if got := cfg.Repository.AttributeLabels()["UID"]; got != "PLN UID" {
		t.Errorf("expected UID labeled PLN UID, got %q", got)
	}
	if cfg.Map.SessionIdleTTL != 1800 || cfg.Map.MaxSessions != 1000 {
		t.Errorf("unexpected session limits %d/%d", cfg.Map.SessionIdleTTL, cfg.Map.MaxSessions)
	}
	if cfg.Telemetry.ServiceName != "wilusmap-test" {
		t.Errorf("unexpected service name %q", cfg.Telemetry.ServiceName)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("WILUSMAP_REPOSITORY_SOURCE", "supabase")
	t.Setenv("WILUSMAP_SUPABASE_URL", "https://example.supabase.co")
	t.Setenv("WILUSMAP_SUPABASE_ANON_KEY", "anon")
	t.Setenv("WILUSMAP_MAP_CONTAINMENT", "exact")

	cfg, err := config.Load("wilusmap-test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Repository.Source != config.SourceSupabase || cfg.Supabase.AnonKey != "anon" {
		t.Errorf("env not applied: %+v", cfg.Supabase)
	}
	if cfg.Map.Containment != "exact" {
		t.Errorf("expected exact containment, got %s", cfg.Map.Containment)
	}
}

func TestValidate_CollectsErrors(t *testing.T) {
	t.Setenv("WILUSMAP_REPOSITORY_SOURCE", "supabase")
	t.Setenv("WILUSMAP_SERVER_PORT", "0")
	t.Setenv("WILUSMAP_MAP_MAX_SESSIONS", "-1")

	_, err := config.Load("wilusmap-test")
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"server.port", "supabase.url", "supabase.anon_key", "map.max_sessions"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %v", want, err)
		}
	}
}

func TestAttributeLabels(t *testing.T) {
	r := config.RepositoryConfig{AttributeColumns: []string{"UID:PLN UID", "Kode", " :ignored", "Area: "}}
	got := r.AttributeLabels()

	want := map[string]string{"UID": "PLN UID", "Kode": "Kode", "Area": "Area"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s: expected %q, got %q", k, v, got[k])
		}
	}
}
