package config

import (
	"os"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatalf("creating temp config: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	f.Close()
	return f.Name()
}

const minimalConduit = `
conduits:
  - name: notes
    source:
      type: folder
      options:
        path: /tmp/a
    sinks:
      - type: folder
        options:
          path: /tmp/b
`

func TestLoad_Valid(t *testing.T) {
	path := writeConfig(t, `
conduits:
  - name: notes
    mode: one-way
    conflict_policy: skip
    missing_policy: ask
    source:
      type: folder
      name: left
      options:
        path: /tmp/a
    sinks:
      - type: folder
        name: right
        options:
          path: /tmp/b
poll_interval: 45s
resolver_workers: 8
store_path: /tmp/rel.db
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Conduits) != 1 {
		t.Fatalf("Conduits len = %d, want 1", len(cfg.Conduits))
	}
	c := cfg.Conduits[0]
	if c.Mode != "one-way" || c.ConflictPolicy != "skip" || c.MissingPolicy != "ask" {
		t.Errorf("conduit settings = %q/%q/%q, want one-way/skip/ask", c.Mode, c.ConflictPolicy, c.MissingPolicy)
	}
	if c.Source.Name != "left" || c.Source.Options["path"] != "/tmp/a" {
		t.Errorf("source = %+v, want name left with path /tmp/a", c.Source)
	}
	if cfg.PollInterval != 45*time.Second {
		t.Errorf("PollInterval = %v, want 45s", cfg.PollInterval)
	}
	if cfg.ResolverWorkers != 8 {
		t.Errorf("ResolverWorkers = %d, want 8", cfg.ResolverWorkers)
	}
	if cfg.StorePath != "/tmp/rel.db" {
		t.Errorf("StorePath = %q, want /tmp/rel.db", cfg.StorePath)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConduit))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c := cfg.Conduits[0]
	if c.Mode != "two-way" {
		t.Errorf("Mode = %q, want default two-way", c.Mode)
	}
	if c.ConflictPolicy != "ask" {
		t.Errorf("ConflictPolicy = %q, want default ask", c.ConflictPolicy)
	}
	if c.MissingPolicy != "replaceUnconditionally" {
		t.Errorf("MissingPolicy = %q, want default replaceUnconditionally", c.MissingPolicy)
	}
	if c.Source.Name != "notes" {
		t.Errorf("Source.Name = %q, want the conduit name", c.Source.Name)
	}
	if c.Sinks[0].Name != "notes-sink0" {
		t.Errorf("Sinks[0].Name = %q, want notes-sink0", c.Sinks[0].Name)
	}
	if cfg.PollInterval != 5*time.Minute {
		t.Errorf("PollInterval = %v, want default 5m", cfg.PollInterval)
	}
	if cfg.ResolverWorkers != 3 {
		t.Errorf("ResolverWorkers = %d, want default 3", cfg.ResolverWorkers)
	}
}

func TestLoad_NoConduits(t *testing.T) {
	if _, err := Load(writeConfig(t, `poll_interval: 1m`)); err == nil {
		t.Fatal("expected error for empty conduits, got nil")
	}
}

func TestLoad_DuplicateConduitName(t *testing.T) {
	_, err := Load(writeConfig(t, `
conduits:
  - name: same
    source: {type: folder}
    sinks: [{type: folder}]
  - name: same
    source: {type: folder}
    sinks: [{type: folder}]
`))
	if err == nil {
		t.Fatal("expected error for duplicate conduit name, got nil")
	}
}

func TestLoad_MissingSinks(t *testing.T) {
	_, err := Load(writeConfig(t, `
conduits:
  - name: notes
    source: {type: folder}
`))
	if err == nil {
		t.Fatal("expected error for missing sinks, got nil")
	}
}

func TestLoad_UnknownMode(t *testing.T) {
	_, err := Load(writeConfig(t, `
conduits:
  - name: notes
    mode: sideways
    source: {type: folder}
    sinks: [{type: folder}]
`))
	if err == nil {
		t.Fatal("expected error for unknown mode, got nil")
	}
}

func TestLoad_UnknownPolicy(t *testing.T) {
	_, err := Load(writeConfig(t, `
conduits:
  - name: notes
    conflict_policy: merge
    source: {type: folder}
    sinks: [{type: folder}]
`))
	if err == nil {
		t.Fatal("expected error for unknown policy, got nil")
	}
}

func TestLoad_PollIntervalTooShort(t *testing.T) {
	if _, err := Load(writeConfig(t, minimalConduit+"poll_interval: 2s\n")); err == nil {
		t.Fatal("expected error for too-short poll_interval, got nil")
	}
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	if _, err := Load(writeConfig(t, minimalConduit+"surprise: true\n")); err == nil {
		t.Fatal("expected error for unknown key, got nil")
	}
}

func TestLoad_LogBlockRequiresPath(t *testing.T) {
	if _, err := Load(writeConfig(t, minimalConduit+"log: {max_size_mb: 5}\n")); err == nil {
		t.Fatal("expected error for log block without path, got nil")
	}
}

func TestLoad_TelemetryRequiresEndpoint(t *testing.T) {
	if _, err := Load(writeConfig(t, minimalConduit+"telemetry: {insecure: true}\n")); err == nil {
		t.Fatal("expected error for telemetry block without endpoint, got nil")
	}
}

func TestLoad_TelemetryDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConduit+`telemetry: {otlp_endpoint: "localhost:4317"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Telemetry.ServiceName != "pairsync" {
		t.Errorf("ServiceName = %q, want default pairsync", cfg.Telemetry.ServiceName)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}
