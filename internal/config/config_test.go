package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Sandbox.Connector != "docker" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.Scheduler.PollInterval != time.Second || cfg.Sandbox.MaxAttempts != 1 || !cfg.Sandbox.ForceCancel {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.Sandbox.ApplyResourceLimits {
		t.Error("resource limits should be off by default")
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "custom.yaml")
	yaml := `
server:
  listen: ":9000"
scheduler:
  global_max: 4
  poll_interval: 250ms
  by_connector:
    localexec: 2
sandbox:
  connector: localexec
  allowed_commands: [sh, cat]
  apply_resource_limits: true
log:
  format: json
`
	if err := os.WriteFile(path, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TESD_LOG_LEVEL", "debug")
	t.Setenv("TESD_SCHEDULER_GLOBAL_MAX", "6")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Listen != ":9000" || cfg.Sandbox.Connector != "localexec" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Scheduler.PollInterval != 250*time.Millisecond || cfg.Scheduler.ByConnector["localexec"] != 2 {
		t.Errorf("scheduler = %+v", cfg.Scheduler)
	}
	if len(cfg.Sandbox.AllowedCommands) != 2 || !cfg.Sandbox.ApplyResourceLimits {
		t.Errorf("allowed commands = %v", cfg.Sandbox.AllowedCommands)
	}
	if cfg.Log.Level != "debug" || cfg.Scheduler.GlobalMax != 6 {
		t.Errorf("env overrides not applied: log=%+v max=%d", cfg.Log, cfg.Scheduler.GlobalMax)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("TESD_SERVICE_NAME=from-dotenv\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TESD_SERVICE_NAME", "")
	os.Unsetenv("TESD_SERVICE_NAME")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Service.Name != "from-dotenv" {
		t.Errorf("service.name = %q", cfg.Service.Name)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	t.Chdir(t.TempDir())
	if _, err := Load("/nonexistent/tesd.yaml"); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.Database.Driver = "oracle"
	cfg.Scheduler.GlobalMax = 0
	cfg.Sandbox.Connector = "k8s"
	cfg.Storage.S3.Endpoint = "minio:9000"

	err = cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"database.driver", "global_max", "sandbox.connector", "storage.s3"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}
