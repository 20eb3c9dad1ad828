package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_HistoryWindow(t *testing.T) {
	cfg := Defaults()
	cfg.General.HistoryWindow = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for historyWindow=0")
	}

	cfg = Defaults()
	cfg.General.HistoryWindow = 999
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for historyWindow=999")
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := Defaults()
	cfg.Channels.Webhook.Port = -1
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for negative port")
	}

	cfg.Channels.Webhook.Port = 70000
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for port > 65535")
	}
}

func TestValidate_UnknownPlatformPolicy(t *testing.T) {
	cfg := Defaults()
	cfg.Policies["myspace"] = PolicyConfig{Enabled: true, MaxResponseLength: 100}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown platform")
	}
}

func TestValidate_InvalidStyle(t *testing.T) {
	cfg := Defaults()
	pol := cfg.Policies["slack"]
	pol.Style = "shouty"
	cfg.Policies["slack"] = pol
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for invalid style")
	}
}

func TestValidate_FailoverChainUnknownProvider(t *testing.T) {
	cfg := Defaults()
	cfg.General.FailoverChain = []string{"nonexistent"}
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown failover provider")
	}
}

// --- Load / Save ---

func TestLoadSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := Defaults()
	cfg.General.OwnerName = "Alex Chen"
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.General.OwnerName != "Alex Chen" {
		t.Errorf("expected Alex Chen, got %s", loaded.General.OwnerName)
	}
	if loaded.Policies["email"].ApprovalRequired != true {
		t.Error("email default policy should require approval")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

// --- Env expansion ---

func TestExpandEnvVars_Set(t *testing.T) {
	os.Setenv("STANDIN_TEST_TOKEN", "tok-123")
	defer os.Unsetenv("STANDIN_TEST_TOKEN")

	out := ExpandEnvVars(`{"token":"${STANDIN_TEST_TOKEN}"}`)
	if out != `{"token":"tok-123"}` {
		t.Errorf("unexpected expansion: %s", out)
	}
}

func TestExpandEnvVars_Default(t *testing.T) {
	os.Unsetenv("STANDIN_TEST_UNSET")
	out := ExpandEnvVars(`${STANDIN_TEST_UNSET:-fallback}`)
	if out != "fallback" {
		t.Errorf("expected fallback, got %s", out)
	}
}

func TestExpandEnvVars_UnsetNoDefault(t *testing.T) {
	os.Unsetenv("STANDIN_TEST_UNSET")
	out := ExpandEnvVars(`${STANDIN_TEST_UNSET}`)
	if out != "${STANDIN_TEST_UNSET}" {
		t.Errorf("expected original kept, got %s", out)
	}
}

// --- FlexStringList ---

func TestFlexStringList_Mixed(t *testing.T) {
	var f FlexStringList
	if err := json.Unmarshal([]byte(`["123", 456]`), &f); err != nil {
		t.Fatal(err)
	}
	if len(f) != 2 || f[0] != "123" || f[1] != "456" {
		t.Errorf("unexpected result: %v", f)
	}
}

// --- Accessor ---

func TestGetByPath(t *testing.T) {
	cfg := Defaults()
	v, err := GetByPath(cfg, "general.historyWindow")
	if err != nil {
		t.Fatal(err)
	}
	if v.(float64) != 20 {
		t.Errorf("expected 20, got %v", v)
	}
}

func TestSetByPath(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "general.ownerName", "Sam"); err != nil {
		t.Fatal(err)
	}
	if cfg.General.OwnerName != "Sam" {
		t.Errorf("expected Sam, got %s", cfg.General.OwnerName)
	}
}

func TestGetByPath_Missing(t *testing.T) {
	cfg := Defaults()
	if _, err := GetByPath(cfg, "general.nope"); err == nil {
		t.Fatal("expected error for missing key")
	}
}
