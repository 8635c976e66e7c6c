package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AUTH_TOKEN", "secret")
	t.Setenv("DB_DSN", "")
	t.Setenv("DATA_DIR", "")
	t.Setenv("BIND_ADDRESS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.DBDsn == "" {
		t.Error("expected default DB_DSN")
	}
	if cfg.DataDir != "data" {
		t.Errorf("DataDir = %q, want default %q", cfg.DataDir, "data")
	}
	if cfg.BindAddress == "" {
		t.Error("expected default BindAddress")
	}
}

func TestLoadRequiresAuthToken(t *testing.T) {
	t.Setenv("AUTH_TOKEN", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when AUTH_TOKEN is missing")
	}
}

func TestValidateEncryptionReady(t *testing.T) {
	cfg := &BootConfig{}
	if err := cfg.ValidateEncryptionReady(); err == nil {
		t.Fatal("expected error when ENCRYPTION_KEY is missing")
	}
	cfg.EncryptionKey = "key"
	if err := cfg.ValidateEncryptionReady(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestDisableCredentialRefreshFlag(t *testing.T) {
	t.Setenv("AUTH_TOKEN", "secret")
	t.Setenv("DISABLE_CREDENTIAL_REFRESH", "true")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !cfg.DisableCredentialRefresh {
		t.Error("expected DisableCredentialRefresh to be true")
	}
}
