package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	home := t.TempDir()
	path := filepath.Join(home, "config.toml")

	cfg := Default(home)
	cfg.AppDomain = "vault.example.com"
	cfg.Workers.EvaluateInterval = Duration{45 * time.Second}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(home, path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.AppDomain != "vault.example.com" {
		t.Errorf("AppDomain = %q, want vault.example.com", loaded.AppDomain)
	}
	if loaded.Workers.EvaluateInterval.Duration != 45*time.Second {
		t.Errorf("EvaluateInterval = %s, want 45s", loaded.Workers.EvaluateInterval)
	}
}

func TestLoadMissingUsesDefaults(t *testing.T) {
	home := t.TempDir()
	cfg, err := Load(home, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Driver != "sqlite3" || cfg.Database.DSN != filepath.Join(home, "echovault.db") {
		t.Errorf("database = %+v", cfg.Database)
	}
	if cfg.Workers.OutboxMaxAttempts != 3 {
		t.Errorf("OutboxMaxAttempts = %d, want 3", cfg.Workers.OutboxMaxAttempts)
	}
}

func TestLoadMalformed(t *testing.T) {
	home := t.TempDir()
	path := filepath.Join(home, "config.toml")
	if err := os.WriteFile(path, []byte("http_addr = [broken"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(home, path); err == nil {
		t.Error("Load() expected error for malformed file")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	home := t.TempDir()
	cfg := Default(home)
	cfg.AppDomain = "from-file.example.com"
	if err := Save(filepath.Join(home, "config.toml"), cfg); err != nil {
		t.Fatal(err)
	}

	t.Setenv("APP_DOMAIN", "from-env.example.com")
	t.Setenv("TWILIO_ACCOUNT_SID", "AC123")
	t.Setenv("ADMIN_EMAILS", "a@example.com, b@example.com")
	t.Setenv("WHATSAPP_DIRECT", "true")

	loaded, err := Load(home, "")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.AppDomain != "from-env.example.com" {
		t.Errorf("AppDomain = %q", loaded.AppDomain)
	}
	if loaded.Twilio.AccountSID != "AC123" {
		t.Errorf("AccountSID = %q", loaded.Twilio.AccountSID)
	}
	if len(loaded.Auth.AdminEmails) != 2 || loaded.Auth.AdminEmails[1] != "b@example.com" {
		t.Errorf("AdminEmails = %v", loaded.Auth.AdminEmails)
	}
	if !loaded.WhatsApp.Direct {
		t.Error("WhatsApp.Direct not set from env")
	}
}

func TestDotEnvLoaded(t *testing.T) {
	home := t.TempDir()
	if err := os.WriteFile(filepath.Join(home, ".env"), []byte("EMAIL_FROM=vault@example.com\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("EMAIL_FROM", "")
	_ = os.Unsetenv("EMAIL_FROM")

	cfg, err := Load(home, "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Email.From != "vault@example.com" {
		t.Errorf("Email.From = %q, want value from .env", cfg.Email.From)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default(t.TempDir())
	cfg.Storage.Backend = "gcs"
	if err := cfg.Validate(); err == nil {
		t.Error("gcs backend without bucket should fail")
	}

	cfg = Default(t.TempDir())
	cfg.Database.Driver = "mysql"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown driver should fail")
	}

	cfg = Default(t.TempDir())
	if err := cfg.applyEnv(func(k string) (string, bool) {
		if k == "WHATSAPP_DIRECT" {
			return "maybe", true
		}
		return "", false
	}); err == nil {
		t.Error("non-boolean WHATSAPP_DIRECT should fail")
	}
}

func TestSavePermissions(t *testing.T) {
	home := t.TempDir()
	path := filepath.Join(home, "config.toml")

	if err := Save(path, Default(home)); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
