// Package config loads echovaultd settings from config.toml, an optional
// .env file and the process environment, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config represents <home>/config.toml.
type Config struct {
	HTTPAddr  string `toml:"http_addr" validate:"required"`
	AppDomain string `toml:"app_domain" validate:"required"`
	PublicURL string `toml:"public_url" validate:"omitempty,url"`
	Debug     bool   `toml:"debug"`

	Database Database `toml:"database"`
	Auth     Auth     `toml:"auth"`
	Twilio   Twilio   `toml:"twilio"`
	Email    Email    `toml:"email"`
	WhatsApp WhatsApp `toml:"whatsapp"`
	Storage  Storage  `toml:"storage"`
	Workers  Workers  `toml:"workers"`
}

// Database selects the store driver.
type Database struct {
	Driver string `toml:"driver" validate:"oneof=sqlite3 pgx"`
	DSN    string `toml:"dsn"`
}

// Auth configures API authentication.
type Auth struct {
	JWTSecret      string   `toml:"jwt_secret"`
	ServiceRoleKey string   `toml:"service_role_key"`
	AnonKey        string   `toml:"anon_key"`
	AdminEmails    []string `toml:"admin_emails" validate:"dive,email"`
	// PublicRatePerMinute limits the unauthenticated secure-message endpoint per client IP.
	PublicRatePerMinute int `toml:"public_rate_per_minute" validate:"gte=0"`
}

// Twilio holds the SMS / WhatsApp provider credentials.
type Twilio struct {
	AccountSID          string `toml:"account_sid"`
	AuthToken           string `toml:"auth_token"`
	MessagingServiceSID string `toml:"messaging_service_sid"`
	WhatsAppNumber      string `toml:"whatsapp_number"`
	BaseURL             string `toml:"base_url" validate:"omitempty,url"`
}

// Enabled reports whether SMS can be sent.
func (t Twilio) Enabled() bool {
	return t.AccountSID != "" && t.AuthToken != "" && t.MessagingServiceSID != ""
}

// Email configures the transactional email HTTP API.
type Email struct {
	APIURL string `toml:"api_url" validate:"omitempty,url"`
	APIKey string `toml:"api_key"`
	From   string `toml:"from"`
}

// Enabled reports whether email can be sent.
func (e Email) Enabled() bool {
	return e.APIURL != "" && e.APIKey != ""
}

// WhatsApp toggles the linked-device channel.
type WhatsApp struct {
	Direct bool `toml:"direct"`
}

// Storage selects where attachments live.
type Storage struct {
	Backend         string `toml:"backend" validate:"oneof=local gcs"`
	Bucket          string `toml:"bucket" validate:"required_if=Backend gcs"`
	CredentialsFile string `toml:"credentials_file"`
	MaxUploadMB     int    `toml:"max_upload_mb" validate:"gte=1"`
}

// Workers tunes the background loops.
type Workers struct {
	EvaluateInterval     Duration `toml:"evaluate_interval"`
	ReminderInterval     Duration `toml:"reminder_interval"`
	OutboxInterval       Duration `toml:"outbox_interval"`
	OutboxMaxAttempts    int      `toml:"outbox_max_attempts" validate:"gte=1"`
	OutboxRetryDelay     Duration `toml:"outbox_retry_delay"`
	TestEmailParallelism int      `toml:"test_email_parallelism" validate:"gte=1"`
}

// Duration is a time.Duration that reads as a TOML string like "30s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the built-in settings for a home directory.
func Default(home string) *Config {
	return &Config{
		HTTPAddr:  ":8080",
		AppDomain: "localhost:8080",
		Database: Database{
			Driver: "sqlite3",
			DSN:    filepath.Join(home, "echovault.db"),
		},
		Auth: Auth{
			PublicRatePerMinute: 30,
		},
		Twilio: Twilio{
			BaseURL: "https://api.twilio.com",
		},
		Storage: Storage{
			Backend:     "local",
			MaxUploadMB: 100,
		},
		Workers: Workers{
			EvaluateInterval:     Duration{30 * time.Second},
			ReminderInterval:     Duration{time.Minute},
			OutboxInterval:       Duration{2 * time.Second},
			OutboxMaxAttempts:    3,
			OutboxRetryDelay:     Duration{30 * time.Second},
			TestEmailParallelism: 4,
		},
	}
}

// Load builds the configuration for home. A missing config file or .env is
// not an error; a malformed one is.
func Load(home, path string) (*Config, error) {
	cfg := Default(home)
	if path == "" {
		path = filepath.Join(home, "config.toml")
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	envPath := filepath.Join(home, ".env")
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", envPath, err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables on top of file values.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"HTTP_ADDR":                      &c.HTTPAddr,
		"APP_DOMAIN":                     &c.AppDomain,
		"SUPABASE_URL":                   &c.PublicURL,
		"DATABASE_DRIVER":                &c.Database.Driver,
		"DATABASE_URL":                   &c.Database.DSN,
		"SUPABASE_JWT_SECRET":            &c.Auth.JWTSecret,
		"SUPABASE_SERVICE_ROLE_KEY":      &c.Auth.ServiceRoleKey,
		"SUPABASE_ANON_KEY":              &c.Auth.AnonKey,
		"TWILIO_ACCOUNT_SID":             &c.Twilio.AccountSID,
		"TWILIO_AUTH_TOKEN":              &c.Twilio.AuthToken,
		"TWILIO_MESSAGING_SERVICE_SID":   &c.Twilio.MessagingServiceSID,
		"TWILIO_WHATSAPP_NUMBER":         &c.Twilio.WhatsAppNumber,
		"EMAIL_API_URL":                  &c.Email.APIURL,
		"EMAIL_API_KEY":                  &c.Email.APIKey,
		"EMAIL_FROM":                     &c.Email.From,
		"STORAGE_BACKEND":                &c.Storage.Backend,
		"STORAGE_BUCKET":                 &c.Storage.Bucket,
		"GOOGLE_APPLICATION_CREDENTIALS": &c.Storage.CredentialsFile,
	}
	for key, dst := range str {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	if v, ok := lookup("ADMIN_EMAILS"); ok && v != "" {
		c.Auth.AdminEmails = nil
		for e := range strings.SplitSeq(v, ",") {
			if e = strings.TrimSpace(e); e != "" {
				c.Auth.AdminEmails = append(c.Auth.AdminEmails, e)
			}
		}
	}
	for key, dst := range map[string]*bool{
		"WHATSAPP_DIRECT": &c.WhatsApp.Direct,
		"ECHOVAULT_DEBUG": &c.Debug,
	} {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = b
		}
	}
	return nil
}

// Validate checks the struct tags.
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
