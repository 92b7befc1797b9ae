package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration for pairchat.
type Config struct {
	// OAuth client registered as a desktop app with the identity provider.
	ClientID     string `env:"GOOGLE_CLIENT_ID"`
	ClientSecret string `env:"GOOGLE_CLIENT_SECRET"`

	// Path of the local state database. Defaults to ~/.pairchat/state.db.
	StatePath string `env:"PAIRCHAT_STATE_PATH"`

	// JSON identity record written by sibling apps. When set, the identity
	// in this file wins over the app-local one and is watched for changes.
	SharedIdentityFile string `env:"SHARED_IDENTITY_FILE"`

	// Name of the chat history document in the app data folder.
	DriveFileName string `env:"DRIVE_FILE_NAME" envDefault:"chat_history.json"`

	// Contacts enrichment. Off by default because it asks for an extra
	// scope during consent.
	EnableContacts bool   `env:"ENABLE_CONTACTS" envDefault:"false"`
	ContactsFile   string `env:"CONTACTS_FILE"`

	// A grant is treated as expired this long before its actual expiry.
	GrantSafetyMargin time.Duration `env:"GRANT_SAFETY_MARGIN" envDefault:"60s"`

	// How long to wait for the identity provider before giving up.
	ProviderReadyTimeout time.Duration `env:"PROVIDER_READY_TIMEOUT" envDefault:"20s"`

	// How long an interactive consent may stay open in the browser.
	ConsentTimeout time.Duration `env:"CONSENT_TIMEOUT" envDefault:"5m"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.EnableContacts && cfg.ContactsFile == "" {
		p, err := DefaultContactsPath()
		if err != nil {
			return nil, err
		}

		cfg.ContactsFile = p
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	// The shared identity watcher compares fsnotify event names against
	// this path, so it has to be absolute and clean.
	for _, p := range []*string{&cfg.StatePath, &cfg.SharedIdentityFile, &cfg.ContactsFile} {
		if *p == "" {
			continue
		}

		abs, err := filepath.Abs(*p)
		if err != nil {
			return nil, fmt.Errorf("resolving %s to absolute path: %w", *p, err)
		}

		*p = abs
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("GOOGLE_CLIENT_ID is required")
	}

	name := strings.TrimSpace(c.DriveFileName)
	if name == "" || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("DRIVE_FILE_NAME must be a plain file name, got %q", c.DriveFileName)
	}

	if c.GrantSafetyMargin < 0 {
		return fmt.Errorf("GRANT_SAFETY_MARGIN must not be negative")
	}

	if c.ProviderReadyTimeout <= 0 {
		return fmt.Errorf("PROVIDER_READY_TIMEOUT must be positive")
	}

	if c.ConsentTimeout <= 0 {
		return fmt.Errorf("CONSENT_TIMEOUT must be positive")
	}

	return nil
}

// DefaultContactsPath returns ~/.pairchat/contacts.yaml.
func DefaultContactsPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".pairchat", "contacts.yaml"), nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
