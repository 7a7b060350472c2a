package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// === DATABASE ===

type DatabaseConfig struct {
	Path        string `json:"path"`
	JournalMode string `json:"journal_mode"`
	Synchronous string `json:"synchronous"`
}

// === INGEST API ===

// IngestConfig covers both sides of the observation delivery contract: the
// HTTP endpoint the correlator listens on and the candidate base URLs an
// out-of-process engine tries in order.
type IngestConfig struct {
	ListenAddr     string   `json:"listen_addr"`
	SecretKey      string   `json:"secret_key"`
	TokenHeader    string   `json:"token_header"`
	UpstreamURLs   []string `json:"upstream_urls"`
	TimeoutSeconds int      `json:"timeout_seconds"`
}

// Token returns the shared honeypot token derived from the secret key.
func (c *IngestConfig) Token() string {
	if len(c.SecretKey) > 16 {
		return c.SecretKey[:16]
	}
	return c.SecretKey
}

// === HONEYPOT ENGINES ===

type SSHConfig struct {
	Enabled    bool   `json:"enabled"`
	ListenAddr string `json:"listen_addr"`
	HoneypotID string `json:"honeypot_id"`
	Banner     string `json:"banner"`
	HostKeyDir string `json:"host_key_dir"`
	// AllowAnonShell accepts "none" authentication so session channels open
	// and commands can be captured. Password and publickey always fail.
	AllowAnonShell bool `json:"allow_anon_shell"`
}

type PostgresConfig struct {
	Enabled       bool   `json:"enabled"`
	ListenAddr    string `json:"listen_addr"`
	HoneypotID    string `json:"honeypot_id"`
	ServerVersion string `json:"server_version"`
}

type HTTPConfig struct {
	Enabled      bool   `json:"enabled"`
	ListenAddr   string `json:"listen_addr"`
	HoneypotID   string `json:"honeypot_id"`
	ServerHeader string `json:"server_header"`
	MaxBodyBytes int    `json:"max_body_bytes"`
}

type HoneypotsConfig struct {
	SSH      SSHConfig      `json:"ssh"`
	Postgres PostgresConfig `json:"postgres"`
	HTTP     HTTPConfig     `json:"http"`
}

// === NOTIFICATIONS ===

type WebhookConfig struct {
	Enabled        bool     `json:"enabled"`
	Endpoints      []string `json:"endpoints"`
	BearerToken    string   `json:"bearer_token"`
	TimeoutSeconds int      `json:"timeout_seconds"`
}

type TelegramConfig struct {
	Enabled        bool   `json:"enabled"`
	BotToken       string `json:"bot_token"`
	ChatID         string `json:"chat_id"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type NotificationsConfig struct {
	Level1Enabled bool `json:"level_1_enabled"`
	Level2Enabled bool `json:"level_2_enabled"`
	Level3Enabled bool `json:"level_3_enabled"`
	// DedupeWindowSeconds suppresses repeat alerts for the same incident and
	// event type inside the window. 0 disables suppression.
	DedupeWindowSeconds int            `json:"dedupe_window_seconds"`
	Webhook             WebhookConfig  `json:"webhook"`
	Telegram            TelegramConfig `json:"telegram"`
}

// === SYSTEM ===

type SystemConfig struct {
	LogDir   string `json:"log_dir"`
	LogLevel string `json:"log_level"`
	Debug    bool   `json:"debug"`
}

// === MAIN CONFIG STRUCTURE ===

type Config struct {
	Database      DatabaseConfig      `json:"database"`
	Ingest        IngestConfig        `json:"ingest"`
	Honeypots     HoneypotsConfig     `json:"honeypots"`
	Notifications NotificationsConfig `json:"notifications"`
	System        SystemConfig        `json:"system"`
}

// === LOADER FUNCTIONS ===

func Load(configPath string) (*Config, error) {
	var data []byte
	var err error

	if configPath != "" {
		data, err = os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		// Try common locations
		locations := []string{
			"./config/default.json",
			"/etc/hollowport/config.json",
			os.Getenv("HOLLOWPORT_CONFIG"),
		}

		for _, loc := range locations {
			if loc == "" {
				continue
			}
			if d, err := os.ReadFile(loc); err == nil {
				data = d
				fmt.Printf("Loaded config from: %s\n", loc)
				break
			}
		}
	}

	// If no config found, use defaults
	if data == nil {
		fmt.Println("No config file found, using defaults")
		return getDefaults(), nil
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	applyDefaults(&config)
	expandEnvVars(&config)

	return &config, nil
}

// expandEnvVars replaces ${VAR_NAME} with environment variables
func expandEnvVars(cfg *Config) {
	cfg.Ingest.SecretKey = os.ExpandEnv(cfg.Ingest.SecretKey)
	cfg.Database.Path = os.ExpandEnv(cfg.Database.Path)
	cfg.Notifications.Webhook.BearerToken = os.ExpandEnv(cfg.Notifications.Webhook.BearerToken)
	cfg.Notifications.Telegram.BotToken = os.ExpandEnv(cfg.Notifications.Telegram.BotToken)
}

func getDefaults() *Config {
	cfg := &Config{
		Database: DatabaseConfig{
			Path:        "./data/hollowport.db",
			JournalMode: "WAL",
			Synchronous: "NORMAL",
		},
		Ingest: IngestConfig{
			ListenAddr:     ":8000",
			SecretKey:      "${HOLLOWPORT_SECRET}",
			TokenHeader:    "X-Honeypot-Token",
			UpstreamURLs:   []string{"http://127.0.0.1:8000"},
			TimeoutSeconds: 2,
		},
		Honeypots: HoneypotsConfig{
			SSH: SSHConfig{
				Enabled:        true,
				ListenAddr:     ":2222",
				HoneypotID:     "ssh-default",
				Banner:         "SSH-2.0-OpenSSH_7.4",
				HostKeyDir:     "./data/ssh_keys",
				AllowAnonShell: false,
			},
			Postgres: PostgresConfig{
				Enabled:       true,
				ListenAddr:    ":5432",
				HoneypotID:    "postgres-default",
				ServerVersion: "12.4",
			},
			HTTP: HTTPConfig{
				Enabled:      true,
				ListenAddr:   ":8080",
				HoneypotID:   "http-default",
				ServerHeader: "nginx/1.18.0",
				MaxBodyBytes: 10240,
			},
		},
		Notifications: NotificationsConfig{
			Level1Enabled:       false,
			Level2Enabled:       true,
			Level3Enabled:       true,
			DedupeWindowSeconds: 300,
			Webhook: WebhookConfig{
				TimeoutSeconds: 5,
			},
			Telegram: TelegramConfig{
				TimeoutSeconds: 5,
			},
		},
		System: SystemConfig{
			LogDir:   "./logs",
			LogLevel: "info",
		},
	}

	applyDefaults(cfg)
	expandEnvVars(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	// Database defaults
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./data/hollowport.db"
	}
	if cfg.Database.JournalMode == "" {
		cfg.Database.JournalMode = "WAL"
	}
	if cfg.Database.Synchronous == "" {
		cfg.Database.Synchronous = "NORMAL"
	}

	// Ingest defaults
	if cfg.Ingest.ListenAddr == "" {
		cfg.Ingest.ListenAddr = ":8000"
	}
	if cfg.Ingest.TokenHeader == "" {
		cfg.Ingest.TokenHeader = "X-Honeypot-Token"
	}
	if cfg.Ingest.TimeoutSeconds == 0 {
		cfg.Ingest.TimeoutSeconds = 2
	}
	if len(cfg.Ingest.UpstreamURLs) == 0 {
		cfg.Ingest.UpstreamURLs = []string{"http://127.0.0.1:8000"}
	}

	// Engine defaults
	if cfg.Honeypots.SSH.ListenAddr == "" {
		cfg.Honeypots.SSH.ListenAddr = ":2222"
	}
	if cfg.Honeypots.SSH.HoneypotID == "" {
		cfg.Honeypots.SSH.HoneypotID = "ssh-default"
	}
	if cfg.Honeypots.SSH.Banner == "" {
		cfg.Honeypots.SSH.Banner = "SSH-2.0-OpenSSH_7.4"
	}
	if cfg.Honeypots.SSH.HostKeyDir == "" {
		cfg.Honeypots.SSH.HostKeyDir = "./data/ssh_keys"
	}
	if cfg.Honeypots.Postgres.ListenAddr == "" {
		cfg.Honeypots.Postgres.ListenAddr = ":5432"
	}
	if cfg.Honeypots.Postgres.HoneypotID == "" {
		cfg.Honeypots.Postgres.HoneypotID = "postgres-default"
	}
	if cfg.Honeypots.Postgres.ServerVersion == "" {
		cfg.Honeypots.Postgres.ServerVersion = "12.4"
	}
	if cfg.Honeypots.HTTP.ListenAddr == "" {
		cfg.Honeypots.HTTP.ListenAddr = ":8080"
	}
	if cfg.Honeypots.HTTP.HoneypotID == "" {
		cfg.Honeypots.HTTP.HoneypotID = "http-default"
	}
	if cfg.Honeypots.HTTP.ServerHeader == "" {
		cfg.Honeypots.HTTP.ServerHeader = "nginx/1.18.0"
	}
	if cfg.Honeypots.HTTP.MaxBodyBytes == 0 {
		cfg.Honeypots.HTTP.MaxBodyBytes = 10240
	}

	// Notification defaults
	if cfg.Notifications.Webhook.TimeoutSeconds == 0 {
		cfg.Notifications.Webhook.TimeoutSeconds = 5
	}
	if cfg.Notifications.Telegram.TimeoutSeconds == 0 {
		cfg.Notifications.Telegram.TimeoutSeconds = 5
	}

	// System defaults
	if cfg.System.LogDir == "" {
		cfg.System.LogDir = "./logs"
	}
	if cfg.System.LogLevel == "" {
		cfg.System.LogLevel = "info"
	}

	// Create directories
	os.MkdirAll(cfg.System.LogDir, 0755)
	os.MkdirAll(filepath.Dir(cfg.Database.Path), 0755)
}
