// Package config handles configuration loading, validation, and persistence
// for the Valobridge presence bridge.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultAPIPort    = 5000
	DefaultChatPort   = 5223
)

// Config is the root configuration structure for Valobridge.
type Config struct {
	mu   sync.RWMutex
	path string

	RiotData        RiotData        `json:"riot_data"`
	ApplicationData ApplicationData `json:"application_data"`
}

// RiotData contains Riot account and chat connection configuration.
type RiotData struct {
	// Accounts whose presence the bridge watches.
	Accounts []RiotAccount `json:"accounts"`

	// Chat connection
	ChatPort int `json:"chat_port"`

	// ChatHostOverride skips affinity-based host selection when set.
	ChatHostOverride string `json:"chat_host_override"`
}

// RiotAccount holds the credentials of one watched Riot account.
type RiotAccount struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// ApplicationData contains bridge application configuration.
type ApplicationData struct {
	Discord  DiscordConfig  `json:"discord"`
	MQTT     MQTTConfig     `json:"mqtt"`
	Security SecurityConfig `json:"security"`
	Logging  LoggingConfig  `json:"logging"`
	Store    StoreConfig    `json:"store"`
	API      APIConfig      `json:"api"`
	Refdata  RefdataConfig  `json:"refdata"`
}

// DiscordConfig holds Discord integration settings.
type DiscordConfig struct {
	BotToken  string `json:"bot_token"`
	OwnerID   string `json:"owner_id"`
	InviteURL string `json:"invite_url"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled   bool   `json:"enabled"`
	BrokerURL string `json:"broker_url"`
	Port      int    `json:"port"`
	UseTLS    bool   `json:"use_tls"`
	CertFile  string `json:"cert_file"`
	KeyFile   string `json:"key_file"`
	CAFile    string `json:"ca_file"`
	ClientID  string `json:"client_id"`
}

// SecurityConfig holds API security settings.
type SecurityConfig struct {
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	AuthDisabled   bool     `json:"auth_disabled"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `json:"level"`
	Directory string `json:"directory"`
	MaxAge    int    `json:"max_age_days"`
}

// StoreConfig holds link store settings.
type StoreConfig struct {
	Path string `json:"path"`
}

// APIConfig holds management API settings.
type APIConfig struct {
	Port int `json:"port"`
}

// RefdataConfig holds game reference data settings.
type RefdataConfig struct {
	BaseURL string `json:"base_url"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		RiotData: RiotData{
			ChatPort: DefaultChatPort,
		},
		ApplicationData: ApplicationData{
			MQTT: MQTTConfig{
				Port:   8883,
				UseTLS: true,
			},
			Security: SecurityConfig{
				RateLimitRPS: 100,
			},
			Logging: LoggingConfig{
				Level:     "info",
				Directory: "logs",
				MaxAge:    14,
			},
			Store: StoreConfig{
				Path: "data/valobridge.db",
			},
			API: APIConfig{
				Port: DefaultAPIPort,
			},
			Refdata: RefdataConfig{
				BaseURL: "https://valorant-api.com",
			},
		},
	}
}

// Load reads configuration from a JSON file.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig() // Start with defaults, then overlay
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save config to persist any new default fields added in code updates.
	// This ensures config.json always reflects the complete set of options.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetRiotData returns a copy of the Riot configuration.
func (c *Config) GetRiotData() RiotData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.RiotData
}

// SetRiotData updates the Riot configuration.
func (c *Config) SetRiotData(data RiotData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.RiotData = data
}

// GetApplicationData returns a copy of the application data configuration.
func (c *Config) GetApplicationData() ApplicationData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ApplicationData
}

// SetApplicationData updates the application data configuration.
func (c *Config) SetApplicationData(data ApplicationData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ApplicationData = data
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// IsFirstRun returns true if the configuration needs initial setup.
func (c *Config) IsFirstRun() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.RiotData.Accounts) == 0 || c.ApplicationData.Discord.BotToken == ""
}
