package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	validateRiotData(&cfg.RiotData, result)
	validateApplicationData(&cfg.ApplicationData, result)

	return result
}

func validateRiotData(data *RiotData, result *ValidationResult) {
	if len(data.Accounts) == 0 {
		result.AddError("riot_data.accounts", "at least one Riot account is required")
	}
	for i, acc := range data.Accounts {
		if strings.TrimSpace(acc.Username) == "" {
			result.AddError(fmt.Sprintf("riot_data.accounts[%d].username", i), "username is required")
		}
		if strings.TrimSpace(acc.Password) == "" {
			result.AddError(fmt.Sprintf("riot_data.accounts[%d].password", i), "password is required")
		}
	}

	validatePort(data.ChatPort, "riot_data.chat_port", result)
}

func validateApplicationData(data *ApplicationData, result *ValidationResult) {
	if strings.TrimSpace(data.Discord.BotToken) == "" {
		result.AddError("application_data.discord.bot_token", "Discord bot token is required")
	}
	if data.Discord.OwnerID != "" {
		if len(data.Discord.OwnerID) < 17 || len(data.Discord.OwnerID) > 20 {
			result.AddWarning("application_data.discord.owner_id",
				"Discord owner ID appears invalid (expected 17-20 digit snowflake)")
		}
	}

	if data.MQTT.Enabled {
		if strings.TrimSpace(data.MQTT.BrokerURL) == "" {
			result.AddError("application_data.mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if data.MQTT.Port < 1 || data.MQTT.Port > 65535 {
			result.AddError("application_data.mqtt.port", "invalid MQTT port")
		}
	}

	if strings.TrimSpace(data.Store.Path) == "" {
		result.AddError("application_data.store.path", "link store path is required")
	}

	validatePort(data.API.Port, "application_data.api.port", result)

	if data.Security.RateLimitRPS < 1 {
		result.AddWarning("application_data.security.rate_limit_rps",
			"rate limit is disabled (0 RPS), this may expose the API to abuse")
	}
	if data.Security.AuthDisabled {
		result.AddWarning("application_data.security.auth_disabled",
			"API authentication is disabled, link management is open to anyone who can reach the port")
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}
