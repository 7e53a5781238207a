package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config represents the top-level configuration structure
type Config struct {
	Service   ServiceConfig   `json:"service"`
	Session   SessionConfig   `json:"session"`
	Monitor   MonitorConfig   `json:"monitor"`
	Dashboard DashboardConfig `json:"dashboard"`
}

// ServiceConfig represents the service configuration section
type ServiceConfig struct {
	Name     string `json:"name"`
	LogLevel string `json:"logLevel"`
}

// SessionConfig names the session and the partitions that back it
type SessionConfig struct {
	Name       string            `json:"name"`
	Partitions []PartitionConfig `json:"partitions"`
}

// PartitionConfig represents one partition store binding
type PartitionConfig struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// MonitorConfig represents the live-monitoring timing section
type MonitorConfig struct {
	PollInterval     string `json:"pollInterval"`
	DeliveryInterval string `json:"deliveryInterval"`
	StopTimeout      string `json:"stopTimeout"`
	ProbeInterval    string `json:"probeInterval"`
}

// PollIntervalDuration returns the parsed poll interval, zero when unset.
func (mc MonitorConfig) PollIntervalDuration() (time.Duration, error) {
	return optionalDuration(mc.PollInterval)
}

// DeliveryIntervalDuration returns the parsed delivery interval, zero when unset.
func (mc MonitorConfig) DeliveryIntervalDuration() (time.Duration, error) {
	return optionalDuration(mc.DeliveryInterval)
}

// StopTimeoutDuration returns the parsed stop timeout, zero when unset.
func (mc MonitorConfig) StopTimeoutDuration() (time.Duration, error) {
	return optionalDuration(mc.StopTimeout)
}

// ProbeIntervalDuration returns the parsed liveness probe interval, zero when unset.
func (mc MonitorConfig) ProbeIntervalDuration() (time.Duration, error) {
	return optionalDuration(mc.ProbeInterval)
}

// DashboardConfig represents the dashboard configuration section
type DashboardConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// LoadConfig loads and parses the configuration file
func LoadConfig(configPath string) (*Config, error) {
	// Read the configuration file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse the JSON configuration
	var config Config
	err = json.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	// Validate the configuration
	err = validateConfig(&config)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	// Validate service configuration
	if config.Service.Name == "" {
		return fmt.Errorf("service name is required")
	}

	// Validate session configuration
	if config.Session.Name == "" {
		return fmt.Errorf("session name is required")
	}
	if len(config.Session.Partitions) == 0 {
		return fmt.Errorf("at least one partition is required")
	}
	seen := make(map[string]bool, len(config.Session.Partitions))
	for _, part := range config.Session.Partitions {
		if part.Name == "" {
			return fmt.Errorf("partition name is required")
		}
		if part.Path == "" {
			return fmt.Errorf("partition %s: path is required", part.Name)
		}
		if seen[part.Name] {
			return fmt.Errorf("duplicate partition name: %s", part.Name)
		}
		seen[part.Name] = true
	}

	// Validate monitor timing if specified
	for field, value := range map[string]string{
		"pollInterval":     config.Monitor.PollInterval,
		"deliveryInterval": config.Monitor.DeliveryInterval,
		"stopTimeout":      config.Monitor.StopTimeout,
		"probeInterval":    config.Monitor.ProbeInterval,
	} {
		if value == "" {
			continue
		}
		if _, err := parseDuration(value); err != nil {
			return fmt.Errorf("invalid monitor %s: %w", field, err)
		}
	}

	// Validate dashboard configuration
	if config.Dashboard.Enabled && config.Dashboard.Addr == "" {
		return fmt.Errorf("dashboard address is required when the dashboard is enabled")
	}

	return nil
}

func optionalDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return parseDuration(s)
}

// parseDuration parses a duration string (e.g., "30d", "2h")
func parseDuration(s string) (time.Duration, error) {
	// Custom parsing for days
	if len(s) > 0 && s[len(s)-1] == 'd' {
		days, err := parseInt(s[:len(s)-1])
		if err != nil {
			return 0, err
		}
		return time.Hour * 24 * time.Duration(days), nil
	}

	// Use Go's time.ParseDuration for standard duration formats
	return time.ParseDuration(s)
}

// parseInt parses an integer string
func parseInt(s string) (int, error) {
	var result int
	_, err := fmt.Sscanf(s, "%d", &result)
	return result, err
}
