package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const validConfig = `{
	"service": {"name": "streamnav", "logLevel": "info"},
	"session": {
		"name": "capture-2026-08-28",
		"partitions": [
			{"name": "sensors", "path": "./data/sensors"},
			{"name": "audio", "path": "./data/audio"}
		]
	},
	"monitor": {
		"pollInterval": "100ms",
		"deliveryInterval": "50ms",
		"stopTimeout": "2s",
		"probeInterval": "1s"
	},
	"dashboard": {"enabled": true, "addr": ":8080"}
}`

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, "streamnav", cfg.Service.Name)
	assert.Equal(t, "capture-2026-08-28", cfg.Session.Name)
	require.Len(t, cfg.Session.Partitions, 2)
	assert.Equal(t, "sensors", cfg.Session.Partitions[0].Name)
	assert.True(t, cfg.Dashboard.Enabled)

	poll, err := cfg.Monitor.PollIntervalDuration()
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, poll)

	delivery, err := cfg.Monitor.DeliveryIntervalDuration()
	require.NoError(t, err)
	assert.Equal(t, 50*time.Millisecond, delivery)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "malformed json",
			content: `{"service":`,
			wantErr: "error parsing config file",
		},
		{
			name:    "missing service name",
			content: `{"service": {}, "session": {"name": "s", "partitions": [{"name": "p", "path": "./p"}]}}`,
			wantErr: "service name is required",
		},
		{
			name:    "missing session name",
			content: `{"service": {"name": "svc"}, "session": {"partitions": [{"name": "p", "path": "./p"}]}}`,
			wantErr: "session name is required",
		},
		{
			name:    "no partitions",
			content: `{"service": {"name": "svc"}, "session": {"name": "s", "partitions": []}}`,
			wantErr: "at least one partition is required",
		},
		{
			name:    "partition without path",
			content: `{"service": {"name": "svc"}, "session": {"name": "s", "partitions": [{"name": "p"}]}}`,
			wantErr: "path is required",
		},
		{
			name: "duplicate partition names",
			content: `{"service": {"name": "svc"}, "session": {"name": "s", "partitions": [
				{"name": "p", "path": "./a"}, {"name": "p", "path": "./b"}]}}`,
			wantErr: "duplicate partition name",
		},
		{
			name: "bad monitor duration",
			content: `{"service": {"name": "svc"}, "session": {"name": "s", "partitions": [{"name": "p", "path": "./p"}]},
				"monitor": {"pollInterval": "fast"}}`,
			wantErr: "invalid monitor pollInterval",
		},
		{
			name: "dashboard enabled without addr",
			content: `{"service": {"name": "svc"}, "session": {"name": "s", "partitions": [{"name": "p", "path": "./p"}]},
				"dashboard": {"enabled": true}}`,
			wantErr: "dashboard address is required",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tc.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestParseDuration(t *testing.T) {
	d, err := parseDuration("2d")
	require.NoError(t, err)
	assert.Equal(t, 48*time.Hour, d)

	d, err = parseDuration("150ms")
	require.NoError(t, err)
	assert.Equal(t, 150*time.Millisecond, d)

	_, err = parseDuration("soon")
	assert.Error(t, err)
}
