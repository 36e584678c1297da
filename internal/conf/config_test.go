package conf

import (
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// loadEmbeddedDefaults decodes the embedded config.yaml on top of setDefaultConfig.
func loadEmbeddedDefaults(t *testing.T) *Settings {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)

	setDefaultConfig()
	data, err := fs.ReadFile(configFiles, "config.yaml")
	require.NoError(t, err)
	viper.SetConfigType("yaml")
	require.NoError(t, viper.ReadConfig(bytes.NewReader(data)))

	settings := &Settings{}
	require.NoError(t, viper.Unmarshal(settings))
	return settings
}

func TestEmbeddedDefaultsAreValid(t *testing.T) {
	settings := loadEmbeddedDefaults(t)

	require.NoError(t, ValidateSettings(settings))
	assert.Equal(t, ModeCloud, settings.Prediction.Mode)
	assert.Equal(t, 256, settings.Model.InputWidth)
	assert.Equal(t, 256, settings.Model.InputHeight)
	assert.InDelta(t, 10.0, settings.Video.FallbackFPS, 0)
	assert.Equal(t, 80, settings.Video.JPEGQuality)
	assert.Equal(t, 30*time.Second, settings.Remote.Timeout)
	assert.Equal(t, "3306", settings.Output.MySQL.Port)
	assert.True(t, settings.Output.SQLite.Enabled)
	require.NotNil(t, settings.Logging.Console)
	assert.True(t, settings.Logging.Console.Enabled)
}

func TestValidateSettings(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{"valid defaults", func(*Settings) {}, ""},
		{"bad mode", func(s *Settings) { s.Prediction.Mode = "hybrid" }, "prediction mode"},
		{"zero input size", func(s *Settings) { s.Model.InputWidth = 0 }, "model input size"},
		{"relative base url", func(s *Settings) { s.Remote.BaseURL = "api.example.com" }, "absolute http(s) URL"},
		{"jpeg quality", func(s *Settings) { s.Video.JPEGQuality = 0 }, "JPEG quality"},
		{"fallback fps", func(s *Settings) { s.Video.FallbackFPS = 0 }, "fallback fps"},
		{"two stores", func(s *Settings) { s.Output.MySQL.Enabled = true }, "only one of"},
		{"no store", func(s *Settings) { s.Output.SQLite.Enabled = false }, "must be enabled"},
		{"bad port", func(s *Settings) { s.WebServer.Enabled = true; s.WebServer.Port = "http" }, "webserver port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := loadEmbeddedDefaults(t)
			tt.mutate(settings)

			err := ValidateSettings(settings)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			var ve ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateSettings_CollectsAllErrors(t *testing.T) {
	settings := loadEmbeddedDefaults(t)
	settings.Prediction.Mode = ""
	settings.Video.JPEGQuality = 101

	err := ValidateSettings(settings)
	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Errors, 2)
}

func TestWebSocketBaseURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		remote RemoteSettings
		want   string
	}{
		{RemoteSettings{BaseURL: "https://api.example.com"}, "wss://api.example.com"},
		{RemoteSettings{BaseURL: "http://localhost:8000"}, "ws://localhost:8000"},
		{RemoteSettings{BaseURL: "https://api.example.com", WebSocketURL: "wss://ws.example.com"}, "wss://ws.example.com"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.remote.WebSocketBaseURL())
	}
}

func TestSaveYAMLConfig(t *testing.T) {
	settings := loadEmbeddedDefaults(t)
	settings.Prediction.Group = "Almere bins"
	settings.Remote.APIKey = "k"

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("old: true\n"), 0o600))
	require.NoError(t, SaveYAMLConfig(path, settings))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded Settings
	require.NoError(t, yaml.Unmarshal(data, &decoded))
	assert.Equal(t, "Almere bins", decoded.Prediction.Group)
	assert.Equal(t, "k", decoded.Remote.APIKey)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file should be removed")
}

func TestEnvValidators(t *testing.T) {
	t.Parallel()

	require.NoError(t, validateEnvMode("ondevice"))
	require.Error(t, validateEnvMode("local"))
	require.NoError(t, validateEnvURL("https://api.example.com"))
	require.Error(t, validateEnvURL("not a url"))
	require.NoError(t, validateEnvNonNegativeInt("4"))
	require.Error(t, validateEnvNonNegativeInt("-1"))
	require.NoError(t, validateEnvBool("true"))
	require.Error(t, validateEnvBool("yes please"))
}
