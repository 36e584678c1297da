// config.go: settings struct for ecosort and functions to load and save it.
package conf

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/ecosort/internal/logger"
)

//go:embed config.yaml
var configFiles embed.FS

// Processing modes accepted by prediction.mode
const (
	ModeCloud    = "cloud"
	ModeOnDevice = "ondevice"
)

// ModelSettings describes the on-device model artifact store.
type ModelSettings struct {
	Dir         string // directory holding v<version>.tflite files
	Version     string // model version used for on-device classification
	Threads     int    // interpreter threads, 0 uses all cores
	InputWidth  int    // tensor width expected by the model
	InputHeight int    // tensor height expected by the model

	// DownloadToken is sent as a Bearer token when fetching model files.
	DownloadToken string
}

// RemoteSettings configures the cloud prediction service.
type RemoteSettings struct {
	BaseURL         string        // REST base URL, e.g. https://api.example.com
	WebSocketURL    string        // progress channel base URL, derived from BaseURL when empty
	APIKey          string        // sent as X-API-Key
	Timeout         time.Duration // per request timeout
	ConfigCacheTTL  time.Duration // in-memory lifetime of the fetched prediction config
	ConfigCacheFile string        // on-disk copy of the last fetched prediction config
}

// PredictionSettings selects how new sessions are classified.
type PredictionSettings struct {
	Mode  string // cloud or ondevice
	Group string // taxonomy group snapshotted onto new sessions
}

// VideoSettings configures frame extraction.
type VideoSettings struct {
	FallbackFPS float64 // sampling rate when the source frame rate is unreadable
	JPEGQuality int     // quality of encoded frames, 1-100
	FfmpegPath  string  // ffmpeg binary
	FfprobePath string  // ffprobe binary
}

// SQLiteSettings configures the SQLite store.
type SQLiteSettings struct {
	Enabled bool
	Path    string
}

// MySQLSettings configures the MySQL store.
type MySQLSettings struct {
	Enabled  bool
	Username string
	Password string
	Database string
	Host     string
	Port     string
}

// OutputSettings selects the session store.
type OutputSettings struct {
	SQLite SQLiteSettings
	MySQL  MySQLSettings
}

// TelemetrySettings controls opt-in error reporting to Sentry.
type TelemetrySettings struct {
	Enabled bool
	DSN     string
	Debug   bool
}

// WebServerSettings configures the HTTP API.
type WebServerSettings struct {
	Enabled bool
	Port    string
}

// Settings contains all configuration options for ecosort.
type Settings struct {
	Debug      bool
	Version    string `yaml:"-"`
	Logging    logger.LoggingConfig
	Model      ModelSettings
	Remote     RemoteSettings
	Prediction PredictionSettings
	Video      VideoSettings
	Output     OutputSettings
	Telemetry  TelemetrySettings
	WebServer  WebServerSettings
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into a Settings struct.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	setDefaultConfig()

	if err := bindEnvVars(); err != nil {
		GetLogger().Warn("environment configuration problems", logger.Error(err))
	}

	err = viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			return createDefaultConfig(configPaths[0])
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the embedded default config into dir and reads it.
func createDefaultConfig(dir string) error {
	configPath := filepath.Join(dir, "config.yaml")

	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return fmt.Errorf("error reading embedded config: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	GetLogger().Info("created default config file", logger.String("path", configPath))
	return viper.ReadInConfig()
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SaveYAMLConfig writes settings to configPath atomically via a temp file and rename.
// Comments and ordering of the existing file are not preserved.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName)

	if _, err := tempFile.Write(yamlData); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		return fmt.Errorf("error replacing config file: %w", err)
	}
	return nil
}

// WebSocketBaseURL returns the progress channel base URL, deriving ws(s):// from the REST URL when unset.
func (r *RemoteSettings) WebSocketBaseURL() string {
	if r.WebSocketURL != "" {
		return r.WebSocketURL
	}
	switch {
	case len(r.BaseURL) >= 8 && r.BaseURL[:8] == "https://":
		return "wss://" + r.BaseURL[8:]
	case len(r.BaseURL) >= 7 && r.BaseURL[:7] == "http://":
		return "ws://" + r.BaseURL[7:]
	default:
		return r.BaseURL
	}
}
