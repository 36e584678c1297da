// env.go - environment variable overrides for ecosort
package conf

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// envBinding maps a viper key to an environment variable with optional validation
type envBinding struct {
	ConfigKey string
	EnvVar    string
	Validate  func(string) error
}

func getEnvBindings() []envBinding {
	return []envBinding{
		{"prediction.mode", "ECOSORT_MODE", validateEnvMode},
		{"prediction.group", "ECOSORT_GROUP", nil},
		{"remote.baseurl", "ECOSORT_API_URL", validateEnvURL},
		{"remote.apikey", "ECOSORT_API_KEY", nil},
		{"model.dir", "ECOSORT_MODEL_DIR", nil},
		{"model.version", "ECOSORT_MODEL_VERSION", nil},
		{"model.threads", "ECOSORT_MODEL_THREADS", validateEnvNonNegativeInt},
		{"model.downloadtoken", "ECOSORT_MODEL_TOKEN", nil},
		{"output.sqlite.path", "ECOSORT_DB_PATH", nil},
		{"telemetry.enabled", "ECOSORT_TELEMETRY", validateEnvBool},
		{"debug", "ECOSORT_DEBUG", validateEnvBool},
	}
}

// bindEnvVars binds environment variables and reports invalid values.
func bindEnvVars() error {
	var warnings []string
	for _, binding := range getEnvBindings() {
		if err := viper.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("Failed to bind %s: %v", binding.EnvVar, err))
			continue
		}
		if binding.Validate == nil {
			continue
		}
		if value := os.Getenv(binding.EnvVar); value != "" {
			if err := binding.Validate(value); err != nil {
				warnings = append(warnings, fmt.Sprintf("Invalid %s value '%s': %v", binding.EnvVar, value, err))
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true or false")
	}
	return nil
}

func validateEnvMode(value string) error {
	if value != ModeCloud && value != ModeOnDevice {
		return fmt.Errorf("must be %q or %q", ModeCloud, ModeOnDevice)
	}
	return nil
}

func validateEnvURL(value string) error {
	u, err := url.Parse(value)
	if err != nil || u.Host == "" {
		return fmt.Errorf("must be an absolute URL")
	}
	return nil
}

func validateEnvNonNegativeInt(value string) error {
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return fmt.Errorf("must be a non-negative integer")
	}
	return nil
}
