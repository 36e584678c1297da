// conf/validate.go

package conf

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func(*Settings) error{
		validatePredictionSettings,
		validateModelSettings,
		validateRemoteSettings,
		validateVideoSettings,
		validateOutputSettings,
		validateWebServerSettings,
	}
	for _, validate := range validators {
		if err := validate(settings); err != nil {
			ve.Errors = append(ve.Errors, err.Error())
		}
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validatePredictionSettings(s *Settings) error {
	switch s.Prediction.Mode {
	case ModeCloud, ModeOnDevice:
		return nil
	default:
		return fmt.Errorf("prediction mode must be %q or %q, got %q", ModeCloud, ModeOnDevice, s.Prediction.Mode)
	}
}

func validateModelSettings(s *Settings) error {
	if s.Model.InputWidth <= 0 || s.Model.InputHeight <= 0 {
		return fmt.Errorf("model input size must be positive, got %dx%d", s.Model.InputWidth, s.Model.InputHeight)
	}
	if s.Model.Threads < 0 {
		return fmt.Errorf("model threads cannot be negative, got %d", s.Model.Threads)
	}
	if s.Prediction.Mode == ModeOnDevice && s.Model.Dir == "" {
		return errors.New("model directory is required for on-device prediction")
	}
	return nil
}

func validateRemoteSettings(s *Settings) error {
	// An empty base URL is allowed here; cloud sessions fail at classifier setup instead.
	if s.Remote.BaseURL == "" {
		return nil
	}
	u, err := url.Parse(s.Remote.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("remote base URL %q must be an absolute http(s) URL", s.Remote.BaseURL)
	}
	if s.Remote.Timeout < 0 {
		return fmt.Errorf("remote timeout cannot be negative, got %s", s.Remote.Timeout)
	}
	return nil
}

func validateVideoSettings(s *Settings) error {
	if s.Video.FallbackFPS <= 0 {
		return fmt.Errorf("video fallback fps must be positive, got %v", s.Video.FallbackFPS)
	}
	if s.Video.JPEGQuality < 1 || s.Video.JPEGQuality > 100 {
		return fmt.Errorf("video JPEG quality must be between 1 and 100, got %d", s.Video.JPEGQuality)
	}
	return nil
}

func validateOutputSettings(s *Settings) error {
	if s.Output.SQLite.Enabled && s.Output.MySQL.Enabled {
		return errors.New("only one of output.sqlite and output.mysql can be enabled")
	}
	if !s.Output.SQLite.Enabled && !s.Output.MySQL.Enabled {
		return errors.New("a session store must be enabled (output.sqlite or output.mysql)")
	}
	if s.Output.SQLite.Enabled && s.Output.SQLite.Path == "" {
		return errors.New("output.sqlite.path is required when SQLite is enabled")
	}
	if s.Output.MySQL.Enabled && (s.Output.MySQL.Host == "" || s.Output.MySQL.Database == "") {
		return errors.New("output.mysql host and database are required when MySQL is enabled")
	}
	return nil
}

func validateWebServerSettings(s *Settings) error {
	if !s.WebServer.Enabled {
		return nil
	}
	port, err := strconv.Atoi(s.WebServer.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("webserver port must be between 1 and 65535, got %q", s.WebServer.Port)
	}
	return nil
}
