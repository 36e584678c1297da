// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"

	"github.com/tphakala/ecosort/internal/logger"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("logging.default_level", logger.DefaultLogLevel)
	viper.SetDefault("logging.timezone", "Local")
	viper.SetDefault("logging.console.enabled", logger.DefaultConsoleEnabled)
	viper.SetDefault("logging.console.level", logger.DefaultLogLevel)
	viper.SetDefault("logging.file_output.enabled", logger.DefaultFileEnabled)
	viper.SetDefault("logging.file_output.path", logger.DefaultLogPath)
	viper.SetDefault("logging.file_output.level", logger.DefaultLogLevel)

	viper.SetDefault("model.dir", "tflite_models")
	viper.SetDefault("model.version", "")
	viper.SetDefault("model.threads", 0)
	viper.SetDefault("model.inputwidth", 256)
	viper.SetDefault("model.inputheight", 256)
	viper.SetDefault("model.downloadtoken", "")

	viper.SetDefault("remote.baseurl", "")
	viper.SetDefault("remote.websocketurl", "")
	viper.SetDefault("remote.apikey", "")
	viper.SetDefault("remote.timeout", 30*time.Second)
	viper.SetDefault("remote.configcachettl", 24*time.Hour)
	viper.SetDefault("remote.configcachefile", "prediction_config.json")

	viper.SetDefault("prediction.mode", ModeCloud)
	viper.SetDefault("prediction.group", "")

	viper.SetDefault("video.fallbackfps", 10.0)
	viper.SetDefault("video.jpegquality", 80)
	viper.SetDefault("video.ffmpegpath", "ffmpeg")
	viper.SetDefault("video.ffprobepath", "ffprobe")

	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "ecosort.db")
	viper.SetDefault("output.mysql.enabled", false)
	viper.SetDefault("output.mysql.username", "")
	viper.SetDefault("output.mysql.password", "")
	viper.SetDefault("output.mysql.database", "ecosort")
	viper.SetDefault("output.mysql.host", "localhost")
	viper.SetDefault("output.mysql.port", "3306")

	viper.SetDefault("telemetry.enabled", false)
	viper.SetDefault("telemetry.dsn", "")
	viper.SetDefault("telemetry.debug", false)

	viper.SetDefault("webserver.enabled", false)
	viper.SetDefault("webserver.port", "8080")
}
