package analysis

import "github.com/tphakala/ecosort/internal/errors"

var (
	// ErrNoInput is returned when neither photos nor a video were given.
	ErrNoInput = errors.NewStd("no photos or video given")
	// ErrRemoteNotConfigured is returned when cloud features are used without remote.baseurl.
	ErrRemoteNotConfigured = errors.NewStd("prediction service is not configured")
)

func configError(err error, key string) error {
	return errors.New(err).
		Component("analysis").
		Category(errors.CategoryConfiguration).
		Context("setting", key).
		Build()
}
