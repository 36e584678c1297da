package serve

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tphakala/ecosort/internal/analysis"
	"github.com/tphakala/ecosort/internal/conf"
)

// Command creates the serve command for the HTTP API.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the session and review HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := analysis.NewServices(cmd.Context(), settings)
			if err != nil {
				return err
			}
			defer svc.Close()
			return analysis.Serve(cmd.Context(), svc)
		},
	}

	cmd.Flags().StringVarP(&settings.WebServer.Port, "port", "p", viper.GetString("webserver.port"), "Port to listen on")
	_ = viper.BindPFlag("webserver.port", cmd.Flags().Lookup("port"))

	return cmd
}
