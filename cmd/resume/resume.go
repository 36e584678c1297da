package resume

import (
	"github.com/spf13/cobra"

	"github.com/tphakala/ecosort/cmd/classify"
	"github.com/tphakala/ecosort/internal/analysis"
	"github.com/tphakala/ecosort/internal/conf"
)

// Command creates the resume command, which continues an interrupted session
// from its persisted state.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <session-id>",
		Short: "Resume an interrupted session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := analysis.NewServices(cmd.Context(), settings)
			if err != nil {
				return err
			}
			defer svc.Close()

			res, err := analysis.Resume(cmd.Context(), svc, args[0])
			if res != nil {
				classify.PrintResult(cmd.OutOrStdout(), res)
			}
			return err
		},
	}
}
