package classify

import (
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/ecosort/internal/analysis"
	"github.com/tphakala/ecosort/internal/conf"
	"github.com/tphakala/ecosort/internal/session"
)

// Command creates the classify command for photos or a video file.
func Command(settings *conf.Settings) *cobra.Command {
	var video string

	cmd := &cobra.Command{
		Use:   "classify [photo.jpg ...]",
		Short: "Classify photos or a video into a new session",
		Long: `Classify photos, or the frames of a video given with --video, into a new
session using the configured taxonomy group.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if video == "" && len(args) == 0 {
				return fmt.Errorf("no input: pass photo files or --video")
			}
			svc, err := analysis.NewServices(cmd.Context(), settings)
			if err != nil {
				return err
			}
			defer svc.Close()

			res, err := analysis.Classify(cmd.Context(), svc, analysis.Request{
				Photos: args,
				Video:  video,
			})
			if res != nil {
				PrintResult(cmd.OutOrStdout(), res)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&video, "video", "", "Video file to extract frames from")

	return cmd
}

// PrintResult writes a short summary of a classification run.
func PrintResult(w io.Writer, res *analysis.Result) {
	if res.Session != nil {
		fmt.Fprintf(w, "session %s\n", res.Session.ID)
	}
	if res.FailedStep != session.StepInitial {
		fmt.Fprintf(w, "stopped at step %s after %s\n", res.FailedStep, res.Elapsed.Round(time.Millisecond))
		return
	}
	if res.Outcome == nil {
		return
	}
	fmt.Fprintf(w, "%s: %d of %d items classified in %s\n",
		res.Outcome.Status(), res.Outcome.Classified, res.Outcome.Total, res.Elapsed.Round(time.Millisecond))

	ids := make([]string, 0, len(res.Outcome.Failures))
	for id := range res.Outcome.Failures {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		fmt.Fprintf(w, "  %s: %s\n", id, res.Outcome.Failures[id])
	}
}
