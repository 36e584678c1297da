package sessions

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tphakala/ecosort/internal/analysis"
	"github.com/tphakala/ecosort/internal/conf"
	"github.com/tphakala/ecosort/internal/datastore"
	"github.com/tphakala/ecosort/internal/review"
)

// Command creates the sessions command group.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List, inspect and delete sessions",
	}
	cmd.AddCommand(listCommand(settings), showCommand(settings), deleteCommand(settings))
	return cmd
}

func listCommand(settings *conf.Settings) *cobra.Command {
	var filter datastore.Filter
	var state, mode, kind string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := analysis.NewServices(cmd.Context(), settings)
			if err != nil {
				return err
			}
			defer svc.Close()

			filter.State = datastore.SessionState(state)
			filter.Mode = datastore.ProcessingMode(mode)
			filter.MediaKind = datastore.MediaKind(kind)
			filter.SkipBlobs = true
			list, err := svc.Store.Fetch(cmd.Context(), filter)
			if err != nil {
				return err
			}
			PrintList(cmd.OutOrStdout(), list)
			return nil
		},
	}

	cmd.Flags().StringVar(&state, "state", "", "Only sessions in this state")
	cmd.Flags().StringVar(&mode, "session-mode", "", "Only sessions of this processing mode: cloud or ondevice")
	cmd.Flags().StringVar(&kind, "kind", "", "Only sessions of this media kind: image or video")
	cmd.Flags().IntVarP(&filter.Limit, "limit", "n", 50, "Maximum number of sessions")

	return cmd
}

func showCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session with its items and review statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := analysis.NewServices(cmd.Context(), settings)
			if err != nil {
				return err
			}
			defer svc.Close()

			s, err := svc.Store.FetchByID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			PrintSession(cmd.OutOrStdout(), s)
			return nil
		},
	}
}

func deleteCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session with its taxonomy and media",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := analysis.NewServices(cmd.Context(), settings)
			if err != nil {
				return err
			}
			defer svc.Close()

			if err := svc.Store.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}

// PrintList writes one row per session.
func PrintList(w io.Writer, list []datastore.Session) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tKIND\tMODE\tSTATE\tITEMS\tREVIEWED\tACCURACY")
	for i := range list {
		s := &list[i]
		st := review.ComputeStats(s)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			s.ID, s.CreatedAt.Format("2006-01-02 15:04"), s.MediaKind, s.ProcessingMode, s.State,
			st.Total, percent(st.ReviewCompletion), percent(st.FinalAccuracy))
	}
	_ = tw.Flush()
}

// PrintSession writes the session header followed by its items grouped the
// way a reviewer sees them.
func PrintSession(w io.Writer, s *datastore.Session) {
	st := review.ComputeStats(s)
	fmt.Fprintf(w, "session:     %s\n", s.ID)
	fmt.Fprintf(w, "state:       %s\n", s.State)
	fmt.Fprintf(w, "media:       %s (%d items)\n", s.MediaKind, st.Total)
	fmt.Fprintf(w, "mode:        %s\n", s.ProcessingMode)
	if s.ModelVersion != "" {
		fmt.Fprintf(w, "model:       %s\n", s.ModelVersion)
	}
	if s.VideoPath != "" {
		fmt.Fprintf(w, "video:       %s (%s)\n", s.VideoPath, s.VideoDuration)
	}
	fmt.Fprintf(w, "reviewed:    %d/%d (%s)\n", st.Reviewed, st.Total, percent(st.ReviewCompletion))
	fmt.Fprintf(w, "preliminary: %s\n", percent(st.PreliminaryAccuracy))
	fmt.Fprintf(w, "accuracy:    %s\n", percent(st.FinalAccuracy))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\nITEM\tPOS\tPREDICTED\tACTUAL\tNOTE")
	for i := range s.Items {
		it := &s.Items[i]
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n",
			it.ID, it.Position, className(s, it.PredictedLabelID), className(s, it.ActualLabelID), it.FailureReason)
	}
	_ = tw.Flush()
}

func className(s *datastore.Session, id *string) string {
	if id == nil {
		return "-"
	}
	if c := s.ClassByID(*id); c != nil {
		return c.Name
	}
	return *id
}

func percent(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", *v*100)
}
