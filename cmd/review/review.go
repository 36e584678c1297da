package review

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tphakala/ecosort/internal/analysis"
	"github.com/tphakala/ecosort/internal/conf"
	"github.com/tphakala/ecosort/internal/datastore"
	"github.com/tphakala/ecosort/internal/review"
)

// Command creates the review command group for accepting or correcting
// predictions of a stored session.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Review the predictions of a session",
	}
	cmd.AddCommand(
		acceptCommand(settings),
		rejectCommand(settings),
		candidatesCommand(settings),
		sectionsCommand(settings),
	)
	return cmd
}

func acceptCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "accept <session-id> <item-id>",
		Short: "Accept the predicted label of an item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), settings, func(svc *analysis.Services) error {
				s, err := svc.Reconciler.Accept(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				printProgress(cmd.OutOrStdout(), s)
				return nil
			})
		},
	}
}

func rejectCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "reject <session-id> <item-id> <label>",
		Short: "Replace the predicted label of an item",
		Long: `Replace the predicted label of an item. The label is a class name or
class id of the session taxonomy; see "review candidates".`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), settings, func(svc *analysis.Services) error {
				s, err := svc.Store.FetchByID(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				labelID := args[2]
				if s.ClassByID(labelID) == nil {
					if c := s.ClassByName(labelID); c != nil {
						labelID = c.ID
					}
				}
				s, err = svc.Reconciler.Reject(cmd.Context(), args[0], args[1], labelID)
				if err != nil {
					return err
				}
				printProgress(cmd.OutOrStdout(), s)
				return nil
			})
		},
	}
}

func candidatesCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "candidates <session-id> <item-id>",
		Short: "List the replacement labels for an item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), settings, func(svc *analysis.Services) error {
				s, err := svc.Store.FetchByID(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				it := s.Item(args[1])
				if it == nil {
					return fmt.Errorf("%w: item %s", review.ErrItemNotFound, args[1])
				}
				for _, c := range review.Candidates(s, it) {
					group := ""
					if g := s.GroupOf(c.ID); g != nil {
						group = g.Name
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", c.ID, c.Name, group)
				}
				return nil
			})
		},
	}
}

func sectionsCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "sections <session-id>",
		Short: "Show reviewed items per taxonomy group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), settings, func(svc *analysis.Services) error {
				s, err := svc.Store.FetchByID(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				PrintSections(cmd.OutOrStdout(), s)
				return nil
			})
		},
	}
}

func withServices(ctx context.Context, settings *conf.Settings, fn func(*analysis.Services) error) error {
	svc, err := analysis.NewServices(ctx, settings)
	if err != nil {
		return err
	}
	defer svc.Close()
	return fn(svc)
}

// PrintSections writes each group with its reviewed items, followed by the
// items still waiting for review.
func PrintSections(w io.Writer, s *datastore.Session) {
	sections := review.GroupBySection(s)
	for _, name := range review.SectionNames(s) {
		items := sections[name]
		fmt.Fprintf(w, "%s (%d)\n", name, len(items))
		for _, it := range items {
			fmt.Fprintf(w, "  %s\n", it.ID)
		}
	}
	if pending := review.Unreviewed(s); len(pending) > 0 {
		fmt.Fprintf(w, "unreviewed (%d)\n", len(pending))
		for _, it := range pending {
			fmt.Fprintf(w, "  %s\n", it.ID)
		}
	}
}

func printProgress(w io.Writer, s *datastore.Session) {
	st := review.ComputeStats(s)
	fmt.Fprintf(w, "reviewed %d/%d", st.Reviewed, st.Total)
	if st.FinalAccuracy != nil {
		fmt.Fprintf(w, ", final accuracy %.1f%%", *st.FinalAccuracy*100)
	} else if next := review.NextUnreviewed(s); next != nil {
		fmt.Fprintf(w, ", next %s", next.ID)
	}
	fmt.Fprintln(w)
}
