package models

import (
	"fmt"
	"io"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tphakala/ecosort/internal/analysis"
	"github.com/tphakala/ecosort/internal/classifier/remote"
	"github.com/tphakala/ecosort/internal/conf"
	"github.com/tphakala/ecosort/internal/modelstore"
	"github.com/tphakala/ecosort/pkg/spinner"
)

const progressInterval = time.Second

// Command creates the models command group for on-device model files.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Manage on-device model versions",
	}
	cmd.AddCommand(listCommand(settings), downloadCommand(settings), removeCommand(settings))
	return cmd
}

func listCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List installed and downloadable model versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := analysis.NewServices(cmd.Context(), settings)
			if err != nil {
				return err
			}
			defer svc.Close()

			installed, err := svc.Models.List()
			if err != nil {
				return err
			}
			// An unreachable catalog still lists what is on disk.
			available, err := svc.Catalog.Versions(cmd.Context())
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "catalog unavailable: %v\n", err)
			}
			PrintVersions(cmd.OutOrStdout(), installed, available, settings.Model.Version)
			return nil
		},
	}
}

func downloadCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "download <version>",
		Short: "Download a model version from the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version := args[0]
			if err := modelstore.ValidateVersion(version); err != nil {
				return err
			}
			svc, err := analysis.NewServices(cmd.Context(), settings)
			if err != nil {
				return err
			}
			defer svc.Close()

			versions, err := svc.Catalog.Versions(cmd.Context())
			if err != nil {
				return err
			}
			i := slices.IndexFunc(versions, func(v remote.ModelVersion) bool { return v.Version == version })
			if i < 0 {
				return fmt.Errorf("model version %s is not in the catalog", version)
			}
			v := versions[i]

			job, err := svc.Downloader.Download(modelstore.Request{Version: v.Version, URL: v.TFLiteURL, Size: v.TFLiteBytes()})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			sp := spinner.NewSpinner(cmd.ErrOrStderr())
			ticker := time.NewTicker(progressInterval)
			defer ticker.Stop()
			for {
				select {
				case <-job.Done():
					sp.Cleanup()
					if err := job.Err(); err != nil {
						return err
					}
					fmt.Fprintf(out, "installed %s at %s\n", version, svc.Models.Path(version))
					return nil
				case <-cmd.Context().Done():
					sp.Cleanup()
					_ = svc.Downloader.Cancel(version)
					return cmd.Context().Err()
				case <-ticker.C:
					if p, ok := svc.Downloader.Progress(version); ok {
						sp.Update(progressText(p))
					}
				}
			}
		},
	}
}

func removeCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <version>",
		Short: "Remove an installed model version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[0] == settings.Model.Version {
				return fmt.Errorf("model version %s is in use", args[0])
			}
			store := modelstore.New(settings.Model.Dir)
			if err := store.Remove(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		},
	}
}

// PrintVersions writes installed versions first, then catalog versions that
// are not on disk.
func PrintVersions(w io.Writer, installed []string, available []remote.ModelVersion, active string) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tSTATUS\tDATE\tSIZE\tACCURACY")
	catalog := make(map[string]remote.ModelVersion, len(available))
	for _, v := range available {
		catalog[v.Version] = v
	}
	for _, version := range installed {
		status := "installed"
		if version == active {
			status = "active"
		}
		v := catalog[version]
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", version, status, v.Date, orDash(v.TFLiteSize), orDash(v.Accuracy))
	}
	for _, v := range available {
		if slices.Contains(installed, v.Version) {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", v.Version, "available", v.Date, orDash(v.TFLiteSize), orDash(v.Accuracy))
	}
	_ = tw.Flush()
}

func progressText(p modelstore.Progress) string {
	if p.Total > 0 {
		return fmt.Sprintf("%s: %s of %s (%.0f%%)", p.Version, size(p.Written), size(p.Total), float64(p.Written)/float64(p.Total)*100)
	}
	return fmt.Sprintf("%s: %s", p.Version, size(p.Written))
}

func size(n int64) string {
	switch {
	case n <= 0:
		return "-"
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	default:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	}
}

func orDash(text string) string {
	if text == "" {
		return "-"
	}
	return text
}
