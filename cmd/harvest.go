package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/paper-harvester/internal/harvest"
	"github.com/JakeFAU/paper-harvester/internal/paper"
)

type harvestFlags struct {
	portal  string
	years   []string
	workers int
	upload  bool
}

// newHarvestCmd runs one job in the foreground and prints its final status.
func newHarvestCmd() *cobra.Command {
	var flags harvestFlags
	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Runs one harvest job and waits for it",
		Long: `Runs a single harvest job against portal1, portal2 or both, waits for it
to finish and prints the final status as JSON. Interrupting the command
requests a stop and waits for the job to unwind.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			req := harvest.Request{
				Source:  paper.Source(strings.ToLower(strings.TrimSpace(flags.portal))),
				Years:   flags.years,
				Workers: flags.workers,
				Upload:  flags.upload,
			}
			status, err := appInstance.RunOnce(cmd.Context(), req)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(status); err != nil {
				return fmt.Errorf("print status: %w", err)
			}
			appInstance.Logger().Info("harvest command finished",
				zap.Int("accepted", status.Accepted),
				zap.Int("skipped", status.Skipped),
				zap.Int("failed", status.Failed),
			)
			if status.Result == harvest.ResultFailed {
				return errors.New(status.Message)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&flags.portal, "portal", string(paper.SourcePortal1), "portal1, portal2 or both")
	cmd.Flags().StringSliceVar(&flags.years, "years", nil, "only harvest these years (comma separated)")
	cmd.Flags().IntVar(&flags.workers, "workers", 0, "parallel extraction workers for portal1 (1-10)")
	cmd.Flags().BoolVar(&flags.upload, "upload", true, "mirror each PDF to the configured storage backend")
	return cmd
}
