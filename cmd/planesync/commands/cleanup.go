package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/planesync/planesync/pkg/engine"
	"github.com/planesync/planesync/pkg/stores"
)

func newCleanupCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "cleanup <batch-id>",
		Short: "Delete everything a batch created",
		Long: `Delete the resources recorded for a batch, newest first, removing each
ledger row once Plane confirms the delete. Resources that are already gone
count as deleted.

If some deletes fail the batch becomes PARTIAL_DELETED and only the failed
rows remain; run cleanup again to retry them. A RUNNING batch is refused
unless --force is given, for example after a crashed create.`,
		Example: `  # Clean up a batch
  planesync cleanup 3f2a9c1e-...

  # Clean up a batch left RUNNING by a crash
  planesync cleanup 3f2a9c1e-... --force`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			batchID := args[0]

			a, err := openApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			log.Info().
				Str("batch_id", batchID).
				Bool("force", force).
				Msg("Cleaning up batch")

			var opts []engine.CleanupOption
			if force {
				opts = append(opts, engine.WithForce())
			}

			batch, err := a.exec.RunCleanup(ctx, batchID, opts...)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(batch)
			}

			printBatch(batch)
			if batch.Status == stores.BatchStatusPartialDeleted {
				rows, err := a.store.ListResources(ctx, batch.ID, stores.OrderReverse)
				if err != nil {
					return err
				}
				fmt.Printf("\n%d resource(s) remain:\n", len(rows))
				printResources(rows)
				return fmt.Errorf("cleanup of %s incomplete; run it again to retry", batch.ID)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "clean up a batch that is still RUNNING")

	return cmd
}
