package commands

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/planesync/planesync/pkg/engine"
)

func newMetadataCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "metadata",
		Short: "Manage cached workspace metadata",
	}

	cmd.AddCommand(newMetadataSyncCommand())

	return cmd
}

func newMetadataSyncCommand() *cobra.Command {
	var workspace string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Cache workspace members and project states in the ledger",
		Long: `Fetch the members of a workspace and the states of each of its projects
and cache them in the ledger. Issues created afterwards without an explicit
state get the project's default state.`,
		Example: `  planesync metadata sync
  planesync metadata sync --workspace acme`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := openApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			if workspace == "" {
				workspace = a.settings.Plane.WorkspaceSlug
			}

			log.Info().Str("workspace", workspace).Msg("Syncing workspace metadata")

			syncer := engine.NewMetadataSyncer(a.client, a.store, a.settings.Engine.MetadataTTL)
			summary, err := syncer.Sync(ctx, workspace)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(summary)
			}

			fmt.Printf("✓ Synced metadata for workspace %q\n", summary.Workspace)
			fmt.Printf("  Members:  %d\n", summary.Members)
			fmt.Printf("  Projects: %d\n", summary.Projects)
			fmt.Printf("  States:   %d\n", summary.States)
			if verbose && len(summary.Defaults) > 0 {
				ids := make([]string, 0, len(summary.Defaults))
				for id := range summary.Defaults {
					ids = append(ids, id)
				}
				sort.Strings(ids)
				fmt.Println("  Default states:")
				for _, id := range ids {
					fmt.Printf("    %s -> %s\n", id, summary.Defaults[id])
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&workspace, "workspace", "", "workspace slug (default from settings)")

	return cmd
}
