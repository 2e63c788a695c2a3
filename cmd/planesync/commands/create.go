package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/planesync/planesync/pkg/settings"
	"github.com/planesync/planesync/pkg/stores"
)

func newCreateCommand() *cobra.Command {
	var (
		file      string
		format    string
		workspace string
		vars      map[string]string
		noReuse   bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create the resources of a batch template in Plane",
		Long: `Create every project, cycle, module and issue in a template, in order, and
record each one in the ledger as soon as Plane returns its ID.

The first failure stops the run and leaves the batch FAILED; everything
created up to that point stays in the ledger and can be removed with
"planesync cleanup <batch-id>".`,
		Example: `  # Create a batch
  planesync create -f q1.yaml

  # Create in a specific workspace, never reusing existing projects
  planesync create -f q1.yaml --workspace acme --no-reuse`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			tpl, err := loadTemplate(ctx, file, format, vars)
			if err != nil {
				return err
			}
			if workspace != "" {
				tpl = tpl.WithWorkspace(workspace)
			}

			a, err := openApp(ctx, true, func(s *settings.Settings) {
				if noReuse {
					s.Engine.ReuseExistingProjects = false
				}
			})
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			log.Info().
				Str("template", tpl.Name).
				Str("file", file).
				Msg("Creating batch")

			batch, runErr := a.exec.RunCreation(ctx, tpl)
			if batch == nil {
				return runErr
			}

			if jsonOutput {
				if err := printJSON(batch); err != nil {
					return err
				}
			} else {
				rows, err := a.store.CountResources(ctx, batch.ID)
				if err != nil {
					return err
				}
				printBatch(batch)
				fmt.Printf("Resources recorded: %d\n", rows)
				if batch.Status == stores.BatchStatusFailed {
					fmt.Printf("\nRemove what was created with:\n  planesync cleanup %s\n", batch.ID)
				}
			}

			return runErr
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "template file")
	cmd.Flags().StringVar(&format, "format", "", "template format (yaml, json, cue, starlark); default from extension")
	cmd.Flags().StringVar(&workspace, "workspace", "", "workspace slug, overrides the template")
	cmd.Flags().StringToStringVar(&vars, "var", nil, "variables for Starlark templates (key=value)")
	cmd.Flags().BoolVar(&noReuse, "no-reuse", false, "always create projects, even when one with the same identifier exists")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}
