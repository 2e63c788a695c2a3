package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

type pingOutput struct {
	Plane     string `json:"plane"`
	Workspace string `json:"workspace"`
	Ledger    string `json:"ledger"`
	Driver    string `json:"driver"`
}

func newPingCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Check access to Plane and the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := openApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			if err := a.store.HealthCheck(ctx); err != nil {
				return fmt.Errorf("ledger unavailable: %w", err)
			}
			ws := a.settings.Plane.WorkspaceSlug
			if err := a.client.Ping(ctx, ws); err != nil {
				return fmt.Errorf("plane unavailable: %w", err)
			}

			if jsonOutput {
				return printJSON(pingOutput{
					Plane:     a.settings.Plane.BaseURL,
					Workspace: ws,
					Ledger:    "ok",
					Driver:    a.store.Driver(),
				})
			}

			fmt.Printf("✓ Ledger reachable (%s)\n", a.store.Driver())
			fmt.Printf("✓ Plane reachable at %s (workspace %q)\n", a.settings.Plane.BaseURL, ws)
			return nil
		},
	}

	return cmd
}
