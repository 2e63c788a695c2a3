package commands

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/planesync/planesync/pkg/settings"
	"github.com/planesync/planesync/pkg/stores"
)

func newInitCommand() *cobra.Command {
	var (
		workspace string
		baseURL   string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a planesync working directory",
		Long: `Initialize a planesync working directory: write a starter planesync.yaml,
create the ledger database and run its migrations.

An existing config file is left untouched.`,
		Example: `  # Initialize in the current directory
  planesync init --workspace acme

  # Initialize with a custom config path
  planesync init --config /etc/planesync/planesync.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			path := configPath
			if path == "" {
				path = settings.FileName
			}

			log.Info().
				Str("config", path).
				Str("workspace", workspace).
				Msg("Initializing planesync")

			starter := settings.Default()
			starter.Plane.WorkspaceSlug = workspace
			if baseURL != "" {
				starter.Plane.BaseURL = baseURL
			}

			err := starter.WriteFile(path)
			switch {
			case errors.Is(err, fs.ErrExist):
				fmt.Printf("✓ Config file already exists: %s\n", path)
			case err != nil:
				return fmt.Errorf("failed to write config file: %w", err)
			default:
				fmt.Printf("✓ Created config file: %s\n", path)
			}

			configPath = path
			s, err := loadSettings()
			if err != nil {
				return err
			}

			store, err := openStore(ctx, s)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			target := s.Database.Path
			if s.Database.Driver != stores.DriverSQLite {
				target = s.Masked().Database.URL
			}
			fmt.Printf("✓ Initialized %s ledger: %s\n", s.Database.Driver, target)

			fmt.Printf("\nNext steps:\n")
			fmt.Printf("  1. Export your API key:\n")
			fmt.Printf("     export PLANE_API_KEY=...\n\n")
			fmt.Printf("  2. Check the connection:\n")
			fmt.Printf("     planesync ping\n\n")
			fmt.Printf("  3. Preview a template:\n")
			fmt.Printf("     planesync validate -f batch.yaml\n")

			return nil
		},
	}

	cmd.Flags().StringVar(&workspace, "workspace", "", "default Plane workspace slug")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Plane API base URL")

	return cmd
}
