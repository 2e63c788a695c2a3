package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/planesync/planesync/pkg/settings"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect settings",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective settings with secrets masked",
		Long: `Print the settings after merging defaults, the config file and environment
variables. The API key and database password are masked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings()
			if err != nil {
				return err
			}
			out, err := s.Masked().YAML()
			if err != nil {
				return err
			}

			if jsonOutput {
				var doc map[string]interface{}
				if err := yaml.Unmarshal(out, &doc); err != nil {
					return err
				}
				return printJSON(doc)
			}

			if s.ConfigFile != "" {
				fmt.Printf("# %s\n", s.ConfigFile)
			} else {
				fmt.Printf("# no %s found, showing defaults and environment\n", settings.FileName)
			}
			_, err = os.Stdout.Write(out)
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print where settings are searched for",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("./%s\n", settings.FileName)
			if dir := settings.ConfigDir(); dir != "" {
				fmt.Println(filepath.Join(dir, settings.FileName))
			}
			return nil
		},
	})

	return cmd
}
