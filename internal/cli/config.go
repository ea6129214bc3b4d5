package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/weftlabs/meshbond/internal/config"
)

func newConfigCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print a default config file, or write one with --output.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			skeleton, err := config.Skeleton()
			if err != nil {
				return fmt.Errorf("failed to render config: %w", err)
			}
			if output == "" {
				fmt.Print(skeleton)
				return nil
			}
			if _, err := os.Stat(output); err == nil {
				return fmt.Errorf("refusing to overwrite existing file %s", output)
			}
			if err := os.WriteFile(output, []byte(skeleton), 0o644); err != nil {
				return fmt.Errorf("failed to write config: %w", err)
			}
			fmt.Println("Config written to", output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write the config to a file instead of stdout")
	return cmd
}
