package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newFailoverCmd(socket *string) *cobra.Command {
	return &cobra.Command{
		Use:   "failover <from> <to>",
		Short: "Force traffic off one interface and onto another.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, to := args[0], args[1]
			if err := NewClient(*socket).Failover(cmd.Context(), from, to); err != nil {
				return err
			}
			fmt.Printf("Failover complete: %s is now primary (%s marked failed)\n", to, from)
			return nil
		},
	}
}
