package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newUnlockCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock",
		Short: "Lift the free conversation limit after subscribing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := opts.open(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.gate.Unlock(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), titleStyle.Render("Unlocked. Conversations are no longer limited."))
			return nil
		},
	}
}
