package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/anima/anima-backend/internal/usage"
)

func newUsageCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "Show chat time and conversations used",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := opts.open(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.Close()

			st, err := e.service.Status(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s / %s\n", headerStyle.Render("Today:"), usage.FormatMMSS(st.Used), usage.FormatMMSS(e.ledger.Cap()))
			fmt.Fprintf(out, "%s %s\n", headerStyle.Render("Remaining:"), usage.FormatMMSS(st.Remaining))
			if st.QuotaLocked {
				fmt.Fprintln(out, warnStyle.Render(quotaNotice))
			}
			fmt.Fprintf(out, "%s %d\n", headerStyle.Render("Conversations:"), st.Dialogues)
			if st.DialogueLocked {
				fmt.Fprintln(out, warnStyle.Render(paywallNotice))
			}
			return nil
		},
	}
}
