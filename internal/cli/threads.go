package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newThreadsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "threads",
		Aliases: []string{"thread"},
		Short:   "Manage conversation threads",
	}

	cmd.AddCommand(newThreadsListCmd(opts))
	cmd.AddCommand(newThreadsNewCmd(opts))
	cmd.AddCommand(newThreadsDeleteCmd(opts))
	cmd.AddCommand(newThreadsExportCmd(opts))
	return cmd
}

func newThreadsListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List threads, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := opts.open(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.Close()

			threads, err := e.threads.List(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(threads) == 0 {
				fmt.Fprintln(out, dimStyle.Render("No threads yet. Run `anima chat` to start one."))
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, headerStyle.Render("ID")+"\t"+headerStyle.Render("TITLE")+"\t"+headerStyle.Render("MESSAGES")+"\t"+headerStyle.Render("CREATED"))
			for _, th := range threads {
				msgs, err := e.threads.Messages(ctx, th.ID)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
					idStyle.Render(th.ID),
					titleStyle.Render(th.Title),
					len(msgs),
					dimStyle.Render(th.Created.Local().Format("2006-01-02 15:04")),
				)
			}
			return w.Flush()
		},
	}
}

func newThreadsNewCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "new [title]",
		Short: "Create a thread",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := opts.open(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.Close()

			th, err := e.threads.Create(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s %s\n", titleStyle.Render(th.Title), idStyle.Render(th.ID))
			return nil
		},
	}
}

func newThreadsDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <thread-id>",
		Short: "Delete a thread and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := opts.open(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.Close()

			th, ok, err := e.threads.Get(ctx, args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("thread %q not found", args[0])
			}
			if _, err := e.service.DeleteThread(ctx, th.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", titleStyle.Render(th.Title))
			return nil
		},
	}
}

func newThreadsExportCmd(opts *rootOptions) *cobra.Command {
	var (
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export all threads with their messages",
		Long: `Export all threads with their messages as json or yaml.

Writes to stdout unless --output is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := opts.open(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.Close()

			if output == "" {
				return e.threads.Export(ctx, cmd.OutOrStdout(), format)
			}

			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			if err := e.threads.Export(ctx, f, format); err != nil {
				f.Close()
				return err
			}
			return f.Close()
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "json", "Export format (json, yaml)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to file instead of stdout")
	return cmd
}
