package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func newProfileCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Show or edit what Anima knows about you",
	}
	cmd.AddCommand(newProfileSetCmd(opts))
	cmd.AddCommand(newProfileShowCmd(opts))
	return cmd
}

func newProfileSetCmd(opts *rootOptions) *cobra.Command {
	var (
		name   string
		age    int
		mood   string
		topics []string
	)

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update profile fields",
		Long: `Update profile fields. Only the flags given are changed.

The profile is sent with every message so replies can be personal.`,
		Example: `  anima profile set --name Ana --age 27
  anima profile set --topics sleep,stress --mood calm`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := opts.open(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.Close()

			raw, err := e.threads.LoadProfile(ctx)
			if err != nil {
				return err
			}
			profile := map[string]any{}
			if err := json.Unmarshal(raw, &profile); err != nil || profile == nil {
				profile = map[string]any{}
			}

			flags := cmd.Flags()
			if flags.Changed("name") {
				profile["name"] = name
			}
			if flags.Changed("age") {
				if age < 0 {
					return fmt.Errorf("age must not be negative")
				}
				profile["age"] = age
			}
			if flags.Changed("mood") {
				profile["mood"] = mood
			}
			if flags.Changed("topics") {
				profile["topics"] = topics
			}

			if err := e.threads.SaveProfile(ctx, profile); err != nil {
				return err
			}
			return printProfile(cmd, profile)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "What Anima should call you")
	cmd.Flags().IntVar(&age, "age", 0, "Your age")
	cmd.Flags().StringVar(&mood, "mood", "", "How you feel lately")
	cmd.Flags().StringSliceVar(&topics, "topics", nil, "Topics you want to talk about (comma separated)")
	return cmd
}

func newProfileShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the stored profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := opts.open(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.Close()

			raw, err := e.threads.LoadProfile(ctx)
			if err != nil {
				return err
			}
			var profile any
			if err := json.Unmarshal(raw, &profile); err != nil {
				return err
			}
			return printProfile(cmd, profile)
		},
	}
}

func printProfile(cmd *cobra.Command, profile any) error {
	data, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
