package main

import (
	"github.com/spf13/cobra"

	"stepchain/internal/core"
	"stepchain/internal/output"
)

func (c *cli) runCmd() *cobra.Command {
	var subs map[string]string
	var quiet bool

	cmd := &cobra.Command{
		Use:   "run <build.yaml>",
		Short: "Run every step of a build document in order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			build, err := core.LoadConfig(args[0])
			if err != nil {
				return err
			}

			stream := cmd.OutOrStdout()
			if quiet {
				stream = nil
			}
			a, err := c.newApp(cmd.Context(), stream)
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.runner.RunBuild(cmd.Context(), build, c.cfg.Build.Env(), subs)
			if res != nil {
				output.PrintResult(cmd.OutOrStdout(), res)
			}
			return err
		},
	}
	cmd.Flags().StringToStringVar(&subs, "substitutions", nil, "user substitutions, KEY=VALUE,...")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not stream step output")
	return cmd
}

func (c *cli) validateCmd() *cobra.Command {
	var subs map[string]string

	cmd := &cobra.Command{
		Use:   "validate <build.yaml>",
		Short: "Parse a build document and resolve its substitutions without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			build, err := core.LoadConfig(args[0])
			if err != nil {
				return err
			}
			plan, err := core.NewRunner(nil).Prepare(build, c.cfg.Build.Env(), subs)
			if err != nil {
				return err
			}
			output.PrintPlan(cmd.OutOrStdout(), plan)
			return nil
		},
	}
	cmd.Flags().StringToStringVar(&subs, "substitutions", nil, "user substitutions, KEY=VALUE,...")
	return cmd
}
