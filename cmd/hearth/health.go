package main

import (
	"time"

	"github.com/spf13/cobra"
)

func newHealthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Agent health roll-ups",
	}

	var window time.Duration
	status := &cobra.Command{
		Use:   "status <agent>",
		Short: "Show one agent's windowed roll-up",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			roll, err := rt.Health.Status(args[0], window)
			if err != nil {
				return err
			}
			return printJSON(roll)
		},
	}
	status.Flags().DurationVar(&window, "window", 0, "roll-up window (default from config)")

	dashboard := &cobra.Command{
		Use:   "dashboard",
		Short: "Roll-ups for every agent with samples",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			dash, err := rt.Health.Dashboard()
			if err != nil {
				return err
			}
			return printJSON(dash)
		},
	}

	var limit int
	errorsCmd := &cobra.Command{
		Use:   "errors",
		Short: "Recent failure samples, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			failures, err := rt.Health.RecentErrors(limit)
			if err != nil {
				return err
			}
			return printJSON(failures)
		},
	}
	errorsCmd.Flags().IntVar(&limit, "limit", 20, "maximum failures to show")

	var olderThan time.Duration
	cleanup := &cobra.Command{
		Use:   "cleanup",
		Short: "Drop samples older than a horizon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			trimmed, err := rt.Health.Cleanup(olderThan)
			if err != nil {
				return err
			}
			return printJSON(map[string]int{"trimmed": trimmed})
		},
	}
	cleanup.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "sample age horizon")

	cmd.AddCommand(status, dashboard, errorsCmd, cleanup)
	return cmd
}
