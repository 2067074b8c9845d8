package main

import (
	"strings"

	"github.com/spf13/cobra"
)

func newAgentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Registered agents and routing",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List agents registered in this process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			return printJSON(rt.Registry.List())
		},
	}

	route := &cobra.Command{
		Use:   "route <task...>",
		Short: "Show which agent a task would route to, without dispatching",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			result, err := rt.Router.DryRun(strings.Join(args, " "))
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}

	cmd.AddCommand(list, route)
	return cmd
}
