package main

import (
	"github.com/spf13/cobra"
)

func newWebhookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Webhook bindings",
	}

	var secret string
	var maxBody int64
	add := &cobra.Command{
		Use:   "add <name> <target-workflow> <target-event>",
		Short: "Create a binding",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			return rt.Bindings.Add(args[0], secret, args[1], args[2], maxBody)
		},
	}
	add.Flags().StringVar(&secret, "secret", "", "HMAC secret for X-Signature verification")
	add.Flags().Int64Var(&maxBody, "max-body-bytes", 0, "request body limit (default 1 MiB)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List bindings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			bindings, err := rt.Bindings.List()
			if err != nil {
				return err
			}
			return printJSON(bindings)
		},
	}

	get := &cobra.Command{
		Use:   "get <name>",
		Short: "Inspect a binding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			binding, err := rt.Bindings.Get(args[0])
			if err != nil {
				return err
			}
			return printJSON(binding)
		},
	}

	remove := &cobra.Command{
		Use:   "remove <name>",
		Short: "Delete a binding",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			return rt.Bindings.Remove(args[0])
		},
	}

	cmd.AddCommand(add, list, get, remove)
	return cmd
}
