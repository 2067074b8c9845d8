package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hearth-sh/hearth/pkg/errdefs"
)

func newStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Shared key/value state and locks",
	}

	var ttl time.Duration
	set := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Write a shared value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			return rt.State.Set(args[0], []byte(args[1]), ttl)
		},
	}
	set.Flags().DurationVar(&ttl, "ttl", 0, "expire the value after this duration")

	get := &cobra.Command{
		Use:   "get <key>",
		Short: "Read a shared value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			value, ok, err := rt.State.Get(args[0])
			if err != nil {
				return err
			}
			if !ok {
				return errdefs.New(errdefs.KindNotFound, "key %q not found", args[0])
			}
			fmt.Println(string(value))
			return nil
		},
	}

	remove := &cobra.Command{
		Use:   "remove <key>",
		Short: "Delete a shared value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			existed, err := rt.State.Delete(args[0])
			if err != nil {
				return err
			}
			if !existed {
				return errdefs.New(errdefs.KindNotFound, "key %q not found", args[0])
			}
			return nil
		},
	}

	var prefix string
	list := &cobra.Command{
		Use:   "list",
		Short: "List shared values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			values, err := rt.State.List(prefix)
			if err != nil {
				return err
			}
			return printJSON(values)
		},
	}
	list.Flags().StringVar(&prefix, "prefix", "", "key prefix filter")

	locks := &cobra.Command{
		Use:   "locks",
		Short: "Show currently held locks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			return printJSON(rt.State.Locks())
		},
	}

	cmd.AddCommand(set, get, remove, list, locks)
	return cmd
}
