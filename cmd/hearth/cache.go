package main

import (
	"github.com/spf13/cobra"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Function-result cache",
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Entry count, size, and hit/miss counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			s, err := rt.Cache.Stats()
			if err != nil {
				return err
			}
			return printJSON(s)
		},
	}

	var tag string
	list := &cobra.Command{
		Use:   "list",
		Short: "List live cache entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			entries, err := rt.Cache.Entries(tag)
			if err != nil {
				return err
			}
			return printJSON(entries)
		},
	}
	list.Flags().StringVar(&tag, "tag", "", "tag glob filter")

	invalidate := &cobra.Command{
		Use:   "invalidate <tag-pattern>",
		Short: "Remove entries whose tags match a glob",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			removed, err := rt.Cache.Invalidate(args[0])
			if err != nil {
				return err
			}
			return printJSON(map[string]int{"removed": removed})
		},
	}

	cmd.AddCommand(stats, list, invalidate)
	return cmd
}
