package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/hearth-sh/hearth/pkg/types"
)

func newMessageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "message",
		Short: "Inspect and manage agent inboxes",
	}

	var priority, contentType string
	send := &cobra.Command{
		Use:   "send <sender> <recipient> <body>",
		Short: "Enqueue a message",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			id, err := rt.Bus.SendTyped(args[0], args[1], contentType, []byte(args[2]), types.Priority(priority))
			if err != nil {
				return err
			}
			return printJSON(map[string]string{"message_id": id})
		},
	}
	send.Flags().StringVar(&priority, "priority", string(types.PriorityNormal), "urgent|high|normal|low")
	send.Flags().StringVar(&contentType, "content-type", "text/plain", "message body content type")

	list := &cobra.Command{
		Use:   "list <recipient>",
		Short: "List pending messages in priority order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			msgs, err := rt.Bus.Peek(args[0])
			if err != nil {
				return err
			}
			return printJSON(msgs)
		},
	}

	ack := &cobra.Command{
		Use:   "ack <recipient> <message-id>",
		Short: "Acknowledge a message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			return rt.Bus.Acknowledge(args[0], args[1])
		},
	}

	counts := &cobra.Command{
		Use:   "counts <recipient>",
		Short: "Show inbox counts by state and priority",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			c, err := rt.Bus.Counts(args[0])
			if err != nil {
				return err
			}
			return printJSON(c)
		},
	}

	var olderThan time.Duration
	clear := &cobra.Command{
		Use:   "clear <recipient>",
		Short: "Remove messages from an inbox",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			removed, err := rt.Bus.Clear(args[0], olderThan)
			if err != nil {
				return err
			}
			return printJSON(map[string]int{"removed": removed})
		},
	}
	clear.Flags().DurationVar(&olderThan, "older-than", 0, "only remove messages older than this")

	cmd.AddCommand(send, list, ack, counts, clear)
	return cmd
}
