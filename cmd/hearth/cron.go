package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/hearth-sh/hearth/pkg/errdefs"
)

func newCronCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Scheduled workflow jobs",
	}

	var payloadJSON, agent string
	add := &cobra.Command{
		Use:   "add <expression> <target-workflow> <target-event>",
		Short: "Add a job (five-field cron or @every)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload map[string]any
			if payloadJSON != "" {
				if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
					return errdefs.New(errdefs.KindUsage, "bad payload: %v", err)
				}
			}
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			id, err := rt.Scheduler.AddJob(args[0], args[1], args[2], agent, payload)
			if err != nil {
				return err
			}
			return printJSON(map[string]string{"job_id": id})
		},
	}
	add.Flags().StringVar(&payloadJSON, "payload", "", "JSON payload template")
	add.Flags().StringVar(&agent, "agent", "cron", "trigger agent name")

	list := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			jobs, err := rt.Scheduler.ListJobs()
			if err != nil {
				return err
			}
			return printJSON(jobs)
		},
	}

	get := &cobra.Command{
		Use:   "get <job-id>",
		Short: "Inspect a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			job, err := rt.Scheduler.GetJob(args[0])
			if err != nil {
				return err
			}
			return printJSON(job)
		},
	}

	remove := &cobra.Command{
		Use:   "remove <job-id>",
		Short: "Delete a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			return rt.Scheduler.RemoveJob(args[0])
		},
	}

	enable := &cobra.Command{
		Use:   "enable <job-id>",
		Short: "Enable a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			return rt.Scheduler.Enable(args[0])
		},
	}

	disable := &cobra.Command{
		Use:   "disable <job-id>",
		Short: "Disable a job without deleting it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			return rt.Scheduler.Disable(args[0])
		},
	}

	cmd.AddCommand(add, list, get, remove, enable, disable)
	return cmd
}
