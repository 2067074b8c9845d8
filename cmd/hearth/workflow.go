package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/hearth-sh/hearth/pkg/errdefs"
	"github.com/hearth-sh/hearth/pkg/types"
	"github.com/hearth-sh/hearth/pkg/workflow"
)

func newWorkflowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Workflow definitions and runs",
	}

	add := &cobra.Command{
		Use:   "add <definition.yaml>",
		Short: "Load and persist a definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := os.ReadFile(args[0])
			if err != nil {
				return errdefs.Wrap(errdefs.KindUsage, err)
			}
			def, err := workflow.LoadDefinition(doc)
			if err != nil {
				return err
			}
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			if err := rt.Definitions.Save(def); err != nil {
				return err
			}
			return printJSON(map[string]string{"name": def.Name})
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List definitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			defs, err := rt.Definitions.List()
			if err != nil {
				return err
			}
			return printJSON(defs)
		},
	}

	get := &cobra.Command{
		Use:   "get <name>",
		Short: "Show a definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			def, err := rt.Definitions.Get(args[0])
			if err != nil {
				return err
			}
			return printJSON(def)
		},
	}

	remove := &cobra.Command{
		Use:   "remove <name>",
		Short: "Delete a definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			return rt.Definitions.Delete(args[0])
		},
	}

	var payloadJSON string
	trigger := &cobra.Command{
		Use:   "trigger <agent> <event>",
		Short: "Enqueue a run for the matching definition",
		Args:  cobra.ExactArgs(2),
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
			runID, err := rt.Engine.Trigger(args[0], args[1], payload)
			if err != nil {
				return err
			}
			return printJSON(map[string]string{"run_id": runID})
		},
	}
	trigger.Flags().StringVar(&payloadJSON, "payload", "", "JSON payload object")

	status := &cobra.Command{
		Use:   "status <run-id>",
		Short: "Inspect a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			run, err := rt.Engine.Status(args[0])
			if err != nil {
				return err
			}
			return printJSON(run)
		},
	}

	cancel := &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Cancel a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			return rt.Engine.Cancel(args[0])
		},
	}

	var stateFilter, defFilter string
	runs := &cobra.Command{
		Use:   "runs",
		Short: "List runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()
			list, err := rt.Engine.List(workflow.ListFilter{
				State:      types.RunState(stateFilter),
				Definition: defFilter,
			})
			if err != nil {
				return err
			}
			return printJSON(list)
		},
	}
	runs.Flags().StringVar(&stateFilter, "state", "", "filter by run state")
	runs.Flags().StringVar(&defFilter, "definition", "", "filter by definition name")

	cmd.AddCommand(add, list, get, remove, trigger, status, cancel, runs)
	return cmd
}
