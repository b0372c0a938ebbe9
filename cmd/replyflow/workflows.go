package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/dukex/replyflow/pkg/cmd"
	"github.com/dukex/replyflow/pkg/models"
	"github.com/dukex/replyflow/pkg/services"
	cli "github.com/urfave/cli/v3"
)

// withWorkflows opens persistence for the duration of fn.
func withWorkflows(ctx context.Context, command *cli.Command, fn func(*services.Workflow, *services.Node) error) error {
	logger := newLogger(command)

	store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}
	defer func() {
		err := store.Close(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	workflows := services.NewWorkflow(store)

	return fn(workflows, services.NewNode(workflows))
}

func printJSON(out io.Writer, value any) error {
	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")

	return encoder.Encode(value)
}

func workflowCommands() *cli.Command {
	return &cli.Command{
		Name:    "workflows",
		Aliases: []string{"w"},
		Usage:   "Manage stored workflows",
		Flags:   []cli.Flag{cmd.DatabaseFlag()},
		Commands: []*cli.Command{
			{
				Name:      "import",
				Usage:     "Store workflow files as drafts",
				ArgsUsage: "FILE...",
				Action: func(ctx context.Context, command *cli.Command) error {
					return withWorkflows(ctx, command, func(workflows *services.Workflow, _ *services.Node) error {
						for _, path := range command.Args().Slice() {
							workflow, err := loadWorkflow(path)
							if err != nil {
								return err
							}

							workflow.Status = models.WorkflowStatusDraft

							created, err := workflows.Create(ctx, workflow)
							if err != nil {
								return fmt.Errorf("%s: %w", path, err)
							}

							_, _ = fmt.Fprintf(command.Root().Writer, "%s: imported as %s\n", path, created.ID)
						}

						return nil
					})
				},
			},
			{
				Name:  "list",
				Usage: "List workflows",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "status", Usage: "Filter by status (draft, active, paused)"},
					&cli.IntFlag{Name: "limit", Usage: "Page size", Value: 20},
				},
				Action: func(ctx context.Context, command *cli.Command) error {
					return withWorkflows(ctx, command, func(workflows *services.Workflow, _ *services.Node) error {
						req := services.ListWorkflowsRequest{Limit: command.Int("limit")}

						if status := command.String("status"); status != "" {
							value := models.WorkflowStatus(status)
							req.Status = &value
						}

						page, err := workflows.List(ctx, req)
						if err != nil {
							return err
						}

						for _, workflow := range page.Workflows {
							_, _ = fmt.Fprintf(command.Root().Writer, "%s\t%s\t%s\n", workflow.ID, workflow.Status, workflow.Name)
						}

						return nil
					})
				},
			},
			{
				Name:      "show",
				Usage:     "Print a workflow as JSON",
				ArgsUsage: "WORKFLOW_ID",
				Action: func(ctx context.Context, command *cli.Command) error {
					return withWorkflows(ctx, command, func(workflows *services.Workflow, _ *services.Node) error {
						workflow, err := workflows.FetchByID(ctx, command.Args().First())
						if err != nil {
							return err
						}

						return printJSON(command.Root().Writer, workflow)
					})
				},
			},
			{
				Name:      "activate",
				Usage:     "Validate and activate a workflow",
				ArgsUsage: "WORKFLOW_ID",
				Action: func(ctx context.Context, command *cli.Command) error {
					return withWorkflows(ctx, command, func(workflows *services.Workflow, _ *services.Node) error {
						workflow, err := workflows.Activate(ctx, command.Args().First())
						if err != nil {
							return err
						}

						_, _ = fmt.Fprintf(command.Root().Writer, "%s: %s\n", workflow.ID, workflow.Status)

						return nil
					})
				},
			},
			{
				Name:      "pause",
				Usage:     "Stop matching new events for a workflow",
				ArgsUsage: "WORKFLOW_ID",
				Action: func(ctx context.Context, command *cli.Command) error {
					return withWorkflows(ctx, command, func(workflows *services.Workflow, _ *services.Node) error {
						workflow, err := workflows.Pause(ctx, command.Args().First())
						if err != nil {
							return err
						}

						_, _ = fmt.Fprintf(command.Root().Writer, "%s: %s\n", workflow.ID, workflow.Status)

						return nil
					})
				},
			},
			{
				Name:      "toggle-node",
				Usage:     "Enable or disable a node, also on active workflows",
				ArgsUsage: "WORKFLOW_ID NODE_ID",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "active", Usage: "Whether the node is active", Value: true},
				},
				Action: func(ctx context.Context, command *cli.Command) error {
					return withWorkflows(ctx, command, func(_ *services.Workflow, nodes *services.Node) error {
						node, err := nodes.SetNodeActive(ctx, command.Args().Get(0), command.Args().Get(1), command.Bool("active"))
						if err != nil {
							return err
						}

						_, _ = fmt.Fprintf(command.Root().Writer, "%s: active=%t\n", node.ID, node.IsActive)

						return nil
					})
				},
			},
			{
				Name:      "delete",
				Usage:     "Delete a workflow that is not active",
				ArgsUsage: "WORKFLOW_ID",
				Action: func(ctx context.Context, command *cli.Command) error {
					return withWorkflows(ctx, command, func(workflows *services.Workflow, _ *services.Node) error {
						return workflows.Delete(ctx, command.Args().First())
					})
				},
			},
		},
	}
}
