package main

import (
	"context"
	"os"
	"time"

	"github.com/dukex/replyflow/pkg/cmd"
	"github.com/dukex/replyflow/pkg/log"
	"github.com/dukex/replyflow/pkg/scheduler"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

func main() {
	cmd.LoadEnvFile()

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:    "worker-id",
			Aliases: []string{"id"},
			Usage:   "Custom worker ID (auto-generated if not provided)",
			Value:   "",
			Sources: cli.EnvVars("WORKER_ID"),
		},
		&cli.DurationFlag{
			Name:    "refresh-interval",
			Usage:   "How often active workflows are reloaded",
			Value:   30 * time.Second,
			Sources: cli.EnvVars("REFRESH_INTERVAL"),
		},
		&cli.BoolFlag{
			Name:    "with-scheduler",
			Usage:   "Run the task poller and schedule ticker in this process",
			Sources: cli.EnvVars("WITH_SCHEDULER"),
		},
		cmd.LogLevelFlag(),
	}
	flags = append(flags, cmd.InfrastructureFlags()...)
	flags = append(flags, cmd.EngineFlags()...)
	flags = append(flags, cmd.ProviderFlags()...)

	command := &cli.Command{
		Name:                  "replyflow-worker",
		EnableShellCompletion: true,
		Usage:                 "Start a worker executing workflows from bus tasks",
		Flags:                 flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("replyflow-worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing ReplyFlow Worker")

			shutdownTracing := cmd.SetupTracing(ctx, command.Bool("tracing"), "replyflow-worker", logger)
			defer shutdownTracing()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), cmd.Brokers(command), "replyflow-worker", logger)
			if err != nil {
				return err
			}
			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}
			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			state, err := cmd.NewSharedState(ctx, logger, command.String("redis-url"))
			if err != nil {
				return err
			}
			defer func() {
				err := state.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close shared state", "error", err)
				}
			}()

			providers, err := cmd.NewProviders(cmd.ProviderConfigFromCommand(command), state.Customers, logger)
			if err != nil {
				return err
			}

			engine, err := cmd.NewEngine(ctx, cmd.EngineConfigFromCommand(command, workerID), persistence, eventBus, state, providers, logger)
			if err != nil {
				return err
			}

			worker := NewWorkerManager(
				workerID,
				engine,
				engine.Registry,
				command.Duration("refresh-interval"),
				eventBus,
				logger,
			)

			if command.Bool("with-scheduler") {
				worker.
					WithBackground(scheduler.NewPoller(persistence.TaskRepository(), eventBus, logger).Run).
					WithBackground(scheduler.NewTicker(eventBus, logger).Start)
			}

			err = worker.Start(ctx)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start worker", "error", err)

				return err
			}

			return nil
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
