package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dukex/replyflow/pkg/cmd"
	"github.com/dukex/replyflow/pkg/log"
	"github.com/dukex/replyflow/pkg/scheduler"
	cli "github.com/urfave/cli/v3"
)

func main() {
	cmd.LoadEnvFile()

	flags := []cli.Flag{
		&cli.DurationFlag{
			Name:    "poll-interval",
			Usage:   "How often due tasks are dispatched",
			Value:   scheduler.DefaultPollInterval,
			Sources: cli.EnvVars("POLL_INTERVAL"),
		},
		&cli.BoolFlag{
			Name:    "no-ticker",
			Usage:   "Do not publish minute schedule ticks",
			Sources: cli.EnvVars("NO_TICKER"),
		},
		cmd.LogLevelFlag(),
	}
	flags = append(flags, cmd.InfrastructureFlags()...)

	command := &cli.Command{
		Name:                  "replyflow-scheduler",
		EnableShellCompletion: true,
		Usage:                 "Dispatch due delay and timeout tasks and publish schedule ticks",
		Flags:                 flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("replyflow-scheduler")

			logger.InfoContext(ctx, "Initializing ReplyFlow Scheduler")

			shutdownTracing := cmd.SetupTracing(ctx, command.Bool("tracing"), "replyflow-scheduler", logger)
			defer shutdownTracing()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), cmd.Brokers(command), "replyflow-scheduler", logger)
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

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			runners := []func(context.Context) error{
				scheduler.NewPoller(persistence.TaskRepository(), eventBus, logger).
					WithInterval(command.Duration("poll-interval")).
					Run,
			}

			if !command.Bool("no-ticker") {
				runners = append(runners, scheduler.NewTicker(eventBus, logger).Start)
			}

			var (
				wg   sync.WaitGroup
				mu   sync.Mutex
				errs []error
			)

			for _, run := range runners {
				wg.Add(1)

				go func() {
					defer wg.Done()

					err := run(ctx)
					if err != nil {
						mu.Lock()
						errs = append(errs, err)
						mu.Unlock()

						stop()
					}
				}()
			}

			wg.Wait()

			logger.InfoContext(ctx, "Shutting down scheduler...")

			return errors.Join(errs...)
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
