package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dukex/replyflow/pkg/actions"
	"github.com/dukex/replyflow/pkg/autoreply"
	"github.com/dukex/replyflow/pkg/cmd"
	"github.com/dukex/replyflow/pkg/log"
	cli "github.com/urfave/cli/v3"
)

func newLogger(command *cli.Command) *slog.Logger {
	log.Setup(command.String("log-level"))

	return log.WithModule("replyflow")
}

func main() {
	cmd.LoadEnvFile()

	command := &cli.Command{
		Name:                  "replyflow",
		Usage:                 "Validate, store and drive conversation workflows",
		EnableShellCompletion: true,
		Flags:                 []cli.Flag{cmd.LogLevelFlag()},
		Commands: []*cli.Command{
			{
				Name:      "validate",
				Aliases:   []string{"v"},
				Usage:     "Check workflow files for configuration errors",
				ArgsUsage: "FILE...",
				Action: func(_ context.Context, command *cli.Command) error {
					if command.Args().Len() == 0 {
						return errors.New("at least one workflow file is required")
					}

					return validateFiles(command.Args().Slice(), command.Root().Writer)
				},
			},
			{
				Name:  "actions",
				Usage: "Print the parameter schema of every action type",
				Action: func(_ context.Context, command *cli.Command) error {
					return printJSON(command.Root().Writer, actions.Describe())
				},
			},
			ingestCommand(),
			workflowCommands(),
			shouldReplyCommand(),
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func ingestCommand() *cli.Command {
	flags := []cli.Flag{
		&cli.StringFlag{Name: "type", Usage: "Event type (message_received, user_created, tag_added, tag_removed)", Value: "message_received"},
		&cli.StringFlag{Name: "id", Usage: "Source event id, derived from the content when empty"},
		&cli.StringFlag{Name: "customer", Usage: "Customer id"},
		&cli.StringFlag{Name: "conversation", Usage: "Conversation id"},
		&cli.StringFlag{Name: "channel", Usage: "Channel the event came from", Value: "whatsapp"},
		&cli.StringFlag{Name: "text", Usage: "Message text"},
		&cli.StringFlag{Name: "tag", Usage: "Tag of a tag event"},
		&cli.StringFlag{Name: "address", Usage: "Record the customer's phone address for the conversation (needs --redis-url to be shared)"},
	}
	flags = append(flags, cmd.BusFlags()...)

	return &cli.Command{
		Name:    "ingest",
		Aliases: []string{"i"},
		Usage:   "Normalize a single business event and publish it to the workers",
		Flags:   flags,
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := newLogger(command)

			event, err := buildEvent(ingestInput{
				Type:           command.String("type"),
				ID:             command.String("id"),
				CustomerID:     command.String("customer"),
				ConversationID: command.String("conversation"),
				Channel:        command.String("channel"),
				Text:           command.String("text"),
				Tag:            command.String("tag"),
			})
			if err != nil {
				return err
			}

			if address := command.String("address"); address != "" && event.ConversationID != "" {
				state, err := cmd.NewSharedState(ctx, logger, command.String("redis-url"))
				if err != nil {
					return err
				}

				err = state.Customers.SetAddress(ctx, event.ConversationID, address)
				_ = state.Close()

				if err != nil {
					return err
				}
			}

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), cmd.Brokers(command), "replyflow-cli", logger)
			if err != nil {
				return err
			}
			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			err = publishEvent(ctx, eventBus, event)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(command.Root().Writer, "published %s %s\n", event.Type, event.ID)

			return nil
		},
	}
}

func shouldReplyCommand() *cli.Command {
	return &cli.Command{
		Name:  "should-reply",
		Usage: "Ask whether the auto-responder may answer an event, claiming it when allowed",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "conversation", Usage: "Conversation id", Required: true},
			&cli.StringFlag{Name: "event", Usage: "Event id", Required: true},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL shared with the workers",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "auto-reply-policy",
				Usage:   "Auto-reply after transfer_to_human (permanent, execution)",
				Value:   "permanent",
				Sources: cli.EnvVars("AUTO_REPLY_POLICY"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := newLogger(command)

			policy, err := autoreply.ParsePolicy(command.String("auto-reply-policy"))
			if err != nil {
				return err
			}

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

			gate := autoreply.NewGate(autoreply.NewCoordinator(state.Locker, state.Customers, policy, logger), state.Customers)

			allowed, err := gate.ShouldReply(ctx, command.String("conversation"), command.String("event"))
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(command.Root().Writer, "%t\n", allowed)

			return nil
		},
	}
}
