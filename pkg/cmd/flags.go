package cmd

import (
	"context"
	"log/slog"
	"os"

	"github.com/dukex/replyflow/pkg/channels/kafka"
	"github.com/dukex/replyflow/pkg/email/smtp"
	"github.com/dukex/replyflow/pkg/llm/openai"
	"github.com/dukex/replyflow/pkg/messaging/twilio"
	"github.com/dukex/replyflow/pkg/otelhelper"
	"github.com/joho/godotenv"
	cli "github.com/urfave/cli/v3"
)

// LoadEnvFile reads .env into the process environment when present, so flag
// sources see its values.
func LoadEnvFile() {
	err := godotenv.Load()
	if err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to load .env file", "error", err)
	}
}

func LogLevelFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "log-level",
		Usage:   "Log level (debug, info, warn, error)",
		Value:   "info",
		Sources: cli.EnvVars("LOG_LEVEL"),
	}
}

func DatabaseFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "database-url",
		Usage:    "Database connection URL for persistence (postgres://... or a directory)",
		Required: true,
		Sources:  cli.EnvVars("DATABASE_URL"),
	}
}

// BusFlags configure the task bus, shared state and tracing.
func BusFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (kafka, gochannel)",
			Value:   "kafka",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated Kafka brokers",
			Value:   "localhost:9092",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL for locks and customer state, in-memory when empty",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.BoolFlag{
			Name:    "tracing",
			Usage:   "Export traces over OTLP/HTTP (configured by OTEL_EXPORTER_OTLP_* variables)",
			Sources: cli.EnvVars("TRACING_ENABLED"),
		},
	}
}

// InfrastructureFlags configure storage, the task bus and shared state.
func InfrastructureFlags() []cli.Flag {
	return append([]cli.Flag{DatabaseFlag()}, BusFlags()...)
}

// EngineFlags tune the traversal engine.
func EngineFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:    "max-steps",
			Usage:   "Maximum node visits of a single execution",
			Value:   1000,
			Sources: cli.EnvVars("MAX_STEPS"),
		},
		&cli.StringFlag{
			Name:    "auto-reply-policy",
			Usage:   "Auto-reply after transfer_to_human (permanent, execution)",
			Value:   "permanent",
			Sources: cli.EnvVars("AUTO_REPLY_POLICY"),
		},
		&cli.StringFlag{
			Name:    "expired-policy",
			Usage:   "Outcome of an expired wait without a timeout edge (complete, fail)",
			Value:   "complete",
			Sources: cli.EnvVars("EXPIRED_POLICY"),
		},
		&cli.StringFlag{
			Name:    "human-department",
			Usage:   "Department transfer_to_human routes to by default",
			Value:   "human",
			Sources: cli.EnvVars("HUMAN_DEPARTMENT"),
		},
	}
}

// ProviderFlags configure the external collaborators.
func ProviderFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "openai-api-key", Usage: "OpenAI API key for ai_prompt conditions", Sources: cli.EnvVars("OPENAI_API_KEY")},
		&cli.StringFlag{Name: "openai-model", Usage: "OpenAI chat model", Value: "gpt-4o-mini", Sources: cli.EnvVars("OPENAI_MODEL")},
		&cli.StringFlag{Name: "openai-base-url", Usage: "OpenAI API endpoint override", Sources: cli.EnvVars("OPENAI_BASE_URL")},
		&cli.StringFlag{Name: "twilio-account-sid", Usage: "Twilio account SID", Sources: cli.EnvVars("TWILIO_ACCOUNT_SID")},
		&cli.StringFlag{Name: "twilio-auth-token", Usage: "Twilio auth token", Sources: cli.EnvVars("TWILIO_AUTH_TOKEN")},
		&cli.StringFlag{Name: "twilio-from", Usage: "Twilio sender number, whatsapp:+... for WhatsApp", Sources: cli.EnvVars("TWILIO_FROM")},
		&cli.StringFlag{Name: "smtp-host", Usage: "SMTP server host", Sources: cli.EnvVars("SMTP_HOST")},
		&cli.IntFlag{Name: "smtp-port", Usage: "SMTP server port", Value: 587, Sources: cli.EnvVars("SMTP_PORT")},
		&cli.StringFlag{Name: "smtp-username", Usage: "SMTP username", Sources: cli.EnvVars("SMTP_USERNAME")},
		&cli.StringFlag{Name: "smtp-password", Usage: "SMTP password", Sources: cli.EnvVars("SMTP_PASSWORD")},
		&cli.StringFlag{Name: "smtp-from", Usage: "Default email sender", Sources: cli.EnvVars("SMTP_FROM")},
	}
}

func Brokers(command *cli.Command) []string {
	return kafka.ParseBrokers(command.String("kafka-brokers"))
}

func EngineConfigFromCommand(command *cli.Command, workerID string) EngineConfig {
	return EngineConfig{
		WorkerID:        workerID,
		MaxSteps:        command.Int("max-steps"),
		AutoReplyPolicy: command.String("auto-reply-policy"),
		ExpiredPolicy:   command.String("expired-policy"),
		HumanDepartment: command.String("human-department"),
	}
}

func ProviderConfigFromCommand(command *cli.Command) ProviderConfig {
	return ProviderConfig{
		OpenAI: openai.Config{
			APIKey:  command.String("openai-api-key"),
			Model:   command.String("openai-model"),
			BaseURL: command.String("openai-base-url"),
		},
		Twilio: twilio.Config{
			AccountSID: command.String("twilio-account-sid"),
			AuthToken:  command.String("twilio-auth-token"),
			From:       command.String("twilio-from"),
		},
		SMTP: smtp.Config{
			Host:     command.String("smtp-host"),
			Port:     command.Int("smtp-port"),
			Username: command.String("smtp-username"),
			Password: command.String("smtp-password"),
			From:     command.String("smtp-from"),
		},
	}
}

// SetupTracing installs the OTLP tracer when enabled and returns its shutdown.
func SetupTracing(ctx context.Context, enabled bool, serviceName string, logger *slog.Logger) func() {
	if !enabled {
		return func() {}
	}

	_, shutdown, err := otelhelper.NewTracer(ctx, serviceName)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to initialize tracer, continuing without tracing", "error", err)

		return func() {}
	}

	return func() {
		err := shutdown(context.WithoutCancel(ctx))
		if err != nil {
			logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
		}
	}
}
