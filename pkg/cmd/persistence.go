package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dukex/replyflow/pkg/persistence"
	"github.com/dukex/replyflow/pkg/persistence/file"
	"github.com/dukex/replyflow/pkg/persistence/postgresql"
)

// NewPersistence picks the backend from the URL scheme. postgres:// and
// postgresql:// use PostgreSQL; anything else is a directory for file storage,
// with an optional file:// prefix.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parsePersistenceProvider(databaseURL) {
	case "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	default:
		return file.NewPersistence(strings.TrimPrefix(databaseURL, "file://")), nil
	}
}

func parsePersistenceProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	switch provider {
	case "postgres", "postgresql":
		return "postgresql"
	default:
		return "file"
	}
}
