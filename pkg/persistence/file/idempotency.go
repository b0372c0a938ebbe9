package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// IdempotencyRepository records reserved keys as exclusive-create files.
type IdempotencyRepository struct {
	dir string
}

// NewIdempotencyRepository creates a new idempotency repository.
func NewIdempotencyRepository(root string) *IdempotencyRepository {
	return &IdempotencyRepository{dir: filepath.Join(root, "idempotency")}
}

type reservation struct {
	Key        string    `json:"key"`
	ReservedAt time.Time `json:"reserved_at"`
}

func (ir *IdempotencyRepository) Reserve(_ context.Context, key string) (bool, error) {
	return createJSON(ir.dir, keyFileName(key), reservation{Key: key, ReservedAt: time.Now().UTC()})
}

func (ir *IdempotencyRepository) Release(_ context.Context, key string) error {
	err := os.Remove(filepath.Join(ir.dir, keyFileName(key)+".json"))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to release key %s: %w", key, err)
	}

	return nil
}
