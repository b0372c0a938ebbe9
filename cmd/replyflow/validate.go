package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dukex/replyflow/pkg/models"
	"github.com/dukex/replyflow/pkg/services"
)

var ErrInvalidWorkflows = errors.New("invalid workflows")

func loadWorkflow(path string) (*models.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var workflow models.Workflow

	err = json.Unmarshal(data, &workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return &workflow, nil
}

// validateFiles reports every problem of every file to out and fails when
// any file is unreadable or invalid.
func validateFiles(paths []string, out io.Writer) error {
	failed := 0

	for _, path := range paths {
		workflow, err := loadWorkflow(path)
		if err == nil {
			err = services.Validate(workflow)
		}

		if err == nil {
			_, _ = fmt.Fprintf(out, "%s: ok\n", path)

			continue
		}

		failed++

		var problems *models.ConfigurationError
		if errors.As(err, &problems) {
			for _, problem := range problems.Problems {
				_, _ = fmt.Fprintf(out, "%s: %s\n", path, problem.String())
			}

			continue
		}

		_, _ = fmt.Fprintf(out, "%s: %v\n", path, err)
	}

	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", ErrInvalidWorkflows, failed, len(paths))
	}

	return nil
}
