package waiting

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/replyflow/pkg/execctx"
	"github.com/dukex/replyflow/pkg/models"
)

// store persists a valid reply. Profile and custom fields go to the customer
// store and are mirrored on the context's customer snapshot; database storage
// is the UserResponse row itself.
func (m *Manager) store(ctx context.Context, execution *models.WorkflowExecution, nodeID string, config *models.WaitingConfig, value any) error {
	field := config.StorageField

	switch config.StorageType {
	case models.StorageUserProfile, models.StorageCustomField:
		if m.deps.Customers == nil {
			return errors.New("customer storage requires a customer store")
		}

		if execution.CustomerID == "" {
			return fmt.Errorf("node %s: execution has no customer to store %s on", nodeID, field)
		}

		err := m.deps.Customers.SetField(ctx, execution.CustomerID, field, value)
		if err != nil {
			return fmt.Errorf("failed to store %s on customer %s: %w", field, execution.CustomerID, err)
		}

		if config.StorageType == models.StorageUserProfile {
			execctx.Set(execution.Context, execctx.KeyCustomer+"."+field, value)
		} else {
			execctx.Set(execution.Context, execctx.KeyCustomer+".fields."+field, value)
		}
	case models.StorageDatabase:
	case models.StorageSession:
		execctx.Section(execution.Context, execctx.KeyVariables)[field] = value
	case models.StorageTemporary:
		execctx.Section(execution.Context, execctx.KeyTemp)[field] = value
	default:
		problem := &models.ConfigurationError{WorkflowID: execution.WorkflowID}
		problem.Add(nodeID, "storage_type", "unknown storage type %q", config.StorageType)

		return problem
	}

	return nil
}
