package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/dukex/replyflow/pkg/models"
	"github.com/dukex/replyflow/pkg/persistence"
	"github.com/google/uuid"
)

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

// nodeConfig is the JSONB shape of a node's typed configuration.
type nodeConfig struct {
	When      *models.WhenConfig      `json:"when,omitempty"`
	Condition *models.ConditionConfig `json:"condition,omitempty"`
	Action    *models.ActionConfig    `json:"action,omitempty"`
	Waiting   *models.WaitingConfig   `json:"waiting,omitempty"`
}

const selectWorkflow = `
	SELECT
		id
	  , name
	  , description
	  , status
	  , COALESCE(owner, '')
	  , created_at
	  , updated_at
	FROM workflows
`

// GetAll returns all workflows from the database.
func (r *WorkflowRepository) GetAll(ctx context.Context) ([]*models.Workflow, error) {
	return r.query(ctx, selectWorkflow+" WHERE deleted_at IS NULL ORDER BY created_at DESC")
}

// GetByID returns a workflow by its ID.
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	row := r.db.QueryRowContext(ctx, selectWorkflow+" WHERE id = $1 AND deleted_at IS NULL", id)

	workflow, err := scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}

	err = r.loadNodesAndConnections(ctx, workflow)
	if err != nil {
		return nil, err
	}

	return workflow, nil
}

// ListWorkflows returns a filtered, sorted page of workflows.
func (r *WorkflowRepository) ListWorkflows(ctx context.Context, opts persistence.ListWorkflowsOptions) (*persistence.WorkflowListResult, error) {
	if opts.Limit <= 0 || opts.Limit > 100 {
		opts.Limit = 20
	}

	if opts.SortBy == "" {
		opts.SortBy = "created_at"
	}

	if !slices.Contains(persistence.AllowedSortFields, opts.SortBy) {
		return nil, fmt.Errorf("%w: %s", persistence.ErrInvalidSortField, opts.SortBy)
	}

	order := "DESC"
	if strings.EqualFold(opts.SortOrder, "asc") {
		order = "ASC"
	}

	where := []string{"deleted_at IS NULL"}
	args := []any{}

	if opts.OwnerID != "" {
		args = append(args, opts.OwnerID)
		where = append(where, fmt.Sprintf("owner = $%d", len(args)))
	}

	if opts.Status != nil {
		args = append(args, string(*opts.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}

	filter := " WHERE " + strings.Join(where, " AND ")

	var total int64

	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM workflows"+filter, args...).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("failed to count workflows: %w", err)
	}

	// opts.SortBy is checked against the allowlist above.
	query := fmt.Sprintf("%s%s ORDER BY %s %s LIMIT %d OFFSET %d", selectWorkflow, filter, opts.SortBy, order, opts.Limit, opts.Offset)

	workflows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	return &persistence.WorkflowListResult{
		Workflows:   workflows,
		TotalCount:  total,
		HasNextPage: int64(opts.Offset+len(workflows)) < total,
	}, nil
}

func (r *WorkflowRepository) query(ctx context.Context, query string, args ...any) ([]*models.Workflow, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	for _, workflow := range workflows {
		err := r.loadNodesAndConnections(ctx, workflow)
		if err != nil {
			return nil, err
		}
	}

	return workflows, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row scanner) (*models.Workflow, error) {
	var workflow models.Workflow

	err := row.Scan(
		&workflow.ID,
		&workflow.Name,
		&workflow.Description,
		&workflow.Status,
		&workflow.Owner,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &workflow, nil
}

// Save upserts a workflow and replaces its nodes and connections.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) (err error) {
	now := time.Now().UTC()

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	if workflow.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate workflow ID: %w", err)
		}

		workflow.ID = id.String()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflows (id, name, description, status, owner, created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULL)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			owner = EXCLUDED.owner,
			updated_at = EXCLUDED.updated_at,
			deleted_at = NULL
	`,
		workflow.ID,
		workflow.Name,
		workflow.Description,
		workflow.Status,
		workflow.Owner,
		workflow.CreatedAt,
		workflow.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save workflow base: %w", err)
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM workflow_connections WHERE workflow_id = $1", workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to delete existing connections: %w", err)
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM workflow_nodes WHERE workflow_id = $1", workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to delete existing nodes: %w", err)
	}

	for position, node := range workflow.Nodes {
		node.WorkflowID = workflow.ID

		configJSON, marshalErr := json.Marshal(nodeConfig{
			When:      node.When,
			Condition: node.Condition,
			Action:    node.Action,
			Waiting:   node.Waiting,
		})
		if marshalErr != nil {
			err = marshalErr

			return fmt.Errorf("failed to marshal node %s configuration: %w", node.ID, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO workflow_nodes (workflow_id, id, node_type, title, is_active, config, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, workflow.ID, node.ID, node.Type, node.Title, node.IsActive, configJSON, position)
		if err != nil {
			return fmt.Errorf("failed to save node %s: %w", node.ID, err)
		}
	}

	for position, conn := range workflow.Connections {
		conn.WorkflowID = workflow.ID

		if conn.ID == "" {
			conn.ID = uuid.NewString()
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO workflow_connections (workflow_id, id, source_node_id, target_node_id, connection_type, condition, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, workflow.ID, conn.ID, conn.SourceNodeID, conn.TargetNodeID, conn.ConnectionType, conn.Condition, position)
		if err != nil {
			return fmt.Errorf("failed to save connection %s: %w", conn.ID, err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Delete soft deletes a workflow by setting deleted_at timestamp.
func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE workflows SET deleted_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	return nil
}

func (r *WorkflowRepository) loadNodesAndConnections(ctx context.Context, workflow *models.Workflow) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, node_type, title, is_active, config
		FROM workflow_nodes
		WHERE workflow_id = $1
		ORDER BY position
	`, workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to query workflow nodes: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	nodes := make([]*models.WorkflowNode, 0)

	for rows.Next() {
		var (
			node       models.WorkflowNode
			configJSON []byte
			config     nodeConfig
		)

		err := rows.Scan(&node.ID, &node.Type, &node.Title, &node.IsActive, &configJSON)
		if err != nil {
			return fmt.Errorf("failed to scan node: %w", err)
		}

		err = json.Unmarshal(configJSON, &config)
		if err != nil {
			return fmt.Errorf("failed to unmarshal node %s configuration: %w", node.ID, err)
		}

		node.WorkflowID = workflow.ID
		node.When = config.When
		node.Condition = config.Condition
		node.Action = config.Action
		node.Waiting = config.Waiting

		nodes = append(nodes, &node)
	}

	err = rows.Err()
	if err != nil {
		return fmt.Errorf("error iterating nodes: %w", err)
	}

	workflow.Nodes = nodes

	connRows, err := r.db.QueryContext(ctx, `
		SELECT id, source_node_id, target_node_id, connection_type, condition
		FROM workflow_connections
		WHERE workflow_id = $1
		ORDER BY position
	`, workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to query workflow connections: %w", err)
	}

	defer closeRows(ctx, r.logger, connRows)

	connections := make([]*models.NodeConnection, 0)

	for connRows.Next() {
		var (
			conn      models.NodeConnection
			condition sql.NullBool
		)

		err := connRows.Scan(&conn.ID, &conn.SourceNodeID, &conn.TargetNodeID, &conn.ConnectionType, &condition)
		if err != nil {
			return fmt.Errorf("failed to scan connection: %w", err)
		}

		if condition.Valid {
			value := condition.Bool
			conn.Condition = &value
		}

		conn.WorkflowID = workflow.ID
		connections = append(connections, &conn)
	}

	err = connRows.Err()
	if err != nil {
		return fmt.Errorf("error iterating connections: %w", err)
	}

	workflow.Connections = connections

	return nil
}
