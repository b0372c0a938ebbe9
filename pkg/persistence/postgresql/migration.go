package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE workflows (
				id VARCHAR(255) PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL CHECK (status IN ('draft', 'active', 'paused')),
				owner VARCHAR(255),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflows_status ON workflows(status);
			CREATE INDEX idx_workflows_owner ON workflows(owner);
			CREATE INDEX idx_workflows_deleted_at ON workflows(deleted_at);

			CREATE TABLE workflow_nodes (
				workflow_id VARCHAR(255) NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				id VARCHAR(255) NOT NULL,
				node_type VARCHAR(50) NOT NULL CHECK (node_type IN ('when', 'condition', 'action', 'waiting')),
				title VARCHAR(255) NOT NULL DEFAULT '',
				is_active BOOLEAN NOT NULL DEFAULT true,
				config JSONB NOT NULL DEFAULT '{}',
				position INT NOT NULL,
				PRIMARY KEY (workflow_id, id)
			);

			CREATE INDEX idx_workflow_nodes_type ON workflow_nodes(node_type);

			CREATE TABLE workflow_connections (
				workflow_id VARCHAR(255) NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				id VARCHAR(255) NOT NULL,
				source_node_id VARCHAR(255) NOT NULL,
				target_node_id VARCHAR(255) NOT NULL,
				connection_type VARCHAR(50) NOT NULL CHECK (connection_type IN ('success', 'failure', 'timeout', 'skip')),
				condition BOOLEAN,
				position INT NOT NULL,
				PRIMARY KEY (workflow_id, id),
				FOREIGN KEY (workflow_id, source_node_id) REFERENCES workflow_nodes(workflow_id, id) ON DELETE CASCADE,
				FOREIGN KEY (workflow_id, target_node_id) REFERENCES workflow_nodes(workflow_id, id) ON DELETE CASCADE
			);
		`,
		2: `
			CREATE TABLE workflow_executions (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				entry_node_id VARCHAR(255) NOT NULL,
				current_node_id VARCHAR(255) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('running', 'waiting', 'scheduled', 'completed', 'failed')),
				context JSONB NOT NULL DEFAULT '{}',
				trigger_event_id VARCHAR(255) NOT NULL DEFAULT '',
				customer_id VARCHAR(255) NOT NULL DEFAULT '',
				conversation_id VARCHAR(255) NOT NULL DEFAULT '',
				channel VARCHAR(100) NOT NULL DEFAULT '',
				waiting JSONB,
				resume_at TIMESTAMP WITH TIME ZONE,
				steps INT NOT NULL DEFAULT 0,
				error TEXT NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflow_executions_workflow ON workflow_executions(workflow_id);
			CREATE INDEX idx_workflow_executions_waiting ON workflow_executions(conversation_id, created_at) WHERE status = 'waiting';

			CREATE TABLE user_responses (
				id VARCHAR(255) PRIMARY KEY,
				execution_id VARCHAR(255) NOT NULL REFERENCES workflow_executions(id) ON DELETE CASCADE,
				waiting_node_id VARCHAR(255) NOT NULL,
				raw_value TEXT NOT NULL,
				is_valid BOOLEAN NOT NULL,
				error_count INT NOT NULL DEFAULT 0,
				storage_field VARCHAR(255) NOT NULL DEFAULT '',
				stored BOOLEAN NOT NULL DEFAULT false,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_user_responses_execution ON user_responses(execution_id, created_at);

			CREATE TABLE idempotency_keys (
				key VARCHAR(512) PRIMARY KEY,
				reserved_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE TABLE tasks (
				id VARCHAR(255) PRIMARY KEY,
				type VARCHAR(50) NOT NULL,
				execution_id VARCHAR(255) NOT NULL,
				node_id VARCHAR(255) NOT NULL,
				dedupe_key VARCHAR(512) NOT NULL,
				run_at TIMESTAMP WITH TIME ZONE NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'dispatched')),
				payload JSONB,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				dispatched_at TIMESTAMP WITH TIME ZONE
			);

			CREATE UNIQUE INDEX idx_tasks_pending_dedupe ON tasks(dedupe_key) WHERE status = 'pending';
			CREATE INDEX idx_tasks_due ON tasks(run_at) WHERE status = 'pending';
		`,
	}
}
