// Package schema holds the work_items DDL. Bootstrap is a one-time external
// step; store operations assume the table already exists.
package schema

import (
	"context"
	"database/sql"
	"fmt"
)

const DDL = `
CREATE TABLE IF NOT EXISTS work_items (
    id BIGSERIAL PRIMARY KEY,
    status SMALLINT NOT NULL,
    routing_key VARCHAR(255) NOT NULL,
    content BYTEA,
    metadata BYTEA,
    error TEXT,
    created_at TIMESTAMP WITH TIME ZONE NOT NULL,
    claimed_at TIMESTAMP WITH TIME ZONE,
    completed_at TIMESTAMP WITH TIME ZONE
);
CREATE INDEX IF NOT EXISTS idx_work_items_status_routing_key ON work_items (status, routing_key);
CREATE INDEX IF NOT EXISTS idx_work_items_created_at ON work_items (created_at);
`

// Ensure creates the table and indexes if missing.
func Ensure(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, DDL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
