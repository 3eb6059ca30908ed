package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Open connects to PostgreSQL through the pgx stdlib driver and verifies the
// connection before returning.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// Schema is applied at startup; columns mirror the persisted application
// record shape. statusHistory and notifications are jsonb so bulk status
// transitions can append and mark in a single statement.
const Schema = `
CREATE TABLE IF NOT EXISTS certificate_applications (
    id                         BIGSERIAL PRIMARY KEY,
    application_id             TEXT NOT NULL UNIQUE,
    user_identifier            TEXT NOT NULL,
    mobile_uid                 TEXT NOT NULL,
    status                     TEXT NOT NULL,
    cancel_reason              TEXT,
    reason_code                TEXT NOT NULL,
    reason_name                TEXT NOT NULL,
    cert_type                  TEXT NOT NULL,
    is_download_action         BOOLEAN NOT NULL DEFAULT FALSE,
    is_view_action             BOOLEAN NOT NULL DEFAULT FALSE,
    sending_request_time       TIMESTAMPTZ,
    receiving_application_time TIMESTAMPTZ,
    applicant                  JSONB NOT NULL,
    public_service             JSONB,
    notifications              JSONB NOT NULL DEFAULT '{}'::jsonb,
    status_history             JSONB NOT NULL DEFAULT '[]'::jsonb,
    created_at                 TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at                 TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_certificate_applications_user_status
    ON certificate_applications (user_identifier, status);
CREATE INDEX IF NOT EXISTS idx_certificate_applications_status
    ON certificate_applications (status);
`

// Migrate creates the schema when missing. Production deployments run real
// migrations; this keeps dev and integration tests self-contained.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
