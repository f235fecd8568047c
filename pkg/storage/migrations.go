package storage

import (
	"database/sql"
	"fmt"
)

var sqliteMigrations = []string{
	// Migration 1: alerts and their audit trail
	`CREATE TABLE IF NOT EXISTS alerts (
		id                    TEXT PRIMARY KEY,
		kpi_name              TEXT NOT NULL,
		scope_key             TEXT NOT NULL,
		dimension             TEXT NOT NULL DEFAULT 'GLOBAL',
		dimension_value       TEXT NOT NULL DEFAULT '',
		current_value         REAL NOT NULL DEFAULT 0.0,
		threshold_value       REAL NOT NULL DEFAULT 0.0,
		severity              TEXT NOT NULL CHECK(severity IN ('LOW', 'MEDIUM', 'HIGH', 'CRITICAL')),
		status                TEXT NOT NULL CHECK(status IN ('SAIN', 'A_SURVEILLER', 'ANORMAL')),
		alert_status          TEXT NOT NULL CHECK(alert_status IN ('PENDING_DECISION', 'SENT_TO_PM', 'ACKNOWLEDGED', 'IN_PROGRESS', 'RESOLVED', 'ARCHIVED')),
		message               TEXT NOT NULL DEFAULT '',
		recommendation        TEXT NOT NULL DEFAULT '',
		related_invoice_id    TEXT NOT NULL DEFAULT '',
		related_convention_id TEXT NOT NULL DEFAULT '',
		metadata              TEXT NOT NULL DEFAULT '{}',
		recipients            TEXT NOT NULL DEFAULT '[]',
		notification_sent     INTEGER NOT NULL DEFAULT 0,
		notification_sent_at  DATETIME,
		notification_channels TEXT NOT NULL DEFAULT '[]',
		acknowledged_at       DATETIME,
		resolved_at           DATETIME,
		resolved_by           TEXT NOT NULL DEFAULT '',
		resolved_by_name      TEXT NOT NULL DEFAULT '',
		resolution_comment    TEXT NOT NULL DEFAULT '',
		actions_taken         TEXT NOT NULL DEFAULT '',
		archived_at           DATETIME,
		archived_by           TEXT NOT NULL DEFAULT '',
		detected_at           DATETIME NOT NULL,
		version               INTEGER NOT NULL DEFAULT 1,
		created_at            DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at            DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_open_scope ON alerts(scope_key)
		WHERE alert_status NOT IN ('RESOLVED', 'ARCHIVED');
	CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(alert_status);
	CREATE INDEX IF NOT EXISTS idx_alerts_kpi ON alerts(kpi_name);
	CREATE INDEX IF NOT EXISTS idx_alerts_dimension ON alerts(dimension);
	CREATE INDEX IF NOT EXISTS idx_alerts_invoice ON alerts(related_invoice_id);

	CREATE TABLE IF NOT EXISTS alert_actions (
		alert_id        TEXT NOT NULL,
		seq             INTEGER NOT NULL,
		action_type     TEXT NOT NULL,
		actor_id        TEXT NOT NULL DEFAULT '',
		actor_name      TEXT NOT NULL DEFAULT '',
		comment         TEXT NOT NULL DEFAULT '',
		previous_status TEXT NOT NULL DEFAULT '',
		new_status      TEXT NOT NULL,
		performed_at    DATETIME NOT NULL,
		PRIMARY KEY (alert_id, seq)
	);

	CREATE TRIGGER IF NOT EXISTS alert_actions_append_only
	BEFORE UPDATE ON alert_actions
	BEGIN
		SELECT RAISE(ABORT, 'alert actions are append-only');
	END;`,

	// Migration 2: thresholds and the read-only collaborator snapshots
	`CREATE TABLE IF NOT EXISTS kpi_thresholds (
		id              TEXT PRIMARY KEY,
		kpi_name        TEXT NOT NULL,
		dimension       TEXT NOT NULL DEFAULT 'GLOBAL',
		dimension_value TEXT NOT NULL DEFAULT '',
		low_threshold   REAL NOT NULL,
		high_threshold  REAL NOT NULL,
		unit            TEXT NOT NULL DEFAULT '',
		description     TEXT NOT NULL DEFAULT '',
		enabled         INTEGER NOT NULL DEFAULT 1,
		updated_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (kpi_name, dimension, dimension_value)
	);

	CREATE TABLE IF NOT EXISTS invoices (
		id             TEXT PRIMARY KEY,
		invoice_number TEXT NOT NULL DEFAULT '',
		reference      TEXT NOT NULL DEFAULT '',
		client_id      TEXT NOT NULL DEFAULT '',
		client_email   TEXT NOT NULL DEFAULT '',
		convention_id  TEXT NOT NULL DEFAULT '',
		amount         REAL NOT NULL DEFAULT 0.0,
		status         TEXT NOT NULL,
		issue_date     DATETIME,
		due_date       DATETIME,
		paid_at        DATETIME,
		created_by     TEXT NOT NULL DEFAULT '',
		created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_invoices_status ON invoices(status);

	CREATE TABLE IF NOT EXISTS users (
		id        TEXT PRIMARY KEY,
		username  TEXT NOT NULL UNIQUE,
		full_name TEXT NOT NULL DEFAULT '',
		email     TEXT NOT NULL DEFAULT '',
		phone     TEXT NOT NULL DEFAULT '',
		roles     TEXT NOT NULL DEFAULT '[]'
	);

	CREATE TABLE IF NOT EXISTS notifications (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		type       TEXT NOT NULL,
		title      TEXT NOT NULL,
		message    TEXT NOT NULL,
		severity   TEXT NOT NULL,
		category   TEXT NOT NULL DEFAULT '',
		is_read    INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id);`,
}

var postgresMigrations = []string{
	// Migration 1: alerts and their audit trail
	`CREATE TABLE IF NOT EXISTS alerts (
		id                    TEXT PRIMARY KEY,
		kpi_name              TEXT NOT NULL,
		scope_key             TEXT NOT NULL,
		dimension             TEXT NOT NULL DEFAULT 'GLOBAL',
		dimension_value       TEXT NOT NULL DEFAULT '',
		current_value         DOUBLE PRECISION NOT NULL DEFAULT 0,
		threshold_value       DOUBLE PRECISION NOT NULL DEFAULT 0,
		severity              TEXT NOT NULL CHECK (severity IN ('LOW', 'MEDIUM', 'HIGH', 'CRITICAL')),
		status                TEXT NOT NULL CHECK (status IN ('SAIN', 'A_SURVEILLER', 'ANORMAL')),
		alert_status          TEXT NOT NULL CHECK (alert_status IN ('PENDING_DECISION', 'SENT_TO_PM', 'ACKNOWLEDGED', 'IN_PROGRESS', 'RESOLVED', 'ARCHIVED')),
		message               TEXT NOT NULL DEFAULT '',
		recommendation        TEXT NOT NULL DEFAULT '',
		related_invoice_id    TEXT NOT NULL DEFAULT '',
		related_convention_id TEXT NOT NULL DEFAULT '',
		metadata              TEXT NOT NULL DEFAULT '{}',
		recipients            TEXT NOT NULL DEFAULT '[]',
		notification_sent     BOOLEAN NOT NULL DEFAULT FALSE,
		notification_sent_at  TIMESTAMPTZ,
		notification_channels TEXT NOT NULL DEFAULT '[]',
		acknowledged_at       TIMESTAMPTZ,
		resolved_at           TIMESTAMPTZ,
		resolved_by           TEXT NOT NULL DEFAULT '',
		resolved_by_name      TEXT NOT NULL DEFAULT '',
		resolution_comment    TEXT NOT NULL DEFAULT '',
		actions_taken         TEXT NOT NULL DEFAULT '',
		archived_at           TIMESTAMPTZ,
		archived_by           TEXT NOT NULL DEFAULT '',
		detected_at           TIMESTAMPTZ NOT NULL,
		version               BIGINT NOT NULL DEFAULT 1,
		created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_open_scope ON alerts(scope_key)
		WHERE alert_status NOT IN ('RESOLVED', 'ARCHIVED');
	CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(alert_status);
	CREATE INDEX IF NOT EXISTS idx_alerts_kpi ON alerts(kpi_name);
	CREATE INDEX IF NOT EXISTS idx_alerts_dimension ON alerts(dimension);
	CREATE INDEX IF NOT EXISTS idx_alerts_invoice ON alerts(related_invoice_id);

	CREATE TABLE IF NOT EXISTS alert_actions (
		alert_id        TEXT NOT NULL,
		seq             INTEGER NOT NULL,
		action_type     TEXT NOT NULL,
		actor_id        TEXT NOT NULL DEFAULT '',
		actor_name      TEXT NOT NULL DEFAULT '',
		comment         TEXT NOT NULL DEFAULT '',
		previous_status TEXT NOT NULL DEFAULT '',
		new_status      TEXT NOT NULL,
		performed_at    TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (alert_id, seq)
	);

	CREATE OR REPLACE RULE alert_actions_append_only AS
		ON UPDATE TO alert_actions DO INSTEAD NOTHING;`,

	// Migration 2: thresholds and the read-only collaborator snapshots
	`CREATE TABLE IF NOT EXISTS kpi_thresholds (
		id              TEXT PRIMARY KEY,
		kpi_name        TEXT NOT NULL,
		dimension       TEXT NOT NULL DEFAULT 'GLOBAL',
		dimension_value TEXT NOT NULL DEFAULT '',
		low_threshold   DOUBLE PRECISION NOT NULL,
		high_threshold  DOUBLE PRECISION NOT NULL,
		unit            TEXT NOT NULL DEFAULT '',
		description     TEXT NOT NULL DEFAULT '',
		enabled         BOOLEAN NOT NULL DEFAULT TRUE,
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (kpi_name, dimension, dimension_value)
	);

	CREATE TABLE IF NOT EXISTS invoices (
		id             TEXT PRIMARY KEY,
		invoice_number TEXT NOT NULL DEFAULT '',
		reference      TEXT NOT NULL DEFAULT '',
		client_id      TEXT NOT NULL DEFAULT '',
		client_email   TEXT NOT NULL DEFAULT '',
		convention_id  TEXT NOT NULL DEFAULT '',
		amount         DOUBLE PRECISION NOT NULL DEFAULT 0,
		status         TEXT NOT NULL,
		issue_date     TIMESTAMPTZ,
		due_date       TIMESTAMPTZ,
		paid_at        TIMESTAMPTZ,
		created_by     TEXT NOT NULL DEFAULT '',
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_invoices_status ON invoices(status);

	CREATE TABLE IF NOT EXISTS users (
		id        TEXT PRIMARY KEY,
		username  TEXT NOT NULL UNIQUE,
		full_name TEXT NOT NULL DEFAULT '',
		email     TEXT NOT NULL DEFAULT '',
		phone     TEXT NOT NULL DEFAULT '',
		roles     TEXT NOT NULL DEFAULT '[]'
	);

	CREATE TABLE IF NOT EXISTS notifications (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		type       TEXT NOT NULL,
		title      TEXT NOT NULL,
		message    TEXT NOT NULL,
		severity   TEXT NOT NULL,
		category   TEXT NOT NULL DEFAULT '',
		is_read    BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id);`,
}

// runMigrations applies pending schema migrations.
func runMigrations(db *sql.DB, d dialect) error {
	// Ensure migration tracking table exists
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at ` + d.timestampType + ` NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		return fmt.Errorf("create migration table: %w", err)
	}

	var currentVersion int
	row := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("check migration version: %w", err)
	}

	for i := currentVersion; i < len(d.migrations); i++ {
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i+1, err)
		}

		if _, err := tx.Exec(d.migrations[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("run migration %d: %w", i+1, err)
		}

		if _, err := tx.Exec(d.rebind("INSERT INTO schema_migrations (version) VALUES (?)"), i+1); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", i+1, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
	}

	return nil
}
