package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ogulcanaydogan/kpi-sentinel/pkg/model"
)

// SQLStore implements Storage on top of database/sql for SQLite and PostgreSQL.
type SQLStore struct {
	db *sql.DB
	d  dialect
}

func newSQLStore(db *sql.DB, d dialect) *SQLStore {
	return &SQLStore{db: db, d: d}
}

// Dialect returns the SQL engine name.
func (s *SQLStore) Dialect() string { return s.d.name }

func (s *SQLStore) Close() error {
	return s.db.Close()
}

const alertColumns = `id, kpi_name, dimension, dimension_value, current_value, threshold_value,
	severity, status, alert_status, message, recommendation, related_invoice_id, related_convention_id,
	metadata, recipients, notification_sent, notification_sent_at, notification_channels,
	acknowledged_at, resolved_at, resolved_by, resolved_by_name, resolution_comment, actions_taken,
	archived_at, archived_by, detected_at, version, created_at, updated_at`

const actionColumns = `seq, action_type, actor_id, actor_name, comment, previous_status, new_status, performed_at`

func (s *SQLStore) CreateAlert(ctx context.Context, alert *model.Alert) error {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if alert.DetectedAt.IsZero() {
		alert.DetectedAt = now
	}
	alert.CreatedAt = now
	alert.UpdatedAt = now
	alert.Version = 1

	enc, err := encodeAlert(alert)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create alert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, s.d.rebind(`INSERT INTO alerts (id, scope_key, kpi_name, dimension, dimension_value,
		current_value, threshold_value, severity, status, alert_status, message, recommendation,
		related_invoice_id, related_convention_id, metadata, recipients, notification_sent,
		notification_sent_at, notification_channels, acknowledged_at, resolved_at, resolved_by,
		resolved_by_name, resolution_comment, actions_taken, archived_at, archived_by, detected_at,
		version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		alert.ID, alert.ScopeKey(), alert.KpiName, alert.Dimension, alert.DimensionValue,
		alert.CurrentValue, alert.ThresholdValue, alert.Severity, alert.Status, alert.AlertStatus,
		alert.Message, alert.Recommendation, alert.RelatedInvoiceID, alert.RelatedConventionID,
		enc.metadata, enc.recipients, alert.NotificationSent, nullTime(alert.NotificationSentAt),
		enc.channels, nullTime(alert.AcknowledgedAt), nullTime(alert.ResolvedAt), alert.ResolvedBy,
		alert.ResolvedByName, alert.ResolutionComment, alert.ActionsTaken, nullTime(alert.ArchivedAt),
		alert.ArchivedBy, alert.DetectedAt.UTC(), alert.Version, alert.CreatedAt, alert.UpdatedAt,
	)
	if err != nil {
		if s.d.isUnique(err) {
			return fmt.Errorf("insert alert %s: %w", alert.ScopeKey(), model.ErrDuplicate)
		}
		return fmt.Errorf("insert alert: %w", err)
	}

	history := alert.ActionHistory
	alert.ActionHistory = nil
	if err := s.appendActions(ctx, tx, alert, history); err != nil {
		alert.ActionHistory = history
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create alert: %w", err)
	}
	return nil
}

func (s *SQLStore) GetAlert(ctx context.Context, id string) (*model.Alert, error) {
	row := s.db.QueryRowContext(ctx, s.d.rebind("SELECT "+alertColumns+" FROM alerts WHERE id = ?"), id)
	alert, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("alert %q: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get alert: %w", err)
	}

	alert.ActionHistory, err = s.AlertHistory(ctx, id)
	if err != nil {
		return nil, err
	}
	return alert, nil
}

func (s *SQLStore) FindOpenAlert(ctx context.Context, scopeKey string) (*model.Alert, error) {
	row := s.db.QueryRowContext(ctx, s.d.rebind("SELECT "+alertColumns+
		" FROM alerts WHERE scope_key = ? AND alert_status NOT IN ('RESOLVED', 'ARCHIVED')"), scopeKey)
	alert, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("open alert %q: %w", scopeKey, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find open alert: %w", err)
	}
	return alert, nil
}

func (s *SQLStore) UpdateAlert(ctx context.Context, alert *model.Alert, appended ...model.AlertAction) error {
	enc, err := encodeAlert(alert)
	if err != nil {
		return err
	}
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update alert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, s.d.rebind(`UPDATE alerts SET
		scope_key = ?, kpi_name = ?, dimension = ?, dimension_value = ?, current_value = ?,
		threshold_value = ?, severity = ?, status = ?, alert_status = ?, message = ?, recommendation = ?,
		related_invoice_id = ?, related_convention_id = ?, metadata = ?, recipients = ?,
		notification_sent = ?, notification_sent_at = ?, notification_channels = ?,
		acknowledged_at = ?, resolved_at = ?, resolved_by = ?, resolved_by_name = ?,
		resolution_comment = ?, actions_taken = ?, archived_at = ?, archived_by = ?, detected_at = ?,
		version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`),
		alert.ScopeKey(), alert.KpiName, alert.Dimension, alert.DimensionValue, alert.CurrentValue,
		alert.ThresholdValue, alert.Severity, alert.Status, alert.AlertStatus, alert.Message,
		alert.Recommendation, alert.RelatedInvoiceID, alert.RelatedConventionID, enc.metadata,
		enc.recipients, alert.NotificationSent, nullTime(alert.NotificationSentAt), enc.channels,
		nullTime(alert.AcknowledgedAt), nullTime(alert.ResolvedAt), alert.ResolvedBy,
		alert.ResolvedByName, alert.ResolutionComment, alert.ActionsTaken, nullTime(alert.ArchivedAt),
		alert.ArchivedBy, alert.DetectedAt.UTC(), now, alert.ID, alert.Version,
	)
	if err != nil {
		if s.d.isUnique(err) {
			return fmt.Errorf("update alert %s: %w", alert.ID, model.ErrDuplicate)
		}
		return fmt.Errorf("update alert: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		var version int64
		err := tx.QueryRowContext(ctx, s.d.rebind("SELECT version FROM alerts WHERE id = ?"), alert.ID).Scan(&version)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("alert %q: %w", alert.ID, model.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("check alert version: %w", err)
		}
		return fmt.Errorf("alert %q at version %d, have %d: %w", alert.ID, version, alert.Version, model.ErrConflict)
	}

	if err := s.appendActions(ctx, tx, alert, appended); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update alert: %w", err)
	}
	alert.Version++
	alert.UpdatedAt = now
	return nil
}

// appendActions numbers the actions after the last stored entry, inserts them
// and appends them to the in-memory history.
func (s *SQLStore) appendActions(ctx context.Context, tx *sql.Tx, alert *model.Alert, actions []model.AlertAction) error {
	if len(actions) == 0 {
		return nil
	}

	var last int
	if err := tx.QueryRowContext(ctx, s.d.rebind("SELECT COALESCE(MAX(seq), 0) FROM alert_actions WHERE alert_id = ?"),
		alert.ID).Scan(&last); err != nil {
		return fmt.Errorf("read action sequence: %w", err)
	}

	stored := make([]model.AlertAction, 0, len(actions))
	for i, a := range actions {
		a.Seq = last + i + 1
		if a.PerformedAt.IsZero() {
			a.PerformedAt = time.Now().UTC()
		}
		_, err := tx.ExecContext(ctx, s.d.rebind(`INSERT INTO alert_actions
			(alert_id, seq, action_type, actor_id, actor_name, comment, previous_status, new_status, performed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			alert.ID, a.Seq, a.Type, a.ActorID, a.ActorName, a.Comment, a.PreviousStatus, a.NewStatus, a.PerformedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("insert alert action: %w", err)
		}
		stored = append(stored, a)
	}
	alert.ActionHistory = append(alert.ActionHistory, stored...)
	return nil
}

func (s *SQLStore) DeleteOpenAlert(ctx context.Context, id string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin delete alert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, s.d.rebind(
		"DELETE FROM alerts WHERE id = ? AND alert_status NOT IN ('RESOLVED', 'ARCHIVED')"), id)
	if err != nil {
		return false, fmt.Errorf("delete alert: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx, s.d.rebind("DELETE FROM alert_actions WHERE alert_id = ?"), id); err != nil {
		return false, fmt.Errorf("delete alert actions: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit delete alert: %w", err)
	}
	return true, nil
}

func (s *SQLStore) QueryAlerts(ctx context.Context, filter model.AlertFilter) ([]model.Alert, error) {
	query := "SELECT " + alertColumns + " FROM alerts"
	where, args := buildAlertWhere(filter)
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY detected_at DESC, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, s.d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []model.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert row: %w", err)
		}
		alerts = append(alerts, *a)
	}
	return alerts, rows.Err()
}

func (s *SQLStore) AlertHistory(ctx context.Context, id string) ([]model.AlertAction, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind("SELECT "+actionColumns+
		" FROM alert_actions WHERE alert_id = ? ORDER BY seq"), id)
	if err != nil {
		return nil, fmt.Errorf("query alert history: %w", err)
	}
	defer rows.Close()

	var actions []model.AlertAction
	for rows.Next() {
		var a model.AlertAction
		if err := rows.Scan(&a.Seq, &a.Type, &a.ActorID, &a.ActorName, &a.Comment,
			&a.PreviousStatus, &a.NewStatus, &a.PerformedAt); err != nil {
			return nil, fmt.Errorf("scan alert action: %w", err)
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

func (s *SQLStore) AlertStats(ctx context.Context, filter model.AlertFilter) (*model.AlertStats, error) {
	stats := &model.AlertStats{
		ByStatus:   make(map[model.AlertStatus]int),
		BySeverity: make(map[model.Severity]int),
	}
	where, args := buildAlertWhere(filter)

	for _, field := range []string{"alert_status", "severity"} {
		query := fmt.Sprintf("SELECT %s, COUNT(*) FROM alerts", field)
		if where != "" {
			query += " WHERE " + where
		}
		query += fmt.Sprintf(" GROUP BY %s", field)

		rows, err := s.db.QueryContext(ctx, s.d.rebind(query), args...)
		if err != nil {
			return nil, fmt.Errorf("count alerts by %s: %w", field, err)
		}
		for rows.Next() {
			var key string
			var n int
			if err := rows.Scan(&key, &n); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan %s count: %w", field, err)
			}
			if field == "severity" {
				stats.BySeverity[model.Severity(key)] = n
			} else {
				stats.ByStatus[model.AlertStatus(key)] = n
				stats.Total += n
			}
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("count alerts by %s: %w", field, err)
		}
	}
	return stats, nil
}

// buildAlertWhere constructs a SQL WHERE clause from an AlertFilter.
func buildAlertWhere(filter model.AlertFilter) (string, []any) {
	var conditions []string
	var args []any

	if len(filter.Statuses) > 0 {
		conditions = append(conditions, "alert_status IN ("+placeholders(len(filter.Statuses))+")")
		for _, st := range filter.Statuses {
			args = append(args, string(st))
		}
	}
	if len(filter.KpiNames) > 0 {
		conditions = append(conditions, "kpi_name IN ("+placeholders(len(filter.KpiNames))+")")
		for _, k := range filter.KpiNames {
			args = append(args, k)
		}
	}
	if filter.Dimension != "" {
		conditions = append(conditions, "dimension = ?")
		args = append(args, filter.Dimension)
	}
	if filter.RelatedInvoiceID != "" {
		conditions = append(conditions, "related_invoice_id = ?")
		args = append(args, filter.RelatedInvoiceID)
	}
	if filter.Recipient != "" {
		conditions = append(conditions, `recipients LIKE ? ESCAPE '\'`)
		args = append(args, likeContains(filter.Recipient))
	}
	if filter.Severity != "" {
		conditions = append(conditions, "severity = ?")
		args = append(args, string(filter.Severity))
	}
	if !filter.ResolvedBefore.IsZero() {
		conditions = append(conditions, "resolved_at < ?")
		args = append(args, filter.ResolvedBefore.UTC())
	}
	if !filter.ResolvedAfter.IsZero() {
		conditions = append(conditions, "resolved_at >= ?")
		args = append(args, filter.ResolvedAfter.UTC())
	}

	return strings.Join(conditions, " AND "), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

type encodedAlert struct {
	metadata   string
	recipients string
	channels   string
}

func encodeAlert(alert *model.Alert) (encodedAlert, error) {
	var enc encodedAlert
	metadata := alert.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	b, err := json.Marshal(metadata)
	if err != nil {
		return enc, fmt.Errorf("marshal alert metadata: %w", err)
	}
	enc.metadata = string(b)

	recipients := alert.Recipients
	if recipients == nil {
		recipients = []string{}
	}
	if b, err = json.Marshal(recipients); err != nil {
		return enc, fmt.Errorf("marshal alert recipients: %w", err)
	}
	enc.recipients = string(b)

	channels := alert.NotificationChannels
	if channels == nil {
		channels = []model.Channel{}
	}
	if b, err = json.Marshal(channels); err != nil {
		return enc, fmt.Errorf("marshal alert channels: %w", err)
	}
	enc.channels = string(b)
	return enc, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (*model.Alert, error) {
	var a model.Alert
	var metadata, recipients, channels string
	var sentAt, ackAt, resolvedAt, archivedAt sql.NullTime

	err := row.Scan(&a.ID, &a.KpiName, &a.Dimension, &a.DimensionValue, &a.CurrentValue,
		&a.ThresholdValue, &a.Severity, &a.Status, &a.AlertStatus, &a.Message, &a.Recommendation,
		&a.RelatedInvoiceID, &a.RelatedConventionID, &metadata, &recipients, &a.NotificationSent,
		&sentAt, &channels, &ackAt, &resolvedAt, &a.ResolvedBy, &a.ResolvedByName,
		&a.ResolutionComment, &a.ActionsTaken, &archivedAt, &a.ArchivedBy, &a.DetectedAt,
		&a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if metadata != "" && metadata != "{}" {
		if err := json.Unmarshal([]byte(metadata), &a.Metadata); err != nil {
			return nil, fmt.Errorf("decode alert metadata: %w", err)
		}
	}
	if recipients != "" && recipients != "[]" {
		if err := json.Unmarshal([]byte(recipients), &a.Recipients); err != nil {
			return nil, fmt.Errorf("decode alert recipients: %w", err)
		}
	}
	if channels != "" && channels != "[]" {
		if err := json.Unmarshal([]byte(channels), &a.NotificationChannels); err != nil {
			return nil, fmt.Errorf("decode alert channels: %w", err)
		}
	}
	a.NotificationSentAt = timePtr(sentAt)
	a.AcknowledgedAt = timePtr(ackAt)
	a.ResolvedAt = timePtr(resolvedAt)
	a.ArchivedAt = timePtr(archivedAt)
	return &a, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil || t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
