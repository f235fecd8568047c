package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ogulcanaydogan/kpi-sentinel/pkg/model"
)

func (s *SQLStore) SetThreshold(ctx context.Context, t *model.Threshold) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Dimension == "" {
		t.Dimension = model.DimensionGlobal
	}
	t.UpdatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, s.d.rebind(
		`INSERT INTO kpi_thresholds (id, kpi_name, dimension, dimension_value, low_threshold, high_threshold,
			unit, description, enabled, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(kpi_name, dimension, dimension_value) DO UPDATE SET
		   low_threshold = excluded.low_threshold,
		   high_threshold = excluded.high_threshold,
		   unit = excluded.unit,
		   description = excluded.description,
		   enabled = excluded.enabled,
		   updated_at = excluded.updated_at`),
		t.ID, t.KpiName, t.Dimension, t.DimensionValue, t.Low, t.High,
		t.Unit, t.Description, t.Enabled, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("set threshold: %w", err)
	}
	return nil
}

const thresholdColumns = `id, kpi_name, dimension, dimension_value, low_threshold, high_threshold,
	unit, description, enabled, updated_at`

func scanThreshold(row rowScanner) (*model.Threshold, error) {
	var t model.Threshold
	err := row.Scan(&t.ID, &t.KpiName, &t.Dimension, &t.DimensionValue, &t.Low, &t.High,
		&t.Unit, &t.Description, &t.Enabled, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *SQLStore) GetThreshold(ctx context.Context, kpiName, dimension, dimensionValue string) (*model.Threshold, error) {
	if dimension == "" {
		dimension = model.DimensionGlobal
	}
	row := s.db.QueryRowContext(ctx, s.d.rebind("SELECT "+thresholdColumns+
		" FROM kpi_thresholds WHERE kpi_name = ? AND dimension = ? AND dimension_value = ?"),
		kpiName, dimension, dimensionValue)
	t, err := scanThreshold(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("threshold %s/%s/%s: %w", kpiName, dimension, dimensionValue, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get threshold: %w", err)
	}
	return t, nil
}

func (s *SQLStore) ListThresholds(ctx context.Context) ([]model.Threshold, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+thresholdColumns+
		" FROM kpi_thresholds ORDER BY kpi_name, dimension, dimension_value")
	if err != nil {
		return nil, fmt.Errorf("list thresholds: %w", err)
	}
	defer rows.Close()

	var thresholds []model.Threshold
	for rows.Next() {
		t, err := scanThreshold(rows)
		if err != nil {
			return nil, fmt.Errorf("scan threshold row: %w", err)
		}
		thresholds = append(thresholds, *t)
	}
	return thresholds, rows.Err()
}

func (s *SQLStore) UpsertInvoice(ctx context.Context, inv *model.Invoice) error {
	if inv.ID == "" {
		inv.ID = uuid.New().String()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, s.d.rebind(
		`INSERT INTO invoices (id, invoice_number, reference, client_id, client_email, convention_id,
			amount, status, issue_date, due_date, paid_at, created_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   invoice_number = excluded.invoice_number,
		   reference = excluded.reference,
		   client_id = excluded.client_id,
		   client_email = excluded.client_email,
		   convention_id = excluded.convention_id,
		   amount = excluded.amount,
		   status = excluded.status,
		   issue_date = excluded.issue_date,
		   due_date = excluded.due_date,
		   paid_at = excluded.paid_at,
		   created_by = excluded.created_by`),
		inv.ID, inv.Number, inv.Reference, inv.ClientID, inv.ClientEmail, inv.ConventionID,
		inv.Amount, inv.Status, nullTime(&inv.IssueDate), nullTime(&inv.DueDate), nullTime(inv.PaidAt),
		inv.CreatedBy, inv.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert invoice: %w", err)
	}
	return nil
}

func (s *SQLStore) ListInvoices(ctx context.Context, statuses ...model.InvoiceStatus) ([]model.Invoice, error) {
	query := `SELECT id, invoice_number, reference, client_id, client_email, convention_id, amount, status,
		issue_date, due_date, paid_at, created_by, created_at FROM invoices`
	var args []any
	if len(statuses) > 0 {
		query += " WHERE status IN (" + placeholders(len(statuses)) + ")"
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, s.d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()

	var invoices []model.Invoice
	for rows.Next() {
		var inv model.Invoice
		var issue, due, paid sql.NullTime
		if err := rows.Scan(&inv.ID, &inv.Number, &inv.Reference, &inv.ClientID, &inv.ClientEmail,
			&inv.ConventionID, &inv.Amount, &inv.Status, &issue, &due, &paid, &inv.CreatedBy,
			&inv.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan invoice row: %w", err)
		}
		if issue.Valid {
			inv.IssueDate = issue.Time.UTC()
		}
		if due.Valid {
			inv.DueDate = due.Time.UTC()
		}
		inv.PaidAt = timePtr(paid)
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

func (s *SQLStore) UpsertUser(ctx context.Context, u *model.User) error {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	roles := u.Roles
	if roles == nil {
		roles = []model.Role{}
	}
	encoded, err := json.Marshal(roles)
	if err != nil {
		return fmt.Errorf("marshal user roles: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.d.rebind(
		`INSERT INTO users (id, username, full_name, email, phone, roles)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   username = excluded.username,
		   full_name = excluded.full_name,
		   email = excluded.email,
		   phone = excluded.phone,
		   roles = excluded.roles`),
		u.ID, u.Username, u.FullName, u.Email, u.Phone, string(encoded),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func scanUser(row rowScanner) (*model.User, error) {
	var u model.User
	var roles string
	if err := row.Scan(&u.ID, &u.Username, &u.FullName, &u.Email, &u.Phone, &roles); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(roles), &u.Roles); err != nil {
		return nil, fmt.Errorf("decode user roles: %w", err)
	}
	return &u, nil
}

func (s *SQLStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, s.d.rebind(
		"SELECT id, username, full_name, email, phone, roles FROM users WHERE id = ?"), id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %q: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *SQLStore) ListUsersByRole(ctx context.Context, role model.Role) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx, s.d.rebind(
		`SELECT id, username, full_name, email, phone, roles FROM users
		 WHERE roles LIKE ? ESCAPE '\' ORDER BY username`), likeContains(string(role)))
	if err != nil {
		return nil, fmt.Errorf("list users by role: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user row: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (s *SQLStore) CreateNotification(ctx context.Context, n *model.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, s.d.rebind(
		`INSERT INTO notifications (id, user_id, type, title, message, severity, category, is_read, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		n.ID, n.UserID, n.Type, n.Title, n.Message, n.Severity, n.Category, n.Read, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *SQLStore) ListNotifications(ctx context.Context, userID string, unreadOnly bool) ([]model.Notification, error) {
	query := `SELECT id, user_id, type, title, message, severity, category, is_read, created_at
		FROM notifications WHERE user_id = ?`
	if unreadOnly {
		query += " AND is_read = ?"
	}
	query += " ORDER BY created_at DESC, id"

	args := []any{userID}
	if unreadOnly {
		args = append(args, false)
	}

	rows, err := s.db.QueryContext(ctx, s.d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []model.Notification
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Type, &n.Title, &n.Message, &n.Severity,
			&n.Category, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification row: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
