package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/bankdesk/internal/services/desk/storage"
)

// AppendLog appends one immutable audit entry for an order.
func (s *Store) AppendLog(ctx context.Context, record storage.ActionLogRecord) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	record.Actor = strings.TrimSpace(record.Actor)
	record.Action = strings.TrimSpace(record.Action)
	if record.OrderID == 0 {
		return fmt.Errorf("order id is required")
	}
	if record.Actor == "" {
		return fmt.Errorf("actor is required")
	}
	if record.Action == "" {
		return fmt.Errorf("action is required")
	}
	if record.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	if strings.TrimSpace(record.PayloadJSON) == "" {
		record.PayloadJSON = "{}"
	}

	_, err := s.sqlDB.ExecContext(ctx, `
	INSERT INTO action_log (order_id, actor, action, payload_json, created_at)
	VALUES (?, ?, ?, ?, ?)
	`, record.OrderID, record.Actor, record.Action, record.PayloadJSON, toMillis(record.CreatedAt))
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

// ListLog lists one order's audit entries, oldest first.
func (s *Store) ListLog(ctx context.Context, orderID int64) ([]storage.ActionLogRecord, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, order_id, actor, action, payload_json, created_at
FROM action_log
WHERE order_id = ?
ORDER BY created_at ASC, id ASC
`, orderID)
	if err != nil {
		return nil, fmt.Errorf("list log: %w", err)
	}
	defer rows.Close()

	var records []storage.ActionLogRecord
	for rows.Next() {
		var record storage.ActionLogRecord
		var createdAt int64
		if err := rows.Scan(
			&record.ID,
			&record.OrderID,
			&record.Actor,
			&record.Action,
			&record.PayloadJSON,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan log row: %w", err)
		}
		record.CreatedAt = fromMillis(createdAt)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate log rows: %w", err)
	}
	return records, nil
}

// PutForm stores one generated order form blob, replacing any previous form.
func (s *Store) PutForm(ctx context.Context, record storage.FormRecord) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	record.FormID = strings.TrimSpace(record.FormID)
	if record.OrderID == 0 {
		return fmt.Errorf("order id is required")
	}
	if record.FormID == "" {
		return fmt.Errorf("form id is required")
	}
	if record.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	if strings.TrimSpace(record.PayloadJSON) == "" {
		record.PayloadJSON = "{}"
	}

	_, err := s.sqlDB.ExecContext(ctx, `
	INSERT INTO order_forms (order_id, form_id, payload_json, created_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(order_id) DO UPDATE SET
		form_id = excluded.form_id,
		payload_json = excluded.payload_json,
		created_at = excluded.created_at
	`, record.OrderID, record.FormID, record.PayloadJSON, toMillis(record.CreatedAt))
	if err != nil {
		return fmt.Errorf("put form: %w", err)
	}
	return nil
}

// GetForm loads one generated order form by order id.
func (s *Store) GetForm(ctx context.Context, orderID int64) (storage.FormRecord, error) {
	if err := s.ready(ctx); err != nil {
		return storage.FormRecord{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT order_id, form_id, payload_json, created_at
FROM order_forms
WHERE order_id = ?
`, orderID)
	var record storage.FormRecord
	var createdAt int64
	if err := row.Scan(&record.OrderID, &record.FormID, &record.PayloadJSON, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.FormRecord{}, storage.ErrNotFound
		}
		return storage.FormRecord{}, fmt.Errorf("get form: %w", err)
	}
	record.CreatedAt = fromMillis(createdAt)
	return record, nil
}
