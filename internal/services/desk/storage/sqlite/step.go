package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/louisbranch/bankdesk/internal/services/desk/storage"
)

// UpsertStep inserts or replaces the step at (bank, action, number).
// Non-contiguous step numbers are allowed; ordering stays stable.
func (s *Store) UpsertStep(ctx context.Context, record storage.StepRecord) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	record.BankName = strings.TrimSpace(record.BankName)
	record.Kind = strings.TrimSpace(record.Kind)
	if record.BankName == "" {
		return fmt.Errorf("bank name is required")
	}
	if record.Action == "" {
		return fmt.Errorf("action is required")
	}
	if record.Number < 1 {
		return fmt.Errorf("step number must be positive")
	}
	if record.Kind == "" {
		return fmt.Errorf("step kind is required")
	}
	if record.CreatedAt.IsZero() || record.UpdatedAt.IsZero() {
		return fmt.Errorf("step timestamps are required")
	}
	if strings.TrimSpace(record.ExamplesJSON) == "" {
		record.ExamplesJSON = "[]"
	}
	if strings.TrimSpace(record.PayloadJSON) == "" {
		record.PayloadJSON = "{}"
	}

	_, err := s.sqlDB.ExecContext(ctx, `
	INSERT INTO instruction_steps (
		bank_name, action, step_number, kind, text, examples_json,
		min_age, required_photos, payload_json, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(bank_name, action, step_number) DO UPDATE SET
		kind = excluded.kind,
		text = excluded.text,
		examples_json = excluded.examples_json,
		min_age = excluded.min_age,
		required_photos = excluded.required_photos,
		payload_json = excluded.payload_json,
		updated_at = excluded.updated_at
	`,
		record.BankName,
		record.Action,
		record.Number,
		record.Kind,
		record.Text,
		record.ExamplesJSON,
		record.MinAge,
		record.RequiredPhotos,
		record.PayloadJSON,
		toMillis(record.CreatedAt),
		toMillis(record.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert step: %w", err)
	}
	return nil
}

// ListSteps lists the steps of one (bank, action) ordered by step number.
func (s *Store) ListSteps(ctx context.Context, bankName string, action storage.Action) ([]storage.StepRecord, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	bankName = strings.TrimSpace(bankName)
	if bankName == "" {
		return nil, fmt.Errorf("bank name is required")
	}
	if action == "" {
		return nil, fmt.Errorf("action is required")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT bank_name, action, step_number, kind, text, examples_json,
       min_age, required_photos, payload_json, created_at, updated_at
FROM instruction_steps
WHERE bank_name = ? AND action = ?
ORDER BY step_number ASC
`, bankName, action)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	var records []storage.StepRecord
	for rows.Next() {
		var record storage.StepRecord
		var createdAt, updatedAt int64
		if err := rows.Scan(
			&record.BankName,
			&record.Action,
			&record.Number,
			&record.Kind,
			&record.Text,
			&record.ExamplesJSON,
			&record.MinAge,
			&record.RequiredPhotos,
			&record.PayloadJSON,
			&createdAt,
			&updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan step row: %w", err)
		}
		record.CreatedAt = fromMillis(createdAt)
		record.UpdatedAt = fromMillis(updatedAt)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate step rows: %w", err)
	}
	return records, nil
}

// DeleteStep removes one step by position.
func (s *Store) DeleteStep(ctx context.Context, bankName string, action storage.Action, number int) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	bankName = strings.TrimSpace(bankName)
	if bankName == "" {
		return fmt.Errorf("bank name is required")
	}
	if action == "" {
		return fmt.Errorf("action is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
DELETE FROM instruction_steps
WHERE bank_name = ? AND action = ? AND step_number = ?
`, bankName, action, number)
	if err != nil {
		return fmt.Errorf("delete step: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete step rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}
