package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/bankdesk/internal/services/desk/storage"
)

// PutBank inserts or replaces one provider configuration row.
func (s *Store) PutBank(ctx context.Context, record storage.BankRecord) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	record.Name = strings.TrimSpace(record.Name)
	if record.Name == "" {
		return fmt.Errorf("bank name is required")
	}
	if record.CreatedAt.IsZero() || record.UpdatedAt.IsZero() {
		return fmt.Errorf("bank timestamps are required")
	}
	if record.RegisterMinPrice == "" {
		record.RegisterMinPrice = "0"
	}
	if record.ChangeMinPrice == "" {
		record.ChangeMinPrice = "0"
	}

	_, err := s.sqlDB.ExecContext(ctx, `
	INSERT INTO banks (
		name, active, register_enabled, register_min_age, register_min_price,
		change_enabled, change_min_age, change_min_price, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(name) DO UPDATE SET
		active = excluded.active,
		register_enabled = excluded.register_enabled,
		register_min_age = excluded.register_min_age,
		register_min_price = excluded.register_min_price,
		change_enabled = excluded.change_enabled,
		change_min_age = excluded.change_min_age,
		change_min_price = excluded.change_min_price,
		updated_at = excluded.updated_at
	`,
		record.Name,
		boolToInt(record.Active),
		boolToInt(record.RegisterEnabled),
		record.RegisterMinAge,
		record.RegisterMinPrice,
		boolToInt(record.ChangeEnabled),
		record.ChangeMinAge,
		record.ChangeMinPrice,
		toMillis(record.CreatedAt),
		toMillis(record.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put bank: %w", err)
	}
	return nil
}

// GetBank loads one bank by name.
func (s *Store) GetBank(ctx context.Context, name string) (storage.BankRecord, error) {
	if err := s.ready(ctx); err != nil {
		return storage.BankRecord{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return storage.BankRecord{}, fmt.Errorf("bank name is required")
	}

	row := s.sqlDB.QueryRowContext(ctx, `
SELECT name, active, register_enabled, register_min_age, register_min_price,
       change_enabled, change_min_age, change_min_price, created_at, updated_at
FROM banks
WHERE name = ?
`, name)
	record, err := scanBank(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.BankRecord{}, storage.ErrNotFound
		}
		return storage.BankRecord{}, fmt.Errorf("get bank: %w", err)
	}
	return record, nil
}

// ListBanks lists all banks in insertion order.
func (s *Store) ListBanks(ctx context.Context) ([]storage.BankRecord, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT name, active, register_enabled, register_min_age, register_min_price,
       change_enabled, change_min_age, change_min_price, created_at, updated_at
FROM banks
ORDER BY created_at ASC, name ASC
`)
	if err != nil {
		return nil, fmt.Errorf("list banks: %w", err)
	}
	defer rows.Close()

	var records []storage.BankRecord
	for rows.Next() {
		record, scanErr := scanBank(rows.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("scan bank row: %w", scanErr)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bank rows: %w", err)
	}
	return records, nil
}

// DeleteBank removes one bank and cascades to its instruction steps.
func (s *Store) DeleteBank(ctx context.Context, name string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("bank name is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `DELETE FROM banks WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete bank: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete bank rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanBank(scan scanner) (storage.BankRecord, error) {
	var record storage.BankRecord
	var active, registerEnabled, changeEnabled int
	var createdAt, updatedAt int64
	if err := scan(
		&record.Name,
		&active,
		&registerEnabled,
		&record.RegisterMinAge,
		&record.RegisterMinPrice,
		&changeEnabled,
		&record.ChangeMinAge,
		&record.ChangeMinPrice,
		&createdAt,
		&updatedAt,
	); err != nil {
		return storage.BankRecord{}, err
	}
	record.Active = active == 1
	record.RegisterEnabled = registerEnabled == 1
	record.ChangeEnabled = changeEnabled == 1
	record.CreatedAt = fromMillis(createdAt)
	record.UpdatedAt = fromMillis(updatedAt)
	return record, nil
}
