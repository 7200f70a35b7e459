package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/louisbranch/bankdesk/internal/services/desk/storage"
)

// RecordUsage appends one consumed (bank, phone/email) pair. The append is
// deliberately not deduplicated; lookups only ask whether at least one row
// exists, so repeated records for the same order stay harmless.
func (s *Store) RecordUsage(ctx context.Context, record storage.UsageRecord) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	record.BankName = strings.TrimSpace(record.BankName)
	record.Phone = strings.TrimSpace(record.Phone)
	record.Email = strings.TrimSpace(record.Email)
	if record.OrderID == 0 {
		return fmt.Errorf("order id is required")
	}
	if record.BankName == "" {
		return fmt.Errorf("bank name is required")
	}
	if record.Phone == "" && record.Email == "" {
		return fmt.Errorf("phone or email is required")
	}
	if record.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
	INSERT INTO data_usage (order_id, bank_name, phone, email, created_at)
	VALUES (?, ?, ?, ?, ?)
	`, record.OrderID, record.BankName, record.Phone, record.Email, toMillis(record.CreatedAt))
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// PhoneUsed reports whether a phone was already consumed for one bank.
func (s *Store) PhoneUsed(ctx context.Context, bankName string, phone string) (bool, error) {
	return s.usageExists(ctx, bankName, "phone", phone)
}

// EmailUsed reports whether an email was already consumed for one bank.
func (s *Store) EmailUsed(ctx context.Context, bankName string, email string) (bool, error) {
	return s.usageExists(ctx, bankName, "email", email)
}

func (s *Store) usageExists(ctx context.Context, bankName, column, value string) (bool, error) {
	if err := s.ready(ctx); err != nil {
		return false, err
	}
	bankName = strings.TrimSpace(bankName)
	value = strings.TrimSpace(value)
	if bankName == "" {
		return false, fmt.Errorf("bank name is required")
	}
	if value == "" {
		return false, nil
	}

	var count int
	query := `SELECT COUNT(1) FROM data_usage WHERE bank_name = ? AND ` + column + ` = ?`
	if err := s.sqlDB.QueryRowContext(ctx, query, bankName, value).Scan(&count); err != nil {
		return false, fmt.Errorf("check %s usage: %w", column, err)
	}
	return count > 0, nil
}
