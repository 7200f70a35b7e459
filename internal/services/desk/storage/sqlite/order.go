package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/bankdesk/internal/services/desk/storage"
)

const orderColumns = `id, user_id, display_name, bank_name, action, stage, status, group_id,
       phone, email, phone_confirmed, email_confirmed, code_status,
       code_attempts, code_resends, data_complete, created_at, updated_at, completed_at`

// CreateOrder inserts one order row and returns its identifier.
func (s *Store) CreateOrder(ctx context.Context, record storage.OrderRecord) (int64, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	record.BankName = strings.TrimSpace(record.BankName)
	if record.UserID == 0 {
		return 0, fmt.Errorf("user id is required")
	}
	if record.BankName == "" {
		return 0, fmt.Errorf("bank name is required")
	}
	if record.Action == "" {
		return 0, fmt.Errorf("action is required")
	}
	if record.Status == "" {
		record.Status = storage.OrderStatusInProgress
	}
	if record.CodeStatus == "" {
		record.CodeStatus = storage.CodeStatusNone
	}
	if record.CreatedAt.IsZero() || record.UpdatedAt.IsZero() {
		return 0, fmt.Errorf("order timestamps are required")
	}

	var completedAt sql.NullInt64
	if record.CompletedAt != nil {
		completedAt = sql.NullInt64{Int64: toMillis(*record.CompletedAt), Valid: true}
	}
	result, err := s.sqlDB.ExecContext(ctx, `
	INSERT INTO orders (
		user_id, display_name, bank_name, action, stage, status, group_id,
		phone, email, phone_confirmed, email_confirmed, code_status,
		code_attempts, code_resends, data_complete, created_at, updated_at, completed_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.UserID,
		record.DisplayName,
		record.BankName,
		record.Action,
		record.Stage,
		record.Status,
		record.GroupID,
		record.Phone,
		record.Email,
		boolToInt(record.PhoneConfirmed),
		boolToInt(record.EmailConfirmed),
		record.CodeStatus,
		record.CodeAttempts,
		record.CodeResends,
		boolToInt(record.DataComplete),
		toMillis(record.CreatedAt),
		toMillis(record.UpdatedAt),
		completedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("create order: %w", err)
	}
	orderID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create order id: %w", err)
	}
	return orderID, nil
}

// GetOrder loads one order by identifier.
func (s *Store) GetOrder(ctx context.Context, orderID int64) (storage.OrderRecord, error) {
	if err := s.ready(ctx); err != nil {
		return storage.OrderRecord{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT `+orderColumns+`
FROM orders
WHERE id = ?
`, orderID)
	record, err := scanOrder(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.OrderRecord{}, storage.ErrNotFound
		}
		return storage.OrderRecord{}, fmt.Errorf("get order: %w", err)
	}
	return record, nil
}

// UpdateOrder replaces the mutable fields of one order row.
func (s *Store) UpdateOrder(ctx context.Context, record storage.OrderRecord) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if record.ID == 0 {
		return fmt.Errorf("order id is required")
	}
	if record.UpdatedAt.IsZero() {
		return fmt.Errorf("order updated_at is required")
	}

	var completedAt sql.NullInt64
	if record.CompletedAt != nil {
		completedAt = sql.NullInt64{Int64: toMillis(*record.CompletedAt), Valid: true}
	}
	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE orders
SET display_name = ?, stage = ?, status = ?, group_id = ?,
    phone = ?, email = ?, phone_confirmed = ?, email_confirmed = ?,
    code_status = ?, code_attempts = ?, code_resends = ?, data_complete = ?,
    updated_at = ?, completed_at = ?
WHERE id = ?
`,
		record.DisplayName,
		record.Stage,
		record.Status,
		record.GroupID,
		record.Phone,
		record.Email,
		boolToInt(record.PhoneConfirmed),
		boolToInt(record.EmailConfirmed),
		record.CodeStatus,
		record.CodeAttempts,
		record.CodeResends,
		boolToInt(record.DataComplete),
		toMillis(record.UpdatedAt),
		completedAt,
		record.ID,
	)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update order rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// LatestOpenOrderByUser loads the most recent non-completed order of one user.
func (s *Store) LatestOpenOrderByUser(ctx context.Context, userID int64) (storage.OrderRecord, error) {
	if err := s.ready(ctx); err != nil {
		return storage.OrderRecord{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT `+orderColumns+`
FROM orders
WHERE user_id = ? AND status != ?
ORDER BY created_at DESC, id DESC
LIMIT 1
`, userID, storage.OrderStatusCompleted)
	record, err := scanOrder(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.OrderRecord{}, storage.ErrNotFound
		}
		return storage.OrderRecord{}, fmt.Errorf("latest open order by user: %w", err)
	}
	return record, nil
}

// LatestOpenOrderByGroup loads the most recent non-completed order bound to one group.
func (s *Store) LatestOpenOrderByGroup(ctx context.Context, groupID int64) (storage.OrderRecord, error) {
	if err := s.ready(ctx); err != nil {
		return storage.OrderRecord{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT `+orderColumns+`
FROM orders
WHERE group_id = ? AND status != ?
ORDER BY created_at DESC, id DESC
LIMIT 1
`, groupID, storage.OrderStatusCompleted)
	record, err := scanOrder(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.OrderRecord{}, storage.ErrNotFound
		}
		return storage.OrderRecord{}, fmt.Errorf("latest open order by group: %w", err)
	}
	return record, nil
}

// ListOrders lists orders with one status, oldest first.
func (s *Store) ListOrders(ctx context.Context, status storage.OrderStatus, limit int) ([]storage.OrderRecord, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if status == "" {
		return nil, fmt.Errorf("order status is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT `+orderColumns+`
FROM orders
WHERE status = ?
ORDER BY created_at ASC, id ASC
LIMIT ?
`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var records []storage.OrderRecord
	for rows.Next() {
		record, scanErr := scanOrder(rows.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("scan order row: %w", scanErr)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order rows: %w", err)
	}
	return records, nil
}

// CountOrdersByStatus counts orders with one status.
func (s *Store) CountOrdersByStatus(ctx context.Context, status storage.OrderStatus) (int, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	if status == "" {
		return 0, fmt.Errorf("order status is required")
	}
	var count int
	if err := s.sqlDB.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM orders WHERE status = ?`, status,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("count orders: %w", err)
	}
	return count, nil
}

func scanOrder(scan scanner) (storage.OrderRecord, error) {
	var record storage.OrderRecord
	var phoneConfirmed, emailConfirmed, dataComplete int
	var createdAt, updatedAt int64
	var completedAt sql.NullInt64
	if err := scan(
		&record.ID,
		&record.UserID,
		&record.DisplayName,
		&record.BankName,
		&record.Action,
		&record.Stage,
		&record.Status,
		&record.GroupID,
		&record.Phone,
		&record.Email,
		&phoneConfirmed,
		&emailConfirmed,
		&record.CodeStatus,
		&record.CodeAttempts,
		&record.CodeResends,
		&dataComplete,
		&createdAt,
		&updatedAt,
		&completedAt,
	); err != nil {
		return storage.OrderRecord{}, err
	}
	record.PhoneConfirmed = phoneConfirmed == 1
	record.EmailConfirmed = emailConfirmed == 1
	record.DataComplete = dataComplete == 1
	record.CreatedAt = fromMillis(createdAt)
	record.UpdatedAt = fromMillis(updatedAt)
	if completedAt.Valid {
		value := fromMillis(completedAt.Int64)
		record.CompletedAt = &value
	}
	return record, nil
}
