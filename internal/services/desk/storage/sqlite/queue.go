package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/bankdesk/internal/services/desk/storage"
)

// Enqueue appends one order to the FIFO wait queue.
func (s *Store) Enqueue(ctx context.Context, record storage.QueueRecord) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	record.BankName = strings.TrimSpace(record.BankName)
	if record.OrderID == 0 {
		return fmt.Errorf("order id is required")
	}
	if record.BankName == "" {
		return fmt.Errorf("bank name is required")
	}
	if record.EnqueuedAt.IsZero() {
		return fmt.Errorf("enqueued_at is required")
	}
	_, err := s.sqlDB.ExecContext(ctx, `
	INSERT INTO order_queue (order_id, bank_name, enqueued_at)
	VALUES (?, ?, ?)
	`, record.OrderID, record.BankName, toMillis(record.EnqueuedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("enqueue order: %w", err)
	}
	return nil
}

// OldestQueuedForBank loads the oldest queued order for one bank.
func (s *Store) OldestQueuedForBank(ctx context.Context, bankName string) (storage.QueueRecord, error) {
	if err := s.ready(ctx); err != nil {
		return storage.QueueRecord{}, err
	}
	bankName = strings.TrimSpace(bankName)
	if bankName == "" {
		return storage.QueueRecord{}, fmt.Errorf("bank name is required")
	}
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, order_id, bank_name, enqueued_at
FROM order_queue
WHERE bank_name = ?
ORDER BY enqueued_at ASC, id ASC
LIMIT 1
`, bankName)
	return scanQueueRow(row.Scan, "oldest queued for bank")
}

// OldestQueued loads the oldest queued order regardless of bank.
func (s *Store) OldestQueued(ctx context.Context) (storage.QueueRecord, error) {
	if err := s.ready(ctx); err != nil {
		return storage.QueueRecord{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, order_id, bank_name, enqueued_at
FROM order_queue
ORDER BY enqueued_at ASC, id ASC
LIMIT 1
`)
	return scanQueueRow(row.Scan, "oldest queued")
}

// RemoveQueued removes one order from the wait queue.
func (s *Store) RemoveQueued(ctx context.Context, orderID int64) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	result, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM order_queue WHERE order_id = ?`, orderID)
	if err != nil {
		return fmt.Errorf("remove queued order: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove queued rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListQueued lists the whole wait queue, oldest first.
func (s *Store) ListQueued(ctx context.Context) ([]storage.QueueRecord, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT id, order_id, bank_name, enqueued_at
FROM order_queue
ORDER BY enqueued_at ASC, id ASC
`)
	if err != nil {
		return nil, fmt.Errorf("list queued orders: %w", err)
	}
	defer rows.Close()

	var records []storage.QueueRecord
	for rows.Next() {
		var record storage.QueueRecord
		var enqueuedAt int64
		if err := rows.Scan(&record.ID, &record.OrderID, &record.BankName, &enqueuedAt); err != nil {
			return nil, fmt.Errorf("scan queue row: %w", err)
		}
		record.EnqueuedAt = fromMillis(enqueuedAt)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue rows: %w", err)
	}
	return records, nil
}

func scanQueueRow(scan scanner, op string) (storage.QueueRecord, error) {
	var record storage.QueueRecord
	var enqueuedAt int64
	if err := scan(&record.ID, &record.OrderID, &record.BankName, &enqueuedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.QueueRecord{}, storage.ErrNotFound
		}
		return storage.QueueRecord{}, fmt.Errorf("%s: %w", op, err)
	}
	record.EnqueuedAt = fromMillis(enqueuedAt)
	return record, nil
}
