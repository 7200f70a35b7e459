package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/bankdesk/internal/services/desk/storage"
)

const groupColumns = `id, chat_id, name, busy, bank_name, is_admin, current_order_id, created_at, updated_at`

// PutGroup inserts or replaces one operator group keyed by chat id and
// returns its identifier.
func (s *Store) PutGroup(ctx context.Context, record storage.GroupRecord) (int64, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	record.Name = strings.TrimSpace(record.Name)
	record.BankName = strings.TrimSpace(record.BankName)
	if record.ChatID == 0 {
		return 0, fmt.Errorf("chat id is required")
	}
	if record.CreatedAt.IsZero() || record.UpdatedAt.IsZero() {
		return 0, fmt.Errorf("group timestamps are required")
	}

	_, err := s.sqlDB.ExecContext(ctx, `
	INSERT INTO operator_groups (
		chat_id, name, busy, bank_name, is_admin, current_order_id, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(chat_id) DO UPDATE SET
		name = excluded.name,
		bank_name = excluded.bank_name,
		is_admin = excluded.is_admin,
		updated_at = excluded.updated_at
	`,
		record.ChatID,
		record.Name,
		boolToInt(record.Busy),
		record.BankName,
		boolToInt(record.Admin),
		record.CurrentOrderID,
		toMillis(record.CreatedAt),
		toMillis(record.UpdatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("put group: %w", err)
	}

	var groupID int64
	if err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id FROM operator_groups WHERE chat_id = ?`, record.ChatID,
	).Scan(&groupID); err != nil {
		return 0, fmt.Errorf("put group id: %w", err)
	}
	return groupID, nil
}

// GetGroup loads one operator group by identifier.
func (s *Store) GetGroup(ctx context.Context, groupID int64) (storage.GroupRecord, error) {
	if err := s.ready(ctx); err != nil {
		return storage.GroupRecord{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT `+groupColumns+`
FROM operator_groups
WHERE id = ?
`, groupID)
	record, err := scanGroup(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.GroupRecord{}, storage.ErrNotFound
		}
		return storage.GroupRecord{}, fmt.Errorf("get group: %w", err)
	}
	return record, nil
}

// GetGroupByChat loads one operator group by chat destination.
func (s *Store) GetGroupByChat(ctx context.Context, chatID int64) (storage.GroupRecord, error) {
	if err := s.ready(ctx); err != nil {
		return storage.GroupRecord{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT `+groupColumns+`
FROM operator_groups
WHERE chat_id = ?
`, chatID)
	record, err := scanGroup(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.GroupRecord{}, storage.ErrNotFound
		}
		return storage.GroupRecord{}, fmt.Errorf("get group by chat: %w", err)
	}
	return record, nil
}

// ListGroups lists all operator groups in insertion order.
func (s *Store) ListGroups(ctx context.Context) ([]storage.GroupRecord, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT `+groupColumns+`
FROM operator_groups
ORDER BY id ASC
`)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var records []storage.GroupRecord
	for rows.Next() {
		record, scanErr := scanGroup(rows.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("scan group row: %w", scanErr)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate group rows: %w", err)
	}
	return records, nil
}

// DeleteGroup removes one operator group and its active-order join rows.
func (s *Store) DeleteGroup(ctx context.Context, groupID int64) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	result, err := s.sqlDB.ExecContext(ctx, `DELETE FROM operator_groups WHERE id = ?`, groupID)
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete group rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// SetGroupBusy flips the new-admission gate of one group.
func (s *Store) SetGroupBusy(ctx context.Context, groupID int64, busy bool) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	result, err := s.sqlDB.ExecContext(ctx,
		`UPDATE operator_groups SET busy = ? WHERE id = ?`, boolToInt(busy), groupID)
	if err != nil {
		return fmt.Errorf("set group busy: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set group busy rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// SetCurrentOrder stores one group's current free-text routing context.
func (s *Store) SetCurrentOrder(ctx context.Context, groupID int64, orderID int64) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	result, err := s.sqlDB.ExecContext(ctx,
		`UPDATE operator_groups SET current_order_id = ? WHERE id = ?`, orderID, groupID)
	if err != nil {
		return fmt.Errorf("set current order: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set current order rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// AddGroupOrder adds one order to a group's active set.
func (s *Store) AddGroupOrder(ctx context.Context, record storage.GroupOrderRecord) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if record.GroupID == 0 || record.OrderID == 0 {
		return fmt.Errorf("group id and order id are required")
	}
	if record.AddedAt.IsZero() {
		return fmt.Errorf("added_at is required")
	}
	_, err := s.sqlDB.ExecContext(ctx, `
	INSERT INTO group_active_orders (group_id, order_id, is_primary, added_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(group_id, order_id) DO UPDATE SET
		is_primary = excluded.is_primary
	`,
		record.GroupID,
		record.OrderID,
		boolToInt(record.Primary),
		toMillis(record.AddedAt),
	)
	if err != nil {
		return fmt.Errorf("add group order: %w", err)
	}
	return nil
}

// RemoveGroupOrder removes one order from a group's active set.
func (s *Store) RemoveGroupOrder(ctx context.Context, groupID int64, orderID int64) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	result, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM group_active_orders WHERE group_id = ? AND order_id = ?`, groupID, orderID)
	if err != nil {
		return fmt.Errorf("remove group order: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove group order rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListGroupOrders lists one group's active set, oldest first.
func (s *Store) ListGroupOrders(ctx context.Context, groupID int64) ([]storage.GroupOrderRecord, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT group_id, order_id, is_primary, added_at
FROM group_active_orders
WHERE group_id = ?
ORDER BY added_at ASC, order_id ASC
`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list group orders: %w", err)
	}
	defer rows.Close()

	var records []storage.GroupOrderRecord
	for rows.Next() {
		var record storage.GroupOrderRecord
		var primary int
		var addedAt int64
		if err := rows.Scan(&record.GroupID, &record.OrderID, &primary, &addedAt); err != nil {
			return nil, fmt.Errorf("scan group order row: %w", err)
		}
		record.Primary = primary == 1
		record.AddedAt = fromMillis(addedAt)
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate group order rows: %w", err)
	}
	return records, nil
}

// SetPrimaryGroupOrder marks one active order as the group's primary context.
// The previous primary, if any, is demoted in the same transaction.
func (s *Store) SetPrimaryGroupOrder(ctx context.Context, groupID int64, orderID int64) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set primary: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE group_active_orders SET is_primary = 0 WHERE group_id = ?`, groupID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("demote primary group order: %w", err)
	}
	result, err := tx.ExecContext(ctx,
		`UPDATE group_active_orders SET is_primary = 1 WHERE group_id = ? AND order_id = ?`, groupID, orderID)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("promote primary group order: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("promote primary rows affected: %w", err)
	}
	if affected == 0 {
		_ = tx.Rollback()
		return storage.ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit set primary: %w", err)
	}
	return nil
}

func scanGroup(scan scanner) (storage.GroupRecord, error) {
	var record storage.GroupRecord
	var busy, admin int
	var createdAt, updatedAt int64
	if err := scan(
		&record.ID,
		&record.ChatID,
		&record.Name,
		&busy,
		&record.BankName,
		&admin,
		&record.CurrentOrderID,
		&createdAt,
		&updatedAt,
	); err != nil {
		return storage.GroupRecord{}, err
	}
	record.Busy = busy == 1
	record.Admin = admin == 1
	record.CreatedAt = fromMillis(createdAt)
	record.UpdatedAt = fromMillis(updatedAt)
	return record, nil
}
