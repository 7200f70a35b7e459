package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/bankdesk/internal/services/desk/storage"
)

const photoColumns = `id, order_id, stage, file_id, file_unique_id, confirmation,
       active, rejection_reason, replaces_photo_id, created_at, updated_at`

// AddPhoto inserts one artifact row. A duplicate upload of the identical
// artifact for the same (order, stage) is rejected with ErrConflict.
func (s *Store) AddPhoto(ctx context.Context, record storage.PhotoRecord) (int64, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	record.FileID = strings.TrimSpace(record.FileID)
	record.FileUniqueID = strings.TrimSpace(record.FileUniqueID)
	if record.OrderID == 0 {
		return 0, fmt.Errorf("order id is required")
	}
	if record.FileID == "" {
		return 0, fmt.Errorf("file id is required")
	}
	if record.FileUniqueID == "" {
		return 0, fmt.Errorf("file unique id is required")
	}
	if record.Confirmation == "" {
		record.Confirmation = storage.PhotoPending
	}
	if record.CreatedAt.IsZero() || record.UpdatedAt.IsZero() {
		return 0, fmt.Errorf("photo timestamps are required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
	INSERT INTO order_photos (
		order_id, stage, file_id, file_unique_id, confirmation,
		active, rejection_reason, replaces_photo_id, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.OrderID,
		record.Stage,
		record.FileID,
		record.FileUniqueID,
		record.Confirmation,
		boolToInt(record.Active),
		record.RejectionReason,
		record.ReplacesPhotoID,
		toMillis(record.CreatedAt),
		toMillis(record.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return 0, storage.ErrConflict
		}
		return 0, fmt.Errorf("add photo: %w", err)
	}
	photoID, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("add photo id: %w", err)
	}
	return photoID, nil
}

// GetPhoto loads one artifact by identifier.
func (s *Store) GetPhoto(ctx context.Context, photoID int64) (storage.PhotoRecord, error) {
	if err := s.ready(ctx); err != nil {
		return storage.PhotoRecord{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT `+photoColumns+`
FROM order_photos
WHERE id = ?
`, photoID)
	record, err := scanPhoto(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.PhotoRecord{}, storage.ErrNotFound
		}
		return storage.PhotoRecord{}, fmt.Errorf("get photo: %w", err)
	}
	return record, nil
}

// UpdatePhoto replaces the review fields of one artifact row.
func (s *Store) UpdatePhoto(ctx context.Context, record storage.PhotoRecord) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if record.ID == 0 {
		return fmt.Errorf("photo id is required")
	}
	if record.UpdatedAt.IsZero() {
		return fmt.Errorf("photo updated_at is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE order_photos
SET confirmation = ?, active = ?, rejection_reason = ?, replaces_photo_id = ?, updated_at = ?
WHERE id = ?
`,
		record.Confirmation,
		boolToInt(record.Active),
		record.RejectionReason,
		record.ReplacesPhotoID,
		toMillis(record.UpdatedAt),
		record.ID,
	)
	if err != nil {
		return fmt.Errorf("update photo: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update photo rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListStagePhotos lists all artifacts of one (order, stage), oldest first.
func (s *Store) ListStagePhotos(ctx context.Context, orderID int64, stage int) ([]storage.PhotoRecord, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT `+photoColumns+`
FROM order_photos
WHERE order_id = ? AND stage = ?
ORDER BY created_at ASC, id ASC
`, orderID, stage)
	if err != nil {
		return nil, fmt.Errorf("list stage photos: %w", err)
	}
	defer rows.Close()

	var records []storage.PhotoRecord
	for rows.Next() {
		record, scanErr := scanPhoto(rows.Scan)
		if scanErr != nil {
			return nil, fmt.Errorf("scan photo row: %w", scanErr)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate photo rows: %w", err)
	}
	return records, nil
}

// SetPhotoConfirmation moves every active artifact of one (order, stage) to
// the given review state.
func (s *Store) SetPhotoConfirmation(ctx context.Context, orderID int64, stage int, confirmation storage.PhotoConfirmation) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(ctx, `
UPDATE order_photos
SET confirmation = ?, updated_at = ?
WHERE order_id = ? AND stage = ? AND active = 1
`, confirmation, toMillis(s.now()), orderID, stage)
	if err != nil {
		return fmt.Errorf("set photo confirmation: %w", err)
	}
	return nil
}

// DeactivatePhotos voids every artifact of one (order, stage) so the user
// can resubmit, recording the rejection reason. Rows stay for the audit
// trail.
func (s *Store) DeactivatePhotos(ctx context.Context, orderID int64, stage int, reason string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(ctx, `
UPDATE order_photos
SET active = 0, confirmation = ?, rejection_reason = ?, updated_at = ?
WHERE order_id = ? AND stage = ? AND active = 1
`, storage.PhotoRejected, reason, toMillis(s.now()), orderID, stage)
	if err != nil {
		return fmt.Errorf("deactivate photos: %w", err)
	}
	return nil
}

// CountActivePhotos counts the live artifacts of one (order, stage).
func (s *Store) CountActivePhotos(ctx context.Context, orderID int64, stage int) (int, error) {
	if err := s.ready(ctx); err != nil {
		return 0, err
	}
	var count int
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT COUNT(*)
FROM order_photos
WHERE order_id = ? AND stage = ? AND active = 1
`, orderID, stage).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active photos: %w", err)
	}
	return count, nil
}

func scanPhoto(scan scanner) (storage.PhotoRecord, error) {
	var record storage.PhotoRecord
	var active int
	var createdAt, updatedAt int64
	if err := scan(
		&record.ID,
		&record.OrderID,
		&record.Stage,
		&record.FileID,
		&record.FileUniqueID,
		&record.Confirmation,
		&active,
		&record.RejectionReason,
		&record.ReplacesPhotoID,
		&createdAt,
		&updatedAt,
	); err != nil {
		return storage.PhotoRecord{}, err
	}
	record.Active = active == 1
	record.CreatedAt = fromMillis(createdAt)
	record.UpdatedAt = fromMillis(updatedAt)
	return record, nil
}
