package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ambassador-ledger/internal/models"
)

const settlementColumns = `id, ambassador_id, amount, status, bank_reference, payout_date,
	remarks, created_by, processed_by, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

// CreateSettlement inserts a Pending settlement and sets its ID.
func (q Queries) CreateSettlement(ctx context.Context, s *models.Settlement) error {
	now := time.Now().UTC()
	s.Status = models.SettlementPending

	res, err := q.q.ExecContext(ctx, `INSERT INTO settlements (
		ambassador_id, amount, status, bank_reference, payout_date,
		remarks, created_by, processed_by, created_at, updated_at
	) VALUES (?, ?, ?, '', NULL, ?, ?, '', ?, ?)`,
		s.AmbassadorID,
		s.Amount.String(),
		string(s.Status),
		s.Remarks,
		s.CreatedBy,
		formatTime(now),
		formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("failed to insert settlement: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read settlement id: %w", err)
	}

	s.ID = id
	s.CreatedAt = now
	s.UpdatedAt = now
	return nil
}

// GetSettlement loads a settlement by id.
func (q Queries) GetSettlement(ctx context.Context, id int64) (models.Settlement, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+settlementColumns+` FROM settlements WHERE id = ?`, id)
	s, err := scanSettlement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Settlement{}, ErrNotFound
	}
	return s, err
}

// ListSettlements returns all settlements of an ambassador, oldest first.
func (q Queries) ListSettlements(ctx context.Context, ambassadorID int64) ([]models.Settlement, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT `+settlementColumns+` FROM settlements WHERE ambassador_id = ? ORDER BY id`,
		ambassadorID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query settlements: %w", err)
	}
	defer rows.Close()

	var settlements []models.Settlement
	for rows.Next() {
		s, err := scanSettlement(rows)
		if err != nil {
			return nil, err
		}
		settlements = append(settlements, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating settlements: %w", err)
	}

	return settlements, nil
}

// MarkSettlementProcessed moves a Pending settlement to Processed.
func (q Queries) MarkSettlementProcessed(ctx context.Context, s models.Settlement) error {
	res, err := q.q.ExecContext(ctx, `UPDATE settlements SET
		status = ?, bank_reference = ?, payout_date = ?, remarks = ?,
		processed_by = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(models.SettlementProcessed),
		s.BankReference,
		formatNullableTime(s.PayoutDate),
		s.Remarks,
		s.ProcessedBy,
		formatTime(time.Now()),
		s.ID,
		string(models.SettlementPending),
	)
	if err != nil {
		return fmt.Errorf("failed to process settlement: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotPending
	}
	return nil
}

// DeletePendingSettlement hard-deletes a settlement that is still Pending.
func (q Queries) DeletePendingSettlement(ctx context.Context, id int64) error {
	res, err := q.q.ExecContext(ctx,
		`DELETE FROM settlements WHERE id = ? AND status = ?`,
		id, string(models.SettlementPending),
	)
	if err != nil {
		return fmt.Errorf("failed to delete settlement: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotPending
	}
	return nil
}

func scanSettlement(row rowScanner) (models.Settlement, error) {
	var (
		s                    models.Settlement
		status               string
		payoutDate           sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(
		&s.ID,
		&s.AmbassadorID,
		&s.Amount,
		&status,
		&s.BankReference,
		&payoutDate,
		&s.Remarks,
		&s.CreatedBy,
		&s.ProcessedBy,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Settlement{}, err
	}
	if err != nil {
		return models.Settlement{}, fmt.Errorf("failed to scan settlement: %w", err)
	}

	s.Status = models.SettlementStatus(status)
	if s.PayoutDate, err = parseNullableTime(payoutDate); err != nil {
		return models.Settlement{}, err
	}
	if s.CreatedAt, err = parseTime(createdAt); err != nil {
		return models.Settlement{}, err
	}
	if s.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return models.Settlement{}, err
	}

	return s, nil
}
