package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ambassador-ledger/internal/models"
)

// CreateLead inserts a lead and sets its ID.
func (q Queries) CreateLead(ctx context.Context, l *models.Lead) error {
	now := time.Now().UTC()
	if l.LeadStatus == "" {
		l.LeadStatus = models.LeadNew
	}

	res, err := q.q.ExecContext(ctx, `INSERT INTO leads (
		ambassador_id, campus_id, student_name, parent_mobile, grade,
		lead_status, confirmed_date, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.AmbassadorID,
		nullableInt64(l.CampusID),
		l.StudentName,
		l.ParentMobile,
		l.Grade,
		string(l.LeadStatus),
		formatNullableTime(l.ConfirmedDate),
		formatTime(now),
		formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("failed to insert lead: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read lead id: %w", err)
	}

	l.ID = id
	l.CreatedAt = now
	l.UpdatedAt = now
	return nil
}

// GetLead loads a lead by id.
func (q Queries) GetLead(ctx context.Context, id int64) (models.Lead, error) {
	row := q.q.QueryRowContext(ctx, `SELECT id, ambassador_id, campus_id, student_name,
		parent_mobile, grade, lead_status, confirmed_date, created_at, updated_at
		FROM leads WHERE id = ?`, id)

	var (
		l                    models.Lead
		campusID             sql.NullInt64
		status               string
		confirmedDate        sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(
		&l.ID,
		&l.AmbassadorID,
		&campusID,
		&l.StudentName,
		&l.ParentMobile,
		&l.Grade,
		&status,
		&confirmedDate,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Lead{}, ErrNotFound
	}
	if err != nil {
		return models.Lead{}, fmt.Errorf("failed to scan lead: %w", err)
	}

	l.CampusID = int64Ptr(campusID)
	l.LeadStatus = models.LeadStatus(status)
	if l.ConfirmedDate, err = parseNullableTime(confirmedDate); err != nil {
		return models.Lead{}, err
	}
	if l.CreatedAt, err = parseTime(createdAt); err != nil {
		return models.Lead{}, err
	}
	if l.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return models.Lead{}, err
	}

	return l, nil
}

// SetLeadStatus changes a lead's status. confirmedDate must be non-nil
// exactly when status is Confirmed; the table CHECK enforces it.
func (q Queries) SetLeadStatus(
	ctx context.Context,
	id int64,
	status models.LeadStatus,
	confirmedDate *time.Time,
) error {
	res, err := q.q.ExecContext(ctx, `UPDATE leads SET
		lead_status = ?, confirmed_date = ?, updated_at = ?
		WHERE id = ?`,
		string(status),
		formatNullableTime(confirmedDate),
		formatTime(time.Now()),
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to update lead status: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountConfirmedLeads counts every Confirmed lead owned by the ambassador.
func (q Queries) CountConfirmedLeads(ctx context.Context, ambassadorID int64) (int, error) {
	var count int
	err := q.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM leads WHERE ambassador_id = ? AND lead_status = ?`,
		ambassadorID, string(models.LeadConfirmed),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count confirmed leads: %w", err)
	}
	return count, nil
}
