package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ambassador-ledger/internal/models"
)

const ambassadorColumns = `id, mobile, name, role, campus_id, confirmed_referral_count,
	year_fee_benefit_percent, long_term_benefit_percent, is_five_star_member,
	student_fee, benefit_status, last_active_year, version, created_at, updated_at`

// CreateAmbassador inserts an ambassador and sets its ID and version.
func (q Queries) CreateAmbassador(ctx context.Context, a *models.Ambassador) error {
	now := time.Now().UTC()
	if a.BenefitStatus == "" {
		a.BenefitStatus = models.BenefitInactive
	}

	res, err := q.q.ExecContext(ctx, `INSERT INTO ambassadors (
		mobile, name, role, campus_id, confirmed_referral_count,
		year_fee_benefit_percent, long_term_benefit_percent, is_five_star_member,
		student_fee, benefit_status, last_active_year, version, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)`,
		a.Mobile,
		a.Name,
		string(a.Role),
		nullableInt64(a.CampusID),
		a.ConfirmedReferralCount,
		a.YearFeeBenefitPercent,
		a.LongTermBenefitPercent,
		boolToInt(a.IsFiveStarMember),
		a.StudentFee.String(),
		string(a.BenefitStatus),
		a.LastActiveYear,
		formatTime(now),
		formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("failed to insert ambassador: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read ambassador id: %w", err)
	}

	a.ID = id
	a.Version = 1
	a.CreatedAt = now
	a.UpdatedAt = now
	return nil
}

// GetAmbassador loads an ambassador by id.
func (q Queries) GetAmbassador(ctx context.Context, id int64) (models.Ambassador, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+ambassadorColumns+` FROM ambassadors WHERE id = ?`, id)

	var (
		a                    models.Ambassador
		campusID             sql.NullInt64
		role, status         string
		fiveStar             int
		createdAt, updatedAt string
	)
	err := row.Scan(
		&a.ID,
		&a.Mobile,
		&a.Name,
		&role,
		&campusID,
		&a.ConfirmedReferralCount,
		&a.YearFeeBenefitPercent,
		&a.LongTermBenefitPercent,
		&fiveStar,
		&a.StudentFee,
		&status,
		&a.LastActiveYear,
		&a.Version,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Ambassador{}, ErrNotFound
	}
	if err != nil {
		return models.Ambassador{}, fmt.Errorf("failed to scan ambassador: %w", err)
	}

	a.Role = models.AmbassadorRole(role)
	a.BenefitStatus = models.BenefitStatus(status)
	a.CampusID = int64Ptr(campusID)
	a.IsFiveStarMember = fiveStar == 1

	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return models.Ambassador{}, err
	}
	if a.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return models.Ambassador{}, err
	}

	return a, nil
}

// UpdateAmbassadorBenefit writes the derived benefit fields if the stored
// version still equals expectedVersion, then bumps the version.
func (q Queries) UpdateAmbassadorBenefit(
	ctx context.Context,
	id int64,
	expectedVersion int64,
	b models.AmbassadorBenefit,
) (int64, error) {
	res, err := q.q.ExecContext(ctx, `UPDATE ambassadors SET
		confirmed_referral_count = ?,
		year_fee_benefit_percent = ?,
		long_term_benefit_percent = ?,
		is_five_star_member = ?,
		benefit_status = ?,
		last_active_year = ?,
		version = version + 1,
		updated_at = ?
	WHERE id = ? AND version = ?`,
		b.ConfirmedReferralCount,
		b.YearFeeBenefitPercent,
		b.LongTermBenefitPercent,
		boolToInt(b.IsFiveStarMember),
		string(b.BenefitStatus),
		b.LastActiveYear,
		formatTime(time.Now()),
		id,
		expectedVersion,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to update ambassador benefit: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return 0, ErrVersionConflict
	}

	return expectedVersion + 1, nil
}
