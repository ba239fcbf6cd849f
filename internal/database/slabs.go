package database

import (
	"context"
	"fmt"

	"ambassador-ledger/internal/models"
)

// ListSlabs returns the slab table ordered by referral count.
func (q Queries) ListSlabs(ctx context.Context) ([]models.BenefitSlab, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT id, referral_count, year_fee_benefit_percent,
		long_term_extra_percent, base_long_term_percent
		FROM benefit_slabs ORDER BY referral_count`)
	if err != nil {
		return nil, fmt.Errorf("failed to query slabs: %w", err)
	}
	defer rows.Close()

	var slabs []models.BenefitSlab
	for rows.Next() {
		var s models.BenefitSlab
		if err := rows.Scan(
			&s.ID,
			&s.ReferralCount,
			&s.YearFeeBenefitPercent,
			&s.LongTermExtraPercent,
			&s.BaseLongTermPercent,
		); err != nil {
			return nil, fmt.Errorf("failed to scan slab: %w", err)
		}
		slabs = append(slabs, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating slabs: %w", err)
	}

	return slabs, nil
}

// UpsertSlab creates or updates the slab for its referral count.
func (q Queries) UpsertSlab(ctx context.Context, s models.BenefitSlab) error {
	_, err := q.q.ExecContext(ctx, `INSERT INTO benefit_slabs (
		referral_count, year_fee_benefit_percent, long_term_extra_percent, base_long_term_percent
	) VALUES (?, ?, ?, ?)
	ON CONFLICT(referral_count) DO UPDATE SET
		year_fee_benefit_percent = excluded.year_fee_benefit_percent,
		long_term_extra_percent = excluded.long_term_extra_percent,
		base_long_term_percent = excluded.base_long_term_percent`,
		s.ReferralCount,
		s.YearFeeBenefitPercent,
		s.LongTermExtraPercent,
		s.BaseLongTermPercent,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert slab %d: %w", s.ReferralCount, err)
	}
	return nil
}

// SeedSlabs inserts slabs when the table is empty. It reports whether it
// inserted anything.
func (db *DB) SeedSlabs(ctx context.Context, slabs []models.BenefitSlab) (bool, error) {
	seeded := false
	err := db.WithTx(ctx, func(tx *Tx) error {
		var count int
		if err := tx.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM benefit_slabs`).Scan(&count); err != nil {
			return fmt.Errorf("failed to count slabs: %w", err)
		}
		if count > 0 {
			return nil
		}
		for _, s := range slabs {
			if err := tx.UpsertSlab(ctx, s); err != nil {
				return err
			}
		}
		seeded = true
		return nil
	})
	return seeded, err
}
