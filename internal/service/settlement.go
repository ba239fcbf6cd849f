package service

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"ambassador-ledger/internal/apperr"
	"ambassador-ledger/internal/audit"
	"ambassador-ledger/internal/authz"
	"ambassador-ledger/internal/config"
	"ambassador-ledger/internal/database"
	"ambassador-ledger/internal/models"
	"ambassador-ledger/internal/validation"
)

var hundred = decimal.NewFromInt(100)

// CalculatePendingSettlement reports what the ambassador is still owed.
// The benefit percentage is re-derived from the slab table rather than read
// from the stored ambassador field.
func (s *Service) CalculatePendingSettlement(ctx context.Context, actor authz.Actor, ambassadorID int64) (res models.PendingSettlement, err error) {
	const op = "service.CalculatePendingSettlement"
	ctx, done := s.begin(ctx, op, attribute.Int64("ambassador.id", ambassadorID))
	defer func() { done(err) }()

	scope, err := s.authorize(ctx, actor, authz.CapViewSettlements)
	if err != nil {
		return models.PendingSettlement{}, err
	}
	if err := validation.ValidateID(ambassadorID, "ambassador_id"); err != nil {
		return models.PendingSettlement{}, err
	}

	err = s.inTx(ctx, func(ctx context.Context, tx *database.Tx) error {
		amb, err := tx.GetAmbassador(ctx, ambassadorID)
		if err != nil {
			return notFound(op, "ambassador", ambassadorID, err)
		}
		if err := checkScope(op, scope, amb.CampusID); err != nil {
			return err
		}
		res, err = s.pendingFor(ctx, tx.Queries, amb)
		return err
	})
	if err != nil {
		return models.PendingSettlement{}, classify(op, err)
	}
	return res, nil
}

// pendingFor computes the balance from the ambassador row and its settlements.
func (s *Service) pendingFor(ctx context.Context, q database.Queries, amb models.Ambassador) (models.PendingSettlement, error) {
	settlements, err := q.ListSettlements(ctx, amb.ID)
	if err != nil {
		return models.PendingSettlement{}, err
	}

	count := amb.ConfirmedReferralCount
	pct := s.slabs().Resolve(count).YearFeeBenefitPercent
	earned := amb.StudentFee.
		Mul(decimal.NewFromFloat(pct)).
		Div(hundred).
		Mul(decimal.NewFromInt(int64(count))).
		Round(2)

	processed, requested := decimal.Zero, decimal.Zero
	for _, st := range settlements {
		switch st.Status {
		case models.SettlementProcessed:
			processed = processed.Add(st.Amount)
		case models.SettlementPending:
			requested = requested.Add(st.Amount)
		}
	}

	settled := processed
	if s.opts.SettledBasis == config.SettledBasisAll {
		settled = processed.Add(requested)
	}

	pending := earned.Sub(settled)
	if pending.IsNegative() {
		pending = decimal.Zero
	}

	return models.PendingSettlement{
		AmbassadorID:     amb.ID,
		Pending:          pending,
		TotalEarned:      earned,
		TotalSettled:     settled,
		ProcessedTotal:   processed,
		PendingRequested: requested,
		BenefitPercent:   pct,
		SettledBasis:     s.opts.SettledBasis,
	}, nil
}

// CreateSettlement opens a Pending payout request. The amount may not
// exceed what is left after processed payouts and other open requests.
func (s *Service) CreateSettlement(ctx context.Context, actor authz.Actor, ambassadorID int64, req models.CreateSettlementRequest) (created models.Settlement, err error) {
	const op = "service.CreateSettlement"
	ctx, done := s.begin(ctx, op, attribute.Int64("ambassador.id", ambassadorID))
	defer func() { done(err) }()

	scope, err := s.authorize(ctx, actor, authz.CapManageSettlements)
	if err != nil {
		return models.Settlement{}, err
	}
	if err := validation.ValidateID(ambassadorID, "ambassador_id"); err != nil {
		return models.Settlement{}, err
	}
	if err := validation.ValidateSettlementAmount(req.Amount); err != nil {
		return models.Settlement{}, err
	}

	err = s.inTx(ctx, func(ctx context.Context, tx *database.Tx) error {
		amb, err := tx.GetAmbassador(ctx, ambassadorID)
		if err != nil {
			return notFound(op, "ambassador", ambassadorID, err)
		}
		if err := checkScope(op, scope, amb.CampusID); err != nil {
			return err
		}

		balance, err := s.pendingFor(ctx, tx.Queries, amb)
		if err != nil {
			return err
		}
		outstanding := balance.TotalEarned.Sub(balance.ProcessedTotal).Sub(balance.PendingRequested)
		if req.Amount.GreaterThan(outstanding) {
			return apperr.Newf(apperr.KindInvalidState, op,
				"amount %s exceeds outstanding balance %s", req.Amount.StringFixed(2), outstanding.StringFixed(2))
		}

		created = models.Settlement{
			AmbassadorID: ambassadorID,
			Amount:       req.Amount,
			Status:       models.SettlementPending,
			Remarks:      validation.SanitizeString(req.Remarks),
			CreatedBy:    actor.ID,
		}
		if err := tx.CreateSettlement(ctx, &created); err != nil {
			return err
		}

		return s.audit.Record(ctx, tx, audit.Entry{
			Actor:    actor,
			Action:   audit.ActionSettlementCreated,
			Module:   audit.ModuleSettlements,
			TargetID: audit.Target(created.ID),
			After:    created,
			Extra:    map[string]any{"outstanding_before": outstanding},
		})
	})
	if err != nil {
		return models.Settlement{}, classify(op, err)
	}

	s.metrics.SettlementCreated()
	return created, nil
}

// ProcessSettlement marks a Pending settlement as paid.
func (s *Service) ProcessSettlement(ctx context.Context, actor authz.Actor, settlementID int64, req models.ProcessSettlementRequest) (st models.Settlement, err error) {
	const op = "service.ProcessSettlement"
	ctx, done := s.begin(ctx, op, attribute.Int64("settlement.id", settlementID))
	defer func() { done(err) }()

	scope, err := s.authorize(ctx, actor, authz.CapProcessSettlements)
	if err != nil {
		return models.Settlement{}, err
	}
	if err := validation.ValidateID(settlementID, "settlement_id"); err != nil {
		return models.Settlement{}, err
	}
	if err := validation.ValidateProcessSettlement(req); err != nil {
		return models.Settlement{}, err
	}

	err = s.inTx(ctx, func(ctx context.Context, tx *database.Tx) error {
		st, err = tx.GetSettlement(ctx, settlementID)
		if err != nil {
			return notFound(op, "settlement", settlementID, err)
		}
		if st.Status != models.SettlementPending {
			return apperr.Newf(apperr.KindInvalidState, op, "settlement %d is %s", settlementID, st.Status)
		}

		amb, err := tx.GetAmbassador(ctx, st.AmbassadorID)
		if err != nil {
			return notFound(op, "ambassador", st.AmbassadorID, err)
		}
		if err := checkScope(op, scope, amb.CampusID); err != nil {
			return err
		}

		balance, err := s.pendingFor(ctx, tx.Queries, amb)
		if err != nil {
			return err
		}
		if balance.ProcessedTotal.Add(st.Amount).GreaterThan(balance.TotalEarned) {
			return apperr.Newf(apperr.KindInvalidState, op,
				"processing %s would exceed total earned %s", st.Amount.StringFixed(2), balance.TotalEarned.StringFixed(2))
		}

		before := st
		now := s.now().UTC()
		st.Status = models.SettlementProcessed
		st.BankReference = validation.SanitizeString(req.BankReference)
		st.PayoutDate = req.PayoutDate
		if st.PayoutDate == nil {
			st.PayoutDate = &now
		}
		if req.Remarks != nil {
			st.Remarks = validation.SanitizeString(*req.Remarks)
		}
		st.ProcessedBy = actor.ID

		if err := tx.MarkSettlementProcessed(ctx, st); err != nil {
			if errors.Is(err, database.ErrNotPending) {
				return apperr.Wrap(apperr.KindInvalidState, op, "settlement is no longer pending", err)
			}
			return err
		}

		return s.audit.Record(ctx, tx, audit.Entry{
			Actor:    actor,
			Action:   audit.ActionSettlementProcessed,
			Module:   audit.ModuleSettlements,
			TargetID: audit.Target(st.ID),
			Before:   before,
			After:    st,
		})
	})
	if err != nil {
		return models.Settlement{}, classify(op, err)
	}

	s.metrics.SettlementProcessed()
	s.events.PublishSettlementProcessed(ctx, st)
	s.log.WithContext(ctx).WithFields(map[string]any{
		"settlement_id": st.ID,
		"ambassador_id": st.AmbassadorID,
		"amount":        st.Amount.StringFixed(2),
	}).Info("settlement processed")
	return st, nil
}

// DeleteSettlement removes a Pending settlement. Processed settlements are
// part of the payout history and cannot be deleted.
func (s *Service) DeleteSettlement(ctx context.Context, actor authz.Actor, settlementID int64) (err error) {
	const op = "service.DeleteSettlement"
	ctx, done := s.begin(ctx, op, attribute.Int64("settlement.id", settlementID))
	defer func() { done(err) }()

	scope, err := s.authorize(ctx, actor, authz.CapManageSettlements)
	if err != nil {
		return err
	}
	if err := validation.ValidateID(settlementID, "settlement_id"); err != nil {
		return err
	}

	err = s.inTx(ctx, func(ctx context.Context, tx *database.Tx) error {
		st, err := tx.GetSettlement(ctx, settlementID)
		if err != nil {
			return notFound(op, "settlement", settlementID, err)
		}
		if st.Status != models.SettlementPending {
			return apperr.Newf(apperr.KindInvalidState, op, "settlement %d is %s and cannot be deleted", settlementID, st.Status)
		}

		amb, err := tx.GetAmbassador(ctx, st.AmbassadorID)
		if err != nil {
			return notFound(op, "ambassador", st.AmbassadorID, err)
		}
		if err := checkScope(op, scope, amb.CampusID); err != nil {
			return err
		}

		if err := tx.DeletePendingSettlement(ctx, settlementID); err != nil {
			if errors.Is(err, database.ErrNotPending) {
				return apperr.Wrap(apperr.KindInvalidState, op, "settlement is no longer pending", err)
			}
			return err
		}

		return s.audit.Record(ctx, tx, audit.Entry{
			Actor:    actor,
			Action:   audit.ActionSettlementDeleted,
			Module:   audit.ModuleSettlements,
			TargetID: audit.Target(settlementID),
			Before:   st,
		})
	})
	if err != nil {
		return classify(op, err)
	}

	s.metrics.SettlementDeleted()
	return nil
}

// ListSettlements returns every settlement of an ambassador, oldest first.
func (s *Service) ListSettlements(ctx context.Context, actor authz.Actor, ambassadorID int64) ([]models.Settlement, error) {
	const op = "service.ListSettlements"

	scope, err := s.authorize(ctx, actor, authz.CapViewSettlements)
	if err != nil {
		return nil, err
	}

	amb, err := s.db.GetAmbassador(ctx, ambassadorID)
	if err != nil {
		return nil, classify(op, notFound(op, "ambassador", ambassadorID, err))
	}
	if err := checkScope(op, scope, amb.CampusID); err != nil {
		return nil, err
	}

	settlements, err := s.db.ListSettlements(ctx, ambassadorID)
	if err != nil {
		return nil, classify(op, err)
	}
	return settlements, nil
}
