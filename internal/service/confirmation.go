package service

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"ambassador-ledger/internal/apperr"
	"ambassador-ledger/internal/audit"
	"ambassador-ledger/internal/authz"
	"ambassador-ledger/internal/database"
	"ambassador-ledger/internal/models"
	"ambassador-ledger/internal/validation"
)

// ConfirmLead moves a lead to Confirmed and refreshes the owning
// ambassador's benefit in the same transaction. Confirming a lead that is
// already Confirmed returns the current state without writing anything.
func (s *Service) ConfirmLead(ctx context.Context, actor authz.Actor, leadID int64) (res models.ConfirmResult, err error) {
	const op = "service.ConfirmLead"
	ctx, done := s.begin(ctx, op, attribute.Int64("lead.id", leadID))
	defer func() { done(err) }()

	scope, err := s.authorize(ctx, actor, authz.CapConfirmLead)
	if err != nil {
		return models.ConfirmResult{}, err
	}
	if err := validation.ValidateID(leadID, "lead_id"); err != nil {
		return models.ConfirmResult{}, err
	}

	var (
		previous models.AmbassadorBenefit
		changed  bool
	)
	err = s.retryOnConflict(ctx, op, func() error {
		changed = false
		return s.inTx(ctx, func(ctx context.Context, tx *database.Tx) error {
			lead, err := tx.GetLead(ctx, leadID)
			if err != nil {
				return notFound(op, "lead", leadID, err)
			}
			if err := checkScope(op, scope, lead.CampusID); err != nil {
				return err
			}

			amb, err := tx.GetAmbassador(ctx, lead.AmbassadorID)
			if err != nil {
				return notFound(op, "ambassador", lead.AmbassadorID, err)
			}

			if lead.LeadStatus == models.LeadConfirmed {
				res = models.ConfirmResult{
					LeadID:            lead.ID,
					LeadStatus:        lead.LeadStatus,
					ConfirmedDate:     lead.ConfirmedDate,
					AlreadyConfirmed:  true,
					AmbassadorBenefit: benefitOf(amb),
				}
				return nil
			}

			now := s.now().UTC()
			if err := tx.SetLeadStatus(ctx, lead.ID, models.LeadConfirmed, &now); err != nil {
				return err
			}

			previous = benefitOf(amb)
			current, err := s.refreshBenefit(ctx, tx, amb, OperatingYear(now, s.opts.AcademicYearStartMonth))
			if err != nil {
				return err
			}

			if err := s.audit.Record(ctx, tx, audit.Entry{
				Actor:    actor,
				Action:   audit.ActionLeadConfirmed,
				Module:   audit.ModuleReferrals,
				TargetID: audit.Target(lead.ID),
				Before:   map[string]any{"lead_status": lead.LeadStatus, "benefit": previous},
				After:    map[string]any{"lead_status": models.LeadConfirmed, "benefit": current},
			}); err != nil {
				return err
			}

			res = models.ConfirmResult{
				LeadID:            lead.ID,
				LeadStatus:        models.LeadConfirmed,
				ConfirmedDate:     &now,
				AmbassadorBenefit: current,
			}
			changed = true
			return nil
		})
	})
	if err != nil {
		return models.ConfirmResult{}, classify(op, err)
	}

	if changed {
		s.metrics.LeadConfirmed()
		s.events.PublishBenefitChanged(ctx, leadID, previous, res.AmbassadorBenefit)
		s.log.WithContext(ctx).WithFields(map[string]any{
			"lead_id":       leadID,
			"ambassador_id": res.AmbassadorBenefit.AmbassadorID,
			"count":         res.AmbassadorBenefit.ConfirmedReferralCount,
		}).Info("lead confirmed")
	}
	return res, nil
}

// UpdateLeadStatus applies a pipeline move. New and Follow-up are
// interchangeable; Confirmed goes through ConfirmLead; a Confirmed lead
// cannot be moved back.
func (s *Service) UpdateLeadStatus(ctx context.Context, actor authz.Actor, leadID int64, status models.LeadStatus) (models.Lead, error) {
	const op = "service.UpdateLeadStatus"

	if err := validation.ValidateLeadStatus(status); err != nil {
		return models.Lead{}, err
	}
	if status == models.LeadConfirmed {
		if _, err := s.ConfirmLead(ctx, actor, leadID); err != nil {
			return models.Lead{}, err
		}
		lead, err := s.db.GetLead(ctx, leadID)
		return lead, classify(op, notFound(op, "lead", leadID, err))
	}

	var err error
	ctx, done := s.begin(ctx, op, attribute.Int64("lead.id", leadID), attribute.String("lead.status", string(status)))
	defer func() { done(err) }()

	scope, err := s.authorize(ctx, actor, authz.CapConfirmLead)
	if err != nil {
		return models.Lead{}, err
	}

	var lead models.Lead
	err = s.inTx(ctx, func(ctx context.Context, tx *database.Tx) error {
		lead, err = tx.GetLead(ctx, leadID)
		if err != nil {
			return notFound(op, "lead", leadID, err)
		}
		if err := checkScope(op, scope, lead.CampusID); err != nil {
			return err
		}

		switch lead.LeadStatus {
		case status:
			return nil
		case models.LeadConfirmed:
			return apperr.Newf(apperr.KindInvalidState, op, "lead %d is confirmed and cannot move to %s", leadID, status)
		}

		before := lead.LeadStatus
		if err := tx.SetLeadStatus(ctx, leadID, status, nil); err != nil {
			return err
		}
		lead.LeadStatus = status

		return s.audit.Record(ctx, tx, audit.Entry{
			Actor:    actor,
			Action:   audit.ActionLeadStatusChanged,
			Module:   audit.ModuleReferrals,
			TargetID: audit.Target(leadID),
			Before:   map[string]any{"lead_status": before},
			After:    map[string]any{"lead_status": status},
		})
	})
	if err != nil {
		err = classify(op, err)
		return models.Lead{}, err
	}
	return lead, nil
}

// SubmitLead records a new referral in status New.
func (s *Service) SubmitLead(ctx context.Context, actor authz.Actor, req models.SubmitLeadRequest) (lead models.Lead, err error) {
	const op = "service.SubmitLead"
	ctx, done := s.begin(ctx, op, attribute.Int64("ambassador.id", req.AmbassadorID))
	defer func() { done(err) }()

	scope, err := s.authorize(ctx, actor, authz.CapSubmitLead)
	if err != nil {
		return models.Lead{}, err
	}
	if err := validation.ValidateSubmitLead(req); err != nil {
		return models.Lead{}, err
	}

	campusID := req.CampusID
	if campusID == nil && scope.CampusID != 0 {
		id := scope.CampusID
		campusID = &id
	}
	if err := checkScope(op, scope, campusID); err != nil {
		return models.Lead{}, err
	}

	err = s.inTx(ctx, func(ctx context.Context, tx *database.Tx) error {
		if _, err := tx.GetAmbassador(ctx, req.AmbassadorID); err != nil {
			return notFound(op, "ambassador", req.AmbassadorID, err)
		}

		lead = models.Lead{
			AmbassadorID: req.AmbassadorID,
			CampusID:     campusID,
			StudentName:  validation.SanitizeString(req.StudentName),
			ParentMobile: validation.SanitizeString(req.ParentMobile),
			Grade:        validation.SanitizeString(req.Grade),
			LeadStatus:   models.LeadNew,
		}
		if err := tx.CreateLead(ctx, &lead); err != nil {
			return err
		}

		return s.audit.Record(ctx, tx, audit.Entry{
			Actor:    actor,
			Action:   audit.ActionLeadSubmitted,
			Module:   audit.ModuleReferrals,
			TargetID: audit.Target(lead.ID),
			After:    lead,
		})
	})
	if err != nil {
		return models.Lead{}, classify(op, err)
	}
	return lead, nil
}

// RecalculateAmbassador recounts confirmed leads and rewrites the derived
// benefit fields without touching any lead.
func (s *Service) RecalculateAmbassador(ctx context.Context, actor authz.Actor, ambassadorID int64) (current models.AmbassadorBenefit, err error) {
	const op = "service.RecalculateAmbassador"
	ctx, done := s.begin(ctx, op, attribute.Int64("ambassador.id", ambassadorID))
	defer func() { done(err) }()

	scope, err := s.authorize(ctx, actor, authz.CapRecalculate)
	if err != nil {
		return models.AmbassadorBenefit{}, err
	}
	if err := validation.ValidateID(ambassadorID, "ambassador_id"); err != nil {
		return models.AmbassadorBenefit{}, err
	}

	var previous models.AmbassadorBenefit
	err = s.retryOnConflict(ctx, op, func() error {
		return s.inTx(ctx, func(ctx context.Context, tx *database.Tx) error {
			amb, err := tx.GetAmbassador(ctx, ambassadorID)
			if err != nil {
				return notFound(op, "ambassador", ambassadorID, err)
			}
			if err := checkScope(op, scope, amb.CampusID); err != nil {
				return err
			}

			previous = benefitOf(amb)
			current, err = s.refreshBenefit(ctx, tx, amb, 0)
			if err != nil {
				return err
			}

			return s.audit.Record(ctx, tx, audit.Entry{
				Actor:    actor,
				Action:   audit.ActionBenefitRecalculated,
				Module:   audit.ModuleBenefits,
				TargetID: audit.Target(ambassadorID),
				Before:   previous,
				After:    current,
			})
		})
	})
	if err != nil {
		return models.AmbassadorBenefit{}, classify(op, err)
	}

	if previous != current {
		s.events.PublishBenefitChanged(ctx, 0, previous, current)
	}
	return current, nil
}

// refreshBenefit recounts the ambassador's confirmed leads and writes the
// derived benefit under the version check. activeYear of 0 keeps the stored
// last active year.
func (s *Service) refreshBenefit(ctx context.Context, tx *database.Tx, amb models.Ambassador, activeYear int) (models.AmbassadorBenefit, error) {
	count, err := tx.CountConfirmedLeads(ctx, amb.ID)
	if err != nil {
		return models.AmbassadorBenefit{}, err
	}

	b := s.slabs().Evaluate(count, amb.IsFiveStarMember, s.opts.Strategy)
	current := models.AmbassadorBenefit{
		AmbassadorID:           amb.ID,
		ConfirmedReferralCount: b.ConfirmedReferralCount,
		YearFeeBenefitPercent:  b.YearFeeBenefitPercent,
		LongTermBenefitPercent: b.LongTermBenefitPercent,
		IsFiveStarMember:       b.IsFiveStarMember,
		BenefitStatus:          b.BenefitStatus,
		LastActiveYear:         amb.LastActiveYear,
	}
	if activeYear != 0 {
		current.LastActiveYear = activeYear
	}

	if _, err := tx.UpdateAmbassadorBenefit(ctx, amb.ID, amb.Version, current); err != nil {
		return models.AmbassadorBenefit{}, fmt.Errorf("failed to write benefit for ambassador %d: %w", amb.ID, err)
	}
	return current, nil
}
