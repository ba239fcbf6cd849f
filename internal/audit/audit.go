// Package audit appends activity log entries for every state-changing
// operation. Entries are write-only from this service's point of view.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"ambassador-ledger/internal/authz"
	"ambassador-ledger/internal/database"
	"ambassador-ledger/internal/logger"
	"ambassador-ledger/internal/models"
)

// Module names used by compliance views.
const (
	ModuleReferrals   = "referrals"
	ModuleBenefits    = "benefits"
	ModuleSettlements = "settlements"
	ModuleMaintenance = "maintenance"
)

// Actions recorded by the ledger.
const (
	ActionLeadSubmitted       = "lead.submitted"
	ActionLeadStatusChanged   = "lead.status_changed"
	ActionLeadConfirmed       = "lead.confirmed"
	ActionBenefitRecalculated = "benefit.recalculated"
	ActionSettlementCreated   = "settlement.created"
	ActionSettlementProcessed = "settlement.processed"
	ActionSettlementDeleted   = "settlement.deleted"
	ActionBackupExported      = "backup.exported"
	ActionBackupRestored      = "backup.restored"
	ActionCampusMerged        = "campus.merged"
	ActionCampusRenamed       = "campus.renamed"
)

// Entry is one audit record before persistence.
type Entry struct {
	Actor    authz.Actor
	Action   string
	Module   string
	TargetID string
	Before   any
	After    any
	Extra    map[string]any
}

// Target formats an integer primary key as an audit target id.
func Target(id int64) string {
	return strconv.FormatInt(id, 10)
}

type metadata struct {
	Before any            `json:"before,omitempty"`
	After  any            `json:"after,omitempty"`
	Extra  map[string]any `json:"extra,omitempty"`
}

// Recorder writes entries to the activity_logs table.
type Recorder struct {
	db  *database.DB
	log *logger.Logger
	now func() time.Time
}

// NewRecorder creates a recorder.
func NewRecorder(db *database.DB, log *logger.Logger) *Recorder {
	if log == nil {
		log = logger.Discard()
	}
	return &Recorder{db: db, log: log.WithField("component", "audit"), now: time.Now}
}

// Record writes e inside tx so the entry commits or rolls back with the
// mutation it describes.
func (r *Recorder) Record(ctx context.Context, tx *database.Tx, e Entry) error {
	row, err := r.build(e)
	if err != nil {
		return err
	}
	return tx.InsertActivityLog(ctx, row)
}

// RecordBestEffort writes e outside any transaction. Failures are logged and
// never returned.
func (r *Recorder) RecordBestEffort(ctx context.Context, e Entry) {
	row, err := r.build(e)
	if err == nil {
		err = r.db.InsertActivityLog(ctx, row)
	}
	if err != nil {
		r.log.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"action":    e.Action,
			"module":    e.Module,
			"target_id": e.TargetID,
		}).Warn("failed to write audit entry")
	}
}

func (r *Recorder) build(e Entry) (models.ActivityLog, error) {
	meta, err := json.Marshal(metadata{Before: e.Before, After: e.After, Extra: e.Extra})
	if err != nil {
		return models.ActivityLog{}, fmt.Errorf("failed to encode audit metadata: %w", err)
	}
	return models.ActivityLog{
		ID:        uuid.NewString(),
		ActorID:   e.Actor.ID,
		ActorName: e.Actor.Name,
		ActorRole: e.Actor.Role,
		Action:    e.Action,
		Module:    e.Module,
		TargetID:  e.TargetID,
		Metadata:  meta,
		CreatedAt: r.now().UTC(),
	}, nil
}
