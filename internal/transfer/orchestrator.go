package transfer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"ambassador-ledger/internal/apperr"
	"ambassador-ledger/internal/audit"
	"ambassador-ledger/internal/authz"
	"ambassador-ledger/internal/benefit"
	"ambassador-ledger/internal/database"
	"ambassador-ledger/internal/events"
	"ambassador-ledger/internal/logger"
	"ambassador-ledger/internal/metrics"
	"ambassador-ledger/internal/models"
	"ambassador-ledger/internal/tracing"
	"ambassador-ledger/internal/validation"
)

// Deps are the collaborators of the orchestrator. Nil fields get defaults.
type Deps struct {
	DB         *database.DB
	Graph      *Graph
	Authorizer authz.Authorizer
	Audit      *audit.Recorder
	Events     *events.Manager
	Metrics    *metrics.Metrics
	Logger     *logger.Logger
	// AfterRestore runs once a restore has committed, e.g. to reload
	// cached reference data.
	AfterRestore func(ctx context.Context) error
}

// Orchestrator runs backup, restore and campus maintenance.
type Orchestrator struct {
	db           *database.DB
	graph        *Graph
	authz        authz.Authorizer
	audit        *audit.Recorder
	events       *events.Manager
	metrics      *metrics.Metrics
	log          *logger.Logger
	afterRestore func(ctx context.Context) error
	now          func() time.Time
}

// New creates an orchestrator.
func New(deps Deps) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = logger.Discard()
	}
	if deps.Graph == nil {
		deps.Graph = DefaultGraph()
	}
	if deps.Authorizer == nil {
		deps.Authorizer = authz.DefaultPolicy()
	}
	if deps.Audit == nil {
		deps.Audit = audit.NewRecorder(deps.DB, deps.Logger)
	}
	if deps.Events == nil {
		deps.Events = events.NewManager(false, deps.Logger)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New(nil)
	}
	return &Orchestrator{
		db:           deps.DB,
		graph:        deps.Graph,
		authz:        deps.Authorizer,
		audit:        deps.Audit,
		events:       deps.Events,
		metrics:      deps.Metrics,
		log:          deps.Logger.WithField("component", "transfer"),
		afterRestore: deps.AfterRestore,
		now:          time.Now,
	}
}

func (o *Orchestrator) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := tracing.Start(ctx, op, attrs...)
	return ctx, func(err error) {
		tracing.End(span, err)
		o.metrics.ObserveSince(op, start)
	}
}

// Backup exports every table of the graph, parents first, from one
// consistent read.
func (o *Orchestrator) Backup(ctx context.Context, actor authz.Actor) (blob []byte, err error) {
	const op = "transfer.Backup"
	ctx, done := o.begin(ctx, op)
	defer func() {
		o.metrics.Transfer("backup", err)
		done(err)
	}()

	if _, err := o.authz.Authorize(ctx, actor, authz.CapBackup); err != nil {
		return nil, err
	}

	snap := &Snapshot{
		ID:         uuid.NewString(),
		Format:     SnapshotFormat,
		Version:    SnapshotVersion,
		CreatedAt:  o.now().UTC(),
		ExportedBy: actor.ID,
	}

	err = o.db.WithTx(ctx, func(tx *database.Tx) error {
		for _, name := range o.graph.ForwardOrder() {
			t, _ := o.graph.Table(name)
			data := TableData{Name: t.Name, Columns: slices.Clone(t.Columns), Rows: [][]any{}}
			for row, err := range tx.ScanTable(ctx, t.Name, t.Columns, t.PrimaryKey) {
				if err != nil {
					return err
				}
				data.Rows = append(data.Rows, row)
			}
			snap.Tables = append(snap.Tables, data)
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransactionFailure, op, "backup read failed", err)
	}

	blob, err = Encode(snap)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransactionFailure, op, "backup encoding failed", err)
	}
	o.metrics.SnapshotSize(len(blob))

	o.audit.RecordBestEffort(ctx, audit.Entry{
		Actor:    actor,
		Action:   audit.ActionBackupExported,
		Module:   audit.ModuleMaintenance,
		TargetID: snap.ID,
		Extra:    map[string]any{"rows": snap.RowCount(), "bytes": len(blob)},
	})
	o.log.WithContext(ctx).WithFields(map[string]any{
		"snapshot_id": snap.ID,
		"rows":        snap.RowCount(),
		"bytes":       len(blob),
	}).Info("backup exported")

	return blob, nil
}

// RestoreReport summarises a committed restore.
type RestoreReport struct {
	SnapshotID string         `json:"snapshot_id"`
	CreatedAt  time.Time      `json:"created_at"`
	Deleted    map[string]int `json:"deleted"`
	Inserted   map[string]int `json:"inserted"`
}

// Restore replaces the content of every graph table with the snapshot in
// one transaction. On any failure the store is left untouched.
func (o *Orchestrator) Restore(ctx context.Context, actor authz.Actor, blob []byte) (report RestoreReport, err error) {
	const op = "transfer.Restore"
	ctx, done := o.begin(ctx, op, attribute.Int("snapshot.bytes", len(blob)))
	defer func() {
		o.metrics.Transfer("restore", err)
		done(err)
	}()

	if _, err := o.authz.Authorize(ctx, actor, authz.CapRestore); err != nil {
		return RestoreReport{}, err
	}

	snap, err := Decode(blob)
	if err != nil {
		return RestoreReport{}, apperr.Wrap(apperr.KindIntegrityViolation, op, err.Error(), err)
	}
	tables, err := validateSnapshot(o.graph, snap)
	if err != nil {
		return RestoreReport{}, apperr.Wrap(apperr.KindIntegrityViolation, op, err.Error(), err)
	}
	o.metrics.SnapshotSize(len(blob))

	report = RestoreReport{
		SnapshotID: snap.ID,
		CreatedAt:  snap.CreatedAt,
		Deleted:    make(map[string]int),
		Inserted:   make(map[string]int),
	}

	err = o.db.WithTx(ctx, func(tx *database.Tx) error {
		for _, name := range o.graph.DeletionOrder() {
			n, err := tx.DeleteAllRows(ctx, name)
			if err != nil {
				return err
			}
			report.Deleted[name] = int(n)
		}

		for _, name := range o.graph.ForwardOrder() {
			data := tables[name]
			for _, row := range data.Rows {
				if err := tx.InsertRow(ctx, name, data.Columns, row); err != nil {
					return err
				}
			}
			report.Inserted[name] = len(data.Rows)
		}

		return o.audit.Record(ctx, tx, audit.Entry{
			Actor:    actor,
			Action:   audit.ActionBackupRestored,
			Module:   audit.ModuleMaintenance,
			TargetID: snap.ID,
			Extra: map[string]any{
				"snapshot_created_at": snap.CreatedAt,
				"exported_by":         snap.ExportedBy,
				"deleted":             report.Deleted,
				"inserted":            report.Inserted,
			},
		})
	})
	if err != nil {
		return RestoreReport{}, apperr.Wrap(apperr.KindTransactionFailure, op, "restore rolled back", err)
	}

	if o.afterRestore != nil {
		if err := o.afterRestore(ctx); err != nil {
			o.log.WithContext(ctx).WithError(err).Error("post-restore hook failed")
		}
	}
	o.events.PublishRestoreCompleted(ctx, snap.ID, snap.RowCount())
	o.log.WithContext(ctx).WithFields(map[string]any{
		"snapshot_id": snap.ID,
		"rows":        snap.RowCount(),
	}).Info("snapshot restored")

	return report, nil
}

// validateSnapshot checks the snapshot against the graph: every table
// present once with the declared columns, unique primary keys, every
// foreign key resolving inside the snapshot, and slab rows the resolver
// accepts.
func validateSnapshot(g *Graph, s *Snapshot) (map[string]TableData, error) {
	tables := make(map[string]TableData, len(s.Tables))
	for _, data := range s.Tables {
		t, ok := g.Table(data.Name)
		if !ok {
			return nil, fmt.Errorf("snapshot contains unknown table %q", data.Name)
		}
		if _, dup := tables[data.Name]; dup {
			return nil, fmt.Errorf("snapshot contains table %s twice", data.Name)
		}
		if !sameColumns(t.Columns, data.Columns) {
			return nil, fmt.Errorf("table %s: columns %v do not match %v", data.Name, data.Columns, t.Columns)
		}
		for i, row := range data.Rows {
			if len(row) != len(data.Columns) {
				return nil, fmt.Errorf("table %s row %d: %d values for %d columns", data.Name, i, len(row), len(data.Columns))
			}
		}
		tables[data.Name] = data
	}

	keys := make(map[string]map[string]bool, len(tables))
	for _, name := range g.ForwardOrder() {
		data, ok := tables[name]
		if !ok {
			return nil, fmt.Errorf("snapshot is missing table %s", name)
		}
		t, _ := g.Table(name)
		pk := slices.Index(data.Columns, t.PrimaryKey)
		seen := make(map[string]bool, len(data.Rows))
		for i, row := range data.Rows {
			if row[pk] == nil {
				return nil, fmt.Errorf("table %s row %d: null primary key", name, i)
			}
			k := fmt.Sprint(row[pk])
			if seen[k] {
				return nil, fmt.Errorf("table %s: duplicate primary key %s", name, k)
			}
			seen[k] = true
		}
		keys[name] = seen
	}

	for _, name := range g.ForwardOrder() {
		data := tables[name]
		t, _ := g.Table(name)
		for _, fk := range t.ForeignKeys {
			col := slices.Index(data.Columns, fk.Column)
			for i, row := range data.Rows {
				if row[col] == nil {
					continue
				}
				if !keys[fk.References][fmt.Sprint(row[col])] {
					return nil, fmt.Errorf("table %s row %d: %s=%v has no row in %s",
						name, i, fk.Column, row[col], fk.References)
				}
			}
		}
	}

	if data, ok := tables[slabTable]; ok {
		slabs, err := slabsFromRows(data)
		if err != nil {
			return nil, err
		}
		if _, err := benefit.NewTable(slabs); err != nil {
			return nil, fmt.Errorf("table %s: %w", slabTable, err)
		}
	}

	return tables, nil
}

const slabTable = "benefit_slabs"

// slabsFromRows reads benefit_slabs rows as decoded by Decode.
func slabsFromRows(data TableData) ([]models.BenefitSlab, error) {
	col := make(map[string]int, len(data.Columns))
	for i, c := range data.Columns {
		col[c] = i
	}

	slabs := make([]models.BenefitSlab, 0, len(data.Rows))
	for i, row := range data.Rows {
		var s models.BenefitSlab
		referrals, err := asInt(row[col["referral_count"]])
		if err == nil {
			s.ReferralCount = int(referrals)
			s.ID, err = asInt(row[col["id"]])
		}
		if err == nil {
			s.YearFeeBenefitPercent, err = asFloat(row[col["year_fee_benefit_percent"]])
		}
		if err == nil {
			s.LongTermExtraPercent, err = asFloat(row[col["long_term_extra_percent"]])
		}
		if err == nil {
			s.BaseLongTermPercent, err = asFloat(row[col["base_long_term_percent"]])
		}
		if err != nil {
			return nil, fmt.Errorf("table %s row %d: %w", slabTable, i, err)
		}
		slabs = append(slabs, s)
	}
	return slabs, nil
}

func asInt(v any) (int64, error) {
	if n, ok := v.(int64); ok {
		return n, nil
	}
	return 0, fmt.Errorf("expected an integer, got %v", v)
}

func asFloat(v any) (float64, error) {
	switch n := v.(type) {
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	}
	return 0, fmt.Errorf("expected a number, got %v", v)
}

func sameColumns(want, got []string) bool {
	if len(want) != len(got) {
		return false
	}
	a, b := slices.Clone(want), slices.Clone(got)
	slices.Sort(a)
	slices.Sort(b)
	return slices.Equal(a, b)
}

// MergeCampus folds source into target: campus references are moved or
// dropped per table policy, children before parents, then the source
// campus row is deleted. Everything happens in one transaction.
func (o *Orchestrator) MergeCampus(ctx context.Context, actor authz.Actor, sourceID, targetID int64) (report models.MergeReport, err error) {
	const op = "transfer.MergeCampus"
	ctx, done := o.begin(ctx, op, attribute.Int64("campus.source", sourceID), attribute.Int64("campus.target", targetID))
	defer func() {
		o.metrics.Transfer("merge_campus", err)
		done(err)
	}()

	if _, err := o.authz.Authorize(ctx, actor, authz.CapMergeCampus); err != nil {
		return models.MergeReport{}, err
	}
	if err := validation.ValidateID(sourceID, "source_campus_id"); err != nil {
		return models.MergeReport{}, err
	}
	if err := validation.ValidateID(targetID, "target_campus_id"); err != nil {
		return models.MergeReport{}, err
	}
	if sourceID == targetID {
		return models.MergeReport{}, &validation.ValidationError{
			Field:   "target_campus_id",
			Message: "must differ from the source campus",
		}
	}

	report = models.MergeReport{
		SourceCampusID: sourceID,
		TargetCampusID: targetID,
		Moved:          make(map[string]int64),
		Deleted:        make(map[string]int64),
	}

	err = o.db.WithTx(ctx, func(tx *database.Tx) error {
		source, err := getCampus(ctx, tx, op, sourceID)
		if err != nil {
			return err
		}
		target, err := getCampus(ctx, tx, op, targetID)
		if err != nil {
			return err
		}

		for _, name := range o.graph.DeletionOrder() {
			t, _ := o.graph.Table(name)
			for _, ref := range t.CampusRefs {
				var from, to any = source.ID, target.ID
				if ref.ByName {
					from, to = source.Name, target.Name
				}

				switch ref.OnMerge {
				case Drop:
					n, err := tx.DeleteRowsWhere(ctx, name, ref.Column, from)
					if err != nil {
						return err
					}
					report.Deleted[name] += n
				default:
					n, err := tx.ReplaceColumnValue(ctx, name, ref.Column, from, to)
					if err != nil {
						return err
					}
					report.Moved[name+"."+ref.Column] += n
				}
			}
		}

		n, err := tx.DeleteRowsWhere(ctx, CampusTable, "id", source.ID)
		if err != nil {
			return err
		}
		report.Deleted[CampusTable] += n

		return o.audit.Record(ctx, tx, audit.Entry{
			Actor:    actor,
			Action:   audit.ActionCampusMerged,
			Module:   audit.ModuleMaintenance,
			TargetID: audit.Target(target.ID),
			Before:   map[string]any{"source": source, "target": target},
			Extra:    map[string]any{"moved": report.Moved, "deleted": report.Deleted},
		})
	})
	if err != nil {
		if apperr.KindOf(err) != apperr.KindUnknown {
			return models.MergeReport{}, err
		}
		return models.MergeReport{}, apperr.Wrap(apperr.KindTransactionFailure, op, "campus merge rolled back", err)
	}

	o.log.WithContext(ctx).WithFields(map[string]any{
		"source_campus_id": sourceID,
		"target_campus_id": targetID,
	}).Info("campus merged")
	return report, nil
}

// RenameCampus changes a campus name and every reference that stores the
// name instead of the id.
func (o *Orchestrator) RenameCampus(ctx context.Context, actor authz.Actor, campusID int64, name string) (err error) {
	const op = "transfer.RenameCampus"
	ctx, done := o.begin(ctx, op, attribute.Int64("campus.id", campusID))
	defer func() { done(err) }()

	if _, err := o.authz.Authorize(ctx, actor, authz.CapMergeCampus); err != nil {
		return err
	}
	name = validation.SanitizeString(name)
	if name == "" {
		return &validation.ValidationError{Field: "name", Message: "is required"}
	}

	err = o.db.WithTx(ctx, func(tx *database.Tx) error {
		campus, err := getCampus(ctx, tx, op, campusID)
		if err != nil {
			return err
		}
		if campus.Name == name {
			return nil
		}
		taken, err := tx.CampusNameExists(ctx, name, campus.ID)
		if err != nil {
			return err
		}
		if taken {
			return apperr.Newf(apperr.KindInvalidState, op, "campus name %q is already in use", name)
		}

		moved := make(map[string]int64)
		for _, table := range o.graph.DeletionOrder() {
			t, _ := o.graph.Table(table)
			for _, ref := range t.CampusRefs {
				if !ref.ByName {
					continue
				}
				n, err := tx.ReplaceColumnValue(ctx, table, ref.Column, campus.Name, name)
				if err != nil {
					return err
				}
				moved[table+"."+ref.Column] = n
			}
		}
		if _, err := tx.ReplaceColumnValue(ctx, CampusTable, "name", campus.Name, name); err != nil {
			return err
		}

		return o.audit.Record(ctx, tx, audit.Entry{
			Actor:    actor,
			Action:   audit.ActionCampusRenamed,
			Module:   audit.ModuleMaintenance,
			TargetID: audit.Target(campus.ID),
			Before:   map[string]any{"name": campus.Name},
			After:    map[string]any{"name": name},
			Extra:    map[string]any{"moved": moved},
		})
	})
	if err != nil {
		if apperr.KindOf(err) != apperr.KindUnknown {
			return err
		}
		return apperr.Wrap(apperr.KindTransactionFailure, op, "campus rename rolled back", err)
	}
	return nil
}

func getCampus(ctx context.Context, tx *database.Tx, op string, id int64) (models.Campus, error) {
	c, err := tx.GetCampus(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return models.Campus{}, apperr.Wrap(apperr.KindNotFound, op, fmt.Sprintf("campus %d not found", id), err)
	}
	return c, err
}
