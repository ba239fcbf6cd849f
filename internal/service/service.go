package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"ambassador-ledger/internal/apperr"
	"ambassador-ledger/internal/audit"
	"ambassador-ledger/internal/authz"
	"ambassador-ledger/internal/benefit"
	"ambassador-ledger/internal/config"
	"ambassador-ledger/internal/database"
	"ambassador-ledger/internal/events"
	"ambassador-ledger/internal/logger"
	"ambassador-ledger/internal/metrics"
	"ambassador-ledger/internal/models"
	"ambassador-ledger/internal/tracing"
)

// Options are the deployment-level business rules.
type Options struct {
	Strategy               benefit.FiveStarBonusStrategy
	SettledBasis           string
	AcademicYearStartMonth time.Month
	StatementTimeout       time.Duration
	ConfirmRetryAttempts   int
}

// OptionsFromConfig converts validated ledger configuration.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	strategy, err := benefit.ParseStrategy(cfg.Ledger.FiveStarStrategy)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Strategy:               strategy,
		SettledBasis:           cfg.Ledger.SettledBasis,
		AcademicYearStartMonth: time.Month(cfg.Ledger.AcademicYearStartMonth),
		StatementTimeout:       cfg.Database.StatementTimeout,
		ConfirmRetryAttempts:   cfg.Ledger.ConfirmRetryAttempts,
	}, nil
}

// Deps are the collaborators of the service. Nil fields get working
// defaults, which keeps tests short.
type Deps struct {
	DB         *database.DB
	Authorizer authz.Authorizer
	Audit      *audit.Recorder
	Events     *events.Manager
	Metrics    *metrics.Metrics
	Logger     *logger.Logger
}

// Service provides the referral confirmation and settlement ledger logic.
type Service struct {
	db      *database.DB
	table   atomic.Pointer[benefit.Table]
	authz   authz.Authorizer
	audit   *audit.Recorder
	events  *events.Manager
	metrics *metrics.Metrics
	log     *logger.Logger
	opts    Options
	now     func() time.Time
}

// NewService creates a new service instance using the slab table stored in
// the database, falling back to the shipped defaults when none is stored.
func NewService(ctx context.Context, deps Deps, opts Options) (*Service, error) {
	if deps.DB == nil {
		return nil, errors.New("service: database is required")
	}
	if deps.Logger == nil {
		deps.Logger = logger.Discard()
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
	if opts.Strategy == nil {
		opts.Strategy = benefit.SlabBaseStrategy{}
	}
	if opts.SettledBasis == "" {
		opts.SettledBasis = config.SettledBasisProcessed
	}
	if opts.AcademicYearStartMonth == 0 {
		opts.AcademicYearStartMonth = time.June
	}
	if opts.StatementTimeout <= 0 {
		opts.StatementTimeout = 10 * time.Second
	}
	if opts.ConfirmRetryAttempts < 1 {
		opts.ConfirmRetryAttempts = 3
	}

	s := &Service{
		db:      deps.DB,
		authz:   deps.Authorizer,
		audit:   deps.Audit,
		events:  deps.Events,
		metrics: deps.Metrics,
		log:     deps.Logger.WithField("component", "service"),
		opts:    opts,
		now:     time.Now,
	}
	if err := s.ReloadSlabs(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// ReloadSlabs reads the slab table from the store. Called at startup and
// after a restore replaced the table.
func (s *Service) ReloadSlabs(ctx context.Context) error {
	slabs, err := s.db.ListSlabs(ctx)
	if err != nil {
		return fmt.Errorf("failed to load benefit slabs: %w", err)
	}

	table := benefit.MustDefaultTable()
	if len(slabs) > 0 {
		if table, err = benefit.NewTable(slabs); err != nil {
			return fmt.Errorf("stored benefit slabs are invalid: %w", err)
		}
	}
	s.table.Store(table)
	return nil
}

// ListSlabs returns the slab table in effect.
func (s *Service) ListSlabs() []models.BenefitSlab {
	return s.slabs().Slabs()
}

func (s *Service) slabs() *benefit.Table {
	return s.table.Load()
}

// OperatingYear returns the start year of the academic year containing now.
func OperatingYear(now time.Time, startMonth time.Month) int {
	if now.Month() >= startMonth {
		return now.Year()
	}
	return now.Year() - 1
}

// begin opens a span for op and returns the function that closes it.
func (s *Service) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := tracing.Start(ctx, op, attrs...)
	return ctx, func(err error) {
		tracing.End(span, err)
		s.metrics.ObserveSince(op, start)
	}
}

func (s *Service) authorize(ctx context.Context, actor authz.Actor, capability authz.Capability) (authz.Scope, error) {
	scope, err := s.authz.Authorize(ctx, actor, capability)
	if err != nil {
		s.log.WithContext(ctx).WithFields(map[string]any{
			"actor_id":   actor.ID,
			"actor_role": actor.Role,
			"capability": string(capability),
		}).Info("capability denied")
		return authz.Scope{}, err
	}
	return scope, nil
}

// inTx runs fn in one transaction bounded by the statement timeout.
func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context, tx *database.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.StatementTimeout)
	defer cancel()

	return s.db.WithTx(ctx, func(tx *database.Tx) error {
		return fn(ctx, tx)
	})
}

// retryOnConflict reruns fn while the ambassador version check fails.
func (s *Service) retryOnConflict(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= s.opts.ConfirmRetryAttempts; attempt++ {
		err = fn()
		if !errors.Is(err, database.ErrVersionConflict) {
			return err
		}
		s.metrics.ConfirmConflict()
		s.log.WithContext(ctx).WithFields(map[string]any{
			"op":      op,
			"attempt": attempt,
		}).Warn("ambassador version conflict, retrying")
	}
	return apperr.Wrap(apperr.KindTransactionFailure, op, "concurrent update, please retry", err)
}

// classify maps store errors onto the error kinds callers see.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case apperr.KindOf(err) != apperr.KindUnknown:
		return err
	case errors.Is(err, database.ErrNotFound):
		return apperr.Wrap(apperr.KindNotFound, op, "not found", err)
	case errors.Is(err, context.DeadlineExceeded):
		return apperr.Wrap(apperr.KindTransactionFailure, op, "operation timed out", err)
	default:
		return apperr.Wrap(apperr.KindTransactionFailure, op, "transaction failed", err)
	}
}

func notFound(op, entity string, id int64, err error) error {
	if errors.Is(err, database.ErrNotFound) {
		return apperr.Wrap(apperr.KindNotFound, op, fmt.Sprintf("%s %d not found", entity, id), err)
	}
	return err
}

func checkScope(op string, scope authz.Scope, campusID *int64) error {
	if !scope.AllowsCampus(campusID) {
		return apperr.New(apperr.KindUnauthorized, op, "record belongs to another campus")
	}
	return nil
}

func benefitOf(a models.Ambassador) models.AmbassadorBenefit {
	return models.AmbassadorBenefit{
		AmbassadorID:           a.ID,
		ConfirmedReferralCount: a.ConfirmedReferralCount,
		YearFeeBenefitPercent:  a.YearFeeBenefitPercent,
		LongTermBenefitPercent: a.LongTermBenefitPercent,
		IsFiveStarMember:       a.IsFiveStarMember,
		BenefitStatus:          a.BenefitStatus,
		LastActiveYear:         a.LastActiveYear,
	}
}
