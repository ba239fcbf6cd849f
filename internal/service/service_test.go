package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ambassador-ledger/internal/apperr"
	"ambassador-ledger/internal/audit"
	"ambassador-ledger/internal/authz"
	"ambassador-ledger/internal/config"
	"ambassador-ledger/internal/database"
	"ambassador-ledger/internal/events"
	"ambassador-ledger/internal/models"
)

var (
	superAdmin = authz.Actor{ID: "admin-1", Name: "Root", Role: authz.RoleSuperAdmin}
	finance    = authz.Actor{ID: "fin-1", Name: "Finance", Role: authz.RoleFinanceAdmin}
	fixedNow   = time.Date(2024, time.August, 10, 9, 30, 0, 0, time.UTC)
)

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "service_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestService(t *testing.T, db *database.DB, deps Deps, opts Options) *Service {
	t.Helper()
	deps.DB = db
	svc, err := NewService(context.Background(), deps, opts)
	require.NoError(t, err)
	svc.now = func() time.Time { return fixedNow }
	return svc
}

func createAmbassador(t *testing.T, db *database.DB, mobile string, campusID *int64) models.Ambassador {
	t.Helper()
	a := models.Ambassador{
		Mobile:     mobile,
		Name:       "Meera",
		Role:       models.RoleParent,
		CampusID:   campusID,
		StudentFee: decimal.NewFromInt(60000),
	}
	require.NoError(t, db.CreateAmbassador(context.Background(), &a))
	return a
}

func createLead(t *testing.T, db *database.DB, ambassadorID int64, campusID *int64) models.Lead {
	t.Helper()
	l := models.Lead{
		AmbassadorID: ambassadorID,
		CampusID:     campusID,
		StudentName:  "Student",
		ParentMobile: "9876543210",
		Grade:        "3",
	}
	require.NoError(t, db.CreateLead(context.Background(), &l))
	return l
}

func createCampus(t *testing.T, db *database.DB, name string) int64 {
	t.Helper()
	c := models.Campus{Name: name, City: "Pune", IsActive: true}
	require.NoError(t, db.CreateCampus(context.Background(), &c))
	return c.ID
}

// confirmLeads creates and confirms n leads for the ambassador.
func confirmLeads(t *testing.T, svc *Service, db *database.DB, ambassadorID int64, n int) models.ConfirmResult {
	t.Helper()
	var res models.ConfirmResult
	for i := 0; i < n; i++ {
		lead := createLead(t, db, ambassadorID, nil)
		var err error
		res, err = svc.ConfirmLead(context.Background(), superAdmin, lead.ID)
		require.NoError(t, err)
	}
	return res
}

func TestConfirmLead_RecalculatesBenefit(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db, Deps{}, Options{})
	amb := createAmbassador(t, db, "9000000001", nil)

	res := confirmLeads(t, svc, db, amb.ID, 3)

	assert.Equal(t, models.LeadConfirmed, res.LeadStatus)
	require.NotNil(t, res.ConfirmedDate)
	assert.True(t, res.ConfirmedDate.Equal(fixedNow))
	assert.Equal(t, 3, res.AmbassadorBenefit.ConfirmedReferralCount)
	assert.Equal(t, 25.0, res.AmbassadorBenefit.YearFeeBenefitPercent)
	assert.Equal(t, 0.0, res.AmbassadorBenefit.LongTermBenefitPercent)
	assert.Equal(t, models.BenefitActive, res.AmbassadorBenefit.BenefitStatus)
	assert.Equal(t, 2024, res.AmbassadorBenefit.LastActiveYear)

	stored, err := db.GetAmbassador(context.Background(), amb.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.ConfirmedReferralCount)
	assert.Equal(t, 25.0, stored.YearFeeBenefitPercent)
	assert.Equal(t, int64(4), stored.Version)
}

func TestConfirmLead_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db, Deps{}, Options{})
	ctx := context.Background()
	amb := createAmbassador(t, db, "9000000002", nil)
	lead := createLead(t, db, amb.ID, nil)

	first, err := svc.ConfirmLead(ctx, superAdmin, lead.ID)
	require.NoError(t, err)
	assert.False(t, first.AlreadyConfirmed)

	svc.now = func() time.Time { return fixedNow.Add(48 * time.Hour) }
	second, err := svc.ConfirmLead(ctx, superAdmin, lead.ID)
	require.NoError(t, err)
	assert.True(t, second.AlreadyConfirmed)
	assert.Equal(t, 1, second.AmbassadorBenefit.ConfirmedReferralCount)
	require.NotNil(t, second.ConfirmedDate)
	assert.True(t, second.ConfirmedDate.Equal(fixedNow), "confirmed date must not move")

	logs, err := db.ListActivityLogs(ctx, audit.ModuleReferrals, audit.Target(lead.ID))
	require.NoError(t, err)
	assert.Len(t, logs, 1, "a repeated confirmation writes no audit entry")
}

func TestConfirmLead_FiveStarIsSticky(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db, Deps{}, Options{})
	amb := createAmbassador(t, db, "9000000003", nil)

	res := confirmLeads(t, svc, db, amb.ID, 5)
	assert.True(t, res.AmbassadorBenefit.IsFiveStarMember)
	assert.Equal(t, 50.0, res.AmbassadorBenefit.YearFeeBenefitPercent)
	assert.Equal(t, 40.0, res.AmbassadorBenefit.LongTermBenefitPercent)

	res = confirmLeads(t, svc, db, amb.ID, 2)
	assert.Equal(t, 7, res.AmbassadorBenefit.ConfirmedReferralCount)
	assert.Equal(t, 50.0, res.AmbassadorBenefit.YearFeeBenefitPercent, "year fee is capped at the fifth slab")
	assert.Equal(t, 50.0, res.AmbassadorBenefit.LongTermBenefitPercent)
}

func TestConfirmLead_FixedBaseStrategy(t *testing.T) {
	db := setupTestDB(t)
	slabs := []models.BenefitSlab{
		{ReferralCount: 5, YearFeeBenefitPercent: 50, LongTermExtraPercent: 25, BaseLongTermPercent: 20},
	}
	_, err := db.SeedSlabs(context.Background(), slabs)
	require.NoError(t, err)

	opts, err := OptionsFromConfig(&config.Config{
		Database: config.DatabaseConfig{StatementTimeout: time.Second},
		Ledger: config.LedgerConfig{
			FiveStarStrategy:       "fixed-base",
			SettledBasis:           config.SettledBasisProcessed,
			AcademicYearStartMonth: 6,
			ConfirmRetryAttempts:   3,
		},
	})
	require.NoError(t, err)
	svc := newTestService(t, db, Deps{}, opts)
	amb := createAmbassador(t, db, "9000000004", nil)

	res := confirmLeads(t, svc, db, amb.ID, 5)
	assert.Equal(t, 40.0, res.AmbassadorBenefit.LongTermBenefitPercent, "fixed base ignores the slab's base")
}

func TestConfirmLead_Errors(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db, Deps{}, Options{})
	ctx := context.Background()
	amb := createAmbassador(t, db, "9000000005", nil)
	lead := createLead(t, db, amb.ID, nil)

	_, err := svc.ConfirmLead(ctx, superAdmin, 9999)
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "got %v", err)

	_, err = svc.ConfirmLead(ctx, finance, lead.ID)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized), "got %v", err)

	stored, err := db.GetLead(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LeadNew, stored.LeadStatus, "denied confirmation must not change the lead")
}

func TestConfirmLead_CampusScope(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db, Deps{}, Options{})
	ctx := context.Background()

	north := createCampus(t, db, "North")
	south := createCampus(t, db, "South")
	amb := createAmbassador(t, db, "9000000006", &north)
	lead := createLead(t, db, amb.ID, &north)

	southHead := authz.Actor{ID: "head-s", Role: authz.RoleCampusHead, CampusID: south}
	_, err := svc.ConfirmLead(ctx, southHead, lead.ID)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized), "got %v", err)

	northHead := authz.Actor{ID: "head-n", Role: authz.RoleCampusHead, CampusID: north}
	res, err := svc.ConfirmLead(ctx, northHead, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.AmbassadorBenefit.ConfirmedReferralCount)
}

func TestConfirmLead_ConcurrentConfirmationsAllCount(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db, Deps{}, Options{ConfirmRetryAttempts: 10})
	ctx := context.Background()
	amb := createAmbassador(t, db, "9000000007", nil)

	leads := make([]models.Lead, 5)
	for i := range leads {
		leads[i] = createLead(t, db, amb.ID, nil)
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(leads))
	for _, l := range leads {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := svc.ConfirmLead(ctx, superAdmin, id)
			errs <- err
		}(l.ID)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	stored, err := db.GetAmbassador(ctx, amb.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, stored.ConfirmedReferralCount)
	assert.True(t, stored.IsFiveStarMember)
}

func TestConfirmLead_PublishesBenefitChanged(t *testing.T) {
	db := setupTestDB(t)
	em := events.NewManager(true, nil)
	t.Cleanup(em.Shutdown)

	var (
		mu  sync.Mutex
		got []events.BenefitChangedData
	)
	em.Subscribe(events.EventBenefitChanged, func(ctx context.Context, e events.Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e.Data.(events.BenefitChangedData))
		return nil
	})

	svc := newTestService(t, db, Deps{Events: em}, Options{})
	amb := createAmbassador(t, db, "9000000008", nil)
	lead := createLead(t, db, amb.ID, nil)

	_, err := svc.ConfirmLead(context.Background(), superAdmin, lead.ID)
	require.NoError(t, err)
	_, err = svc.ConfirmLead(context.Background(), superAdmin, lead.ID)
	require.NoError(t, err)
	em.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1, "only the first confirmation changes the benefit")
	assert.Equal(t, 0, got[0].Previous.ConfirmedReferralCount)
	assert.Equal(t, 1, got[0].Current.ConfirmedReferralCount)
	assert.Equal(t, lead.ID, got[0].LeadID)
}

func TestUpdateLeadStatus(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db, Deps{}, Options{})
	ctx := context.Background()
	amb := createAmbassador(t, db, "9000000009", nil)
	lead := createLead(t, db, amb.ID, nil)

	updated, err := svc.UpdateLeadStatus(ctx, superAdmin, lead.ID, models.LeadFollowUp)
	require.NoError(t, err)
	assert.Equal(t, models.LeadFollowUp, updated.LeadStatus)
	assert.Nil(t, updated.ConfirmedDate)

	updated, err = svc.UpdateLeadStatus(ctx, superAdmin, lead.ID, models.LeadConfirmed)
	require.NoError(t, err)
	assert.Equal(t, models.LeadConfirmed, updated.LeadStatus)
	assert.NotNil(t, updated.ConfirmedDate)

	_, err = svc.UpdateLeadStatus(ctx, superAdmin, lead.ID, models.LeadNew)
	assert.True(t, apperr.Is(err, apperr.KindInvalidState), "got %v", err)

	_, err = svc.UpdateLeadStatus(ctx, superAdmin, lead.ID, "Lost")
	assert.True(t, apperr.Is(err, apperr.KindValidation), "got %v", err)
}

func TestSubmitLead(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db, Deps{}, Options{})
	ctx := context.Background()
	campus := createCampus(t, db, "East")
	amb := createAmbassador(t, db, "9000000010", nil)

	head := authz.Actor{ID: "head-e", Role: authz.RoleCampusHead, CampusID: campus}
	lead, err := svc.SubmitLead(ctx, head, models.SubmitLeadRequest{
		AmbassadorID: amb.ID,
		StudentName:  "  Kiran ",
		ParentMobile: "9876543210",
		Grade:        "1",
	})
	require.NoError(t, err)
	assert.Equal(t, models.LeadNew, lead.LeadStatus)
	assert.Equal(t, "Kiran", lead.StudentName)
	require.NotNil(t, lead.CampusID)
	assert.Equal(t, campus, *lead.CampusID, "campus-bound actor submits into its own campus")

	_, err = svc.SubmitLead(ctx, superAdmin, models.SubmitLeadRequest{
		AmbassadorID: 424242,
		StudentName:  "Kiran",
		ParentMobile: "9876543210",
	})
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "got %v", err)
}

func TestRecalculateAmbassador_RepairsDrift(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db, Deps{}, Options{})
	ctx := context.Background()
	amb := createAmbassador(t, db, "9000000011", nil)
	confirmLeads(t, svc, db, amb.ID, 2)

	// simulate drift left behind by a manual edit
	stored, err := db.GetAmbassador(ctx, amb.ID)
	require.NoError(t, err)
	_, err = db.UpdateAmbassadorBenefit(ctx, amb.ID, stored.Version, models.AmbassadorBenefit{
		ConfirmedReferralCount: 9,
		YearFeeBenefitPercent:  50,
		BenefitStatus:          models.BenefitActive,
	})
	require.NoError(t, err)

	got, err := svc.RecalculateAmbassador(ctx, superAdmin, amb.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ConfirmedReferralCount)
	assert.Equal(t, 10.0, got.YearFeeBenefitPercent)

	logs, err := db.ListActivityLogs(ctx, audit.ModuleBenefits, audit.Target(amb.ID))
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestOperatingYear(t *testing.T) {
	tests := []struct {
		now  time.Time
		want int
	}{
		{time.Date(2024, time.May, 31, 23, 0, 0, 0, time.UTC), 2023},
		{time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC), 2024},
		{time.Date(2025, time.January, 15, 0, 0, 0, 0, time.UTC), 2024},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, OperatingYear(tt.now, time.June), tt.now.String())
	}
}

func TestCalculatePendingSettlement_Scenario(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db, Deps{}, Options{})
	ctx := context.Background()
	amb := createAmbassador(t, db, "9000000012", nil)
	confirmLeads(t, svc, db, amb.ID, 3)

	p, err := svc.CalculatePendingSettlement(ctx, finance, amb.ID)
	require.NoError(t, err)
	assert.True(t, p.TotalEarned.Equal(decimal.NewFromInt(45000)), "earned %s", p.TotalEarned)
	assert.True(t, p.Pending.Equal(decimal.NewFromInt(45000)), "pending %s", p.Pending)

	st, err := svc.CreateSettlement(ctx, finance, amb.ID, models.CreateSettlementRequest{Amount: decimal.NewFromInt(20000)})
	require.NoError(t, err)
	assert.Equal(t, models.SettlementPending, st.Status)

	p, err = svc.CalculatePendingSettlement(ctx, finance, amb.ID)
	require.NoError(t, err)
	assert.True(t, p.Pending.Equal(decimal.NewFromInt(45000)), "a pending request is not yet settled, got %s", p.Pending)
	assert.True(t, p.PendingRequested.Equal(decimal.NewFromInt(20000)))

	_, err = svc.ProcessSettlement(ctx, finance, st.ID, models.ProcessSettlementRequest{BankReference: "UTR-0001"})
	require.NoError(t, err)

	p, err = svc.CalculatePendingSettlement(ctx, finance, amb.ID)
	require.NoError(t, err)
	assert.True(t, p.TotalSettled.Equal(decimal.NewFromInt(20000)))
	assert.True(t, p.Pending.Equal(decimal.NewFromInt(25000)), "pending %s", p.Pending)
	assert.Equal(t, 25.0, p.BenefitPercent)
}

func TestCalculatePendingSettlement_SettledBasisAll(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db, Deps{}, Options{SettledBasis: config.SettledBasisAll})
	ctx := context.Background()
	amb := createAmbassador(t, db, "9000000013", nil)
	confirmLeads(t, svc, db, amb.ID, 3)

	_, err := svc.CreateSettlement(ctx, finance, amb.ID, models.CreateSettlementRequest{Amount: decimal.NewFromInt(20000)})
	require.NoError(t, err)

	p, err := svc.CalculatePendingSettlement(ctx, finance, amb.ID)
	require.NoError(t, err)
	assert.Equal(t, config.SettledBasisAll, p.SettledBasis)
	assert.True(t, p.Pending.Equal(decimal.NewFromInt(25000)), "pending %s", p.Pending)
}

func TestCalculatePendingSettlement_NeverNegative(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db, Deps{}, Options{})
	ctx := context.Background()
	amb := createAmbassador(t, db, "9000000014", nil)
	confirmLeads(t, svc, db, amb.ID, 1)

	// an over-payment imported from the legacy system
	st := models.Settlement{AmbassadorID: amb.ID, Amount: decimal.NewFromInt(10000), CreatedBy: "import"}
	require.NoError(t, db.CreateSettlement(ctx, &st))
	st.BankReference = "LEGACY"
	require.NoError(t, db.MarkSettlementProcessed(ctx, st))

	p, err := svc.CalculatePendingSettlement(ctx, finance, amb.ID)
	require.NoError(t, err)
	assert.True(t, p.TotalEarned.Equal(decimal.NewFromInt(3000)))
	assert.True(t, p.Pending.IsZero(), "pending %s", p.Pending)
}

func TestCreateSettlement_Rules(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db, Deps{}, Options{})
	ctx := context.Background()
	amb := createAmbassador(t, db, "9000000015", nil)
	confirmLeads(t, svc, db, amb.ID, 3)

	_, err := svc.CreateSettlement(ctx, finance, amb.ID, models.CreateSettlementRequest{Amount: decimal.Zero})
	assert.True(t, apperr.Is(err, apperr.KindValidation), "got %v", err)

	_, err = svc.CreateSettlement(ctx, finance, amb.ID, models.CreateSettlementRequest{Amount: decimal.NewFromInt(45001)})
	assert.True(t, apperr.Is(err, apperr.KindInvalidState), "got %v", err)

	_, err = svc.CreateSettlement(ctx, finance, amb.ID, models.CreateSettlementRequest{Amount: decimal.NewFromInt(30000)})
	require.NoError(t, err)
	_, err = svc.CreateSettlement(ctx, finance, amb.ID, models.CreateSettlementRequest{Amount: decimal.NewFromInt(20000)})
	assert.True(t, apperr.Is(err, apperr.KindInvalidState), "open requests reduce the outstanding balance, got %v", err)

	admission := authz.Actor{ID: "adm-1", Role: authz.RoleAdmissionAdmin}
	_, err = svc.CreateSettlement(ctx, admission, amb.ID, models.CreateSettlementRequest{Amount: decimal.NewFromInt(10)})
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized), "got %v", err)

	_, err = svc.CreateSettlement(ctx, finance, 777, models.CreateSettlementRequest{Amount: decimal.NewFromInt(10)})
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "got %v", err)
}

func TestProcessSettlement_OnlyPending(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db, Deps{}, Options{})
	ctx := context.Background()
	amb := createAmbassador(t, db, "9000000016", nil)
	confirmLeads(t, svc, db, amb.ID, 2)

	st, err := svc.CreateSettlement(ctx, finance, amb.ID, models.CreateSettlementRequest{Amount: decimal.NewFromInt(5000)})
	require.NoError(t, err)

	remarks := "paid in August run"
	payout := time.Date(2024, time.August, 31, 0, 0, 0, 0, time.UTC)
	processed, err := svc.ProcessSettlement(ctx, finance, st.ID, models.ProcessSettlementRequest{
		BankReference: "UTR-0002",
		PayoutDate:    &payout,
		Remarks:       &remarks,
	})
	require.NoError(t, err)
	assert.Equal(t, models.SettlementProcessed, processed.Status)
	assert.Equal(t, "UTR-0002", processed.BankReference)
	assert.Equal(t, finance.ID, processed.ProcessedBy)
	require.NotNil(t, processed.PayoutDate)
	assert.True(t, processed.PayoutDate.Equal(payout))

	_, err = svc.ProcessSettlement(ctx, finance, st.ID, models.ProcessSettlementRequest{BankReference: "UTR-0003"})
	assert.True(t, apperr.Is(err, apperr.KindInvalidState), "got %v", err)

	_, err = svc.ProcessSettlement(ctx, finance, 31337, models.ProcessSettlementRequest{BankReference: "UTR-0004"})
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "got %v", err)

	logs, err := db.ListActivityLogs(ctx, audit.ModuleSettlements, audit.Target(st.ID))
	require.NoError(t, err)
	assert.Len(t, logs, 2, "created and processed")
}

func TestDeleteSettlement(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db, Deps{}, Options{})
	ctx := context.Background()
	amb := createAmbassador(t, db, "9000000017", nil)
	confirmLeads(t, svc, db, amb.ID, 2)

	pending, err := svc.CreateSettlement(ctx, finance, amb.ID, models.CreateSettlementRequest{Amount: decimal.NewFromInt(1000)})
	require.NoError(t, err)
	paid, err := svc.CreateSettlement(ctx, finance, amb.ID, models.CreateSettlementRequest{Amount: decimal.NewFromInt(2000)})
	require.NoError(t, err)
	_, err = svc.ProcessSettlement(ctx, finance, paid.ID, models.ProcessSettlementRequest{BankReference: "UTR-0005"})
	require.NoError(t, err)

	err = svc.DeleteSettlement(ctx, finance, paid.ID)
	assert.True(t, apperr.Is(err, apperr.KindInvalidState), "got %v", err)

	require.NoError(t, svc.DeleteSettlement(ctx, finance, pending.ID))
	_, err = db.GetSettlement(ctx, pending.ID)
	assert.ErrorIs(t, err, database.ErrNotFound)

	list, err := svc.ListSettlements(ctx, finance, amb.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, paid.ID, list[0].ID)
}

func TestListSlabs_DefaultTable(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db, Deps{}, Options{})

	slabs := svc.ListSlabs()
	require.Len(t, slabs, 5)
	assert.Equal(t, 1, slabs[0].ReferralCount)
	assert.Equal(t, 50.0, slabs[4].YearFeeBenefitPercent)
}
