package events

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"ambassador-ledger/internal/database"
	"ambassador-ledger/internal/features"
	"ambassador-ledger/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestPublishRunsSubscribedHandlers(t *testing.T) {
	m := NewManager(true, nil)

	var calls atomic.Int32
	m.Subscribe(EventRestoreCompleted, func(_ context.Context, e Event) error {
		data := e.Data.(RestoreCompletedData)
		assert.Equal(t, "snap-1", data.SnapshotID)
		calls.Add(1)
		return nil
	})
	m.Subscribe(EventRestoreCompleted, func(context.Context, Event) error {
		calls.Add(1)
		return errors.New("handler failures are logged only")
	})
	m.Subscribe(EventSettlementProcessed, func(context.Context, Event) error {
		t.Error("wrong event type delivered")
		return nil
	})

	m.PublishRestoreCompleted(context.Background(), "snap-1", 10)
	m.Wait()
	assert.Equal(t, int32(2), calls.Load())
}

func TestPublishOutlivesRequestContext(t *testing.T) {
	m := NewManager(true, nil)

	var sawCancel atomic.Bool
	m.Subscribe(EventRestoreCompleted, func(ctx context.Context, _ Event) error {
		sawCancel.Store(ctx.Err() != nil)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m.PublishRestoreCompleted(ctx, "snap-1", 1)
	m.Wait()
	assert.False(t, sawCancel.Load())
}

func TestDisabledManagerDropsEvents(t *testing.T) {
	m := NewManager(false, nil)
	m.Subscribe(EventRestoreCompleted, func(context.Context, Event) error {
		t.Error("disabled manager delivered an event")
		return nil
	})
	m.PublishRestoreCompleted(context.Background(), "snap-1", 1)
	m.Wait()
}

func TestShutdownWaitsAndStopsDelivery(t *testing.T) {
	m := NewManager(true, nil)

	release := make(chan struct{})
	var done atomic.Bool
	m.Subscribe(EventRestoreCompleted, func(context.Context, Event) error {
		<-release
		done.Store(true)
		return nil
	})
	m.PublishRestoreCompleted(context.Background(), "snap-1", 1)

	close(release)
	m.Shutdown()
	assert.True(t, done.Load())

	m.PublishRestoreCompleted(context.Background(), "snap-2", 1)
	m.Wait()
}

func TestBenefitNotifier(t *testing.T) {
	ctx := context.Background()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "events_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	amb := models.Ambassador{Mobile: "9000000001", Name: "Meera", Role: models.RoleParent, StudentFee: decimal.NewFromInt(60000)}
	require.NoError(t, db.CreateAmbassador(ctx, &amb))

	flags := features.NewDefaultManager(true)
	notify := BenefitNotifier(db, flags)

	prev := models.AmbassadorBenefit{AmbassadorID: amb.ID, ConfirmedReferralCount: 1, YearFeeBenefitPercent: 5}
	cur := models.AmbassadorBenefit{AmbassadorID: amb.ID, ConfirmedReferralCount: 2, YearFeeBenefitPercent: 10}

	event := func(p, c models.AmbassadorBenefit) Event {
		return Event{Type: EventBenefitChanged, Data: BenefitChangedData{Previous: p, Current: c, LeadID: 1}}
	}

	require.NoError(t, notify(ctx, event(prev, cur)))
	require.NoError(t, notify(ctx, event(cur, cur)))

	flags.Disable(features.FeatureBenefitNotifications)
	require.NoError(t, notify(ctx, event(cur, prev)))

	n, err := db.CountNotifications(ctx, amb.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Error(t, notify(ctx, Event{Type: EventBenefitChanged, Data: "bogus"}))
}

func TestBenefitNotifierThroughManager(t *testing.T) {
	ctx := context.Background()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "events_mgr.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	amb := models.Ambassador{Mobile: "9000000002", Name: "Ravi", Role: models.RoleStaff, StudentFee: decimal.Zero}
	require.NoError(t, db.CreateAmbassador(ctx, &amb))

	m := NewManager(true, nil)
	m.Subscribe(EventBenefitChanged, BenefitNotifier(db, features.NewDefaultManager(true)))

	m.PublishBenefitChanged(ctx, 7,
		models.AmbassadorBenefit{AmbassadorID: amb.ID},
		models.AmbassadorBenefit{AmbassadorID: amb.ID, ConfirmedReferralCount: 1, YearFeeBenefitPercent: 5})
	m.Shutdown()

	n, err := db.CountNotifications(ctx, amb.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
