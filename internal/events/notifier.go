package events

import (
	"context"
	"fmt"

	"ambassador-ledger/internal/database"
	"ambassador-ledger/internal/features"
)

// BenefitNotifier stores an in-app notification whenever an ambassador's
// year-fee benefit changes. Delivery channels (email, SMS) live elsewhere.
func BenefitNotifier(db *database.DB, flags *features.Manager) Handler {
	return func(ctx context.Context, event Event) error {
		if flags != nil && !flags.IsEnabled(features.FeatureBenefitNotifications) {
			return nil
		}
		data, ok := event.Data.(BenefitChangedData)
		if !ok {
			return fmt.Errorf("unexpected payload %T for %s", event.Data, event.Type)
		}
		if data.Previous.YearFeeBenefitPercent == data.Current.YearFeeBenefitPercent &&
			data.Previous.LongTermBenefitPercent == data.Current.LongTermBenefitPercent {
			return nil
		}

		body := fmt.Sprintf(
			"You now have %d confirmed referrals. Year fee benefit: %.0f%%. Long-term benefit: %.0f%%.",
			data.Current.ConfirmedReferralCount,
			data.Current.YearFeeBenefitPercent,
			data.Current.LongTermBenefitPercent,
		)
		return db.InsertNotification(ctx, data.Current.AmbassadorID, "Referral benefit updated", body)
	}
}
