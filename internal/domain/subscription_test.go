package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestSubscription_Alive(t *testing.T) {
	now := time.Now()

	sub := Subscription{}
	assert.True(t, sub.Alive())

	pending := now.Add(10 * 24 * time.Hour)
	sub = Subscription{PendingCancellationAt: &pending}
	assert.True(t, sub.Alive(), "a scheduled cancel keeps the subscription alive")

	sub = Subscription{CancelledAt: &now}
	assert.False(t, sub.Alive())
	assert.True(t, sub.Cancelled())

	sub = Subscription{DeactivatedAt: &now}
	assert.False(t, sub.Alive())

	sub = Subscription{FailedAt: &now}
	assert.False(t, sub.Alive())
}

func TestSubscription_InFreeTrial(t *testing.T) {
	now := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)

	sub := Subscription{}
	assert.False(t, sub.InFreeTrial(now))

	ends := now.Add(24 * time.Hour)
	sub = Subscription{FreeTrialEndsAt: &ends}
	assert.True(t, sub.InFreeTrial(now))
	assert.False(t, sub.InFreeTrial(ends), "trial end boundary is exclusive")
	assert.False(t, sub.InFreeTrial(ends.Add(time.Hour)))
}

func TestSubscription_AccountExternalKey(t *testing.T) {
	id := uuid.New()

	sub := Subscription{ID: id, UserExternalID: "user-42"}
	assert.Equal(t, "crowdchurn_user-42", sub.AccountExternalKey())

	// Guest subscriptions key the account by subscription id.
	sub = Subscription{ID: id}
	assert.Equal(t, "crowdchurn_"+id.String(), sub.AccountExternalKey())
}

func TestUserExternalIDFromAccountKey(t *testing.T) {
	id, ok := UserExternalIDFromAccountKey("crowdchurn_user-42")
	assert.True(t, ok)
	assert.Equal(t, "user-42", id)

	_, ok = UserExternalIDFromAccountKey("user-42")
	assert.False(t, ok)

	_, ok = UserExternalIDFromAccountKey("crowdchurn_")
	assert.False(t, ok)
}

func TestPurchase_InProgress(t *testing.T) {
	p := Purchase{State: PurchaseStateInProgress}
	assert.True(t, p.InProgress())

	p.State = PurchaseStateSuccessful
	assert.False(t, p.InProgress())
}

func TestDunningWindows(t *testing.T) {
	assert.Equal(t, 7*24*time.Hour, AllowedTimeBeforeFailAndUnsubscribe)
	assert.Less(t, ChargeDeclinedReminderLeadTime, AllowedTimeBeforeFailAndUnsubscribe)
}
