package store

import (
    "context"
    "errors"
    "time"

    "hookgate/internal/model"
)

// Store is the persistence interface consumed by the webhook engine. All
// operations are namespaced by the owning service so several services can share
// one database without seeing each other's subscriptions.
type Store interface {
    // Subscriptions
    PutSubscription(ctx context.Context, service string, sub model.Subscription) error
    GetSubscription(ctx context.Context, service, tenantID, id string) (model.Subscription, error)
    ListSubscriptions(ctx context.Context, service, tenantID, cursor string, limit int) ([]model.Subscription, string, error)
    DeleteSubscription(ctx context.Context, service, tenantID, id string) error

    // AppendDelivery atomically appends rec to the subscription's bounded
    // history (evicting the oldest entry beyond model.DeliveryHistoryCap),
    // increments deliveryCount, and applies the health outcome. Returns the
    // updated subscription. Concurrent appends from different processes must
    // not lose updates.
    AppendDelivery(ctx context.Context, service, tenantID, id string, rec model.DeliveryRecord, out Outcome) (model.Subscription, error)

    // ReplaceDeliveries overwrites the history wholesale (retention pruning).
    ReplaceDeliveries(ctx context.Context, service, tenantID, id string, deliveries []model.DeliveryRecord) error

    Ping(ctx context.Context) error
}

// Outcome tells the store how a finalized delivery affects subscription health.
type Outcome struct {
    Success bool
    // DisableThreshold is the consecutive-failure count at which the
    // subscription is deactivated; 0 disables auto-disable.
    DisableThreshold int
    DisabledReason   string
    At               time.Time
}

var ErrNotFound = errors.New("not found")
