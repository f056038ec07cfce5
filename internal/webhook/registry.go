package webhook

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"hookgate/internal/model"
	"hookgate/internal/store"
)

// Registry manages webhook subscriptions for one owning service. All reads and
// writes are scoped to (service, tenantId) so services sharing a store never
// see each other's subscriptions.
type Registry struct {
	Service string
	Store   store.Store
	Clock   func() time.Time
}

func NewRegistry(service string, s store.Store) *Registry {
	return &Registry{Service: service, Store: s, Clock: time.Now}
}

// Register validates and persists a new subscription. Validation failures are
// returned synchronously as *ValidationError.
func (r *Registry) Register(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
	if err := validateTarget(req.URL, req.Secret, req.Events); err != nil {
		return model.Subscription{}, err
	}
	if strings.TrimSpace(req.TenantID) == "" {
		return model.Subscription{}, &ValidationError{Field: "tenantId", Reason: "must not be empty"}
	}
	now := r.Clock().UTC()
	sub := model.Subscription{
		ID:          "whk_" + uuid.New().String(),
		TenantID:    req.TenantID,
		URL:         req.URL,
		Secret:      req.Secret,
		Events:      append([]string(nil), req.Events...),
		IsActive:    true,
		Headers:     req.Headers,
		TimeoutSec:  req.TimeoutSec,
		MaxRetries:  req.MaxRetries,
		Description: req.Description,
		Deliveries:  []model.DeliveryRecord{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.Store.PutSubscription(ctx, r.Service, sub); err != nil {
		return model.Subscription{}, err
	}
	return sub, nil
}

// Get returns the subscription or store.ErrNotFound. Legacy records with nil
// delivery history are normalized to an empty list.
func (r *Registry) Get(ctx context.Context, tenantID, id string) (model.Subscription, error) {
	sub, err := r.Store.GetSubscription(ctx, r.Service, tenantID, id)
	if err != nil {
		return model.Subscription{}, err
	}
	return normalize(sub), nil
}

func (r *Registry) List(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
	subs, next, err := r.Store.ListSubscriptions(ctx, r.Service, tenantID, cursor, limit)
	if err != nil {
		return nil, "", err
	}
	for i := range subs {
		subs[i] = normalize(subs[i])
	}
	return subs, next, nil
}

// Update applies a partial update. Setting IsActive=true reactivates the
// subscription: consecutiveFailures is reset and disabledReason cleared.
func (r *Registry) Update(ctx context.Context, tenantID, id string, patch model.SubscriptionPatch) (model.Subscription, error) {
	sub, err := r.Get(ctx, tenantID, id)
	if err != nil {
		return model.Subscription{}, err
	}
	if patch.URL != nil {
		sub.URL = *patch.URL
	}
	if patch.Secret != nil {
		sub.Secret = *patch.Secret
	}
	if patch.Events != nil {
		sub.Events = append([]string(nil), (*patch.Events)...)
	}
	if patch.Headers != nil {
		sub.Headers = *patch.Headers
	}
	if patch.TimeoutSec != nil {
		sub.TimeoutSec = *patch.TimeoutSec
	}
	if patch.MaxRetries != nil {
		sub.MaxRetries = *patch.MaxRetries
	}
	if patch.Description != nil {
		sub.Description = *patch.Description
	}
	if patch.IsActive != nil {
		sub.IsActive = *patch.IsActive
		if sub.IsActive {
			sub.ConsecutiveFailures = 0
			sub.DisabledReason = ""
		}
	}
	if err := validateTarget(sub.URL, sub.Secret, sub.Events); err != nil {
		return model.Subscription{}, err
	}
	sub.UpdatedAt = r.Clock().UTC()
	if err := r.Store.PutSubscription(ctx, r.Service, sub); err != nil {
		return model.Subscription{}, err
	}
	return sub, nil
}

func (r *Registry) Delete(ctx context.Context, tenantID, id string) error {
	return r.Store.DeleteSubscription(ctx, r.Service, tenantID, id)
}

// FindMatching returns the tenant's subscriptions that are active, below the
// consecutive-failure threshold, and have at least one pattern matching
// eventType.
func (r *Registry) FindMatching(ctx context.Context, tenantID, eventType string, maxConsecutiveFailures int) ([]model.Subscription, error) {
	var out []model.Subscription
	cursor := ""
	for {
		subs, next, err := r.List(ctx, tenantID, cursor, 500)
		if err != nil {
			return nil, err
		}
		for _, sub := range subs {
			if !sub.IsActive {
				continue
			}
			if maxConsecutiveFailures > 0 && sub.ConsecutiveFailures >= maxConsecutiveFailures {
				continue
			}
			for _, pat := range sub.Events {
				if Matches(pat, eventType) {
					out = append(out, sub)
					break
				}
			}
		}
		if next == "" {
			break
		}
		cursor = next
	}
	return out, nil
}

func validateTarget(rawURL, secret string, events []string) error {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &ValidationError{Field: "url", Reason: "must be a valid http(s) URL"}
	}
	if strings.TrimSpace(secret) == "" {
		return &ValidationError{Field: "secret", Reason: "must not be empty"}
	}
	if len(events) == 0 {
		return &ValidationError{Field: "events", Reason: "at least one event pattern required"}
	}
	for _, e := range events {
		if strings.TrimSpace(e) == "" {
			return &ValidationError{Field: "events", Reason: "patterns must not be empty"}
		}
	}
	return nil
}

func normalize(sub model.Subscription) model.Subscription {
	if sub.Deliveries == nil {
		sub.Deliveries = []model.DeliveryRecord{}
	}
	if sub.DeliveryCount < int64(len(sub.Deliveries)) {
		sub.DeliveryCount = int64(len(sub.Deliveries))
	}
	return sub
}
