package webhook

import (
	"context"
	"math"
	"sort"
	"time"

	"hookgate/internal/model"
	"hookgate/internal/store"
)

// Recorder exposes delivery history, aggregate statistics, and retention
// pruning over the embedded per-subscription delivery lists.
type Recorder struct {
	Service string
	Store   store.Store
	Clock   func() time.Time
}

func NewRecorder(service string, s store.Store) *Recorder {
	return &Recorder{Service: service, Store: s, Clock: time.Now}
}

// HistoryOptions filters History. Limit defaults to 100.
type HistoryOptions struct {
	Limit  int
	Status string
}

// History returns the subscription's delivery records, optionally filtered by
// status, newest first.
func (rc *Recorder) History(ctx context.Context, tenantID, webhookID string, opts HistoryOptions) ([]model.DeliveryRecord, error) {
	sub, err := rc.Store.GetSubscription(ctx, rc.Service, tenantID, webhookID)
	if err != nil {
		return nil, err
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	out := make([]model.DeliveryRecord, 0, len(sub.Deliveries))
	for _, d := range sub.Deliveries {
		if opts.Status != "" && d.Status != opts.Status {
			continue
		}
		out = append(out, d)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Stats aggregates subscription counts and delivery health over the trailing
// 24 hours. With zero deliveries in the window the success rate reports 100.
func (rc *Recorder) Stats(ctx context.Context, tenantID string) (model.WebhookStats, error) {
	var stats model.WebhookStats
	since := rc.Clock().Add(-24 * time.Hour)
	cursor := ""
	for {
		subs, next, err := rc.Store.ListSubscriptions(ctx, rc.Service, tenantID, cursor, 500)
		if err != nil {
			return model.WebhookStats{}, err
		}
		for _, sub := range subs {
			stats.Total++
			if sub.IsActive {
				stats.Active++
			} else {
				stats.Disabled++
			}
			for _, d := range sub.Deliveries {
				if d.CreatedAt.Before(since) {
					continue
				}
				stats.Deliveries24h++
				if d.Status == model.DeliverySuccess {
					stats.Successful24h++
				}
			}
		}
		if next == "" {
			break
		}
		cursor = next
	}
	if stats.Deliveries24h == 0 {
		stats.SuccessRate24h = 100
	} else {
		stats.SuccessRate24h = int(math.Round(float64(stats.Successful24h) / float64(stats.Deliveries24h) * 100))
	}
	return stats, nil
}

// Cleanup prunes successful delivery records older than olderThanDays from
// every subscription of the tenant. Failed and retrying records are retained
// regardless of age, for audit; the history cap keeps that retention bounded
// per subscription. Returns the number of records removed.
func (rc *Recorder) Cleanup(ctx context.Context, tenantID string, olderThanDays int) (int, error) {
	cutoff := rc.Clock().AddDate(0, 0, -olderThanDays)
	removed := 0
	cursor := ""
	for {
		subs, next, err := rc.Store.ListSubscriptions(ctx, rc.Service, tenantID, cursor, 500)
		if err != nil {
			return removed, err
		}
		for _, sub := range subs {
			keep := make([]model.DeliveryRecord, 0, len(sub.Deliveries))
			for _, d := range sub.Deliveries {
				if !d.CreatedAt.Before(cutoff) || d.Status != model.DeliverySuccess {
					keep = append(keep, d)
				}
			}
			if len(keep) == len(sub.Deliveries) {
				continue
			}
			if err := rc.Store.ReplaceDeliveries(ctx, rc.Service, tenantID, sub.ID, keep); err != nil {
				return removed, err
			}
			removed += len(sub.Deliveries) - len(keep)
		}
		if next == "" {
			break
		}
		cursor = next
	}
	return removed, nil
}
