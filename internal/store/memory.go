package store

import (
    "context"
    "sort"
    "sync"

    "hookgate/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
    mu   sync.Mutex
    subs map[string]map[string]*model.Subscription // service|tenant -> id -> subscription
}

func NewMemory() *Memory {
    return &Memory{subs: map[string]map[string]*model.Subscription{}}
}

func nsKey(service, tenantID string) string { return service + "|" + tenantID }

func (m *Memory) PutSubscription(ctx context.Context, service string, sub model.Subscription) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    k := nsKey(service, sub.TenantID)
    if m.subs[k] == nil { m.subs[k] = map[string]*model.Subscription{} }
    cp := cloneSub(sub)
    m.subs[k][sub.ID] = &cp
    return nil
}

func (m *Memory) GetSubscription(ctx context.Context, service, tenantID, id string) (model.Subscription, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    s := m.subs[nsKey(service, tenantID)][id]
    if s == nil { return model.Subscription{}, ErrNotFound }
    return cloneSub(*s), nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, service, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    m.mu.Lock()
    defer m.mu.Unlock()
    ids := make([]string, 0, len(m.subs[nsKey(service, tenantID)]))
    for id := range m.subs[nsKey(service, tenantID)] { ids = append(ids, id) }
    sort.Strings(ids)
    out := []model.Subscription{}
    for _, id := range ids {
        if cursor != "" && id <= cursor { continue }
        out = append(out, cloneSub(*m.subs[nsKey(service, tenantID)][id]))
        if len(out) == limit { break }
    }
    next := ""
    if len(out) == limit { next = out[len(out)-1].ID }
    return out, next, nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, service, tenantID, id string) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    k := nsKey(service, tenantID)
    if m.subs[k] == nil || m.subs[k][id] == nil { return ErrNotFound }
    delete(m.subs[k], id)
    return nil
}

func (m *Memory) AppendDelivery(ctx context.Context, service, tenantID, id string, rec model.DeliveryRecord, out Outcome) (model.Subscription, error) {
    m.mu.Lock()
    defer m.mu.Unlock()
    s := m.subs[nsKey(service, tenantID)][id]
    if s == nil { return model.Subscription{}, ErrNotFound }
    s.Deliveries = append(s.Deliveries, rec)
    if len(s.Deliveries) > model.DeliveryHistoryCap {
        s.Deliveries = s.Deliveries[len(s.Deliveries)-model.DeliveryHistoryCap:]
    }
    s.DeliveryCount++
    at := out.At
    s.LastDeliveryAt = &at
    s.LastDeliveryStatus = rec.Status
    if out.Success {
        s.ConsecutiveFailures = 0
    } else {
        s.ConsecutiveFailures++
        if out.DisableThreshold > 0 && s.ConsecutiveFailures >= out.DisableThreshold {
            s.IsActive = false
            s.DisabledReason = out.DisabledReason
        }
    }
    s.UpdatedAt = out.At
    return cloneSub(*s), nil
}

func (m *Memory) ReplaceDeliveries(ctx context.Context, service, tenantID, id string, deliveries []model.DeliveryRecord) error {
    m.mu.Lock()
    defer m.mu.Unlock()
    s := m.subs[nsKey(service, tenantID)][id]
    if s == nil { return ErrNotFound }
    s.Deliveries = append([]model.DeliveryRecord(nil), deliveries...)
    return nil
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func cloneSub(s model.Subscription) model.Subscription {
    cp := s
    cp.Events = append([]string(nil), s.Events...)
    cp.Deliveries = append([]model.DeliveryRecord(nil), s.Deliveries...)
    if s.Headers != nil {
        cp.Headers = make(map[string]string, len(s.Headers))
        for k, v := range s.Headers { cp.Headers[k] = v }
    }
    if s.LastDeliveryAt != nil { t := *s.LastDeliveryAt; cp.LastDeliveryAt = &t }
    return cp
}
