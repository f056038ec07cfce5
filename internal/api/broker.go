package api

import (
    "sync"

    "hookgate/internal/model"
)

// DeliveryEvent is what the live feed streams: one finalized delivery record
// with its tenant.
type DeliveryEvent struct {
    TenantID string               `json:"tenantId"`
    Record   model.DeliveryRecord `json:"record"`
}

// EventBroker fans finalized delivery records out to live feed subscribers,
// keyed by tenant.
type EventBroker interface {
    Subscribe(tenantID string) chan DeliveryEvent
    Unsubscribe(tenantID string, ch chan DeliveryEvent)
    Publish(tenantID string, evt DeliveryEvent)
}

// Broker is the in-memory EventBroker used in single-instance deployments.
type Broker struct {
    mu   sync.Mutex
    subs map[string]map[chan DeliveryEvent]struct{} // tenantId -> set of channels
}

func NewBroker() *Broker {
    return &Broker{subs: map[string]map[chan DeliveryEvent]struct{}{}}
}

func (b *Broker) Subscribe(tenantID string) chan DeliveryEvent {
    ch := make(chan DeliveryEvent, 16)
    b.mu.Lock()
    if b.subs[tenantID] == nil { b.subs[tenantID] = map[chan DeliveryEvent]struct{}{} }
    b.subs[tenantID][ch] = struct{}{}
    b.mu.Unlock()
    return ch
}

func (b *Broker) Unsubscribe(tenantID string, ch chan DeliveryEvent) {
    b.mu.Lock()
    if m := b.subs[tenantID]; m != nil {
        delete(m, ch)
        if len(m) == 0 { delete(b.subs, tenantID) }
    }
    b.mu.Unlock()
    close(ch)
}

func (b *Broker) Publish(tenantID string, evt DeliveryEvent) {
    b.mu.Lock()
    for ch := range b.subs[tenantID] {
        select { case ch <- evt: default: }
    }
    b.mu.Unlock()
}

// BrokerPublisher adapts an EventBroker to the dispatcher's fire-and-forget
// outcome hook.
type BrokerPublisher struct {
    Broker EventBroker
}

func (p BrokerPublisher) PublishDelivery(tenantID string, rec model.DeliveryRecord) {
    p.Broker.Publish(tenantID, DeliveryEvent{TenantID: tenantID, Record: rec})
}
