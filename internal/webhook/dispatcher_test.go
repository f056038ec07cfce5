package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"hookgate/internal/model"
	"hookgate/internal/store"
)

func testDispatcher(t *testing.T, cfg DispatcherConfig) (*Dispatcher, *Registry) {
	t.Helper()
	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = time.Millisecond
	}
	reg := NewRegistry("core", store.NewMemory())
	return NewDispatcher(reg, cfg), reg
}

func TestDispatchDeliversSignedEvent(t *testing.T) {
	var gotBody []byte
	var gotHeader http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotHeader = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d, reg := testDispatcher(t, DispatcherConfig{})
	ctx := context.Background()
	mustRegister(t, reg, model.SubscriptionRequest{
		TenantID: "t_1", URL: srv.URL, Secret: "s3cret", Events: []string{"order.*"},
		Headers: map[string]string{"X-Custom": "yes"},
	})

	recs, err := d.Dispatch(ctx, model.Event{Type: "order.created", TenantID: "t_1", Data: map[string]any{"orderId": "o_1"}})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	rec := recs[0]
	if rec.Status != model.DeliverySuccess || rec.Attempts != 1 || rec.StatusCode != 200 {
		t.Fatalf("record = %+v, want success on first attempt", rec)
	}
	if !strings.HasPrefix(rec.EventID, "evt_") || !strings.HasPrefix(rec.ID, "dlv_") {
		t.Fatalf("IDs = %q / %q, want evt_ / dlv_ prefixes", rec.EventID, rec.ID)
	}
	if rec.DeliveredAt == nil {
		t.Fatalf("DeliveredAt must be set on success")
	}

	if gotHeader.Get("X-Webhook-ID") != rec.EventID {
		t.Fatalf("X-Webhook-ID = %q, want %q", gotHeader.Get("X-Webhook-ID"), rec.EventID)
	}
	if gotHeader.Get("Content-Type") != "application/json" || gotHeader.Get("X-Custom") != "yes" {
		t.Fatalf("headers = %v", gotHeader)
	}
	if !Verify(gotBody, gotHeader.Get("X-Webhook-Signature"), "s3cret", DefaultTolerance) {
		t.Fatalf("delivered signature must verify against the delivered body")
	}

	var env model.EventEnvelope
	if err := json.Unmarshal(gotBody, &env); err != nil {
		t.Fatalf("envelope: %v", err)
	}
	if env.ID != rec.EventID || env.Type != "order.created" || env.TenantID != "t_1" || env.APIVersion != APIVersion {
		t.Fatalf("envelope = %+v", env)
	}
}

func TestDispatchSharesEventIDAcrossSubscriptions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d, reg := testDispatcher(t, DispatcherConfig{})
	ctx := context.Background()
	mustRegister(t, reg, model.SubscriptionRequest{TenantID: "t_1", URL: srv.URL + "/a", Secret: "s", Events: []string{"order.*"}})
	mustRegister(t, reg, model.SubscriptionRequest{TenantID: "t_1", URL: srv.URL + "/b", Secret: "s", Events: []string{"*"}})

	recs, err := d.Dispatch(ctx, model.Event{Type: "order.created", TenantID: "t_1"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2", len(recs))
	}
	if recs[0].EventID != recs[1].EventID {
		t.Fatalf("eventId differs across subscriptions: %q vs %q", recs[0].EventID, recs[1].EventID)
	}
	if recs[0].ID == recs[1].ID {
		t.Fatalf("delivery record IDs must be unique")
	}
}

func TestDispatchRetriesThenFails(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	d, reg := testDispatcher(t, DispatcherConfig{DefaultMaxRetries: 3})
	ctx := context.Background()
	sub := mustRegister(t, reg, model.SubscriptionRequest{TenantID: "t_1", URL: srv.URL, Secret: "s", Events: []string{"order.*"}})

	recs, err := d.Dispatch(ctx, model.Event{Type: "order.created", TenantID: "t_1"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	rec := recs[0]
	if rec.Status != model.DeliveryFailed || rec.Attempts != 3 || rec.StatusCode != 500 {
		t.Fatalf("record = %+v, want failed after 3 attempts with 500", rec)
	}
	if atomic.LoadInt32(&hits) != 3 {
		t.Fatalf("endpoint hit %d times, want 3", hits)
	}
	if !strings.Contains(rec.ResponseBody, "nope") {
		t.Fatalf("ResponseBody = %q, want captured body", rec.ResponseBody)
	}

	got, err := reg.Get(ctx, "t_1", sub.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ConsecutiveFailures != 1 || got.LastDeliveryStatus != model.DeliveryFailed {
		t.Fatalf("health after failure = %+v", got)
	}
}

func TestDispatchPerSubscriptionRetryOverride(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d, reg := testDispatcher(t, DispatcherConfig{DefaultMaxRetries: 5})
	mustRegister(t, reg, model.SubscriptionRequest{
		TenantID: "t_1", URL: srv.URL, Secret: "s", Events: []string{"order.*"}, MaxRetries: 2,
	})
	recs, _ := d.Dispatch(context.Background(), model.Event{Type: "order.created", TenantID: "t_1"})
	if recs[0].Attempts != 2 || atomic.LoadInt32(&hits) != 2 {
		t.Fatalf("attempts=%d hits=%d, want subscription override of 2", recs[0].Attempts, hits)
	}
}

func TestDispatchAutoDisables(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d, reg := testDispatcher(t, DispatcherConfig{
		DefaultMaxRetries:      1,
		MaxConsecutiveFailures: 2,
		Breaker:                BreakerConfig{FailureThreshold: 100},
	})
	ctx := context.Background()
	sub := mustRegister(t, reg, model.SubscriptionRequest{TenantID: "t_1", URL: srv.URL, Secret: "s", Events: []string{"order.*"}})

	for i := 0; i < 2; i++ {
		if _, err := d.Dispatch(ctx, model.Event{Type: "order.created", TenantID: "t_1"}); err != nil {
			t.Fatalf("Dispatch %d: %v", i, err)
		}
	}
	got, err := reg.Get(ctx, "t_1", sub.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.IsActive || got.ConsecutiveFailures != 2 {
		t.Fatalf("expected auto-disable at threshold, got active=%v failures=%d", got.IsActive, got.ConsecutiveFailures)
	}
	if !strings.Contains(got.DisabledReason, "consecutive failures") {
		t.Fatalf("DisabledReason = %q", got.DisabledReason)
	}

	// A disabled subscription no longer matches.
	recs, err := d.Dispatch(ctx, model.Event{Type: "order.created", TenantID: "t_1"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("disabled subscription still received %d deliveries", len(recs))
	}
}

func TestDispatchOpenBreakerFailsFast(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d, reg := testDispatcher(t, DispatcherConfig{
		DefaultMaxRetries:      5,
		MaxConsecutiveFailures: 100,
		Breaker:                BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour},
	})
	mustRegister(t, reg, model.SubscriptionRequest{TenantID: "t_1", URL: srv.URL, Secret: "s", Events: []string{"order.*"}})

	recs, err := d.Dispatch(context.Background(), model.Event{Type: "order.created", TenantID: "t_1"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	rec := recs[0]
	// Attempt 1 opens the breaker; attempt 2 is rejected without an HTTP call
	// and ends the retry loop.
	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("endpoint hit %d times, want 1", hits)
	}
	if rec.Status != model.DeliveryFailed || rec.Attempts != 2 {
		t.Fatalf("record = %+v", rec)
	}
	if !strings.Contains(rec.Error, "circuit breaker open") {
		t.Fatalf("Error = %q, want open-breaker message", rec.Error)
	}
}

func TestDispatchDisabledEngineIsNoop(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	d, reg := testDispatcher(t, DispatcherConfig{})
	d.Enabled = false
	mustRegister(t, reg, model.SubscriptionRequest{TenantID: "t_1", URL: srv.URL, Secret: "s", Events: []string{"*"}})

	recs, err := d.Dispatch(context.Background(), model.Event{Type: "order.created", TenantID: "t_1"})
	if err != nil || len(recs) != 0 {
		t.Fatalf("got recs=%d err=%v, want no-op", len(recs), err)
	}
	if atomic.LoadInt32(&hits) != 0 {
		t.Fatalf("disabled engine must not call endpoints")
	}
}

func TestDispatchMissingSecretRecordsFailureAndContinues(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d, reg := testDispatcher(t, DispatcherConfig{})
	ctx := context.Background()
	// Legacy row with no secret, planted behind the registry's validation.
	seedSub(t, reg.Store, model.Subscription{
		ID: "whk_legacy", TenantID: "t_1", URL: srv.URL + "/legacy", Events: []string{"order.*"}, IsActive: true,
	})
	good := mustRegister(t, reg, model.SubscriptionRequest{TenantID: "t_1", URL: srv.URL, Secret: "s", Events: []string{"order.*"}})

	recs, err := d.Dispatch(ctx, model.Event{Type: "order.created", TenantID: "t_1"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2 (missing secret must not abort the loop)", len(recs))
	}
	byStatus := map[string]model.DeliveryRecord{}
	for _, r := range recs {
		byStatus[r.Status] = r
	}
	fail, ok := byStatus[model.DeliveryFailed]
	if !ok || !strings.Contains(fail.Error, "secret") {
		t.Fatalf("expected a failed record naming the secret, got %+v", recs)
	}
	if _, ok := byStatus[model.DeliverySuccess]; !ok {
		t.Fatalf("the other subscription must still be delivered")
	}

	legacy, err := reg.Get(ctx, "t_1", "whk_legacy")
	if err != nil {
		t.Fatalf("Get legacy: %v", err)
	}
	if len(legacy.Deliveries) != 1 || legacy.Deliveries[0].Status != model.DeliveryFailed {
		t.Fatalf("legacy history = %+v, want one failed record", legacy.Deliveries)
	}
	if _, err := reg.Get(ctx, "t_1", good.ID); err != nil {
		t.Fatalf("Get good: %v", err)
	}
}

func TestDispatchPublishesOutcomes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d, reg := testDispatcher(t, DispatcherConfig{})
	var published []model.DeliveryRecord
	d.Publisher = publisherFunc(func(tenantID string, rec model.DeliveryRecord) {
		published = append(published, rec)
	})
	mustRegister(t, reg, model.SubscriptionRequest{TenantID: "t_1", URL: srv.URL, Secret: "s", Events: []string{"*"}})

	recs, err := d.Dispatch(context.Background(), model.Event{Type: "order.created", TenantID: "t_1"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(published) != 1 || published[0].ID != recs[0].ID {
		t.Fatalf("published = %+v", published)
	}
}

type publisherFunc func(tenantID string, rec model.DeliveryRecord)

func (f publisherFunc) PublishDelivery(tenantID string, rec model.DeliveryRecord) { f(tenantID, rec) }

func TestTestDeliveryWorksOnInactiveSubscription(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d, reg := testDispatcher(t, DispatcherConfig{})
	ctx := context.Background()
	sub := mustRegister(t, reg, model.SubscriptionRequest{TenantID: "t_1", URL: srv.URL, Secret: "s", Events: []string{"order.*"}})
	off := false
	if _, err := reg.Update(ctx, "t_1", sub.ID, model.SubscriptionPatch{IsActive: &off}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	rec, err := d.Test(ctx, "t_1", sub.ID)
	if err != nil {
		t.Fatalf("Test: %v", err)
	}
	if rec.Status != model.DeliverySuccess || rec.EventType != "webhook.test" {
		t.Fatalf("record = %+v", rec)
	}
	var env model.EventEnvelope
	if err := json.Unmarshal(gotBody, &env); err != nil {
		t.Fatalf("envelope: %v", err)
	}
	if env.Type != "webhook.test" || env.Data["webhookId"] != sub.ID {
		t.Fatalf("envelope = %+v", env)
	}
}

func TestTestDeliveryUnknownSubscription(t *testing.T) {
	d, _ := testDispatcher(t, DispatcherConfig{})
	if _, err := d.Test(context.Background(), "t_1", "whk_missing"); err == nil {
		t.Fatalf("expected not-found error")
	}
}
