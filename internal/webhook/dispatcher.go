package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"hookgate/internal/metrics"
	"hookgate/internal/model"
	"hookgate/internal/store"
)

// APIVersion is stamped into every outbound envelope.
const APIVersion = "2025-08-01"

const responseBodyCap = 512

// DispatcherConfig tunes delivery behavior. Zero values fall back to the
// documented defaults.
type DispatcherConfig struct {
	UserAgent              string        // default "hookgate/1.0"
	DefaultTimeout         time.Duration // per attempt, default 30s
	DefaultMaxRetries      int           // total attempts per delivery, default 3
	MaxConsecutiveFailures int           // auto-disable threshold, default 10
	RetryBaseDelay         time.Duration // default 1s
	RetryMaxDelay          time.Duration // default 30s
	RetryJitter            bool
	Breaker                BreakerConfig
	// EndpointRatePerSec throttles outbound calls per endpoint URL; 0 means
	// no throttle.
	EndpointRatePerSec float64
	EndpointRateBurst  int
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.UserAgent == "" {
		c.UserAgent = "hookgate/1.0"
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 30 * time.Second
	}
	if c.DefaultMaxRetries <= 0 {
		c.DefaultMaxRetries = 3
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = 10
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 30 * time.Second
	}
	if c.EndpointRateBurst <= 0 {
		c.EndpointRateBurst = 1
	}
	return c
}

// OutcomePublisher receives every finalized DeliveryRecord, fire-and-forget.
// The API layer plugs its event broker in here.
type OutcomePublisher interface {
	PublishDelivery(tenantID string, rec model.DeliveryRecord)
}

// Dispatcher orchestrates event matching, signing, delivery with retry and
// circuit breaking, outcome recording, and auto-disable.
type Dispatcher struct {
	Registry *Registry
	Breakers *Breakers
	HTTP     *http.Client
	// Publisher is optional; nil disables the live delivery feed.
	Publisher OutcomePublisher
	// Enabled gates the whole engine; Dispatch is a no-op when false.
	Enabled bool
	Clock   func() time.Time
	NewID   func() string

	cfg      DispatcherConfig
	limiters sync.Map // endpoint URL -> *rate.Limiter
}

func NewDispatcher(reg *Registry, cfg DispatcherConfig) *Dispatcher {
	cfg = cfg.withDefaults()
	return &Dispatcher{
		Registry: reg,
		Breakers: NewBreakers(cfg.Breaker),
		HTTP:     &http.Client{},
		Enabled:  true,
		Clock:    time.Now,
		NewID:    func() string { return uuid.New().String() },
		cfg:      cfg,
	}
}

// Dispatch notifies every matching subscription of the event, sequentially,
// and returns one finalized DeliveryRecord per matched subscription. A single
// eventId is shared by all records so receivers can deduplicate across
// endpoints. Delivery failures never surface as errors here; they are absorbed
// into the records.
func (d *Dispatcher) Dispatch(ctx context.Context, evt model.Event) ([]model.DeliveryRecord, error) {
	if !d.Enabled {
		return []model.DeliveryRecord{}, nil
	}
	eventID := "evt_" + d.NewID()
	subs, err := d.Registry.FindMatching(ctx, evt.TenantID, evt.Type, d.cfg.MaxConsecutiveFailures)
	if err != nil {
		return nil, err
	}
	out := make([]model.DeliveryRecord, 0, len(subs))
	for _, sub := range subs {
		out = append(out, d.deliver(ctx, sub, evt, eventID))
	}
	return out, nil
}

// Test pushes a synthetic webhook.test event through the normal delivery path
// for one subscription, active or not.
func (d *Dispatcher) Test(ctx context.Context, tenantID, id string) (model.DeliveryRecord, error) {
	sub, err := d.Registry.Get(ctx, tenantID, id)
	if err != nil {
		return model.DeliveryRecord{}, err
	}
	evt := model.Event{
		Type:     "webhook.test",
		TenantID: tenantID,
		Data:     map[string]any{"webhookId": id, "test": true},
	}
	return d.deliver(ctx, sub, evt, "evt_"+d.NewID()), nil
}

// deliver runs one full delivery: envelope, signature, retry(breaker(POST)),
// outcome recording. The returned record is final.
func (d *Dispatcher) deliver(ctx context.Context, sub model.Subscription, evt model.Event, eventID string) model.DeliveryRecord {
	started := d.Clock()
	rec := model.DeliveryRecord{
		ID:        "dlv_" + d.NewID(),
		EventID:   eventID,
		EventType: evt.Type,
		Status:    model.DeliveryPending,
		CreatedAt: started.UTC(),
	}

	env := model.EventEnvelope{
		ID:         eventID,
		Type:       evt.Type,
		Timestamp:  started.UTC().Format(time.RFC3339),
		TenantID:   evt.TenantID,
		UserID:     evt.UserID,
		Data:       evt.Data,
		APIVersion: APIVersion,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return d.finalize(ctx, sub, rec, started, fmt.Errorf("encode envelope: %w", err))
	}

	sig, err := Sign(body, sub.Secret, started)
	if err != nil {
		// Subscription has no usable secret (legacy record). Recorded as a
		// failed delivery for this subscription only; the dispatch loop moves
		// on to the remaining matches.
		return d.finalize(ctx, sub, rec, started, err)
	}

	if lim := d.limiter(sub.URL); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return d.finalize(ctx, sub, rec, started, err)
		}
	}

	timeout := d.cfg.DefaultTimeout
	if sub.TimeoutSec > 0 {
		timeout = time.Duration(sub.TimeoutSec) * time.Second
	}
	maxRetries := d.cfg.DefaultMaxRetries
	if sub.MaxRetries > 0 {
		maxRetries = sub.MaxRetries
	}

	policy := RetryPolicy{
		MaxRetries: maxRetries,
		BaseDelay:  d.cfg.RetryBaseDelay,
		MaxDelay:   d.cfg.RetryMaxDelay,
		Jitter:     d.cfg.RetryJitter,
		// A tripped breaker fails fast instead of consuming retry budget.
		IsRetryable: func(err error) bool {
			var oe *OpenError
			return !errors.As(err, &oe)
		},
	}
	br := d.Breakers.Get(sub.URL)

	var lastCode int
	var lastBody string
	attempts, err := policy.Do(ctx, func() error {
		return br.Execute(func() error {
			code, respBody, err := d.post(ctx, sub, body, sig, started, eventID, timeout)
			lastCode, lastBody = code, respBody
			if err != nil {
				return &DeliveryError{Err: err}
			}
			if code < 200 || code >= 300 {
				return &DeliveryError{StatusCode: code}
			}
			return nil
		})
	})
	rec.Attempts = attempts
	rec.StatusCode = lastCode
	rec.ResponseBody = lastBody
	return d.finalize(ctx, sub, rec, started, err)
}

// finalize stamps the terminal status, persists the record atomically against
// the subscription, records metrics, and publishes to the live feed.
func (d *Dispatcher) finalize(ctx context.Context, sub model.Subscription, rec model.DeliveryRecord, started time.Time, err error) model.DeliveryRecord {
	now := d.Clock()
	rec.DurationMs = int(now.Sub(started).Milliseconds())
	if err == nil {
		rec.Status = model.DeliverySuccess
		t := now.UTC()
		rec.DeliveredAt = &t
	} else {
		rec.Status = model.DeliveryFailed
		rec.Error = err.Error()
	}

	outcome := store.Outcome{
		Success:          err == nil,
		DisableThreshold: d.cfg.MaxConsecutiveFailures,
		DisabledReason:   fmt.Sprintf("auto-disabled after %d consecutive failures", d.cfg.MaxConsecutiveFailures),
		At:               now.UTC(),
	}
	if _, serr := d.Registry.Store.AppendDelivery(ctx, d.Registry.Service, sub.TenantID, sub.ID, rec, outcome); serr != nil {
		// Delivery outcome recording must not fail the dispatch; the record
		// is still returned to the caller.
		rec.Error = firstNonEmpty(rec.Error, "record delivery: "+serr.Error())
	}

	metrics.WebhookDeliveries.WithLabelValues(rec.EventType, rec.Status).Inc()
	metrics.WebhookLatency.WithLabelValues(rec.EventType, rec.Status).Observe(float64(rec.DurationMs))
	metrics.WebhookAttempts.WithLabelValues(rec.EventType, rec.Status).Observe(float64(rec.Attempts))
	if d.Publisher != nil {
		d.Publisher.PublishDelivery(sub.TenantID, rec)
	}
	return rec
}

// post performs one signed HTTP attempt with a hard per-attempt timeout.
func (d *Dispatcher) post(ctx context.Context, sub model.Subscription, body []byte, sig string, ts time.Time, eventID string, timeout time.Duration) (int, string, error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(actx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", d.cfg.UserAgent)
	req.Header.Set("X-Webhook-Signature", sig)
	req.Header.Set("X-Webhook-Timestamp", strconv.FormatInt(ts.UnixMilli(), 10))
	req.Header.Set("X-Webhook-ID", eventID)
	for k, v := range sub.Headers {
		req.Header.Set(k, v)
	}
	resp, err := d.HTTP.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer func() { _ = resp.Body.Close() }()
	b, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyCap))
	return resp.StatusCode, string(b), nil
}

func (d *Dispatcher) limiter(url string) *rate.Limiter {
	if d.cfg.EndpointRatePerSec <= 0 {
		return nil
	}
	if v, ok := d.limiters.Load(url); ok {
		return v.(*rate.Limiter)
	}
	lim := rate.NewLimiter(rate.Limit(d.cfg.EndpointRatePerSec), d.cfg.EndpointRateBurst)
	actual, _ := d.limiters.LoadOrStore(url, lim)
	return actual.(*rate.Limiter)
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
