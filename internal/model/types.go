package model

import "time"

// Delivery statuses. A record is mutable until it reaches success or failed.
const (
	DeliveryPending  = "pending"
	DeliverySuccess  = "success"
	DeliveryFailed   = "failed"
	DeliveryRetrying = "retrying"
)

// DeliveryHistoryCap bounds the embedded delivery history per subscription.
const DeliveryHistoryCap = 100

// Subscription is a tenant-owned registration of a target URL and the event
// patterns it wants to receive. Identity is (ID, TenantID) within the owning
// service's namespace.
type Subscription struct {
	ID          string            `json:"id"`
	TenantID    string            `json:"tenantId"`
	URL         string            `json:"url"`
	Secret      string            `json:"-"`
	Events      []string          `json:"events"`
	IsActive    bool              `json:"isActive"`
	Headers     map[string]string `json:"headers,omitempty"`
	TimeoutSec  int               `json:"timeoutSec,omitempty"`
	MaxRetries  int               `json:"maxRetries,omitempty"`
	Description string            `json:"description,omitempty"`

	ConsecutiveFailures int        `json:"consecutiveFailures"`
	DisabledReason      string     `json:"disabledReason,omitempty"`
	LastDeliveryAt      *time.Time `json:"lastDeliveryAt,omitempty"`
	LastDeliveryStatus  string     `json:"lastDeliveryStatus,omitempty"`

	// Deliveries is a bounded, insertion-ordered history (oldest first, capped
	// at DeliveryHistoryCap). DeliveryCount keeps counting past the cap.
	Deliveries    []DeliveryRecord `json:"deliveries"`
	DeliveryCount int64            `json:"deliveryCount"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DeliveryRecord is one attempted transmission of an event to one subscription.
// EventID is shared by every subscription notified for the same event so
// receivers can deduplicate.
type DeliveryRecord struct {
	ID           string     `json:"id"`
	EventID      string     `json:"eventId"`
	EventType    string     `json:"eventType"`
	Status       string     `json:"status"`
	Attempts     int        `json:"attempts"`
	StatusCode   int        `json:"statusCode,omitempty"`
	ResponseBody string     `json:"responseBody,omitempty"`
	Error        string     `json:"error,omitempty"`
	DurationMs   int        `json:"durationMs"`
	CreatedAt    time.Time  `json:"createdAt"`
	DeliveredAt  *time.Time `json:"deliveredAt,omitempty"`
	NextRetryAt  *time.Time `json:"nextRetryAt,omitempty"`
}

// EventEnvelope is the wire payload POSTed to subscribers. Built fresh per
// dispatch; never persisted.
type EventEnvelope struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Timestamp  string         `json:"timestamp"`
	TenantID   string         `json:"tenantId"`
	UserID     string         `json:"userId,omitempty"`
	Data       map[string]any `json:"data"`
	APIVersion string         `json:"apiVersion"`
}

// Event is a domain event handed to the dispatcher.
type Event struct {
	Type     string         `json:"type"`
	TenantID string         `json:"tenantId"`
	UserID   string         `json:"userId,omitempty"`
	Data     map[string]any `json:"data"`
}

// SubscriptionRequest is the registration payload.
type SubscriptionRequest struct {
	TenantID    string            `json:"tenantId"`
	URL         string            `json:"url"`
	Secret      string            `json:"secret"`
	Events      []string          `json:"events"`
	Headers     map[string]string `json:"headers,omitempty"`
	TimeoutSec  int               `json:"timeoutSec,omitempty"`
	MaxRetries  int               `json:"maxRetries,omitempty"`
	Description string            `json:"description,omitempty"`
}

// SubscriptionPatch carries partial updates. Nil fields are left untouched.
type SubscriptionPatch struct {
	URL         *string            `json:"url,omitempty"`
	Secret      *string            `json:"secret,omitempty"`
	Events      *[]string          `json:"events,omitempty"`
	IsActive    *bool              `json:"isActive,omitempty"`
	Headers     *map[string]string `json:"headers,omitempty"`
	TimeoutSec  *int               `json:"timeoutSec,omitempty"`
	MaxRetries  *int               `json:"maxRetries,omitempty"`
	Description *string            `json:"description,omitempty"`
}

// WebhookStats aggregates per-tenant delivery health over the last 24 hours.
type WebhookStats struct {
	Total          int `json:"total"`
	Active         int `json:"active"`
	Disabled       int `json:"disabled"`
	Deliveries24h  int `json:"deliveries24h"`
	Successful24h  int `json:"successful24h"`
	SuccessRate24h int `json:"successRate24h"`
}
