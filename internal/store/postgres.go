package store

import (
    "context"
    "database/sql"
    "encoding/json"
    "errors"
    "os"
    "path/filepath"
    "sort"
    "strings"

    _ "github.com/jackc/pgx/v5/stdlib"

    "hookgate/internal/model"
)

type Postgres struct {
    db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
    db, err := sql.Open("pgx", dsn)
    if err != nil {
        return nil, err
    }
    if err := db.Ping(); err != nil {
        return nil, err
    }
    return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

// MigrateDir applies *.sql files from dir in lexical order (dev helper).
func (p *Postgres) MigrateDir(dir string) error {
    entries, err := os.ReadDir(dir)
    if err != nil { return err }
    names := []string{}
    for _, e := range entries {
        if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") { names = append(names, e.Name()) }
    }
    sort.Strings(names)
    for _, n := range names {
        b, err := os.ReadFile(filepath.Join(dir, n))
        if err != nil { return err }
        if _, err := p.db.Exec(string(b)); err != nil { return err }
    }
    return nil
}

const subCols = `id, tenant_id, url, secret, events, is_active, headers, timeout_sec, max_retries,
    COALESCE(description,''), consecutive_failures, COALESCE(disabled_reason,''), last_delivery_at,
    COALESCE(last_delivery_status,''), COALESCE(deliveries,'[]'::jsonb), delivery_count, created_at, updated_at`

func (p *Postgres) PutSubscription(ctx context.Context, service string, sub model.Subscription) error {
    ev, _ := json.Marshal(sub.Events)
    hd, _ := json.Marshal(sub.Headers)
    dl, _ := json.Marshal(sub.Deliveries)
    if sub.Deliveries == nil { dl = []byte(`[]`) }
    _, err := p.db.ExecContext(ctx, `INSERT INTO webhook_subscriptions
        (service, id, tenant_id, url, secret, events, is_active, headers, timeout_sec, max_retries, description,
         consecutive_failures, disabled_reason, last_delivery_at, last_delivery_status, deliveries, delivery_count, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
        ON CONFLICT (service, tenant_id, id) DO UPDATE SET
         url=EXCLUDED.url, secret=EXCLUDED.secret, events=EXCLUDED.events, is_active=EXCLUDED.is_active,
         headers=EXCLUDED.headers, timeout_sec=EXCLUDED.timeout_sec, max_retries=EXCLUDED.max_retries,
         description=EXCLUDED.description, consecutive_failures=EXCLUDED.consecutive_failures,
         disabled_reason=EXCLUDED.disabled_reason, updated_at=EXCLUDED.updated_at`,
        service, sub.ID, sub.TenantID, sub.URL, sub.Secret, ev, sub.IsActive, hd, sub.TimeoutSec, sub.MaxRetries,
        nullIfEmpty(sub.Description), sub.ConsecutiveFailures, nullIfEmpty(sub.DisabledReason), sub.LastDeliveryAt,
        nullIfEmpty(sub.LastDeliveryStatus), dl, sub.DeliveryCount, sub.CreatedAt, sub.UpdatedAt)
    return err
}

func (p *Postgres) GetSubscription(ctx context.Context, service, tenantID, id string) (model.Subscription, error) {
    row := p.db.QueryRowContext(ctx, `SELECT `+subCols+` FROM webhook_subscriptions WHERE service=$1 AND tenant_id=$2 AND id=$3`, service, tenantID, id)
    return scanSubscription(row)
}

func (p *Postgres) ListSubscriptions(ctx context.Context, service, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    var rows *sql.Rows
    var err error
    if cursor != "" {
        rows, err = p.db.QueryContext(ctx, `SELECT `+subCols+` FROM webhook_subscriptions WHERE service=$1 AND tenant_id=$2 AND id > $3 ORDER BY id LIMIT $4`, service, tenantID, cursor, limit)
    } else {
        rows, err = p.db.QueryContext(ctx, `SELECT `+subCols+` FROM webhook_subscriptions WHERE service=$1 AND tenant_id=$2 ORDER BY id LIMIT $3`, service, tenantID, limit)
    }
    if err != nil { return nil, "", err }
    defer rows.Close()
    var out []model.Subscription
    for rows.Next() {
        s, err := scanSubscription(rows)
        if err != nil { return nil, "", err }
        out = append(out, s)
    }
    next := ""
    if len(out) == limit { next = out[len(out)-1].ID }
    return out, next, rows.Err()
}

func (p *Postgres) DeleteSubscription(ctx context.Context, service, tenantID, id string) error {
    res, err := p.db.ExecContext(ctx, `DELETE FROM webhook_subscriptions WHERE service=$1 AND tenant_id=$2 AND id=$3`, service, tenantID, id)
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
    return nil
}

// AppendDelivery is a single UPDATE so concurrent deliveries from different
// processes cannot lose counter or history updates. `|| $rec` appends to the
// jsonb array and `- 0` evicts the oldest entry once the cap is exceeded.
func (p *Postgres) AppendDelivery(ctx context.Context, service, tenantID, id string, rec model.DeliveryRecord, out Outcome) (model.Subscription, error) {
    rj, err := json.Marshal(rec)
    if err != nil { return model.Subscription{}, err }
    row := p.db.QueryRowContext(ctx, `UPDATE webhook_subscriptions SET
        deliveries = CASE WHEN jsonb_array_length(COALESCE(deliveries,'[]'::jsonb) || $4::jsonb) > $5
            THEN (COALESCE(deliveries,'[]'::jsonb) || $4::jsonb) - 0
            ELSE COALESCE(deliveries,'[]'::jsonb) || $4::jsonb END,
        delivery_count = delivery_count + 1,
        last_delivery_at = $6,
        last_delivery_status = $7,
        consecutive_failures = CASE WHEN $8 THEN 0 ELSE consecutive_failures + 1 END,
        is_active = CASE WHEN NOT $8 AND $9 > 0 AND consecutive_failures + 1 >= $9 THEN false ELSE is_active END,
        disabled_reason = CASE WHEN NOT $8 AND $9 > 0 AND consecutive_failures + 1 >= $9 THEN $10 ELSE disabled_reason END,
        updated_at = $6
        WHERE service=$1 AND tenant_id=$2 AND id=$3
        RETURNING `+subCols,
        service, tenantID, id, rj, model.DeliveryHistoryCap, out.At, rec.Status, out.Success, out.DisableThreshold, nullIfEmpty(out.DisabledReason))
    return scanSubscription(row)
}

func (p *Postgres) ReplaceDeliveries(ctx context.Context, service, tenantID, id string, deliveries []model.DeliveryRecord) error {
    if deliveries == nil { deliveries = []model.DeliveryRecord{} }
    dj, err := json.Marshal(deliveries)
    if err != nil { return err }
    res, err := p.db.ExecContext(ctx, `UPDATE webhook_subscriptions SET deliveries=$4::jsonb, updated_at=now() WHERE service=$1 AND tenant_id=$2 AND id=$3`, service, tenantID, id, dj)
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
    return nil
}

type rowScanner interface{ Scan(dest ...any) error }

func scanSubscription(row rowScanner) (model.Subscription, error) {
    var s model.Subscription
    var ev, hd, dl []byte
    var lastAt sql.NullTime
    err := row.Scan(&s.ID, &s.TenantID, &s.URL, &s.Secret, &ev, &s.IsActive, &hd, &s.TimeoutSec, &s.MaxRetries,
        &s.Description, &s.ConsecutiveFailures, &s.DisabledReason, &lastAt, &s.LastDeliveryStatus,
        &dl, &s.DeliveryCount, &s.CreatedAt, &s.UpdatedAt)
    if errors.Is(err, sql.ErrNoRows) { return model.Subscription{}, ErrNotFound }
    if err != nil { return model.Subscription{}, err }
    _ = json.Unmarshal(ev, &s.Events)
    if len(hd) > 0 { _ = json.Unmarshal(hd, &s.Headers) }
    _ = json.Unmarshal(dl, &s.Deliveries)
    if s.Deliveries == nil { s.Deliveries = []model.DeliveryRecord{} }
    if lastAt.Valid { t := lastAt.Time; s.LastDeliveryAt = &t }
    return s, nil
}

func nullIfEmpty(s string) any { if s == "" { return nil }; return s }
