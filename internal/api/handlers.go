package api

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "net/http"
    "strings"
    "time"

    "hookgate/internal/model"
    "hookgate/internal/store"
    "hookgate/internal/webhook"
)

// SubscriptionsHandler handles POST/GET /v1/subscriptions
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
    switch r.Method {
    case http.MethodPost:
        p := s.getPrincipal(r)
        if !p.CanManage() { writeProblem(w, 403, "Forbidden", "operator or admin required", r.URL.Path); return }
        var req model.SubscriptionRequest
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        if req.TenantID == "" { req.TenantID = p.Tenant }
        sub, err := s.Registry.Register(r.Context(), req)
        if err != nil {
            var ve *webhook.ValidationError
            if errors.As(err, &ve) { writeProblem(w, 400, "Invalid subscription", ve.Error(), r.URL.Path); return }
            writeProblem(w, http.StatusInternalServerError, "Create subscription failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, http.StatusCreated, sub)
    case http.MethodGet:
        p := s.getPrincipal(r)
        cursor := r.URL.Query().Get("cursor")
        limit := 100
        if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
        items, next, err := s.Registry.List(r.Context(), p.Tenant, cursor, limit)
        if err != nil { writeProblem(w, 500, "List subscriptions failed", err.Error(), r.URL.Path); return }
        writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// SubscriptionByIDHandler routes /v1/subscriptions/{id}, plus the /test and
// /deliveries sub-resources.
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
    if !strings.HasPrefix(r.URL.Path, "/v1/subscriptions/") { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    rest := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
    parts := strings.Split(rest, "/")
    id := parts[0]
    if id == "" { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    p := s.getPrincipal(r)
    if len(parts) > 1 {
        switch parts[1] {
        case "test":
            s.testSubscription(w, r, p, id)
        case "deliveries":
            s.listDeliveries(w, r, p, id)
        default:
            writeProblem(w, 404, "Not Found", "", r.URL.Path)
        }
        return
    }
    switch r.Method {
    case http.MethodGet:
        sub, err := s.Registry.Get(r.Context(), p.Tenant, id)
        if errors.Is(err, store.ErrNotFound) { writeProblem(w, 404, "Not Found", "unknown subscription", r.URL.Path); return }
        if err != nil { writeProblem(w, 500, "Get subscription failed", err.Error(), r.URL.Path); return }
        writeJSON(w, 200, sub)
    case http.MethodPatch:
        if !p.CanManage() { writeProblem(w, 403, "Forbidden", "operator or admin required", r.URL.Path); return }
        var patch model.SubscriptionPatch
        if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        sub, err := s.Registry.Update(r.Context(), p.Tenant, id, patch)
        if errors.Is(err, store.ErrNotFound) { writeProblem(w, 404, "Not Found", "unknown subscription", r.URL.Path); return }
        if err != nil {
            var ve *webhook.ValidationError
            if errors.As(err, &ve) { writeProblem(w, 400, "Invalid subscription", ve.Error(), r.URL.Path); return }
            writeProblem(w, 500, "Update subscription failed", err.Error(), r.URL.Path)
            return
        }
        writeJSON(w, 200, sub)
    case http.MethodDelete:
        if !p.CanManage() { writeProblem(w, 403, "Forbidden", "operator or admin required", r.URL.Path); return }
        err := s.Registry.Delete(r.Context(), p.Tenant, id)
        if errors.Is(err, store.ErrNotFound) { writeProblem(w, 404, "Not Found", "unknown subscription", r.URL.Path); return }
        if err != nil { writeProblem(w, 500, "Delete subscription failed", err.Error(), r.URL.Path); return }
        w.WriteHeader(204)
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

func (s *Server) testSubscription(w http.ResponseWriter, r *http.Request, p Principal, id string) {
    if r.Method != http.MethodPost { w.WriteHeader(405); return }
    if !p.CanManage() { writeProblem(w, 403, "Forbidden", "operator or admin required", r.URL.Path); return }
    rec, err := s.Dispatcher.Test(r.Context(), p.Tenant, id)
    if errors.Is(err, store.ErrNotFound) { writeProblem(w, 404, "Not Found", "unknown subscription", r.URL.Path); return }
    if err != nil { writeProblem(w, 500, "Test delivery failed", err.Error(), r.URL.Path); return }
    writeJSON(w, 200, rec)
}

func (s *Server) listDeliveries(w http.ResponseWriter, r *http.Request, p Principal, id string) {
    if r.Method != http.MethodGet { w.WriteHeader(405); return }
    limit := 0
    if v := r.URL.Query().Get("limit"); v != "" { fmt.Sscanf(v, "%d", &limit) }
    recs, err := s.Recorder.History(r.Context(), p.Tenant, id, webhook.HistoryOptions{Limit: limit, Status: r.URL.Query().Get("status")})
    if errors.Is(err, store.ErrNotFound) { writeProblem(w, 404, "Not Found", "unknown subscription", r.URL.Path); return }
    if err != nil { writeProblem(w, 500, "List deliveries failed", err.Error(), r.URL.Path); return }
    writeJSON(w, 200, map[string]any{"items": recs})
}

// DispatchHandler handles POST /v1/dispatch: pushes a domain event through the
// engine and returns one finalized delivery record per matched subscription.
func (s *Server) DispatchHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost { w.WriteHeader(405); return }
    p := s.getPrincipal(r)
    if !p.CanManage() { writeProblem(w, 403, "Forbidden", "operator or admin required", r.URL.Path); return }
    var evt model.Event
    if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    if strings.TrimSpace(evt.Type) == "" { writeProblem(w, 400, "Invalid event", "type required", r.URL.Path); return }
    if evt.TenantID == "" { evt.TenantID = p.Tenant }
    recs, err := s.Dispatcher.Dispatch(r.Context(), evt)
    if err != nil { writeProblem(w, 500, "Dispatch failed", err.Error(), r.URL.Path); return }
    writeJSON(w, 200, map[string]any{"eventDelivered": len(recs) > 0, "records": recs})
}

// StatsHandler handles GET /v1/webhooks/stats
func (s *Server) StatsHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet { w.WriteHeader(405); return }
    p := s.getPrincipal(r)
    stats, err := s.Recorder.Stats(r.Context(), p.Tenant)
    if err != nil { writeProblem(w, 500, "Stats failed", err.Error(), r.URL.Path); return }
    writeJSON(w, 200, stats)
}

// CleanupHandler handles POST /v1/admin/webhooks/cleanup (admin). Prunes old
// successful deliveries; failed and retrying records are kept for audit.
func (s *Server) CleanupHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost { w.WriteHeader(405); return }
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    var req struct {
        OlderThanDays int `json:"olderThanDays"`
    }
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    if req.OlderThanDays <= 0 { req.OlderThanDays = 30 }
    removed, err := s.Recorder.Cleanup(r.Context(), p.Tenant, req.OlderThanDays)
    if err != nil { writeProblem(w, 500, "Cleanup failed", err.Error(), r.URL.Path); return }
    writeJSON(w, 200, map[string]int{"removed": removed})
}

// Health
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, 200, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
    // Check DB connectivity when using Postgres store
    type pinger interface{ Ping(ctx context.Context) error }
    if pg, ok := s.Store.(pinger); ok {
        ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
        defer cancel()
        if err := pg.Ping(ctx); err != nil { writeProblem(w, 503, "Not Ready", err.Error(), r.URL.Path); return }
    }
    writeJSON(w, 200, map[string]string{"status": "ready"})
}
