// Package api implements the webhook management HTTP surface.
package api

import (
    "net/http"
    "strings"
)

type Principal struct {
	Tenant  string
	Role    string // admin, operator, viewer
	Service string
}

// getPrincipal extracts tenant, role and service namespace from JWT or headers.
// - If Authorization: Bearer is present, uses configured verifier (dev/hmac/jwks).
// - Else falls back to headers for dev.
func (s *Server) getPrincipal(r *http.Request) Principal {
    authz := r.Header.Get("Authorization")
    if strings.HasPrefix(strings.ToLower(authz), "bearer ") && s.Auth != nil {
        tok := strings.TrimSpace(authz[len("Bearer "):])
        if pr, err := s.Auth.Verify(tok); err == nil {
            return Principal{Tenant: pr.Tenant, Role: pr.Role, Service: pr.Service}
        }
    }
    tenant := r.Header.Get("X-Tenant-Id")
    role := r.Header.Get("X-Role")
    service := r.Header.Get("X-Service")
    if tenant == "" {
        tenant = "t_demo"
    }
    if role == "" {
        role = "admin"
    }
    return Principal{Tenant: tenant, Role: role, Service: service}
}

// IsAdmin reports whether the principal has the admin role.
func (p Principal) IsAdmin() bool { return p.Role == "admin" }

// CanManage reports whether the principal may mutate subscriptions.
func (p Principal) CanManage() bool { return p.Role == "admin" || p.Role == "operator" }
