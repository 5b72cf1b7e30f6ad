package middleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

// TenantIDKey is the context key for the resolved tenant id.
const TenantIDKey contextKey = "tenant_id"

// DefaultTenant is assigned to requests that carry no tenant information.
const DefaultTenant = "default"

// TenantExtractor resolves the calling tenant. It checks the X-Tenant
// header, then the tenant query parameter, and falls back to DefaultTenant.
// Rate limits and cost accounting key off this value, so it runs before
// any handler.
func TenantExtractor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := strings.TrimSpace(r.Header.Get("X-Tenant"))
		if tenant == "" {
			tenant = strings.TrimSpace(r.URL.Query().Get("tenant"))
		}
		if tenant == "" {
			tenant = DefaultTenant
		}

		ctx := context.WithValue(r.Context(), TenantIDKey, tenant)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetTenantID retrieves the tenant id from the request context.
func GetTenantID(ctx context.Context) string {
	if v, ok := ctx.Value(TenantIDKey).(string); ok {
		return v
	}
	return DefaultTenant
}
