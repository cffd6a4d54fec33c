package middleware

import (
	"context"
	"net/http"

	"github.com/Yasmir01/CRM-Platform-clean-sub011/internal/logger"
)

const headerOrganizationID = "X-Organization-ID"

type organizationCtxKey struct{}

// OrganizationID is middleware that extracts the organization from the
// X-Organization-ID header and stores it in the request context. Requests
// without the header are rejected with 400.
func OrganizationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		oid := r.Header.Get(headerOrganizationID)
		if oid == "" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"missing X-Organization-ID header"}`))
			return
		}
		ctx := context.WithValue(r.Context(), organizationCtxKey{}, oid)
		ctx = logger.WithOrganizationID(ctx, oid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OrganizationIDFromContext returns the organization stored in ctx, or "".
func OrganizationIDFromContext(ctx context.Context) string {
	oid, _ := ctx.Value(organizationCtxKey{}).(string)
	return oid
}

// WithOrganizationID stores oid the same way the middleware does.
func WithOrganizationID(ctx context.Context, oid string) context.Context {
	return logger.WithOrganizationID(context.WithValue(ctx, organizationCtxKey{}, oid), oid)
}
