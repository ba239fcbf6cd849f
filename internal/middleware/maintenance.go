package middleware

import (
	"encoding/json"
	"net/http"

	"ambassador-ledger/internal/features"
)

// MaintenanceMiddleware rejects writes while the maintenance flag is on.
// Reads keep working so operators can watch a restore progress.
func MaintenanceMiddleware(flags *features.Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
			default:
				if flags.IsEnabled(features.FeatureMaintenanceMode) {
					w.Header().Set("Retry-After", "30")
					writeJSONError(w, http.StatusServiceUnavailable, "maintenance in progress")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
