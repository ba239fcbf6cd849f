package middleware

import (
	"net/http"
	"strconv"

	"ambassador-ledger/internal/authz"
)

// Gateway headers carrying the authenticated identity.
const (
	HeaderActorID     = "X-Actor-ID"
	HeaderActorName   = "X-Actor-Name"
	HeaderActorRole   = "X-Actor-Role"
	HeaderActorCampus = "X-Actor-Campus"
)

// ActorMiddleware reads the actor supplied by the upstream gateway and stores
// it in the request context. Requests without an actor ID are rejected.
func ActorMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := authz.Actor{
				ID:   r.Header.Get(HeaderActorID),
				Name: r.Header.Get(HeaderActorName),
				Role: r.Header.Get(HeaderActorRole),
			}
			if actor.ID == "" || actor.Role == "" {
				writeJSONError(w, http.StatusUnauthorized, "missing actor identity")
				return
			}
			if campus := r.Header.Get(HeaderActorCampus); campus != "" {
				id, err := strconv.ParseInt(campus, 10, 64)
				if err != nil || id <= 0 {
					writeJSONError(w, http.StatusBadRequest, "invalid "+HeaderActorCampus+" header")
					return
				}
				actor.CampusID = id
			}
			if actor.Name == "" {
				actor.Name = actor.ID
			}

			next.ServeHTTP(w, r.WithContext(authz.WithActor(r.Context(), actor)))
		})
	}
}
