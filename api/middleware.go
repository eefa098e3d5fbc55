package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/warp/settlement-engine/generic"
)

// Headers set by the upstream auth gateway once the session is resolved.
const (
	HeaderTenantID = "X-Tenant-ID"
	HeaderActorID  = "X-Actor-ID"
	HeaderRole     = "X-Role"
)

type actorKey struct{}

// ActorFromRequest builds the actor from the gateway headers. An unknown
// role is left empty so the guard rejects it.
func ActorFromRequest(r *http.Request) generic.Actor {
	role, _ := generic.ParseRole(strings.ToUpper(strings.TrimSpace(r.Header.Get(HeaderRole))))
	return generic.Actor{
		TenantID: generic.TenantID(strings.TrimSpace(r.Header.Get(HeaderTenantID))),
		ActorID:  generic.ActorID(strings.TrimSpace(r.Header.Get(HeaderActorID))),
		Role:     role,
	}
}

// WithActor resolves the actor once per request. Authorization itself stays
// in the core services.
func WithActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), actorKey{}, ActorFromRequest(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func actorFrom(r *http.Request) generic.Actor {
	if a, ok := r.Context().Value(actorKey{}).(generic.Actor); ok {
		return a
	}
	return ActorFromRequest(r)
}
