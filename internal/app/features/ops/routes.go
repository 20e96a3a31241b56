// internal/app/features/ops/routes.go
package ops

import "github.com/go-chi/chi/v5"

// Routes returns a subrouter serving the operator endpoints. Mounted under
// /ops.
func Routes(h *Handler) chi.Router {
	r := chi.NewRouter()

	r.Post("/reconcile", h.ReconcileAll)
	r.Post("/reconcile/user/{userID}", h.ReconcileUser)

	r.Get("/outbox", h.ListOutbox)
	r.Post("/outbox/drain", h.DrainOutbox)

	r.Get("/groups", h.ListGroups)
	r.Get("/users/{userID}", h.UserStatus)

	r.Get("/drift", h.PreviewDrift)
	r.Post("/drift/apply", h.ApplyDrift)

	return r
}
