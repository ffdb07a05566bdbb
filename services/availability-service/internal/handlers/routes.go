package handlers

import (
	"net/http"

	"github.com/md-rashed-zaman/tutorslots/libs/auth"
	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/metrics"
)

// Register mounts the API on mux. Reads are public; writes need a verified
// bearer token, and availability updates need the tutor or admin role.
func (h *Handler) Register(mux *http.ServeMux, verifier auth.Verifier) {
	requireAuth := auth.RequireAuth(verifier)
	requireEditor := auth.RequireRole(auth.RoleTutor, auth.RoleAdmin)

	availabilityRoute := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.GetAvailability(w, r)
		case http.MethodPut:
			requireAuth(requireEditor(http.HandlerFunc(h.PutAvailability))).ServeHTTP(w, r)
		default:
			methodNotAllowed(w, "GET, PUT")
		}
	})

	mux.Handle("/api/v1/slots", metrics.Instrument("slots", http.HandlerFunc(h.Slots)))
	mux.Handle("/api/v1/trials", metrics.Instrument("trials", http.HandlerFunc(h.Trials)))
	mux.Handle("/api/v1/lessons", metrics.Instrument("lessons.book", requireAuth(http.HandlerFunc(h.BookLesson))))
	mux.Handle("/api/v1/lessons/cancel", metrics.Instrument("lessons.cancel", requireAuth(http.HandlerFunc(h.CancelLesson))))
	mux.Handle("/api/v1/availability", metrics.Instrument("availability", availabilityRoute))
}
