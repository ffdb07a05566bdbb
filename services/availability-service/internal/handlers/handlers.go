package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/tutorslots/libs/auth"
	"github.com/md-rashed-zaman/tutorslots/libs/httpx"
	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/availability"
	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/booking"
	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/model"
	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/timegrid"
)

const defaultDurationMinutes = 60

type Handler struct {
	svc    *booking.Service
	logger *slog.Logger
}

func New(svc *booking.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{svc: svc, logger: logger}
}

func actorFrom(r *http.Request) booking.Actor {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		return booking.Actor{}
	}
	return booking.Actor{ID: claims.Sub, Role: claims.Role}
}

type slotItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type slotsResponse struct {
	TutorID         string     `json:"tutor_id"`
	Timezone        string     `json:"timezone"`
	DisplayTimezone string     `json:"display_timezone"`
	DurationMinutes int        `json:"duration_minutes"`
	Slots           []slotItem `json:"slots"`
}

// Slots serves GET /api/v1/slots?tutor_id&from&to&duration_minutes&tz.
// to defaults to from; dates are calendar dates in the tutor's zone.
func (h *Handler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	q := r.URL.Query()
	tutorID := strings.TrimSpace(q.Get("tutor_id"))
	if tutorID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "tutor_id is required", "tutor_id")
		return
	}
	from, err := timegrid.ParseDate(q.Get("from"))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "from must be YYYY-MM-DD", "from")
		return
	}
	to := from
	if raw := strings.TrimSpace(q.Get("to")); raw != "" {
		if to, err = timegrid.ParseDate(raw); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "to must be YYYY-MM-DD", "to")
			return
		}
	}
	if to.Before(from) {
		httpx.WriteError(w, http.StatusBadRequest, "to must not be before from", "to")
		return
	}
	minutes := defaultDurationMinutes
	if raw := strings.TrimSpace(q.Get("duration_minutes")); raw != "" {
		if minutes, err = strconv.Atoi(raw); err != nil || minutes <= 0 || minutes > 24*60 {
			httpx.WriteError(w, http.StatusBadRequest, "duration_minutes must be between 1 and 1440", "duration_minutes")
			return
		}
	}
	displayZone := strings.TrimSpace(q.Get("tz"))
	if displayZone != "" {
		if _, err := timegrid.LoadZone(displayZone); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "unknown timezone", "tz")
			return
		}
	}

	res, err := h.svc.Slots(r.Context(), booking.SlotQuery{
		TutorID:     tutorID,
		From:        from,
		To:          to,
		Duration:    time.Duration(minutes) * time.Minute,
		DisplayZone: displayZone,
	})
	if err != nil {
		writeServiceError(w, h.logger, "slot query", err)
		return
	}

	resp := slotsResponse{
		TutorID:         res.TutorID,
		Timezone:        res.Timezone,
		DisplayTimezone: res.DisplayZone,
		DurationMinutes: minutes,
		Slots:           make([]slotItem, 0, len(res.Slots)),
	}
	for _, s := range res.Slots {
		resp.Slots = append(resp.Slots, slotItem{
			StartTime: s.Start.Format(time.RFC3339),
			EndTime:   s.End.Format(time.RFC3339),
		})
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

type trialsResponse struct {
	StudentID      string         `json:"student_id"`
	TotalUsed      int            `json:"total_used"`
	TotalRemaining int            `json:"total_remaining"`
	ByTutor        map[string]int `json:"by_tutor"`
	GlobalCap      int            `json:"global_cap"`
	PerTutorCap    int            `json:"per_tutor_cap"`
	TutorID        string         `json:"tutor_id,omitempty"`
	CanBookTrial   *bool          `json:"can_book_trial,omitempty"`
}

// Trials serves GET /api/v1/trials?student_id[&tutor_id].
func (h *Handler) Trials(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	studentID := strings.TrimSpace(r.URL.Query().Get("student_id"))
	tutorID := strings.TrimSpace(r.URL.Query().Get("tutor_id"))
	if studentID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "student_id is required", "student_id")
		return
	}

	policy := h.svc.Policy()
	resp := trialsResponse{
		StudentID:   studentID,
		GlobalCap:   policy.GlobalCap,
		PerTutorCap: policy.PerTutorCap,
		TutorID:     tutorID,
	}
	if tutorID != "" {
		ok, usage, err := h.svc.CanBookTrial(r.Context(), studentID, tutorID)
		if err != nil {
			writeServiceError(w, h.logger, "trial query", err)
			return
		}
		resp.CanBookTrial = &ok
		resp.TotalUsed, resp.TotalRemaining, resp.ByTutor = usage.TotalUsed, usage.TotalRemaining, usage.ByTutor
	} else {
		usage, err := h.svc.TrialUsage(r.Context(), studentID)
		if err != nil {
			writeServiceError(w, h.logger, "trial query", err)
			return
		}
		resp.TotalUsed, resp.TotalRemaining, resp.ByTutor = usage.TotalUsed, usage.TotalRemaining, usage.ByTutor
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}

type bookLessonRequest struct {
	TutorID         string `json:"tutor_id"`
	StudentID       string `json:"student_id"`
	StartTime       string `json:"start_time"`
	DurationMinutes int    `json:"duration_minutes"`
	IsTrial         bool   `json:"is_trial"`
}

// BookLesson serves POST /api/v1/lessons. Students book for themselves;
// admins may name any student_id. A replayed Idempotency-Key answers 200
// with the original lesson instead of 201.
func (h *Handler) BookLesson(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var req bookLessonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body", "")
		return
	}
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(req.StartTime))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "start_time must be RFC3339", "start_time")
		return
	}
	if req.DurationMinutes == 0 {
		req.DurationMinutes = defaultDurationMinutes
	}

	actor := actorFrom(r)
	studentID := strings.TrimSpace(req.StudentID)
	switch {
	case studentID == "":
		studentID = actor.ID
	case studentID != actor.ID && !actor.IsAdmin():
		httpx.WriteError(w, http.StatusForbidden, "cannot book for another student", "student_id")
		return
	}

	res, err := h.svc.Book(r.Context(), booking.BookRequest{
		TutorID:        strings.TrimSpace(req.TutorID),
		StudentID:      studentID,
		Start:          start,
		Duration:       time.Duration(req.DurationMinutes) * time.Minute,
		IsTrial:        req.IsTrial,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		writeServiceError(w, h.logger, "booking", err)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		w.Header().Set("Idempotent-Replayed", "true")
		status = http.StatusOK
	}
	httpx.WriteJSON(w, status, res.Lesson)
}

type cancelLessonRequest struct {
	LessonID string `json:"lesson_id"`
	Reason   string `json:"reason"`
}

// CancelLesson serves POST /api/v1/lessons/cancel.
func (h *Handler) CancelLesson(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req cancelLessonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body", "")
		return
	}
	lesson, err := h.svc.Cancel(r.Context(), booking.CancelRequest{
		LessonID: strings.TrimSpace(req.LessonID),
		Reason:   strings.TrimSpace(req.Reason),
		Actor:    actorFrom(r),
	})
	if err != nil {
		writeServiceError(w, h.logger, "cancellation", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, lesson)
}

type availabilityBody struct {
	Timezone            string                       `json:"timezone"`
	SlotIntervalMinutes int                          `json:"slot_interval_minutes"`
	Rules               []availability.WeeklyRule    `json:"rules"`
	Exceptions          []availability.DateException `json:"exceptions"`
}

// GetAvailability serves GET /api/v1/availability?tutor_id.
func (h *Handler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	tutorID := strings.TrimSpace(r.URL.Query().Get("tutor_id"))
	if tutorID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "tutor_id is required", "tutor_id")
		return
	}
	profile, err := h.svc.Availability(r.Context(), tutorID)
	if err != nil {
		writeServiceError(w, h.logger, "availability lookup", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, profile)
}

// PutAvailability serves PUT /api/v1/availability?tutor_id and replaces the
// tutor's whole profile.
func (h *Handler) PutAvailability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		methodNotAllowed(w, http.MethodPut)
		return
	}
	tutorID := strings.TrimSpace(r.URL.Query().Get("tutor_id"))
	if tutorID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "tutor_id is required", "tutor_id")
		return
	}
	var body availabilityBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body", "")
		return
	}
	profile, err := h.svc.UpdateAvailability(r.Context(), actorFrom(r), model.TutorProfile{
		TutorID:             tutorID,
		Timezone:            strings.TrimSpace(body.Timezone),
		SlotIntervalMinutes: body.SlotIntervalMinutes,
		Rules:               body.Rules,
		Exceptions:          body.Exceptions,
	})
	if err != nil {
		writeServiceError(w, h.logger, "availability update", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, profile)
}
