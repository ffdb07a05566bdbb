// Package booking answers slot and trial queries and commits lessons.
package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/md-rashed-zaman/tutorslots/libs/auth"
	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/availability"
	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/metrics"
	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/model"
	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/outbox"
	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/timegrid"
	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/trials"
)

const (
	DefaultSlotInterval  = 30 * time.Minute
	DefaultMaxWindowDays = 62
)

type Config struct {
	Policy              trials.Policy
	DefaultSlotInterval time.Duration
	MaxWindowDays       int
}

type Service struct {
	store       Store
	profiles    ProfileSource
	invalidator ProfileInvalidator
	generator   *availability.Generator
	policy      trials.Policy
	defaultStep time.Duration
	maxDays     int
	logger      *slog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

type Option func(*Service)

// WithProfileCache routes profile reads through cache and evicts it after
// availability updates.
func WithProfileCache(cache interface {
	ProfileSource
	ProfileInvalidator
}) Option {
	return func(s *Service) {
		s.profiles = cache
		s.invalidator = cache
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, logger *slog.Logger, cfg Config, opts ...Option) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.DefaultSlotInterval <= 0 {
		cfg.DefaultSlotInterval = DefaultSlotInterval
	}
	if cfg.MaxWindowDays <= 0 {
		cfg.MaxWindowDays = DefaultMaxWindowDays
	}
	if cfg.Policy == (trials.Policy{}) {
		cfg.Policy = trials.DefaultPolicy
	}
	s := &Service{
		store:       store,
		profiles:    store,
		generator:   availability.NewGenerator(logger),
		policy:      cfg.Policy,
		defaultStep: cfg.DefaultSlotInterval,
		maxDays:     cfg.MaxWindowDays,
		logger:      logger,
		tracer:      otel.Tracer("availability-service/booking"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Policy() trials.Policy { return s.policy }

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

type SlotQuery struct {
	TutorID  string
	From     timegrid.Date
	To       timegrid.Date
	Duration time.Duration
	// DisplayZone defaults to the tutor's home zone.
	DisplayZone string
}

type Slot struct {
	Start time.Time
	End   time.Time
}

type SlotResult struct {
	TutorID     string
	Timezone    string
	DisplayZone string
	Duration    time.Duration
	Slots       []Slot
}

// Slots lists bookable lesson starts for one tutor across an inclusive date range.
func (s *Service) Slots(ctx context.Context, q SlotQuery) (res SlotResult, err error) {
	ctx, span := s.tracer.Start(ctx, "booking.Slots", trace.WithAttributes(
		attribute.String("tutor.id", q.TutorID),
		attribute.String("window.from", q.From.String()),
		attribute.String("window.to", q.To.String()),
	))
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.SlotQueries.WithLabelValues(outcome).Inc()
		endSpan(span, err)
	}()

	if strings.TrimSpace(q.TutorID) == "" {
		return SlotResult{}, invalid("tutor_id is required")
	}
	if !q.From.IsZero() && !q.To.IsZero() && q.From.AddDays(s.maxDays-1).Before(q.To) {
		return SlotResult{}, invalid("date range is limited to %d days", s.maxDays)
	}

	profile, err := s.profiles.TutorProfile(ctx, q.TutorID)
	if err != nil {
		return SlotResult{}, err
	}
	intervals, err := availability.ResolveOpenIntervals(profile.Rules, profile.Exceptions,
		availability.Window{From: q.From, To: q.To}, profile.Timezone)
	if err != nil {
		return SlotResult{}, err
	}

	res = SlotResult{
		TutorID:     profile.TutorID,
		Timezone:    profile.Timezone,
		DisplayZone: q.DisplayZone,
		Duration:    q.Duration,
	}
	if res.DisplayZone == "" {
		res.DisplayZone = profile.Timezone
	}

	var lessons []model.Lesson
	if len(intervals) > 0 {
		from, to := intervals[0].Start, intervals[0].End
		for _, iv := range intervals[1:] {
			to = later(to, iv.End)
		}
		if lessons, err = s.store.TutorLessons(ctx, q.TutorID, from, to); err != nil {
			return SlotResult{}, err
		}
	}

	starts, err := s.generator.Generate(intervals, bookingsOf(lessons), availability.SlotRequest{
		Duration:    q.Duration,
		Step:        profile.SlotInterval(s.defaultStep),
		DisplayZone: res.DisplayZone,
		NotBefore:   s.now(),
	})
	if err != nil {
		return SlotResult{}, err
	}

	res.Slots = make([]Slot, 0, len(starts))
	for _, st := range starts {
		res.Slots = append(res.Slots, Slot{Start: st, End: st.Add(q.Duration)})
	}
	metrics.SlotsReturned.Observe(float64(len(res.Slots)))
	span.SetAttributes(attribute.Int("slots.count", len(res.Slots)))
	return res, nil
}

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}

func bookingsOf(lessons []model.Lesson) []availability.Booking {
	out := make([]availability.Booking, 0, len(lessons))
	for _, l := range lessons {
		out = append(out, l.Booking())
	}
	return out
}

func trialRecords(lessons []model.Lesson) []trials.Lesson {
	out := make([]trials.Lesson, 0, len(lessons))
	for _, l := range lessons {
		out = append(out, l.TrialRecord())
	}
	return out
}

func (s *Service) usageFrom(studentID string, lessons []model.Lesson) (trials.Usage, map[string]trials.Usage) {
	all := s.policy.ComputeUsage(trialRecords(lessons))
	u := s.policy.UsageFor(all, studentID)
	if anomalies := u.Anomalies(s.policy); len(anomalies) > 0 {
		metrics.TrialAnomalies.Add(float64(len(anomalies)))
		s.logger.Warn("student has more trials per tutor than the cap allows",
			"student_id", studentID, "tutor_ids", anomalies, "per_tutor_cap", s.policy.PerTutorCap)
	}
	return u, all
}

// TrialUsage reports how much of the trial allowance a student has used.
func (s *Service) TrialUsage(ctx context.Context, studentID string) (trials.Usage, error) {
	ctx, span := s.tracer.Start(ctx, "booking.TrialUsage", trace.WithAttributes(attribute.String("student.id", studentID)))
	if strings.TrimSpace(studentID) == "" {
		err := invalid("student_id is required")
		endSpan(span, err)
		return trials.Usage{}, err
	}
	lessons, err := s.store.StudentLessons(ctx, studentID)
	if err != nil {
		endSpan(span, err)
		return trials.Usage{}, err
	}
	u, _ := s.usageFrom(studentID, lessons)
	endSpan(span, nil)
	return u, nil
}

// CanBookTrial is advisory; Book re-checks it under lock.
func (s *Service) CanBookTrial(ctx context.Context, studentID, tutorID string) (bool, trials.Usage, error) {
	if strings.TrimSpace(tutorID) == "" {
		return false, trials.Usage{}, invalid("tutor_id is required")
	}
	u, err := s.TrialUsage(ctx, studentID)
	if err != nil {
		return false, trials.Usage{}, err
	}
	all := map[string]trials.Usage{studentID: u}
	return s.policy.CanBookTrial(all, studentID, tutorID), u, nil
}

type BookRequest struct {
	TutorID        string
	StudentID      string
	Start          time.Time
	Duration       time.Duration
	IsTrial        bool
	IdempotencyKey string
}

type BookResult struct {
	Lesson model.Lesson
	// Replayed is set when the idempotency key matched an earlier booking.
	Replayed bool
}

func (r BookRequest) validate() error {
	switch {
	case strings.TrimSpace(r.TutorID) == "":
		return invalid("tutor_id is required")
	case strings.TrimSpace(r.StudentID) == "":
		return invalid("student_id is required")
	case r.Start.IsZero():
		return invalid("start_time is required")
	case r.Duration <= 0:
		return invalid("duration must be positive")
	case r.Duration > 24*time.Hour:
		return invalid("duration must not exceed one day")
	}
	return nil
}

// Book commits a lesson if the requested start is still an offered slot and,
// for trials, the student is still eligible. Both checks run again inside the
// tutor's lock so concurrent bookings cannot both pass.
func (s *Service) Book(ctx context.Context, req BookRequest) (res BookResult, err error) {
	ctx, span := s.tracer.Start(ctx, "booking.Book", trace.WithAttributes(
		attribute.String("tutor.id", req.TutorID),
		attribute.String("student.id", req.StudentID),
		attribute.Bool("lesson.trial", req.IsTrial),
	))
	defer func() { endSpan(span, err) }()

	if err := req.validate(); err != nil {
		return BookResult{}, err
	}
	req.Start = req.Start.UTC()

	err = s.store.InTx(ctx, func(w Writer) error {
		if err := w.LockTutor(ctx, req.TutorID); err != nil {
			return err
		}
		if req.IdempotencyKey != "" {
			rec, exists, err := w.LockIdempotencyKey(ctx, req.StudentID, req.IdempotencyKey)
			if err != nil {
				return err
			}
			if exists && rec.LessonID != "" {
				lesson, err := w.Lesson(ctx, rec.LessonID)
				if err != nil {
					return err
				}
				res = BookResult{Lesson: lesson, Replayed: true}
				return nil
			}
		}
		if req.IsTrial {
			if err := w.LockStudent(ctx, req.StudentID); err != nil {
				return err
			}
		}

		offered, err := s.slotOffered(ctx, w, req)
		if err != nil {
			return err
		}
		if !offered {
			return ErrSlotUnavailable
		}

		if req.IsTrial {
			history, err := w.StudentLessons(ctx, req.StudentID)
			if err != nil {
				return err
			}
			_, all := s.usageFrom(req.StudentID, history)
			if !s.policy.CanBookTrial(all, req.StudentID, req.TutorID) {
				return ErrTrialIneligible
			}
		}

		lesson := model.Lesson{
			ID:        uuid.NewString(),
			TutorID:   req.TutorID,
			StudentID: req.StudentID,
			Start:     req.Start,
			End:       req.Start.Add(req.Duration),
			IsTrial:   req.IsTrial,
			Status:    model.LessonBooked,
			CreatedAt: s.now().UTC(),
		}
		if err := w.InsertLesson(ctx, lesson); err != nil {
			return err
		}
		payload, err := json.Marshal(outbox.LessonBooked{
			LessonID:  lesson.ID,
			TutorID:   lesson.TutorID,
			StudentID: lesson.StudentID,
			StartTime: lesson.Start.Format(time.RFC3339),
			EndTime:   lesson.End.Format(time.RFC3339),
			IsTrial:   lesson.IsTrial,
		})
		if err != nil {
			return err
		}
		if err := w.AppendEvent(ctx, outbox.Event{
			AggregateType: "lesson",
			AggregateID:   lesson.ID,
			EventType:     outbox.TopicLessonBooked,
			Payload:       payload,
		}); err != nil {
			return err
		}
		if req.IdempotencyKey != "" {
			if err := w.FinalizeIdempotency(ctx, req.StudentID, req.IdempotencyKey, lesson.ID); err != nil {
				return err
			}
		}
		res = BookResult{Lesson: lesson}
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrSlotUnavailable):
			metrics.RecordBookingRejection("slot_unavailable")
		case errors.Is(err, ErrTrialIneligible):
			metrics.RecordBookingRejection("trial_ineligible")
		case errors.Is(err, availability.ErrConfiguration):
			metrics.RecordBookingRejection("configuration")
		}
		return BookResult{}, err
	}
	if !res.Replayed {
		metrics.RecordLessonBooked(res.Lesson.IsTrial)
		s.logger.Info("lesson booked", "lesson_id", res.Lesson.ID, "tutor_id", res.Lesson.TutorID,
			"student_id", res.Lesson.StudentID, "trial", res.Lesson.IsTrial)
	}
	return res, nil
}

// slotOffered regenerates the slots around req.Start from the locked
// snapshot and reports whether req.Start is one of them.
func (s *Service) slotOffered(ctx context.Context, w Writer, req BookRequest) (bool, error) {
	profile, err := w.TutorProfile(ctx, req.TutorID)
	if err != nil {
		return false, err
	}
	loc, err := timegrid.LoadZone(profile.Timezone)
	if err != nil {
		return false, &availability.ConfigError{Field: "home_zone", Reason: "cannot load zone", Err: err}
	}
	day := timegrid.DateOf(req.Start, loc)
	intervals, err := availability.ResolveOpenIntervals(profile.Rules, profile.Exceptions,
		availability.Window{From: day.AddDays(-1), To: day.AddDays(1)}, profile.Timezone)
	if err != nil {
		return false, err
	}
	if !availability.FitsOpenInterval(req.Start, req.Duration, intervals) {
		return false, nil
	}

	lessons, err := w.TutorLessons(ctx, req.TutorID, req.Start, req.Start.Add(req.Duration))
	if err != nil {
		return false, err
	}
	seq, err := s.generator.Candidates(intervals, bookingsOf(lessons), availability.SlotRequest{
		Duration:    req.Duration,
		Step:        profile.SlotInterval(s.defaultStep),
		DisplayZone: "UTC",
		NotBefore:   s.now(),
	})
	if err != nil {
		return false, err
	}
	for start := range seq {
		if start.Equal(req.Start) {
			return true, nil
		}
		if start.After(req.Start) {
			break
		}
	}
	return false, nil
}

// Actor is the authenticated caller.
type Actor struct {
	ID   string
	Role string
}

func (a Actor) IsAdmin() bool { return a.Role == auth.RoleAdmin }

type CancelRequest struct {
	LessonID string
	Reason   string
	Actor    Actor
}

// Cancel marks a booked lesson cancelled. Cancelling an already cancelled
// lesson returns it unchanged.
func (s *Service) Cancel(ctx context.Context, req CancelRequest) (lesson model.Lesson, err error) {
	ctx, span := s.tracer.Start(ctx, "booking.Cancel", trace.WithAttributes(attribute.String("lesson.id", req.LessonID)))
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(req.LessonID) == "" {
		return model.Lesson{}, invalid("lesson_id is required")
	}

	changed := false
	err = s.store.InTx(ctx, func(w Writer) error {
		l, err := w.LessonForUpdate(ctx, req.LessonID)
		if err != nil {
			return err
		}
		if !req.Actor.IsAdmin() && req.Actor.ID != l.StudentID && req.Actor.ID != l.TutorID {
			return ErrForbidden
		}
		if l.Status == model.LessonCancelled {
			lesson = l
			return nil
		}
		if l.Status != model.LessonBooked {
			return ErrNotCancellable
		}

		cancelledAt, err := w.CancelLesson(ctx, l.ID, req.Reason)
		if err != nil {
			return err
		}
		cancelledAt = cancelledAt.UTC()
		l.Status = model.LessonCancelled
		l.CancelledAt = &cancelledAt
		l.CancelReason = req.Reason

		payload, err := json.Marshal(outbox.LessonCancelled{
			LessonID:    l.ID,
			TutorID:     l.TutorID,
			StudentID:   l.StudentID,
			StartTime:   l.Start.UTC().Format(time.RFC3339),
			EndTime:     l.End.UTC().Format(time.RFC3339),
			CancelledAt: cancelledAt.Format(time.RFC3339),
			Reason:      req.Reason,
		})
		if err != nil {
			return err
		}
		if err := w.AppendEvent(ctx, outbox.Event{
			AggregateType: "lesson",
			AggregateID:   l.ID,
			EventType:     outbox.TopicLessonCancelled,
			Payload:       payload,
		}); err != nil {
			return err
		}
		lesson, changed = l, true
		return nil
	})
	if err != nil {
		return model.Lesson{}, err
	}
	if changed {
		metrics.LessonsCancelled.Inc()
		s.logger.Info("lesson cancelled", "lesson_id", lesson.ID, "tutor_id", lesson.TutorID)
	}
	return lesson, nil
}

func (s *Service) Availability(ctx context.Context, tutorID string) (model.TutorProfile, error) {
	if strings.TrimSpace(tutorID) == "" {
		return model.TutorProfile{}, invalid("tutor_id is required")
	}
	return s.profiles.TutorProfile(ctx, tutorID)
}

// UpdateAvailability replaces a tutor's timezone, cadence, rules and
// exceptions. Only the tutor or an admin may do so.
func (s *Service) UpdateAvailability(ctx context.Context, actor Actor, profile model.TutorProfile) (out model.TutorProfile, err error) {
	ctx, span := s.tracer.Start(ctx, "booking.UpdateAvailability", trace.WithAttributes(attribute.String("tutor.id", profile.TutorID)))
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(profile.TutorID) == "" {
		return model.TutorProfile{}, invalid("tutor_id is required")
	}
	if !actor.IsAdmin() && actor.ID != profile.TutorID {
		return model.TutorProfile{}, ErrForbidden
	}
	if profile.SlotIntervalMinutes < 0 || profile.SlotIntervalMinutes > timegrid.MinutesPerDay {
		return model.TutorProfile{}, &availability.ConfigError{
			Field:  "slot_interval_minutes",
			Reason: fmt.Sprintf("must be between 0 and %d, 0 meaning the service default (got %d)", timegrid.MinutesPerDay, profile.SlotIntervalMinutes),
		}
	}
	if err := availability.Validate(profile.Rules, profile.Exceptions, profile.Timezone); err != nil {
		return model.TutorProfile{}, err
	}
	profile.UpdatedAt = s.now().UTC()

	err = s.store.InTx(ctx, func(w Writer) error {
		if err := w.SaveProfile(ctx, profile); err != nil {
			return err
		}
		payload, err := json.Marshal(outbox.AvailabilityUpdated{
			TutorID:   profile.TutorID,
			UpdatedAt: profile.UpdatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return err
		}
		return w.AppendEvent(ctx, outbox.Event{
			AggregateType: "tutor",
			AggregateID:   profile.TutorID,
			EventType:     outbox.TopicAvailabilityUpdated,
			Payload:       payload,
		})
	})
	if err != nil {
		return model.TutorProfile{}, err
	}

	if s.invalidator != nil {
		if err := s.invalidator.Invalidate(ctx, profile.TutorID); err != nil {
			s.logger.Warn("profile cache eviction failed; relying on availability event", "tutor_id", profile.TutorID, "err", err)
		}
	}
	s.logger.Info("availability updated", "tutor_id", profile.TutorID,
		"rules", len(profile.Rules), "exceptions", len(profile.Exceptions))
	return profile, nil
}
