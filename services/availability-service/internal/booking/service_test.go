package booking_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/availability"
	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/booking"
	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/booking/bookingtest"
	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/model"
	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/outbox"
	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/timegrid"
	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/trials"
)

var (
	weekdays = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}
	// Sunday before the Monday used throughout.
	clock  = time.Date(2026, 1, 11, 0, 0, 0, 0, time.UTC)
	monday = timegrid.Date{Year: 2026, Month: time.January, Day: 12}
)

func at(hour, minute int) time.Time {
	return time.Date(2026, 1, 12, hour, minute, 0, 0, time.UTC)
}

func weekdayProfile(tutorID, zone string) model.TutorProfile {
	return model.TutorProfile{
		TutorID:             tutorID,
		Timezone:            zone,
		SlotIntervalMinutes: 30,
		Rules:               []availability.WeeklyRule{{Weekdays: weekdays, StartMinute: 10 * 60, EndMinute: 16 * 60}},
	}
}

func newService(t *testing.T, tutors ...string) (*booking.Service, *bookingtest.Store) {
	t.Helper()
	store := bookingtest.New()
	for _, id := range tutors {
		store.PutProfile(weekdayProfile(id, "UTC"))
	}
	svc := booking.NewService(store, nil, booking.Config{}, booking.WithClock(func() time.Time { return clock }))
	return svc, store
}

func mondaySlots(t *testing.T, svc *booking.Service, tutorID string) []booking.Slot {
	t.Helper()
	res, err := svc.Slots(context.Background(), booking.SlotQuery{
		TutorID:  tutorID,
		From:     monday,
		To:       monday,
		Duration: time.Hour,
	})
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	return res.Slots
}

func book(svc *booking.Service, tutorID, studentID string, start time.Time, trial bool) (booking.BookResult, error) {
	return svc.Book(context.Background(), booking.BookRequest{
		TutorID:   tutorID,
		StudentID: studentID,
		Start:     start,
		Duration:  time.Hour,
		IsTrial:   trial,
	})
}

func TestSlots_RemovesBookedTime(t *testing.T) {
	svc, store := newService(t, "tutor-1")
	if got := len(mondaySlots(t, svc, "tutor-1")); got != 11 {
		t.Fatalf("expected 11 slots, got %d", got)
	}

	store.PutLesson(model.Lesson{
		ID: "l1", TutorID: "tutor-1", StudentID: "s1",
		Start: at(12, 0), End: at(13, 0), Status: model.LessonBooked,
	})
	store.PutLesson(model.Lesson{
		ID: "l2", TutorID: "tutor-1", StudentID: "s2",
		Start: at(14, 0), End: at(15, 0), Status: model.LessonCancelled,
	})

	slots := mondaySlots(t, svc, "tutor-1")
	if len(slots) != 8 {
		t.Fatalf("expected 8 slots, got %d", len(slots))
	}
	for _, s := range slots {
		if s.Start.Before(at(13, 0)) && at(12, 0).Before(s.End) {
			t.Fatalf("slot %s overlaps the booked lesson", s.Start)
		}
		if s.End.Sub(s.Start) != time.Hour {
			t.Fatalf("unexpected slot length %s", s.End.Sub(s.Start))
		}
	}
}

func TestSlots_DisplayZoneDefaultsToTutorZone(t *testing.T) {
	store := bookingtest.New()
	store.PutProfile(weekdayProfile("tutor-berlin", "Europe/Berlin"))
	svc := booking.NewService(store, nil, booking.Config{}, booking.WithClock(func() time.Time { return clock }))

	res, err := svc.Slots(context.Background(), booking.SlotQuery{TutorID: "tutor-berlin", From: monday, To: monday, Duration: time.Hour})
	if err != nil {
		t.Fatalf("Slots: %v", err)
	}
	if res.DisplayZone != "Europe/Berlin" || len(res.Slots) == 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	first := res.Slots[0].Start
	if first.Location().String() != "Europe/Berlin" || first.Hour() != 10 {
		t.Fatalf("expected 10:00 Berlin, got %s", first)
	}
	if !first.Equal(at(9, 0)) {
		t.Fatalf("expected 09:00 UTC, got %s", first.UTC())
	}
}

func TestSlots_Errors(t *testing.T) {
	svc, _ := newService(t, "tutor-1")
	ctx := context.Background()

	if _, err := svc.Slots(ctx, booking.SlotQuery{TutorID: "nobody", From: monday, To: monday, Duration: time.Hour}); !errors.Is(err, booking.ErrTutorNotFound) {
		t.Fatalf("expected ErrTutorNotFound, got %v", err)
	}
	if _, err := svc.Slots(ctx, booking.SlotQuery{From: monday, To: monday, Duration: time.Hour}); !errors.Is(err, booking.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if _, err := svc.Slots(ctx, booking.SlotQuery{TutorID: "tutor-1", From: monday, To: monday.AddDays(90), Duration: time.Hour}); !errors.Is(err, booking.ErrInvalidRequest) {
		t.Fatalf("expected window limit, got %v", err)
	}
	if _, err := svc.Slots(ctx, booking.SlotQuery{TutorID: "tutor-1", From: monday, To: monday}); !errors.Is(err, availability.ErrConfiguration) {
		t.Fatalf("expected configuration error for zero duration, got %v", err)
	}
	if _, err := svc.Slots(ctx, booking.SlotQuery{TutorID: "tutor-1", From: monday, To: monday, Duration: time.Hour, DisplayZone: "Mars/Base"}); !errors.Is(err, availability.ErrConfiguration) {
		t.Fatalf("expected configuration error for display zone, got %v", err)
	}
}

func TestBook_CommitsAndEmitsEvent(t *testing.T) {
	svc, store := newService(t, "tutor-1")

	res, err := book(svc, "tutor-1", "s1", at(12, 0), false)
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if res.Replayed || res.Lesson.ID == "" || res.Lesson.Status != model.LessonBooked {
		t.Fatalf("unexpected result %+v", res)
	}
	if !res.Lesson.End.Equal(at(13, 0)) {
		t.Fatalf("unexpected end %s", res.Lesson.End)
	}

	events := store.Events()
	if len(events) != 1 || events[0].EventType != outbox.TopicLessonBooked || events[0].AggregateID != res.Lesson.ID {
		t.Fatalf("unexpected events %+v", events)
	}
	if got := len(mondaySlots(t, svc, "tutor-1")); got != 8 {
		t.Fatalf("expected booked slot to disappear, got %d slots", got)
	}
}

func TestBook_RejectsUnofferedStarts(t *testing.T) {
	svc, _ := newService(t, "tutor-1")
	if _, err := book(svc, "tutor-1", "s1", at(12, 0), false); err != nil {
		t.Fatalf("Book: %v", err)
	}

	cases := []struct {
		name  string
		start time.Time
	}{
		{"same slot", at(12, 0)},
		{"overlapping", at(12, 30)},
		{"off the cadence", at(10, 10)},
		{"outside hours", at(16, 0)},
		{"weekend", time.Date(2026, 1, 17, 12, 0, 0, 0, time.UTC)},
		{"in the past", time.Date(2026, 1, 9, 12, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := book(svc, "tutor-1", "s2", tc.start, false); !errors.Is(err, booking.ErrSlotUnavailable) {
				t.Fatalf("expected ErrSlotUnavailable, got %v", err)
			}
		})
	}

	if _, err := book(svc, "nobody", "s2", at(10, 0), false); !errors.Is(err, booking.ErrTutorNotFound) {
		t.Fatalf("expected ErrTutorNotFound, got %v", err)
	}
	if _, err := svc.Book(context.Background(), booking.BookRequest{TutorID: "tutor-1", Start: at(10, 0), Duration: time.Hour}); !errors.Is(err, booking.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestBook_TrialCaps(t *testing.T) {
	svc, _ := newService(t, "A", "B", "C", "D")

	if _, err := book(svc, "A", "s1", at(10, 0), true); err != nil {
		t.Fatalf("first trial with A: %v", err)
	}
	if _, err := book(svc, "A", "s1", at(11, 0), true); !errors.Is(err, booking.ErrTrialIneligible) {
		t.Fatalf("expected second trial with A to be refused, got %v", err)
	}
	if _, err := book(svc, "A", "s1", at(11, 0), false); err != nil {
		t.Fatalf("regular lesson with A: %v", err)
	}
	if _, err := book(svc, "B", "s1", at(10, 0), true); err != nil {
		t.Fatalf("trial with B: %v", err)
	}
	if _, err := book(svc, "C", "s1", at(10, 0), true); err != nil {
		t.Fatalf("trial with C: %v", err)
	}
	if _, err := book(svc, "D", "s1", at(10, 0), true); !errors.Is(err, booking.ErrTrialIneligible) {
		t.Fatalf("expected global cap to refuse D, got %v", err)
	}

	usage, err := svc.TrialUsage(context.Background(), "s1")
	if err != nil {
		t.Fatalf("TrialUsage: %v", err)
	}
	if usage.TotalUsed != trials.DefaultGlobalCap || usage.TotalRemaining != 0 {
		t.Fatalf("unexpected usage %+v", usage)
	}

	ok, _, err := svc.CanBookTrial(context.Background(), "s2", "D")
	if err != nil || !ok {
		t.Fatalf("expected a new student to be eligible, got %v (%v)", ok, err)
	}
}

func TestBook_CancelledTrialFreesAllowance(t *testing.T) {
	svc, _ := newService(t, "A")
	res, err := book(svc, "A", "s1", at(10, 0), true)
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	if _, err := svc.Cancel(context.Background(), booking.CancelRequest{LessonID: res.Lesson.ID, Actor: booking.Actor{ID: "s1", Role: "student"}}); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, err := book(svc, "A", "s1", at(10, 0), true); err != nil {
		t.Fatalf("expected trial after cancellation, got %v", err)
	}
}

func TestBook_IdempotencyKey(t *testing.T) {
	svc, store := newService(t, "tutor-1")
	req := booking.BookRequest{
		TutorID:        "tutor-1",
		StudentID:      "s1",
		Start:          at(10, 0),
		Duration:       time.Hour,
		IdempotencyKey: "key-1",
	}

	first, err := svc.Book(context.Background(), req)
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	second, err := svc.Book(context.Background(), req)
	if err != nil {
		t.Fatalf("replayed Book: %v", err)
	}
	if !second.Replayed || second.Lesson.ID != first.Lesson.ID {
		t.Fatalf("expected replay of %s, got %+v", first.Lesson.ID, second)
	}
	if n := len(store.Lessons()); n != 1 {
		t.Fatalf("expected one stored lesson, got %d", n)
	}
	if n := len(store.Events()); n != 1 {
		t.Fatalf("expected one event, got %d", n)
	}
}

func TestBook_ConcurrentRequestsForOneSlot(t *testing.T) {
	svc, store := newService(t, "tutor-1")

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, refused := 0, 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := book(svc, "tutor-1", "student-"+string(rune('a'+i)), at(12, 0), false)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, booking.ErrSlotUnavailable):
				refused++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if succeeded != 1 || refused != 9 {
		t.Fatalf("expected 1 success and 9 refusals, got %d and %d", succeeded, refused)
	}
	if n := len(store.Lessons()); n != 1 {
		t.Fatalf("expected one lesson, got %d", n)
	}
}

func TestCancel(t *testing.T) {
	svc, store := newService(t, "tutor-1")
	res, err := book(svc, "tutor-1", "s1", at(12, 0), false)
	if err != nil {
		t.Fatalf("Book: %v", err)
	}
	ctx := context.Background()

	if _, err := svc.Cancel(ctx, booking.CancelRequest{LessonID: res.Lesson.ID, Actor: booking.Actor{ID: "stranger", Role: "student"}}); !errors.Is(err, booking.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	cancelled, err := svc.Cancel(ctx, booking.CancelRequest{LessonID: res.Lesson.ID, Reason: "sick", Actor: booking.Actor{ID: "tutor-1", Role: "tutor"}})
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != model.LessonCancelled || cancelled.CancelledAt == nil || cancelled.CancelReason != "sick" {
		t.Fatalf("unexpected lesson %+v", cancelled)
	}

	again, err := svc.Cancel(ctx, booking.CancelRequest{LessonID: res.Lesson.ID, Actor: booking.Actor{ID: "admin-1", Role: "admin"}})
	if err != nil || again.Status != model.LessonCancelled {
		t.Fatalf("expected idempotent cancel, got %+v (%v)", again, err)
	}
	events := store.Events()
	if len(events) != 2 || events[1].EventType != outbox.TopicLessonCancelled {
		t.Fatalf("expected booked+cancelled events, got %+v", events)
	}
	if got := len(mondaySlots(t, svc, "tutor-1")); got != 11 {
		t.Fatalf("expected the slot to reopen, got %d slots", got)
	}

	if _, err := svc.Cancel(ctx, booking.CancelRequest{LessonID: "missing", Actor: booking.Actor{Role: "admin"}}); !errors.Is(err, booking.ErrLessonNotFound) {
		t.Fatalf("expected ErrLessonNotFound, got %v", err)
	}

	store.PutLesson(model.Lesson{ID: "done", TutorID: "tutor-1", StudentID: "s1", Start: at(10, 0), End: at(11, 0), Status: model.LessonCompleted})
	if _, err := svc.Cancel(ctx, booking.CancelRequest{LessonID: "done", Actor: booking.Actor{ID: "s1"}}); !errors.Is(err, booking.ErrNotCancellable) {
		t.Fatalf("expected ErrNotCancellable, got %v", err)
	}
}

type fakeCache struct {
	booking.ProfileSource
	evicted []string
}

func (c *fakeCache) Invalidate(_ context.Context, tutorID string) error {
	c.evicted = append(c.evicted, tutorID)
	return nil
}

func TestUpdateAvailability(t *testing.T) {
	store := bookingtest.New()
	cache := &fakeCache{ProfileSource: store}
	svc := booking.NewService(store, nil, booking.Config{},
		booking.WithClock(func() time.Time { return clock }),
		booking.WithProfileCache(cache))
	ctx := context.Background()

	profile := weekdayProfile("tutor-1", "Asia/Tokyo")
	profile.Exceptions = []availability.DateException{{Date: monday, Open: false}}

	saved, err := svc.UpdateAvailability(ctx, booking.Actor{ID: "tutor-1", Role: "tutor"}, profile)
	if err != nil {
		t.Fatalf("UpdateAvailability: %v", err)
	}
	if !saved.UpdatedAt.Equal(clock) {
		t.Fatalf("expected UpdatedAt from clock, got %s", saved.UpdatedAt)
	}
	if len(cache.evicted) != 1 || cache.evicted[0] != "tutor-1" {
		t.Fatalf("expected cache eviction, got %v", cache.evicted)
	}
	events := store.Events()
	if len(events) != 1 || events[0].EventType != outbox.TopicAvailabilityUpdated {
		t.Fatalf("unexpected events %+v", events)
	}

	got, err := svc.Availability(ctx, "tutor-1")
	if err != nil || got.Timezone != "Asia/Tokyo" || len(got.Exceptions) != 1 {
		t.Fatalf("unexpected stored profile %+v (%v)", got, err)
	}
	if slots := mondaySlots(t, svc, "tutor-1"); len(slots) != 0 {
		t.Fatalf("expected closed Monday, got %d slots", len(slots))
	}

	if _, err := svc.UpdateAvailability(ctx, booking.Actor{ID: "tutor-2", Role: "tutor"}, profile); !errors.Is(err, booking.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := svc.UpdateAvailability(ctx, booking.Actor{ID: "admin-1", Role: "admin"}, profile); err != nil {
		t.Fatalf("admin update: %v", err)
	}

	bad := weekdayProfile("tutor-1", "UTC")
	bad.Rules[0].EndMinute = 25 * 60
	if _, err := svc.UpdateAvailability(ctx, booking.Actor{ID: "tutor-1"}, bad); !errors.Is(err, availability.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	badZone := weekdayProfile("tutor-1", "Not/AZone")
	if _, err := svc.UpdateAvailability(ctx, booking.Actor{ID: "tutor-1"}, badZone); !errors.Is(err, availability.ErrConfiguration) {
		t.Fatalf("expected configuration error for zone, got %v", err)
	}
}
