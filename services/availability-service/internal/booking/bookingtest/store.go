// Package bookingtest provides an in-memory booking.Store for tests.
package bookingtest

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/booking"
	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/model"
	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/outbox"
)

type state struct {
	profiles map[string]model.TutorProfile
	lessons  map[string]model.Lesson
	idem     map[string]string
	events   []outbox.Event
}

func (s *state) clone() *state {
	return &state{
		profiles: maps.Clone(s.profiles),
		lessons:  maps.Clone(s.lessons),
		idem:     maps.Clone(s.idem),
		events:   slices.Clone(s.events),
	}
}

// Store serializes transactions on one mutex and applies a transaction's
// writes only when its function returns nil.
type Store struct {
	mu  sync.Mutex
	cur *state
	now func() time.Time
}

func New() *Store {
	return &Store{
		cur: &state{
			profiles: map[string]model.TutorProfile{},
			lessons:  map[string]model.Lesson{},
			idem:     map[string]string{},
		},
		now: time.Now,
	}
}

func (s *Store) PutProfile(p model.TutorProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur.profiles[p.TutorID] = p
}

func (s *Store) PutLesson(l model.Lesson) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur.lessons[l.ID] = l
}

// Events returns every event appended by committed transactions.
func (s *Store) Events() []outbox.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.cur.events)
}

func (s *Store) Lessons() []model.Lesson {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedLessons(slices.Collect(maps.Values(s.cur.lessons)))
}

func (s *Store) TutorProfile(ctx context.Context, tutorID string) (model.TutorProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur.tutorProfile(tutorID)
}

func (s *Store) TutorLessons(ctx context.Context, tutorID string, from, to time.Time) ([]model.Lesson, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur.tutorLessons(tutorID, from, to), nil
}

func (s *Store) StudentLessons(ctx context.Context, studentID string) ([]model.Lesson, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur.studentLessons(studentID), nil
}

func (s *Store) Lesson(ctx context.Context, lessonID string) (model.Lesson, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur.lesson(lessonID)
}

func (s *Store) InTx(ctx context.Context, fn func(booking.Writer) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &txn{state: s.cur.clone(), now: s.now}
	if err := fn(tx); err != nil {
		return err
	}
	s.cur = tx.state
	return nil
}

func (st *state) tutorProfile(tutorID string) (model.TutorProfile, error) {
	p, ok := st.profiles[tutorID]
	if !ok {
		return model.TutorProfile{}, booking.ErrTutorNotFound
	}
	return p, nil
}

func (st *state) tutorLessons(tutorID string, from, to time.Time) []model.Lesson {
	var out []model.Lesson
	for _, l := range st.lessons {
		if l.TutorID != tutorID || l.Status == model.LessonCancelled {
			continue
		}
		if l.Start.Before(to) && from.Before(l.End) {
			out = append(out, l)
		}
	}
	return sortedLessons(out)
}

func (st *state) studentLessons(studentID string) []model.Lesson {
	var out []model.Lesson
	for _, l := range st.lessons {
		if l.StudentID == studentID {
			out = append(out, l)
		}
	}
	return sortedLessons(out)
}

func (st *state) lesson(lessonID string) (model.Lesson, error) {
	l, ok := st.lessons[lessonID]
	if !ok {
		return model.Lesson{}, booking.ErrLessonNotFound
	}
	return l, nil
}

func sortedLessons(in []model.Lesson) []model.Lesson {
	slices.SortFunc(in, func(a, b model.Lesson) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return in
}

type txn struct {
	*state
	now func() time.Time
}

func (t *txn) TutorProfile(ctx context.Context, tutorID string) (model.TutorProfile, error) {
	return t.tutorProfile(tutorID)
}

func (t *txn) TutorLessons(ctx context.Context, tutorID string, from, to time.Time) ([]model.Lesson, error) {
	return t.tutorLessons(tutorID, from, to), nil
}

func (t *txn) StudentLessons(ctx context.Context, studentID string) ([]model.Lesson, error) {
	return t.studentLessons(studentID), nil
}

func (t *txn) Lesson(ctx context.Context, lessonID string) (model.Lesson, error) {
	return t.lesson(lessonID)
}

func (t *txn) LockTutor(ctx context.Context, tutorID string) error {
	_, err := t.tutorProfile(tutorID)
	return err
}

func (t *txn) LockStudent(ctx context.Context, studentID string) error { return nil }

func (t *txn) LessonForUpdate(ctx context.Context, lessonID string) (model.Lesson, error) {
	return t.lesson(lessonID)
}

// InsertLesson rejects overlaps the way the lessons exclusion constraint does.
func (t *txn) InsertLesson(ctx context.Context, lesson model.Lesson) error {
	if len(t.tutorLessons(lesson.TutorID, lesson.Start, lesson.End)) > 0 {
		return booking.ErrSlotUnavailable
	}
	t.lessons[lesson.ID] = lesson
	return nil
}

func (t *txn) CancelLesson(ctx context.Context, lessonID, reason string) (time.Time, error) {
	l, err := t.lesson(lessonID)
	if err != nil {
		return time.Time{}, err
	}
	at := t.now().UTC()
	l.Status = model.LessonCancelled
	l.CancelledAt = &at
	l.CancelReason = reason
	t.lessons[lessonID] = l
	return at, nil
}

func (t *txn) SaveProfile(ctx context.Context, profile model.TutorProfile) error {
	t.profiles[profile.TutorID] = profile
	return nil
}

func (t *txn) AppendEvent(ctx context.Context, evt outbox.Event) error {
	t.events = append(t.events, evt)
	return nil
}

func (t *txn) LockIdempotencyKey(ctx context.Context, studentID, key string) (booking.IdempotencyRecord, bool, error) {
	id, ok := t.idem[studentID+"|"+key]
	return booking.IdempotencyRecord{LessonID: id}, ok, nil
}

func (t *txn) FinalizeIdempotency(ctx context.Context, studentID, key, lessonID string) error {
	t.idem[studentID+"|"+key] = lessonID
	return nil
}

var _ booking.Store = (*Store)(nil)
var _ booking.Writer = (*txn)(nil)
