package booking

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/model"
	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/outbox"
)

// ProfileSource loads tutor profiles. The Redis cache implements it on top
// of a Store.
type ProfileSource interface {
	TutorProfile(ctx context.Context, tutorID string) (model.TutorProfile, error)
}

type Reader interface {
	ProfileSource
	// TutorLessons returns the tutor's non-cancelled lessons overlapping [from, to).
	TutorLessons(ctx context.Context, tutorID string, from, to time.Time) ([]model.Lesson, error)
	// StudentLessons returns the student's whole lesson history.
	StudentLessons(ctx context.Context, studentID string) ([]model.Lesson, error)
	Lesson(ctx context.Context, lessonID string) (model.Lesson, error)
}

type IdempotencyRecord struct {
	LessonID string
}

// Writer is a Reader bound to an open transaction.
type Writer interface {
	Reader
	LockTutor(ctx context.Context, tutorID string) error
	LockStudent(ctx context.Context, studentID string) error
	LessonForUpdate(ctx context.Context, lessonID string) (model.Lesson, error)
	InsertLesson(ctx context.Context, lesson model.Lesson) error
	CancelLesson(ctx context.Context, lessonID, reason string) (time.Time, error)
	SaveProfile(ctx context.Context, profile model.TutorProfile) error
	AppendEvent(ctx context.Context, evt outbox.Event) error
	// LockIdempotencyKey returns the stored record and whether it existed.
	LockIdempotencyKey(ctx context.Context, studentID, key string) (IdempotencyRecord, bool, error)
	FinalizeIdempotency(ctx context.Context, studentID, key, lessonID string) error
}

// Store commits through InTx; fn's Writer is only valid until fn returns.
type Store interface {
	Reader
	InTx(ctx context.Context, fn func(Writer) error) error
}

// ProfileInvalidator drops cached profiles after a write.
type ProfileInvalidator interface {
	Invalidate(ctx context.Context, tutorID string) error
}
