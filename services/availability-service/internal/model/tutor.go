package model

import (
	"time"

	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/availability"
	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/trials"
)

// TutorProfile is everything slot resolution needs for one tutor.
type TutorProfile struct {
	TutorID             string                       `json:"tutor_id"`
	Timezone            string                       `json:"timezone"`
	SlotIntervalMinutes int                          `json:"slot_interval_minutes"`
	Rules               []availability.WeeklyRule    `json:"rules"`
	Exceptions          []availability.DateException `json:"exceptions"`
	UpdatedAt           time.Time                    `json:"updated_at"`
}

// SlotInterval falls back to def when the profile has no cadence set.
func (p TutorProfile) SlotInterval(def time.Duration) time.Duration {
	if p.SlotIntervalMinutes > 0 {
		return time.Duration(p.SlotIntervalMinutes) * time.Minute
	}
	return def
}

const (
	LessonBooked    = "booked"
	LessonCompleted = "completed"
	LessonCancelled = "cancelled"
)

type Lesson struct {
	ID           string     `json:"lesson_id"`
	TutorID      string     `json:"tutor_id"`
	StudentID    string     `json:"student_id"`
	Start        time.Time  `json:"start_time"`
	End          time.Time  `json:"end_time"`
	IsTrial      bool       `json:"is_trial"`
	Status       string     `json:"status"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	CancelReason string     `json:"cancel_reason,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func (l Lesson) Booking() availability.Booking {
	return availability.Booking{ID: l.ID, Start: l.Start, End: l.End}
}

func (l Lesson) TrialRecord() trials.Lesson {
	return trials.Lesson{
		ID:        l.ID,
		StudentID: l.StudentID,
		TutorID:   l.TutorID,
		IsTrial:   l.IsTrial,
		Status:    l.Status,
		Start:     l.Start,
	}
}
