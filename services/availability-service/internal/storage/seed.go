package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/availability"
	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/booking"
	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/model"
)

var weekdays = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}

// DemoProfiles are the tutors written by Seed.
func DemoProfiles(now time.Time) []model.TutorProfile {
	return []model.TutorProfile{
		{
			TutorID:             "tutor-berlin",
			Timezone:            "Europe/Berlin",
			SlotIntervalMinutes: 30,
			Rules: []availability.WeeklyRule{
				{Weekdays: weekdays, StartMinute: 9 * 60, EndMinute: 12 * 60},
				{Weekdays: weekdays, StartMinute: 14 * 60, EndMinute: 18 * 60},
			},
			UpdatedAt: now,
		},
		{
			TutorID:             "tutor-new-york",
			Timezone:            "America/New_York",
			SlotIntervalMinutes: 60,
			Rules: []availability.WeeklyRule{
				{Weekdays: []time.Weekday{time.Monday, time.Wednesday, time.Friday}, StartMinute: 8 * 60, EndMinute: 20 * 60},
				{Weekdays: []time.Weekday{time.Saturday}, StartMinute: 10 * 60, EndMinute: 14 * 60},
			},
			UpdatedAt: now,
		},
		{
			TutorID:   "tutor-tokyo",
			Timezone:  "Asia/Tokyo",
			Rules:     []availability.WeeklyRule{{Weekdays: weekdays, StartMinute: 18 * 60, EndMinute: 23 * 60}},
			UpdatedAt: now,
		},
	}
}

// Seed upserts the demo tutors. Existing profiles with the same ids are replaced.
func Seed(ctx context.Context, store booking.Store, logger *slog.Logger) error {
	profiles := DemoProfiles(time.Now().UTC())
	err := store.InTx(ctx, func(w booking.Writer) error {
		for _, p := range profiles {
			if err := w.SaveProfile(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	logger.Info("demo tutors seeded", "count", len(profiles))
	return nil
}
