package consumer

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/booking"
	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/outbox"
	"github.com/segmentio/kafka-go"
)

// EvictProfiles handles tutor.availability.updated.v1 by dropping the tutor's
// cached profile. Malformed payloads are logged and skipped.
func EvictProfiles(cache booking.ProfileInvalidator, logger *slog.Logger) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var evt outbox.AvailabilityUpdated
		if err := json.Unmarshal(msg.Value, &evt); err != nil {
			logger.Error("invalid availability event", "err", err)
			return nil
		}
		if evt.TutorID == "" {
			logger.Error("availability event missing tutor_id")
			return nil
		}
		if err := cache.Invalidate(ctx, evt.TutorID); err != nil {
			return err
		}
		logger.Debug("profile cache evicted", "tutor_id", evt.TutorID, "updated_at", evt.UpdatedAt)
		return nil
	}
}
