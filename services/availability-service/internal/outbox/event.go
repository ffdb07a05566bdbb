package outbox

const (
	TopicLessonBooked        = "tutor.lesson.booked.v1"
	TopicLessonCancelled     = "tutor.lesson.cancelled.v1"
	TopicAvailabilityUpdated = "tutor.availability.updated.v1"
)

// Event is written to the outbox table in the same transaction as the state
// change it describes. EventType doubles as the Kafka topic.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

type LessonBooked struct {
	LessonID  string `json:"lesson_id"`
	TutorID   string `json:"tutor_id"`
	StudentID string `json:"student_id"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	IsTrial   bool   `json:"is_trial"`
}

type LessonCancelled struct {
	LessonID    string `json:"lesson_id"`
	TutorID     string `json:"tutor_id"`
	StudentID   string `json:"student_id"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	CancelledAt string `json:"cancelled_at"`
	Reason      string `json:"reason,omitempty"`
}

type AvailabilityUpdated struct {
	TutorID   string `json:"tutor_id"`
	UpdatedAt string `json:"updated_at"`
}
