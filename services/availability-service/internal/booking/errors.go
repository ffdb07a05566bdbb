package booking

import "errors"

var (
	ErrInvalidRequest  = errors.New("invalid request")
	ErrTutorNotFound   = errors.New("tutor not found")
	ErrLessonNotFound  = errors.New("lesson not found")
	ErrSlotUnavailable = errors.New("requested slot is not available")
	ErrTrialIneligible = errors.New("student is not eligible for a trial with this tutor")
	ErrNotCancellable  = errors.New("lesson cannot be cancelled")
	ErrForbidden       = errors.New("forbidden")
)
