package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/tutorslots/libs/db"
	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/availability"
	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/booking"
	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/model"
	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/outbox"
	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/timegrid"
)

// Repository is the Postgres-backed booking.Store.
type Repository struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

func NewRepository(pool *db.Pool, outboxRepo *outbox.Repository) *Repository {
	return &Repository{pool: pool, outbox: outboxRepo}
}

func (r *Repository) TutorProfile(ctx context.Context, tutorID string) (model.TutorProfile, error) {
	return queries{q: r.pool}.tutorProfile(ctx, tutorID)
}

func (r *Repository) TutorLessons(ctx context.Context, tutorID string, from, to time.Time) ([]model.Lesson, error) {
	return queries{q: r.pool}.tutorLessons(ctx, tutorID, from, to)
}

func (r *Repository) StudentLessons(ctx context.Context, studentID string) ([]model.Lesson, error) {
	return queries{q: r.pool}.studentLessons(ctx, studentID)
}

func (r *Repository) Lesson(ctx context.Context, lessonID string) (model.Lesson, error) {
	return queries{q: r.pool}.lesson(ctx, lessonID, false)
}

func (r *Repository) InTx(ctx context.Context, fn func(booking.Writer) error) error {
	return r.pool.InTx(ctx, func(tx pgx.Tx) error {
		return fn(&txWriter{queries: queries{q: tx}, outbox: r.outbox})
	})
}

func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// queries holds the reads shared by the pool and open transactions.
type queries struct {
	q db.Querier
}

func (qs queries) tutorProfile(ctx context.Context, tutorID string) (model.TutorProfile, error) {
	p := model.TutorProfile{TutorID: tutorID}
	err := qs.q.QueryRow(ctx, `
		SELECT timezone, slot_interval_minutes, updated_at
		FROM tutors
		WHERE id = $1
	`, tutorID).Scan(&p.Timezone, &p.SlotIntervalMinutes, &p.UpdatedAt)
	if err != nil {
		if IsNotFound(err) {
			return model.TutorProfile{}, booking.ErrTutorNotFound
		}
		return model.TutorProfile{}, err
	}

	rows, err := qs.q.Query(ctx, `
		SELECT weekdays, start_minute, end_minute
		FROM tutor_weekly_rules
		WHERE tutor_id = $1
		ORDER BY position
	`, tutorID)
	if err != nil {
		return model.TutorProfile{}, err
	}
	for rows.Next() {
		var rule availability.WeeklyRule
		var days []int16
		if err := rows.Scan(&days, &rule.StartMinute, &rule.EndMinute); err != nil {
			rows.Close()
			return model.TutorProfile{}, err
		}
		for _, d := range days {
			rule.Weekdays = append(rule.Weekdays, time.Weekday(d))
		}
		p.Rules = append(p.Rules, rule)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return model.TutorProfile{}, err
	}

	rows, err = qs.q.Query(ctx, `
		SELECT on_date, is_open, ranges
		FROM tutor_date_exceptions
		WHERE tutor_id = $1
		ORDER BY on_date, position
	`, tutorID)
	if err != nil {
		return model.TutorProfile{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var day time.Time
		var ex availability.DateException
		var ranges []byte
		if err := rows.Scan(&day, &ex.Open, &ranges); err != nil {
			return model.TutorProfile{}, err
		}
		ex.Date = timegrid.DateOf(day, time.UTC)
		if len(ranges) > 0 {
			if err := json.Unmarshal(ranges, &ex.Ranges); err != nil {
				return model.TutorProfile{}, err
			}
		}
		p.Exceptions = append(p.Exceptions, ex)
	}
	return p, rows.Err()
}

const lessonColumns = `
	id::text, tutor_id, student_id, start_time, end_time, is_trial, status,
	cancelled_at, COALESCE(cancellation_reason, ''), created_at`

func scanLesson(row pgx.Row) (model.Lesson, error) {
	var l model.Lesson
	err := row.Scan(&l.ID, &l.TutorID, &l.StudentID, &l.Start, &l.End, &l.IsTrial, &l.Status,
		&l.CancelledAt, &l.CancelReason, &l.CreatedAt)
	return l, err
}

func collectLessons(rows pgx.Rows) ([]model.Lesson, error) {
	defer rows.Close()
	var lessons []model.Lesson
	for rows.Next() {
		l, err := scanLesson(rows)
		if err != nil {
			return nil, err
		}
		lessons = append(lessons, l)
	}
	return lessons, rows.Err()
}

func (qs queries) tutorLessons(ctx context.Context, tutorID string, from, to time.Time) ([]model.Lesson, error) {
	rows, err := qs.q.Query(ctx, `
		SELECT `+lessonColumns+`
		FROM lessons
		WHERE tutor_id = $1
			AND status <> 'cancelled'
			AND start_time < $3
			AND end_time > $2
		ORDER BY start_time ASC
	`, tutorID, from, to)
	if err != nil {
		return nil, err
	}
	return collectLessons(rows)
}

func (qs queries) studentLessons(ctx context.Context, studentID string) ([]model.Lesson, error) {
	rows, err := qs.q.Query(ctx, `
		SELECT `+lessonColumns+`
		FROM lessons
		WHERE student_id = $1
		ORDER BY start_time ASC
	`, studentID)
	if err != nil {
		return nil, err
	}
	return collectLessons(rows)
}

func (qs queries) lesson(ctx context.Context, lessonID string, forUpdate bool) (model.Lesson, error) {
	sql := `SELECT ` + lessonColumns + ` FROM lessons WHERE id::text = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	l, err := scanLesson(qs.q.QueryRow(ctx, sql, lessonID))
	if IsNotFound(err) {
		return model.Lesson{}, booking.ErrLessonNotFound
	}
	return l, err
}

type txWriter struct {
	queries
	outbox *outbox.Repository
}

func (w *txWriter) TutorProfile(ctx context.Context, tutorID string) (model.TutorProfile, error) {
	return w.tutorProfile(ctx, tutorID)
}

func (w *txWriter) TutorLessons(ctx context.Context, tutorID string, from, to time.Time) ([]model.Lesson, error) {
	return w.tutorLessons(ctx, tutorID, from, to)
}

func (w *txWriter) StudentLessons(ctx context.Context, studentID string) ([]model.Lesson, error) {
	return w.studentLessons(ctx, studentID)
}

func (w *txWriter) Lesson(ctx context.Context, lessonID string) (model.Lesson, error) {
	return w.lesson(ctx, lessonID, false)
}

func (w *txWriter) LessonForUpdate(ctx context.Context, lessonID string) (model.Lesson, error) {
	return w.lesson(ctx, lessonID, true)
}

// LockTutor holds the tutor row until the transaction ends.
func (w *txWriter) LockTutor(ctx context.Context, tutorID string) error {
	var id string
	err := w.q.QueryRow(ctx, `SELECT id FROM tutors WHERE id = $1 FOR UPDATE`, tutorID).Scan(&id)
	if IsNotFound(err) {
		return booking.ErrTutorNotFound
	}
	return err
}

func (w *txWriter) LockStudent(ctx context.Context, studentID string) error {
	_, err := w.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended('student:' || $1, 0))`, studentID)
	return err
}

func (w *txWriter) InsertLesson(ctx context.Context, l model.Lesson) error {
	_, err := w.q.Exec(ctx, `
		INSERT INTO lessons (id, tutor_id, student_id, start_time, end_time, is_trial, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, l.ID, l.TutorID, l.StudentID, l.Start, l.End, l.IsTrial, l.Status, l.CreatedAt)
	if IsConflict(err) {
		return booking.ErrSlotUnavailable
	}
	return err
}

func (w *txWriter) CancelLesson(ctx context.Context, lessonID, reason string) (time.Time, error) {
	var cancelledAt time.Time
	err := w.q.QueryRow(ctx, `
		UPDATE lessons
		SET status = 'cancelled',
			cancelled_at = now(),
			cancellation_reason = NULLIF($2, '')
		WHERE id::text = $1
		RETURNING cancelled_at
	`, lessonID, reason).Scan(&cancelledAt)
	if IsNotFound(err) {
		return time.Time{}, booking.ErrLessonNotFound
	}
	return cancelledAt, err
}

// SaveProfile upserts the tutor row and replaces its rules and exceptions.
func (w *txWriter) SaveProfile(ctx context.Context, p model.TutorProfile) error {
	if _, err := w.q.Exec(ctx, `
		INSERT INTO tutors (id, timezone, slot_interval_minutes, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET timezone = EXCLUDED.timezone,
			slot_interval_minutes = EXCLUDED.slot_interval_minutes,
			updated_at = EXCLUDED.updated_at
	`, p.TutorID, p.Timezone, p.SlotIntervalMinutes, p.UpdatedAt); err != nil {
		return err
	}
	if err := w.LockTutor(ctx, p.TutorID); err != nil {
		return err
	}
	if _, err := w.q.Exec(ctx, `DELETE FROM tutor_weekly_rules WHERE tutor_id = $1`, p.TutorID); err != nil {
		return err
	}
	if _, err := w.q.Exec(ctx, `DELETE FROM tutor_date_exceptions WHERE tutor_id = $1`, p.TutorID); err != nil {
		return err
	}

	for i, rule := range p.Rules {
		days := make([]int16, 0, len(rule.Weekdays))
		for _, d := range rule.Weekdays {
			days = append(days, int16(d))
		}
		if _, err := w.q.Exec(ctx, `
			INSERT INTO tutor_weekly_rules (tutor_id, position, weekdays, start_minute, end_minute)
			VALUES ($1, $2, $3, $4, $5)
		`, p.TutorID, i, days, rule.StartMinute, rule.EndMinute); err != nil {
			return err
		}
	}
	for i, ex := range p.Exceptions {
		ranges, err := json.Marshal(ex.Ranges)
		if err != nil {
			return err
		}
		day := time.Date(ex.Date.Year, ex.Date.Month, ex.Date.Day, 0, 0, 0, 0, time.UTC)
		if _, err := w.q.Exec(ctx, `
			INSERT INTO tutor_date_exceptions (tutor_id, position, on_date, is_open, ranges)
			VALUES ($1, $2, $3, $4, $5)
		`, p.TutorID, i, day, ex.Open, ranges); err != nil {
			return err
		}
	}
	return nil
}

func (w *txWriter) AppendEvent(ctx context.Context, evt outbox.Event) error {
	_, err := w.outbox.Insert(ctx, w.q, evt)
	return err
}

func (w *txWriter) LockIdempotencyKey(ctx context.Context, studentID, key string) (booking.IdempotencyRecord, bool, error) {
	rec, err := w.selectIdempotencyForUpdate(ctx, studentID, key)
	if err == nil {
		return rec, true, nil
	}
	if !IsNotFound(err) {
		return booking.IdempotencyRecord{}, false, err
	}

	if _, err := w.q.Exec(ctx, `
		INSERT INTO lesson_idempotency_keys (student_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (student_id, idempotency_key) DO NOTHING
	`, studentID, key); err != nil {
		return booking.IdempotencyRecord{}, false, err
	}
	rec, err = w.selectIdempotencyForUpdate(ctx, studentID, key)
	if err != nil {
		return booking.IdempotencyRecord{}, false, err
	}
	// A concurrent request may have finished between the two selects.
	return rec, rec.LessonID != "", nil
}

func (w *txWriter) FinalizeIdempotency(ctx context.Context, studentID, key, lessonID string) error {
	_, err := w.q.Exec(ctx, `
		UPDATE lesson_idempotency_keys
		SET lesson_id = $3::uuid,
			updated_at = now()
		WHERE student_id = $1 AND idempotency_key = $2
	`, studentID, key, lessonID)
	return err
}

func (w *txWriter) selectIdempotencyForUpdate(ctx context.Context, studentID, key string) (booking.IdempotencyRecord, error) {
	var rec booking.IdempotencyRecord
	err := w.q.QueryRow(ctx, `
		SELECT COALESCE(lesson_id::text, '')
		FROM lesson_idempotency_keys
		WHERE student_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, studentID, key).Scan(&rec.LessonID)
	return rec, err
}

var _ booking.Store = (*Repository)(nil)
var _ booking.Writer = (*txWriter)(nil)
