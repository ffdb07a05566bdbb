package availability

import (
	"iter"
	"log/slog"
	"slices"
	"time"

	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/timegrid"
)

// Booking is an existing reservation owned by the lesson store.
type Booking struct {
	ID    string
	Start time.Time
	End   time.Time
}

// SlotRequest carries the per-query slot settings. Step is the tutor's slot
// cadence; NotBefore, when set, drops candidates starting earlier.
type SlotRequest struct {
	Duration    time.Duration
	Step        time.Duration
	DisplayZone string
	NotBefore   time.Time
}

func (r SlotRequest) validate() (*time.Location, error) {
	if r.Duration <= 0 {
		return nil, configErrf("duration", "must be positive (got %s)", r.Duration)
	}
	if r.Step <= 0 {
		return nil, configErrf("slot_interval", "must be positive (got %s)", r.Step)
	}
	loc, err := timegrid.LoadZone(r.DisplayZone)
	if err != nil {
		return nil, &ConfigError{Field: "display_zone", Reason: "cannot load zone", Err: err}
	}
	return loc, nil
}

type Generator struct {
	logger *slog.Logger
}

func NewGenerator(logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Generator{logger: logger}
}

// Generate returns every bookable slot start, earliest first, in the display zone.
func (g *Generator) Generate(intervals []OpenInterval, bookings []Booking, req SlotRequest) ([]time.Time, error) {
	seq, err := g.Candidates(intervals, bookings, req)
	if err != nil {
		return nil, err
	}
	return slices.Collect(seq), nil
}

// Candidates validates req and returns a lazy sequence of slot starts. The
// sequence is finite and may be ranged over any number of times.
func (g *Generator) Candidates(intervals []OpenInterval, bookings []Booking, req SlotRequest) (iter.Seq[time.Time], error) {
	loc, err := req.validate()
	if err != nil {
		return nil, err
	}
	busy := g.usableBookings(bookings)

	walks := make([]timegrid.Interval, 0, len(intervals))
	for _, o := range intervals {
		if iv := o.Interval(); iv.Valid() {
			walks = append(walks, iv)
		}
	}

	return func(yield func(time.Time) bool) {
		cursors := make([]time.Time, len(walks))
		for i, w := range walks {
			cursors[i] = w.Start
		}

		var last time.Time
		emitted := false
		for {
			// Each walk ascends on its own; taking the smallest head keeps the
			// merged output ordered and puts coincident starts side by side.
			next := -1
			for i, w := range walks {
				if cursors[i].Add(req.Duration).After(w.End) {
					continue
				}
				if next == -1 || cursors[i].Before(cursors[next]) {
					next = i
				}
			}
			if next == -1 {
				return
			}

			start := cursors[next]
			cursors[next] = start.Add(req.Step)
			if emitted && start.Equal(last) {
				continue
			}
			last, emitted = start, true

			if start.Before(req.NotBefore) {
				continue
			}
			if overlapsAny(timegrid.Interval{Start: start, End: start.Add(req.Duration)}, busy) {
				continue
			}
			if !yield(start.In(loc)) {
				return
			}
		}
	}, nil
}

func (g *Generator) usableBookings(bookings []Booking) []timegrid.Interval {
	busy := make([]timegrid.Interval, 0, len(bookings))
	for _, b := range bookings {
		iv := timegrid.Interval{Start: b.Start, End: b.End}
		switch {
		case b.Start.IsZero() || b.End.IsZero():
			g.logger.Warn("skipping booking without start or end", "booking_id", b.ID)
			continue
		case !iv.Valid():
			g.logger.Warn("skipping booking that ends before it starts", "booking_id", b.ID,
				"start", b.Start.UTC().Format(time.RFC3339), "end", b.End.UTC().Format(time.RFC3339))
			continue
		}
		busy = append(busy, iv)
	}
	return busy
}

func overlapsAny(slot timegrid.Interval, busy []timegrid.Interval) bool {
	for _, b := range busy {
		if timegrid.Overlaps(slot, b) {
			return true
		}
	}
	return false
}

// FitsOpenInterval reports whether [start, start+duration) lies inside one of intervals.
func FitsOpenInterval(start time.Time, duration time.Duration, intervals []OpenInterval) bool {
	slot := timegrid.Interval{Start: start, End: start.Add(duration)}
	for _, o := range intervals {
		if timegrid.Contains(o.Interval(), slot) {
			return true
		}
	}
	return false
}
