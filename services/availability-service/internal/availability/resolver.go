package availability

import (
	"fmt"
	"slices"
	"time"

	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/timegrid"
)

// TimeRange is [StartMinute, EndMinute) measured from local midnight.
type TimeRange struct {
	StartMinute int `json:"start_minute"`
	EndMinute   int `json:"end_minute"`
}

// WeeklyRule opens the same time range on every listed weekday, in the
// tutor's home timezone.
type WeeklyRule struct {
	Weekdays    []time.Weekday `json:"weekdays"`
	StartMinute int            `json:"start_minute"`
	EndMinute   int            `json:"end_minute"`
}

// DateException replaces the weekly rules for one date. Open with no ranges
// means the whole day.
type DateException struct {
	Date   timegrid.Date `json:"date"`
	Open   bool          `json:"open"`
	Ranges []TimeRange   `json:"ranges,omitempty"`
}

// Window is an inclusive range of home-zone dates.
type Window struct {
	From timegrid.Date
	To   timegrid.Date
}

// OpenInterval is a bookable stretch of absolute time resolved for Date.
type OpenInterval struct {
	Date  timegrid.Date `json:"date"`
	Start time.Time     `json:"start"`
	End   time.Time     `json:"end"`
}

func (o OpenInterval) Interval() timegrid.Interval {
	return timegrid.Interval{Start: o.Start, End: o.End}
}

// ResolveOpenIntervals expands rules and exceptions over every date in window.
// Exceptions replace the weekly rules for their date; the two are never merged.
func ResolveOpenIntervals(rules []WeeklyRule, exceptions []DateException, window Window, homeZone string) ([]OpenInterval, error) {
	if err := Validate(rules, exceptions, homeZone); err != nil {
		return nil, err
	}
	loc, _ := timegrid.LoadZone(homeZone)
	if window.From.IsZero() || window.To.IsZero() {
		return nil, configErr("window", "from and to are required")
	}
	if window.To.Before(window.From) {
		return nil, configErrf("window", "to %s is before from %s", window.To, window.From)
	}

	byDate := indexExceptions(exceptions)

	var out []OpenInterval
	for d := window.From; !d.After(window.To); d = d.AddDays(1) {
		for _, r := range rangesForDate(d, rules, byDate) {
			out = append(out, OpenInterval{
				Date:  d,
				Start: timegrid.ToAbsolute(d, r.StartMinute, loc),
				End:   timegrid.ToAbsolute(d, r.EndMinute, loc),
			})
		}
	}

	// A range that sits entirely inside a skipped DST hour collapses to nothing.
	out = slices.DeleteFunc(out, func(o OpenInterval) bool { return !o.End.After(o.Start) })
	slices.SortStableFunc(out, func(a, b OpenInterval) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		return a.End.Compare(b.End)
	})
	return out, nil
}

// Validate checks a tutor's rule set without resolving any dates.
func Validate(rules []WeeklyRule, exceptions []DateException, homeZone string) error {
	if _, err := timegrid.LoadZone(homeZone); err != nil {
		return &ConfigError{Field: "home_zone", Reason: "cannot load zone", Err: err}
	}
	if err := ValidateRules(rules); err != nil {
		return err
	}
	return ValidateExceptions(exceptions)
}

type dateOverride struct {
	closed bool
	ranges []TimeRange
}

func indexExceptions(exceptions []DateException) map[timegrid.Date]*dateOverride {
	byDate := make(map[timegrid.Date]*dateOverride, len(exceptions))
	for _, ex := range exceptions {
		o := byDate[ex.Date]
		if o == nil {
			o = &dateOverride{}
			byDate[ex.Date] = o
		}
		if !ex.Open {
			o.closed = true
			continue
		}
		if len(ex.Ranges) == 0 {
			o.ranges = append(o.ranges, TimeRange{StartMinute: 0, EndMinute: timegrid.MinutesPerDay})
			continue
		}
		o.ranges = append(o.ranges, ex.Ranges...)
	}
	return byDate
}

func rangesForDate(d timegrid.Date, rules []WeeklyRule, byDate map[timegrid.Date]*dateOverride) []TimeRange {
	if o, ok := byDate[d]; ok {
		if o.closed {
			return nil
		}
		return o.ranges
	}
	var out []TimeRange
	weekday := d.Weekday()
	for _, r := range rules {
		if slices.Contains(r.Weekdays, weekday) {
			out = append(out, TimeRange{StartMinute: r.StartMinute, EndMinute: r.EndMinute})
		}
	}
	return out
}

// ValidateRules rejects weekday values outside 0..6 and bad time ranges.
func ValidateRules(rules []WeeklyRule) error {
	for i, r := range rules {
		field := fmt.Sprintf("rules[%d]", i)
		if len(r.Weekdays) == 0 {
			return configErr(field, "at least one weekday is required")
		}
		for _, wd := range r.Weekdays {
			if wd < time.Sunday || wd > time.Saturday {
				return configErrf(field, "weekday %d outside 0..6", wd)
			}
		}
		if err := validateRange(field, r.StartMinute, r.EndMinute); err != nil {
			return err
		}
	}
	return nil
}

// ValidateExceptions rejects undated exceptions and bad time ranges.
func ValidateExceptions(exceptions []DateException) error {
	for i, ex := range exceptions {
		field := fmt.Sprintf("exceptions[%d]", i)
		if ex.Date.IsZero() {
			return configErr(field, "date is required")
		}
		if !ex.Open {
			continue
		}
		for j, r := range ex.Ranges {
			if err := validateRange(fmt.Sprintf("%s.ranges[%d]", field, j), r.StartMinute, r.EndMinute); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateRange(field string, start, end int) error {
	switch {
	case start < 0 || start >= timegrid.MinutesPerDay:
		return configErrf(field, "start minute %d outside the day", start)
	case end > timegrid.MinutesPerDay:
		return configErrf(field, "end minute %d crosses midnight", end)
	case end < start:
		return configErrf(field, "range %d-%d crosses midnight", start, end)
	case end == start:
		return configErrf(field, "start minute %d must be before end minute %d", start, end)
	}
	return nil
}
