package availability

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/md-rashed-zaman/tutorslots/services/availability-service/internal/timegrid"
)

func mondayIntervals(t *testing.T) []OpenInterval {
	t.Helper()
	rules := []WeeklyRule{{Weekdays: weekdays, StartMinute: 10 * 60, EndMinute: 16 * 60}}
	monday := date(t, "2026-01-12")
	intervals, err := ResolveOpenIntervals(rules, nil, Window{From: monday, To: monday}, "UTC")
	if err != nil {
		t.Fatalf("ResolveOpenIntervals: %v", err)
	}
	return intervals
}

func hourMinute(ts time.Time) string {
	return ts.UTC().Format("15:04")
}

func TestGenerate_WeekdayScenario(t *testing.T) {
	g := NewGenerator(nil)
	slots, err := g.Generate(mondayIntervals(t), nil, SlotRequest{
		Duration:    60 * time.Minute,
		Step:        30 * time.Minute,
		DisplayZone: "UTC",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(slots) != 11 {
		t.Fatalf("expected 11 slots, got %d", len(slots))
	}
	if hourMinute(slots[0]) != "10:00" || hourMinute(slots[len(slots)-1]) != "15:00" {
		t.Fatalf("expected 10:00..15:00, got %s..%s", hourMinute(slots[0]), hourMinute(slots[len(slots)-1]))
	}
	for i := 1; i < len(slots); i++ {
		if !slots[i].After(slots[i-1]) {
			t.Fatalf("slots out of order at %d", i)
		}
	}
}

func TestGenerate_BookingConflicts(t *testing.T) {
	intervals := mondayIntervals(t)
	booking := Booking{
		ID:    "lesson-1",
		Start: time.Date(2026, 1, 12, 12, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 1, 12, 13, 0, 0, 0, time.UTC),
	}
	req := SlotRequest{Duration: 60 * time.Minute, Step: 30 * time.Minute, DisplayZone: "UTC"}

	slots, err := NewGenerator(nil).Generate(intervals, []Booking{booking}, req)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	got := map[string]bool{}
	for _, s := range slots {
		got[hourMinute(s)] = true
		slot := timegrid.Interval{Start: s, End: s.Add(req.Duration)}
		if timegrid.Overlaps(slot, timegrid.Interval{Start: booking.Start, End: booking.End}) {
			t.Fatalf("slot %s overlaps the booking", hourMinute(s))
		}
	}
	for _, removed := range []string{"11:30", "12:00", "12:30"} {
		if got[removed] {
			t.Fatalf("expected %s to be removed", removed)
		}
	}
	if !got["13:00"] || !got["11:00"] {
		t.Fatal("expected boundary slots 11:00 and 13:00 to remain")
	}
	if len(slots) != 8 {
		t.Fatalf("expected 8 slots, got %d", len(slots))
	}
}

func TestGenerate_SlotsFitContainingInterval(t *testing.T) {
	monday := date(t, "2026-01-12")
	intervals, err := ResolveOpenIntervals(nil, []DateException{{
		Date:   monday,
		Open:   true,
		Ranges: []TimeRange{{StartMinute: 10 * 60, EndMinute: 11*60 + 15}},
	}}, Window{From: monday, To: monday}, "UTC")
	if err != nil {
		t.Fatalf("ResolveOpenIntervals: %v", err)
	}

	req := SlotRequest{Duration: time.Hour, Step: 30 * time.Minute, DisplayZone: "UTC"}
	slots, err := NewGenerator(nil).Generate(intervals, nil, req)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(slots) != 1 || hourMinute(slots[0]) != "10:00" {
		t.Fatalf("expected only 10:00, got %v", slots)
	}
	for _, s := range slots {
		if !FitsOpenInterval(s, req.Duration, intervals) {
			t.Fatalf("slot %s does not fit", s)
		}
	}
}

func TestGenerate_DurationLongerThanIntervals(t *testing.T) {
	slots, err := NewGenerator(nil).Generate(mondayIntervals(t), nil, SlotRequest{
		Duration:    7 * time.Hour,
		Step:        30 * time.Minute,
		DisplayZone: "UTC",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(slots) != 0 {
		t.Fatalf("expected no slots, got %d", len(slots))
	}
}

func TestGenerate_DedupesOverlappingExceptionRanges(t *testing.T) {
	monday := date(t, "2026-01-12")
	intervals, err := ResolveOpenIntervals(nil, []DateException{
		{Date: monday, Open: true, Ranges: []TimeRange{{StartMinute: 600, EndMinute: 720}}},
		{Date: monday, Open: true, Ranges: []TimeRange{{StartMinute: 660, EndMinute: 780}}},
	}, Window{From: monday, To: monday}, "UTC")
	if err != nil {
		t.Fatalf("ResolveOpenIntervals: %v", err)
	}

	slots, err := NewGenerator(nil).Generate(intervals, nil, SlotRequest{
		Duration:    time.Hour,
		Step:        30 * time.Minute,
		DisplayZone: "UTC",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	want := []string{"10:00", "10:30", "11:00", "11:30", "12:00"}
	if len(slots) != len(want) {
		t.Fatalf("expected %d slots, got %d (%v)", len(want), len(slots), slots)
	}
	for i, w := range want {
		if hourMinute(slots[i]) != w {
			t.Fatalf("slot %d: expected %s, got %s", i, w, hourMinute(slots[i]))
		}
	}
}

func TestGenerate_DisplayZoneIsPresentationOnly(t *testing.T) {
	intervals := mondayIntervals(t)
	req := SlotRequest{Duration: time.Hour, Step: 30 * time.Minute, DisplayZone: "UTC"}
	utc, err := NewGenerator(nil).Generate(intervals, nil, req)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	req.DisplayZone = "America/Los_Angeles"
	la, err := NewGenerator(nil).Generate(intervals, nil, req)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(la) != len(utc) {
		t.Fatalf("expected %d slots, got %d", len(utc), len(la))
	}
	for i := range la {
		if !la[i].Equal(utc[i]) {
			t.Fatalf("slot %d moved: %s vs %s", i, la[i], utc[i])
		}
		if la[i].Location().String() != "America/Los_Angeles" {
			t.Fatalf("expected display zone, got %s", la[i].Location())
		}
	}
}

func TestGenerate_AcrossSpringForward(t *testing.T) {
	// 2026-03-08 is a Sunday; New York skips 02:00-03:00.
	sunday := date(t, "2026-03-08")
	rules := []WeeklyRule{{Weekdays: []time.Weekday{time.Sunday}, StartMinute: 60, EndMinute: 4 * 60}}
	intervals, err := ResolveOpenIntervals(rules, nil, Window{From: sunday, To: sunday}, "America/New_York")
	if err != nil {
		t.Fatalf("ResolveOpenIntervals: %v", err)
	}
	if d := intervals[0].End.Sub(intervals[0].Start); d != 2*time.Hour {
		t.Fatalf("expected a 2h interval, got %s", d)
	}

	slots, err := NewGenerator(nil).Generate(intervals, nil, SlotRequest{
		Duration:    time.Hour,
		Step:        time.Hour,
		DisplayZone: "America/New_York",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(slots))
	}
	if slots[0].Hour() != 1 || slots[1].Hour() != 3 {
		t.Fatalf("expected local 01:00 and 03:00, got %s and %s", slots[0].Format("15:04"), slots[1].Format("15:04"))
	}
}

func TestGenerate_SkipsMalformedBookings(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	bookings := []Booking{
		{ID: "missing-end", Start: time.Date(2026, 1, 12, 10, 0, 0, 0, time.UTC)},
		{ID: "reversed", Start: time.Date(2026, 1, 12, 12, 0, 0, 0, time.UTC), End: time.Date(2026, 1, 12, 11, 0, 0, 0, time.UTC)},
	}
	slots, err := NewGenerator(logger).Generate(mondayIntervals(t), bookings, SlotRequest{
		Duration:    time.Hour,
		Step:        30 * time.Minute,
		DisplayZone: "UTC",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(slots) != 11 {
		t.Fatalf("expected malformed bookings to be ignored, got %d slots", len(slots))
	}
	logs := buf.String()
	if !strings.Contains(logs, "missing-end") || !strings.Contains(logs, "reversed") {
		t.Fatalf("expected warnings for both bookings, got %s", logs)
	}
}

func TestGenerate_NotBefore(t *testing.T) {
	slots, err := NewGenerator(nil).Generate(mondayIntervals(t), nil, SlotRequest{
		Duration:    time.Hour,
		Step:        30 * time.Minute,
		DisplayZone: "UTC",
		NotBefore:   time.Date(2026, 1, 12, 13, 10, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(slots) != 4 || hourMinute(slots[0]) != "13:30" {
		t.Fatalf("expected 13:30..15:00, got %v", slots)
	}
}

func TestCandidates_LazyAndRestartable(t *testing.T) {
	seq, err := NewGenerator(nil).Candidates(mondayIntervals(t), nil, SlotRequest{
		Duration:    time.Hour,
		Step:        30 * time.Minute,
		DisplayZone: "UTC",
	})
	if err != nil {
		t.Fatalf("Candidates: %v", err)
	}

	var firstTwo []time.Time
	for s := range seq {
		firstTwo = append(firstTwo, s)
		if len(firstTwo) == 2 {
			break
		}
	}
	if len(firstTwo) != 2 {
		t.Fatalf("expected early stop after 2, got %d", len(firstTwo))
	}

	count := 0
	for range seq {
		count++
	}
	if count != 11 {
		t.Fatalf("expected a full second pass of 11, got %d", count)
	}
}

func TestGenerate_ConfigurationErrors(t *testing.T) {
	intervals := mondayIntervals(t)
	cases := []struct {
		name string
		req  SlotRequest
	}{
		{name: "zero duration", req: SlotRequest{Step: time.Minute, DisplayZone: "UTC"}},
		{name: "negative step", req: SlotRequest{Duration: time.Hour, Step: -time.Minute, DisplayZone: "UTC"}},
		{name: "bad zone", req: SlotRequest{Duration: time.Hour, Step: time.Minute, DisplayZone: "Bad/Zone"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewGenerator(nil).Generate(intervals, nil, tc.req); !errors.Is(err, ErrConfiguration) {
				t.Fatalf("expected configuration error, got %v", err)
			}
		})
	}
}

func TestGenerate_EmptyRuleSet(t *testing.T) {
	slots, err := NewGenerator(nil).Generate(nil, nil, SlotRequest{Duration: time.Hour, Step: time.Hour, DisplayZone: "UTC"})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(slots) != 0 {
		t.Fatalf("expected empty result, got %d", len(slots))
	}
}
