// Package trials tracks how many trial lessons each student has used.
package trials

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultGlobalCap   = 3
	DefaultPerTutorCap = 1
)

var DefaultPolicy = Policy{GlobalCap: DefaultGlobalCap, PerTutorCap: DefaultPerTutorCap}

// Lesson is the slice of lesson history the ledger needs.
type Lesson struct {
	ID        string
	StudentID string
	TutorID   string
	IsTrial   bool
	Status    string
	Start     time.Time
}

// Usage is derived per query and never stored. ByTutor is clamped to the
// per-tutor cap; RawByTutor keeps the unclamped counts.
type Usage struct {
	TotalUsed      int            `json:"total_used"`
	TotalRemaining int            `json:"total_remaining"`
	ByTutor        map[string]int `json:"by_tutor"`
	RawByTutor     map[string]int `json:"-"`
}

// Anomalies lists tutors whose raw countable trials exceed the per-tutor cap.
func (u Usage) Anomalies(p Policy) []string {
	var out []string
	for tutorID, n := range u.RawByTutor {
		if n > p.PerTutorCap {
			out = append(out, tutorID)
		}
	}
	return out
}

type Policy struct {
	GlobalCap   int
	PerTutorCap int
}

func (p Policy) Validate() error {
	if p.GlobalCap < 0 {
		return fmt.Errorf("trial global cap must not be negative (got %d)", p.GlobalCap)
	}
	if p.PerTutorCap < 0 {
		return fmt.Errorf("trial per-tutor cap must not be negative (got %d)", p.PerTutorCap)
	}
	return nil
}

// IsCountable reports whether l counts against trial caps.
func IsCountable(l Lesson) bool {
	if !l.IsTrial {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(l.Status)) {
	case "cancelled", "canceled":
		return false
	}
	return true
}

func (p Policy) empty() Usage {
	return Usage{
		TotalRemaining: p.GlobalCap,
		ByTutor:        map[string]int{},
		RawByTutor:     map[string]int{},
	}
}

// ComputeUsage groups countable lessons by student.
func (p Policy) ComputeUsage(lessons []Lesson) map[string]Usage {
	raw := map[string]map[string]int{}
	for _, l := range lessons {
		if !IsCountable(l) || l.StudentID == "" {
			continue
		}
		perTutor := raw[l.StudentID]
		if perTutor == nil {
			perTutor = map[string]int{}
			raw[l.StudentID] = perTutor
		}
		perTutor[l.TutorID]++
	}

	out := make(map[string]Usage, len(raw))
	for studentID, perTutor := range raw {
		u := p.empty()
		used := 0
		for tutorID, n := range perTutor {
			u.RawByTutor[tutorID] = n
			clamped := min(n, p.PerTutorCap)
			u.ByTutor[tutorID] = clamped
			used += clamped
		}
		u.TotalUsed = min(used, p.GlobalCap)
		u.TotalRemaining = p.GlobalCap - u.TotalUsed
		out[studentID] = u
	}
	return out
}

// UsageFor returns the student's usage, or a full allowance when absent.
func (p Policy) UsageFor(usage map[string]Usage, studentID string) Usage {
	if u, ok := usage[studentID]; ok {
		return u
	}
	return p.empty()
}

// CanBookTrial is advisory; callers re-check it inside the commit that
// creates the booking.
func (p Policy) CanBookTrial(usage map[string]Usage, studentID, tutorID string) bool {
	u := p.UsageFor(usage, studentID)
	return u.TotalRemaining > 0 && u.ByTutor[tutorID] < p.PerTutorCap
}

func ComputeUsage(lessons []Lesson) map[string]Usage {
	return DefaultPolicy.ComputeUsage(lessons)
}

func CanBookTrial(usage map[string]Usage, studentID, tutorID string) bool {
	return DefaultPolicy.CanBookTrial(usage, studentID, tutorID)
}
