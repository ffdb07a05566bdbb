// Package metrics holds the service's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorslots_http_requests_total",
			Help: "HTTP requests by route, method and status.",
		},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tutorslots_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	SlotQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorslots_slot_queries_total",
			Help: "Slot queries by outcome.",
		},
		[]string{"outcome"},
	)

	SlotsReturned = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tutorslots_slots_returned",
			Help:    "Number of slots returned per query.",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
		},
	)

	LessonsBooked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorslots_lessons_booked_total",
			Help: "Lessons booked, split by trial flag.",
		},
		[]string{"trial"},
	)

	LessonsCancelled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tutorslots_lessons_cancelled_total",
			Help: "Lessons cancelled.",
		},
	)

	BookingRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorslots_booking_rejections_total",
			Help: "Rejected booking attempts by reason.",
		},
		[]string{"reason"},
	)

	ProfileCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tutorslots_profile_cache_total",
			Help: "Profile cache lookups by result.",
		},
		[]string{"result"},
	)

	TrialAnomalies = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tutorslots_trial_anomalies_total",
			Help: "Students seen with more countable trials per tutor than the cap allows.",
		},
	)
)

func RecordLessonBooked(trial bool) {
	LessonsBooked.WithLabelValues(strconv.FormatBool(trial)).Inc()
}

func RecordBookingRejection(reason string) {
	BookingRejections.WithLabelValues(reason).Inc()
}

func RecordCache(hit bool) {
	if hit {
		ProfileCache.WithLabelValues("hit").Inc()
		return
	}
	ProfileCache.WithLabelValues("miss").Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Instrument counts requests to h under a fixed route label.
func Instrument(route string, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h.ServeHTTP(rec, r)
		HTTPRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
		HTTPRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
