// Package metrics records submission outcomes and delivery latency.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome is the final result of one submission.
type Outcome string

const (
	OutcomeSent         Outcome = "sent"
	OutcomeHoneypot     Outcome = "honeypot"
	OutcomeInvalid      Outcome = "invalid"
	OutcomeUnauthorized Outcome = "unauthorized"
	OutcomeTooLarge     Outcome = "too_large"
	OutcomeFailed       Outcome = "failed"
)

// Outcomes lists every outcome in reporting order.
var Outcomes = []Outcome{
	OutcomeSent, OutcomeHoneypot, OutcomeInvalid,
	OutcomeUnauthorized, OutcomeTooLarge, OutcomeFailed,
}

// Recorder holds the collectors. A nil *Recorder records nothing.
type Recorder struct {
	submissions *prometheus.CounterVec
	delivery    *prometheus.HistogramVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		submissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "contact_submissions_total",
				Help: "Form submissions by form and outcome: sent, honeypot, invalid, unauthorized, too_large, failed.",
			},
			[]string{"form", "outcome"},
		),
		delivery: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "contact_delivery_duration_seconds",
				Help:    "Time spent handing a message to the transport.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 20, 30},
			},
			[]string{"transport"},
		),
	}
}

// Submission counts one finished submission.
func (r *Recorder) Submission(form string, outcome Outcome) {
	if r == nil {
		return
	}
	r.submissions.WithLabelValues(form, string(outcome)).Inc()
}

// Delivery observes how long a transport call took.
func (r *Recorder) Delivery(transport string, d time.Duration) {
	if r == nil {
		return
	}
	r.delivery.WithLabelValues(transport).Observe(d.Seconds())
}

// Init creates every submission series of form at zero, so a scrape sees
// the form before its first request.
func (r *Recorder) Init(form string) {
	for _, o := range Outcomes {
		r.SubmissionCounter(form, o)
	}
}

// SubmissionCounter returns the counter behind one form and outcome. It
// returns nil on a nil Recorder.
func (r *Recorder) SubmissionCounter(form string, outcome Outcome) prometheus.Counter {
	if r == nil {
		return nil
	}
	return r.submissions.WithLabelValues(form, string(outcome))
}
