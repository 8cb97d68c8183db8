package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PapersSubmitted counts successful paper submissions.
	PapersSubmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "papers_submitted_total",
		Help: "Total number of papers submitted.",
	})

	// AIChecksRun counts AI check invocations by kind and outcome.
	AIChecksRun = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ai_checks_total",
		Help: "Total number of AI check calls.",
	}, []string{"kind", "outcome"})

	// PaymentsCompleted counts submission fees that reached the paid state.
	PaymentsCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "payments_completed_total",
		Help: "Total number of completed submission fee payments.",
	})

	// OverduePapers tracks how many payment-pending papers are past due.
	// Set by the scheduled overdue job; observational only.
	OverduePapers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "papers_payment_overdue",
		Help: "Number of payment-pending papers whose due date has passed.",
	})
)

func init() {
	prometheus.MustRegister(PapersSubmitted, AIChecksRun, PaymentsCompleted, OverduePapers)
}

// Handler returns the scrape endpoint handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
