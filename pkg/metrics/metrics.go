package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Dispatcher metrics. Transport labels carry the configuration name, never credentials.
	MailAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskmail_mail_attempts_total",
		Help: "Total number of delivery attempts grouped by transport and outcome",
	}, []string{"transport", "outcome"})
	MailFallbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskmail_mail_fallbacks_total",
		Help: "Total number of switches from one transport configuration to the next",
	}, []string{"from", "to"})
	MailExhausted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "taskmail_mail_exhausted_total",
		Help: "Total number of messages that failed on every configured transport",
	})
	MailCurrentTransport = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "taskmail_mail_current_transport_index",
		Help: "Index of the transport configuration currently used for delivery",
	})

	MailSendSuccess = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskmail_mail_send_success_total",
		Help: "Total number of successful mail sends",
	}, []string{"host"})
	MailSendFailure = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskmail_mail_send_failure_total",
		Help: "Total number of failed mail send attempts",
	}, []string{"host"})

	// Queue metrics
	MailQueued = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "taskmail_mail_queued_total",
		Help: "Total number of messages accepted into the best-effort queue",
	})
	MailQueueDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "taskmail_mail_queue_dropped_total",
		Help: "Total number of messages rejected by the queue (full or shutting down)",
	})
	MailQueueFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "taskmail_mail_queue_failed_total",
		Help: "Total number of queued messages that could not be delivered",
	})

	// Task review scheduler
	ReviewTriggers = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskmail_review_triggers_total",
		Help: "Total number of task review job triggers grouped by outcome",
	}, []string{"outcome"})

	APIRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "taskmail_api_requests_total",
		Help: "Total number of mail API requests grouped by endpoint and status code",
	}, []string{"endpoint", "code"})
)

func init() {
	prometheus.MustRegister(MailAttempts)
	prometheus.MustRegister(MailFallbacks)
	prometheus.MustRegister(MailExhausted)
	prometheus.MustRegister(MailCurrentTransport)
	prometheus.MustRegister(MailSendSuccess)
	prometheus.MustRegister(MailSendFailure)
	prometheus.MustRegister(MailQueued)
	prometheus.MustRegister(MailQueueDropped)
	prometheus.MustRegister(MailQueueFailed)
	prometheus.MustRegister(ReviewTriggers)
	prometheus.MustRegister(APIRequests)
}

// MetricsHandler returns an http.Handler exposing Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
