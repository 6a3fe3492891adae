// Package metrics defines Prometheus metrics for taskmail, covering delivery
// attempts, transport fallbacks, the best-effort queue, the task review
// scheduler and the mail API.
package metrics
