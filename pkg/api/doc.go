// Package api implements the HTTP surface of taskmail (Gin-based): bearer
// token authentication, rate limiting, the mail endpoints used by the task
// tracker backend, and the operational /healthz, /metrics and /api/version
// routes.
package api
