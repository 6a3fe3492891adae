// Package ratelimit provides keyed token-bucket rate limiting middleware for
// the taskmail Gin server, keyed by client IP or by authenticated identity.
package ratelimit
