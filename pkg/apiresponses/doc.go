// Package apiresponses provides the JSON error and success helpers used by
// the taskmail HTTP handlers and middlewares.
package apiresponses
