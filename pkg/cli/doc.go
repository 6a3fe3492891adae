// Package cli defines the process flags of the taskmail binary and their
// environment variable fallbacks.
package cli
