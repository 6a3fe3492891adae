// Package scheduler fires the daily task review job. It polls a JSON flag
// file written by the tracker frontend and posts to the review endpoint once
// per day at or after the configured time.
package scheduler
