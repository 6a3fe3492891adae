// Package mail delivers notification mail for the task tracker. A Dispatcher
// walks an ordered set of SMTP transports, retrying each with backoff and
// falling back to the next; the chosen transport sticks across calls. The
// package also renders the HTML templates and runs a best-effort background
// queue on top of the dispatcher.
package mail
