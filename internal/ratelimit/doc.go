// Package ratelimit provides a fixed-window request limiter keyed by client
// address. Counters reset at window boundaries rather than refilling
// continuously, which makes the admission boundary exact: the configured
// maximum is admitted and the next request in the same window is rejected.
package ratelimit
