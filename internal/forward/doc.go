// Package forward posts reception events to an HTTP webhook with retries
// and a concurrency limit.
package forward
