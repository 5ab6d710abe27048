// Package server exposes the modem session over HTTP: profile listing and
// switching, sending payloads, access control for the receiver, statistics,
// Prometheus metrics and a websocket stream of reception events.
package server
