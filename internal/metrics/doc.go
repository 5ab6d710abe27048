// Package metrics defines the Prometheus collectors exported by the modem
// service.
package metrics
