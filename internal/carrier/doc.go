// Package carrier implements an energy-based carrier detector. It reports
// the input level in dBFS and whether the input currently carries enough
// energy to hold a modem signal.
package carrier
