// Package audio defines the PCM buffer type and the sink and source
// abstractions the modem plays into and listens on. It also carries the
// building blocks behind them: a bounded sample ring for the receiver, a
// jitter buffer that restores order for sequenced network audio, WAV
// encoding, and in-process devices (loopback, capture, WAV files) used by the
// service and its tests.
package audio
