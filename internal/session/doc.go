// Package session ties one transmitter and one receiver to a profile and
// manages their lifecycle.
//
// A Session is constructed by the caller and destroyed with Close. Switching
// profiles stops the receiver, releasing the audio input, before the
// replacement starts. Reception events are kept as the latest status and
// fanned out to listeners, each with its own bounded channel.
package session
