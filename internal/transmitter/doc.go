// Package transmitter turns payloads into framed, FEC-coded, modulated PCM
// audio and hands it to an audio sink. At most one frame plays at a time
// and at most one more waits behind it; further sends are rejected rather
// than queued.
package transmitter
