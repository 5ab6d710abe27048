// Package receiver turns a continuous stream of audio samples back into
// frames.
//
// A Decoder runs the synchronous part: it appends samples to a ring buffer,
// slides a normalized correlation of the profile preamble over them, and once
// a peak is locked walks the frame through the states
//
//	Idle -> Synced -> HeaderRead -> PayloadRead -> Idle
//
// emitting a Decoded or Failed event for every frame it commits to. A bad
// header or a failed checksum is reported as a Failed event and the decoder
// keeps listening; decode errors are never returned.
//
// A Receiver owns one Decoder and a background loop that reads from an
// audio.Input. Events are delivered through a Subscription backed by a
// bounded queue. When the subscriber falls behind, the oldest queued event is
// dropped so the newest ones are always available; Subscription.Dropped
// reports how many were lost.
//
// Stop is synchronous: when it returns the loop has exited, the audio source
// is closed and released, and no further event will be delivered.
package receiver
