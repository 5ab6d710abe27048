// Package protocol implements the TLV packet codec used to carry modem audio
// over UDP. Every packet starts with an 8-byte header; signaling packets
// announce the stream's profile and sample rate, audio packets carry a
// sequence number and little-endian PCM-16 samples, and end packets close a
// stream.
package protocol
