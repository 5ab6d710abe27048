// Package netaudio carries modem audio over UDP using the TLV packet codec.
// UDPSink streams played buffers to a peer; UDPInput listens for such a
// stream and exposes it as an audio source, restoring packet order and
// replacing lost packets with silence.
package netaudio
