// Package modem turns bits into an M-FSK waveform and back. Tones are spaced
// on whole multiples of the symbol rate so every symbol holds an integer
// number of cycles and the tones stay orthogonal over one symbol period,
// which lets the demodulator use a plain Goertzel filter per tone.
//
// Frames start with a preamble sent as binary FSK on the outermost tones.
// The receiver finds frames by normalized cross-correlation against that
// preamble waveform.
package modem
