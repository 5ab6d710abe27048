// Package frame implements the modem frame layout: a small self-checking
// header that declares the payload length, followed by the payload and its
// CRC-32. Header and body are kept as separate blocks so a receiver can
// reject a false sync after reading only the header.
package frame
