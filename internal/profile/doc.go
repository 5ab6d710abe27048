// Package profile loads and validates the named modem profiles that drive
// framing, forward error correction and modulation. A Registry is built once
// from a YAML document, keeps the declaration order of its profiles, and is
// read-only afterwards.
package profile
