package receiver

import (
	"context"
	"sync/atomic"
)

// AccessGate decides whether the receiver may open the audio input, for
// example after the user granted microphone access
type AccessGate interface {
	Granted(ctx context.Context) bool
}

// GateFunc adapts a function to AccessGate
type GateFunc func(ctx context.Context) bool

// Granted implements AccessGate
func (f GateFunc) Granted(ctx context.Context) bool { return f(ctx) }

// AllowAll grants every request
type AllowAll struct{}

// Granted implements AccessGate
func (AllowAll) Granted(context.Context) bool { return true }

// DenyAll refuses every request
type DenyAll struct{}

// Granted implements AccessGate
func (DenyAll) Granted(context.Context) bool { return false }

// ToggleGate is a gate flipped at runtime
type ToggleGate struct {
	granted atomic.Bool
}

// NewToggleGate creates a gate in the given state
func NewToggleGate(granted bool) *ToggleGate {
	g := &ToggleGate{}
	g.granted.Store(granted)
	return g
}

// Set grants or revokes access. Revoking does not stop a running receiver.
func (g *ToggleGate) Set(granted bool) { g.granted.Store(granted) }

// Granted implements AccessGate
func (g *ToggleGate) Granted(context.Context) bool { return g.granted.Load() }
