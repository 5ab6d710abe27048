package receiver

import (
	"fmt"
	"time"
)

// Kind distinguishes successful frames from failures
type Kind int

const (
	KindDecoded Kind = iota
	KindFailed
)

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case KindDecoded:
		return "decoded"
	case KindFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// MarshalText implements encoding.TextMarshaler
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (k *Kind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "decoded":
		*k = KindDecoded
	case "failed":
		*k = KindFailed
	default:
		return fmt.Errorf("unknown event kind %q", text)
	}
	return nil
}

// Reason explains a Failed event
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonInvalidHeader    Reason = "invalid_header"
	ReasonChecksumMismatch Reason = "checksum_mismatch"
	// ReasonSourceError is reported once when the audio source fails. The
	// receive loop ends after it.
	ReasonSourceError Reason = "source_error"
)

// Event is one reception outcome
type Event struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Profile   string    `json:"profile"`
	Payload   []byte    `json:"payload,omitempty"`
	Reason    Reason    `json:"reason,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Offset    int64     `json:"offset"` // sample index of the preamble start
	Corrected int       `json:"corrected_bits"`
	Score     float64   `json:"sync_score"`
	Timestamp time.Time `json:"timestamp"`
}

// String returns a short description for logs
func (e Event) String() string {
	if e.Kind == KindDecoded {
		return fmt.Sprintf("Event{Decoded, Profile=%s, Len=%d, Offset=%d}", e.Profile, len(e.Payload), e.Offset)
	}
	return fmt.Sprintf("Event{Failed, Profile=%s, Reason=%s, Offset=%d}", e.Profile, e.Reason, e.Offset)
}
