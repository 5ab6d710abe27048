package receiver

import (
	"bytes"
	"math/rand"
	"testing"
	"time"

	"github.com/brije111/quietshare/internal/audio"
	"github.com/brije111/quietshare/internal/frame"
	"github.com/brije111/quietshare/internal/modem"
	"github.com/brije111/quietshare/internal/profile"
	"github.com/brije111/quietshare/internal/transmitter"
)

func registry(t *testing.T) *profile.Registry {
	t.Helper()
	reg, err := profile.LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault failed: %v", err)
	}
	return reg
}

func resolve(t *testing.T, name string) profile.Profile {
	t.Helper()
	p, err := registry(t).Resolve(name)
	if err != nil {
		t.Fatalf("Resolve(%q) failed: %v", name, err)
	}
	return p
}

func encoder(t *testing.T, p profile.Profile) *transmitter.Transmitter {
	t.Helper()
	tx, err := transmitter.New(p, audio.NullSink{})
	if err != nil {
		t.Fatalf("transmitter.New failed: %v", err)
	}
	t.Cleanup(func() { tx.Close() })
	return tx
}

func encode(t *testing.T, p profile.Profile, payload []byte) []int16 {
	t.Helper()
	buf, err := encoder(t, p).Encode(payload)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	return buf.Samples
}

func newDecoder(t *testing.T, p profile.Profile) *Decoder {
	t.Helper()
	d, err := NewDecoder(p, DecoderConfig{}, nil, nil)
	if err != nil {
		t.Fatalf("NewDecoder failed: %v", err)
	}
	return d
}

// addNoise adds white noise with the given standard deviation, as a fraction
// of full scale
func addNoise(samples []int16, sigma float64, seed int64) []int16 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := float64(s) + rng.NormFloat64()*sigma*32767
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i] = int16(v)
	}
	return out
}

func decodeAll(d *Decoder, samples []int16, chunk int) []Event {
	var events []Event
	for len(samples) > 0 {
		n := min(chunk, len(samples))
		events = append(events, d.Process(samples[:n])...)
		samples = samples[n:]
	}
	return append(events, d.Flush()...)
}

func TestDecoderRoundTripAllProfiles(t *testing.T) {
	reg := registry(t)
	rng := rand.New(rand.NewSource(7))

	for _, name := range reg.Names() {
		p, _ := reg.Resolve(name)

		full := make([]byte, p.MaxPayloadSize)
		rng.Read(full)

		payloads := map[string][]byte{
			"empty": {},
			"hi":    []byte("hi"),
			"max":   full,
		}

		for label, payload := range payloads {
			t.Run(name+"/"+label, func(t *testing.T) {
				events := decodeAll(newDecoder(t, p), encode(t, p, payload), 777)

				if len(events) != 1 {
					t.Fatalf("Expected 1 event, got %d: %v", len(events), events)
				}
				ev := events[0]
				if ev.Kind != KindDecoded {
					t.Fatalf("Expected Decoded, got %s (%s: %s)", ev.Kind, ev.Reason, ev.Detail)
				}
				if !bytes.Equal(ev.Payload, payload) {
					t.Errorf("Payload mismatch: expected %x, got %x", payload, ev.Payload)
				}
				if ev.Profile != p.Name {
					t.Errorf("Expected profile %s, got %s", p.Name, ev.Profile)
				}
				if ev.ID == "" {
					t.Error("Expected an event ID")
				}
			})
		}
	}
}

func TestDecoderScenarioHi(t *testing.T) {
	p := resolve(t, "audible-fast")
	samples := encode(t, p, []byte("hi"))
	d := newDecoder(t, p)

	codec, _ := modem.NewCodec(p)
	guard := int(transmitter.DefaultGuard.Seconds() * float64(p.SampleRate))
	frameEnd := guard + codec.FrameSamples(2)

	const chunk = 480
	fed := 0
	var events []Event
	for fed < len(samples) && len(events) == 0 {
		n := min(chunk, len(samples)-fed)
		events = d.Process(samples[fed : fed+n])
		fed += n
	}

	if len(events) != 1 || string(events[0].Payload) != "hi" {
		t.Fatalf("Expected one Decoded(hi) event, got %v", events)
	}
	if fed < frameEnd || fed-frameEnd >= chunk {
		t.Errorf("Expected event within one chunk of the frame end %d, got it after %d samples", frameEnd, fed)
	}
	latency := time.Duration(fed-frameEnd) * time.Second / time.Duration(p.SampleRate)
	if latency > d.MaxLatency() {
		t.Errorf("Expected decode latency within %v, got %v", d.MaxLatency(), latency)
	}
	if diff := events[0].Offset - int64(guard); diff < -2 || diff > 2 {
		t.Errorf("Expected preamble at %d, got %d", guard, events[0].Offset)
	}
	if d.State() != StateIdle {
		t.Errorf("Expected Idle after the frame, got %s", d.State())
	}
}

func TestDecoderIgnoresNoise(t *testing.T) {
	reg := registry(t)
	for _, name := range reg.Names() {
		t.Run(name, func(t *testing.T) {
			p, _ := reg.Resolve(name)
			d := newDecoder(t, p)

			noise := addNoise(make([]int16, p.SampleRate), 0.3, 42)
			if events := decodeAll(d, noise, 1024); len(events) != 0 {
				t.Errorf("Expected no events from noise, got %v", events)
			}
			if stats := d.Stats(); stats.Syncs != 0 {
				t.Errorf("Expected no syncs, got %d", stats.Syncs)
			}
		})
	}
}

func TestDecoderSilence(t *testing.T) {
	p := resolve(t, "audible")
	d := newDecoder(t, p)

	if events := decodeAll(d, make([]int16, p.SampleRate*2), 4096); len(events) != 0 {
		t.Errorf("Expected no events from silence, got %v", events)
	}
	if stats := d.Stats(); stats.SamplesProcessed != uint64(p.SampleRate*2) {
		t.Errorf("Expected %d samples processed, got %d", p.SampleRate*2, stats.SamplesProcessed)
	}
}

func TestDecoderNoisyChannel(t *testing.T) {
	p := resolve(t, "audible-fast")
	samples := addNoise(encode(t, p, []byte("through the noise")), 0.05, 3)

	events := decodeAll(newDecoder(t, p), samples, 1024)
	if len(events) != 1 || events[0].Kind != KindDecoded {
		t.Fatalf("Expected one Decoded event, got %v", events)
	}
	if string(events[0].Payload) != "through the noise" {
		t.Errorf("Unexpected payload %q", events[0].Payload)
	}
}

func TestDecoderConsecutiveFrames(t *testing.T) {
	p := resolve(t, "audible-fast")
	var stream []int16
	for _, msg := range []string{"one", "two", "three"} {
		stream = append(stream, encode(t, p, []byte(msg))...)
	}

	events := decodeAll(newDecoder(t, p), stream, 1000)
	if len(events) != 3 {
		t.Fatalf("Expected 3 events, got %d: %v", len(events), events)
	}
	for i, want := range []string{"one", "two", "three"} {
		if events[i].Kind != KindDecoded || string(events[i].Payload) != want {
			t.Errorf("Event %d: expected Decoded(%s), got %v", i, want, events[i])
		}
	}
	if events[0].Offset >= events[1].Offset || events[1].Offset >= events[2].Offset {
		t.Error("Expected events in arrival order")
	}
}

func TestDecoderChecksumMismatch(t *testing.T) {
	for _, name := range []string{"audible-fast", "audible", "ultrasonic"} {
		t.Run(name, func(t *testing.T) {
			p := resolve(t, name)
			f, _ := frame.Marshal([]byte("hello"), p.MaxPayloadSize)
			f.Body[1] ^= 0x5A

			samples := encoder(t, p).EncodeFrame(f).Samples
			d := newDecoder(t, p)
			events := decodeAll(d, samples, 1024)

			if len(events) != 1 {
				t.Fatalf("Expected 1 event, got %v", events)
			}
			if events[0].Kind != KindFailed || events[0].Reason != ReasonChecksumMismatch {
				t.Errorf("Expected Failed(checksum_mismatch), got %v", events[0])
			}
			if len(events[0].Payload) != 0 {
				t.Error("Expected no payload on a failed event")
			}
			if d.Stats().ChecksumMismatches != 1 {
				t.Errorf("Expected 1 checksum mismatch, got %d", d.Stats().ChecksumMismatches)
			}
		})
	}
}

func TestDecoderInvalidHeaderRecovers(t *testing.T) {
	p := resolve(t, "audible-fast")
	tx := encoder(t, p)

	bad, _ := frame.Marshal([]byte("xx"), p.MaxPayloadSize)
	bad.Header = frame.NewHeader(uint16(p.MaxPayloadSize + 1))

	stream := append([]int16{}, tx.EncodeFrame(bad).Samples...)
	stream = append(stream, encode(t, p, []byte("ok"))...)

	d := newDecoder(t, p)
	events := decodeAll(d, stream, 1024)
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d: %v", len(events), events)
	}
	if events[0].Kind != KindFailed || events[0].Reason != ReasonInvalidHeader {
		t.Errorf("Expected Failed(invalid_header), got %v", events[0])
	}
	if events[1].Kind != KindDecoded || string(events[1].Payload) != "ok" {
		t.Errorf("Expected Decoded(ok) after the bad header, got %v", events[1])
	}
	if d.Stats().InvalidHeaders != 1 {
		t.Errorf("Expected 1 invalid header, got %d", d.Stats().InvalidHeaders)
	}
}

func TestDecoderTruncatedFrame(t *testing.T) {
	p := resolve(t, "audible-fast")
	samples := encode(t, p, []byte("cut short"))

	d := newDecoder(t, p)
	events := d.Process(samples[:len(samples)*3/4])
	if len(events) != 0 {
		t.Fatalf("Expected no events before the frame completes, got %v", events)
	}
	if d.State() == StateIdle {
		t.Error("Expected the decoder to be mid-frame")
	}

	events = d.Flush()
	if len(events) != 1 || events[0].Kind != KindFailed {
		t.Fatalf("Expected one Failed event on flush, got %v", events)
	}
	if d.State() != StateIdle {
		t.Errorf("Expected Idle after flush, got %s", d.State())
	}
}

func TestDecoderThresholdOverride(t *testing.T) {
	p := resolve(t, "audible-fast")

	// A threshold no signal can reach disables sync entirely
	d, err := NewDecoder(p, DecoderConfig{Threshold: 1.01}, nil, nil)
	if err != nil {
		t.Fatalf("NewDecoder failed: %v", err)
	}
	if events := decodeAll(d, encode(t, p, []byte("hi")), 1024); len(events) != 0 {
		t.Errorf("Expected no events, got %v", events)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateIdle, "idle"},
		{StateSynced, "synced"},
		{StateHeaderRead, "header_read"},
		{StatePayloadRead, "payload_read"},
		{State(9), "unknown(9)"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("Expected %s, got %s", tt.expected, got)
		}
	}
}
