package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/brije111/quietshare/internal/audio"
	"github.com/brije111/quietshare/internal/modem"
	"github.com/brije111/quietshare/internal/netaudio"
	"github.com/brije111/quietshare/internal/profile"
	"github.com/brije111/quietshare/internal/receiver"
	"github.com/brije111/quietshare/internal/transmitter"
)

var (
	version      = "1.0.0"
	profilesFile string
	profileName  string
	inputFile    string
	outputFile   string
	address      string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:          "modemctl",
	Short:        "Acoustic modem tool",
	Long:         `modemctl encodes payloads to modem audio, decodes recordings and talks to modems over UDP`,
	SilenceUsage: true,
}

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List modem profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listProfiles(cmd.OutOrStdout())
	},
}

var encodeCmd = &cobra.Command{
	Use:   "encode [text]",
	Short: "Encode a payload into a WAV file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return encodeFile(args)
	},
}

var decodeCmd = &cobra.Command{
	Use:   "decode <file.wav>",
	Short: "Decode every frame in a WAV recording",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decodeFile(cmd.OutOrStdout(), args[0])
	},
}

var sendCmd = &cobra.Command{
	Use:   "send [text]",
	Short: "Send a payload as modem audio over UDP",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendUDP(cmd.Context(), args)
	},
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Receive modem audio over UDP and print decoded frames",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listenUDP(cmd.Context(), cmd.OutOrStdout())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("modemctl v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&profilesFile, "profiles", "", "profile document (default is the bundled profiles)")
	rootCmd.PersistentFlags().StringVarP(&profileName, "profile", "p", "audible-fast", "modem profile")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	encodeCmd.Flags().StringVarP(&inputFile, "in", "i", "", "read the payload from a file instead of the argument")
	encodeCmd.Flags().StringVarP(&outputFile, "out", "o", "frame.wav", "WAV file to write")

	sendCmd.Flags().StringVarP(&inputFile, "in", "i", "", "read the payload from a file instead of the argument")
	sendCmd.Flags().StringVarP(&address, "addr", "a", "127.0.0.1:4444", "peer UDP address")

	listenCmd.Flags().StringVarP(&address, "addr", "a", "0.0.0.0:4444", "UDP listen address")

	rootCmd.AddCommand(profilesCmd)
	rootCmd.AddCommand(encodeCmd)
	rootCmd.AddCommand(decodeCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func loadRegistry() (*profile.Registry, error) {
	if profilesFile == "" {
		return profile.LoadDefault()
	}
	return profile.LoadFile(profilesFile)
}

func selectedProfile() (profile.Profile, error) {
	registry, err := loadRegistry()
	if err != nil {
		return profile.Profile{}, err
	}
	return registry.Resolve(profileName)
}

func readPayload(args []string) ([]byte, error) {
	if inputFile != "" {
		return os.ReadFile(inputFile)
	}
	if len(args) == 1 {
		return []byte(args[0]), nil
	}
	return io.ReadAll(os.Stdin)
}

func listProfiles(w io.Writer) error {
	registry, err := loadRegistry()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tRATE\tMODULATION\tTONES (Hz)\tFEC\tBIT/S\tMAX BYTES\tMAX AIRTIME")
	for _, name := range registry.Names() {
		p, err := registry.Resolve(name)
		if err != nil {
			return err
		}
		codec, err := modem.NewCodec(p)
		if err != nil {
			return err
		}
		tones := p.Tones()
		fmt.Fprintf(tw, "%s\t%d\t%s\t%.0f-%.0f\t%s\t%d\t%d\t%s\n",
			p.Name, p.SampleRate, p.Modulation, tones[0], tones[len(tones)-1], p.FEC,
			p.SymbolRate*p.BitsPerSymbol(), p.MaxPayloadSize,
			codec.Airtime(p.MaxPayloadSize).Round(time.Millisecond))
	}
	return tw.Flush()
}

func encodeFile(args []string) error {
	p, err := selectedProfile()
	if err != nil {
		return err
	}
	payload, err := readPayload(args)
	if err != nil {
		return err
	}

	tx, err := transmitter.New(p, audio.NullSink{}, transmitter.WithLogger(newLogger()))
	if err != nil {
		return err
	}
	defer tx.Close()

	buf, err := tx.Encode(payload)
	if err != nil {
		return err
	}

	f, err := os.Create(outputFile)
	if err != nil {
		return err
	}
	if err := audio.WriteWAV(f, buf); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	fmt.Printf("Wrote %d bytes as %s of %s audio to %s\n",
		len(payload), buf.Duration().Round(time.Millisecond), p.Name, outputFile)
	return nil
}

func decodeFile(w io.Writer, path string) error {
	p, err := selectedProfile()
	if err != nil {
		return err
	}

	buf, err := audio.ReadWAVFile(path)
	if err != nil {
		return err
	}
	if buf.SampleRate != p.SampleRate {
		return fmt.Errorf("%w: %s is %d Hz, profile %s needs %d Hz",
			audio.ErrSampleRate, path, buf.SampleRate, p.Name, p.SampleRate)
	}

	dec, err := receiver.NewDecoder(p, receiver.DecoderConfig{}, newLogger(), nil)
	if err != nil {
		return err
	}

	events := dec.Process(buf.Samples)
	events = append(events, dec.Flush()...)
	for _, ev := range events {
		printEvent(w, ev, p.SampleRate)
	}

	stats := dec.Stats()
	fmt.Fprintf(w, "%d decoded, %d invalid headers, %d checksum mismatches\n",
		stats.Decoded, stats.InvalidHeaders, stats.ChecksumMismatches)
	return nil
}

func printEvent(w io.Writer, ev receiver.Event, sampleRate int) {
	at := time.Duration(ev.Offset) * time.Second / time.Duration(sampleRate)
	if ev.Kind == receiver.KindFailed {
		fmt.Fprintf(w, "[%s] failed: %s %s\n", at.Round(time.Millisecond), ev.Reason, ev.Detail)
		return
	}
	fmt.Fprintf(w, "[%s] %q (corrected %d bits, sync %.2f)\n",
		at.Round(time.Millisecond), printable(ev.Payload), ev.Corrected, ev.Score)
}

func printable(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}

func sendUDP(ctx context.Context, args []string) error {
	p, err := selectedProfile()
	if err != nil {
		return err
	}
	payload, err := readPayload(args)
	if err != nil {
		return err
	}

	logger := newLogger()
	sink, err := netaudio.NewUDPSink(netaudio.SinkConfig{Address: address, Realtime: true}, logger)
	if err != nil {
		return err
	}
	defer sink.Close()
	sink.SetProfile(p.Name)

	tx, err := transmitter.New(p, sink, transmitter.WithLogger(logger))
	if err != nil {
		return err
	}
	defer tx.Close()

	if err := tx.Send(payload); err != nil {
		return err
	}

	// Realtime pacing means playback takes about one airtime
	airtime := tx.Airtime(len(payload))
	if err := waitSent(ctx, tx, 2*airtime+time.Second); err != nil {
		return fmt.Errorf("failed to stream frame to %s: %w", address, err)
	}

	fmt.Printf("Sent %d bytes to %s (%s)\n", len(payload), address, airtime.Round(time.Millisecond))
	return nil
}

// waitSent blocks until tx has played one frame, reported a playback error
// or timeout elapsed.
func waitSent(ctx context.Context, tx *transmitter.Transmitter, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		stats := tx.Stats()
		if stats.FramesSent > 0 {
			return nil
		}
		if stats.PlayErrors > 0 {
			return errors.New("playback failed")
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return fmt.Errorf("frame not sent: %w", ctx.Err())
		}
	}
}

func listenUDP(ctx context.Context, w io.Writer) error {
	p, err := selectedProfile()
	if err != nil {
		return err
	}

	logger := newLogger()
	input := netaudio.NewUDPInput(netaudio.InputConfig{Address: address, MaxGap: 20}, logger, nil)
	rx := receiver.New(input, receiver.AllowAll{}, logger)
	defer rx.Close()

	sub, err := rx.Start(ctx, p)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Listening on %s with profile %s\n", address, p.Name)

	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		printEvent(w, ev, p.SampleRate)
	}
}
