// Command audioclient streams audio to the meeting ASR service over its
// WebSocket channel and prints the transcripts it receives.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"meeting-asr-service/internal/observability/logging"
)

var (
	opts = streamOptions{
		ClientID:    "audioclient-" + time.Now().Format("150405"),
		CaptureMode: "microphone",
		Speaker:     "you",
		Chunk:       100 * time.Millisecond,
		Realtime:    true,
		Tail:        3 * time.Second,
		Timeout:     30 * time.Second,
	}
	logLevel string

	toneRate    int
	toneSilence float64
	toneLength  float64
	toneFreq    float64
	toneAmp     float64
)

var rootCmd = &cobra.Command{
	Use:   "audioclient",
	Short: "Stream audio to the meeting ASR service",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(logging.Config{Level: logLevel, Format: logFormat()})
	},
	SilenceUsage: true,
}

var streamCmd = &cobra.Command{
	Use:   "stream <file.wav>",
	Short: "Stream a 16-bit PCM WAV file as audio chunks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open audio file: %w", err)
		}
		defer f.Close()

		audio, err := readWAV(f)
		if err != nil {
			return err
		}
		log.Info().
			Str("file", args[0]).
			Int("sampleRate", audio.SampleRate).
			Int("channels", audio.Channels).
			Float64("seconds", float64(len(audio.Samples))/float64(audio.SampleRate)).
			Msg("Loaded WAV file")

		return run(cmd.Context(), opts, audio.Samples, audio.SampleRate, cmd.OutOrStdout(), logging.WithComponent("audioclient"))
	},
}

var toneCmd = &cobra.Command{
	Use:   "tone",
	Short: "Send a synthetic silence, tone, silence pattern",
	RunE: func(cmd *cobra.Command, args []string) error {
		samples := tonePattern(toneRate, toneSilence, toneLength, toneFreq, toneAmp)
		return run(cmd.Context(), opts, samples, toneRate, cmd.OutOrStdout(), logging.WithComponent("audioclient"))
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.URL, "url", "ws://localhost:8000/ws", "service WebSocket URL")
	pf.StringVar(&opts.ClientID, "client-id", opts.ClientID, "client id sent in the handshake")
	pf.StringVar(&opts.CaptureMode, "capture-mode", opts.CaptureMode, "capture mode sent with start_recording")
	pf.StringVar(&opts.Speaker, "speaker", opts.Speaker, "speaker label on every chunk")
	pf.DurationVar(&opts.Chunk, "chunk", opts.Chunk, "audio per chunk")
	pf.BoolVar(&opts.Realtime, "realtime", opts.Realtime, "pace chunks in real time")
	pf.DurationVar(&opts.Tail, "tail", opts.Tail, "wait after the last chunk before stopping")
	pf.DurationVar(&opts.Timeout, "timeout", opts.Timeout, "wait for server acknowledgements")
	pf.StringVar(&logLevel, "log-level", "info", "log level")

	tf := toneCmd.Flags()
	tf.IntVar(&toneRate, "sample-rate", 16000, "sample rate in Hz")
	tf.Float64Var(&toneSilence, "silence", 1.0, "leading and trailing silence in seconds")
	tf.Float64Var(&toneLength, "length", 2.0, "tone length in seconds")
	tf.Float64Var(&toneFreq, "freq", 440, "tone frequency in Hz")
	tf.Float64Var(&toneAmp, "amplitude", 0.5, "tone amplitude in [0, 1]")

	rootCmd.AddCommand(streamCmd, toneCmd)
}

// logFormat picks console output on a terminal and JSON when redirected.
func logFormat() string {
	if term.IsTerminal(int(os.Stdout.Fd())) {
		return "console"
	}
	return "json"
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("audioclient failed")
		os.Exit(1)
	}
}
