package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"

	"meeting-asr-service/internal/models"
)

// envelope is an outbound server message as seen by the client.
type envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp float64         `json:"timestamp"`
}

// streamOptions controls how audio is paced and labelled.
type streamOptions struct {
	URL         string
	ClientID    string
	CaptureMode string
	Speaker     string
	Chunk       time.Duration
	Realtime    bool
	Tail        time.Duration
	Timeout     time.Duration
}

// session is one recording over one connection.
type session struct {
	conn    *websocket.Conn
	out     io.Writer
	log     zerolog.Logger
	started chan models.RecordingStartedEvent
	stopped chan models.RecordingStoppedEvent
	readErr chan error
}

func dialSession(ctx context.Context, opts streamOptions, out io.Writer, log zerolog.Logger) (*session, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", opts.URL, err)
	}
	s := &session{
		conn:    conn,
		out:     out,
		log:     log,
		started: make(chan models.RecordingStartedEvent, 1),
		stopped: make(chan models.RecordingStoppedEvent, 1),
		readErr: make(chan error, 1),
	}
	go s.readLoop()
	return s, nil
}

func (s *session) Close() error {
	_ = s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return s.conn.Close()
}

func (s *session) send(msgType string, data any) error {
	msg := map[string]any{"type": msgType}
	if data != nil {
		msg["data"] = data
	}
	return s.conn.WriteJSON(msg)
}

func (s *session) readLoop() {
	for {
		var env envelope
		if err := s.conn.ReadJSON(&env); err != nil {
			s.readErr <- err
			return
		}
		switch env.Type {
		case models.TypeStatus:
			var ev models.StatusEvent
			_ = json.Unmarshal(env.Data, &ev)
			s.log.Info().Str("clientId", ev.ClientID).Bool("asrReady", ev.ASRReady).Msg(ev.Message)
		case models.TypeRecordingStarted:
			var ev models.RecordingStartedEvent
			_ = json.Unmarshal(env.Data, &ev)
			s.started <- ev
		case models.TypeTranscript:
			var ev models.TranscriptEvent
			_ = json.Unmarshal(env.Data, &ev)
			fmt.Fprintf(s.out, "[%7.2f-%7.2f] %s\n", ev.Start, ev.End, ev.LabeledText)
		case models.TypeRecordingStopped:
			var ev models.RecordingStoppedEvent
			_ = json.Unmarshal(env.Data, &ev)
			s.stopped <- ev
		case models.TypeError:
			var ev models.ErrorEvent
			_ = json.Unmarshal(env.Data, &ev)
			s.log.Warn().Str("message", ev.Message).Msg("Server rejected a message")
		}
	}
}

// run records samples as one session and prints the stopped artifact.
func run(ctx context.Context, opts streamOptions, samples []float32, rate int, out io.Writer, log zerolog.Logger) error {
	s, err := dialSession(ctx, opts, out, log)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.send(models.TypeHandshake, models.HandshakeRequest{ClientID: opts.ClientID}); err != nil {
		return err
	}
	if err := s.send(models.TypeStartRecording, models.StartRecordingRequest{CaptureMode: opts.CaptureMode}); err != nil {
		return err
	}

	var started models.RecordingStartedEvent
	select {
	case started = <-s.started:
	case err := <-s.readErr:
		return fmt.Errorf("waiting for recording_started: %w", err)
	case <-time.After(opts.Timeout):
		return errors.New("timed out waiting for recording_started")
	case <-ctx.Done():
		return ctx.Err()
	}
	log.Info().Str("sessionId", started.SessionID).Bool("asrEnabled", started.ASREnabled).Msg("Recording started")

	if err := s.stream(ctx, opts, samples, rate); err != nil {
		return err
	}

	// Leave time for queued utterances before stopping.
	select {
	case <-time.After(opts.Tail):
	case <-ctx.Done():
	}

	if err := s.send(models.TypeStopRecording, nil); err != nil {
		return err
	}
	select {
	case ev := <-s.stopped:
		printArtifact(out, ev)
		return nil
	case err := <-s.readErr:
		return fmt.Errorf("waiting for recording_stopped: %w", err)
	case <-time.After(opts.Timeout):
		return errors.New("timed out waiting for recording_stopped")
	}
}

func (s *session) stream(ctx context.Context, opts streamOptions, samples []float32, rate int) error {
	per := int(float64(rate) * opts.Chunk.Seconds())
	if per < 1 {
		per = 1
	}
	base := float64(time.Now().UnixNano()) / 1e9
	ticker := time.NewTicker(opts.Chunk)
	defer ticker.Stop()

	chunks := 0
	for off := 0; off < len(samples); off += per {
		end := min(off+per, len(samples))
		req := models.AudioChunkRequest{
			Audio:      samples[off:end],
			Speaker:    opts.Speaker,
			SampleRate: rate,
		}
		ts := base + float64(off)/float64(rate)
		req.Timestamp = &ts
		if err := s.send(models.TypeAudioChunk, req); err != nil {
			return fmt.Errorf("send chunk %d: %w", chunks, err)
		}
		chunks++
		if chunks%10 == 0 {
			s.log.Debug().Int("chunks", chunks).Float64("offsetSec", float64(end)/float64(rate)).Msg("Streaming")
		}

		if opts.Realtime {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	s.log.Info().Int("chunks", chunks).Float64("seconds", float64(len(samples))/float64(rate)).Msg("Finished streaming")
	return nil
}

// printArtifact renders the session log as a table followed by the summary.
func printArtifact(out io.Writer, ev models.RecordingStoppedEvent) {
	fmt.Fprintln(out)
	if ts := ev.CompleteTranscripts.Transcripts; len(ts) > 0 {
		table := tablewriter.NewWriter(out)
		table.SetHeader([]string{"#", "Speaker", "Start", "End", "Text"})
		table.SetBorder(false)
		table.SetAutoWrapText(false)
		for i, t := range ts {
			table.Append([]string{
				strconv.Itoa(i + 1),
				t.Speaker,
				fmt.Sprintf("%.2f", t.Start),
				fmt.Sprintf("%.2f", t.End),
				t.Text,
			})
		}
		table.Render()
	}

	q := ev.QualityMetrics
	fmt.Fprintf(out, "\nsession %s: %d transcripts, %d valid, %d words, %d chars, quality %s\n",
		ev.SessionID, ev.CompleteTranscripts.TotalCount, q.ValidSegmentCount,
		q.WordCount, q.CharacterCount, q.Quality)
	if ev.Analysis.CombinedTranscript != "" {
		fmt.Fprintln(out)
		fmt.Fprint(out, ev.Analysis.CombinedTranscript)
	}
}
