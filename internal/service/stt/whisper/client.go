// Package whisper provides a backend that drives a whisper inference worker
// over HTTP. The worker owns the model runtime and the accelerator; this
// package only speaks its API:
//
//	GET    /v1/devices/{device}/probe
//	POST   /v1/models/load
//	POST   /v1/audio/transcriptions   (multipart WAV, verbose_json)
//	DELETE /v1/models/{id}
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"meeting-asr-service/internal/models"
	"meeting-asr-service/internal/service/stt"
)

// Config contains worker connection settings.
type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// Backend implements stt.Backend against a whisper worker.
type Backend struct {
	cfg        Config
	httpClient *http.Client
}

// New creates a whisper backend.
func New(cfg Config) (*Backend, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("whisper endpoint cannot be empty")
	}
	if _, err := url.Parse(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("invalid whisper endpoint: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Backend{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

// Name implements stt.Backend.
func (b *Backend) Name() string {
	return "whisper"
}

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type loadRequest struct {
	ModelSize   string `json:"model_size"`
	Device      string `json:"device"`
	ComputeType string `json:"compute_type"`
}

type loadResponse struct {
	ModelID string `json:"model_id"`
}

type verboseSegment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	AvgLogProb float64 `json:"avg_logprob"`
}

type verboseResponse struct {
	Text                string           `json:"text"`
	Language            string           `json:"language"`
	LanguageProbability float64          `json:"language_probability"`
	Segments            []verboseSegment `json:"segments"`
}

// Probe implements stt.Backend.
func (b *Backend) Probe(ctx context.Context, device string) error {
	req, err := b.newRequest(ctx, http.MethodGet, "/v1/devices/"+url.PathEscape(device)+"/probe", nil)
	if err != nil {
		return stt.NewError(stt.KindUnknown, "probe", device, err)
	}
	return b.do(req, "probe", device, nil)
}

// Load implements stt.Backend.
func (b *Backend) Load(ctx context.Context, spec stt.LoadSpec) (stt.Model, error) {
	body, err := json.Marshal(loadRequest{ModelSize: spec.ModelSize, Device: spec.Device, ComputeType: spec.ComputeType})
	if err != nil {
		return nil, stt.NewError(stt.KindUnknown, "load", spec.Device, err)
	}
	req, err := b.newRequest(ctx, http.MethodPost, "/v1/models/load", bytes.NewReader(body))
	if err != nil {
		return nil, stt.NewError(stt.KindUnknown, "load", spec.Device, err)
	}
	req.Header.Set("Content-Type", "application/json")

	var resp loadResponse
	if err := b.do(req, "load", spec.Device, &resp); err != nil {
		return nil, err
	}
	if resp.ModelID == "" {
		return nil, stt.NewError(stt.KindUnknown, "load", spec.Device, errors.New("worker returned no model id"))
	}
	return &model{backend: b, id: resp.ModelID, spec: spec}, nil
}

func (b *Backend) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(b.cfg.Endpoint, "/")+path, body)
	if err != nil {
		return nil, err
	}
	if b.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.cfg.APIKey)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "meeting-asr-service/1.0")
	return req, nil
}

// do performs req and decodes a JSON body into out. Failures are returned as
// *stt.BackendError classified by the worker's error code or the HTTP status.
func (b *Backend) do(req *http.Request, op, device string, out any) error {
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return stt.NewError(stt.KindUnavailable, op, device, fmt.Errorf("HTTP request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return stt.NewError(stt.KindUnavailable, op, device, fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var eb errorBody
		var kind stt.Kind
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &eb) == nil && eb.Error.Code != "" {
			kind = stt.ParseKind(eb.Error.Code)
			msg = eb.Error.Message
		} else {
			kind = kindForStatus(resp.StatusCode)
		}
		return stt.NewError(kind, op, device, fmt.Errorf("HTTP error %d: %s", resp.StatusCode, msg))
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return stt.NewError(stt.KindUnknown, op, device, fmt.Errorf("failed to parse response JSON: %w", err))
	}
	return nil
}

func kindForStatus(code int) stt.Kind {
	switch {
	case code == http.StatusNotFound:
		return stt.KindModelNotFound
	case code == http.StatusTooManyRequests, code >= 500:
		return stt.KindUnavailable
	default:
		return stt.KindUnknown
	}
}

type model struct {
	backend *Backend
	id      string
	spec    stt.LoadSpec
}

// Transcribe implements stt.Model.
func (m *model) Transcribe(ctx context.Context, audio stt.Audio, opts stt.DecodeOptions) (stt.Recognition, error) {
	body, contentType, err := m.multipart(audio, opts)
	if err != nil {
		return stt.Recognition{}, stt.NewError(stt.KindUnknown, "transcribe", m.spec.Device, err)
	}
	req, err := m.backend.newRequest(ctx, http.MethodPost, "/v1/audio/transcriptions", body)
	if err != nil {
		return stt.Recognition{}, stt.NewError(stt.KindUnknown, "transcribe", m.spec.Device, err)
	}
	req.Header.Set("Content-Type", contentType)

	var resp verboseResponse
	if err := m.backend.do(req, "transcribe", m.spec.Device, &resp); err != nil {
		return stt.Recognition{}, err
	}

	rec := stt.Recognition{
		Language:            resp.Language,
		LanguageProbability: resp.LanguageProbability,
		Segments:            make([]models.TranscriptSegment, 0, len(resp.Segments)),
	}
	for _, s := range resp.Segments {
		rec.Segments = append(rec.Segments, models.TranscriptSegment{
			Text:        strings.TrimSpace(s.Text),
			StartOffset: s.Start,
			EndOffset:   s.End,
			Confidence:  s.AvgLogProb,
		})
	}
	return rec, nil
}

func (m *model) multipart(audio stt.Audio, opts stt.DecodeOptions) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fw, err := writer.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fw.Write(stt.EncodeWAV(audio.Samples, audio.SampleRate)); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := [][2]string{
		{"model_id", m.id},
		{"response_format", "verbose_json"},
		{"temperature", strconv.FormatFloat(opts.Temperature, 'f', -1, 64)},
		{"beam_size", strconv.Itoa(opts.BeamSize)},
		{"best_of", strconv.Itoa(opts.BestOf)},
		{"patience", strconv.FormatFloat(opts.Patience, 'f', -1, 64)},
		{"condition_on_previous_text", strconv.FormatBool(opts.ConditionOnPreviousText)},
		{"no_repeat_ngram_size", strconv.Itoa(opts.NoRepeatNgramSize)},
		{"word_timestamps", strconv.FormatBool(opts.WordTimestamps)},
	}
	if opts.Language != "" {
		fields = append(fields, [2]string{"language", opts.Language})
	}
	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", f[0], err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}

// Close implements stt.Model by unloading the model on the worker.
func (m *model) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := m.backend.newRequest(ctx, http.MethodDelete, "/v1/models/"+url.PathEscape(m.id), nil)
	if err != nil {
		return err
	}
	return m.backend.do(req, "unload", m.spec.Device, nil)
}
