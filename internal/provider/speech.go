package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	fgerrors "github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/errors"
)

// HTTPSynthesizer posts text to a text-to-speech endpoint of the form
// {base}/text-to-speech/{voice_id} and writes the returned audio.
type HTTPSynthesizer struct {
	name       string
	baseURL    string
	apiKey     string
	authHeader string
	model      string
	prices     PriceTable
	tags       TagSet
	client     *http.Client
	timeout    time.Duration
}

// SpeechOption configures an HTTPSynthesizer.
type SpeechOption func(*HTTPSynthesizer)

// WithSpeechModel sets the default model id.
func WithSpeechModel(model string) SpeechOption {
	return func(s *HTTPSynthesizer) {
		s.model = model
	}
}

// WithSpeechPrices replaces the price table.
func WithSpeechPrices(t PriceTable) SpeechOption {
	return func(s *HTTPSynthesizer) {
		s.prices = t
	}
}

// WithAuthHeader sends the key in the named header instead of a bearer
// Authorization header.
func WithAuthHeader(header string) SpeechOption {
	return func(s *HTTPSynthesizer) {
		s.authHeader = header
	}
}

// WithSupportedTags sets which speech tags are passed through.
func WithSupportedTags(tags TagSet) SpeechOption {
	return func(s *HTTPSynthesizer) {
		s.tags = tags
	}
}

// WithSpeechHTTPClient replaces the underlying http.Client.
func WithSpeechHTTPClient(hc *http.Client) SpeechOption {
	return func(s *HTTPSynthesizer) {
		s.client = hc
	}
}

// NewHTTPSynthesizer creates a speech adapter.
func NewHTTPSynthesizer(name, baseURL, apiKey string, opts ...SpeechOption) *HTTPSynthesizer {
	s := &HTTPSynthesizer{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		prices:  DefaultSpeechPrices,
		tags:    TagSet{Break: true},
		client:  http.DefaultClient,
		timeout: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name implements Synthesizer.
func (s *HTTPSynthesizer) Name() string { return s.name }

// EstimateCost implements Synthesizer.
func (s *HTTPSynthesizer) EstimateCost(req SynthesisRequest) float64 {
	text := PrepareSpeech(req.Text, s.tags)
	return s.prices.For(s.modelFor(req)).Characters(utf8.RuneCountInString(text))
}

// Synthesize implements Synthesizer.
func (s *HTTPSynthesizer) Synthesize(ctx context.Context, req SynthesisRequest) (SynthesisResult, error) {
	if req.VoiceID == "" {
		return SynthesisResult{}, &fgerrors.ValidationError{Field: "voice_id", Message: "is required"}
	}
	if req.OutputPath == "" {
		return SynthesisResult{}, &fgerrors.ValidationError{Field: "output_path", Message: "is required"}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	text := PrepareSpeech(req.Text, s.tags)
	model := s.modelFor(req)
	body, err := json.Marshal(map[string]any{
		"text":           text,
		"model_id":       model,
		"voice_settings": req.Settings,
	})
	if err != nil {
		return SynthesisResult{}, fmt.Errorf("encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/text-to-speech/%s", s.baseURL, req.VoiceID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return SynthesisResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/mpeg")
	if s.apiKey != "" {
		if s.authHeader != "" {
			httpReq.Header.Set(s.authHeader, s.apiKey)
		} else {
			httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
		}
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return SynthesisResult{}, &fgerrors.TimeoutError{Operation: "speech synthesis", Duration: timeout}
		}
		return SynthesisResult{}, fgerrors.Transient(err, "speech synthesis")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return SynthesisResult{}, &fgerrors.HTTPError{StatusCode: resp.StatusCode, Message: string(msg), Endpoint: endpoint}
	}

	if err := writeAudio(req.OutputPath, resp.Body); err != nil {
		return SynthesisResult{}, err
	}

	chars := utf8.RuneCountInString(text)
	return SynthesisResult{
		FilePath:        req.OutputPath,
		DurationSeconds: EstimateDuration(StripTags(text)),
		CharacterCount:  chars,
		CostUSD:         s.prices.For(model).Characters(chars),
	}, nil
}

// writeAudio streams body to path through a temp file so a failed download
// never leaves a truncated artifact.
func writeAudio(path string, body io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create audio dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".audio-*")
	if err != nil {
		return fmt.Errorf("create temp audio: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		return fgerrors.Transient(err, "download audio")
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp audio: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

func (s *HTTPSynthesizer) modelFor(req SynthesisRequest) string {
	if req.ModelID != "" {
		return req.ModelID
	}
	return s.model
}
