package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fgerrors "github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/errors"
	"github.com/swm-sink/ai-pod-nobody-knows-sub000/pkg/flowgraph/llm"
)

func TestPricing(t *testing.T) {
	p := Pricing{PerRequest: 0.005, InputPerMillion: 3, OutputPerMillion: 15}
	assert.InDelta(t, 0.005+0.003+0.015, p.Tokens(1000, 1000), 1e-9)

	s := Pricing{PerThousandChars: 0.18}
	assert.InDelta(t, 0.36, s.Characters(2000), 1e-9)

	table := PriceTable{"default": {PerRequest: 1}, "big": {PerRequest: 2}}
	assert.Equal(t, 2.0, table.For("big").PerRequest)
	assert.Equal(t, 1.0, table.For("unknown").PerRequest)
}

func TestEstimateDuration(t *testing.T) {
	assert.Equal(t, 0.0, EstimateDuration(""))
	assert.InDelta(t, 60.0, EstimateDuration(repeatWords(150)), 1e-9)
	assert.InDelta(t, 2.0, EstimateDuration("  five\twords here\nand\r\nthere "), 1e-9)
}

func repeatWords(n int) string {
	b := make([]byte, 0, n*5)
	for i := 0; i < n; i++ {
		b = append(b, "word "...)
	}
	return string(b)
}

func TestPrepareSpeech(t *testing.T) {
	text := `Hello <break time="1.5s"/> world. <emphasis level="strong">Really</emphasis> <phoneme alphabet="ipa" ph="x">tomato</phoneme>.`

	assert.Equal(t, "Hello world. Really tomato.", StripTags(text))

	kept := PrepareSpeech(text, TagSet{Break: true})
	assert.Contains(t, kept, `<break time="1.5s"/>`)
	assert.NotContains(t, kept, "<emphasis")
	assert.NotContains(t, kept, "<phoneme")
}

func TestLLMChatter_Generate(t *testing.T) {
	t.Run("uses reported usage", func(t *testing.T) {
		client := llm.NewMockClient("answer").WithUsage(llm.TokenUsage{InputTokens: 1000, OutputTokens: 2000, TotalTokens: 3000})
		c := NewLLMChatter("chat", client, WithChatModel("m1"))

		res, err := c.Generate(context.Background(), llm.CompletionRequest{Messages: []llm.Message{llm.UserMessage("q")}})
		require.NoError(t, err)
		assert.Equal(t, "answer", res.Content)
		assert.InDelta(t, 0.003+0.030, res.CostUSD, 1e-9)
		assert.Equal(t, "m1", client.LastCall().Model)
	})

	t.Run("propagates errors", func(t *testing.T) {
		boom := errors.New("boom")
		c := NewLLMChatter("chat", llm.NewMockClient("").WithError(boom))
		_, err := c.Generate(context.Background(), llm.CompletionRequest{})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("estimate covers output allowance", func(t *testing.T) {
		c := NewLLMChatter("chat", llm.NewMockClient(""))
		small := c.EstimateCost(llm.CompletionRequest{MaxTokens: 10, Messages: []llm.Message{llm.UserMessage("hi")}})
		large := c.EstimateCost(llm.CompletionRequest{MaxTokens: 10000, Messages: []llm.Message{llm.UserMessage("hi")}})
		assert.Greater(t, large, small)
	})
}

func TestHTTPResearcher_Search(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		_, _ = w.Write([]byte(`{
			"model": "sonar",
			"choices": [{"message": {"role": "assistant", "content": "facts"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 100, "completion_tokens": 200, "total_tokens": 300},
			"search_results": [{"title": "A", "url": "https://a.test", "date": "2025-03-01"}, {"title": "B", "url": "https://b.test"}]
		}`))
	}))
	defer srv.Close()

	r := NewHTTPResearcher("research", llm.NewHTTPClient(srv.URL, "key"), WithResearchModel("sonar"))
	res, err := r.Search(context.Background(), SearchRequest{Query: "deep sea", Recency: RecencyMonth})
	require.NoError(t, err)

	assert.Equal(t, "facts", res.Content)
	assert.Equal(t, "month", gotBody["search_recency_filter"])
	require.Len(t, res.Citations, 2)
	require.NotNil(t, res.Citations[0].PublishedAt)
	assert.Equal(t, 2025, res.Citations[0].PublishedAt.Year())
	assert.Nil(t, res.Citations[1].PublishedAt)
	assert.InDelta(t, 0.005+0.0003+0.003, res.CostUSD, 1e-9)
}

func TestHTTPResearcher_CitationURLFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices": [{"message": {"content": "x"}}], "citations": ["https://one.test", "https://two.test"]}`))
	}))
	defer srv.Close()

	r := NewHTTPResearcher("research", llm.NewHTTPClient(srv.URL, ""))
	res, err := r.Search(context.Background(), SearchRequest{Query: "q"})
	require.NoError(t, err)
	require.Len(t, res.Citations, 2)
	assert.Equal(t, "https://two.test", res.Citations[1].URL)
}

func TestHTTPResearcher_StatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	r := NewHTTPResearcher("research", llm.NewHTTPClient(srv.URL, ""))
	_, err := r.Search(context.Background(), SearchRequest{Query: "q"})
	require.Error(t, err)
	assert.Equal(t, fgerrors.KindTransientIO, fgerrors.Classify(err))
}

func TestHTTPSynthesizer_Synthesize(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/text-to-speech/voice-1", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("xi-api-key"))
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		_, _ = w.Write([]byte("ID3audio"))
	}))
	defer srv.Close()

	out := filepath.Join(t.TempDir(), "nested", "ep.mp3")
	s := NewHTTPSynthesizer("tts", srv.URL, "secret", WithAuthHeader("xi-api-key"), WithSpeechModel("v2"))

	res, err := s.Synthesize(context.Background(), SynthesisRequest{
		Text:       `One two <emphasis>three</emphasis> <break time="1s"/> four.`,
		VoiceID:    "voice-1",
		Settings:   DefaultVoiceSettings,
		OutputPath: out,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "ID3audio", string(data))
	assert.Equal(t, "v2", gotBody["model_id"])
	assert.NotContains(t, gotBody["text"], "<emphasis>")
	assert.Contains(t, gotBody["text"], "<break")
	assert.Equal(t, out, res.FilePath)
	assert.InDelta(t, 4.0/150*60, res.DurationSeconds, 1e-9)
	assert.Greater(t, res.CostUSD, 0.0)
	assert.False(t, res.Synthetic)
}

func TestHTTPSynthesizer_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad voice", http.StatusBadRequest)
	}))
	defer srv.Close()

	s := NewHTTPSynthesizer("tts", srv.URL, "")
	out := filepath.Join(t.TempDir(), "ep.mp3")

	_, err := s.Synthesize(context.Background(), SynthesisRequest{Text: "x", VoiceID: "v", OutputPath: out})
	require.Error(t, err)
	assert.Equal(t, fgerrors.KindProviderRefused, fgerrors.Classify(err))
	assert.NoFileExists(t, out)

	_, err = s.Synthesize(context.Background(), SynthesisRequest{Text: "x", OutputPath: out})
	assert.Equal(t, fgerrors.KindInvalidInput, fgerrors.Classify(err))
}

func TestDryAdapters(t *testing.T) {
	ctx := context.Background()

	sr, err := DryResearcher{}.Search(ctx, SearchRequest{Query: "q"})
	require.NoError(t, err)
	assert.True(t, sr.Synthetic)
	assert.Zero(t, sr.CostUSD)

	cr, err := DryChatter{}.Generate(ctx, llm.CompletionRequest{Messages: []llm.Message{llm.UserMessage("write")}})
	require.NoError(t, err)
	assert.True(t, cr.Synthetic)
	assert.Contains(t, cr.Content, "write")

	ar, err := DrySynthesizer{}.Synthesize(ctx, SynthesisRequest{Text: "a b c", OutputPath: "/nowhere.mp3"})
	require.NoError(t, err)
	assert.True(t, ar.Synthetic)
	assert.Equal(t, 5, ar.CharacterCount)
	assert.NoFileExists(t, "/nowhere.mp3")

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = DryResearcher{}.Search(cancelled, SearchRequest{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFallbackSearch(t *testing.T) {
	res := FallbackSearch(SearchRequest{Query: "q"}, errors.New("breaker open"))
	assert.True(t, res.Synthetic)
	assert.Contains(t, res.Content, "breaker open")
	assert.Zero(t, res.CostUSD)
}
