package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIConfig configures the Whisper-compatible transcription client.
type OpenAIConfig struct {
	APIKey   string
	BaseURL  string
	Model    string
	Language string
	Timeout  time.Duration
}

// OpenAI transcribes blocks with the OpenAI audio transcription endpoint.
type OpenAI struct {
	client   openai.Client
	model    string
	language string
}

// NewOpenAI creates a transcriber. Model defaults to whisper-1.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("transcribe: openai api key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}
	model := cfg.Model
	if model == "" {
		model = string(openai.AudioModelWhisper1)
	}
	return &OpenAI{
		client:   openai.NewClient(opts...),
		model:    model,
		language: cfg.Language,
	}, nil
}

func (o *OpenAI) Transcribe(ctx context.Context, b Block) (string, error) {
	if len(b.Samples) == 0 {
		return "", nil
	}
	wav := EncodeWAV(b.Samples, b.SampleRate)
	name := fmt.Sprintf("%s-%d.wav", b.StreamID, b.Seq)

	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(wav), name, "audio/wav"),
		Model: openai.AudioModel(o.model),
	}
	if o.language != "" {
		params.Language = openai.String(o.language)
	}
	res, err := o.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("transcribe %s: %w", name, err)
	}
	return strings.TrimSpace(res.Text), nil
}
