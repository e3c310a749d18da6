package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"

	"google.golang.org/genai"

	"github.com/fablecast/fablecast-api/internal/config"
	"github.com/fablecast/fablecast-api/internal/generation"
)

// Generator implements generation.Generator against Google's Gemini API,
// streaming stage text chunk by chunk as the model produces it.
type Generator struct {
	logger      *slog.Logger
	client      *genai.Client
	model       string
	temperature float32
}

// NewGenerator creates a Generator from LLM configuration. It validates
// the configuration and establishes the API client.
func NewGenerator(ctx context.Context, logger *slog.Logger, cfg config.LLMConfig) (*Generator, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", generation.ErrInvalidConfig)
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", generation.ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v",
			generation.ErrInvalidConfig, err)
	}

	return &Generator{
		logger:      logger.With(slog.String("component", "gemini_generator")),
		client:      client,
		model:       cfg.ModelName,
		temperature: cfg.Temperature,
	}, nil
}

// GenerateStage opens a streaming generation call for one stage and
// returns it as a ChunkStream. Errors from the underlying call surface
// through Next: API failures as transient, safety blocks as permanent.
func (g *Generator) GenerateStage(ctx context.Context, req generation.StageRequest) (generation.ChunkStream, error) {
	var prompt string
	switch req.Kind {
	case generation.StageOutline:
		prompt = outlinePrompt(req.Request)
	case generation.StageEpisode:
		prompt = episodePrompt(req.Request, req.Episode, req.Outline, req.PriorTail)
	default:
		return nil, fmt.Errorf("%w: unknown stage kind %q", generation.ErrGenerationFailed, req.Kind)
	}

	g.logger.Debug("opening generation stream",
		slog.String("kind", string(req.Kind)),
		slog.Int("episode", req.Episode),
		slog.Int("prompt_length", len(prompt)))

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(g.temperature),
	}
	seq := g.client.Models.GenerateContentStream(ctx, g.model, genai.Text(prompt), cfg)
	next, stop := iter.Pull2(seq)

	return &chunkStream{next: next, stop: stop}, nil
}

// chunkStream adapts the SDK's response iterator to generation.ChunkStream.
type chunkStream struct {
	next func() (*genai.GenerateContentResponse, error, bool)
	stop func()
}

func (s *chunkStream) Next(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	resp, err, ok := s.next()
	if !ok {
		return "", io.EOF
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", generation.ErrTransientFailure, err)
	}

	if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason == genai.FinishReasonSafety {
		return "", fmt.Errorf("%w: response blocked by safety filters", generation.ErrContentBlocked)
	}

	return resp.Text(), nil
}

func (s *chunkStream) Close() error {
	s.stop()
	return nil
}
