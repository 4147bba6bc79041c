// Package vision turns bird photos into structured counts.
package vision

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// ErrProvider marks failures of the model provider itself, as opposed to
// bad input or bad output.
var ErrProvider = errors.New("vision provider error")

// Analyzer analyzes a single image. Implementations return an error wrapping
// ErrUnparseable when the model answered with something unreadable and
// ErrProvider when the provider could not be reached or refused the call.
type Analyzer interface {
	Analyze(ctx context.Context, img Image) (*Result, error)
}

const prompt = `You are counting poultry in a photo.
Reply with a single JSON object and nothing else, using these keys:
  "count": integer number of birds visible,
  "breed": most likely breed, or "" if unsure,
  "confidence": your confidence in the count from 0 to 100,
  "labels": short descriptive tags such as "hens", "rooster", "chicks", "free-range",
  "age": one of "chick", "juvenile", "adult", "mixed",
  "health": one of "healthy", "concern", "unknown".`

// GeminiAnalyzer asks a Gemini model for a JSON description of the image.
type GeminiAnalyzer struct {
	client *genai.Client
	model  string
}

func NewGeminiAnalyzer(ctx context.Context, apiKey, model string) (*GeminiAnalyzer, error) {
	if apiKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiAnalyzer{client: client, model: model}, nil
}

func (a *GeminiAnalyzer) Analyze(ctx context.Context, img Image) (*Result, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(img.Data, img.MIMEType),
			genai.NewPartFromText(prompt),
		}, genai.RoleUser),
	}

	resp, err := a.client.Models.GenerateContent(ctx, a.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	return ParseResult(resp.Text())
}

// UnavailableAnalyzer fails every call. It stands in when no provider is
// configured so the server can still start and serve stored counts.
type UnavailableAnalyzer struct{}

func (UnavailableAnalyzer) Analyze(context.Context, Image) (*Result, error) {
	return nil, fmt.Errorf("%w: no analyzer configured", ErrProvider)
}

// AnalyzerFunc adapts a function to the Analyzer interface.
type AnalyzerFunc func(ctx context.Context, img Image) (*Result, error)

func (f AnalyzerFunc) Analyze(ctx context.Context, img Image) (*Result, error) {
	return f(ctx, img)
}
