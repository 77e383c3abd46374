package scanning

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini implements the Analyzer interface using Google Gemini
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
	name   string
	images *ImageResolver
}

// DefaultGeminiModel is used when no model name is given.
const DefaultGeminiModel = "gemini-2.5-flash"

// NewGemini creates a new Gemini Analyzer instance
func NewGemini(ctx context.Context, apiKey string, modelName string, images *ImageResolver) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = DefaultGeminiModel
	}
	if images == nil {
		images = NewImageResolver(nil)
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{
		client: client,
		model:  client.GenerativeModel(modelName),
		name:   modelName,
		images: images,
	}, nil
}

// Analyze sends the bill image to Gemini and returns its raw answer
func (g *Gemini) Analyze(ctx context.Context, req AnalysisRequest) (string, error) {
	imageData, err := loadPNG(g.images, req.ImageURI)
	if err != nil {
		return "", fmt.Errorf("preparing image: %w", err)
	}

	// genai.ImageData wants the format suffix, not the MIME type
	parts := []genai.Part{
		genai.ImageData("png", imageData),
		genai.Text(systemPrompt + "\n\n" + promptFor(req)),
	}

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("%w: generating content: %w", ErrTransport, err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("%w: no response from gemini", ErrTransport)
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}

	answer := strings.TrimSpace(text.String())
	if answer == "" {
		return "", fmt.Errorf("%w: empty response from gemini", ErrTransport)
	}
	return answer, nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
