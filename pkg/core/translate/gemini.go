package translate

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/voxmeet/voxmeet/pkg/core/providers"
)

const defaultGeminiModel = "gemini-2.0-flash"

// GeminiTranslator translates text with a Gemini model. It is the
// default translator; the REST adapter is used only when the translate
// provider is set to "http".
type GeminiTranslator struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini-backed translator.
func NewGemini(ctx context.Context, apiKey, model string) (*GeminiTranslator, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	if model == "" {
		model = defaultGeminiModel
	}
	return &GeminiTranslator{client: client, model: model}, nil
}

// Translate converts a single text to the target language.
func (g *GeminiTranslator) Translate(ctx context.Context, text, fromLang, toLang string) (string, error) {
	prompt := fmt.Sprintf(
		"Translate the following text from %s to %s. Reply with the translation only, no commentary.\n\n%s",
		fromLang, toLang, text)

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0),
	})
	if err != nil {
		return "", providers.Wrap("translate", err)
	}

	out := strings.TrimSpace(resp.Text())
	if out == "" {
		return "", providers.New("translate", "EMPTY_RESPONSE", 0, "model returned no text")
	}
	return out, nil
}
