package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/voxmeet/voxmeet/pkg/core/providers"
)

// HTTPTranslator is a REST batch translation adapter.
type HTTPTranslator struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTP creates a translator against baseURL.
func NewHTTP(baseURL, apiKey string) *HTTPTranslator {
	return &HTTPTranslator{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{},
	}
}

// NewHTTPWithClient creates a translator with a custom HTTP client.
func NewHTTPWithClient(baseURL, apiKey string, client *http.Client) *HTTPTranslator {
	t := NewHTTP(baseURL, apiKey)
	t.httpClient = client
	return t
}

type translateRequest struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	Target string `json:"target"`
}

type translateResponse struct {
	TranslatedText string `json:"translatedText"`
}

type translateErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Translate converts a single text to the target language.
func (t *HTTPTranslator) Translate(ctx context.Context, text, fromLang, toLang string) (string, error) {
	body, err := json.Marshal(translateRequest{Text: text, Source: fromLang, Target: toLang})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/v1/translate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+t.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", providers.Wrap("translate", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		var errResp translateErrorResponse
		_ = json.Unmarshal(data, &errResp)
		msg := errResp.Error.Message
		if msg == "" {
			msg = strings.TrimSpace(string(data))
		}
		return "", providers.New("translate", errResp.Error.Code, resp.StatusCode, msg)
	}

	var out translateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	return out.TranslatedText, nil
}
