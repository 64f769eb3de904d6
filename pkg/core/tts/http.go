package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/voxmeet/voxmeet/pkg/core/language"
	"github.com/voxmeet/voxmeet/pkg/core/providers"
)

// HTTPSynthesizer is a REST batch synthesis adapter returning MP3.
type HTTPSynthesizer struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTP creates a synthesizer against baseURL.
func NewHTTP(baseURL, apiKey string) *HTTPSynthesizer {
	return &HTTPSynthesizer{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{},
	}
}

// NewHTTPWithClient creates a synthesizer with a custom HTTP client.
func NewHTTPWithClient(baseURL, apiKey string, client *http.Client) *HTTPSynthesizer {
	s := NewHTTP(baseURL, apiKey)
	s.httpClient = client
	return s
}

type synthesizeRequest struct {
	Text         string `json:"text"`
	LanguageCode string `json:"language_code"`
	Voice        string `json:"voice"`
	Format       string `json:"format"`
}

type synthesizeErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Synthesize generates MP3 audio for the text. The language code is
// remapped for voice selection (Arabic uses the cross-region ar-XA
// voice set) and a default voice is chosen when none is supplied.
func (s *HTTPSynthesizer) Synthesize(ctx context.Context, text, languageCode, voiceName string) ([]byte, error) {
	voiceLocale := language.VoiceLocale(languageCode)
	if voiceName == "" {
		voiceName = language.DefaultVoice(languageCode)
	}

	body, err := json.Marshal(synthesizeRequest{
		Text:         text,
		LanguageCode: voiceLocale,
		Voice:        voiceName,
		Format:       "mp3",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/synthesize", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, providers.Wrap("tts", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		var errResp synthesizeErrorResponse
		_ = json.Unmarshal(data, &errResp)
		msg := errResp.Error.Message
		if msg == "" {
			msg = strings.TrimSpace(string(data))
		}
		return nil, providers.New("tts", errResp.Error.Code, resp.StatusCode, msg)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, providers.New("tts", "EMPTY_AUDIO", 0, "provider returned no audio")
	}
	return audio, nil
}
