// Package tts provides batch text-to-speech synthesis.
package tts

import "context"

// Synthesizer converts text to MP3 audio. languageCode is a locale
// ("es-ES"); voiceName may be empty, in which case the adapter picks a
// default voice for the locale with base-language and English
// fallbacks.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, languageCode, voiceName string) ([]byte, error)
}

// Func adapts a function to the Synthesizer interface.
type Func func(ctx context.Context, text, languageCode, voiceName string) ([]byte, error)

// Synthesize implements Synthesizer.
func (f Func) Synthesize(ctx context.Context, text, languageCode, voiceName string) ([]byte, error) {
	return f(ctx, text, languageCode, voiceName)
}
