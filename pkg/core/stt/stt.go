// Package stt provides streaming speech-to-text.
package stt

import (
	"context"
	"time"
)

// MaxStreamAge is the provider's hard cap on a single streaming
// session. Streams must be rotated before this elapses.
const MaxStreamAge = 5 * time.Minute

// StreamConfig configures a streaming recognition session.
type StreamConfig struct {
	// SampleRateHz is the PCM sample rate of the incoming audio.
	SampleRateHz int

	// PrimaryLanguageCode is the expected locale, e.g. "en-US".
	PrimaryLanguageCode string

	// AlternativeLanguageCodes are additional candidate locales.
	AlternativeLanguageCodes []string

	// EnableAutomaticPunctuation asks the provider to punctuate finals.
	EnableAutomaticPunctuation bool

	// EnhancedModel selects the provider's higher-accuracy model.
	EnhancedModel bool

	// InterimResults enables non-final preview transcripts.
	InterimResults bool

	// SingleUtterance ends the stream after the first utterance.
	SingleUtterance bool
}

// Result is one recognition event. Interims (IsFinal=false) are
// previews subject to revision; finals are authoritative fragments.
type Result struct {
	Transcript   string
	LanguageCode string
	Confidence   float64
	IsFinal      bool
}

// Stream is one live recognition session. The provider closes the
// stream on its own after MaxStreamAge; Done is closed and Err reports
// why the stream ended (nil for a normal provider-side close).
type Stream interface {
	// SendAudio forwards a raw PCM frame to the recognizer.
	SendAudio(frame []byte) error

	// Results yields recognition events. Closed when the stream ends.
	Results() <-chan Result

	// Done is closed when the stream has fully terminated.
	Done() <-chan struct{}

	// Err returns the terminal error, if any, once Done is closed.
	Err() error

	// Close tears down the session.
	Close() error
}

// Client opens streaming recognition sessions.
type Client interface {
	NewStream(ctx context.Context, cfg StreamConfig) (Stream, error)
}
