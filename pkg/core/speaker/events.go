package speaker

import "time"

// Sentence is a finalized, emittable unit of transcribed speech.
// Produced by a stream's aggregator, consumed once by the fan-out.
type Sentence struct {
	Text           string
	SourceLanguage string // display name, e.g. "English"
	ParticipantID  string
	SpeakerName    string
	SessionID      string
	Confidence     float64
	EmittedAt      time.Time
}

// Interim is a live transcription preview. Broadcast as feedback but
// never stored or translated.
type Interim struct {
	Text          string
	ParticipantID string
	SpeakerName   string
	SessionID     string
}
