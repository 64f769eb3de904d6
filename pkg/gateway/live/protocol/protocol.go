// Package protocol defines the JSON control messages carried on the
// duplex channel, and the dispatch-friendly decoder for the inbound
// ones. Binary frames never reach this package.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Inbound (client → server) message types.
const (
	TypeJoinSession        = "join-session"
	TypeAudioMetadata      = "audio_metadata"
	TypeAudioChunkMetadata = "audio-chunk-metadata"
	TypeSpeakerStatus      = "speaker-status"
	TypeHandRaise          = "hand-raise"
	TypeSpeakPermission    = "speak-permission"
)

// Outbound (server → client) message types.
const (
	TypeInterimTranscript = "interim-transcript"
	TypeTranslation       = "translation"
	TypeAudioSynthesized  = "audio-synthesized"
	TypeParticipantJoined = "participant-joined"
	TypeParticipantLeft   = "participant-left"
)

// ErrUnknownType marks a well-formed message with an unrecognized
// type. Callers log and ignore it; it is never fatal.
var ErrUnknownType = errors.New("protocol: unknown message type")

// JoinSession binds a connection to a room.
type JoinSession struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// AudioMetadata declares speaker identity, PCM rate, and the primary
// language for transcription. It restarts the speaker's stream when
// the configuration changed.
type AudioMetadata struct {
	Type           string `json:"type"`
	ParticipantID  string `json:"participantId"`
	SpeakerID      string `json:"speakerId,omitempty"` // legacy alias
	SampleRate     int    `json:"sampleRate"`
	TargetLanguage string `json:"targetLanguage"`
}

// Participant returns the canonical participant identifier, honoring
// the legacy speakerId alias.
func (m AudioMetadata) Participant() string {
	if m.ParticipantID != "" {
		return m.ParticipantID
	}
	return m.SpeakerID
}

// AudioChunkMetadata binds speaker identity for upcoming binary frames
// without reconfiguring the stream.
type AudioChunkMetadata struct {
	Type string                 `json:"type"`
	Data AudioChunkMetadataData `json:"data"`
}

// AudioChunkMetadataData is the payload of AudioChunkMetadata.
type AudioChunkMetadataData struct {
	ParticipantID string `json:"participantId"`
	SpeakerID     string `json:"speakerId,omitempty"` // legacy alias
	SpeakerName   string `json:"speakerName"`
	IsParticipant bool   `json:"isParticipant"`
}

// Participant returns the canonical participant identifier.
func (d AudioChunkMetadataData) Participant() string {
	if d.ParticipantID != "" {
		return d.ParticipantID
	}
	return d.SpeakerID
}

// SpeakerStatus is relayed to the room.
type SpeakerStatus struct {
	Type string            `json:"type"`
	Data SpeakerStatusData `json:"data"`
}

// SpeakerStatusData is the payload of SpeakerStatus.
type SpeakerStatusData struct {
	SessionID     string `json:"sessionId"`
	ParticipantID string `json:"participantId"`
	IsActive      bool   `json:"isActive"`
	IsMuted       bool   `json:"isMuted"`
}

// HandRaise is relayed to the room and recorded on the participant.
type HandRaise struct {
	Type string        `json:"type"`
	Data HandRaiseData `json:"data"`
}

// HandRaiseData is the payload of HandRaise.
type HandRaiseData struct {
	SessionID       string `json:"sessionId"`
	ParticipantID   string `json:"participantId"`
	ParticipantName string `json:"participantName"`
	HandRaised      bool   `json:"handRaised"`
}

// SpeakPermission is relayed to the room and recorded on the
// participant.
type SpeakPermission struct {
	Type string              `json:"type"`
	Data SpeakPermissionData `json:"data"`
}

// SpeakPermissionData is the payload of SpeakPermission.
type SpeakPermissionData struct {
	SessionID     string `json:"sessionId"`
	ParticipantID string `json:"participantId"`
	IsSpeaking    bool   `json:"isSpeaking"`
}

// DecodeClientMessage parses an inbound JSON control frame into its
// typed message. Unknown types return ErrUnknownType.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	switch strings.TrimSpace(envelope.Type) {
	case TypeJoinSession:
		var m JoinSession
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", envelope.Type, err)
		}
		return m, nil
	case TypeAudioMetadata:
		var m AudioMetadata
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", envelope.Type, err)
		}
		return m, nil
	case TypeAudioChunkMetadata:
		var m AudioChunkMetadata
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", envelope.Type, err)
		}
		return m, nil
	case TypeSpeakerStatus:
		var m SpeakerStatus
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", envelope.Type, err)
		}
		return m, nil
	case TypeHandRaise:
		var m HandRaise
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", envelope.Type, err)
		}
		return m, nil
	case TypeSpeakPermission:
		var m SpeakPermission
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", envelope.Type, err)
		}
		return m, nil
	case TypeParticipantJoined, TypeParticipantLeft:
		// Moderation surfaces relay these through the same channel.
		var m ParticipantEvent
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", envelope.Type, err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, envelope.Type)
	}
}

// InterimTranscript is live transcription feedback.
type InterimTranscript struct {
	Type string                `json:"type"`
	Data InterimTranscriptData `json:"data"`
}

// InterimTranscriptData is the payload of InterimTranscript.
type InterimTranscriptData struct {
	Text          string `json:"text"`
	ParticipantID string `json:"participantId"`
	SpeakerName   string `json:"speakerName"`
	SessionID     string `json:"sessionId"`
}

// NewInterimTranscript builds the outbound message.
func NewInterimTranscript(data InterimTranscriptData) InterimTranscript {
	return InterimTranscript{Type: TypeInterimTranscript, Data: data}
}

// Translation carries one sentence's translations to every listener.
type Translation struct {
	Type string          `json:"type"`
	Data TranslationData `json:"data"`
}

// TranslationData is the payload of Translation. Timestamp is epoch
// milliseconds. HasErrors flags languages that degraded to passthrough.
type TranslationData struct {
	SessionID        string            `json:"sessionId"`
	ParticipantID    string            `json:"participantId"`
	SpeakerName      string            `json:"speakerName"`
	OriginalText     string            `json:"originalText"`
	OriginalLanguage string            `json:"originalLanguage"`
	Translations     map[string]string `json:"translations"`
	Timestamp        int64             `json:"timestamp"`
	HasErrors        bool              `json:"hasErrors"`
	ErrorCount       int               `json:"errorCount"`
}

// NewTranslation builds the outbound message.
func NewTranslation(data TranslationData) Translation {
	return Translation{Type: TypeTranslation, Data: data}
}

// AudioSynthesized carries one language's synthesized audio.
type AudioSynthesized struct {
	Type string               `json:"type"`
	Data AudioSynthesizedData `json:"data"`
}

// AudioSynthesizedData is the payload of AudioSynthesized.
// AudioContent is base64-encoded MP3.
type AudioSynthesizedData struct {
	Language      string `json:"language"`
	AudioContent  string `json:"audioContent"`
	ParticipantID string `json:"participantId"`
	SpeakerName   string `json:"speakerName"`
	Text          string `json:"text"`
	Timestamp     int64  `json:"timestamp"`
}

// NewAudioSynthesized builds the outbound message.
func NewAudioSynthesized(data AudioSynthesizedData) AudioSynthesized {
	return AudioSynthesized{Type: TypeAudioSynthesized, Data: data}
}

// ParticipantEvent is a relayed moderation event
// (participant-joined / participant-left).
type ParticipantEvent struct {
	Type string               `json:"type"`
	Data ParticipantEventData `json:"data"`
}

// ParticipantEventData is the payload of ParticipantEvent.
type ParticipantEventData struct {
	SessionID       string `json:"sessionId"`
	ParticipantID   string `json:"participantId"`
	ParticipantName string `json:"participantName,omitempty"`
}
