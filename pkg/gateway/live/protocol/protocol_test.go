package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeClientMessage_JoinSession(t *testing.T) {
	raw := []byte(`{"type":"join-session","sessionId":"s1"}`)
	msg, err := DecodeClientMessage(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	join, ok := msg.(JoinSession)
	if !ok {
		t.Fatalf("wrong type %T", msg)
	}
	if join.SessionID != "s1" {
		t.Fatalf("sessionId = %q", join.SessionID)
	}
}

func TestDecodeClientMessage_AudioMetadata(t *testing.T) {
	raw := []byte(`{"type":"audio_metadata","participantId":"p1","sampleRate":48000,"targetLanguage":"Spanish"}`)
	msg, err := DecodeClientMessage(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	meta := msg.(AudioMetadata)
	if meta.Participant() != "p1" || meta.SampleRate != 48000 || meta.TargetLanguage != "Spanish" {
		t.Fatalf("unexpected: %+v", meta)
	}
}

func TestDecodeClientMessage_SpeakerIDAlias(t *testing.T) {
	raw := []byte(`{"type":"audio_metadata","speakerId":"p9","sampleRate":16000,"targetLanguage":"English"}`)
	msg, err := DecodeClientMessage(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := msg.(AudioMetadata).Participant(); got != "p9" {
		t.Fatalf("Participant() = %q, want p9", got)
	}

	raw = []byte(`{"type":"audio-chunk-metadata","data":{"speakerId":"p9","speakerName":"Ann","isParticipant":true}}`)
	msg, err = DecodeClientMessage(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := msg.(AudioChunkMetadata).Data.Participant(); got != "p9" {
		t.Fatalf("Participant() = %q, want p9", got)
	}
}

func TestDecodeClientMessage_RelayedMessages(t *testing.T) {
	raw := []byte(`{"type":"hand-raise","data":{"sessionId":"s1","participantId":"p1","participantName":"Ann","handRaised":true}}`)
	msg, err := DecodeClientMessage(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	hr := msg.(HandRaise)
	if !hr.Data.HandRaised || hr.Data.ParticipantName != "Ann" {
		t.Fatalf("unexpected: %+v", hr)
	}

	raw = []byte(`{"type":"speak-permission","data":{"sessionId":"s1","participantId":"p1","isSpeaking":true}}`)
	msg, err = DecodeClientMessage(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !msg.(SpeakPermission).Data.IsSpeaking {
		t.Fatalf("isSpeaking lost")
	}
}

func TestDecodeClientMessage_ParticipantEvents(t *testing.T) {
	for _, typ := range []string{TypeParticipantJoined, TypeParticipantLeft} {
		raw := []byte(`{"type":"` + typ + `","data":{"sessionId":"s1","participantId":"p1","participantName":"Ann"}}`)
		msg, err := DecodeClientMessage(raw)
		if err != nil {
			t.Fatalf("decode %s: %v", typ, err)
		}
		ev, ok := msg.(ParticipantEvent)
		if !ok || ev.Data.ParticipantID != "p1" {
			t.Fatalf("unexpected: %+v", msg)
		}
	}
}

func TestDecodeClientMessage_UnknownType(t *testing.T) {
	_, err := DecodeClientMessage([]byte(`{"type":"telemetry","data":{}}`))
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestDecodeClientMessage_MalformedJSON(t *testing.T) {
	if _, err := DecodeClientMessage([]byte(`{"type":`)); err == nil {
		t.Fatalf("expected error for malformed JSON")
	}
}

func TestTranslationWireShape(t *testing.T) {
	msg := NewTranslation(TranslationData{
		SessionID:        "s1",
		ParticipantID:    "p1",
		SpeakerName:      "Ann",
		OriginalText:     "Hello world.",
		OriginalLanguage: "English",
		Translations:     map[string]string{"Spanish": "Hola mundo."},
		Timestamp:        1700000000000,
	})
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["type"] != TypeTranslation {
		t.Fatalf("type = %v", decoded["type"])
	}
	payload := decoded["data"].(map[string]any)
	if payload["originalLanguage"] != "English" {
		t.Fatalf("camelCase keys expected, got %v", payload)
	}
	if _, ok := payload["hasErrors"]; !ok {
		t.Fatalf("hasErrors missing")
	}
}
