package language

import "testing"

func TestLocale(t *testing.T) {
	cases := map[string]string{
		"English":    "en-US",
		"english":    "en-US",
		" Spanish ":  "es-ES",
		"Arabic":     "ar-SA",
		"Portuguese": "pt-BR",
		"Klingon":    "en-US", // unknown defaults to English
		"":           "en-US",
	}
	for display, want := range cases {
		if got := Locale(display); got != want {
			t.Errorf("Locale(%q) = %q, want %q", display, got, want)
		}
	}
}

func TestISO(t *testing.T) {
	if got := ISO("Spanish"); got != "es" {
		t.Fatalf("ISO(Spanish) = %q, want es", got)
	}
	if got := ISO("unknown"); got != "en" {
		t.Fatalf("ISO(unknown) = %q, want en", got)
	}
}

func TestVoiceLocale_ArabicCrossRegion(t *testing.T) {
	if got := VoiceLocale("ar-SA"); got != "ar-XA" {
		t.Fatalf("VoiceLocale(ar-SA) = %q, want ar-XA", got)
	}
	if got := VoiceLocale("fr-FR"); got != "fr-FR" {
		t.Fatalf("VoiceLocale(fr-FR) = %q, want fr-FR", got)
	}
}

func TestDefaultVoice_Fallbacks(t *testing.T) {
	// Exact locale.
	if got := DefaultVoice("fr-FR"); got != "fr-FR-Neural2-A" {
		t.Fatalf("DefaultVoice(fr-FR) = %q", got)
	}
	// Arabic remaps to the cross-region voice set.
	if got := DefaultVoice("ar-SA"); got != "ar-XA-Wavenet-A" {
		t.Fatalf("DefaultVoice(ar-SA) = %q", got)
	}
	// Base-language fallback: en-GB has no entry, falls back to an en voice.
	if got := DefaultVoice("en-GB"); got != "en-US-Neural2-C" {
		t.Fatalf("DefaultVoice(en-GB) = %q", got)
	}
	// Fully unknown locale falls back to English.
	if got := DefaultVoice("xx-YY"); got != "en-US-Neural2-C" {
		t.Fatalf("DefaultVoice(xx-YY) = %q", got)
	}
}

func TestKnown(t *testing.T) {
	if !Known("German") {
		t.Fatalf("German should be known")
	}
	if Known("Elvish") {
		t.Fatalf("Elvish should be unknown")
	}
}
