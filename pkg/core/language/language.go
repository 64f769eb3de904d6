// Package language resolves the human-readable language names used on
// the wire ("English", "Arabic") to provider locale codes and voices.
package language

import "strings"

// DefaultDisplay is the display name assumed when a name is unknown.
const DefaultDisplay = "English"

// DefaultLocale is the locale assumed when a name is unknown.
const DefaultLocale = "en-US"

// locales maps display names to provider locale codes.
var locales = map[string]string{
	"english":    "en-US",
	"spanish":    "es-ES",
	"french":     "fr-FR",
	"german":     "de-DE",
	"italian":    "it-IT",
	"portuguese": "pt-BR",
	"russian":    "ru-RU",
	"japanese":   "ja-JP",
	"korean":     "ko-KR",
	"chinese":    "zh-CN",
	"arabic":     "ar-SA",
	"hindi":      "hi-IN",
	"dutch":      "nl-NL",
	"polish":     "pl-PL",
	"turkish":    "tr-TR",
	"swedish":    "sv-SE",
	"danish":     "da-DK",
	"norwegian":  "no-NO",
	"finnish":    "fi-FI",
}

// defaultVoices maps synthesis locales to a reasonable default voice.
var defaultVoices = map[string]string{
	"en-US": "en-US-Neural2-C",
	"es-ES": "es-ES-Neural2-A",
	"fr-FR": "fr-FR-Neural2-A",
	"de-DE": "de-DE-Neural2-B",
	"it-IT": "it-IT-Neural2-A",
	"pt-BR": "pt-BR-Neural2-A",
	"ru-RU": "ru-RU-Wavenet-C",
	"ja-JP": "ja-JP-Neural2-B",
	"ko-KR": "ko-KR-Neural2-A",
	"zh-CN": "cmn-CN-Wavenet-A",
	"ar-XA": "ar-XA-Wavenet-A",
	"hi-IN": "hi-IN-Neural2-A",
	"nl-NL": "nl-NL-Wavenet-B",
	"pl-PL": "pl-PL-Wavenet-A",
	"tr-TR": "tr-TR-Wavenet-A",
	"sv-SE": "sv-SE-Wavenet-A",
	"da-DK": "da-DK-Wavenet-A",
	"no-NO": "nb-NO-Wavenet-A",
	"fi-FI": "fi-FI-Wavenet-A",
}

// Known reports whether the display name is in the language table.
func Known(display string) bool {
	_, ok := locales[strings.ToLower(strings.TrimSpace(display))]
	return ok
}

// Locale resolves a display name to its provider locale code.
// Unknown names resolve to en-US.
func Locale(display string) string {
	if code, ok := locales[strings.ToLower(strings.TrimSpace(display))]; ok {
		return code
	}
	return DefaultLocale
}

// ISO resolves a display name to a short ISO 639-1 style code used by
// the translation provider, e.g. "Spanish" → "es".
func ISO(display string) string {
	locale := Locale(display)
	if i := strings.IndexByte(locale, '-'); i > 0 {
		return locale[:i]
	}
	return locale
}

// VoiceLocale maps a transcription locale to the locale used for voice
// selection. Arabic transcribes as ar-SA but synthesizes with the
// provider's cross-region ar-XA voices.
func VoiceLocale(locale string) string {
	if strings.HasPrefix(locale, "ar-") {
		return "ar-XA"
	}
	return locale
}

// DefaultVoice picks a voice for the locale: exact locale match first,
// then any voice sharing the base language, then English.
func DefaultVoice(locale string) string {
	locale = VoiceLocale(locale)
	if voice, ok := defaultVoices[locale]; ok {
		return voice
	}
	if i := strings.IndexByte(locale, '-'); i > 0 {
		base := locale[:i] + "-"
		for l, voice := range defaultVoices {
			if strings.HasPrefix(l, base) {
				return voice
			}
		}
	}
	return defaultVoices[DefaultLocale]
}
