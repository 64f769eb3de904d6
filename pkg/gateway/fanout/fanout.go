// Package fanout turns each emitted sentence into the minimal set of
// translations and syntheses the room's listeners actually need, then
// broadcasts and persists the results.
package fanout

import (
	"context"
	"encoding/base64"
	"log/slog"
	"sync"
	"time"

	"github.com/voxmeet/voxmeet/pkg/core/language"
	"github.com/voxmeet/voxmeet/pkg/core/retry"
	"github.com/voxmeet/voxmeet/pkg/core/speaker"
	"github.com/voxmeet/voxmeet/pkg/core/synthcache"
	"github.com/voxmeet/voxmeet/pkg/core/translate"
	"github.com/voxmeet/voxmeet/pkg/core/tts"
	"github.com/voxmeet/voxmeet/pkg/gateway/live/protocol"
	"github.com/voxmeet/voxmeet/pkg/gateway/metrics"
	"github.com/voxmeet/voxmeet/pkg/store"
)

// Broadcaster delivers a message to every listener of a session.
type Broadcaster interface {
	Broadcast(sessionID string, msg any) int
}

// Service is the translation fan-out. Construct once and share.
type Service struct {
	Translator   translate.Translator
	Synthesizer  tts.Synthesizer
	Cache        *synthcache.Cache
	Participants store.ParticipantStore
	Translations store.TranslationStore
	Rooms        Broadcaster
	Metrics      *metrics.Metrics
	Logger       *slog.Logger

	// TranslateTimeout bounds each translation call. Default 10s.
	TranslateTimeout time.Duration
	// RetryPolicy wraps each batch provider call.
	RetryPolicy retry.Policy
	Clock       func() time.Time
}

func (s *Service) clock() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s *Service) translateTimeout() time.Duration {
	if s.TranslateTimeout > 0 {
		return s.TranslateTimeout
	}
	return 10 * time.Second
}

func (s *Service) retryPolicy() retry.Policy {
	if s.RetryPolicy.MaxAttempts > 0 {
		return s.RetryPolicy
	}
	return retry.DefaultPolicy()
}

func (s *Service) broadcast(sessionID string, msg any) {
	dropped := s.Rooms.Broadcast(sessionID, msg)
	if dropped > 0 && s.Metrics != nil {
		s.Metrics.BroadcastDropped.Add(float64(dropped))
	}
}

type translationOutcome struct {
	text   string
	failed bool
}

// HandleSentence runs the full fan-out for one sentence: compute
// need_text/need_voice from the currently connected participants,
// translate in parallel, broadcast, synthesize the voice subset
// through the cache, broadcast each synthesis, and persist one record
// per translated language.
func (s *Service) HandleSentence(ctx context.Context, ev speaker.Sentence) {
	logger := s.logger().With("session_id", ev.SessionID, "participant_id", ev.ParticipantID)
	if s.Metrics != nil {
		s.Metrics.Sentences.Inc()
	}

	participants, err := s.Participants.ListParticipants(ctx, ev.SessionID)
	if err != nil {
		logger.Error("participant lookup failed, dropping sentence", "error", err)
		return
	}

	needText := make(map[string]struct{})
	needVoice := make(map[string]struct{})
	for _, p := range participants {
		lang := p.Language
		if lang == "" {
			lang = language.DefaultDisplay
		}
		needText[lang] = struct{}{}
		if p.PreferredOutput == store.OutputVoice {
			needVoice[lang] = struct{}{}
		}
	}
	if len(needText) == 0 {
		logger.Debug("no connected listeners, skipping fan-out")
		return
	}

	outcomes := s.translateAll(ctx, ev, needText, logger)

	translations := make(map[string]string, len(outcomes))
	errorCount := 0
	for lang, out := range outcomes {
		translations[lang] = out.text
		if out.failed {
			errorCount++
		}
	}

	s.broadcast(ev.SessionID, protocol.NewTranslation(protocol.TranslationData{
		SessionID:        ev.SessionID,
		ParticipantID:    ev.ParticipantID,
		SpeakerName:      ev.SpeakerName,
		OriginalText:     ev.Text,
		OriginalLanguage: ev.SourceLanguage,
		Translations:     translations,
		Timestamp:        s.clock().UnixMilli(),
		HasErrors:        errorCount > 0,
		ErrorCount:       errorCount,
	}))

	// Voice and persistence are off the text path; run them together
	// and join before returning.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.synthesizeAll(ctx, ev, needVoice, translations, logger)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.persistAll(ctx, ev, translations, logger)
	}()
	wg.Wait()
}

// translateAll translates the sentence into every needed language in
// parallel. Equal languages pass through without a provider call;
// failures degrade to the source text.
func (s *Service) translateAll(ctx context.Context, ev speaker.Sentence, needText map[string]struct{}, logger *slog.Logger) map[string]translationOutcome {
	var mu sync.Mutex
	outcomes := make(map[string]translationOutcome, len(needText))

	var wg sync.WaitGroup
	for lang := range needText {
		wg.Add(1)
		go func(lang string) {
			defer wg.Done()
			out := s.translateOne(ctx, ev, lang, logger)
			mu.Lock()
			outcomes[lang] = out
			mu.Unlock()
		}(lang)
	}
	wg.Wait()
	return outcomes
}

func (s *Service) translateOne(ctx context.Context, ev speaker.Sentence, lang string, logger *slog.Logger) translationOutcome {
	if lang == ev.SourceLanguage {
		if s.Metrics != nil {
			s.Metrics.Translations.WithLabelValues("skipped").Inc()
		}
		return translationOutcome{text: ev.Text}
	}

	ctx, cancel := context.WithTimeout(ctx, s.translateTimeout())
	defer cancel()

	var translated string
	err := retry.Do(ctx, logger, "translate", s.retryPolicy(), func(ctx context.Context) error {
		var err error
		translated, err = s.Translator.Translate(ctx, ev.Text, language.ISO(ev.SourceLanguage), language.ISO(lang))
		return err
	})
	if err != nil {
		// Fail open: listeners see source-language text as a clear
		// signal of degraded translation.
		if s.Metrics != nil {
			s.Metrics.Translations.WithLabelValues("passthrough").Inc()
		}
		logger.Warn("translation degraded to passthrough", "target_language", lang, "error", err)
		return translationOutcome{text: ev.Text, failed: true}
	}
	if s.Metrics != nil {
		s.Metrics.Translations.WithLabelValues("ok").Inc()
	}
	return translationOutcome{text: translated}
}

// synthesizeAll generates audio for the voice subset in parallel,
// consulting the cache, and broadcasts each success.
func (s *Service) synthesizeAll(ctx context.Context, ev speaker.Sentence, needVoice map[string]struct{}, translations map[string]string, logger *slog.Logger) {
	if s.Synthesizer == nil || len(needVoice) == 0 {
		return
	}

	var wg sync.WaitGroup
	for lang := range needVoice {
		text, ok := translations[lang]
		if !ok || text == "" {
			continue
		}
		wg.Add(1)
		go func(lang, text string) {
			defer wg.Done()
			audio, err := s.synthesizeOne(ctx, text, lang, logger)
			if err != nil {
				// The audio-synthesized event is simply omitted for
				// this language; the text path already delivered.
				if s.Metrics != nil {
					s.Metrics.Synthesis.WithLabelValues("error").Inc()
				}
				logger.Warn("synthesis failed", "language", lang, "error", err)
				return
			}
			if s.Metrics != nil {
				s.Metrics.Synthesis.WithLabelValues("ok").Inc()
			}
			s.broadcast(ev.SessionID, protocol.NewAudioSynthesized(protocol.AudioSynthesizedData{
				Language:      lang,
				AudioContent:  base64.StdEncoding.EncodeToString(audio),
				ParticipantID: ev.ParticipantID,
				SpeakerName:   ev.SpeakerName,
				Text:          text,
				Timestamp:     s.clock().UnixMilli(),
			}))
		}(lang, text)
	}
	wg.Wait()
}

func (s *Service) synthesizeOne(ctx context.Context, text, lang string, logger *slog.Logger) ([]byte, error) {
	locale := language.Locale(lang)

	if s.Cache != nil {
		if audio, ok := s.Cache.Get(text, locale); ok {
			if s.Metrics != nil {
				s.Metrics.SynthesisCache.WithLabelValues("hit").Inc()
			}
			return audio, nil
		}
		if s.Metrics != nil {
			s.Metrics.SynthesisCache.WithLabelValues("miss").Inc()
		}
	}

	var audio []byte
	err := retry.Do(ctx, logger, "synthesize", s.retryPolicy(), func(ctx context.Context) error {
		var err error
		audio, err = s.Synthesizer.Synthesize(ctx, text, locale, "")
		return err
	})
	if err != nil {
		return nil, err
	}
	if s.Cache != nil {
		s.Cache.Put(text, locale, audio)
	}
	return audio, nil
}

// persistAll writes one translation record per language, passthrough
// rows included.
func (s *Service) persistAll(ctx context.Context, ev speaker.Sentence, translations map[string]string, logger *slog.Logger) {
	if s.Translations == nil {
		return
	}
	now := s.clock()
	for lang, text := range translations {
		rec := store.Translation{
			SessionID:        ev.SessionID,
			ParticipantID:    ev.ParticipantID,
			OriginalText:     ev.Text,
			OriginalLanguage: ev.SourceLanguage,
			TargetLanguage:   lang,
			TranslatedText:   text,
			Confidence:       ev.Confidence,
			Timestamp:        now,
		}
		if err := s.Translations.SaveTranslation(ctx, rec); err != nil {
			logger.Error("translation persist failed", "target_language", lang, "error", err)
		}
	}
}
