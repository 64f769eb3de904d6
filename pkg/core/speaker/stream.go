// Package speaker owns the per-speaker transcription pipeline: VAD
// gating, the streaming STT session with rotation around the
// provider's duration cap, and sentence aggregation.
package speaker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/voxmeet/voxmeet/pkg/core/audio"
	"github.com/voxmeet/voxmeet/pkg/core/language"
	"github.com/voxmeet/voxmeet/pkg/core/retry"
	"github.com/voxmeet/voxmeet/pkg/core/stt"
)

// State is the lifecycle state of a speaker stream.
type State int32

const (
	// StateIdle means no live STT session exists.
	StateIdle State = iota
	// StateStarting means an STT session is being opened; frames queue.
	StateStarting
	// StateActive means frames flow to a live STT session.
	StateActive
	// StateRotating means a fresh STT session has taken over while the
	// previous one drains its final results.
	StateRotating
	// StateStopped is terminal.
	StateStopped
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateStarting:
		return "STARTING"
	case StateActive:
		return "ACTIVE"
	case StateRotating:
		return "ROTATING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// Config identifies the speaker and its audio shape.
type Config struct {
	SessionID            string
	ParticipantID        string
	SpeakerName          string
	SampleRateHz         int
	PrimaryLanguage      string // display name, e.g. "English"
	AlternativeLanguages []string
}

// Options are the stream's tunables.
type Options struct {
	// RotateAfter is the stream age at which rotation starts; it must
	// sit safely inside the provider's stt.MaxStreamAge cap.
	RotateAfter time.Duration
	// RotateCheck is how often the age check runs.
	RotateCheck time.Duration
	// DrainWindow is how long a rotated-out stream stays open so its
	// last finals arrive. Best-effort: fragments at the seam may land
	// slightly out of order relative to the new stream's first interims.
	DrainWindow time.Duration

	// SentenceSilence is the gap after a final that flushes the
	// accumulator.
	SentenceSilence time.Duration
	// MinSentenceTokens gates the punctuation trigger.
	MinSentenceTokens int
	// MaxSentenceTokens forces emission during unpunctuated monologue.
	MaxSentenceTokens int

	// RestartDelay is the pause before reopening after a transient
	// stream failure.
	RestartDelay time.Duration
	// RestartWindow is how recent the last frame must be for an
	// automatic reopen to be worthwhile.
	RestartWindow time.Duration

	FrameQueueSize int
	PendingLimit   int

	Clock  func() time.Time
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.RotateAfter <= 0 {
		o.RotateAfter = 4 * time.Minute
	}
	if o.RotateCheck <= 0 {
		o.RotateCheck = 30 * time.Second
	}
	if o.DrainWindow <= 0 {
		o.DrainWindow = 2 * time.Second
	}
	if o.SentenceSilence <= 0 {
		o.SentenceSilence = 500 * time.Millisecond
	}
	if o.MinSentenceTokens <= 0 {
		o.MinSentenceTokens = 3
	}
	if o.MaxSentenceTokens <= 0 {
		o.MaxSentenceTokens = 20
	}
	if o.RestartDelay <= 0 {
		o.RestartDelay = 500 * time.Millisecond
	}
	if o.RestartWindow <= 0 {
		o.RestartWindow = 5 * time.Second
	}
	if o.FrameQueueSize <= 0 {
		o.FrameQueueSize = 256
	}
	if o.PendingLimit <= 0 {
		o.PendingLimit = 200
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Stream is the per-speaker state machine. All internal state is owned
// by a single worker goroutine; the public methods communicate with it
// over channels and atomics only.
type Stream struct {
	cfg    Config
	opts   Options
	client stt.Client
	logger *slog.Logger

	frames   chan []byte
	commands chan Config
	stopc    chan struct{}
	stopOnce sync.Once
	donec    chan struct{}

	sentences chan Sentence
	interims  chan Interim
	errs      chan error

	state        atomic.Int32
	lastActivity atomic.Int64
	rotations    atomic.Int64
}

// New creates a stream and starts its worker. The STT session itself
// is opened lazily on the first frame.
func New(client stt.Client, cfg Config, opts Options) *Stream {
	opts = opts.withDefaults()
	s := &Stream{
		cfg:    cfg,
		opts:   opts,
		client: client,
		logger: opts.Logger.With("session_id", cfg.SessionID, "participant_id", cfg.ParticipantID),

		frames:   make(chan []byte, opts.FrameQueueSize),
		commands: make(chan Config, 4),
		stopc:    make(chan struct{}),
		donec:    make(chan struct{}),

		sentences: make(chan Sentence, 32),
		interims:  make(chan Interim, 64),
		errs:      make(chan error, 8),
	}
	s.lastActivity.Store(opts.Clock().UnixNano())
	go s.run()
	return s
}

// WriteFrame queues one PCM frame. Never blocks; frames are dropped if
// the worker is saturated.
func (s *Stream) WriteFrame(frame []byte) {
	if s.State() == StateStopped {
		return
	}
	s.lastActivity.Store(s.opts.Clock().UnixNano())

	buf := make([]byte, len(frame))
	copy(buf, frame)
	select {
	case s.frames <- buf:
	default:
		s.logger.Debug("frame queue full, dropping frame")
	}
}

// Configure updates the sample rate and primary language. A changed
// config restarts the underlying STT stream; an unchanged one is a
// no-op, so repeated metadata messages are harmless.
func (s *Stream) Configure(sampleRateHz int, primaryLanguage string) {
	cfg := s.cfg
	cfg.SampleRateHz = sampleRateHz
	cfg.PrimaryLanguage = primaryLanguage
	select {
	case s.commands <- cfg:
	case <-s.donec:
	}
}

// Stop tears the stream down, flushing any buffered sentence first.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() { close(s.stopc) })
	<-s.donec
}

// Sentences yields emitted sentences. Closed on Stop.
func (s *Stream) Sentences() <-chan Sentence { return s.sentences }

// Interims yields live transcription previews. Closed on Stop.
func (s *Stream) Interims() <-chan Interim { return s.interims }

// Errors yields stream-level failures. Closed on Stop.
func (s *Stream) Errors() <-chan error { return s.errs }

// State returns the current lifecycle state.
func (s *Stream) State() State { return State(s.state.Load()) }

// LastActivity is the time of the most recent inbound frame, observed
// by the manager's reaper.
func (s *Stream) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// Rotations counts completed stream rotations.
func (s *Stream) Rotations() int64 { return s.rotations.Load() }

type openResult struct {
	stream      stt.Stream
	err         error
	forRotation bool
	gen         int
}

// worker holds the state owned exclusively by the run goroutine.
type worker struct {
	s   *Stream
	ctx context.Context

	state State
	cfg   Config
	vad   audio.VAD
	agg   aggregator

	pending [][]byte

	cur          stt.Stream
	curCreatedAt time.Time
	old          stt.Stream
	drainc       <-chan time.Time

	openc   chan openResult
	opening bool
	gen     int

	rotating        bool
	restartc        <-chan time.Time
	restartDisabled bool

	silence  *time.Timer
	silencec <-chan time.Time
}

func (s *Stream) run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := &worker{
		s:     s,
		ctx:   ctx,
		state: StateIdle,
		cfg:   s.cfg,
		openc: make(chan openResult, 2),
	}

	rotateTicker := time.NewTicker(s.opts.RotateCheck)
	defer rotateTicker.Stop()

	for {
		var curResults, oldResults <-chan stt.Result
		if w.cur != nil {
			curResults = w.cur.Results()
		}
		if w.old != nil {
			// Bias toward the draining stream so its remaining finals
			// are consumed before the new stream's.
			oldResults = w.old.Results()
		drain:
			for {
				select {
				case res, ok := <-oldResults:
					if !ok {
						w.finishDrain()
						oldResults = nil
						break drain
					}
					w.handleResult(res)
				default:
					break drain
				}
			}
		}

		select {
		case <-s.stopc:
			w.shutdown()
			return

		case frame := <-s.frames:
			w.handleFrame(frame)

		case cfg := <-s.commands:
			w.handleConfigure(cfg)

		case res, ok := <-curResults:
			if !ok {
				w.handleStreamEnd()
			} else {
				w.handleResult(res)
			}

		case res, ok := <-oldResults:
			if !ok {
				w.finishDrain()
			} else {
				w.handleResult(res)
			}

		case <-w.drainc:
			w.finishDrain()

		case or := <-w.openc:
			w.handleOpened(or)

		case <-rotateTicker.C:
			w.maybeRotate()

		case <-w.silencec:
			w.silencec = nil
			w.silence = nil
			w.flush()

		case <-w.restartc:
			w.restartc = nil
			w.maybeRestart()
		}
	}
}

func (w *worker) setState(st State) {
	if w.state == st {
		return
	}
	w.s.logger.Debug("speaker state change", "from", w.state.String(), "to", st.String())
	w.state = st
	w.s.state.Store(int32(st))
}

func (w *worker) handleFrame(frame []byte) {
	switch w.state {
	case StateStopped:
		return

	case StateIdle:
		if w.restartDisabled {
			return
		}
		w.enqueuePending(frame)
		w.setState(StateStarting)
		w.beginOpen(false)

	case StateStarting:
		w.enqueuePending(frame)

	case StateActive, StateRotating:
		w.forward(frame)
	}
}

func (w *worker) enqueuePending(frame []byte) {
	if len(w.pending) >= w.s.opts.PendingLimit {
		w.pending = w.pending[1:]
	}
	w.pending = append(w.pending, frame)
}

func (w *worker) forward(frame []byte) {
	forward, _ := w.vad.Process(frame)
	if !forward || w.cur == nil {
		return
	}
	if err := w.cur.SendAudio(frame); err != nil {
		w.s.logger.Debug("send audio failed", "error", err)
	}
}

func (w *worker) beginOpen(forRotation bool) {
	if w.opening {
		return
	}
	w.opening = true
	w.gen++
	gen := w.gen

	streamCfg := stt.StreamConfig{
		SampleRateHz:               w.cfg.SampleRateHz,
		PrimaryLanguageCode:        language.Locale(w.cfg.PrimaryLanguage),
		EnableAutomaticPunctuation: true,
		EnhancedModel:              true,
		InterimResults:             true,
		SingleUtterance:            false,
	}
	for _, alt := range w.cfg.AlternativeLanguages {
		streamCfg.AlternativeLanguageCodes = append(streamCfg.AlternativeLanguageCodes, language.Locale(alt))
	}

	go func() {
		st, err := w.s.client.NewStream(w.ctx, streamCfg)
		if err == nil && w.ctx.Err() != nil {
			st.Close()
			st, err = nil, w.ctx.Err()
		}
		w.s.trySendOpen(w.openc, openResult{stream: st, err: err, forRotation: forRotation, gen: gen})
	}()
}

func (s *Stream) trySendOpen(openc chan openResult, or openResult) {
	select {
	case openc <- or:
	case <-s.donec:
		if or.stream != nil {
			or.stream.Close()
		}
	}
}

func (w *worker) handleOpened(or openResult) {
	if or.gen != w.gen {
		// A reconfigure superseded this open; a newer one may still be
		// in flight, so the opening flag is left alone.
		if or.stream != nil {
			or.stream.Close()
		}
		return
	}
	w.opening = false

	if or.err != nil {
		if or.forRotation {
			w.rotating = false
			w.s.logger.Warn("rotation open failed, keeping current stream", "error", or.err)
			return
		}
		w.handleOpenFailure(or.err)
		return
	}

	if w.state == StateStopped {
		or.stream.Close()
		return
	}

	now := w.s.opts.Clock()
	if or.forRotation {
		w.old = w.cur
		w.cur = or.stream
		w.curCreatedAt = now
		w.drainc = time.After(w.s.opts.DrainWindow)
		w.setState(StateRotating)
		w.s.rotations.Add(1)
		w.s.logger.Info("stt stream rotated")
		return
	}

	w.cur = or.stream
	w.curCreatedAt = now
	w.vad.Reset()
	w.setState(StateActive)

	// Drain frames queued while the stream was opening.
	pending := w.pending
	w.pending = nil
	for _, frame := range pending {
		w.forward(frame)
	}
}

func (w *worker) handleOpenFailure(err error) {
	if retry.IsQuota(err) {
		w.restartDisabled = true
		w.setState(StateIdle)
		w.s.emitError(err)
		w.s.logger.Error("stt open hit quota, automatic restart disabled", "error", err)
		return
	}
	if retry.Classify(err) == retry.Transient {
		w.setState(StateIdle)
		w.restartc = time.After(w.s.opts.RestartDelay)
		w.s.logger.Warn("stt open failed, scheduling restart", "error", err)
		return
	}
	w.setState(StateStopped)
	w.s.emitError(err)
	w.s.logger.Error("stt open failed permanently", "error", err)
}

// handleStreamEnd runs when the live stream's result channel closes:
// the provider hit its duration cap or closed it, or it failed. A stream
// retired by rotation is finished by finishDrain instead.
func (w *worker) handleStreamEnd() {
	ended := w.cur
	w.cur = nil
	var err error
	if ended != nil {
		err = ended.Err()
		ended.Close()
	}

	if w.state == StateStopped {
		return
	}

	switch {
	case err == nil:
		// Normal provider-side close (e.g. duration cap without
		// rotation). Reopen if the speaker is active.
		w.setState(StateIdle)
		w.restartc = time.After(w.s.opts.RestartDelay)

	case retry.IsQuota(err):
		w.restartDisabled = true
		w.setState(StateIdle)
		w.s.emitError(err)
		w.s.logger.Error("stt stream hit quota, automatic restart disabled", "error", err)

	case retry.Classify(err) == retry.Transient:
		w.setState(StateIdle)
		w.restartc = time.After(w.s.opts.RestartDelay)
		w.s.logger.Warn("stt stream failed, scheduling restart", "error", err)

	default:
		w.flush()
		w.setState(StateStopped)
		w.s.emitError(err)
		w.s.logger.Error("stt stream failed permanently", "error", err)
	}

	w.rotating = false
}

func (w *worker) maybeRestart() {
	if w.state != StateIdle || w.restartDisabled {
		return
	}
	if w.s.opts.Clock().Sub(w.s.LastActivity()) > w.s.opts.RestartWindow {
		// Nobody has spoken recently; stay idle until the next frame.
		return
	}
	w.setState(StateStarting)
	w.beginOpen(false)
}

func (w *worker) maybeRotate() {
	if w.state != StateActive || w.rotating || w.cur == nil {
		return
	}
	if w.s.opts.Clock().Sub(w.curCreatedAt) < w.s.opts.RotateAfter {
		return
	}
	w.rotating = true
	w.beginOpen(true)
}

func (w *worker) finishDrain() {
	if w.old != nil {
		w.old.Close()
		w.old = nil
	}
	w.drainc = nil
	if w.state == StateRotating {
		w.setState(StateActive)
	}
	w.rotating = false
}

func (w *worker) handleConfigure(cfg Config) {
	if cfg.SampleRateHz == w.cfg.SampleRateHz && cfg.PrimaryLanguage == w.cfg.PrimaryLanguage {
		return
	}
	w.cfg = cfg
	w.s.logger.Info("speaker reconfigured",
		"sample_rate", cfg.SampleRateHz, "language", cfg.PrimaryLanguage)

	if w.state == StateStopped || w.state == StateIdle {
		return
	}

	// Detach and close the live streams; the new config needs a fresh
	// session. gen bumping discards any in-flight open.
	w.gen++
	w.opening = false
	if w.cur != nil {
		w.cur.Close()
		w.cur = nil
	}
	if w.old != nil {
		w.old.Close()
		w.old = nil
	}
	w.drainc = nil
	w.rotating = false
	w.setState(StateStarting)
	w.beginOpen(false)
}

func (w *worker) handleResult(res stt.Result) {
	if !res.IsFinal {
		if res.Transcript != "" {
			w.s.emitInterim(Interim{
				Text:          res.Transcript,
				ParticipantID: w.cfg.ParticipantID,
				SpeakerName:   w.cfg.SpeakerName,
				SessionID:     w.cfg.SessionID,
			})
		}
		return
	}

	w.agg.append(res.Transcript, res.Confidence)
	if w.agg.empty() {
		return
	}

	// Re-arm the single-shot silence flush.
	if w.silence != nil {
		w.silence.Stop()
	}
	w.silence = time.NewTimer(w.s.opts.SentenceSilence)
	w.silencec = w.silence.C

	if w.agg.shouldEmit(res.Transcript, w.s.opts.MinSentenceTokens, w.s.opts.MaxSentenceTokens) {
		w.flush()
	}
}

func (w *worker) flush() {
	if w.silence != nil {
		w.silence.Stop()
		w.silence = nil
		w.silencec = nil
	}
	if w.agg.empty() {
		return
	}
	w.s.emitSentence(Sentence{
		Text:           w.agg.text(),
		SourceLanguage: w.cfg.PrimaryLanguage,
		ParticipantID:  w.cfg.ParticipantID,
		SpeakerName:    w.cfg.SpeakerName,
		SessionID:      w.cfg.SessionID,
		Confidence:     w.agg.confidence(),
		EmittedAt:      w.s.opts.Clock(),
	})
	w.agg.reset()
}

func (w *worker) shutdown() {
	w.flush()
	if w.cur != nil {
		w.cur.Close()
		w.cur = nil
	}
	if w.old != nil {
		w.old.Close()
		w.old = nil
	}
	w.setState(StateStopped)
	close(w.s.donec)
	close(w.s.sentences)
	close(w.s.interims)
	close(w.s.errs)
}

func (s *Stream) emitSentence(ev Sentence) {
	select {
	case s.sentences <- ev:
	default:
		s.logger.Warn("sentence channel full, dropping sentence", "text_len", len(ev.Text))
	}
}

func (s *Stream) emitInterim(ev Interim) {
	select {
	case s.interims <- ev:
	default:
	}
}

func (s *Stream) emitError(err error) {
	select {
	case s.errs <- err:
	default:
	}
}
