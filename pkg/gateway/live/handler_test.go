package live

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"math"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxmeet/voxmeet/pkg/core/retry"
	"github.com/voxmeet/voxmeet/pkg/core/speaker"
	"github.com/voxmeet/voxmeet/pkg/core/stt"
	"github.com/voxmeet/voxmeet/pkg/core/synthcache"
	"github.com/voxmeet/voxmeet/pkg/gateway/config"
	"github.com/voxmeet/voxmeet/pkg/gateway/fanout"
	"github.com/voxmeet/voxmeet/pkg/gateway/lifecycle"
	"github.com/voxmeet/voxmeet/pkg/gateway/metrics"
	"github.com/voxmeet/voxmeet/pkg/gateway/ratelimit"
	"github.com/voxmeet/voxmeet/pkg/gateway/room"
	"github.com/voxmeet/voxmeet/pkg/store"
)

// fakeSTTStream mirrors the provider contract in memory.
type fakeSTTStream struct {
	results chan stt.Result
	done    chan struct{}
	mu      sync.Mutex
	frames  int
	closed  bool
}

func newFakeSTTStream() *fakeSTTStream {
	return &fakeSTTStream{results: make(chan stt.Result, 100), done: make(chan struct{})}
}

func (f *fakeSTTStream) SendAudio([]byte) error {
	f.mu.Lock()
	f.frames++
	f.mu.Unlock()
	return nil
}

func (f *fakeSTTStream) frameCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frames
}

func (f *fakeSTTStream) push(res stt.Result) {
	select {
	case f.results <- res:
	case <-f.done:
	}
}

func (f *fakeSTTStream) Results() <-chan stt.Result { return f.results }
func (f *fakeSTTStream) Done() <-chan struct{}      { return f.done }
func (f *fakeSTTStream) Err() error                 { return nil }

func (f *fakeSTTStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.results)
		close(f.done)
	}
	return nil
}

type fakeSTTClient struct {
	mu      sync.Mutex
	streams []*fakeSTTStream
}

func (c *fakeSTTClient) NewStream(context.Context, stt.StreamConfig) (stt.Stream, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := newFakeSTTStream()
	c.streams = append(c.streams, s)
	return s, nil
}

func (c *fakeSTTClient) opened() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.streams)
}

func (c *fakeSTTClient) latest() *fakeSTTStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.streams) == 0 {
		return nil
	}
	return c.streams[len(c.streams)-1]
}

type echoTranslator struct{}

func (echoTranslator) Translate(_ context.Context, text, _, to string) (string, error) {
	return "[" + to + "] " + text, nil
}

type fixedSynthesizer struct{}

func (fixedSynthesizer) Synthesize(_ context.Context, _, _, _ string) ([]byte, error) {
	return []byte("mp3"), nil
}

type testRig struct {
	ts      *httptest.Server
	sttc    *fakeSTTClient
	mem     *store.Memory
	mgr     *speaker.Manager
	hub     *room.Hub
	metrics *metrics.Metrics
}

func newTestRig(t *testing.T, cfg config.Config) *testRig {
	t.Helper()
	if cfg.MaxMessageBytes == 0 {
		cfg.MaxMessageBytes = 10 << 20
	}
	if cfg.SendQueueSize == 0 {
		cfg.SendQueueSize = 64
	}
	if cfg.AudioMaxFPS == 0 {
		cfg.AudioMaxFPS = 1000 // high enough for test bursts
	}

	mem := store.NewMemory()
	mem.AddSession(store.Session{ID: "s1", HostParticipantID: "host", ExpiresAt: time.Now().Add(time.Hour)})
	mem.AddParticipant(store.Participant{ID: "host", SessionID: "s1", Name: "Host", Role: store.RoleHost, Language: "English", PreferredOutput: store.OutputText})
	mem.AddParticipant(store.Participant{ID: "guest", SessionID: "s1", Name: "Guest", Role: store.RoleGuest, Language: "Spanish", PreferredOutput: store.OutputVoice})

	sttc := &fakeSTTClient{}
	mets := metrics.NewNop()
	hub := room.NewHub(nil)
	mgr := speaker.NewManager(sttc, speaker.Options{
		SentenceSilence: 100 * time.Millisecond,
		RestartDelay:    10 * time.Millisecond,
	}, speaker.ManagerOptions{})
	t.Cleanup(mgr.Destroy)

	svc := &fanout.Service{
		Translator:   echoTranslator{},
		Synthesizer:  fixedSynthesizer{},
		Cache:        synthcache.New(10),
		Participants: mem,
		Translations: mem,
		Rooms:        hub,
		Metrics:      mets,
		RetryPolicy:  retry.Policy{Initial: time.Millisecond, Multiplier: 2, Max: time.Millisecond, Jitter: 0, MaxAttempts: 2},
	}

	h := &Handler{
		Config:       cfg,
		Hub:          hub,
		Manager:      mgr,
		Fanout:       svc,
		Sessions:     mem,
		Participants: mem,
		Metrics:      mets,
		Lifecycle:    &lifecycle.Lifecycle{},
		Limiter:      ratelimit.NewAudioLimiter(cfg.AudioMaxFPS, 1, nil),
	}

	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)
	return &testRig{ts: ts, sttc: sttc, mem: mem, mgr: mgr, hub: hub, metrics: mets}
}

func (r *testRig) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(r.ts.URL, "http") + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func sendJSON(t *testing.T, ws *websocket.Conn, v any) {
	t.Helper()
	if err := ws.WriteJSON(v); err != nil {
		t.Fatalf("write json: %v", err)
	}
}

func join(t *testing.T, ws *websocket.Conn, sessionID string) {
	sendJSON(t, ws, map[string]any{"type": "join-session", "sessionId": sessionID})
}

// readUntil reads messages until one with the wanted type arrives.
func readUntil(t *testing.T, ws *websocket.Conn, wantType string, timeout time.Duration) map[string]any {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		ws.SetReadDeadline(deadline)
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("read while waiting for %q: %v", wantType, err)
		}
		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg["type"] == wantType {
			return msg
		}
	}
	t.Fatalf("timed out waiting for %q", wantType)
	return nil
}

func voicedPCM() []byte {
	frame := make([]byte, 640)
	for i := 0; i < 320; i++ {
		v := int16(0.5 * 32767 * math.Sin(2*math.Pi*float64(i)/64))
		binary.LittleEndian.PutUint16(frame[i*2:], uint16(v))
	}
	return frame
}

// feedUntilStream keeps sending voiced frames until the fake STT
// provider has an open stream that received audio.
func feedUntilStream(t *testing.T, r *testRig, ws *websocket.Conn) *fakeSTTStream {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if err := ws.WriteMessage(websocket.BinaryMessage, voicedPCM()); err != nil {
			t.Fatalf("write binary: %v", err)
		}
		if s := r.sttc.latest(); s != nil && s.frameCount() > 0 {
			return s
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no STT stream received audio")
	return nil
}

func TestEndToEnd_SingleSpeakerHappyPath(t *testing.T) {
	r := newTestRig(t, config.Config{})

	listener := r.dial(t)
	join(t, listener, "s1")

	spkr := r.dial(t)
	join(t, spkr, "s1")
	sendJSON(t, spkr, map[string]any{
		"type": "audio_metadata", "participantId": "host",
		"sampleRate": 16000, "targetLanguage": "English",
	})

	fs := feedUntilStream(t, r, spkr)
	fs.push(stt.Result{Transcript: "Hello world.", LanguageCode: "en-US", Confidence: 0.95, IsFinal: true})

	msg := readUntil(t, listener, "translation", 3*time.Second)
	data := msg["data"].(map[string]any)
	translations := data["translations"].(map[string]any)
	if translations["English"] != "Hello world." {
		t.Fatalf("English translation = %v", translations["English"])
	}
	if data["originalLanguage"] != "English" {
		t.Fatalf("originalLanguage = %v", data["originalLanguage"])
	}

	// The guest prefers Spanish voice, so one synthesis event follows.
	audio := readUntil(t, listener, "audio-synthesized", 3*time.Second)
	adata := audio["data"].(map[string]any)
	if adata["language"] != "Spanish" {
		t.Fatalf("synthesized language = %v", adata["language"])
	}
	if adata["audioContent"] == "" {
		t.Fatalf("missing audio content")
	}

	// Host auto-promoted to speaking on first frame.
	p, err := r.mem.GetParticipant(context.Background(), "s1", "host")
	if err != nil || !p.IsSpeaking {
		t.Fatalf("host not auto-promoted: %+v err=%v", p, err)
	}

	// One persisted record per language in the room.
	deadline := time.Now().Add(2 * time.Second)
	for len(r.mem.Translations()) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if got := len(r.mem.Translations()); got != 2 {
		t.Fatalf("persisted %d records, want 2", got)
	}
}

func TestBinaryFramesWithoutBindingAreDropped(t *testing.T) {
	r := newTestRig(t, config.Config{})

	ws := r.dial(t)
	join(t, ws, "s1")

	for i := 0; i < 5; i++ {
		if err := ws.WriteMessage(websocket.BinaryMessage, voicedPCM()); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	time.Sleep(100 * time.Millisecond)
	if r.sttc.opened() != 0 {
		t.Fatalf("unbound frames reached the pipeline")
	}

	// The connection is still usable.
	sendJSON(t, ws, map[string]any{
		"type": "audio_metadata", "participantId": "host",
		"sampleRate": 16000, "targetLanguage": "English",
	})
	feedUntilStream(t, r, ws)
}

func TestGuestWithoutPermissionIsDropped(t *testing.T) {
	r := newTestRig(t, config.Config{})

	ws := r.dial(t)
	join(t, ws, "s1")
	sendJSON(t, ws, map[string]any{
		"type": "audio-chunk-metadata",
		"data": map[string]any{"participantId": "guest", "speakerName": "Guest", "isParticipant": true},
	})

	for i := 0; i < 20; i++ {
		if err := ws.WriteMessage(websocket.BinaryMessage, voicedPCM()); err != nil {
			t.Fatalf("write: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if r.sttc.opened() != 0 {
		t.Fatalf("unauthorized guest audio reached the pipeline")
	}

	// Granting permission unblocks the guest.
	sendJSON(t, ws, map[string]any{
		"type": "speak-permission",
		"data": map[string]any{"sessionId": "s1", "participantId": "guest", "isSpeaking": true},
	})
	feedUntilStream(t, r, ws)
}

func TestOversizeFrameKeepsConnectionAlive(t *testing.T) {
	cfg := config.Config{MaxMessageBytes: 1024}
	r := newTestRig(t, cfg)

	ws := r.dial(t)
	big := strings.Repeat("x", 2048)
	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"pad":"`+big+`"}`)); err != nil {
		t.Fatalf("write oversize: %v", err)
	}

	// Connection must survive; a join afterwards still works.
	join(t, ws, "s1")
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := r.hub.Get("s1"); ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("join after oversize frame did not land")
}

func TestJoinUnknownOrExpiredSessionIgnored(t *testing.T) {
	r := newTestRig(t, config.Config{})
	r.mem.AddSession(store.Session{ID: "old", ExpiresAt: time.Now().Add(-time.Minute)})

	ws := r.dial(t)
	join(t, ws, "ghost")
	join(t, ws, "old")
	time.Sleep(100 * time.Millisecond)

	if _, ok := r.hub.Get("ghost"); ok {
		t.Fatalf("room created for unknown session")
	}
	if _, ok := r.hub.Get("old"); ok {
		t.Fatalf("room created for expired session")
	}
}

func TestUnknownControlTypeIgnored(t *testing.T) {
	r := newTestRig(t, config.Config{})
	ws := r.dial(t)
	sendJSON(t, ws, map[string]any{"type": "telemetry", "data": map[string]any{}})
	join(t, ws, "s1")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := r.hub.Get("s1"); ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("connection broken by unknown control type")
}

func TestHandRaiseRelayedToRoom(t *testing.T) {
	r := newTestRig(t, config.Config{})

	a := r.dial(t)
	join(t, a, "s1")
	b := r.dial(t)
	join(t, b, "s1")
	time.Sleep(50 * time.Millisecond)

	sendJSON(t, a, map[string]any{
		"type": "hand-raise",
		"data": map[string]any{"sessionId": "s1", "participantId": "guest", "participantName": "Guest", "handRaised": true},
	})

	msg := readUntil(t, b, "hand-raise", 2*time.Second)
	data := msg["data"].(map[string]any)
	if data["handRaised"] != true {
		t.Fatalf("handRaised not relayed: %v", data)
	}

	p, _ := r.mem.GetParticipant(context.Background(), "s1", "guest")
	if !p.HandRaised {
		t.Fatalf("hand raise not recorded in store")
	}
}

func TestInterimTranscriptBroadcast(t *testing.T) {
	r := newTestRig(t, config.Config{})

	listener := r.dial(t)
	join(t, listener, "s1")

	spkr := r.dial(t)
	join(t, spkr, "s1")
	sendJSON(t, spkr, map[string]any{
		"type": "audio_metadata", "participantId": "host",
		"sampleRate": 16000, "targetLanguage": "English",
	})
	fs := feedUntilStream(t, r, spkr)

	fs.push(stt.Result{Transcript: "Hel", IsFinal: false})
	msg := readUntil(t, listener, "interim-transcript", 2*time.Second)
	data := msg["data"].(map[string]any)
	if data["text"] != "Hel" || data["participantId"] != "host" {
		t.Fatalf("interim payload = %v", data)
	}

	// Interims alone never persist records.
	if len(r.mem.Translations()) != 0 {
		t.Fatalf("interim produced translation records")
	}
}

func TestAudioRateLimitDropsExcessFrames(t *testing.T) {
	cfg := config.Config{AudioMaxFPS: 5}
	r := newTestRig(t, cfg)

	ws := r.dial(t)
	join(t, ws, "s1")
	sendJSON(t, ws, map[string]any{
		"type": "audio_metadata", "participantId": "host",
		"sampleRate": 16000, "targetLanguage": "English",
	})
	time.Sleep(50 * time.Millisecond)

	// Burst far beyond the 5 fps budget within one second.
	for i := 0; i < 50; i++ {
		if err := ws.WriteMessage(websocket.BinaryMessage, voicedPCM()); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	deadline := time.Now().Add(time.Second)
	for r.sttc.latest() == nil && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	fs := r.sttc.latest()
	if fs == nil {
		t.Fatalf("no stream opened at all")
	}
	time.Sleep(200 * time.Millisecond)
	if got := fs.frameCount(); got > 6 {
		t.Fatalf("rate limiter let %d frames through, want <= 5ish", got)
	}
}
