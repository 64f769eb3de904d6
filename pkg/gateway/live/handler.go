// Package live is the transport adapter: it accepts duplex WebSocket
// connections carrying JSON control messages and binary audio frames,
// binds them to rooms and speaker identities, and feeds the
// interpretation pipeline.
package live

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxmeet/voxmeet/pkg/core/speaker"
	"github.com/voxmeet/voxmeet/pkg/gateway/config"
	"github.com/voxmeet/voxmeet/pkg/gateway/fanout"
	"github.com/voxmeet/voxmeet/pkg/gateway/lifecycle"
	"github.com/voxmeet/voxmeet/pkg/gateway/live/protocol"
	"github.com/voxmeet/voxmeet/pkg/gateway/metrics"
	"github.com/voxmeet/voxmeet/pkg/gateway/ratelimit"
	"github.com/voxmeet/voxmeet/pkg/gateway/room"
	"github.com/voxmeet/voxmeet/pkg/store"
)

// Handler serves the /ws endpoint.
type Handler struct {
	Config       config.Config
	Logger       *slog.Logger
	Hub          *room.Hub
	Manager      *speaker.Manager
	Fanout       *fanout.Service
	Sessions     store.SessionStore
	Participants store.ParticipantStore
	Metrics      *metrics.Metrics
	Lifecycle    *lifecycle.Lifecycle
	Limiter      *ratelimit.AudioLimiter
	Clock        func() time.Time
}

func (h *Handler) clock() time.Time {
	if h.Clock != nil {
		return h.Clock()
	}
	return time.Now()
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// ServeHTTP upgrades the connection and runs its read loop.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.Lifecycle.IsDraining() {
		http.Error(w, "draining", http.StatusServiceUnavailable)
		return
	}
	if !h.originAllowed(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	conn := newConn(ws, h.Config.SendQueueSize, h.Config.PingInterval, h.Config.WriteTimeout, h.logger())
	go conn.writeLoop()

	h.logger().Debug("connection opened", "conn_id", conn.ID())
	h.readLoop(conn)
	h.cleanup(conn)
}

func (h *Handler) originAllowed(r *http.Request) bool {
	if len(h.Config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	_, ok := h.Config.AllowedOrigins[origin]
	return ok
}

func (h *Handler) readLoop(c *Conn) {
	for {
		select {
		case <-c.closed:
			return
		default:
		}

		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		// Oversize frames are dropped; the connection stays alive.
		if int64(len(data)) > h.Config.MaxMessageBytes {
			h.Metrics.FramesDropped.WithLabelValues("oversize").Inc()
			c.logger.Warn("oversize frame dropped", "bytes", len(data))
			continue
		}

		switch mt {
		case websocket.TextMessage:
			h.handleControl(c, data)
		case websocket.BinaryMessage:
			h.handleAudio(c, data)
		}
	}
}

func (h *Handler) cleanup(c *Conn) {
	c.Kick()
	if sessionID := c.session(); sessionID != "" {
		h.Hub.Leave(sessionID, c.ID())
		if participantID, _ := c.speaker(); participantID != "" {
			h.Limiter.Forget(limiterKey(sessionID, participantID))
		}
	}
	h.Metrics.Rooms.Set(float64(h.Hub.Len()))
	h.logger().Debug("connection closed", "conn_id", c.ID())
}

// handleControl parses and dispatches one JSON control message.
// Malformed or unknown payloads are dropped, never fatal.
func (h *Handler) handleControl(c *Conn, data []byte) {
	msg, err := protocol.DecodeClientMessage(data)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownType) {
			c.logger.Debug("unknown control message ignored", "error", err)
		} else {
			c.logger.Warn("malformed control message dropped", "error", err)
		}
		return
	}

	switch m := msg.(type) {
	case protocol.JoinSession:
		h.handleJoin(c, m)
	case protocol.AudioMetadata:
		h.handleAudioMetadata(c, m)
	case protocol.AudioChunkMetadata:
		h.handleChunkMetadata(c, m)
	case protocol.SpeakerStatus:
		h.relay(c, m.Data.SessionID, msg)
	case protocol.HandRaise:
		h.handleHandRaise(c, m)
	case protocol.SpeakPermission:
		h.handleSpeakPermission(c, m)
	case protocol.ParticipantEvent:
		h.relay(c, m.Data.SessionID, msg)
	}
}

func (h *Handler) handleJoin(c *Conn, m protocol.JoinSession) {
	ctx := context.Background()
	sess, err := h.Sessions.GetSession(ctx, m.SessionID)
	if err != nil {
		c.logger.Warn("join rejected: unknown session", "session_id", m.SessionID)
		return
	}
	if sess.Expired(h.clock()) {
		c.logger.Warn("join rejected: session expired", "session_id", m.SessionID)
		return
	}
	if !c.bindSession(m.SessionID) {
		c.logger.Warn("join ignored: already bound to another session",
			"bound", c.session(), "requested", m.SessionID)
		return
	}

	h.Hub.Join(m.SessionID, c)
	h.Metrics.Rooms.Set(float64(h.Hub.Len()))
	c.logger.Info("listener joined session", "session_id", m.SessionID)
}

func (h *Handler) handleAudioMetadata(c *Conn, m protocol.AudioMetadata) {
	sessionID := c.session()
	if sessionID == "" {
		c.logger.Warn("audio_metadata before join ignored")
		return
	}
	participantID := m.Participant()
	p, err := h.Participants.GetParticipant(context.Background(), sessionID, participantID)
	if err != nil {
		c.logger.Warn("audio_metadata for unknown participant ignored",
			"participant_id", participantID)
		return
	}

	c.bindSpeaker(p.ID, p.Name)
	c.setSampleRate(m.SampleRate)

	lang := m.TargetLanguage
	if lang == "" {
		lang = p.Language
	}
	stream, created := h.Manager.GetOrCreate(speaker.Config{
		SessionID:       sessionID,
		ParticipantID:   p.ID,
		SpeakerName:     p.Name,
		SampleRateHz:    m.SampleRate,
		PrimaryLanguage: lang,
	})
	if created {
		h.wirePumps(stream)
		h.Metrics.SpeakerStreams.Set(float64(h.Manager.Len()))
	}
	// Configure at most once per message; the stream restarts only on
	// an actual change.
	stream.Configure(m.SampleRate, lang)
}

func (h *Handler) handleChunkMetadata(c *Conn, m protocol.AudioChunkMetadata) {
	sessionID := c.session()
	if sessionID == "" {
		c.logger.Warn("audio-chunk-metadata before join ignored")
		return
	}
	participantID := m.Data.Participant()
	p, err := h.Participants.GetParticipant(context.Background(), sessionID, participantID)
	if err != nil {
		c.logger.Warn("audio-chunk-metadata for unknown participant ignored",
			"participant_id", participantID)
		return
	}
	name := m.Data.SpeakerName
	if name == "" {
		name = p.Name
	}
	c.bindSpeaker(p.ID, name)
}

func (h *Handler) handleHandRaise(c *Conn, m protocol.HandRaise) {
	sessionID := c.session()
	if sessionID == "" || m.Data.SessionID != sessionID {
		c.logger.Warn("hand-raise for wrong session ignored")
		return
	}
	if err := h.Participants.SetHandRaised(context.Background(), sessionID, m.Data.ParticipantID, m.Data.HandRaised); err != nil {
		c.logger.Warn("hand-raise for unknown participant", "error", err)
		return
	}
	h.broadcast(sessionID, m)
}

func (h *Handler) handleSpeakPermission(c *Conn, m protocol.SpeakPermission) {
	sessionID := c.session()
	if sessionID == "" || m.Data.SessionID != sessionID {
		c.logger.Warn("speak-permission for wrong session ignored")
		return
	}
	if err := h.Participants.SetSpeaking(context.Background(), sessionID, m.Data.ParticipantID, m.Data.IsSpeaking); err != nil {
		c.logger.Warn("speak-permission for unknown participant", "error", err)
		return
	}
	h.broadcast(sessionID, m)
}

// relay re-broadcasts a moderation message to the room after a session
// check.
func (h *Handler) relay(c *Conn, msgSessionID string, msg any) {
	sessionID := c.session()
	if sessionID == "" || msgSessionID != sessionID {
		c.logger.Warn("relay for wrong session ignored")
		return
	}
	h.broadcast(sessionID, msg)
}

func (h *Handler) broadcast(sessionID string, msg any) {
	dropped := h.Hub.Broadcast(sessionID, msg)
	if dropped > 0 {
		h.Metrics.BroadcastDropped.Add(float64(dropped))
	}
}

// handleAudio routes one binary PCM frame to the bound speaker stream.
func (h *Handler) handleAudio(c *Conn, frame []byte) {
	sessionID := c.session()
	participantID, speakerName := c.speaker()
	if sessionID == "" || participantID == "" {
		h.Metrics.FramesDropped.WithLabelValues("unbound").Inc()
		return
	}

	if !h.Limiter.Allow(limiterKey(sessionID, participantID)) {
		h.Metrics.FramesDropped.WithLabelValues("rate_limit").Inc()
		return
	}

	p, err := h.Participants.GetParticipant(context.Background(), sessionID, participantID)
	if err != nil {
		h.Metrics.FramesDropped.WithLabelValues("unbound").Inc()
		return
	}
	if !p.IsSpeaking {
		if p.Role != store.RoleHost {
			h.Metrics.FramesDropped.WithLabelValues("unauthorized").Inc()
			return
		}
		// Hosts are auto-promoted on their first audio frame.
		if err := h.Participants.SetSpeaking(context.Background(), sessionID, participantID, true); err != nil {
			h.Metrics.FramesDropped.WithLabelValues("unauthorized").Inc()
			return
		}
		c.logger.Info("host auto-promoted to speaking", "participant_id", participantID)
	}

	stream, created := h.Manager.GetOrCreate(speaker.Config{
		SessionID:       sessionID,
		ParticipantID:   participantID,
		SpeakerName:     speakerName,
		SampleRateHz:    c.getSampleRate(),
		PrimaryLanguage: p.Language,
	})
	if created {
		h.wirePumps(stream)
		h.Metrics.SpeakerStreams.Set(float64(h.Manager.Len()))
	}
	stream.WriteFrame(frame)
}

// wirePumps consumes a new speaker stream's event channels for its
// whole life. Exactly one set of pumps exists per stream.
func (h *Handler) wirePumps(s *speaker.Stream) {
	go func() {
		for ev := range s.Sentences() {
			h.Fanout.HandleSentence(context.Background(), ev)
		}
	}()
	go func() {
		for in := range s.Interims() {
			h.Metrics.Interims.Inc()
			h.broadcast(in.SessionID, protocol.NewInterimTranscript(protocol.InterimTranscriptData{
				Text:          in.Text,
				ParticipantID: in.ParticipantID,
				SpeakerName:   in.SpeakerName,
				SessionID:     in.SessionID,
			}))
		}
	}()
	go func() {
		for err := range s.Errors() {
			h.logger().Error("speaker stream error", "error", err)
		}
	}()
	go func() {
		last := s.Rotations()
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if s.State() == speaker.StateStopped {
				h.Metrics.SpeakerStreams.Set(float64(h.Manager.Len()))
				return
			}
			if n := s.Rotations(); n > last {
				h.Metrics.StreamRotations.Add(float64(n - last))
				last = n
			}
		}
	}()
}

func limiterKey(sessionID, participantID string) string {
	return sessionID + "/" + participantID
}
