package live

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Conn is one listener connection. The transport adapter owns it; the
// room holds it only through the room.Handle interface. A dedicated
// writer goroutine owns the websocket write side and drains the
// bounded send queue.
type Conn struct {
	id     string
	ws     *websocket.Conn
	logger *slog.Logger

	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	pingInterval time.Duration
	writeTimeout time.Duration

	mu            sync.Mutex
	sessionID     string
	participantID string
	speakerName   string
	sampleRate    int
}

func newConn(ws *websocket.Conn, queueSize int, pingInterval, writeTimeout time.Duration, logger *slog.Logger) *Conn {
	if queueSize <= 0 {
		queueSize = 64
	}
	if pingInterval <= 0 {
		pingInterval = 20 * time.Second
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}
	id := uuid.NewString()
	return &Conn{
		id:           id,
		ws:           ws,
		logger:       logger.With("conn_id", id),
		send:         make(chan []byte, queueSize),
		closed:       make(chan struct{}),
		pingInterval: pingInterval,
		writeTimeout: writeTimeout,
	}
}

// ID implements room.Handle.
func (c *Conn) ID() string { return c.id }

// Enqueue implements room.Handle. Never blocks; a full queue drops the
// message for this listener only.
func (c *Conn) Enqueue(payload []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Kick implements room.Handle.
func (c *Conn) Kick() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// bindSession records the room binding after a successful join.
func (c *Conn) bindSession(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID != "" {
		return c.sessionID == sessionID
	}
	c.sessionID = sessionID
	return true
}

func (c *Conn) session() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// bindSpeaker records the participant identity for upcoming binary
// frames.
func (c *Conn) bindSpeaker(participantID, speakerName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.participantID = participantID
	if speakerName != "" {
		c.speakerName = speakerName
	}
}

func (c *Conn) speaker() (participantID, speakerName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.participantID, c.speakerName
}

// setSampleRate remembers the PCM rate from the last audio_metadata.
func (c *Conn) setSampleRate(rate int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sampleRate = rate
}

func (c *Conn) getSampleRate() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sampleRate == 0 {
		return 16000
	}
	return c.sampleRate
}

// writeLoop owns the websocket write side: it drains the send queue
// and keeps the connection alive with pings.
func (c *Conn) writeLoop() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			deadline := time.Now().Add(c.writeTimeout)
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			_ = c.ws.Close()
			return

		case payload := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Debug("write failed, closing", "error", err)
				c.Kick()
				return
			}

		case <-ticker.C:
			deadline := time.Now().Add(c.writeTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debug("ping failed, closing", "error", err)
				c.Kick()
				return
			}
		}
	}
}
