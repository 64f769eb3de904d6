package speaker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/voxmeet/voxmeet/pkg/core/stt"
)

// ManagerOptions tune the registry's reaper.
type ManagerOptions struct {
	// ReapInterval is how often idle streams are swept.
	ReapInterval time.Duration
	// IdleTimeout is how long without a frame before a stream is
	// destroyed.
	IdleTimeout time.Duration

	Clock  func() time.Time
	Logger *slog.Logger
}

func (o ManagerOptions) withDefaults() ManagerOptions {
	if o.ReapInterval <= 0 {
		o.ReapInterval = 30 * time.Second
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 30 * time.Second
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

type streamKey struct {
	sessionID     string
	participantID string
}

// Manager is the registry of speaker streams keyed by
// (session, participant). A background reaper destroys streams that
// have gone quiet.
type Manager struct {
	client      stt.Client
	opts        ManagerOptions
	streamOpts  Options
	logger      *slog.Logger
	mu          sync.Mutex
	streams     map[streamKey]*Stream
	done        chan struct{}
	destroyOnce sync.Once
}

// NewManager creates a registry and starts its reaper.
func NewManager(client stt.Client, streamOpts Options, opts ManagerOptions) *Manager {
	opts = opts.withDefaults()
	m := &Manager{
		client:     client,
		opts:       opts,
		streamOpts: streamOpts,
		logger:     opts.Logger,
		streams:    make(map[streamKey]*Stream),
		done:       make(chan struct{}),
	}
	go m.reapLoop()
	return m
}

// GetOrCreate returns the stream for (session, participant), creating
// it on first use. created reports whether this call constructed it,
// so the caller can wire event consumers exactly once.
func (m *Manager) GetOrCreate(cfg Config) (s *Stream, created bool) {
	key := streamKey{cfg.SessionID, cfg.ParticipantID}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.streams[key]; ok {
		return s, false
	}
	s = New(m.client, cfg, m.streamOpts)
	m.streams[key] = s
	m.logger.Info("speaker stream created",
		"session_id", cfg.SessionID, "participant_id", cfg.ParticipantID)
	return s, true
}

// Get returns the stream for (session, participant), if any.
func (m *Manager) Get(sessionID, participantID string) (*Stream, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[streamKey{sessionID, participantID}]
	return s, ok
}

// StopStream stops and removes one stream.
func (m *Manager) StopStream(sessionID, participantID string) {
	key := streamKey{sessionID, participantID}
	m.mu.Lock()
	s, ok := m.streams[key]
	delete(m.streams, key)
	m.mu.Unlock()
	if ok {
		s.Stop()
	}
}

// StopSession stops and removes every stream of one session.
func (m *Manager) StopSession(sessionID string) {
	m.mu.Lock()
	var victims []*Stream
	for key, s := range m.streams {
		if key.sessionID == sessionID {
			victims = append(victims, s)
			delete(m.streams, key)
		}
	}
	m.mu.Unlock()
	for _, s := range victims {
		s.Stop()
	}
}

// Len returns the number of live streams.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}

// Destroy stops every stream and the reaper. Called on shutdown.
func (m *Manager) Destroy() {
	m.destroyOnce.Do(func() { close(m.done) })

	m.mu.Lock()
	victims := make([]*Stream, 0, len(m.streams))
	for key, s := range m.streams {
		victims = append(victims, s)
		delete(m.streams, key)
	}
	m.mu.Unlock()
	for _, s := range victims {
		s.Stop()
	}
}

func (m *Manager) reapLoop() {
	ticker := time.NewTicker(m.opts.ReapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.reap()
		}
	}
}

func (m *Manager) reap() {
	now := m.opts.Clock()

	m.mu.Lock()
	var victims []*Stream
	for key, s := range m.streams {
		if now.Sub(s.LastActivity()) > m.opts.IdleTimeout {
			victims = append(victims, s)
			delete(m.streams, key)
			m.logger.Info("reaping idle speaker stream",
				"session_id", key.sessionID, "participant_id", key.participantID)
		}
	}
	m.mu.Unlock()

	for _, s := range victims {
		s.Stop()
	}
}
