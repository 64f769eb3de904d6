package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/voxmeet/voxmeet/pkg/core/speaker"
	"github.com/voxmeet/voxmeet/pkg/gateway/room"
	"github.com/voxmeet/voxmeet/pkg/store"
)

// Janitor tears down rooms whose session has expired or disappeared:
// every speaker stream and listener connection must terminate with the
// session.
type Janitor struct {
	Hub      *room.Hub
	Manager  *speaker.Manager
	Sessions store.SessionStore
	Logger   *slog.Logger
	Interval time.Duration
	Clock    func() time.Time

	done chan struct{}
}

// Start launches the sweep loop. Call Stop on shutdown.
func (j *Janitor) Start() {
	if j.Interval <= 0 {
		j.Interval = 30 * time.Second
	}
	if j.Clock == nil {
		j.Clock = time.Now
	}
	if j.Logger == nil {
		j.Logger = slog.Default()
	}
	j.done = make(chan struct{})
	go j.loop()
}

// Stop halts the sweep loop.
func (j *Janitor) Stop() {
	if j.done != nil {
		close(j.done)
	}
}

func (j *Janitor) loop() {
	ticker := time.NewTicker(j.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.Sweep()
		}
	}
}

// Sweep ends every room whose session is expired or gone.
func (j *Janitor) Sweep() {
	if j.Clock == nil {
		j.Clock = time.Now
	}
	if j.Logger == nil {
		j.Logger = slog.Default()
	}
	now := j.Clock()
	for _, sessionID := range j.Hub.Sessions() {
		sess, err := j.Sessions.GetSession(context.Background(), sessionID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			j.Logger.Warn("room for deleted session, tearing down", "session_id", sessionID)
		case err != nil:
			j.Logger.Error("session lookup failed during sweep", "session_id", sessionID, "error", err)
			continue
		case !sess.Expired(now):
			continue
		default:
			j.Logger.Info("session expired, tearing down", "session_id", sessionID)
		}
		j.Manager.StopSession(sessionID)
		j.Hub.EndSession(sessionID)
	}
}
