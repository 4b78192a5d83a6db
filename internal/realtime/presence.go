package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go-chat-live/internal/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const DefaultGracePeriod = 5 * time.Second

// StatusStore mirrors presence into persistence. The registry stays the
// source of truth; the stored flag serves REST reads.
type StatusStore interface {
	SetOnlineStatus(ctx context.Context, userID string, online bool) error
}

type TrackerConfig struct {
	GracePeriod  time.Duration
	StoreTimeout time.Duration
}

type pendingOffline struct {
	userID      string
	scheduledAt time.Time
	token       uint64
	timer       *time.Timer
}

// Tracker turns registry transitions into user:online and user:offline
// broadcasts. A last disconnect is announced only after the grace period,
// and a reconnect inside it cancels the announcement.
type Tracker struct {
	registry *Registry
	store    StatusStore
	cfg      TrackerConfig
	metrics  *telemetry.Metrics
	log      *slog.Logger

	// mu also serializes announcements so an online never precedes the
	// offline it follows.
	mu      sync.Mutex
	pending map[string]*pendingOffline
	seq     uint64
	stopped bool
}

func NewTracker(registry *Registry, store StatusStore, cfg TrackerConfig, logger *slog.Logger, metrics *telemetry.Metrics) *Tracker {
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	return &Tracker{
		registry: registry,
		store:    store,
		cfg:      cfg,
		metrics:  metrics,
		log:      logger.With("component", "presence"),
		pending:  make(map[string]*pendingOffline),
	}
}

// Connected handles an admitted connection. Only the user's first
// connection matters: a pending offline is cancelled, or if none was
// pending the user is announced online to everyone, the new connection
// included.
func (t *Tracker) Connected(conn *Connection, firstConnection bool) {
	if !firstConnection {
		return
	}
	uid := conn.UserID()

	t.mu.Lock()
	if p, ok := t.pending[uid]; ok {
		p.timer.Stop()
		delete(t.pending, uid)
		t.mu.Unlock()
		t.log.Debug("Reconnect inside grace period", "user", uid, "pending_for", time.Since(p.scheduledAt))
		return
	}
	t.broadcast(EventUserOnline, conn.Profile)
	t.mu.Unlock()

	t.record("online")
	t.mirror(uid, true)
}

// Disconnected schedules the offline announcement after the user's last
// connection is gone. A new schedule supersedes any pending one.
func (t *Tracker) Disconnected(userID string, wasLastConnection bool) {
	if !wasLastConnection || userID == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	if old, ok := t.pending[userID]; ok {
		old.timer.Stop()
	}

	t.seq++
	token := t.seq
	p := &pendingOffline{userID: userID, scheduledAt: time.Now(), token: token}
	p.timer = time.AfterFunc(t.cfg.GracePeriod, func() { t.fire(userID, token) })
	t.pending[userID] = p
}

func (t *Tracker) fire(userID string, token uint64) {
	t.mu.Lock()
	p, ok := t.pending[userID]
	if !ok || p.token != token {
		t.mu.Unlock()
		return
	}
	delete(t.pending, userID)

	if t.registry.IsOnline(userID) {
		t.mu.Unlock()
		t.log.Debug("User back online before grace period elapsed", "user", userID)
		return
	}
	t.broadcast(EventUserOffline, offlineNotice{ID: userID})
	t.mu.Unlock()

	t.record("offline")
	t.mirror(userID, false)
}

// Cancel drops a pending offline announcement, if any.
func (t *Tracker) Cancel(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.pending[userID]; ok {
		p.timer.Stop()
		delete(t.pending, userID)
	}
}

// Pending reports whether an offline announcement is scheduled for userID.
func (t *Tracker) Pending(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[userID]
	return ok
}

// Stop cancels every pending timer. Later disconnects are ignored.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	for uid, p := range t.pending {
		p.timer.Stop()
		delete(t.pending, uid)
	}
}

// broadcast runs with t.mu held. Delivery never blocks.
func (t *Tracker) broadcast(event string, data any) {
	frame, err := encodeFrame(event, data)
	if err != nil {
		t.log.Error("Encode presence event failed", "event", event, "error", err)
		return
	}
	delivered := 0
	for _, c := range t.registry.All() {
		if c.Deliver(frame) {
			delivered++
		}
	}
	t.metrics.FanoutDeliveries.Add(context.Background(), int64(delivered),
		metric.WithAttributes(attribute.String("event", event)))
}

func (t *Tracker) record(status string) {
	t.metrics.PresenceTransitions.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("status", status)))
}

// mirror is best effort: failures are logged and never retried.
func (t *Tracker) mirror(userID string, online bool) {
	if t.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.StoreTimeout)
	defer cancel()
	if err := t.store.SetOnlineStatus(ctx, userID, online); err != nil {
		t.log.Warn("Persist online status failed", "user", userID, "online", online, "error", err)
	}
}
