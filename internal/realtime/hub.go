package realtime

import (
	"log/slog"
	"time"

	"go-chat-live/internal/telemetry"
)

type HubConfig struct {
	GracePeriod  time.Duration
	StoreTimeout time.Duration
	// Strict turns invariant violations into panics.
	Strict bool
}

// Hub wires the registry, presence tracker and router together and hands
// out one Lifecycle per transport.
type Hub struct {
	Registry *Registry
	Presence *Tracker
	Router   *Router

	verifier     Verifier
	storeTimeout time.Duration
	strict       bool
	metrics      *telemetry.Metrics
	log          *slog.Logger
}

func NewHub(cfg HubConfig, verifier Verifier, messages MessageStore, status StatusStore, logger *slog.Logger, metrics *telemetry.Metrics) *Hub {
	if metrics == nil {
		metrics = telemetry.Noop()
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	registry := NewRegistry()
	return &Hub{
		Registry: registry,
		Presence: NewTracker(registry, status, TrackerConfig{
			GracePeriod:  cfg.GracePeriod,
			StoreTimeout: cfg.StoreTimeout,
		}, logger, metrics),
		Router:       NewRouter(registry, messages, cfg.StoreTimeout, logger, metrics),
		verifier:     verifier,
		storeTimeout: cfg.StoreTimeout,
		strict:       cfg.Strict,
		metrics:      metrics,
		log:          logger.With("component", "hub"),
	}
}

func (h *Hub) NewLifecycle() *Lifecycle {
	return &Lifecycle{hub: h, state: StateConnecting}
}

// Stop cancels pending presence timers.
func (h *Hub) Stop() {
	h.Presence.Stop()
}

func (h *Hub) invariant(err error) {
	if h.strict {
		panic(err)
	}
	h.log.Error("Invariant violation", "error", err)
}
