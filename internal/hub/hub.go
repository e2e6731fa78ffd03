// Package hub is the partition broadcast registry: a mapping from server
// partition to the set of subscribed connections, mutated only through
// subscribe/unsubscribe and consulted only at broadcast time.
package hub

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/wanderers-live/merchant-tracker/internal/model"
)

// Conn is one subscribed connection handle. Implemented by the websocket
// peer; kept as an interface so the hub stays transport-agnostic.
type Conn interface {
	SendGroupUpdate(group *model.MerchantGroup) error
}

type hubMetrics struct {
	broadcasts     prometheus.Counter
	deliveryErrors prometheus.Counter
	subscribers    prometheus.Gauge
}

func newHubMetrics(reg prometheus.Registerer) *hubMetrics {
	if reg == nil {
		return nil
	}
	return &hubMetrics{
		broadcasts: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "tracker_broadcasts_total",
			Help: "Group updates fanned out to partitions",
		}),
		deliveryErrors: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "tracker_broadcast_delivery_errors_total",
			Help: "Individual connection writes that failed during fan-out",
		}),
		subscribers: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "tracker_subscribed_connections",
			Help: "Connections currently joined to any partition",
		}),
	}
}

// Hub tracks which connections listen to which server partition.
type Hub struct {
	mu         sync.Mutex
	partitions map[string]map[Conn]struct{}
	log        *zap.Logger
	metrics    *hubMetrics
}

// New constructs an empty hub. The registerer may be nil to disable metrics.
func New(log *zap.Logger, reg prometheus.Registerer) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		partitions: make(map[string]map[Conn]struct{}),
		log:        log,
		metrics:    newHubMetrics(reg),
	}
}

// Subscribe joins a connection to a server partition.
func (h *Hub) Subscribe(server string, c Conn) {
	h.mu.Lock()
	set, ok := h.partitions[server]
	if !ok {
		set = make(map[Conn]struct{})
		h.partitions[server] = set
	}
	_, already := set[c]
	set[c] = struct{}{}
	h.mu.Unlock()
	if !already && h.metrics != nil {
		h.metrics.subscribers.Inc()
	}
}

// Unsubscribe removes a connection from a server partition unconditionally.
func (h *Hub) Unsubscribe(server string, c Conn) {
	h.mu.Lock()
	removed := false
	if set, ok := h.partitions[server]; ok {
		if _, present := set[c]; present {
			delete(set, c)
			removed = true
		}
		if len(set) == 0 {
			delete(h.partitions, server)
		}
	}
	h.mu.Unlock()
	if removed && h.metrics != nil {
		h.metrics.subscribers.Dec()
	}
}

// Drop removes a connection from every partition. Called on connection close.
func (h *Hub) Drop(c Conn) {
	h.mu.Lock()
	removed := 0
	for server, set := range h.partitions {
		if _, present := set[c]; present {
			delete(set, c)
			removed++
		}
		if len(set) == 0 {
			delete(h.partitions, server)
		}
	}
	h.mu.Unlock()
	if h.metrics != nil {
		for i := 0; i < removed; i++ {
			h.metrics.subscribers.Dec()
		}
	}
}

// BroadcastGroup delivers an updated group to every connection subscribed
// to the server. The subscriber set is snapshotted under the lock and
// written outside it; a failed write is logged and evicts the connection,
// never rolling back the state change that triggered the broadcast.
func (h *Hub) BroadcastGroup(server string, group *model.MerchantGroup) {
	h.mu.Lock()
	set := h.partitions[server]
	conns := make([]Conn, 0, len(set))
	for c := range set {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.broadcasts.Inc()
	}
	for _, c := range conns {
		if err := c.SendGroupUpdate(group); err != nil {
			h.log.Warn("broadcast delivery failed",
				zap.String("server", server),
				zap.String("merchant", group.MerchantName),
				zap.Error(err),
			)
			if h.metrics != nil {
				h.metrics.deliveryErrors.Inc()
			}
			h.Drop(c)
		}
	}
}
