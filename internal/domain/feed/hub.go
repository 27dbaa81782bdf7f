package feed

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/floodwatch/floodwatch-api/internal/observability"
	"github.com/floodwatch/floodwatch-api/internal/pkg/logger"
)

const feedChannel = "floodwatch:moderation"

type envelope struct {
	Event            Event  `json:"event"`
	SenderInstanceID string `json:"sender_instance_id"`
}

// Connection is one moderator websocket
type Connection struct {
	UserID int64
	Conn   *websocket.Conn
	Send   chan []byte
}

// Hub fans moderation events out to connected moderators. With Redis every
// API instance receives every event; without it delivery is local only.
type Hub struct {
	connections map[*Connection]bool

	redis  *redis.Client
	pubsub *redis.PubSub

	mu sync.RWMutex

	register   chan *Connection
	unregister chan *Connection

	ctx    context.Context
	cancel context.CancelFunc

	instanceID string
	metrics    *observability.Metrics
}

// NewHub creates a feed hub
func NewHub(redisClient *redis.Client, metrics *observability.Metrics) *Hub {
	return NewHubWithInstanceID(redisClient, metrics, uuid.NewString())
}

// NewHubWithInstanceID creates a feed hub with an explicit instance identifier.
func NewHubWithInstanceID(redisClient *redis.Client, metrics *observability.Metrics, instanceID string) *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	h := &Hub{
		connections: make(map[*Connection]bool),
		redis:       redisClient,
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		ctx:         ctx,
		cancel:      cancel,
		instanceID:  instanceID,
		metrics:     metrics,
	}

	if redisClient != nil {
		h.pubsub = redisClient.Subscribe(ctx, feedChannel)
	}

	return h
}

// Run starts the hub (call in goroutine)
func (h *Hub) Run() {
	if h.pubsub != nil {
		go h.runRedisSubscriber()
	}

	for {
		select {
		case <-h.ctx.Done():
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn] = true
			h.mu.Unlock()
			h.gauge(1)
			log.Debug().Int64("user_id", conn.UserID).Msg("Moderator connected to feed")

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn]; ok {
				delete(h.connections, conn)
				close(conn.Send)
				h.gauge(-1)
			}
			h.mu.Unlock()
			log.Debug().Int64("user_id", conn.UserID).Msg("Moderator disconnected from feed")
		}
	}
}

func (h *Hub) runRedisSubscriber() {
	ch := h.pubsub.Channel()

	for {
		select {
		case <-h.ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				continue
			}
			// Own events were already delivered locally.
			if env.SenderInstanceID == h.instanceID {
				continue
			}

			data, err := json.Marshal(env.Event)
			if err != nil {
				continue
			}
			h.broadcastLocal(data)
		}
	}
}

// Publish delivers event to local moderators and, through Redis, to every
// other instance. Failures are logged and never returned.
func (h *Hub) Publish(ctx context.Context, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		logger.FromContext(ctx).Error().Err(err).Msg("Failed to marshal feed event")
		return
	}

	h.broadcastLocal(data)

	if h.redis == nil {
		return
	}

	payload, err := json.Marshal(envelope{Event: event, SenderInstanceID: h.instanceID})
	if err != nil {
		return
	}
	if err := h.redis.Publish(context.WithoutCancel(ctx), feedChannel, payload).Err(); err != nil {
		logger.FromContext(ctx).Warn().
			Err(err).
			Str("event_type", string(event.Type)).
			Msg("Redis publish failed, feed event delivered locally only")
	}
}

func (h *Hub) broadcastLocal(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn := range h.connections {
		select {
		case conn.Send <- data:
		default:
			log.Warn().Int64("user_id", conn.UserID).Msg("Feed send buffer full, dropping event")
		}
	}
}

// Register adds a connection
func (h *Hub) Register(conn *Connection) {
	h.register <- conn
}

// Unregister removes a connection
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.ctx.Done():
	}
}

// ConnectionCount returns number of local connections
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Shutdown stops the hub
func (h *Hub) Shutdown() {
	h.cancel()
	if h.pubsub != nil {
		h.pubsub.Close()
	}
}

func (h *Hub) gauge(delta float64) {
	if h.metrics != nil {
		h.metrics.FeedConnections.Add(delta)
	}
}
