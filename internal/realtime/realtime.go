package realtime

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/AnshRaj112/tagtrack-backend/internal/models"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	channelPrefix  = "location:device:"
	channelPattern = channelPrefix + "*"

	// subscriberBuffer is how many events a slow subscriber may lag before
	// events are dropped for it.
	subscriberBuffer = 8
)

// Event is the payload published over Redis and written to WebSockets.
type Event struct {
	Type     string                `json:"type"`
	DeviceID string                `json:"device_id"`
	Location models.LocationRecord `json:"location"`
}

// Channel returns the Redis channel for a device.
func Channel(deviceID uuid.UUID) string {
	return channelPrefix + deviceID.String()
}

// Publisher announces newly persisted records.
type Publisher struct {
	client *redis.Client
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) PublishLocation(ctx context.Context, rec models.LocationRecord) error {
	data, err := json.Marshal(Event{Type: "location", DeviceID: rec.DeviceID.String(), Location: rec})
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, Channel(rec.DeviceID), data).Err()
}

// Hub fans events from one shared Redis pattern subscription out to the
// local subscribers of each device.
type Hub struct {
	client *redis.Client
	logger *zap.Logger

	mu   sync.RWMutex
	subs map[string]map[chan Event]struct{}

	startOnce sync.Once
}

func NewHub(client *redis.Client, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		client: client,
		logger: logger,
		subs:   make(map[string]map[chan Event]struct{}),
	}
}

// Subscribe registers a local listener for deviceID. The returned func
// unregisters it and closes the channel.
func (h *Hub) Subscribe(deviceID uuid.UUID) (<-chan Event, func()) {
	key := deviceID.String()
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	if h.subs[key] == nil {
		h.subs[key] = make(map[chan Event]struct{})
	}
	h.subs[key][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[key], ch)
			if len(h.subs[key]) == 0 {
				delete(h.subs, key)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns how many local listeners a device has.
func (h *Hub) Subscribers(deviceID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[deviceID.String()])
}

// Dispatch delivers event to local subscribers without blocking.
func (h *Hub) Dispatch(event Event) {
	if event.DeviceID == "" {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs[event.DeviceID] {
		select {
		case ch <- event:
		default:
			h.logger.Warn("dropping location event for slow subscriber", zap.String("device_id", event.DeviceID))
		}
	}
}

// Start launches the shared Redis listener once per hub.
func (h *Hub) Start(ctx context.Context) {
	h.startOnce.Do(func() {
		go h.run(ctx)
	})
}

func (h *Hub) run(ctx context.Context) {
	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		func() {
			pubsub := h.client.PSubscribe(ctx, channelPattern)
			defer pubsub.Close()

			h.logger.Info("location subscriber started", zap.String("pattern", channelPattern))

			for {
				msg, err := pubsub.ReceiveMessage(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					h.logger.Warn("location subscriber error", zap.Error(err), zap.Duration("backoff", backoff))
					select {
					case <-ctx.Done():
					case <-time.After(backoff):
					}
					backoff *= 2
					if backoff > 30*time.Second {
						backoff = 30 * time.Second
					}
					return
				}

				backoff = time.Second

				var event Event
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					h.logger.Warn("failed to decode location event", zap.Error(err))
					continue
				}
				if event.DeviceID == "" {
					event.DeviceID = strings.TrimPrefix(msg.Channel, channelPrefix)
				}

				h.Dispatch(event)
			}
		}()
	}
}
