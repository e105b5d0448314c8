// Package stream fans out change notices to in-process listeners keyed by
// topic and relays them between server instances over Redis pub/sub.
package stream

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"backend-skitrip/internal/logging"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	channelPrefix = "docs:"
	channelSuffix = ":changed"
	sendBuffer    = 64
)

type Hub struct {
	id      string
	redis   *redis.Client
	logger  *slog.Logger
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex

	cancel context.CancelFunc
	done   chan struct{}
}

// Client receives payloads broadcast on one topic. Send is closed by Unregister.
type Client struct {
	Topic string
	Send  chan []byte
}

func NewHub(redisClient *redis.Client, logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		id:      uuid.NewString(),
		redis:   redisClient,
		logger:  logging.OrDefault(logger),
		clients: map[string]map[*Client]struct{}{},
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	if redisClient != nil {
		pubsub := redisClient.PSubscribe(ctx, channelPrefix+"*"+channelSuffix)
		waitCtx, waitCancel := context.WithTimeout(ctx, 2*time.Second)
		if _, err := pubsub.Receive(waitCtx); err != nil {
			h.logger.Warn("redis subscribe not confirmed", "error", err)
		}
		waitCancel()
		go h.relay(ctx, pubsub)
	} else {
		close(h.done)
	}
	return h
}

func (h *Hub) Register(topic string) *Client {
	client := &Client{
		Topic: topic,
		Send:  make(chan []byte, sendBuffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[topic] == nil {
		h.clients[topic] = map[*Client]struct{}{}
	}
	h.clients[topic][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	topicClients, ok := h.clients[client.Topic]
	if !ok {
		return
	}
	if _, ok := topicClients[client]; !ok {
		return
	}
	delete(topicClients, client)
	if len(topicClients) == 0 {
		delete(h.clients, client.Topic)
	}
	close(client.Send)
}

// Listeners reports how many clients are registered on topic.
func (h *Hub) Listeners(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

// Broadcast delivers payload to local listeners of topic and, when Redis is
// configured, to listeners on other instances. A full client buffer drops the
// payload for that client.
func (h *Hub) Broadcast(topic string, payload []byte) {
	h.deliver(topic, payload)

	if h.redis != nil {
		msg := make([]byte, 0, len(h.id)+1+len(payload))
		msg = append(msg, h.id...)
		msg = append(msg, '\n')
		msg = append(msg, payload...)
		if err := h.redis.Publish(context.Background(), redisChannel(topic), msg).Err(); err != nil {
			h.logger.Warn("redis publish failed", "topic", topic, "error", err)
		}
	}
}

// Close stops the Redis relay.
func (h *Hub) Close() {
	h.cancel()
	<-h.done
}

func (h *Hub) deliver(topic string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[topic] {
		select {
		case client.Send <- payload:
		default:
		}
	}
}

func (h *Hub) relay(ctx context.Context, pubsub *redis.PubSub) {
	defer close(h.done)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			topic := topicFromChannel(msg.Channel)
			if topic == "" {
				continue
			}
			origin, payload, found := bytes.Cut([]byte(msg.Payload), []byte{'\n'})
			if !found {
				h.deliver(topic, []byte(msg.Payload))
				continue
			}
			if string(origin) == h.id {
				continue
			}
			h.deliver(topic, payload)
		}
	}
}

func redisChannel(topic string) string {
	return channelPrefix + topic + channelSuffix
}

func topicFromChannel(ch string) string {
	// docs:{topic}:changed
	if len(ch) <= len(channelPrefix)+len(channelSuffix) {
		return ""
	}
	if !strings.HasPrefix(ch, channelPrefix) || !strings.HasSuffix(ch, channelSuffix) {
		return ""
	}
	return ch[len(channelPrefix) : len(ch)-len(channelSuffix)]
}
