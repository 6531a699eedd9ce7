// Package livefeed streams check-in messages to door dashboards. Hub serves a
// single instance; RedisFeed fans out across instances over Redis pub/sub.
package livefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"ticketeer/internal/platform/redis"
	"ticketeer/internal/tickets/models"
	id "ticketeer/pkg/domain"
)

type Feed interface {
	Publish(ctx context.Context, msg models.FeedMessage) error
	Subscribe(ctx context.Context, eventID id.EventID) (<-chan models.FeedMessage, error)
}

const bufferSize = 32

var (
	_ Feed = (*Hub)(nil)
	_ Feed = (*RedisFeed)(nil)
)

// Hub delivers messages to in-process subscribers. A subscriber that falls
// a full buffer behind misses messages rather than stalling check-in.
type Hub struct {
	mu   sync.Mutex
	subs map[id.EventID]map[chan models.FeedMessage]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[id.EventID]map[chan models.FeedMessage]struct{})}
}

func (h *Hub) Publish(_ context.Context, msg models.FeedMessage) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[msg.EventID] {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel that is closed once ctx ends.
func (h *Hub) Subscribe(ctx context.Context, eventID id.EventID) (<-chan models.FeedMessage, error) {
	ch := make(chan models.FeedMessage, bufferSize)
	h.mu.Lock()
	if h.subs[eventID] == nil {
		h.subs[eventID] = make(map[chan models.FeedMessage]struct{})
	}
	h.subs[eventID][ch] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs[eventID], ch)
		if len(h.subs[eventID]) == 0 {
			delete(h.subs, eventID)
		}
		close(ch)
	}()
	return ch, nil
}

// Subscribers reports how many streams watch eventID.
func (h *Hub) Subscribers(eventID id.EventID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[eventID])
}

type RedisFeed struct {
	pubsub *redis.PubSub
	logger *slog.Logger
}

func NewRedisFeed(pubsub *redis.PubSub, logger *slog.Logger) *RedisFeed {
	return &RedisFeed{pubsub: pubsub, logger: logger}
}

func topic(eventID id.EventID) string {
	return "checkins:" + eventID.String()
}

func (f *RedisFeed) Publish(ctx context.Context, msg models.FeedMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode feed message: %w", err)
	}
	return f.pubsub.Publish(ctx, topic(msg.EventID), payload)
}

func (f *RedisFeed) Subscribe(ctx context.Context, eventID id.EventID) (<-chan models.FeedMessage, error) {
	raw, err := f.pubsub.Subscribe(ctx, topic(eventID))
	if err != nil {
		return nil, err
	}
	out := make(chan models.FeedMessage, bufferSize)
	go func() {
		defer close(out)
		for payload := range raw {
			var msg models.FeedMessage
			if err := json.Unmarshal(payload, &msg); err != nil {
				f.logger.WarnContext(ctx, "dropping malformed feed message", "event_id", eventID, "error", err)
				continue
			}
			select {
			case out <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
