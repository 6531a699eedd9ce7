package redis

import (
	"context"
	"fmt"
)

// PubSub fans messages out across instances on a channel-per-topic basis.
type PubSub struct {
	client *Client
	prefix string
}

func NewPubSub(c *Client, prefix string) *PubSub {
	return &PubSub{client: c, prefix: prefix}
}

func (p *PubSub) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := p.client.Publish(ctx, p.prefix+topic, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe streams payloads for topic until ctx ends. The returned channel is
// closed when the subscription stops.
func (p *PubSub) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	sub := p.client.Subscribe(ctx, p.prefix+topic)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
