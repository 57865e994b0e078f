package messaging

import (
	"context"
	"encoding/json"
	"fmt"
)

const (
	TopicOrderCreated  = "order.created"
	TopicOrderApproved = "order.approved"
)

// HandlerFunc processes one message payload.
type HandlerFunc func(ctx context.Context, payload []byte) error

// JSON adapts a typed handler to a HandlerFunc that decodes the payload
// into T first.
func JSON[T any](fn func(ctx context.Context, event T) error) HandlerFunc {
	return func(ctx context.Context, payload []byte) error {
		var event T
		if err := json.Unmarshal(payload, &event); err != nil {
			return fmt.Errorf("unmarshal %T: %w", event, err)
		}
		return fn(ctx, event)
	}
}
