package auth

import (
	"context"
)

type contextKey string

const ConsumerKey contextKey = "consumer"

// Consumer identifies an authenticated relay client.
type Consumer struct {
	ID         string
	RemoteAddr string
}

func WithConsumer(ctx context.Context, c *Consumer) context.Context {
	return context.WithValue(ctx, ConsumerKey, c)
}

func GetConsumerFromContext(ctx context.Context) (*Consumer, bool) {
	consumer, ok := ctx.Value(ConsumerKey).(*Consumer)
	return consumer, ok
}
