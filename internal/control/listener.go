package control

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Listener consumes the redis control channel
type Listener struct {
	client     *redis.Client
	channel    string
	dispatcher *Dispatcher
	logger     *zap.Logger
}

// NewListener creates a control channel listener
func NewListener(client *redis.Client, channel string, dispatcher *Dispatcher, logger *zap.Logger) *Listener {
	return &Listener{
		client:     client,
		channel:    channel,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Run handles messages one at a time until ctx is done or the subscription closes
func (l *Listener) Run(ctx context.Context) error {
	pubsub := l.client.Subscribe(ctx, l.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", l.channel, err)
	}

	ch := pubsub.Channel()
	l.logger.Info("Listening for control messages", zap.String("channel", l.channel))

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("Control listener stopping", zap.Error(ctx.Err()))
			return nil
		case msg, ok := <-ch:
			if !ok {
				l.logger.Warn("Control subscription closed")
				return nil
			}
			if err := l.dispatcher.Handle(ctx, msg.Payload); err != nil {
				l.logger.Error("Failed to handle control message",
					zap.String("channel", msg.Channel),
					zap.Error(err))
			}
		}
	}
}
