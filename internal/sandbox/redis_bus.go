package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// InvalidationChannel is the Redis pub/sub channel carrying invalidations.
const InvalidationChannel = "duck-sandbox:policy-invalidate"

// RedisBus distributes invalidations over Redis pub/sub so that every
// instance sharing the metastore drops its cached policies.
type RedisBus struct {
	client *redis.Client
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRedisBus connects to url (redis://[password@]host:port[/db]).
func NewRedisBus(ctx context.Context, url string, logger *slog.Logger) (*RedisBus, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("connected to redis for policy invalidation", "addr", opts.Addr)

	busCtx, cancel := context.WithCancel(context.Background())
	return &RedisBus{client: client, logger: logger, ctx: busCtx, cancel: cancel}, nil
}

func (b *RedisBus) Publish(ctx context.Context, inv Invalidation) error {
	payload, err := json.Marshal(inv)
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, InvalidationChannel, payload).Err(); err != nil {
		return fmt.Errorf("publish invalidation: %w", err)
	}
	return nil
}

// Subscribe returns once the subscription is confirmed by the server.
func (b *RedisBus) Subscribe(ctx context.Context, handler func(Invalidation)) error {
	pubsub := b.client.Subscribe(b.ctx, InvalidationChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("subscribe %s: %w", InvalidationChannel, err)
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer pubsub.Close() //nolint:errcheck

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-b.ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var inv Invalidation
				if err := json.Unmarshal([]byte(msg.Payload), &inv); err != nil {
					b.logger.Warn("dropping malformed invalidation", "error", err)
					continue
				}
				handler(inv)
			}
		}
	}()
	return nil
}

func (b *RedisBus) Close() error {
	b.cancel()
	b.wg.Wait()
	return b.client.Close()
}
