// Package broker mirrors relay fan-outs between instances over Redis pub/sub.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/mediconnect/consult-relay/internal/chat"
	"github.com/mediconnect/consult-relay/internal/logger"
)

// Receiver delivers envelopes that arrived from other instances.
type Receiver interface {
	Receive(ctx context.Context, env chat.Envelope)
}

// Broker publishes envelopes through one ordered queue, so a conversation's
// events leave this instance in the order they were fanned out locally.
type Broker struct {
	client   *redis.Client
	channel  string
	queue    chan chat.Envelope
	presence *Presence
}

// New connects to redisURL and checks the connection.
func New(ctx context.Context, redisURL, channel string, queueSize int) (*Broker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Broker{client: client, channel: channel, queue: make(chan chat.Envelope, queueSize)}, nil
}

// Publish queues env without blocking. A full queue drops it.
func (b *Broker) Publish(ctx context.Context, env chat.Envelope) {
	select {
	case b.queue <- env:
	default:
		slog.WarnContext(ctx, "broker queue full, dropping envelope", "event", env.Frame.Event)
	}
}

// Run publishes queued envelopes and hands incoming ones to recv until ctx
// ends.
func (b *Broker) Run(ctx context.Context, recv Receiver) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "broker"})
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.publishLoop(ctx) })
	g.Go(func() error { return b.subscribeLoop(ctx, recv) })
	if b.presence != nil {
		g.Go(func() error { return b.presence.run(ctx) })
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (b *Broker) publishLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env := <-b.queue:
			payload, err := json.Marshal(env)
			if err != nil {
				slog.ErrorContext(ctx, "encode envelope", "error", err)
				continue
			}
			if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
				slog.WarnContext(ctx, "publish envelope", "event", env.Frame.Event, "error", err)
			}
		}
	}
}

func (b *Broker) subscribeLoop(ctx context.Context, recv Receiver) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	slog.InfoContext(ctx, "subscribed to relay channel", "channel", b.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("redis subscription closed")
			}
			var env chat.Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				slog.WarnContext(ctx, "discarding malformed envelope", "error", err)
				continue
			}
			recv.Receive(ctx, env)
		}
	}
}

func (b *Broker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *Broker) Close() error {
	return b.client.Close()
}
