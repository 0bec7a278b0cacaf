/*
Package relay shares room fan-outs between hub instances over Redis pub/sub.

Every instance publishes the frames it fans out locally and injects frames published by
other instances into its own hub. Presence and room membership stay per instance.
*/
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"relaychat/internal/app/realtime"
	"relaychat/internal/pkg/logx"
)

const (
	// DefaultChannel is the pub/sub channel deliveries travel on.
	DefaultChannel = "relaychat:fanout"

	outboxSize = 1024
)

// Sink receives deliveries published by other instances.
type Sink func(d realtime.Delivery)

// Stats counts relay traffic.
type Stats struct {
	Published uint64 `json:"published"`
	Dropped   uint64 `json:"dropped"`
	Received  uint64 `json:"received"`
	Errors    uint64 `json:"errors"`
}

// Redis implements realtime.Relay.
type Redis struct {
	client     *redis.Client
	channel    string
	instanceID string

	outbox chan realtime.Delivery

	published atomic.Uint64
	dropped   atomic.Uint64
	received  atomic.Uint64
	errors    atomic.Uint64

	logger zerolog.Logger
}

var _ realtime.Relay = (*Redis)(nil)

// Connect parses a redis:// URL and verifies the server answers.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return client, nil
}

// NewRedis returns a relay publishing on channel as instanceID.
func NewRedis(client *redis.Client, channel, instanceID string) *Redis {
	if channel == "" {
		channel = DefaultChannel
	}

	return &Redis{
		client:     client,
		channel:    channel,
		instanceID: instanceID,
		outbox:     make(chan realtime.Delivery, outboxSize),
		logger:     logx.Component("Relay").With().Str("instance_id", instanceID).Logger(),
	}
}

// Publish queues d for publishing; a full queue drops it.
func (r *Redis) Publish(d realtime.Delivery) {
	select {
	case r.outbox <- d:
	default:
		r.dropped.Add(1)
		r.logger.Warn().Str("room", d.Room.String()).Msg("Relay outbox full, delivery dropped.")
	}
}

// Stats returns the current counters.
func (r *Redis) Stats() Stats {
	return Stats{
		Published: r.published.Load(),
		Dropped:   r.dropped.Load(),
		Received:  r.received.Load(),
		Errors:    r.errors.Load(),
	}
}

// Run publishes queued deliveries and feeds deliveries from other instances to sink
// until ctx is cancelled.
func (r *Redis) Run(ctx context.Context, sink Sink) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed before publishing anything.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	r.logger.Info().Str("channel", r.channel).Msg("Relay subscribed.")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.publishLoop(ctx)
	}()

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil

		case msg, ok := <-messages:
			if !ok {
				wg.Wait()
				return nil
			}
			r.handle(msg.Payload, sink)
		}
	}
}

func (r *Redis) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case d := <-r.outbox:
			payload, err := Encode(d)
			if err != nil {
				r.errors.Add(1)
				r.logger.Error().Err(err).Msg("Failed to encode delivery.")
				continue
			}

			if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
				r.errors.Add(1)
				r.logger.Warn().Err(err).Str("room", d.Room.String()).Msg("Relay publish failed.")
				continue
			}
			r.published.Add(1)
		}
	}
}

func (r *Redis) handle(payload string, sink Sink) {
	d, err := Decode(payload)
	if err != nil {
		r.errors.Add(1)
		r.logger.Warn().Err(err).Msg("Dropped malformed relay payload.")
		return
	}

	if d.Origin == r.instanceID {
		return
	}

	r.received.Add(1)
	sink(d)
}

// Encode serializes a delivery for the wire.
func Encode(d realtime.Delivery) ([]byte, error) {
	return json.Marshal(d)
}

// Decode parses a payload produced by Encode.
func Decode(payload string) (realtime.Delivery, error) {
	var d realtime.Delivery
	if err := json.Unmarshal([]byte(payload), &d); err != nil {
		return d, fmt.Errorf("decode delivery: %w", err)
	}
	if d.Origin == "" || len(d.Frame) == 0 {
		return d, fmt.Errorf("decode delivery: missing origin or frame")
	}
	return d, nil
}
