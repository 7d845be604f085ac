package output

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultChannel is the pub/sub channel spoken text is published on.
const DefaultChannel = "okpi:speech"

// Publisher is the part of a Redis client the sink needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// Utterance is the message published for each emission.
type Utterance struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// RedisConfig holds configuration for the Redis sink.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string

	// Timeout bounds each publish (default 2s)
	Timeout time.Duration
}

// Redis publishes every emission to a Redis channel, where a speech
// synthesizer can pick it up.
type Redis struct {
	pub     Publisher
	client  *redis.Client // nil when built around a custom Publisher
	channel string
	timeout time.Duration
	log     zerolog.Logger

	published atomic.Int64
	failed    atomic.Int64
}

// DialRedis connects to Redis and verifies the connection.
func DialRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	r := NewRedis(rdb, cfg.Channel, cfg.Timeout)
	r.client = rdb
	return r, nil
}

// NewRedis builds a sink around an existing publisher.
func NewRedis(pub Publisher, channel string, timeout time.Duration) *Redis {
	if channel == "" {
		channel = DefaultChannel
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Redis{
		pub:     pub,
		channel: channel,
		timeout: timeout,
		log:     log.With().Str("component", "redis-sink").Str("channel", channel).Logger(),
	}
}

// Emit publishes text. Failures are logged and counted, never returned.
func (r *Redis) Emit(text string) {
	payload, err := json.Marshal(Utterance{
		ID:        uuid.NewString(),
		Text:      text,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		r.failed.Add(1)
		r.log.Error().Err(err).Msg("marshal utterance")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.pub.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.failed.Add(1)
		r.log.Warn().Err(err).Msg("publish failed")
		return
	}
	r.published.Add(1)
}

// Counts returns how many emissions were published and how many failed.
func (r *Redis) Counts() (published, failed int64) {
	return r.published.Load(), r.failed.Load()
}

// Close releases the client created by DialRedis.
func (r *Redis) Close() error {
	if r.client == nil {
		return nil
	}
	return r.client.Close()
}
