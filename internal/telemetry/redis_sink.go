package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"stayalert/internal/microservices/relay"
)

// DefaultChannel is the pub/sub channel readings are published on.
const DefaultChannel = "stayalert:readings"

// ErrNoReading is returned by Latest when nothing was recorded for a role.
var ErrNoReading = errors.New("no reading recorded")

// RedisSink publishes every reading and keeps the latest one per role.
type RedisSink struct {
	client    *redis.Client
	channel   string
	latestTTL time.Duration // 0 keeps the latest key forever
}

// constructor for RedisSink, verifies the connection before returning
func NewRedisSink(redisURL, channel string, latestTTL time.Duration) (*RedisSink, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	client := redis.NewClient(opts)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisSinkWithClient(client, channel, latestTTL), nil
}

// NewRedisSinkWithClient wraps an existing client.
func NewRedisSinkWithClient(client *redis.Client, channel string, latestTTL time.Duration) *RedisSink {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisSink{
		client:    client,
		channel:   channel,
		latestTTL: latestTTL,
	}
}

func latestKey(role string) string {
	return fmt.Sprintf("stayalert:latest:%s", role)
}

// Record publishes the reading and stores it as the role's latest value.
func (s *RedisSink) Record(ctx context.Context, reading relay.Reading) error {
	if s == nil || s.client == nil {
		// No-op for testing/mock mode
		return nil
	}
	payload, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}

	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Publish(ctx, s.channel, payload)
		pipe.Set(ctx, latestKey(reading.Role), payload, s.latestTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish reading to redis: %w", err)
	}
	return nil
}

// Latest returns the last reading recorded for role.
func (s *RedisSink) Latest(ctx context.Context, role string) (*relay.Reading, error) {
	if s == nil || s.client == nil {
		return nil, ErrNoReading
	}
	payload, err := s.client.Get(ctx, latestKey(role)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoReading
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read latest reading: %w", err)
	}

	var reading relay.Reading
	if err := json.Unmarshal(payload, &reading); err != nil {
		return nil, fmt.Errorf("corrupt reading for role %s: %w", role, err)
	}
	return &reading, nil
}

// Close closes the redis client.
func (s *RedisSink) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
