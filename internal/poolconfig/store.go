// Package poolconfig implements dynamic pool reconfiguration via Redis:
// the active pool tunables are persisted under a known key and changes
// are broadcast over a pub/sub channel, so a running DataSource can pick
// up a new maxConnections value without a restart (the other tunables are
// stored and delivered, but a running pool does not apply them). Grounded on
// internal/config/redisstore.go's RedisStore (SaveConfig/LoadConfig/
// WatchConfigChanges/PublishReload over go-redis/v9), generalized from
// "reload the whole app config" to "reconfigure one running pool's
// size/timeout knobs".
package poolconfig

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kafitramarna/fibersql/config"
)

const (
	keyPrefix       = "fibersql:poolconfig"
	defaultChannel  = "fibersql:poolconfig:reload"
	watchBufferSize = 10
)

// Tunables is the subset of pool.Config that is persisted and broadcast
// for a running pool. Of these, Reconfigure applies only MaxConnections,
// as a new adaptive target clamped to the [minConnections, maxConnections]
// bounds fixed at Open; the other fields are stored and delivered but not
// applied to the running pool.
type Tunables struct {
	MinConnections    int           `json:"min_connections"`
	MaxConnections    int           `json:"max_connections"`
	IdleTimeout       time.Duration `json:"idle_timeout"`
	KeepaliveTime     time.Duration `json:"keepalive_time"`
	ConnectionTimeout time.Duration `json:"connection_timeout"`
}

// Store persists Tunables to Redis and notifies subscribers of changes.
type Store struct {
	client  *redis.Client
	channel string
	reload  chan Tunables
	closeCh chan struct{}
}

// NewStore dials Redis and verifies connectivity with a short-timeout
// Ping, matching the teacher's "test connection before returning" shape.
func NewStore(cfg config.RedisConfig) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.Database,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("poolconfig: failed to connect to redis: %w", err)
	}

	channel := cfg.Channel
	if channel == "" {
		channel = defaultChannel
	}

	return &Store{
		client:  client,
		channel: channel,
		reload:  make(chan Tunables, watchBufferSize),
		closeCh: make(chan struct{}),
	}, nil
}

// SavePoolConfig persists t and publishes a reload notification so every
// watching process picks it up.
func (s *Store) SavePoolConfig(ctx context.Context, t Tunables) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("poolconfig: failed to marshal tunables: %w", err)
	}
	if err := s.client.Set(ctx, keyPrefix+":main", data, 0).Err(); err != nil {
		return fmt.Errorf("poolconfig: failed to save: %w", err)
	}
	return s.client.Publish(ctx, s.channel, "reload").Err()
}

// LoadPoolConfig reads the currently persisted tunables.
func (s *Store) LoadPoolConfig(ctx context.Context) (Tunables, error) {
	data, err := s.client.Get(ctx, keyPrefix+":main").Result()
	if err == redis.Nil {
		return Tunables{}, fmt.Errorf("poolconfig: no config stored")
	} else if err != nil {
		return Tunables{}, fmt.Errorf("poolconfig: failed to load: %w", err)
	}
	var t Tunables
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return Tunables{}, fmt.Errorf("poolconfig: failed to unmarshal: %w", err)
	}
	return t, nil
}

// WatchPoolConfig subscribes to the reload channel and returns a channel
// delivering the newly loaded Tunables each time one is published.
func (s *Store) WatchPoolConfig(ctx context.Context) (<-chan Tunables, error) {
	pubsub := s.client.Subscribe(ctx, s.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("poolconfig: failed to subscribe: %w", err)
	}
	go s.watchLoop(ctx, pubsub)
	return s.reload, nil
}

func (s *Store) watchLoop(ctx context.Context, pubsub *redis.PubSub) {
	defer pubsub.Close()
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closeCh:
			return
		case msg := <-ch:
			if msg == nil {
				continue
			}
			t, err := s.LoadPoolConfig(ctx)
			if err != nil {
				continue
			}
			select {
			case s.reload <- t:
			default:
				// Reload channel is full: drop the oldest buffered value
				// so the most recent publish is still delivered; stale
				// intermediate values are dropped rather than applied out
				// of order.
				select {
				case <-s.reload:
				default:
				}
				select {
				case s.reload <- t:
				default:
				}
			}
		}
	}
}

// Close stops any running watch loop and closes the Redis client.
func (s *Store) Close() error {
	close(s.closeCh)
	return s.client.Close()
}
