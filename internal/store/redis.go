// Package store provides access to the Redis backing store holding the
// persisted route set, the credential records, and the route change feed.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/streamgw/internal/observability"
	"github.com/vyrodovalexey/streamgw/internal/routing"
)

// Redis key layout. Routes live in one hash keyed by the composite
// "merchant:channel" form; credentials live in a hash keyed by username.
const (
	routesHashKey = "routes"
	usersHashKey  = "users"
)

// ErrUserNotFound indicates that no credential record exists for a username.
var ErrUserNotFound = errors.New("user not found")

// Config holds Redis connection settings.
type Config struct {
	URL          string
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Store wraps the shared Redis client. One Store (one connection pool)
// serves the startup route load, credential lookups, and the change feed
// subscription for the whole process.
type Store struct {
	logger observability.Logger
	client *redis.Client
}

// New creates a Store and verifies connectivity with a ping.
func New(cfg Config, logger observability.Logger) (*Store, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis URL is required")
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}

	client := redis.NewClient(opts)

	if err := ping(client); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info("redis store connected",
		observability.String("addr", opts.Addr),
		observability.Int("poolSize", opts.PoolSize))

	return &Store{logger: logger, client: client}, nil
}

// NewWithClient creates a Store around an existing client. Used by tests.
func NewWithClient(client *redis.Client, logger observability.Logger) *Store {
	return &Store{logger: logger, client: client}
}

// ping tests the Redis connection with a timeout.
func ping(client *redis.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return client.Ping(ctx).Err()
}

// routeRecord is the stored value shape for a route hash field.
type routeRecord struct {
	Address string           `json:"address"`
	Users   routing.UserList `json:"users"`
}

// LoadRoutes performs the full scan of the persisted route set.
func (s *Store) LoadRoutes(ctx context.Context) ([]routing.Route, error) {
	entries, err := s.client.HGetAll(ctx, routesHashKey).Result()
	if err != nil {
		return nil, fmt.Errorf("route scan failed: %w", err)
	}

	routes := make([]routing.Route, 0, len(entries))
	for key, value := range entries {
		merchant, channel, ok := strings.Cut(key, ":")
		if !ok {
			return nil, fmt.Errorf("malformed route key %q", key)
		}

		var record routeRecord
		if err := json.Unmarshal([]byte(value), &record); err != nil {
			return nil, fmt.Errorf("malformed route record for %q: %w", key, err)
		}

		routes = append(routes, routing.RoutePayload{
			Merchant: merchant,
			Channel:  channel,
			Address:  record.Address,
			Users:    record.Users,
		}.Route())
	}

	return routes, nil
}

// Credentials is a stored credential record.
type Credentials struct {
	// ID is the opaque user identifier that becomes the request identity.
	ID string
	// Secret is the stored password, compared for equality at login.
	Secret string
}

// userRecord is the stored value shape for a credential hash field.
// The id may be persisted as a JSON string or number.
type userRecord struct {
	ID       scalarID `json:"id"`
	Password string   `json:"password"`
}

// scalarID canonicalizes a JSON string or number to its string form.
type scalarID string

func (id *scalarID) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = scalarID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("user id is neither string nor number: %w", err)
	}
	*id = scalarID(n.String())
	return nil
}

// GetUser fetches the credential record for a username.
// Returns ErrUserNotFound when no record exists.
func (s *Store) GetUser(ctx context.Context, username string) (Credentials, error) {
	value, err := s.client.HGet(ctx, usersHashKey, username).Result()
	if errors.Is(err, redis.Nil) {
		return Credentials{}, ErrUserNotFound
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("credential lookup failed: %w", err)
	}

	var record userRecord
	if err := json.Unmarshal([]byte(value), &record); err != nil {
		return Credentials{}, fmt.Errorf("malformed credential record for %q: %w", username, err)
	}

	return Credentials{ID: string(record.ID), Secret: record.Password}, nil
}

// Subscribe opens a pub/sub subscription on the given feed channel.
// The caller owns the returned subscription and must close it.
func (s *Store) Subscribe(ctx context.Context, channel string) *redis.PubSub {
	return s.client.Subscribe(ctx, channel)
}

// Close releases the Redis client and its connection pool. It must only
// be called after every subscription on this store has been closed.
func (s *Store) Close() error {
	s.logger.Info("redis store closing")
	return s.client.Close()
}
