// Package redis implements the track store on Redis via rueidis. Tracks are
// hashes; coarse retrieval runs over an inverted index of code -> track-id
// sets, pipelined with DoMulti.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/rueidis"

	"github.com/tuneprint/tuneprint/internal/storage"
)

// Compile-time check: Store implements storage.TrackStore.
var _ storage.TrackStore = (*Store)(nil)

// Config holds connection parameters for a Redis store.
type Config struct {
	Addrs    []string
	Username string
	Password string
	DB       int

	// KeyPrefix namespaces all keys.
	KeyPrefix string
	// MaxQueryCodes caps the number of distinct codes used per coarse query.
	MaxQueryCodes int
}

// Store implements storage.TrackStore via rueidis.
type Store struct {
	client        rueidis.Client
	prefix        string
	maxQueryCodes int
}

// NewStore creates a Redis store via rueidis.
func NewStore(cfg Config) (*Store, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("addrs is required")
	}
	if cfg.MaxQueryCodes <= 0 {
		cfg.MaxQueryCodes = 1024
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  cfg.Addrs,
		Username:     cfg.Username,
		Password:     cfg.Password,
		SelectDB:     cfg.DB,
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	return &Store{
		client:        client,
		prefix:        cfg.KeyPrefix,
		maxQueryCodes: cfg.MaxQueryCodes,
	}, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	cmd := s.b().Ping().Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Close shuts down the client.
func (s *Store) Close() error {
	s.client.Close()
	return nil
}

// WaitForReady polls Ping until the store responds or timeout expires.
func (s *Store) WaitForReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for database: %w", ctx.Err())
		case <-ticker.C:
			if err := s.Ping(ctx); err == nil {
				return nil
			}
		}
	}
}

func (s *Store) do(ctx context.Context, cmd rueidis.Completed) rueidis.RedisResult {
	return s.client.Do(ctx, cmd)
}

func (s *Store) b() rueidis.Builder {
	return s.client.B()
}

func (s *Store) trackKey(trackID string) string {
	return s.prefix + "track:" + trackID
}

func (s *Store) codeKey(code uint32) string {
	return s.prefix + "code:" + strconv.FormatUint(uint64(code), 10)
}
