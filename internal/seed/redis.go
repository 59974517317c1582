package seed

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/agentworkforce/relaycollab/internal/collab"
	"github.com/redis/go-redis/v9"
)

const defaultRedisKeyPrefix = "relaycollab:doc:"

// RedisSource reads the seed of room from the string key <prefix><room>.
type RedisSource struct {
	client *redis.Client
	prefix string
}

// NewRedisSource accepts a redis URL; a prefix query parameter sets the key
// prefix and is removed before the URL reaches the client options parser.
func NewRedisSource(dsn string) (*RedisSource, error) {
	parsed, err := url.Parse(strings.TrimSpace(dsn))
	if err != nil {
		return nil, err
	}
	query := parsed.Query()
	prefix := query.Get("prefix")
	if prefix == "" {
		prefix = defaultRedisKeyPrefix
	}
	query.Del("prefix")
	parsed.RawQuery = query.Encode()

	opts, err := redis.ParseURL(parsed.String())
	if err != nil {
		return nil, fmt.Errorf("parse redis dsn: %w", err)
	}
	return &RedisSource{client: redis.NewClient(opts), prefix: prefix}, nil
}

func (s *RedisSource) Load(ctx context.Context, room string) (string, bool, error) {
	if err := collab.ValidateRoomID(room); err != nil {
		return "", false, err
	}
	text, err := s.client.Get(ctx, s.prefix+room).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load seed for %s: %w", room, err)
	}
	return text, true, nil
}

func (s *RedisSource) Close() error {
	return s.client.Close()
}
