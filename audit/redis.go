package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	goredis "github.com/go-redis/redis/v8"
)

// RedisConfig configures the Redis stream sink.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string // e.g. "futuresbot:audit"
	MaxLen   int64  // approximate stream trim length; <= 0 never trims
}

// Redis appends events to a Redis stream so external monitors can tail the
// trail with XREAD without touching the SQLite file.
type Redis struct {
	client *goredis.Client
	stream string
	maxLen int64
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	if cfg.Stream == "" {
		return nil, fmt.Errorf("redis audit: stream name is required")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &Redis{client: client, stream: cfg.Stream, maxLen: cfg.MaxLen}, nil
}

func (r *Redis) Append(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("redis audit: marshal: %w", err)
	}
	if err := r.client.XAdd(ctx, r.xaddArgs(e, data)).Err(); err != nil {
		return fmt.Errorf("redis audit: xadd %s: %w", r.stream, err)
	}
	return nil
}

// xaddArgs trims the stream only when a positive MaxLen was configured;
// retention is otherwise left to whoever operates Redis.
func (r *Redis) xaddArgs(e Event, data []byte) *goredis.XAddArgs {
	args := &goredis.XAddArgs{
		Stream: r.stream,
		Values: map[string]interface{}{
			"id":          e.ID,
			"ts":          e.Time.Format(time.RFC3339Nano),
			"kind":        string(e.Kind),
			"position_id": e.PositionID,
			"detail":      e.Detail,
			"data":        data,
		},
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	return args
}

// Recent reads back up to n events, oldest first.
func (r *Redis) Recent(ctx context.Context, n int64) ([]Event, error) {
	msgs, err := r.client.XRevRangeN(ctx, r.stream, "+", "-", n).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		raw, ok := msgs[i].Values["data"].(string)
		if !ok {
			continue
		}
		var e Event
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("redis audit: decode %s: %w", msgs[i].ID, err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
