package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-consol/internal/consol"
)

// ErrNoResult indicates no background run stored a statement for the key.
var ErrNoResult = errors.New("jobs: no stored statement")

// RedisResults keeps the latest statement per root and date in Redis so the
// API can serve what the worker computed.
type RedisResults struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisResults constructs the store. A zero ttl keeps results until overwritten.
func NewRedisResults(client *redis.Client, ttl time.Duration) *RedisResults {
	return &RedisResults{client: client, ttl: ttl}
}

func resultKey(root string, asOf time.Time) string {
	return fmt.Sprintf("consol:statement:%s:%s", root, asOf.Format(dateLayout))
}

// Save stores st under its root and as-of date.
func (r *RedisResults) Save(ctx context.Context, st consol.Statement) error {
	if r == nil || r.client == nil {
		return nil
	}
	body, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, resultKey(st.RootID, st.AsOf), body, r.ttl).Err()
}

// Load returns the raw JSON statement stored for root and asOf.
func (r *RedisResults) Load(ctx context.Context, root string, asOf time.Time) (json.RawMessage, error) {
	if r == nil || r.client == nil {
		return nil, ErrNoResult
	}
	body, err := r.client.Get(ctx, resultKey(root, asOf)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoResult
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}
