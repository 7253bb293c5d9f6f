package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const reportKeyPrefix = "consol:reported"

// ReportCache keeps reported balances in Redis, one hash per as-of date.
type ReportCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewReportCache instantiates the cache. A zero ttl keeps entries forever.
func NewReportCache(client *redis.Client, ttl time.Duration) *ReportCache {
	return &ReportCache{client: client, ttl: ttl}
}

func reportKey(date time.Time) string {
	return reportKeyPrefix + ":" + date.Format("2006-01-02")
}

func pairField(a, b string) string {
	return a + "|" + b
}

// Put stores reported balances for date, normalising each pair so EntityA
// sorts first.
func (c *ReportCache) Put(ctx context.Context, date time.Time, reports ...Reported) error {
	if c == nil || c.client == nil || len(reports) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(reports)*2)
	for _, rep := range reports {
		rep = normalise(rep)
		values = append(values, pairField(rep.EntityA, rep.EntityB), rep.Net.String())
	}
	key := reportKey(date)
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key, values...)
	if c.ttl > 0 {
		pipe.Expire(ctx, key, c.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Get returns the reported net of a against b for date.
func (c *ReportCache) Get(ctx context.Context, date time.Time, a, b string) (decimal.Decimal, bool, error) {
	if c == nil || c.client == nil {
		return decimal.Zero, false, nil
	}
	flip := a > b
	if flip {
		a, b = b, a
	}
	raw, err := c.client.HGet(ctx, reportKey(date), pairField(a, b)).Result()
	if err == redis.Nil {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	net, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("reconcile: cached balance %s|%s: %w", a, b, err)
	}
	if flip {
		net = net.Neg()
	}
	return net, true, nil
}

// All returns every reported balance cached for date ordered by pair.
func (c *ReportCache) All(ctx context.Context, date time.Time) ([]Reported, error) {
	if c == nil || c.client == nil {
		return nil, nil
	}
	raw, err := c.client.HGetAll(ctx, reportKey(date)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Reported, 0, len(raw))
	for field, value := range raw {
		a, b, ok := strings.Cut(field, "|")
		if !ok {
			continue
		}
		net, err := decimal.NewFromString(value)
		if err != nil {
			return nil, fmt.Errorf("reconcile: cached balance %s: %w", field, err)
		}
		out = append(out, Reported{EntityA: a, EntityB: b, Net: net})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntityA != out[j].EntityA {
			return out[i].EntityA < out[j].EntityA
		}
		return out[i].EntityB < out[j].EntityB
	})
	return out, nil
}

// Drop removes every reported balance cached for date.
func (c *ReportCache) Drop(ctx context.Context, date time.Time) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, reportKey(date)).Err()
}

func normalise(rep Reported) Reported {
	if rep.EntityA > rep.EntityB {
		return Reported{EntityA: rep.EntityB, EntityB: rep.EntityA, Net: rep.Net.Neg()}
	}
	return rep
}
