package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/exchange-engine/internal/core/domain"
	"github.com/rl1809/exchange-engine/internal/port"
)

const (
	ledgerKeyPrefix = "exchange:idem:"
	inFlightMarker  = "__inflight__"

	// inFlightTTL bounds how long a crashed attempt can hold its key.
	// Much shorter than the result retention: an orphaned marker answers
	// RequestInFlight only until it lapses, then the key is fresh again.
	inFlightTTL = 5 * time.Minute
)

// beginScript makes the fresh/in-flight/completed decision in a single
// atomic step. A missing key is claimed with the in-flight marker under
// its short TTL (ARGV[1]); a marker means another attempt holds the
// key; anything else is the bound terminal result.
var beginScript = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then
	redis.call('SET', KEYS[1], ARGV[2], 'EX', ARGV[1])
	return {'fresh', ''}
end
if v == ARGV[2] then
	return {'inflight', ''}
end
return {'completed', v}
`)

// abandonScript frees the key only while it still holds the in-flight
// marker, so an abandon racing a complete never erases a bound result.
var abandonScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisLedger is the idempotency ledger: (tenant, key) bound to one
// terminal result for a bounded retention window, after which a reused
// key is treated as fresh again.
type RedisLedger struct {
	client    *redis.Client
	retention time.Duration
}

func NewRedisLedger(client *redis.Client, retention time.Duration) *RedisLedger {
	return &RedisLedger{client: client, retention: retention}
}

func (r *RedisLedger) key(tenantID, key string) string {
	return ledgerKeyPrefix + tenantID + ":" + key
}

func (r *RedisLedger) Begin(ctx context.Context, tenantID, key string) (port.BeginOutcome, *domain.ExchangeResult, error) {
	raw, err := beginScript.Run(ctx, r.client,
		[]string{r.key(tenantID, key)},
		int(inFlightTTL.Seconds()), inFlightMarker).Slice()
	if err != nil {
		return port.BeginFresh, nil, fmt.Errorf("ledger begin: %w", err)
	}
	if len(raw) != 2 {
		return port.BeginFresh, nil, fmt.Errorf("ledger begin: unexpected reply %v", raw)
	}

	state, _ := raw[0].(string)
	switch state {
	case "fresh":
		return port.BeginFresh, nil, nil
	case "inflight":
		return port.BeginInFlight, nil, nil
	case "completed":
		payload, _ := raw[1].(string)
		var result domain.ExchangeResult
		if err := json.Unmarshal([]byte(payload), &result); err != nil {
			return port.BeginFresh, nil, fmt.Errorf("decode ledger result: %w", err)
		}
		return port.BeginCompleted, &result, nil
	default:
		return port.BeginFresh, nil, fmt.Errorf("ledger begin: unknown state %q", state)
	}
}

func (r *RedisLedger) Complete(ctx context.Context, tenantID, key string, result *domain.ExchangeResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode ledger result: %w", err)
	}
	if err := r.client.Set(ctx, r.key(tenantID, key), payload, r.retention).Err(); err != nil {
		return fmt.Errorf("ledger complete: %w", err)
	}
	return nil
}

func (r *RedisLedger) Abandon(ctx context.Context, tenantID, key string) error {
	if err := abandonScript.Run(ctx, r.client, []string{r.key(tenantID, key)}, inFlightMarker).Err(); err != nil {
		return fmt.Errorf("ledger abandon: %w", err)
	}
	return nil
}
