package webhook

import (
	"context"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/blake2b"
)

const (
	dedupeKeyPrefix  = "leadsync:webhook:seen:"
	defaultDedupeTTL = 24 * time.Hour
)

// Deduplicator drops provider redeliveries before they reach the upsert engine. It is
// a fast path only: a nil Deduplicator (no Redis) claims every delivery and the
// engine's conditional writes keep the result correct.
type Deduplicator struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewDeduplicator(client *redis.Client, ttl time.Duration) *Deduplicator {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = defaultDedupeTTL
	}
	return &Deduplicator{client: client, ttl: ttl}
}

// Claim marks key as being processed. It returns false when another delivery already
// claimed it within the TTL.
func (d *Deduplicator) Claim(ctx context.Context, key string) (bool, error) {
	if d == nil || key == "" {
		return true, nil
	}
	return d.client.SetNX(ctx, dedupeKeyPrefix+key, 1, d.ttl).Result()
}

// Release forgets key so that a failed delivery can be retried.
func (d *Deduplicator) Release(ctx context.Context, key string) {
	if d == nil || key == "" {
		return
	}
	_ = d.client.Del(context.WithoutCancel(ctx), dedupeKeyPrefix+key).Err()
}

// DeliveryKey scopes a provider event id to its account. Without an event id the
// payload fingerprint stands in.
func DeliveryKey(provider string, accountID uuid.UUID, eventID string, fingerprint []byte) string {
	id := strings.TrimSpace(eventID)
	if id == "" {
		if len(fingerprint) == 0 {
			return ""
		}
		sum := blake2b.Sum256(fingerprint)
		id = "fp-" + hex.EncodeToString(sum[:16])
	}
	return provider + ":" + accountID.String() + ":" + id
}
