package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"mediconnect-backend/internal/database"
)

// IdempotencyRepository maps client request IDs to the message they
// produced, so a retried send returns the original message instead of
// appending a duplicate.
type IdempotencyRepository struct {
	client *database.RedisClient
	window time.Duration
}

// NewIdempotencyRepository creates a new IdempotencyRepository. window
// is how long a request ID stays claimable.
func NewIdempotencyRepository(client *database.RedisClient, window time.Duration) *IdempotencyRepository {
	return &IdempotencyRepository{client: client, window: window}
}

func idempotencyKey(senderID, requestID string) string {
	return fmt.Sprintf("idem:%s:%s", senderID, requestID)
}

// Claim tries to bind a request ID to a message ID. Returns (messageID,
// true) when this call won the claim, or the previously bound message
// ID and false when the request was already seen.
func (r *IdempotencyRepository) Claim(ctx context.Context, senderID, requestID, messageID string) (string, bool, error) {
	key := idempotencyKey(senderID, requestID)

	ok, err := r.client.SafeSetNX(ctx, key, messageID, r.window).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to claim request id: %w", err)
	}
	if ok {
		return messageID, true, nil
	}

	existing, err := r.client.SafeGet(ctx, key).Result()
	if err != nil {
		if err == goredis.Nil {
			// The claim expired between SETNX and GET; treat the
			// retry as fresh.
			return messageID, true, nil
		}
		return "", false, fmt.Errorf("failed to read claimed request id: %w", err)
	}

	return existing, false, nil
}

// Release drops a claim after a failed persist so the client retry can
// go through.
func (r *IdempotencyRepository) Release(ctx context.Context, senderID, requestID string) error {
	if err := r.client.SafeDel(ctx, idempotencyKey(senderID, requestID)).Err(); err != nil {
		return fmt.Errorf("failed to release request id: %w", err)
	}
	return nil
}
