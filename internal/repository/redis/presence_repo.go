package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"mediconnect-backend/internal/database"
)

// PresenceRepository tracks which participants are live in a
// conversation. Two sorted sets per conversation:
//
//	presence:<id>  member=userID score=activation time (unix nano)
//	heartbeat:<id> member=userID score=last heartbeat (unix seconds)
//
// The activation score is the compare-and-set guard: a deactivation
// carrying an older activation timestamp than the stored one is a
// stale request from a previous connection and must not remove the
// participant.
type PresenceRepository struct {
	client *database.RedisClient
	ttl    time.Duration
}

// NewPresenceRepository creates a new PresenceRepository. ttl bounds
// how long a conversation's presence keys outlive the last heartbeat.
func NewPresenceRepository(client *database.RedisClient, ttl time.Duration) *PresenceRepository {
	return &PresenceRepository{client: client, ttl: ttl}
}

func presenceKey(conversationID string) string {
	return fmt.Sprintf("presence:%s", conversationID)
}

func heartbeatKey(conversationID string) string {
	return fmt.Sprintf("heartbeat:%s", conversationID)
}

// markInactiveScript removes a member only while the stored activation
// score is not newer than the one the caller observed. A reactivation
// that raced ahead keeps the participant active and the script
// returns 0.
const markInactiveScript = `
local score = redis.call('ZSCORE', KEYS[1], ARGV[1])
if not score then
	return 0
end
if tonumber(score) > tonumber(ARGV[2]) then
	return 0
end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('ZREM', KEYS[2], ARGV[1])
return 1
`

// MarkActive records a participant as live, stamping the activation
// time used as the guard for later deactivations. Last write wins.
func (r *PresenceRepository) MarkActive(ctx context.Context, conversationID, userID string, activatedAt time.Time) error {
	now := time.Now()

	if err := r.client.SafeZAdd(ctx, presenceKey(conversationID), userID, float64(activatedAt.UnixNano())).Err(); err != nil {
		return fmt.Errorf("failed to mark participant active: %w", err)
	}
	if err := r.client.SafeZAdd(ctx, heartbeatKey(conversationID), userID, float64(now.Unix())).Err(); err != nil {
		return fmt.Errorf("failed to record heartbeat: %w", err)
	}

	r.client.SafeExpire(ctx, presenceKey(conversationID), r.ttl)
	r.client.SafeExpire(ctx, heartbeatKey(conversationID), r.ttl)

	return nil
}

// MarkInactive removes a participant if and only if the stored
// activation is not newer than observedActivation. Returns true when
// the removal applied, false when it was a stale no-op.
func (r *PresenceRepository) MarkInactive(ctx context.Context, conversationID, userID string, observedActivation time.Time) (bool, error) {
	res, err := r.client.SafeEval(ctx, markInactiveScript,
		[]string{presenceKey(conversationID), heartbeatKey(conversationID)},
		userID, observedActivation.UnixNano(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("failed to mark participant inactive: %w", err)
	}

	return res == 1, nil
}

// Heartbeat refreshes the liveness stamp of an already-active
// participant without touching its activation score.
func (r *PresenceRepository) Heartbeat(ctx context.Context, conversationID, userID string) error {
	if err := r.client.SafeZAdd(ctx, heartbeatKey(conversationID), userID, float64(time.Now().Unix())).Err(); err != nil {
		return fmt.Errorf("failed to record heartbeat: %w", err)
	}

	r.client.SafeExpire(ctx, heartbeatKey(conversationID), r.ttl)

	return nil
}

// ActiveParticipants lists the user IDs whose last heartbeat is inside
// the window, with their activation timestamps. Members that stopped
// beating stay in the presence set until the stale sweep deactivates
// them, but they never show up here.
func (r *PresenceRepository) ActiveParticipants(ctx context.Context, conversationID string, window time.Duration) (map[string]time.Time, error) {
	minBeat := time.Now().Add(-window).Unix()

	live, err := r.client.SafeZRangeByScore(ctx, heartbeatKey(conversationID), &goredis.ZRangeBy{
		Min: strconv.FormatInt(minBeat, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list active participants: %w", err)
	}

	active := make(map[string]time.Time, len(live))
	for _, userID := range live {
		score, err := r.client.SafeZScore(ctx, presenceKey(conversationID), userID).Result()
		if err != nil {
			if err == goredis.Nil {
				continue
			}
			return nil, fmt.Errorf("failed to read activation time: %w", err)
		}
		active[userID] = time.Unix(0, int64(score))
	}

	return active, nil
}

// StaleParticipants lists members whose heartbeat fell outside the
// window, with the activation timestamp to pass back to MarkInactive.
func (r *PresenceRepository) StaleParticipants(ctx context.Context, conversationID string, window time.Duration) (map[string]time.Time, error) {
	maxBeat := time.Now().Add(-window).Unix()

	dead, err := r.client.SafeZRangeByScore(ctx, heartbeatKey(conversationID), &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(maxBeat, 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list stale participants: %w", err)
	}

	stale := make(map[string]time.Time, len(dead))
	for _, userID := range dead {
		score, err := r.client.SafeZScore(ctx, presenceKey(conversationID), userID).Result()
		if err != nil {
			if err == goredis.Nil {
				continue
			}
			return nil, fmt.Errorf("failed to read activation time: %w", err)
		}
		stale[userID] = time.Unix(0, int64(score))
	}

	return stale, nil
}

// IsActive reports whether a participant currently has a presence
// entry, regardless of heartbeat freshness.
func (r *PresenceRepository) IsActive(ctx context.Context, conversationID, userID string) (bool, error) {
	_, err := r.client.SafeZScore(ctx, presenceKey(conversationID), userID).Result()
	if err != nil {
		if err == goredis.Nil {
			return false, nil
		}
		return false, fmt.Errorf("failed to check presence: %w", err)
	}
	return true, nil
}
