// internal/validate/anticheat.go
package validate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/dmitrsh/pokerroom/internal/models"
)

const (
	lastActionKeyPrefix = "last_action:"
	historyKeyPrefix    = "action_history:"

	lastActionTTL = 5 * time.Minute
	historyTTL    = time.Hour
	historyLen    = 10

	// minActionInterval is the floor between two accepted actions from the
	// same user. Anything faster is bot-speed input.
	minActionInterval = 500 * time.Millisecond

	// repeatThreshold rejects when the same type:amount pair already fills
	// this many slots of the rolling history.
	repeatThreshold = 3
)

// ActionLog stores the per-user action timing and the rolling per-room
// action history the anti-cheat heuristics read.
type ActionLog interface {
	LastAction(ctx context.Context, userID uuid.UUID) (time.Time, error) // zero when absent
	SetLastAction(ctx context.Context, userID uuid.UUID, at time.Time) error
	Append(ctx context.Context, userID uuid.UUID, roomID, entry string) error
	History(ctx context.Context, userID uuid.UUID, roomID string) ([]string, error) // most recent first
}

// RedisActionLog implements ActionLog on the shared cache using the
// last_action:{userId} and action_history:{userId}:{roomId} keys.
type RedisActionLog struct {
	rdb *redis.Client
}

// NewRedisActionLog wraps a connected client.
func NewRedisActionLog(rdb *redis.Client) *RedisActionLog {
	return &RedisActionLog{rdb: rdb}
}

func lastActionKey(userID uuid.UUID) string { return lastActionKeyPrefix + userID.String() }

func historyKey(userID uuid.UUID, roomID string) string {
	return historyKeyPrefix + userID.String() + ":" + roomID
}

func (l *RedisActionLog) LastAction(ctx context.Context, userID uuid.UUID) (time.Time, error) {
	raw, err := l.rdb.Get(ctx, lastActionKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read last action for %s: %w", userID, err)
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed last action timestamp for %s: %w", userID, err)
	}
	return time.UnixMilli(ms), nil
}

func (l *RedisActionLog) SetLastAction(ctx context.Context, userID uuid.UUID, at time.Time) error {
	return l.rdb.Set(ctx, lastActionKey(userID), strconv.FormatInt(at.UnixMilli(), 10), lastActionTTL).Err()
}

func (l *RedisActionLog) Append(ctx context.Context, userID uuid.UUID, roomID, entry string) error {
	key := historyKey(userID, roomID)
	pipe := l.rdb.Pipeline()
	pipe.LPush(ctx, key, entry)
	pipe.LTrim(ctx, key, 0, historyLen-1)
	pipe.Expire(ctx, key, historyTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (l *RedisActionLog) History(ctx context.Context, userID uuid.UUID, roomID string) ([]string, error) {
	return l.rdb.LRange(ctx, historyKey(userID, roomID), 0, historyLen-1).Result()
}

// AntiCheat applies the timing-floor and repeated-pattern heuristics.
type AntiCheat struct {
	logbook ActionLog
	log     *logrus.Logger
	now     func() time.Time
}

// NewAntiCheat wires the heuristics onto an action log.
func NewAntiCheat(logbook ActionLog, log *logrus.Logger) *AntiCheat {
	return &AntiCheat{logbook: logbook, log: log, now: time.Now}
}

func actionEntry(action models.PlayerAction) string {
	return action.Type + ":" + strconv.FormatInt(action.Amount, 10)
}

// Check runs the anti-cheat pass for a candidate action. It rejects
// bot-speed input and mechanical repeats; the alternating a/b/a/b pattern is
// flagged for observability but never blocks.
func (a *AntiCheat) Check(ctx context.Context, userID uuid.UUID, roomID string, action models.PlayerAction) Verdict {
	last, err := a.logbook.LastAction(ctx, userID)
	if err != nil {
		a.log.WithError(err).Warn("anti-cheat: failed to read last action time")
	} else if !last.IsZero() && a.now().Sub(last) < minActionInterval {
		return fail(models.CodeRateLimited, "acting too quickly")
	}

	history, err := a.logbook.History(ctx, userID, roomID)
	if err != nil {
		a.log.WithError(err).Warn("anti-cheat: failed to read action history")
		return ok()
	}

	entry := actionEntry(action)
	repeats := 0
	for _, h := range history {
		if h == entry {
			repeats++
		}
	}
	if repeats >= repeatThreshold {
		return fail(models.CodeInvalidAction, "suspicious repeated action")
	}

	if len(history) >= 4 && history[0] == history[2] && history[1] == history[3] && history[0] != history[1] {
		// detect but don't block
		a.log.WithFields(logrus.Fields{
			"user": userID,
			"room": roomID,
		}).Warn("anti-cheat: alternating action pattern detected")
	}
	return ok()
}

// Record logs one accepted action: the timing floor reads the timestamp, the
// repeat detector reads the history.
func (a *AntiCheat) Record(ctx context.Context, userID uuid.UUID, roomID string, action models.PlayerAction) {
	now := a.now()
	if err := a.logbook.SetLastAction(ctx, userID, now); err != nil {
		a.log.WithError(err).Warn("anti-cheat: failed to record last action time")
	}
	if err := a.logbook.Append(ctx, userID, roomID, actionEntry(action)); err != nil {
		a.log.WithError(err).Warn("anti-cheat: failed to append action history")
	}
}
