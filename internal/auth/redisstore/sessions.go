// Package redisstore keeps sessions in Redis. Users and verification codes
// stay in PostgreSQL.
package redisstore

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/vestri/authcore/internal/auth"
)

const (
	sessionPrefix     = "session:"
	userSessionPrefix = "user_sessions:"

	fieldUserID  = "user_id"
	fieldExpires = "expires_ms"
)

func sessionKey(id string) string      { return sessionPrefix + id }
func userIndexKey(userID string) string { return userSessionPrefix + userID }

// SessionRepository implements auth.SessionRepository with one hash per
// session and a set of session ids per user. Session keys carry a Redis
// expiry matching ExpiresAt.
type SessionRepository struct {
	rdb redis.UniversalClient
}

func NewSessionRepository(rdb redis.UniversalClient) *SessionRepository {
	return &SessionRepository{rdb: rdb}
}

func (r *SessionRepository) Create(ctx context.Context, sess *auth.Session) error {
	key := sessionKey(sess.ID)

	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		fieldUserID:  sess.UserID,
		fieldExpires: sess.ExpiresAt.UnixMilli(),
	})
	pipe.PExpireAt(ctx, key, sess.ExpiresAt)
	pipe.SAdd(ctx, userIndexKey(sess.UserID), sess.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return oops.Code("SESSION_INSERT_FAILED").
			With("user_id", sess.UserID).
			Wrap(err)
	}
	return nil
}

func (r *SessionRepository) Get(ctx context.Context, id string) (*auth.Session, error) {
	vals, err := r.rdb.HGetAll(ctx, sessionKey(id)).Result()
	if err != nil {
		return nil, oops.Code("SESSION_GET_FAILED").Wrap(err)
	}
	if len(vals) == 0 {
		return nil, oops.Code("SESSION_NOT_FOUND").Wrap(auth.ErrNotFound)
	}

	ms, err := strconv.ParseInt(vals[fieldExpires], 10, 64)
	if err != nil {
		return nil, oops.Code("SESSION_CORRUPT").
			With("field", fieldExpires).
			Wrap(err)
	}
	return &auth.Session{
		ID:        id,
		UserID:    vals[fieldUserID],
		ExpiresAt: time.UnixMilli(ms).UTC(),
	}, nil
}

func (r *SessionRepository) UpdateExpiry(ctx context.Context, id string, expiresAt time.Time) error {
	key := sessionKey(id)
	n, err := r.rdb.Exists(ctx, key).Result()
	if err != nil {
		return oops.Code("SESSION_UPDATE_FAILED").Wrap(err)
	}
	if n == 0 {
		return nil
	}

	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, key, fieldExpires, expiresAt.UnixMilli())
	pipe.PExpireAt(ctx, key, expiresAt)
	if _, err := pipe.Exec(ctx); err != nil {
		return oops.Code("SESSION_UPDATE_FAILED").Wrap(err)
	}
	return nil
}

func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	key := sessionKey(id)
	userID, err := r.rdb.HGet(ctx, key, fieldUserID).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return oops.Code("SESSION_DELETE_QUERY_FAILED").Wrap(err)
	}

	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, key)
	if userID != "" {
		pipe.SRem(ctx, userIndexKey(userID), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return oops.Code("SESSION_DELETE_QUERY_FAILED").Wrap(err)
	}
	return nil
}

func (r *SessionRepository) DeleteByUser(ctx context.Context, userID string) error {
	index := userIndexKey(userID)
	ids, err := r.rdb.SMembers(ctx, index).Result()
	if err != nil {
		return oops.Code("SESSION_DELETE_BY_USER_QUERY_FAILED").
			With("user_id", userID).
			Wrap(err)
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, sessionKey(id))
	}
	keys = append(keys, index)
	if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
		return oops.Code("SESSION_DELETE_BY_USER_QUERY_FAILED").
			With("user_id", userID).
			Wrap(err)
	}
	return nil
}

// DeleteExpired removes index entries whose session key Redis has already
// expired, and returns how many were removed. The session hashes expire on
// their own.
func (r *SessionRepository) DeleteExpired(ctx context.Context, _ time.Time) (int64, error) {
	var removed int64
	iter := r.rdb.Scan(ctx, 0, userSessionPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		index := iter.Val()
		ids, err := r.rdb.SMembers(ctx, index).Result()
		if err != nil {
			return removed, oops.Code("SESSION_DELETE_EXPIRED_FAILED").Wrap(err)
		}
		for _, id := range ids {
			n, err := r.rdb.Exists(ctx, sessionKey(id)).Result()
			if err != nil {
				return removed, oops.Code("SESSION_DELETE_EXPIRED_FAILED").Wrap(err)
			}
			if n > 0 {
				continue
			}
			if err := r.rdb.SRem(ctx, index, id).Err(); err != nil {
				return removed, oops.Code("SESSION_DELETE_EXPIRED_FAILED").Wrap(err)
			}
			removed++
		}
	}
	if err := iter.Err(); err != nil {
		return removed, oops.Code("SESSION_DELETE_EXPIRED_FAILED").Wrap(err)
	}
	return removed, nil
}
