package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"course-billing/internal/domain/model"
	"course-billing/internal/domain/ports/repository"
	"course-billing/internal/infra/metrics"
	red "course-billing/internal/infra/redis"
)

var (
	_ repository.SubscriptionRepository   = (*entitlementRepoCacheDecorator)(nil)
	_ repository.CoursePurchaseRepository = (*entitlementRepoCacheDecorator)(nil)
	_ repository.EntitlementCache         = (*entitlementRepoCacheDecorator)(nil)
)

// entitlementRepoCacheDecorator caches the per-user entitlement reads.
// Reads inside a transaction always go to the inner repositories.
type entitlementRepoCacheDecorator struct {
	subs    repository.SubscriptionRepository
	courses repository.CoursePurchaseRepository
	cache   red.RedisClient
	ttl     time.Duration
}

func NewEntitlementRepoCacheDecorator(
	subs repository.SubscriptionRepository, courses repository.CoursePurchaseRepository, cache red.RedisClient, ttl time.Duration,
) *entitlementRepoCacheDecorator {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &entitlementRepoCacheDecorator{subs: subs, courses: courses, cache: cache, ttl: ttl}
}

func subKey(userID string) string     { return fmt.Sprintf("entitlement:sub:%s", userID) }
func coursesKey(userID string) string { return fmt.Sprintf("entitlement:courses:%s", userID) }

// InvalidateUser is called after commit; the write paths also invalidate
// before writing, which narrows but does not close the pre-commit window.
func (d *entitlementRepoCacheDecorator) InvalidateUser(ctx context.Context, userID string) {
	_ = d.cache.Del(ctx, subKey(userID), coursesKey(userID))
}

func (d *entitlementRepoCacheDecorator) UpsertActive(ctx context.Context, tx repository.Tx, s *model.Subscription) (*model.Subscription, error) {
	if s != nil {
		_ = d.cache.Del(ctx, subKey(s.UserID))
	}
	return d.subs.UpsertActive(ctx, tx, s)
}

func (d *entitlementRepoCacheDecorator) FindActiveByUser(ctx context.Context, tx repository.Tx, userID string) (*model.Subscription, error) {
	if tx != nil {
		return d.subs.FindActiveByUser(ctx, tx, userID)
	}
	key := subKey(userID)
	var cached model.Subscription
	if d.lookup(ctx, "subscription", key, &cached) {
		return &cached, nil
	}

	s, err := d.subs.FindActiveByUser(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	d.store(ctx, key, s)
	return s, nil
}

func (d *entitlementRepoCacheDecorator) InsertIfAbsent(ctx context.Context, tx repository.Tx, cp *model.CoursePurchase) (bool, error) {
	if cp != nil {
		_ = d.cache.Del(ctx, coursesKey(cp.UserID))
	}
	return d.courses.InsertIfAbsent(ctx, tx, cp)
}

func (d *entitlementRepoCacheDecorator) ListByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.CoursePurchase, error) {
	if tx != nil {
		return d.courses.ListByUser(ctx, tx, userID)
	}
	key := coursesKey(userID)
	var cached []*model.CoursePurchase
	if d.lookup(ctx, "course_purchases", key, &cached) {
		return cached, nil
	}

	list, err := d.courses.ListByUser(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	d.store(ctx, key, list)
	return list, nil
}

func (d *entitlementRepoCacheDecorator) lookup(ctx context.Context, name, key string, dst any) bool {
	val, err := d.cache.Get(ctx, key)
	switch {
	case err == nil:
		if json.Unmarshal([]byte(val), dst) == nil {
			metrics.IncCacheRequest(name, "hit")
			return true
		}
	case !errors.Is(err, redis.Nil):
		metrics.IncCacheRequest(name, "error")
		return false
	}
	metrics.IncCacheRequest(name, "miss")
	return false
}

func (d *entitlementRepoCacheDecorator) store(ctx context.Context, key string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = d.cache.Set(ctx, key, b, d.ttl)
}
