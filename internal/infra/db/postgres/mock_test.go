//go:build !integration

package postgres

import (
	"context"
	"time"

	"course-billing/internal/domain/model"
	"course-billing/internal/domain/ports/repository"
	red "course-billing/internal/infra/redis"
)

// --- Mocks for Cache Decorator Tests ---

type mockInnerSubscriptionRepo struct {
	UpsertActiveFunc     func(ctx context.Context, tx repository.Tx, s *model.Subscription) (*model.Subscription, error)
	FindActiveByUserFunc func(ctx context.Context, tx repository.Tx, userID string) (*model.Subscription, error)
}

func (m *mockInnerSubscriptionRepo) UpsertActive(ctx context.Context, tx repository.Tx, s *model.Subscription) (*model.Subscription, error) {
	return m.UpsertActiveFunc(ctx, tx, s)
}
func (m *mockInnerSubscriptionRepo) FindActiveByUser(ctx context.Context, tx repository.Tx, userID string) (*model.Subscription, error) {
	return m.FindActiveByUserFunc(ctx, tx, userID)
}

type mockInnerCourseRepo struct {
	InsertIfAbsentFunc func(ctx context.Context, tx repository.Tx, cp *model.CoursePurchase) (bool, error)
	ListByUserFunc     func(ctx context.Context, tx repository.Tx, userID string) ([]*model.CoursePurchase, error)
}

func (m *mockInnerCourseRepo) InsertIfAbsent(ctx context.Context, tx repository.Tx, cp *model.CoursePurchase) (bool, error) {
	return m.InsertIfAbsentFunc(ctx, tx, cp)
}
func (m *mockInnerCourseRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.CoursePurchase, error) {
	return m.ListByUserFunc(ctx, tx, userID)
}

// mockRedisClient mocks our Redis client wrapper.
type mockRedisClient struct {
	GetFunc    func(ctx context.Context, key string) (string, error)
	SetFunc    func(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	DelFunc    func(ctx context.Context, keys ...string) error
	PingFunc   func(ctx context.Context) error
	IncrFunc   func(ctx context.Context, key string) (int64, error)
	ExpireFunc func(ctx context.Context, key string, expiration time.Duration) error
	CloseFunc  func() error
}

var _ red.RedisClient = &mockRedisClient{}

func (m *mockRedisClient) Get(ctx context.Context, key string) (string, error) {
	return m.GetFunc(ctx, key)
}
func (m *mockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if m.SetFunc == nil {
		return nil
	}
	return m.SetFunc(ctx, key, value, expiration)
}
func (m *mockRedisClient) Del(ctx context.Context, keys ...string) error {
	if m.DelFunc == nil {
		return nil
	}
	return m.DelFunc(ctx, keys...)
}
func (m *mockRedisClient) Ping(ctx context.Context) error { return m.PingFunc(ctx) }
func (m *mockRedisClient) Incr(ctx context.Context, key string) (int64, error) {
	return m.IncrFunc(ctx, key)
}
func (m *mockRedisClient) Expire(ctx context.Context, key string, expiration time.Duration) error {
	return m.ExpireFunc(ctx, key, expiration)
}
func (m *mockRedisClient) TTL(ctx context.Context, key string) (time.Duration, error) {
	return time.Minute, nil
}
func (m *mockRedisClient) Close() error { return m.CloseFunc() }
