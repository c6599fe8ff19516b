package repository

import (
	"context"

	"course-billing/internal/domain/model"
)

// SubscriptionRepository is the port for user subscriptions.
type SubscriptionRepository interface {
	// UpsertActive writes s as the user's single active subscription: the
	// existing active row has its tier and end date replaced in place,
	// otherwise s is inserted. The stored row is returned.
	UpsertActive(ctx context.Context, tx Tx, s *model.Subscription) (*model.Subscription, error)
	FindActiveByUser(ctx context.Context, tx Tx, userID string) (*model.Subscription, error)
}

// CoursePurchaseRepository is the port for course licenses.
type CoursePurchaseRepository interface {
	// InsertIfAbsent reports whether a new row was written; an existing
	// (user, course) pair is not an error.
	InsertIfAbsent(ctx context.Context, tx Tx, cp *model.CoursePurchase) (bool, error)
	ListByUser(ctx context.Context, tx Tx, userID string) ([]*model.CoursePurchase, error)
}

// EntitlementCache drops any cached entitlement reads for a user. The
// engine calls it after a grant commits.
type EntitlementCache interface {
	InvalidateUser(ctx context.Context, userID string)
}
