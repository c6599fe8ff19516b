package repository

import (
	"context"
	"time"

	"course-billing/internal/domain/model"
)

// -----------------------------
// Payment attempts
// -----------------------------

type PaymentRepository interface {
	// Save inserts a new attempt. A duplicate provider reference yields domain.ErrAlreadyExists.
	Save(ctx context.Context, tx Tx, p *model.PaymentAttempt) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.PaymentAttempt, error)
	FindByProviderReference(ctx context.Context, tx Tx, ref string) (*model.PaymentAttempt, error)

	// TransitionFromPending moves the attempt to a terminal status only if it
	// is still pending, merging meta into the stored metadata. It reports
	// whether this call performed the transition.
	TransitionFromPending(ctx context.Context, tx Tx, id string, to model.PaymentStatus, providerStatus string, meta map[string]any, at time.Time) (bool, error)
	// ClaimGrant stamps granted_at on a succeeded, ungranted attempt and
	// reports whether this call owns the grant.
	ClaimGrant(ctx context.Context, tx Tx, id string, at time.Time) (bool, error)
	LinkSubscription(ctx context.Context, tx Tx, id, subscriptionID string) error

	ListSucceededUngranted(ctx context.Context, tx Tx, limit int) ([]*model.PaymentAttempt, error)
	// ClaimStalePending returns up to limit pending attempts created before
	// olderThan, least recently checked first, and stamps them as checked at
	// so the next call moves on to other rows.
	ClaimStalePending(ctx context.Context, tx Tx, olderThan, at time.Time, limit int) ([]*model.PaymentAttempt, error)
}
