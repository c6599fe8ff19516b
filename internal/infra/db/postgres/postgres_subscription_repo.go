package postgres

import (
	"context"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"course-billing/internal/domain"
	"course-billing/internal/domain/model"
	"course-billing/internal/domain/ports/repository"
)

var _ repository.SubscriptionRepository = (*subscriptionRepo)(nil)

type subscriptionRepo struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepo(pool *pgxpool.Pool) *subscriptionRepo {
	return &subscriptionRepo{pool: pool}
}

// UpsertActive relies on the partial unique index on (user_id) WHERE is_active.
// A renewal keeps the row id and start date and replaces tier and end date.
func (r *subscriptionRepo) UpsertActive(ctx context.Context, tx repository.Tx, s *model.Subscription) (*model.Subscription, error) {
	if s == nil || s.UserID == "" || !s.Tier.Valid() {
		return nil, domain.ErrInvalidArgument
	}
	const q = `
INSERT INTO user_subscriptions (id, user_id, tier, start_date, end_date, is_active, updated_at)
VALUES ($1,$2,$3,$4,$5,TRUE,$6)
ON CONFLICT (user_id) WHERE is_active DO UPDATE SET
  tier = EXCLUDED.tier,
  end_date = EXCLUDED.end_date,
  updated_at = EXCLUDED.updated_at
RETURNING id, user_id, tier, start_date, end_date, is_active, updated_at;`

	row, err := pickRow(ctx, r.pool, tx, q, s.ID, s.UserID, string(s.Tier), s.StartDate, s.EndDate, s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return scanSubscription(ctx, row)
}

func (r *subscriptionRepo) FindActiveByUser(ctx context.Context, tx repository.Tx, userID string) (*model.Subscription, error) {
	const q = `
SELECT id, user_id, tier, start_date, end_date, is_active, updated_at
  FROM user_subscriptions
 WHERE user_id=$1 AND is_active;`
	row, err := pickRow(ctx, r.pool, tx, q, userID)
	if err != nil {
		return nil, err
	}
	return scanSubscription(ctx, row)
}

func scanSubscription(ctx context.Context, row pgx.Row) (*model.Subscription, error) {
	var (
		s    model.Subscription
		tier string
	)
	if err := row.Scan(&s.ID, &s.UserID, &tier, &s.StartDate, &s.EndDate, &s.IsActive, &s.UpdatedAt); err != nil {
		return nil, scanError(ctx, err)
	}
	s.Tier = model.Tier(tier)
	return &s, nil
}
