package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"course-billing/internal/domain"
	"course-billing/internal/domain/model"
	"course-billing/internal/domain/ports/repository"
)

var _ repository.CoursePurchaseRepository = (*coursePurchaseRepo)(nil)

type coursePurchaseRepo struct {
	pool *pgxpool.Pool
}

func NewCoursePurchaseRepo(pool *pgxpool.Pool) *coursePurchaseRepo {
	return &coursePurchaseRepo{pool: pool}
}

// InsertIfAbsent leaves an existing (user, course) license untouched.
func (r *coursePurchaseRepo) InsertIfAbsent(ctx context.Context, tx repository.Tx, cp *model.CoursePurchase) (bool, error) {
	if cp == nil || cp.UserID == "" || cp.CourseID == "" {
		return false, domain.ErrInvalidArgument
	}
	if cp.PurchasedAt.IsZero() {
		cp.PurchasedAt = time.Now().UTC()
	}
	const q = `
INSERT INTO course_purchases (id, user_id, course_id, price_paid, payment_id, purchased_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (user_id, course_id) DO NOTHING;`

	cmd, err := execSQL(ctx, r.pool, tx, q, cp.ID, cp.UserID, cp.CourseID, cp.PricePaid, nullable(cp.PaymentID), cp.PurchasedAt)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *coursePurchaseRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.CoursePurchase, error) {
	const q = `
SELECT id, user_id, course_id, price_paid, payment_id, purchased_at
  FROM course_purchases
 WHERE user_id=$1
 ORDER BY purchased_at DESC;`
	rows, err := queryRows(ctx, r.pool, tx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.CoursePurchase
	for rows.Next() {
		var (
			cp        model.CoursePurchase
			paymentID *string
		)
		if err := rows.Scan(&cp.ID, &cp.UserID, &cp.CourseID, &cp.PricePaid, &paymentID, &cp.PurchasedAt); err != nil {
			return nil, scanError(ctx, err)
		}
		cp.PaymentID = deref(paymentID)
		out = append(out, &cp)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(ctx, err)
	}
	return out, nil
}
