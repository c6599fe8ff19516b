package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"course-billing/internal/domain"
	"course-billing/internal/domain/model"
	"course-billing/internal/domain/ports/repository"
)

var _ repository.PaymentRepository = (*paymentRepo)(nil)

type paymentRepo struct{ pool *pgxpool.Pool }

func NewPaymentRepo(pool *pgxpool.Pool) *paymentRepo {
	return &paymentRepo{pool: pool}
}

const paymentColumns = `id, provider_reference, provider, user_id, amount_minor, currency, kind, tier, course_id,
  status, provider_status, metadata, subscription_id, created_at, updated_at, completed_at, granted_at`

func (r *paymentRepo) Save(ctx context.Context, tx repository.Tx, p *model.PaymentAttempt) error {
	const q = `
INSERT INTO payments (
  id, provider_reference, provider, user_id, amount_minor, currency, kind, tier, course_id,
  status, provider_status, metadata, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12::jsonb,$13,$14);`

	kind, tier, courseID := model.ProductFields(p.Product)
	meta, err := encodeMeta(p.Metadata)
	if err != nil {
		return domain.ErrInvalidArgument
	}
	_, err = execSQL(ctx, r.pool, tx, q,
		p.ID, p.ProviderReference, p.Provider, p.UserID, p.Amount, p.Currency,
		string(kind), nullable(string(tier)), nullable(courseID),
		string(p.Status), p.ProviderStatus, meta, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r *paymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.PaymentAttempt, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanPayment(ctx, row)
}

func (r *paymentRepo) FindByProviderReference(ctx context.Context, tx repository.Tx, ref string) (*model.PaymentAttempt, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE provider_reference=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, ref)
	if err != nil {
		return nil, err
	}
	return scanPayment(ctx, row)
}

// TransitionFromPending is the only write that changes payments.status.
// Concurrent callers race on the WHERE clause; exactly one sees a row affected.
func (r *paymentRepo) TransitionFromPending(
	ctx context.Context, tx repository.Tx, id string, to model.PaymentStatus, providerStatus string, meta map[string]any, at time.Time,
) (bool, error) {
	if !model.CanTransition(model.PaymentStatusPending, to) {
		return false, domain.ErrInvalidArgument
	}
	patch, err := encodeMeta(meta)
	if err != nil {
		return false, domain.ErrInvalidArgument
	}
	const q = `
UPDATE payments
   SET status = $2,
       provider_status = $3,
       metadata = metadata || $4::jsonb,
       completed_at = $5,
       updated_at = $5
 WHERE id = $1
   AND status = 'pending';`

	cmd, err := execSQL(ctx, r.pool, tx, q, id, string(to), providerStatus, patch, at)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *paymentRepo) ClaimGrant(ctx context.Context, tx repository.Tx, id string, at time.Time) (bool, error) {
	const q = `
UPDATE payments
   SET granted_at = $2,
       updated_at = $2
 WHERE id = $1
   AND status = 'succeeded'
   AND granted_at IS NULL;`

	cmd, err := execSQL(ctx, r.pool, tx, q, id, at)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *paymentRepo) LinkSubscription(ctx context.Context, tx repository.Tx, id, subscriptionID string) error {
	const q = `UPDATE payments SET subscription_id=$2, updated_at=NOW() WHERE id=$1;`
	cmd, err := execSQL(ctx, r.pool, tx, q, id, subscriptionID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *paymentRepo) ListSucceededUngranted(ctx context.Context, tx repository.Tx, limit int) ([]*model.PaymentAttempt, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + paymentColumns + ` FROM payments
WHERE status='succeeded' AND granted_at IS NULL ORDER BY updated_at ASC LIMIT $1;`
	rows, err := queryRows(ctx, r.pool, tx, q, limit)
	if err != nil {
		return nil, err
	}
	return collectPayments(ctx, rows)
}

func (r *paymentRepo) ClaimStalePending(ctx context.Context, tx repository.Tx, olderThan, at time.Time, limit int) ([]*model.PaymentAttempt, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `UPDATE payments SET last_checked_at = $2
WHERE id IN (
  SELECT id FROM payments
  WHERE status='pending' AND created_at < $1
  ORDER BY last_checked_at ASC NULLS FIRST, created_at ASC
  LIMIT $3
  FOR UPDATE SKIP LOCKED)
RETURNING ` + paymentColumns + `;`
	rows, err := queryRows(ctx, r.pool, tx, q, olderThan, at, limit)
	if err != nil {
		return nil, err
	}
	return collectPayments(ctx, rows)
}

func collectPayments(ctx context.Context, rows pgx.Rows) ([]*model.PaymentAttempt, error) {
	defer rows.Close()
	var out []*model.PaymentAttempt
	for rows.Next() {
		p, err := scanPayment(ctx, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(ctx, err)
	}
	return out, nil
}

func scanPayment(ctx context.Context, row pgx.Row) (*model.PaymentAttempt, error) {
	var (
		p              model.PaymentAttempt
		kind, status   string
		tier, courseID *string
		meta           []byte
	)
	if err := row.Scan(
		&p.ID, &p.ProviderReference, &p.Provider, &p.UserID, &p.Amount, &p.Currency,
		&kind, &tier, &courseID, &status, &p.ProviderStatus, &meta, &p.SubscriptionID,
		&p.CreatedAt, &p.UpdatedAt, &p.CompletedAt, &p.GrantedAt,
	); err != nil {
		return nil, scanError(ctx, err)
	}

	product, err := model.ParseProduct(kind, deref(tier), deref(courseID))
	if err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	p.Product = product
	p.Status = model.PaymentStatus(status)
	p.Metadata = map[string]any{}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &p.Metadata); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
	}
	return &p, nil
}

func encodeMeta(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
