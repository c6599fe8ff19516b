package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"course-billing/internal/domain"
	"course-billing/internal/domain/model"
	"course-billing/internal/domain/ports/repository"
)

var _ repository.NotificationLogRepository = (*notificationLogRepo)(nil)

type notificationLogRepo struct {
	pool *pgxpool.Pool
}

func NewNotificationLogRepo(pool *pgxpool.Pool) repository.NotificationLogRepository {
	return &notificationLogRepo{pool: pool}
}

// Record writes the raw delivery before anything is parsed, so rejected
// payloads are kept for audit too.
func (r *notificationLogRepo) Record(ctx context.Context, tx repository.Tx, n *model.PaymentNotification) error {
	if n == nil || n.ID == "" || n.Provider == "" {
		return domain.ErrInvalidArgument
	}
	const q = `
INSERT INTO payment_notifications (id, provider, provider_reference, signature_valid, payload, status, error, received_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8);`

	payload := n.Payload
	if payload == nil {
		payload = []byte{}
	}
	_, err := execSQL(ctx, r.pool, tx, q, n.ID, n.Provider, n.ProviderReference, n.SignatureValid, payload, string(n.Status), n.Error, n.ReceivedAt)
	return err
}

func (r *notificationLogRepo) MarkHandled(
	ctx context.Context, tx repository.Tx, id string, ref string, signatureValid bool, status model.NotificationStatus, errMsg string, at time.Time,
) error {
	const q = `
UPDATE payment_notifications
   SET provider_reference = COALESCE(NULLIF($2, ''), provider_reference),
       signature_valid = $3,
       status = $4,
       error = $5,
       processed_at = $6
 WHERE id = $1;`

	cmd, err := execSQL(ctx, r.pool, tx, q, id, ref, signatureValid, string(status), errMsg, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
