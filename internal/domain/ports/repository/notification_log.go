package repository

import (
	"context"
	"time"

	"course-billing/internal/domain/model"
)

// -----------------------------
// Webhook inbox
// -----------------------------

type NotificationLogRepository interface {
	// Record stores an inbound delivery before it is processed.
	Record(ctx context.Context, tx Tx, n *model.PaymentNotification) error
	// MarkHandled stamps the final status of a delivery.
	MarkHandled(ctx context.Context, tx Tx, id string, ref string, signatureValid bool, status model.NotificationStatus, errMsg string, at time.Time) error
}
