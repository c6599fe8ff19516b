package usecase

import (
	"context"

	"course-billing/internal/domain/model"
)

// Reconciler is the engine surface the ingress paths and background workers depend on.
type Reconciler interface {
	// Apply runs a trusted canonical event through the payment state machine.
	Apply(ctx context.Context, ev *model.CanonicalEvent) (*model.ApplyResult, error)
	// ResumeGrant finishes the grant of a succeeded attempt whose grant never committed.
	ResumeGrant(ctx context.Context, p *model.PaymentAttempt) (*model.ApplyResult, error)
}
