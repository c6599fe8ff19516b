package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"course-billing/internal/domain"
	"course-billing/internal/domain/model"
	"course-billing/internal/domain/ports/adapter"
	"course-billing/internal/domain/ports/repository"
	"course-billing/internal/domain/ports/usecase"
	"course-billing/internal/infra/logging"
)

// ConfirmResult is the answer to a client-initiated confirmation.
type ConfirmResult struct {
	Success bool
	Status  model.PaymentStatus
}

// ConfirmUseCase lets a client that just returned from checkout ask for
// the outcome without waiting for the webhook. It queries the provider and
// feeds the answer through the same engine path.
type ConfirmUseCase struct {
	payments      repository.PaymentRepository
	registry      adapter.ProviderRegistry
	engine        usecase.Reconciler
	storeTimeout  time.Duration
	lookupTimeout time.Duration
	dev           bool
	log           *zerolog.Logger
}

func NewConfirmUseCase(
	payments repository.PaymentRepository,
	registry adapter.ProviderRegistry,
	engine usecase.Reconciler,
	storeTimeout, lookupTimeout time.Duration,
	dev bool,
	logger *zerolog.Logger,
) *ConfirmUseCase {
	if storeTimeout <= 0 {
		storeTimeout = 3 * time.Second
	}
	if lookupTimeout <= 0 {
		lookupTimeout = 4 * time.Second
	}
	return &ConfirmUseCase{
		payments:      payments,
		registry:      registry,
		engine:        engine,
		storeTimeout:  storeTimeout,
		lookupTimeout: lookupTimeout,
		dev:           dev,
		log:           logger,
	}
}

// Confirm resolves the attempt behind ref for userID. An attempt owned by
// someone else is reported as domain.ErrForbidden; callers should not
// distinguish it from an unknown reference.
func (u *ConfirmUseCase) Confirm(ctx context.Context, userID, ref string) (*ConfirmResult, error) {
	defer logging.TraceDuration(u.log, "ConfirmUC.Confirm")()
	ref = strings.TrimSpace(ref)
	if userID == "" || ref == "" {
		return nil, domain.ErrInvalidArgument
	}
	log := logging.With(ctx, u.log).With().Str("reference", logging.Redact(ref, u.dev)).Logger()

	p, err := u.find(ctx, ref)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		log.Warn().Msg("confirmation for a payment owned by another user")
		return nil, domain.ErrForbidden
	}

	switch {
	case p.NeedsGrant():
		res, err := u.engine.ResumeGrant(ctx, p)
		if err != nil {
			return nil, err
		}
		return resultOf(res.Status), nil
	case p.Status.Terminal():
		return resultOf(p.Status), nil
	}

	lookup, err := u.registry.Lookup(p.Provider)
	if err != nil {
		return nil, err
	}
	lctx, cancel := context.WithTimeout(ctx, u.lookupTimeout)
	ev, err := lookup.Lookup(lctx, ref)
	cancel()
	if err != nil {
		if errors.Is(err, domain.ErrPaymentStillPending) {
			return &ConfirmResult{Success: false, Status: model.PaymentStatusPending}, nil
		}
		log.Warn().Err(err).Msg("provider lookup failed")
		return nil, fmt.Errorf("provider lookup: %w", err)
	}
	ev.Source = model.SourceConfirmation

	res, err := u.engine.Apply(ctx, ev)
	if err != nil {
		return nil, err
	}
	return resultOf(res.Status), nil
}

func (u *ConfirmUseCase) find(ctx context.Context, ref string) (*model.PaymentAttempt, error) {
	sctx, cancel := context.WithTimeout(ctx, u.storeTimeout)
	defer cancel()
	p, err := u.payments.FindByProviderReference(sctx, nil, ref)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrUnknownPayment
		}
		return nil, storeUnavailable(err)
	}
	return p, nil
}

func resultOf(s model.PaymentStatus) *ConfirmResult {
	return &ConfirmResult{Success: s == model.PaymentStatusSucceeded, Status: s}
}
