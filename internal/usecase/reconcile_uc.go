package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"course-billing/internal/domain"
	"course-billing/internal/domain/model"
	"course-billing/internal/domain/ports/adapter"
	"course-billing/internal/domain/ports/repository"
	"course-billing/internal/domain/ports/usecase"
	"course-billing/internal/infra/logging"
	"course-billing/internal/infra/metrics"
)

// Compile-time check
var _ usecase.Reconciler = (*ReconcileUseCase)(nil)

type ReconcileConfig struct {
	SubscriptionPeriod time.Duration
	StoreTimeout       time.Duration
	Dev                bool
}

// ReconcileUseCase is the single place where a payment attempt leaves
// pending and where entitlements are written. Webhooks, the confirmation
// endpoint and the background reconciler all end up here.
type ReconcileUseCase struct {
	tm       repository.TransactionManager
	payments repository.PaymentRepository
	subs     repository.SubscriptionRepository
	courses  repository.CoursePurchaseRepository
	cache    repository.EntitlementCache // optional
	events   adapter.EventPublisher      // optional

	period       time.Duration
	storeTimeout time.Duration
	dev          bool
	now          func() time.Time
	log          *zerolog.Logger
}

func NewReconcileUseCase(
	tm repository.TransactionManager,
	payments repository.PaymentRepository,
	subs repository.SubscriptionRepository,
	courses repository.CoursePurchaseRepository,
	cache repository.EntitlementCache,
	events adapter.EventPublisher,
	cfg ReconcileConfig,
	logger *zerolog.Logger,
) *ReconcileUseCase {
	if cfg.SubscriptionPeriod <= 0 {
		cfg.SubscriptionPeriod = 30 * 24 * time.Hour
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 3 * time.Second
	}
	return &ReconcileUseCase{
		tm:           tm,
		payments:     payments,
		subs:         subs,
		courses:      courses,
		cache:        cache,
		events:       events,
		period:       cfg.SubscriptionPeriod,
		storeTimeout: cfg.StoreTimeout,
		dev:          cfg.Dev,
		now:          func() time.Time { return time.Now().UTC() },
		log:          logger,
	}
}

// WithClock replaces the time source. Tests only.
func (u *ReconcileUseCase) WithClock(now func() time.Time) *ReconcileUseCase {
	u.now = now
	return u
}

func (u *ReconcileUseCase) Apply(ctx context.Context, ev *model.CanonicalEvent) (*model.ApplyResult, error) {
	defer logging.TraceDuration(u.log, "ReconcileUC.Apply")()
	start := time.Now()

	if ev == nil || !ev.Outcome.Valid() || strings.TrimSpace(ev.ProviderReference) == "" {
		return nil, domain.ErrInvalidArgument
	}
	if !ev.Authenticated {
		return nil, domain.ErrUnauthenticated
	}
	source := string(ev.Source)
	if source == "" {
		source = string(model.SourceWebhook)
	}
	log := logging.With(ctx, u.log).With().
		Str("provider", ev.Provider).
		Str("reference", logging.Redact(ev.ProviderReference, u.dev)).
		Str("outcome", string(ev.Outcome)).
		Str("source", source).
		Logger()

	res, granted, err := u.apply(ctx, ev, &log)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownPayment) {
			metrics.ObserveApply(source, "unknown_payment", time.Since(start))
			log.Warn().Msg("event for unknown payment attempt")
			return nil, err
		}
		metrics.ObserveApply(source, "error", time.Since(start))
		log.Error().Err(err).Msg("apply failed")
		return nil, storeUnavailable(err)
	}

	metrics.ObserveApply(source, string(res.Disposition), time.Since(start))
	if res.Disposition == model.DispositionApplied {
		metrics.IncPayment(string(res.Status))
		if res.Status == model.PaymentStatusSucceeded {
			metrics.AddPaymentRevenue(res.Payment.Currency, res.Payment.Amount)
		}
	}
	u.afterCommit(ctx, res.Payment, granted, &log)

	log.Info().
		Str("payment_id", res.Payment.ID).
		Str("status", string(res.Status)).
		Str("disposition", string(res.Disposition)).
		Bool("granted", res.Granted).
		Msg("payment event applied")
	return res, nil
}

func (u *ReconcileUseCase) apply(ctx context.Context, ev *model.CanonicalEvent, log *zerolog.Logger) (*model.ApplyResult, *adapter.EntitlementGranted, error) {
	sctx, cancel := context.WithTimeout(ctx, u.storeTimeout)
	defer cancel()

	p, err := u.payments.FindByProviderReference(sctx, nil, ev.ProviderReference)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil, domain.ErrUnknownPayment
		}
		return nil, nil, err
	}
	if ev.Provider != "" && !strings.EqualFold(ev.Provider, p.Provider) {
		metrics.IncSuspicious("provider")
		log.Warn().Str("attempt_provider", p.Provider).Msg("event provider does not match the attempt")
		return nil, nil, domain.ErrUnknownPayment
	}
	u.checkMismatch(p, ev, log)

	var (
		res     *model.ApplyResult
		granted *adapter.EntitlementGranted
	)
	err = u.tm.WithTx(sctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		res, granted = nil, nil
		now := u.now()
		to := ev.Outcome.Status()

		won, err := u.payments.TransitionFromPending(ctx, tx, p.ID, to, ev.RawProviderStatus, eventMeta(ev), now)
		if err != nil {
			return err
		}
		if won {
			cur := *p
			cur.Status = to
			cur.ProviderStatus = ev.RawProviderStatus
			cur.CompletedAt = &now
			cur.UpdatedAt = now
			res = &model.ApplyResult{Payment: &cur, Status: to, Disposition: model.DispositionApplied}
			if to != model.PaymentStatusSucceeded {
				return nil
			}
			granted, err = u.grant(ctx, tx, &cur, now)
			if err != nil {
				return err
			}
			res.Granted = granted != nil
			return nil
		}

		// lost the race or a redelivery: report the stored state
		cur, err := u.payments.FindByID(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		res = &model.ApplyResult{Payment: cur, Status: cur.Status, Disposition: model.DispositionAlreadyTerminal}
		if cur.Status != to {
			log.Warn().Str("stored_status", string(cur.Status)).Msg("event contradicts terminal status; ignored")
		}
		if cur.NeedsGrant() {
			granted, err = u.grant(ctx, tx, cur, now)
			if err != nil {
				return err
			}
			if granted != nil {
				res.Disposition = model.DispositionResumedGrant
				res.Granted = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return res, granted, nil
}

// ResumeGrant finishes a succeeded attempt whose grant never committed.
// It is a no-op for attempts that are already granted or failed.
func (u *ReconcileUseCase) ResumeGrant(ctx context.Context, p *model.PaymentAttempt) (*model.ApplyResult, error) {
	defer logging.TraceDuration(u.log, "ReconcileUC.ResumeGrant")()
	start := time.Now()
	if p == nil || p.ID == "" {
		return nil, domain.ErrInvalidArgument
	}
	log := logging.With(ctx, u.log).With().Str("payment_id", p.ID).Str("source", string(model.SourceReconciler)).Logger()

	sctx, cancel := context.WithTimeout(ctx, u.storeTimeout)
	defer cancel()

	var (
		res     *model.ApplyResult
		granted *adapter.EntitlementGranted
	)
	err := u.tm.WithTx(sctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		res, granted = nil, nil
		cur, err := u.payments.FindByID(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		if cur.Status == model.PaymentStatusPending {
			return fmt.Errorf("%w: payment %s is still pending", domain.ErrInvalidArgument, cur.ID)
		}
		res = &model.ApplyResult{Payment: cur, Status: cur.Status, Disposition: model.DispositionAlreadyTerminal}
		if !cur.NeedsGrant() {
			return nil
		}
		granted, err = u.grant(ctx, tx, cur, u.now())
		if err != nil {
			return err
		}
		if granted != nil {
			res.Disposition = model.DispositionResumedGrant
			res.Granted = true
		}
		return nil
	})
	if err != nil {
		metrics.ObserveApply(string(model.SourceReconciler), "error", time.Since(start))
		if errors.Is(err, domain.ErrInvalidArgument) {
			return nil, err
		}
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrUnknownPayment
		}
		log.Error().Err(err).Msg("resume grant failed")
		return nil, storeUnavailable(err)
	}

	metrics.ObserveApply(string(model.SourceReconciler), string(res.Disposition), time.Since(start))
	u.afterCommit(ctx, res.Payment, granted, &log)
	if res.Granted {
		log.Info().Msg("resumed entitlement grant")
	}
	return res, nil
}

// grant claims the grant on p and writes the entitlement it buys. It
// returns nil when another call already owns the grant.
func (u *ReconcileUseCase) grant(ctx context.Context, tx repository.Tx, p *model.PaymentAttempt, now time.Time) (*adapter.EntitlementGranted, error) {
	claimed, err := u.payments.ClaimGrant(ctx, tx, p.ID, now)
	if err != nil || !claimed {
		return nil, err
	}

	ev := &adapter.EntitlementGranted{
		PaymentID:         p.ID,
		ProviderReference: p.ProviderReference,
		UserID:            p.UserID,
		GrantedAt:         now,
	}
	switch prod := p.Product.(type) {
	case model.SubscriptionProduct:
		s, err := model.NewSubscription(p.UserID, prod.Tier, now, u.period)
		if err != nil {
			return nil, err
		}
		stored, err := u.subs.UpsertActive(ctx, tx, s)
		if err != nil {
			return nil, err
		}
		if err := u.payments.LinkSubscription(ctx, tx, p.ID, stored.ID); err != nil {
			return nil, err
		}
		p.SubscriptionID = &stored.ID
		ev.Kind = string(model.PaymentKindSubscription)
		ev.Tier = string(stored.Tier)
		ev.EndDate = stored.EndDate
	case model.CourseProduct:
		cp, err := model.NewCoursePurchase(p.UserID, prod.CourseID, p.ID, p.Amount, now)
		if err != nil {
			return nil, err
		}
		if _, err := u.courses.InsertIfAbsent(ctx, tx, cp); err != nil {
			return nil, err
		}
		ev.Kind = string(model.PaymentKindCourse)
		ev.CourseID = prod.CourseID
	default:
		return nil, fmt.Errorf("%w: payment %s has no product", domain.ErrInvalidArgument, p.ID)
	}
	p.GrantedAt = &now
	return ev, nil
}

// afterCommit runs the side effects of a committed grant. None of them can
// undo it.
func (u *ReconcileUseCase) afterCommit(ctx context.Context, p *model.PaymentAttempt, granted *adapter.EntitlementGranted, log *zerolog.Logger) {
	if granted == nil {
		return
	}
	metrics.IncEntitlementGrant(granted.Kind)
	if u.cache != nil {
		u.cache.InvalidateUser(ctx, p.UserID)
	}
	if u.events != nil {
		if err := u.events.PublishEntitlementGranted(ctx, *granted); err != nil {
			log.Warn().Err(err).Msg("publish entitlement event failed")
		}
	}
}

// checkMismatch flags events whose figures disagree with the attempt. The
// stored attempt stays authoritative; nothing here blocks the transition.
func (u *ReconcileUseCase) checkMismatch(p *model.PaymentAttempt, ev *model.CanonicalEvent, log *zerolog.Logger) {
	if ev.Amount > 0 && ev.Amount != p.Amount {
		metrics.IncSuspicious("amount")
		log.Warn().Int64("expected", p.Amount).Int64("reported", ev.Amount).Msg("amount mismatch")
	}
	if raw, ok := ev.Metadata[model.MetaReportedAmount]; ok && ev.Amount == 0 {
		metrics.IncSuspicious("amount")
		log.Warn().Int64("expected", p.Amount).Interface("reported", raw).Msg("unreadable amount")
	}
	if ev.Currency != "" && !strings.EqualFold(ev.Currency, p.Currency) {
		metrics.IncSuspicious("currency")
		log.Warn().Str("expected", p.Currency).Str("reported", ev.Currency).Msg("currency mismatch")
	}
	if ev.Product != nil && !model.SameProduct(ev.Product, p.Product) {
		metrics.IncSuspicious("product")
		log.Warn().Msg("product mismatch")
	}
}

func eventMeta(ev *model.CanonicalEvent) map[string]any {
	meta := make(map[string]any, len(ev.Metadata)+1)
	for k, v := range ev.Metadata {
		meta[k] = v
	}
	meta["resolved_by"] = string(ev.Source)
	return meta
}

// storeUnavailable classifies anything not already tagged as retryable.
func storeUnavailable(err error) error {
	if errors.Is(err, domain.ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
}
