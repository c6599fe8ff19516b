package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"course-billing/internal/domain"
	"course-billing/internal/domain/model"
	"course-billing/internal/domain/ports/adapter"
	"course-billing/internal/domain/ports/repository"
	"course-billing/internal/domain/ports/usecase"
	"course-billing/internal/infra/metrics"
)

// PaymentReconciler periodically finishes what the request paths left
// behind: succeeded attempts whose grant never committed, and pending
// attempts whose webhook never arrived. Both go through the engine, so a
// tick racing a webhook is harmless.
type PaymentReconciler struct {
	engine     usecase.Reconciler
	payments   repository.PaymentRepository
	registry   adapter.ProviderRegistry
	interval   time.Duration // how often to scan
	staleAfter time.Duration // how old a pending payment must be to re-check
	storeTime  time.Duration // bound on each list query
	batch      int
	log        *zerolog.Logger
}

func NewPaymentReconciler(
	engine usecase.Reconciler,
	payments repository.PaymentRepository,
	registry adapter.ProviderRegistry,
	interval, staleAfter, storeTimeout time.Duration,
	batch int,
	logger *zerolog.Logger,
) *PaymentReconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 15 * time.Minute
	}
	if storeTimeout <= 0 {
		storeTimeout = 3 * time.Second
	}
	if batch <= 0 {
		batch = 100
	}
	l := logger.With().Str("component", "PaymentReconciler").Logger()
	return &PaymentReconciler{
		engine:     engine,
		payments:   payments,
		registry:   registry,
		interval:   interval,
		staleAfter: staleAfter,
		storeTime:  storeTimeout,
		batch:      batch,
		log:        &l,
	}
}

func (w *PaymentReconciler) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting payment reconciler")
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping payment reconciler")
			return ctx.Err()
		case <-t.C:
			w.Tick(ctx)
		}
	}
}

// Tick runs one pass of both jobs.
func (w *PaymentReconciler) Tick(ctx context.Context) {
	w.resumeGrants(ctx)
	w.recheckPending(ctx)
}

func (w *PaymentReconciler) resumeGrants(ctx context.Context) {
	const job = "resume_grant"
	lctx, cancel := context.WithTimeout(ctx, w.storeTime)
	ungranted, err := w.payments.ListSucceededUngranted(lctx, nil, w.batch)
	cancel()
	if err != nil {
		w.log.Error().Err(err).Msg("list ungranted payments failed")
		return
	}
	for _, p := range ungranted {
		if ctx.Err() != nil {
			return
		}
		res, err := w.engine.ResumeGrant(ctx, p)
		if err != nil {
			metrics.IncReconcilerItem(job, "error")
			w.log.Error().Err(err).Str("payment_id", p.ID).Msg("resume grant failed")
			continue
		}
		metrics.IncReconcilerItem(job, "ok")
		if res.Granted {
			w.log.Info().Str("payment_id", p.ID).Msg("grant resumed")
		}
	}
}

func (w *PaymentReconciler) recheckPending(ctx context.Context) {
	const job = "stale_pending"
	now := time.Now().UTC()
	lctx, cancel := context.WithTimeout(ctx, w.storeTime)
	pending, err := w.payments.ClaimStalePending(lctx, nil, now.Add(-w.staleAfter), now, w.batch)
	cancel()
	if err != nil {
		w.log.Error().Err(err).Msg("list pending payments failed")
		return
	}
	for _, p := range pending {
		if ctx.Err() != nil {
			return
		}
		lookup, err := w.registry.Lookup(p.Provider)
		if err != nil {
			metrics.IncReconcilerItem(job, "error")
			w.log.Warn().Err(err).Str("payment_id", p.ID).Str("provider", p.Provider).Msg("no lookup for provider")
			continue
		}
		ev, err := lookup.Lookup(ctx, p.ProviderReference)
		if errors.Is(err, domain.ErrPaymentStillPending) {
			metrics.IncReconcilerItem(job, "pending")
			continue
		}
		if err != nil {
			metrics.IncReconcilerItem(job, "error")
			w.log.Warn().Err(err).Str("payment_id", p.ID).Msg("provider lookup failed")
			continue
		}
		ev.Source = model.SourceReconciler
		res, err := w.engine.Apply(ctx, ev)
		if err == nil {
			err = res.AsError()
		}
		if errors.Is(err, domain.ErrAlreadyTerminal) {
			// a webhook or confirmation settled it between the claim and the lookup
			metrics.IncReconcilerItem(job, "raced")
			continue
		}
		if err != nil {
			metrics.IncReconcilerItem(job, "error")
			w.log.Error().Err(err).Str("payment_id", p.ID).Msg("apply looked up outcome failed")
			continue
		}
		metrics.IncReconcilerItem(job, "ok")
		w.log.Info().Str("payment_id", p.ID).Str("outcome", string(ev.Outcome)).Msg("reconciled payment")
	}
}
