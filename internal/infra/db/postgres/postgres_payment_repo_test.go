//go:build integration

package postgres

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"course-billing/internal/domain"
	"course-billing/internal/domain/model"
	"course-billing/internal/domain/ports/repository"
)

func newAttempt(t *testing.T, userID string, product model.Product) *model.PaymentAttempt {
	t.Helper()
	p, err := model.NewPaymentAttempt("ref-"+uuid.NewString(), "yookassa", userID, 99000, "RUB", product)
	if err != nil {
		t.Fatalf("failed to build attempt: %v", err)
	}
	return p
}

func TestPaymentRepo_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode.")
	}

	ctx := context.Background()
	repo := NewPaymentRepo(testPool)

	t.Run("should save and find a payment by id and reference", func(t *testing.T) {
		cleanup(t)
		p := newAttempt(t, "user-1", model.SubscriptionProduct{Tier: model.TierPremium})
		p.Metadata = map[string]any{"source": "checkout"}

		if err := repo.Save(ctx, nil, p); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		byID, err := repo.FindByID(ctx, nil, p.ID)
		if err != nil {
			t.Fatalf("FindByID failed: %v", err)
		}
		if byID.ProviderReference != p.ProviderReference || byID.Status != model.PaymentStatusPending {
			t.Fatalf("unexpected payment: %+v", byID)
		}
		if byID.Product != (model.SubscriptionProduct{Tier: model.TierPremium}) {
			t.Errorf("product did not round-trip, got %#v", byID.Product)
		}
		if byID.Metadata["source"] != "checkout" {
			t.Errorf("metadata did not round-trip, got %v", byID.Metadata)
		}

		byRef, err := repo.FindByProviderReference(ctx, nil, p.ProviderReference)
		if err != nil {
			t.Fatalf("FindByProviderReference failed: %v", err)
		}
		if byRef.ID != p.ID {
			t.Error("found the wrong payment by reference")
		}
	})

	t.Run("should report an unknown reference as not found", func(t *testing.T) {
		cleanup(t)
		_, err := repo.FindByProviderReference(ctx, nil, "missing")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("should reject a duplicate provider reference", func(t *testing.T) {
		cleanup(t)
		p := newAttempt(t, "user-1", model.CourseProduct{CourseID: "go-101"})
		if err := repo.Save(ctx, nil, p); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		dup := newAttempt(t, "user-2", model.CourseProduct{CourseID: "go-101"})
		dup.ProviderReference = p.ProviderReference
		if err := repo.Save(ctx, nil, dup); !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("expected ErrAlreadyExists, got %v", err)
		}
	})

	t.Run("should transition only once and merge metadata", func(t *testing.T) {
		cleanup(t)
		p := newAttempt(t, "user-1", model.CourseProduct{CourseID: "go-101"})
		p.Metadata = map[string]any{"source": "checkout"}
		if err := repo.Save(ctx, nil, p); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		now := time.Now().UTC()
		won, err := repo.TransitionFromPending(ctx, nil, p.ID, model.PaymentStatusSucceeded, "Completed", map[string]any{"card_last_four": "4242"}, now)
		if err != nil || !won {
			t.Fatalf("expected first transition to win, got won=%v err=%v", won, err)
		}
		won, err = repo.TransitionFromPending(ctx, nil, p.ID, model.PaymentStatusFailed, "Declined", nil, now)
		if err != nil {
			t.Fatalf("second transition failed: %v", err)
		}
		if won {
			t.Error("expected second transition to lose")
		}

		got, _ := repo.FindByID(ctx, nil, p.ID)
		if got.Status != model.PaymentStatusSucceeded || got.ProviderStatus != "Completed" {
			t.Errorf("terminal state was overwritten: %s/%s", got.Status, got.ProviderStatus)
		}
		if got.Metadata["source"] != "checkout" || got.Metadata["card_last_four"] != "4242" {
			t.Errorf("expected merged metadata, got %v", got.Metadata)
		}
		if got.CompletedAt == nil {
			t.Error("expected completed_at to be set")
		}
	})

	t.Run("concurrent transitions should have exactly one winner", func(t *testing.T) {
		cleanup(t)
		p := newAttempt(t, "user-1", model.SubscriptionProduct{Tier: model.TierBasic})
		if err := repo.Save(ctx, nil, p); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		var wins int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				won, err := repo.TransitionFromPending(ctx, nil, p.ID, model.PaymentStatusSucceeded, "succeeded", nil, time.Now())
				if err != nil {
					t.Errorf("transition failed: %v", err)
					return
				}
				if won {
					atomic.AddInt32(&wins, 1)
				}
			}()
		}
		wg.Wait()

		if wins != 1 {
			t.Fatalf("expected exactly one winner, got %d", wins)
		}
	})

	t.Run("grant claim should be exclusive and list ungranted successes", func(t *testing.T) {
		cleanup(t)
		p := newAttempt(t, "user-1", model.SubscriptionProduct{Tier: model.TierBasic})
		if err := repo.Save(ctx, nil, p); err != nil {
			t.Fatalf("Save failed: %v", err)
		}

		if won, _ := repo.ClaimGrant(ctx, nil, p.ID, time.Now()); won {
			t.Fatal("a pending payment must not be claimable")
		}
		if _, err := repo.TransitionFromPending(ctx, nil, p.ID, model.PaymentStatusSucceeded, "succeeded", nil, time.Now()); err != nil {
			t.Fatalf("transition failed: %v", err)
		}

		ungranted, err := repo.ListSucceededUngranted(ctx, nil, 10)
		if err != nil {
			t.Fatalf("ListSucceededUngranted failed: %v", err)
		}
		if len(ungranted) != 1 || ungranted[0].ID != p.ID {
			t.Fatalf("expected the payment to be listed as ungranted, got %d rows", len(ungranted))
		}

		if won, err := repo.ClaimGrant(ctx, nil, p.ID, time.Now()); err != nil || !won {
			t.Fatalf("expected first claim to win, got won=%v err=%v", won, err)
		}
		if won, _ := repo.ClaimGrant(ctx, nil, p.ID, time.Now()); won {
			t.Error("expected second claim to lose")
		}
		ungranted, _ = repo.ListSucceededUngranted(ctx, nil, 10)
		if len(ungranted) != 0 {
			t.Errorf("expected no ungranted payments, got %d", len(ungranted))
		}
	})

	t.Run("should claim stale pending payments older than a cutoff", func(t *testing.T) {
		cleanup(t)
		old := newAttempt(t, "user-1", model.CourseProduct{CourseID: "a"})
		old.CreatedAt = time.Now().Add(-2 * time.Hour)
		recent := newAttempt(t, "user-1", model.CourseProduct{CourseID: "b"})
		done := newAttempt(t, "user-1", model.CourseProduct{CourseID: "c"})
		done.CreatedAt = time.Now().Add(-2 * time.Hour)
		for _, p := range []*model.PaymentAttempt{old, recent, done} {
			if err := repo.Save(ctx, nil, p); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
		}
		if _, err := repo.TransitionFromPending(ctx, nil, done.ID, model.PaymentStatusFailed, "canceled", nil, time.Now()); err != nil {
			t.Fatalf("transition failed: %v", err)
		}

		results, err := repo.ClaimStalePending(ctx, nil, time.Now().Add(-time.Hour), time.Now(), 10)
		if err != nil {
			t.Fatalf("ClaimStalePending failed: %v", err)
		}
		if len(results) != 1 || results[0].ID != old.ID {
			t.Fatalf("expected only the old pending payment, got %d rows", len(results))
		}
	})

	t.Run("rows that stay pending should not starve newer stale rows", func(t *testing.T) {
		cleanup(t)
		base := time.Now().Add(-3 * time.Hour)
		var ids []string
		for i := 0; i < 3; i++ {
			p := newAttempt(t, "user-1", model.CourseProduct{CourseID: uuid.NewString()})
			p.CreatedAt = base.Add(time.Duration(i) * time.Minute)
			if err := repo.Save(ctx, nil, p); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			ids = append(ids, p.ID)
		}
		cutoff := time.Now().Add(-time.Hour)

		seen := map[string]int{}
		for tick := 0; tick < 2; tick++ {
			batch, err := repo.ClaimStalePending(ctx, nil, cutoff, time.Now().Add(time.Duration(tick)*time.Second), 2)
			if err != nil {
				t.Fatalf("ClaimStalePending failed: %v", err)
			}
			if len(batch) != 2 {
				t.Fatalf("tick %d: expected a full batch, got %d", tick, len(batch))
			}
			for _, p := range batch {
				seen[p.ID]++
			}
		}

		// the oldest rows never resolve; the newest must still come up on the second tick
		for _, id := range ids {
			if seen[id] == 0 {
				t.Errorf("payment %s was never claimed", id)
			}
		}
	})

	t.Run("a rolled back transaction should leave the payment pending", func(t *testing.T) {
		cleanup(t)
		p := newAttempt(t, "user-1", model.CourseProduct{CourseID: "go-101"})
		if err := repo.Save(ctx, nil, p); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		boom := errors.New("grant failed")
		txm := NewTxManager(testPool)

		err := txm.WithTx(ctx, pgxDefaultTx, func(ctx context.Context, tx repository.Tx) error {
			if _, err := repo.TransitionFromPending(ctx, tx, p.ID, model.PaymentStatusSucceeded, "succeeded", nil, time.Now()); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected the callback error, got %v", err)
		}
		got, _ := repo.FindByID(ctx, nil, p.ID)
		if got.Status != model.PaymentStatusPending {
			t.Errorf("expected rollback to keep status pending, got %s", got.Status)
		}
	})
}
