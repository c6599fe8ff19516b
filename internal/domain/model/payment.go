package model

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"course-billing/internal/domain"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"   // created at checkout; awaiting an outcome
	PaymentStatusSucceeded PaymentStatus = "succeeded" // terminal
	PaymentStatusFailed    PaymentStatus = "failed"    // terminal
)

// Terminal reports whether no further transition is accepted from s.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusSucceeded || s == PaymentStatusFailed
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to PaymentStatus) bool {
	return from == PaymentStatusPending && to.Terminal()
}

// PaymentAttempt is one checkout-to-outcome record and the unit of idempotency.
type PaymentAttempt struct {
	ID                string // UUID
	ProviderReference string // id shared with the gateway; unique
	Provider          string // "yookassa" | "cloudpayments"
	UserID            string
	Amount            int64 // minor units
	Currency          string
	Product           Product
	Status            PaymentStatus
	ProviderStatus    string // last raw status the provider reported
	CreatedAt         time.Time
	UpdatedAt         time.Time
	CompletedAt       *time.Time // set on the terminal transition
	GrantedAt         *time.Time // set when the entitlement grant committed
	SubscriptionID    *string    // link to the subscription row a grant touched
	Metadata          map[string]any
}

// NewPaymentAttempt validates and builds a pending attempt. Checkout
// initiation calls this before handing the reference to the gateway.
func NewPaymentAttempt(providerReference, provider, userID string, amount int64, currency string, product Product) (*PaymentAttempt, error) {
	if strings.TrimSpace(providerReference) == "" || provider == "" || userID == "" || amount <= 0 || product == nil {
		return nil, domain.ErrInvalidArgument
	}
	if currency == "" {
		currency = "RUB"
	}
	now := time.Now().UTC()
	return &PaymentAttempt{
		ID:                uuid.NewString(),
		ProviderReference: providerReference,
		Provider:          provider,
		UserID:            userID,
		Amount:            amount,
		Currency:          strings.ToUpper(currency),
		Product:           product,
		Status:            PaymentStatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
		Metadata:          map[string]any{},
	}, nil
}

// NeedsGrant is the "succeeded but ungranted" resume condition.
func (p *PaymentAttempt) NeedsGrant() bool {
	return p.Status == PaymentStatusSucceeded && p.GrantedAt == nil
}
