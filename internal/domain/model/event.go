package model

import (
	"net/textproto"
	"time"

	"course-billing/internal/domain"
)

// Outcome is the terminal result a provider reports for a payment.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// Status maps an outcome to the payment status it transitions to.
func (o Outcome) Status() PaymentStatus {
	if o == OutcomeSucceeded {
		return PaymentStatusSucceeded
	}
	return PaymentStatusFailed
}

func (o Outcome) Valid() bool { return o == OutcomeSucceeded || o == OutcomeFailed }

// EventSource records which ingress produced an event.
type EventSource string

const (
	SourceWebhook      EventSource = "webhook"
	SourceConfirmation EventSource = "confirmation"
	SourceReconciler   EventSource = "reconciler"
)

// MetaReportedAmount holds the provider's raw amount when it could not be
// converted to minor units.
const MetaReportedAmount = "reported_amount"

// CanonicalEvent is the provider-independent view of a payment outcome.
// It is never persisted.
type CanonicalEvent struct {
	Provider          string
	ProviderReference string
	Outcome           Outcome
	RawProviderStatus string
	Amount            int64 // minor units, 0 when the provider did not say
	Currency          string
	Authenticated     bool
	Product           Product // nil when the provider carried no metadata
	Metadata          map[string]any
	Source            EventSource
	ReceivedAt        time.Time
}

// InboundNotification is a raw provider push before any parsing.
type InboundNotification struct {
	Provider string
	Body     []byte
	Header   map[string][]string
	RemoteIP string
}

// HeaderValue returns the first value of key using canonical MIME header rules.
func (n *InboundNotification) HeaderValue(key string) string {
	if n == nil || n.Header == nil {
		return ""
	}
	v := n.Header[textproto.CanonicalMIMEHeaderKey(key)]
	if len(v) == 0 {
		return ""
	}
	return v[0]
}

type NotificationStatus string

const (
	NotificationReceived  NotificationStatus = "received"
	NotificationProcessed NotificationStatus = "processed"
	NotificationRejected  NotificationStatus = "rejected"
	NotificationFailed    NotificationStatus = "failed"
)

// PaymentNotification is the inbox row written for every webhook delivery.
type PaymentNotification struct {
	ID                string // ULID
	Provider          string
	ProviderReference string
	SignatureValid    bool
	Payload           []byte
	Status            NotificationStatus
	Error             string
	ReceivedAt        time.Time
	ProcessedAt       *time.Time
}

// Disposition says what an Apply call did.
type Disposition string

const (
	DispositionApplied         Disposition = "applied"          // this call performed the transition
	DispositionAlreadyTerminal Disposition = "already_terminal" // idempotent no-op
	DispositionResumedGrant    Disposition = "resumed_grant"    // finished an ungranted success
)

// ApplyResult is returned by the reconciliation engine.
type ApplyResult struct {
	Payment     *PaymentAttempt
	Status      PaymentStatus
	Disposition Disposition
	Granted     bool // this call wrote the entitlement
}

// AsError reports an already-terminal result as domain.ErrAlreadyTerminal
// for callers that branch with errors.Is. Other results map to nil.
func (r *ApplyResult) AsError() error {
	if r != nil && r.Disposition == DispositionAlreadyTerminal {
		return domain.ErrAlreadyTerminal
	}
	return nil
}
