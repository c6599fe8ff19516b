package adapter

import (
	"context"
	"time"
)

// EntitlementGranted is published after a grant commits.
type EntitlementGranted struct {
	PaymentID         string    `json:"payment_id"`
	ProviderReference string    `json:"provider_reference"`
	UserID            string    `json:"user_id"`
	Kind              string    `json:"kind"`
	Tier              string    `json:"tier,omitempty"`
	CourseID          string    `json:"course_id,omitempty"`
	EndDate           time.Time `json:"end_date,omitempty"`
	GrantedAt         time.Time `json:"granted_at"`
}

// EventPublisher delivers entitlement events to downstream collaborators.
// Delivery is best effort; the database remains the source of truth.
type EventPublisher interface {
	PublishEntitlementGranted(ctx context.Context, ev EntitlementGranted) error
	Close() error
}
