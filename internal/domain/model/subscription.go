package model

import (
	"time"

	"github.com/google/uuid"

	"course-billing/internal/domain"
)

// Subscription is a user's time-limited tier entitlement.
// A user has at most one row with IsActive set.
type Subscription struct {
	ID        string // UUID
	UserID    string
	Tier      Tier
	StartDate time.Time
	EndDate   time.Time
	IsActive  bool
	UpdatedAt time.Time
}

// NewSubscription starts a subscription at now for one period.
func NewSubscription(userID string, tier Tier, now time.Time, period time.Duration) (*Subscription, error) {
	if userID == "" || !tier.Valid() || period <= 0 {
		return nil, domain.ErrInvalidArgument
	}
	return &Subscription{
		ID:        uuid.NewString(),
		UserID:    userID,
		Tier:      tier,
		StartDate: now,
		EndDate:   now.Add(period),
		IsActive:  true,
		UpdatedAt: now,
	}, nil
}

// EntitledAt is the read-time expiry check; there is no sweeper.
func (s *Subscription) EntitledAt(t time.Time) bool {
	return s != nil && s.IsActive && s.EndDate.After(t)
}

// CoursePurchase grants perpetual access to one course.
// Unique per (UserID, CourseID).
type CoursePurchase struct {
	ID          string // UUID
	UserID      string
	CourseID    string
	PricePaid   int64 // minor units
	PaymentID   string
	PurchasedAt time.Time
}

func NewCoursePurchase(userID, courseID, paymentID string, pricePaid int64, now time.Time) (*CoursePurchase, error) {
	if userID == "" || courseID == "" {
		return nil, domain.ErrInvalidArgument
	}
	return &CoursePurchase{
		ID:          uuid.NewString(),
		UserID:      userID,
		CourseID:    courseID,
		PricePaid:   pricePaid,
		PaymentID:   paymentID,
		PurchasedAt: now,
	}, nil
}
