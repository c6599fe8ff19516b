package model

import (
	"fmt"
	"strings"

	"course-billing/internal/domain"
)

// PaymentKind names what a payment attempt buys.
type PaymentKind string

const (
	PaymentKindSubscription PaymentKind = "subscription"
	PaymentKindCourse       PaymentKind = "course"
)

// Tier is a subscription level.
type Tier string

const (
	TierBasic   Tier = "basic"
	TierPremium Tier = "premium"
)

func (t Tier) Valid() bool {
	return t == TierBasic || t == TierPremium
}

// Product is the closed set of things a payment can buy.
// Only SubscriptionProduct and CourseProduct implement it.
type Product interface {
	Kind() PaymentKind
	sealed()
}

// SubscriptionProduct buys one billing cycle of a tier.
type SubscriptionProduct struct {
	Tier Tier
}

func (SubscriptionProduct) Kind() PaymentKind { return PaymentKindSubscription }
func (SubscriptionProduct) sealed()           {}

// CourseProduct buys a perpetual license to one course.
type CourseProduct struct {
	CourseID string
}

func (CourseProduct) Kind() PaymentKind { return PaymentKindCourse }
func (CourseProduct) sealed()           {}

// ParseProduct builds a Product from the untyped wire fields used by
// checkout metadata and provider notifications. Unknown kinds and tiers are
// rejected rather than passed through.
func ParseProduct(kind, tier, courseID string) (Product, error) {
	switch PaymentKind(strings.ToLower(strings.TrimSpace(kind))) {
	case PaymentKindSubscription:
		t := Tier(strings.ToLower(strings.TrimSpace(tier)))
		if !t.Valid() {
			return nil, fmt.Errorf("%w: unknown tier %q", domain.ErrInvalidArgument, tier)
		}
		return SubscriptionProduct{Tier: t}, nil
	case PaymentKindCourse:
		id := strings.TrimSpace(courseID)
		if id == "" {
			return nil, fmt.Errorf("%w: course payment without course id", domain.ErrInvalidArgument)
		}
		return CourseProduct{CourseID: id}, nil
	default:
		return nil, fmt.Errorf("%w: unknown payment kind %q", domain.ErrInvalidArgument, kind)
	}
}

// ProductFields flattens p back to the (kind, tier, course id) columns.
func ProductFields(p Product) (kind PaymentKind, tier Tier, courseID string) {
	switch v := p.(type) {
	case SubscriptionProduct:
		return PaymentKindSubscription, v.Tier, ""
	case CourseProduct:
		return PaymentKindCourse, "", v.CourseID
	}
	return "", "", ""
}

// SameProduct reports whether a and b describe the same purchase.
func SameProduct(a, b Product) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a == b
}
