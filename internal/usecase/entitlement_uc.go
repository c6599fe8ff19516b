package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"course-billing/internal/domain"
	"course-billing/internal/domain/model"
	"course-billing/internal/domain/ports/repository"
)

// Entitlements is what a user may access right now.
type Entitlements struct {
	UserID       string
	Subscription *model.Subscription // nil when none is in force
	Courses      []*model.CoursePurchase
	CheckedAt    time.Time
}

// HasCourse reports whether courseID is among the purchased courses.
func (e *Entitlements) HasCourse(courseID string) bool {
	for _, c := range e.Courses {
		if c.CourseID == courseID {
			return true
		}
	}
	return false
}

// EntitlementUseCase is the read side. Expiry is evaluated here, at read
// time, against EndDate.
type EntitlementUseCase struct {
	subs    repository.SubscriptionRepository
	courses repository.CoursePurchaseRepository
	now     func() time.Time
	log     *zerolog.Logger
}

func NewEntitlementUseCase(subs repository.SubscriptionRepository, courses repository.CoursePurchaseRepository, logger *zerolog.Logger) *EntitlementUseCase {
	return &EntitlementUseCase{subs: subs, courses: courses, now: func() time.Time { return time.Now().UTC() }, log: logger}
}

func (u *EntitlementUseCase) ForUser(ctx context.Context, userID string) (*Entitlements, error) {
	if userID == "" {
		return nil, domain.ErrInvalidArgument
	}
	out := &Entitlements{UserID: userID, CheckedAt: u.now()}

	sub, err := u.subs.FindActiveByUser(ctx, nil, userID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
	case err != nil:
		return nil, err
	case sub.EntitledAt(out.CheckedAt):
		out.Subscription = sub
	}

	courses, err := u.courses.ListByUser(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	out.Courses = courses
	return out, nil
}
