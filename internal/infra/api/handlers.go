package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"course-billing/internal/domain"
	"course-billing/internal/domain/model"
	"course-billing/internal/infra/logging"
	"course-billing/internal/infra/metrics"
	"course-billing/internal/infra/redis"
)

const confirmRetryMessage = "could not confirm payment, please retry"

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	provider := strings.ToLower(chi.URLParam(r, "provider"))
	ctx := logging.WithProvider(r.Context(), provider)
	log := logging.With(ctx, s.log)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		metrics.WebhookRequests.WithLabelValues(provider, "error").Inc()
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	out, err := s.d.Webhooks.Handle(ctx, &model.InboundNotification{
		Provider: provider,
		Body:     body,
		Header:   r.Header,
		RemoteIP: r.RemoteAddr,
	})
	switch {
	case errors.Is(err, domain.ErrUnknownProvider):
		metrics.WebhookRequests.WithLabelValues("unknown", "error").Inc()
		writeError(w, http.StatusNotFound, "unknown provider")
		return
	case err != nil:
		metrics.WebhookRequests.WithLabelValues(provider, "error").Inc()
		log.Error().Err(err).Msg("webhook not accepted; provider will retry")
		writeError(w, http.StatusInternalServerError, "temporarily unavailable")
		return
	}

	metrics.WebhookRequests.WithLabelValues(provider, out.Result).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out.Ack)
}

type confirmRequest struct {
	ProviderReference string `json:"provider_reference"`
}

type confirmResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logging.With(ctx, s.log)
	userID := UserIDFrom(ctx)

	result := "error"
	defer func() {
		metrics.PaymentConfirmRequests.WithLabelValues(result).Inc()
		metrics.PaymentConfirmDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	}()

	if s.d.Limiter != nil {
		ok, err := s.d.Limiter.Allow(ctx, redis.ConfirmKey(userID))
		if err != nil {
			log.Warn().Err(err).Msg("rate limiter unavailable; allowing request")
		} else if !ok {
			result = "rate_limited"
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
	}

	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.ProviderReference) == "" {
		result = "bad_request"
		writeError(w, http.StatusBadRequest, "provider_reference is required")
		return
	}

	res, err := s.d.Confirm.Confirm(ctx, userID, req.ProviderReference)
	switch {
	case errors.Is(err, domain.ErrUnknownPayment), errors.Is(err, domain.ErrForbidden):
		result = "not_found"
		writeError(w, http.StatusNotFound, "payment not found")
		return
	case errors.Is(err, domain.ErrInvalidArgument):
		result = "bad_request"
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	case err != nil:
		log.Error().Err(err).Msg("confirm payment failed")
		writeError(w, http.StatusServiceUnavailable, confirmRetryMessage)
		return
	}

	result = string(res.Status)
	writeJSON(w, http.StatusOK, confirmResponse{Success: res.Success, Status: string(res.Status)})
}

type subscriptionView struct {
	Tier      string    `json:"tier"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

type courseView struct {
	CourseID    string    `json:"course_id"`
	PurchasedAt time.Time `json:"purchased_at"`
}

type entitlementsResponse struct {
	UserID       string            `json:"user_id"`
	Subscription *subscriptionView `json:"subscription"`
	Courses      []courseView      `json:"courses"`
	CheckedAt    time.Time         `json:"checked_at"`
}

func (s *Server) handleEntitlements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ent, err := s.d.Entitlements.ForUser(ctx, UserIDFrom(ctx))
	if err != nil {
		l := logging.With(ctx, s.log)
		l.Error().Err(err).Msg("read entitlements failed")
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable")
		return
	}

	out := entitlementsResponse{UserID: ent.UserID, Courses: []courseView{}, CheckedAt: ent.CheckedAt}
	if sub := ent.Subscription; sub != nil {
		out.Subscription = &subscriptionView{Tier: string(sub.Tier), StartDate: sub.StartDate, EndDate: sub.EndDate}
	}
	for _, c := range ent.Courses {
		out.Courses = append(out.Courses, courseView{CourseID: c.CourseID, PurchasedAt: c.PurchasedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
