package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"course-billing/internal/config"
	"course-billing/internal/domain"
	"course-billing/internal/domain/model"
	"course-billing/internal/domain/ports/adapter"
)

const ProviderYooKassa = "yookassa"

var (
	_ adapter.NotificationAdapter = (*YooKassa)(nil)
	_ adapter.PaymentStatusLookup = (*YooKassa)(nil)
)

// YooKassa handles payment.* notifications keyed by the provider payment id.
// Notifications are unsigned; trust comes from the network path, optionally
// narrowed to an allowlist of source ranges.
type YooKassa struct {
	shopID    string
	secretKey string
	baseURL   string
	allowed   []*net.IPNet
	client    *http.Client
}

func NewYooKassa(cfg config.YooKassaConfig) (*YooKassa, error) {
	if cfg.ShopID == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("%w: yookassa shop id and secret key are required", domain.ErrInvalidArgument)
	}
	if _, err := url.Parse(cfg.APIBaseURL); err != nil {
		return nil, fmt.Errorf("invalid yookassa api url: %w", err)
	}
	y := &YooKassa{
		shopID:    cfg.ShopID,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimRight(cfg.APIBaseURL, "/"),
		client:    &http.Client{Timeout: 10 * time.Second},
	}
	for _, c := range cfg.AllowedCIDRs {
		c = strings.TrimSpace(c)
		if !strings.Contains(c, "/") {
			if strings.Contains(c, ":") {
				c += "/128"
			} else {
				c += "/32"
			}
		}
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			return nil, fmt.Errorf("invalid yookassa allowed cidr %q: %w", c, err)
		}
		y.allowed = append(y.allowed, n)
	}
	return y, nil
}

func (y *YooKassa) Provider() string { return ProviderYooKassa }

func (y *YooKassa) Ack() []byte { return []byte(`{"status":"ok"}`) }

type yooAmount struct {
	Value    json.Number `json:"value"`
	Currency string      `json:"currency"`
}

type yooPayment struct {
	ID       string            `json:"id"`
	Status   string            `json:"status"`
	Paid     bool              `json:"paid"`
	Amount   yooAmount         `json:"amount"`
	Metadata map[string]string `json:"metadata"`
}

type yooNotification struct {
	Type   string     `json:"type"`
	Event  string     `json:"event"`
	Object yooPayment `json:"object"`
}

func (y *YooKassa) Parse(ctx context.Context, n *model.InboundNotification) (*model.CanonicalEvent, error) {
	if !y.trusted(n.RemoteIP) {
		return nil, domain.ErrUnauthenticated
	}

	var in yooNotification
	if err := json.Unmarshal(n.Body, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnparseable, err)
	}
	if strings.TrimSpace(in.Object.ID) == "" {
		return nil, fmt.Errorf("%w: missing object.id", domain.ErrUnparseable)
	}

	var outcome model.Outcome
	switch in.Event {
	case "payment.succeeded":
		outcome = model.OutcomeSucceeded
	case "payment.canceled":
		outcome = model.OutcomeFailed
	default:
		return nil, fmt.Errorf("%w: event %q", domain.ErrEventIgnored, in.Event)
	}

	ev, err := y.toEvent(in.Object, outcome, model.SourceWebhook)
	if err != nil {
		return nil, err
	}
	ev.Metadata["yookassa_event"] = in.Event
	return ev, nil
}

// Lookup asks GET /payments/{id} for the authoritative status.
func (y *YooKassa) Lookup(ctx context.Context, providerReference string) (*model.CanonicalEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, y.baseURL+"/payments/"+url.PathEscape(providerReference), nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(y.shopID, y.secretKey)
	req.Header.Set("Accept", "application/json")

	resp, err := y.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("yookassa lookup: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("yookassa lookup: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, domain.ErrPaymentStillPending
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("yookassa lookup: http %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var p yooPayment
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnparseable, err)
	}
	var outcome model.Outcome
	switch p.Status {
	case "succeeded":
		outcome = model.OutcomeSucceeded
	case "canceled":
		outcome = model.OutcomeFailed
	default: // pending, waiting_for_capture
		return nil, domain.ErrPaymentStillPending
	}
	if p.ID == "" {
		p.ID = providerReference
	}
	return y.toEvent(p, outcome, model.SourceConfirmation)
}

func (y *YooKassa) toEvent(p yooPayment, outcome model.Outcome, source model.EventSource) (*model.CanonicalEvent, error) {
	ev := &model.CanonicalEvent{
		Provider:          ProviderYooKassa,
		ProviderReference: p.ID,
		Outcome:           outcome,
		RawProviderStatus: p.Status,
		Currency:          strings.ToUpper(p.Amount.Currency),
		Authenticated:     true,
		Source:            source,
		ReceivedAt:        time.Now().UTC(),
		Metadata:          map[string]any{},
	}
	setAmount(ev, p.Amount.Value.String())
	putIfSet(ev.Metadata, "yookassa_status", p.Status)
	if md := p.Metadata; len(md) > 0 && md["payment_type"] != "" {
		// a malformed product is only used for the mismatch check; leave it nil
		if product, err := model.ParseProduct(md["payment_type"], md["tier"], md["course_id"]); err == nil {
			ev.Product = product
		}
	}
	return ev, nil
}

func (y *YooKassa) trusted(remoteIP string) bool {
	if len(y.allowed) == 0 {
		return true
	}
	host := remoteIP
	if h, _, err := net.SplitHostPort(remoteIP); err == nil {
		host = h
	}
	ip := net.ParseIP(strings.TrimSpace(host))
	if ip == nil {
		return false
	}
	for _, n := range y.allowed {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
