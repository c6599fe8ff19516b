package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cast"

	"course-billing/internal/config"
	"course-billing/internal/domain"
	"course-billing/internal/domain/model"
	"course-billing/internal/domain/ports/adapter"
)

const ProviderCloudPayments = "cloudpayments"

var (
	_ adapter.NotificationAdapter = (*CloudPayments)(nil)
	_ adapter.PaymentStatusLookup = (*CloudPayments)(nil)
)

// CloudPayments handles Pay/Fail notifications. Every notification carries
// an HMAC-SHA256 of the body keyed with the API secret; nothing is parsed
// before it verifies.
type CloudPayments struct {
	publicID  string
	apiSecret []byte
	baseURL   string
	client    *http.Client
}

func NewCloudPayments(cfg config.CloudPaymentsConfig) (*CloudPayments, error) {
	if cfg.PublicID == "" || cfg.APISecret == "" {
		return nil, fmt.Errorf("%w: cloudpayments public id and api secret are required", domain.ErrInvalidArgument)
	}
	if _, err := url.Parse(cfg.APIBaseURL); err != nil {
		return nil, fmt.Errorf("invalid cloudpayments api url: %w", err)
	}
	return &CloudPayments{
		publicID:  cfg.PublicID,
		apiSecret: []byte(cfg.APISecret),
		baseURL:   strings.TrimRight(cfg.APIBaseURL, "/"),
		client:    &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (c *CloudPayments) Provider() string { return ProviderCloudPayments }

func (c *CloudPayments) Ack() []byte { return []byte(`{"code":0}`) }

// Sign returns the base64 HMAC the provider sends for body.
func (c *CloudPayments) Sign(body []byte) string {
	mac := hmac.New(sha256.New, c.apiSecret)
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// verify accepts Content-HMAC (computed over the raw body) or X-Content-HMAC
// (computed over the url-decoded body).
func (c *CloudPayments) verify(n *model.InboundNotification) bool {
	if sig := n.HeaderValue("Content-HMAC"); sig != "" {
		return hmac.Equal([]byte(sig), []byte(c.Sign(n.Body)))
	}
	if sig := n.HeaderValue("X-Content-HMAC"); sig != "" {
		decoded, err := url.QueryUnescape(string(n.Body))
		if err != nil {
			return false
		}
		return hmac.Equal([]byte(sig), []byte(c.Sign([]byte(decoded))))
	}
	return false
}

func (c *CloudPayments) Parse(ctx context.Context, n *model.InboundNotification) (*model.CanonicalEvent, error) {
	if !c.verify(n) {
		return nil, domain.ErrUnauthenticated
	}

	fields, err := decodeFields(n.Body, n.HeaderValue("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnparseable, err)
	}
	if stringField(fields, "InvoiceId") == "" {
		return nil, fmt.Errorf("%w: no InvoiceId", domain.ErrEventIgnored)
	}
	return c.toEvent(fields, model.SourceWebhook)
}

// Lookup asks POST /payments/find for the transaction behind an invoice.
func (c *CloudPayments) Lookup(ctx context.Context, providerReference string) (*model.CanonicalEvent, error) {
	payload, _ := json.Marshal(map[string]string{"InvoiceId": providerReference})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/payments/find", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.publicID, string(c.apiSecret))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cloudpayments lookup: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("cloudpayments lookup: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("cloudpayments lookup: http %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var out struct {
		Success bool           `json:"Success"`
		Message string         `json:"Message"`
		Model   map[string]any `json:"Model"`
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnparseable, err)
	}
	// a declined transaction comes back with Success=false and a Model
	if out.Model == nil {
		return nil, domain.ErrPaymentStillPending
	}
	if stringField(out.Model, "InvoiceId") == "" {
		out.Model["InvoiceId"] = providerReference
	}
	ev, err := c.toEvent(out.Model, model.SourceConfirmation)
	if err != nil {
		if errors.Is(err, domain.ErrEventIgnored) {
			return nil, domain.ErrPaymentStillPending
		}
		return nil, err
	}
	return ev, nil
}

func (c *CloudPayments) toEvent(f map[string]any, source model.EventSource) (*model.CanonicalEvent, error) {
	status := stringField(f, "Status")
	var outcome model.Outcome
	switch status {
	case "Completed", "Authorized":
		outcome = model.OutcomeSucceeded
	case "Declined", "Cancelled":
		outcome = model.OutcomeFailed
	default:
		return nil, fmt.Errorf("%w: status %q", domain.ErrEventIgnored, status)
	}

	ev := &model.CanonicalEvent{
		Provider:          ProviderCloudPayments,
		ProviderReference: stringField(f, "InvoiceId"),
		Outcome:           outcome,
		RawProviderStatus: status,
		Currency:          strings.ToUpper(stringField(f, "Currency")),
		Authenticated:     true,
		Source:            source,
		ReceivedAt:        time.Now().UTC(),
		Metadata:          map[string]any{},
	}
	setAmount(ev, f["Amount"])
	if v, ok := f["TransactionId"]; ok && v != nil {
		if id, err := cast.ToInt64E(v); err == nil {
			ev.Metadata["cloudpayments_transaction_id"] = id
		}
	}
	putIfSet(ev.Metadata, "cloudpayments_status", status)
	putIfSet(ev.Metadata, "card_first_six", stringField(f, "CardFirstSix"))
	putIfSet(ev.Metadata, "card_last_four", stringField(f, "CardLastFour"))
	putIfSet(ev.Metadata, "card_type", stringField(f, "CardType"))
	if reason := stringField(f, "Reason"); reason != "" && outcome == model.OutcomeFailed {
		ev.Metadata["decline_reason"] = reason
	}

	ev.Product = productFromData(f["Data"])
	return ev, nil
}

// decodeFields accepts the form-urlencoded body CloudPayments sends by
// default and the JSON variant selectable in the merchant console.
func decodeFields(body []byte, contentType string) (map[string]any, error) {
	trimmed := bytes.TrimSpace(body)
	if strings.Contains(contentType, "json") || bytes.HasPrefix(trimmed, []byte("{")) {
		out := map[string]any{}
		dec := json.NewDecoder(bytes.NewReader(trimmed))
		dec.UseNumber()
		if err := dec.Decode(&out); err != nil {
			return nil, err
		}
		return out, nil
	}
	values, err := url.ParseQuery(string(trimmed))
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, errors.New("empty body")
	}
	out := make(map[string]any, len(values))
	for k := range values {
		out[k] = values.Get(k)
	}
	return out, nil
}

// productFromData reads the checkout metadata carried in the Data field,
// which arrives either as a JSON string or as an already decoded object.
func productFromData(v any) model.Product {
	var data map[string]any
	switch d := v.(type) {
	case map[string]any:
		data = d
	case string:
		if strings.TrimSpace(d) == "" {
			return nil
		}
		if err := json.Unmarshal([]byte(d), &data); err != nil {
			return nil
		}
	default:
		return nil
	}
	kind := stringField(data, "payment_type")
	if kind == "" {
		return nil
	}
	p, err := model.ParseProduct(kind, stringField(data, "tier"), stringField(data, "course_id"))
	if err != nil {
		return nil
	}
	return p
}
