//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"course-billing/internal/domain"
	"course-billing/internal/domain/model"
	"course-billing/internal/domain/ports/adapter"
	"course-billing/internal/domain/ports/repository"
)

// -----------------------------
// In-memory store shared by the repository mocks
// -----------------------------

// memStore holds the rows behind the repository mocks. MockTxManager takes
// a snapshot before running a transaction body and restores it when the
// body fails, so rollbacks behave like the database.
type memStore struct {
	mu            sync.Mutex
	payments      map[string]*model.PaymentAttempt // by id
	subs          map[string]*model.Subscription   // by id
	courses       map[string]*model.CoursePurchase // by user|course
	notifications map[string]*model.PaymentNotification
}

func newMemStore() *memStore {
	return &memStore{
		payments:      map[string]*model.PaymentAttempt{},
		subs:          map[string]*model.Subscription{},
		courses:       map[string]*model.CoursePurchase{},
		notifications: map[string]*model.PaymentNotification{},
	}
}

type memSnapshot struct {
	payments      map[string]*model.PaymentAttempt
	subs          map[string]*model.Subscription
	courses       map[string]*model.CoursePurchase
	notifications map[string]*model.PaymentNotification
}

func (s *memStore) snapshot() memSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := memSnapshot{
		payments:      make(map[string]*model.PaymentAttempt, len(s.payments)),
		subs:          make(map[string]*model.Subscription, len(s.subs)),
		courses:       make(map[string]*model.CoursePurchase, len(s.courses)),
		notifications: make(map[string]*model.PaymentNotification, len(s.notifications)),
	}
	for k, v := range s.payments {
		snap.payments[k] = clonePayment(v)
	}
	for k, v := range s.subs {
		c := *v
		snap.subs[k] = &c
	}
	for k, v := range s.courses {
		c := *v
		snap.courses[k] = &c
	}
	for k, v := range s.notifications {
		c := *v
		snap.notifications[k] = &c
	}
	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments = snap.payments
	s.subs = snap.subs
	s.courses = snap.courses
	s.notifications = snap.notifications
}

// payment returns a copy of the stored attempt, or nil.
func (s *memStore) payment(id string) *model.PaymentAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.payments[id]; ok {
		return clonePayment(p)
	}
	return nil
}

func (s *memStore) activeSubscriptions(userID string) []*model.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Subscription
	for _, v := range s.subs {
		if v.UserID == userID && v.IsActive {
			c := *v
			out = append(out, &c)
		}
	}
	return out
}

func (s *memStore) courseCount(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, v := range s.courses {
		if v.UserID == userID {
			n++
		}
	}
	return n
}

func clonePayment(p *model.PaymentAttempt) *model.PaymentAttempt {
	c := *p
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		c.CompletedAt = &t
	}
	if p.GrantedAt != nil {
		t := *p.GrantedAt
		c.GrantedAt = &t
	}
	if p.SubscriptionID != nil {
		id := *p.SubscriptionID
		c.SubscriptionID = &id
	}
	c.Metadata = make(map[string]any, len(p.Metadata))
	for k, v := range p.Metadata {
		c.Metadata[k] = v
	}
	return &c
}

// =============================
// Repositories
// =============================

// ---- MockPaymentRepo ----

type MockPaymentRepo struct {
	s *memStore

	FindByProviderReferenceFunc func(ctx context.Context, tx repository.Tx, ref string) (*model.PaymentAttempt, error)
	TransitionFromPendingFunc   func(ctx context.Context, tx repository.Tx, id string, to model.PaymentStatus, providerStatus string, meta map[string]any, at time.Time) (bool, error)
}

var _ repository.PaymentRepository = (*MockPaymentRepo)(nil)

func NewMockPaymentRepo(s *memStore) *MockPaymentRepo { return &MockPaymentRepo{s: s} }

func (m *MockPaymentRepo) Save(ctx context.Context, tx repository.Tx, p *model.PaymentAttempt) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, v := range m.s.payments {
		if v.ProviderReference == p.ProviderReference {
			return domain.ErrAlreadyExists
		}
	}
	m.s.payments[p.ID] = clonePayment(p)
	return nil
}

func (m *MockPaymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.PaymentAttempt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p := m.s.payment(id); p != nil {
		return p, nil
	}
	return nil, domain.ErrNotFound
}

func (m *MockPaymentRepo) FindByProviderReference(ctx context.Context, tx repository.Tx, ref string) (*model.PaymentAttempt, error) {
	if m.FindByProviderReferenceFunc != nil {
		return m.FindByProviderReferenceFunc(ctx, tx, ref)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, v := range m.s.payments {
		if v.ProviderReference == ref {
			return clonePayment(v), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *MockPaymentRepo) TransitionFromPending(ctx context.Context, tx repository.Tx, id string, to model.PaymentStatus, providerStatus string, meta map[string]any, at time.Time) (bool, error) {
	if m.TransitionFromPendingFunc != nil {
		return m.TransitionFromPendingFunc(ctx, tx, id, to, providerStatus, meta, at)
	}
	if !model.CanTransition(model.PaymentStatusPending, to) {
		return false, domain.ErrInvalidArgument
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p, ok := m.s.payments[id]
	if !ok || p.Status != model.PaymentStatusPending {
		return false, nil
	}
	p.Status = to
	p.ProviderStatus = providerStatus
	for k, v := range meta {
		p.Metadata[k] = v
	}
	p.CompletedAt = &at
	p.UpdatedAt = at
	return true, nil
}

func (m *MockPaymentRepo) ClaimGrant(ctx context.Context, tx repository.Tx, id string, at time.Time) (bool, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p, ok := m.s.payments[id]
	if !ok || p.Status != model.PaymentStatusSucceeded || p.GrantedAt != nil {
		return false, nil
	}
	p.GrantedAt = &at
	p.UpdatedAt = at
	return true, nil
}

func (m *MockPaymentRepo) LinkSubscription(ctx context.Context, tx repository.Tx, id, subscriptionID string) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	p, ok := m.s.payments[id]
	if !ok {
		return domain.ErrNotFound
	}
	p.SubscriptionID = &subscriptionID
	return nil
}

func (m *MockPaymentRepo) ListSucceededUngranted(ctx context.Context, tx repository.Tx, limit int) ([]*model.PaymentAttempt, error) {
	return m.list(limit, func(p *model.PaymentAttempt) bool { return p.NeedsGrant() }), nil
}

func (m *MockPaymentRepo) ClaimStalePending(ctx context.Context, tx repository.Tx, olderThan, at time.Time, limit int) ([]*model.PaymentAttempt, error) {
	return m.list(limit, func(p *model.PaymentAttempt) bool {
		return p.Status == model.PaymentStatusPending && p.CreatedAt.Before(olderThan)
	}), nil
}

func (m *MockPaymentRepo) list(limit int, keep func(*model.PaymentAttempt) bool) []*model.PaymentAttempt {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*model.PaymentAttempt
	for _, v := range m.s.payments {
		if keep(v) {
			out = append(out, clonePayment(v))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ---- MockSubscriptionRepo ----

type MockSubscriptionRepo struct {
	s *memStore

	UpsertActiveFunc func(ctx context.Context, tx repository.Tx, sub *model.Subscription) (*model.Subscription, error)
}

var _ repository.SubscriptionRepository = (*MockSubscriptionRepo)(nil)

func NewMockSubscriptionRepo(s *memStore) *MockSubscriptionRepo { return &MockSubscriptionRepo{s: s} }

func (m *MockSubscriptionRepo) UpsertActive(ctx context.Context, tx repository.Tx, sub *model.Subscription) (*model.Subscription, error) {
	if m.UpsertActiveFunc != nil {
		return m.UpsertActiveFunc(ctx, tx, sub)
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, v := range m.s.subs {
		if v.UserID == sub.UserID && v.IsActive {
			v.Tier = sub.Tier
			v.EndDate = sub.EndDate
			v.UpdatedAt = sub.UpdatedAt
			c := *v
			return &c, nil
		}
	}
	c := *sub
	c.IsActive = true
	m.s.subs[c.ID] = &c
	out := c
	return &out, nil
}

func (m *MockSubscriptionRepo) FindActiveByUser(ctx context.Context, tx repository.Tx, userID string) (*model.Subscription, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, v := range m.s.subs {
		if v.UserID == userID && v.IsActive {
			c := *v
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

// ---- MockCourseRepo ----

type MockCourseRepo struct {
	s *memStore

	InsertIfAbsentFunc func(ctx context.Context, tx repository.Tx, cp *model.CoursePurchase) (bool, error)
}

var _ repository.CoursePurchaseRepository = (*MockCourseRepo)(nil)

func NewMockCourseRepo(s *memStore) *MockCourseRepo { return &MockCourseRepo{s: s} }

func (m *MockCourseRepo) InsertIfAbsent(ctx context.Context, tx repository.Tx, cp *model.CoursePurchase) (bool, error) {
	if m.InsertIfAbsentFunc != nil {
		return m.InsertIfAbsentFunc(ctx, tx, cp)
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	key := cp.UserID + "|" + cp.CourseID
	if _, ok := m.s.courses[key]; ok {
		return false, nil
	}
	c := *cp
	m.s.courses[key] = &c
	return true, nil
}

func (m *MockCourseRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.CoursePurchase, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []*model.CoursePurchase
	for _, v := range m.s.courses {
		if v.UserID == userID {
			c := *v
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CourseID < out[j].CourseID })
	return out, nil
}

// ---- MockNotificationRepo ----

type MockNotificationRepo struct {
	s *memStore

	RecordFunc func(ctx context.Context, tx repository.Tx, n *model.PaymentNotification) error
}

var _ repository.NotificationLogRepository = (*MockNotificationRepo)(nil)

func NewMockNotificationRepo(s *memStore) *MockNotificationRepo { return &MockNotificationRepo{s: s} }

func (m *MockNotificationRepo) Record(ctx context.Context, tx repository.Tx, n *model.PaymentNotification) error {
	if m.RecordFunc != nil {
		return m.RecordFunc(ctx, tx, n)
	}
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if _, ok := m.s.notifications[n.ID]; ok {
		return domain.ErrAlreadyExists
	}
	c := *n
	m.s.notifications[n.ID] = &c
	return nil
}

func (m *MockNotificationRepo) MarkHandled(ctx context.Context, tx repository.Tx, id, ref string, signatureValid bool, status model.NotificationStatus, errMsg string, at time.Time) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	n, ok := m.s.notifications[id]
	if !ok {
		return domain.ErrNotFound
	}
	if ref != "" {
		n.ProviderReference = ref
	}
	n.SignatureValid = signatureValid
	n.Status = status
	n.Error = errMsg
	n.ProcessedAt = &at
	return nil
}

// only returns the single recorded delivery; tests record one at a time.
func (m *MockNotificationRepo) only() *model.PaymentNotification {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for _, v := range m.s.notifications {
		c := *v
		return &c
	}
	return nil
}

// ---- MockTxManager ----

type MockTxManager struct {
	s    *memStore
	txMu sync.Mutex // transactions run one at a time, like serializable commits

	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

func NewMockTxManager(s *memStore) *MockTxManager { return &MockTxManager{s: s} }

// WithTx rolls the store back when fn fails or ctx expires before commit.
func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()

	snap := m.s.snapshot()
	if err := fn(ctx, "mem-tx"); err != nil {
		m.s.restore(snap)
		return err
	}
	if err := ctx.Err(); err != nil {
		m.s.restore(snap)
		return err
	}
	return nil
}

// =============================
// Adapters
// =============================

// ---- MockPublisher ----

type MockPublisher struct {
	mu     sync.Mutex
	Events []adapter.EntitlementGranted

	PublishFunc func(ctx context.Context, ev adapter.EntitlementGranted) error
}

var _ adapter.EventPublisher = (*MockPublisher)(nil)

func (m *MockPublisher) PublishEntitlementGranted(ctx context.Context, ev adapter.EntitlementGranted) error {
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, ev)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, ev)
	return nil
}

func (m *MockPublisher) Close() error { return nil }

func (m *MockPublisher) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Events)
}

// ---- MockEntitlementCache ----

type MockEntitlementCache struct {
	mu          sync.Mutex
	Invalidated []string
}

var _ repository.EntitlementCache = (*MockEntitlementCache)(nil)

func (m *MockEntitlementCache) InvalidateUser(ctx context.Context, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Invalidated = append(m.Invalidated, userID)
}

// ---- MockProvider: notification adapter + status lookup ----

type MockProvider struct {
	Name string

	ParseFunc  func(ctx context.Context, n *model.InboundNotification) (*model.CanonicalEvent, error)
	LookupFunc func(ctx context.Context, ref string) (*model.CanonicalEvent, error)
}

var (
	_ adapter.NotificationAdapter = (*MockProvider)(nil)
	_ adapter.PaymentStatusLookup = (*MockProvider)(nil)
)

func (m *MockProvider) Provider() string { return m.Name }
func (m *MockProvider) Ack() []byte      { return []byte(`{"ok":true}`) }

func (m *MockProvider) Parse(ctx context.Context, n *model.InboundNotification) (*model.CanonicalEvent, error) {
	if m.ParseFunc != nil {
		return m.ParseFunc(ctx, n)
	}
	return nil, domain.ErrUnparseable
}

func (m *MockProvider) Lookup(ctx context.Context, ref string) (*model.CanonicalEvent, error) {
	if m.LookupFunc != nil {
		return m.LookupFunc(ctx, ref)
	}
	return nil, domain.ErrPaymentStillPending
}

// ---- MockRegistry ----

type MockRegistry struct {
	providers map[string]*MockProvider
}

var _ adapter.ProviderRegistry = (*MockRegistry)(nil)

func NewMockRegistry(ps ...*MockProvider) *MockRegistry {
	r := &MockRegistry{providers: map[string]*MockProvider{}}
	for _, p := range ps {
		r.providers[p.Name] = p
	}
	return r
}

func (r *MockRegistry) Adapter(name string) (adapter.NotificationAdapter, error) {
	if p, ok := r.providers[name]; ok {
		return p, nil
	}
	return nil, domain.ErrUnknownProvider
}

func (r *MockRegistry) Lookup(name string) (adapter.PaymentStatusLookup, error) {
	if p, ok := r.providers[name]; ok {
		return p, nil
	}
	return nil, domain.ErrUnknownProvider
}

// =============================
// Fixtures
// =============================

var errInjected = errors.New("injected failure")

func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// seedAttempt stores a pending attempt and returns it.
func seedAttempt(s *memStore, ref, provider, userID string, amount int64, product model.Product) *model.PaymentAttempt {
	p, err := model.NewPaymentAttempt(ref, provider, userID, amount, "RUB", product)
	if err != nil {
		panic(err)
	}
	p.CreatedAt = p.CreatedAt.Add(-time.Hour)
	s.mu.Lock()
	s.payments[p.ID] = clonePayment(p)
	s.mu.Unlock()
	return p
}

func successEvent(provider, ref string, amount int64) *model.CanonicalEvent {
	return &model.CanonicalEvent{
		Provider:          provider,
		ProviderReference: ref,
		Outcome:           model.OutcomeSucceeded,
		RawProviderStatus: "succeeded",
		Amount:            amount,
		Currency:          "RUB",
		Authenticated:     true,
		Source:            model.SourceWebhook,
		ReceivedAt:        time.Now().UTC(),
		Metadata:          map[string]any{"transaction_id": "tx-1"},
	}
}

func failureEvent(provider, ref string) *model.CanonicalEvent {
	ev := successEvent(provider, ref, 0)
	ev.Outcome = model.OutcomeFailed
	ev.RawProviderStatus = "canceled"
	return ev
}
