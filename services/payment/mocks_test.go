package payment

import (
	"context"
	"sync"
	"time"

	"psychology/database"
	paymentRepo "psychology/database/repository/payment"
	"psychology/models"
)

type memEvents struct {
	mu    sync.Mutex
	items map[string]*models.PaymentWebhookEvent
}

func newMemEvents() *memEvents {
	return &memEvents{items: make(map[string]*models.PaymentWebhookEvent)}
}

func (m *memEvents) RecordReceived(_ context.Context, event *models.PaymentWebhookEvent) (*models.PaymentWebhookEvent, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := event.Provider + "/" + event.ProviderEventID
	if stored, ok := m.items[key]; ok {
		copied := *stored
		return &copied, false, nil
	}
	copied := *event
	m.items[key] = &copied
	return event, true, nil
}

func (m *memEvents) MarkProcessed(_ context.Context, provider, providerEventID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.items[provider+"/"+providerEventID]; ok {
		e.ProcessedAt = &at
		e.LastError = ""
	}
	return nil
}

func (m *memEvents) RecordError(_ context.Context, provider, providerEventID, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.items[provider+"/"+providerEventID]; ok {
		e.LastError = message
	}
	return nil
}

func (m *memEvents) get(provider, id string) models.PaymentWebhookEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.items[provider+"/"+id]; ok {
		return *e
	}
	return models.PaymentWebhookEvent{}
}

type memPayments struct {
	mu          sync.Mutex
	items       map[string]models.Payment
	transitions int
	// GetErr makes lookups by provider payment id fail.
	GetErr error
}

func newMemPayments(payments ...models.Payment) *memPayments {
	m := &memPayments{items: make(map[string]models.Payment)}
	for _, p := range payments {
		m.items[p.ID] = p
	}
	return m
}

func (m *memPayments) Create(_ context.Context, payment *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.items {
		if p.Provider == payment.Provider && p.ProviderPaymentID == payment.ProviderPaymentID {
			return database.ErrDuplicatePayment
		}
		if payment.IdempotencyKey != nil && p.IdempotencyKey != nil && *p.IdempotencyKey == *payment.IdempotencyKey {
			return database.ErrDuplicatePayment
		}
	}
	m.items[payment.ID] = *payment
	return nil
}

func (m *memPayments) GetByProviderPaymentID(_ context.Context, provider, providerPaymentID string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	for _, p := range m.items {
		if p.Provider == provider && p.ProviderPaymentID == providerPaymentID {
			return &p, nil
		}
	}
	return nil, database.ErrNotFound
}

func (m *memPayments) GetByIdempotencyKey(_ context.Context, key string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.items {
		if p.IdempotencyKey != nil && *p.IdempotencyKey == key {
			return &p, nil
		}
	}
	return nil, database.ErrNotFound
}

func (m *memPayments) TransitionIfStatus(_ context.Context, id string, from models.PaymentStatus, change paymentRepo.StatusChange) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.items[id]
	if !ok || p.Status != from {
		return false, nil
	}
	p.Status = change.To
	p.ConfirmedAt = change.ConfirmedAt
	if change.FailureCategory != nil {
		p.FailureCategory = change.FailureCategory
	}
	m.items[id] = p
	m.transitions++
	return true, nil
}

func (m *memPayments) get(id string) models.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[id]
}

func (m *memPayments) TransitionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitions
}

type memAppointments struct {
	mu          sync.Mutex
	items       map[string]models.Appointment
	transitions []models.AppointmentStatus
}

func newMemAppointments(appts ...models.Appointment) *memAppointments {
	m := &memAppointments{items: make(map[string]models.Appointment)}
	for _, a := range appts {
		m.items[a.ID] = a
	}
	return m
}

func (m *memAppointments) GetByID(_ context.Context, id string) (*models.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return &a, nil
}

func (m *memAppointments) TransitionStatusIf(_ context.Context, id string, from, to models.AppointmentStatus, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok || a.Status != from {
		return false, nil
	}
	a.Status = to
	a.UpdatedAt = now
	m.items[id] = a
	m.transitions = append(m.transitions, to)
	return true, nil
}

func (m *memAppointments) status(id string) models.AppointmentStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.items[id].Status
}

func (m *memAppointments) confirmations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.transitions {
		if s == models.AppointmentConfirmed {
			n++
		}
	}
	return n
}

type memSlots struct {
	mu       sync.Mutex
	released []string
}

func (m *memSlots) ReleaseSlot(_ context.Context, slotID string, _ time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released = append(m.released, slotID)
	return true, nil
}

type passthroughTx struct{}

func (passthroughTx) WithTransaction(ctx context.Context, fn func(txCtx context.Context) error) error {
	return fn(ctx)
}

type recordingFollowUp struct {
	mu    sync.Mutex
	ids   []string
	Err   error
	Block chan struct{}
}

func (f *recordingFollowUp) AppointmentConfirmed(_ context.Context, appointmentID string) error {
	if f.Block != nil {
		<-f.Block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, appointmentID)
	return f.Err
}

func (f *recordingFollowUp) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ids)
}

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
}

func (p *recordingPublisher) PublishJSON(_ context.Context, key string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

type countingAlerter struct {
	mu   sync.Mutex
	keys []string
}

func (a *countingAlerter) Raise(_ context.Context, key, _ string, _ error) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.keys = append(a.keys, key)
	return true
}

func (a *countingAlerter) CallCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.keys)
}

type fakeLookup struct {
	mu      sync.Mutex
	calls   int
	Payment *ProviderPayment
	Err     error
}

func (l *fakeLookup) GetPayment(_ context.Context, providerPaymentID string) (*ProviderPayment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.Err != nil {
		return nil, l.Err
	}
	out := *l.Payment
	out.ID = providerPaymentID
	return &out, nil
}

func (l *fakeLookup) CallCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type fakeGateway struct {
	mu              sync.Mutex
	CreatePaymentFn func(ctx context.Context, req CreateRequest) (*CreatedPayment, error)
	requests        []CreateRequest
}

func (g *fakeGateway) Provider() string { return models.ProviderYooKassa }

func (g *fakeGateway) CreatePayment(ctx context.Context, req CreateRequest) (*CreatedPayment, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()
	if g.CreatePaymentFn != nil {
		return g.CreatePaymentFn(ctx, req)
	}
	return &CreatedPayment{ProviderPaymentID: "pay-" + req.IdempotencyKey, Status: models.PaymentPending, ConfirmationURL: "https://pay.example/confirm"}, nil
}

func (g *fakeGateway) CallCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}
