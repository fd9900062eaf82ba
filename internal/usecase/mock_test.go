//go:build !integration

package usecase_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"gateway-reconciler/internal/domain"
	"gateway-reconciler/internal/domain/model"
	"gateway-reconciler/internal/domain/ports/adapter"
	"gateway-reconciler/internal/domain/ports/repository"
	"gateway-reconciler/internal/usecase"
)

// -----------------------------
// Utilities: tiny helpers
// -----------------------------

// newTestLogger creates a silent zerolog.Logger for use in tests.
func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

func fastRetry() usecase.RetryPolicy {
	return usecase.RetryPolicy{MaxAttempts: 5, Initial: time.Millisecond, Max: 4 * time.Millisecond}
}

func clonePayable(p model.Payable) model.Payable {
	switch v := p.(type) {
	case *model.Invoice:
		c := *v
		return &c
	case *model.PaymentRequest:
		c := *v
		c.InvoiceIDs = append([]string(nil), v.InvoiceIDs...)
		return &c
	}
	return p
}

func bumpVersion(p model.Payable) {
	switch v := p.(type) {
	case *model.Invoice:
		v.LockVersion++
	case *model.PaymentRequest:
		v.LockVersion++
	}
}

// memTx is the in-memory transaction handle. Writes register undo steps that run on rollback.
type memTx struct {
	undo []func()
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
}

func onRollback(tx repository.Tx, f func()) {
	if mt, ok := tx.(*memTx); ok {
		mt.undo = append(mt.undo, f)
	}
}

// =============================
// Repositories
// =============================

// ---- In-memory PaymentRepository (unique provider_payment_id) ----

type MemPaymentRepo struct {
	mu   sync.Mutex
	rows map[string]*model.Payment

	// BeforeCreate runs before the uniqueness check; tests use it to race a second writer.
	BeforeCreate func(p *model.Payment)
	// CreateErr fails every insert when set.
	CreateErr error
}

var _ repository.PaymentRepository = (*MemPaymentRepo)(nil)

func NewMemPaymentRepo() *MemPaymentRepo {
	return &MemPaymentRepo{rows: map[string]*model.Payment{}}
}

func (r *MemPaymentRepo) Create(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	if r.BeforeCreate != nil {
		hook := r.BeforeCreate
		r.BeforeCreate = nil
		hook(p)
	}
	if r.CreateErr != nil {
		return r.CreateErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.ProviderPaymentID != "" {
		for _, row := range r.rows {
			if row.ProviderPaymentID == p.ProviderPaymentID {
				return domain.ErrAlreadyExists
			}
		}
	}
	c := *p
	r.rows[p.ID] = &c
	onRollback(tx, func() {
		r.mu.Lock()
		delete(r.rows, p.ID)
		r.mu.Unlock()
	})
	return nil
}

func (r *MemPaymentRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *row
	return &c, nil
}

func (r *MemPaymentRepo) FindByProviderPaymentID(ctx context.Context, tx repository.Tx, providerPaymentID string) (*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.ProviderPaymentID == providerPaymentID {
			c := *row
			return &c, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MemPaymentRepo) UpdateStatus(ctx context.Context, tx repository.Tx, p *model.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[p.ID]
	if !ok {
		return domain.ErrNotFound
	}
	prev := *row
	onRollback(tx, func() {
		r.mu.Lock()
		*row = prev
		r.mu.Unlock()
	})
	row.Status = p.Status
	row.PayableStatus = p.PayableStatus
	row.ErrorCode = p.ErrorCode
	row.ErrorMessage = p.ErrorMessage
	row.UpdatedAt = p.UpdatedAt
	return nil
}

func (r *MemPaymentRepo) ListByPayable(ctx context.Context, tx repository.Tx, ref model.PayableRef) ([]*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Payment
	for _, row := range r.rows {
		if row.Payable == ref {
			c := *row
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemPaymentRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, olderThan time.Time, limit int) ([]*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Payment
	for _, row := range r.rows {
		if row.PayableStatus == model.StatusPending && row.CreatedAt.Before(olderThan) {
			c := *row
			out = append(out, &c)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemPaymentRepo) All() []*model.Payment {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.Payment, 0, len(r.rows))
	for _, row := range r.rows {
		c := *row
		out = append(out, &c)
	}
	return out
}

// ---- In-memory PayableRepository (optimistic lock) ----

type MemPayableRepo struct {
	mu   sync.Mutex
	rows map[model.PayableRef]model.Payable

	// BeforeSave runs before the version check; tests use it to simulate a concurrent writer.
	BeforeSave func(ref model.PayableRef)
	Saves      int
}

var _ repository.PayableRepository = (*MemPayableRepo)(nil)

func NewMemPayableRepo(items ...model.Payable) *MemPayableRepo {
	r := &MemPayableRepo{rows: map[model.PayableRef]model.Payable{}}
	for _, p := range items {
		r.rows[p.Ref()] = clonePayable(p)
	}
	return r
}

func (r *MemPayableRepo) Find(ctx context.Context, tx repository.Tx, ref model.PayableRef) (model.Payable, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.rows[ref]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return clonePayable(p), nil
}

func (r *MemPayableRepo) Save(ctx context.Context, tx repository.Tx, p model.Payable) error {
	if r.BeforeSave != nil {
		r.BeforeSave(p.Ref())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.rows[p.Ref()]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Version() != p.Version() {
		return domain.ErrStaleObject
	}
	bumpVersion(p)
	r.rows[p.Ref()] = clonePayable(p)
	r.Saves++
	onRollback(tx, func() {
		r.mu.Lock()
		r.rows[cur.Ref()] = cur
		r.mu.Unlock()
	})
	return nil
}

// Touch simulates another process committing a write to ref.
func (r *MemPayableRepo) Touch(ref model.PayableRef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.rows[ref]; ok {
		bumpVersion(p)
	}
}

func (r *MemPayableRepo) Get(ref model.PayableRef) model.Payable {
	r.mu.Lock()
	defer r.mu.Unlock()
	return clonePayable(r.rows[ref])
}

// ---- In-memory provider customers ----

type MemProviderCustomerRepo struct {
	mu   sync.Mutex
	rows map[string]*model.PaymentProviderCustomer
}

var _ repository.ProviderCustomerRepository = (*MemProviderCustomerRepo)(nil)

func NewMemProviderCustomerRepo(items ...*model.PaymentProviderCustomer) *MemProviderCustomerRepo {
	r := &MemProviderCustomerRepo{rows: map[string]*model.PaymentProviderCustomer{}}
	for _, c := range items {
		cp := *c
		r.rows[c.ID] = &cp
	}
	return r
}

func (r *MemProviderCustomerRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.PaymentProviderCustomer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *MemProviderCustomerRepo) FindByCustomer(ctx context.Context, tx repository.Tx, customerID string, kind model.GatewayKind) (*model.PaymentProviderCustomer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.rows {
		if c.CustomerID == customerID && c.Gateway == kind && c.DeletedAt == nil {
			cp := *c
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MemProviderCustomerRepo) Save(ctx context.Context, tx repository.Tx, c *model.PaymentProviderCustomer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, existed := r.rows[c.ID]
	cp := *c
	r.rows[c.ID] = &cp
	onRollback(tx, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if existed {
			r.rows[c.ID] = prev
		} else {
			delete(r.rows, c.ID)
		}
	})
	return nil
}

// ---- Customers / organizations / providers ----

type MemCustomerRepo struct {
	rows map[string]*model.Customer
}

func NewMemCustomerRepo(items ...*model.Customer) *MemCustomerRepo {
	r := &MemCustomerRepo{rows: map[string]*model.Customer{}}
	for _, c := range items {
		r.rows[c.ID] = c
	}
	return r
}

func (r *MemCustomerRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Customer, error) {
	c, ok := r.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

type MemOrgRepo struct {
	rows map[string]*model.Organization
}

func NewMemOrgRepo(items ...*model.Organization) *MemOrgRepo {
	r := &MemOrgRepo{rows: map[string]*model.Organization{}}
	for _, o := range items {
		r.rows[o.ID] = o
	}
	return r
}

func (r *MemOrgRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Organization, error) {
	o, ok := r.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return o, nil
}

type MockProviderRepo struct {
	rows map[string]*model.PaymentProvider

	FindByIDFunc func(ctx context.Context, tx repository.Tx, id string) (*model.PaymentProvider, error)
}

var _ repository.PaymentProviderRepository = (*MockProviderRepo)(nil)

func NewMockProviderRepo(items ...*model.PaymentProvider) *MockProviderRepo {
	r := &MockProviderRepo{rows: map[string]*model.PaymentProvider{}}
	for _, p := range items {
		r.rows[p.ID] = p
	}
	return r
}

func (r *MockProviderRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.PaymentProvider, error) {
	if r.FindByIDFunc != nil {
		return r.FindByIDFunc(ctx, tx, id)
	}
	p, ok := r.rows[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

func (r *MockProviderRepo) FindByCode(ctx context.Context, tx repository.Tx, organizationID, code string, kind model.GatewayKind) (*model.PaymentProvider, error) {
	var match []*model.PaymentProvider
	for _, p := range r.rows {
		if p.OrganizationID != organizationID || p.Gateway != kind {
			continue
		}
		if code == "" || p.Code == code {
			match = append(match, p)
		}
	}
	if len(match) != 1 {
		return nil, domain.ErrNotFound
	}
	return match[0], nil
}

func (r *MockProviderRepo) Save(ctx context.Context, tx repository.Tx, p *model.PaymentProvider) error {
	r.rows[p.ID] = p
	return nil
}

// =============================
// Adapters
// =============================

// ---- Mock TaskQueue ----

type MockQueue struct {
	mu    sync.Mutex
	Tasks []adapter.Task
	dedup map[string]bool
	ErrOn map[adapter.TaskKind]error
}

var _ adapter.TaskQueue = (*MockQueue)(nil)

func NewMockQueue() *MockQueue {
	return &MockQueue{dedup: map[string]bool{}, ErrOn: map[adapter.TaskKind]error{}}
}

func (q *MockQueue) Enqueue(ctx context.Context, kind adapter.TaskKind, payload any, dedupKey string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.ErrOn[kind]; err != nil {
		return "", err
	}
	if dedupKey != "" {
		if q.dedup[dedupKey] {
			return "", nil
		}
		q.dedup[dedupKey] = true
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	t := adapter.Task{ID: uuid.NewString(), Kind: kind, Payload: b, DedupKey: dedupKey, EnqueuedAt: time.Now()}
	q.Tasks = append(q.Tasks, t)
	return t.ID, nil
}

// ReleaseDedup forgets every dedup key, the way the Redis queue does once a task is acked.
func (q *MockQueue) ReleaseDedup() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dedup = map[string]bool{}
}

func (q *MockQueue) OfKind(kind adapter.TaskKind) []adapter.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []adapter.Task
	for _, t := range q.Tasks {
		if t.Kind == kind {
			out = append(out, t)
		}
	}
	return out
}

// ---- Fake gateway with a moneyhash-like vocabulary ----

type FakeGateway struct {
	kind model.GatewayKind

	VerifyFunc      func(headers http.Header, body []byte, secret string) bool
	ParseEventFunc  func(body []byte, declaredType string) (*model.InboundEvent, error)
	BuildFunc       func(in adapter.ChargeInput) (*adapter.ChargeRequest, error)
	SendPaymentFunc func(ctx context.Context, provider *model.PaymentProvider, req *adapter.ChargeRequest) (*adapter.ChargeResponse, error)

	mu   sync.Mutex
	Sent []*adapter.ChargeRequest
}

var _ adapter.Gateway = (*FakeGateway)(nil)

func NewFakeGateway(kind model.GatewayKind) *FakeGateway { return &FakeGateway{kind: kind} }

func (g *FakeGateway) Kind() model.GatewayKind { return g.kind }
func (g *FakeGateway) OpenStatus() string      { return "PENDING" }
func (g *FakeGateway) FailedStatus() string    { return "FAILED" }

func (g *FakeGateway) Verify(headers http.Header, body []byte, secret string) bool {
	if g.VerifyFunc != nil {
		return g.VerifyFunc(headers, body, secret)
	}
	return headers.Get("X-Test-Signature") == secret
}

func (g *FakeGateway) ParseEvent(body []byte, declaredType string) (*model.InboundEvent, error) {
	if g.ParseEventFunc != nil {
		return g.ParseEventFunc(body, declaredType)
	}
	var ev model.InboundEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, domain.ErrMalformedPayload
	}
	return &ev, nil
}

func (g *FakeGateway) NormalizeStatus(raw string) model.CanonicalStatus {
	switch raw {
	case "PENDING":
		return model.StatusPending
	case "PROCESSED":
		return model.StatusSucceeded
	case "FAILED", "TIME_EXPIRED":
		return model.StatusFailed
	}
	return model.CanonicalStatus(raw)
}

func (g *FakeGateway) BuildPaymentRequest(in adapter.ChargeInput) (*adapter.ChargeRequest, error) {
	if g.BuildFunc != nil {
		return g.BuildFunc(in)
	}
	return &adapter.ChargeRequest{Path: "/payments", Body: map[string]any{"amount": in.Payable.Amount()}}, nil
}

func (g *FakeGateway) SendPayment(ctx context.Context, provider *model.PaymentProvider, req *adapter.ChargeRequest) (*adapter.ChargeResponse, error) {
	g.mu.Lock()
	g.Sent = append(g.Sent, req)
	g.mu.Unlock()
	if g.SendPaymentFunc != nil {
		return g.SendPaymentFunc(ctx, provider, req)
	}
	return &adapter.ChargeResponse{ProviderPaymentID: uuid.NewString(), Status: "PENDING"}, nil
}

func (g *FakeGateway) SentCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Sent)
}

// ---- Registry ----

type MockRegistry map[model.GatewayKind]adapter.Gateway

func (r MockRegistry) Gateway(kind model.GatewayKind) (adapter.Gateway, error) {
	gw, ok := r[kind]
	if !ok {
		return nil, domain.ErrUnknownGateway
	}
	return gw, nil
}

// ---- Notifier ----

type MockNotifier struct {
	mu   sync.Mutex
	Sent []adapter.Notification

	NotifyFunc func(ctx context.Context, n adapter.Notification) error
}

func (m *MockNotifier) Notify(ctx context.Context, n adapter.Notification) error {
	m.mu.Lock()
	m.Sent = append(m.Sent, n)
	m.mu.Unlock()
	if m.NotifyFunc != nil {
		return m.NotifyFunc(ctx, n)
	}
	return nil
}

// =============================
// Infra helpers for tests
// =============================

// ---- Mock TransactionManager ----

type MockTxManager struct {
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

func NewMockTxManager() *MockTxManager {
	return &MockTxManager{}
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

// WithTx runs fn immediately with NoTX unless WithTxFunc is set.
func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	return fn(ctx, repository.NoTX)
}

// =============================
// Fixtures
// =============================

const (
	testOrgID      = "org-1"
	testProviderID = "prov-1"
	testCustomerID = "cust-1"
)

type fixture struct {
	payments  *MemPaymentRepo
	payables  *MemPayableRepo
	pcs       *MemProviderCustomerRepo
	customers *MemCustomerRepo
	orgs      *MemOrgRepo
	providers *MockProviderRepo
	queue     *MockQueue
	gw        *FakeGateway
	registry  MockRegistry
	tm        *MockTxManager
	provider  *model.PaymentProvider
	engine    usecase.ReconcileUseCase
}

func newInvoice(id string, amount int64) *model.Invoice {
	return &model.Invoice{
		ID:                        id,
		OrganizationID:            testOrgID,
		CustomerID:                testCustomerID,
		InvoiceType:               model.InvoiceTypeSubscription,
		TotalAmountCents:          amount,
		Currency:                  "USD",
		PaymentStatus:             model.StatusPending,
		ReadyForPaymentProcessing: true,
		SubscriptionExternalID:    "sub-ext-1",
		PlanID:                    "plan-1",
	}
}

func newPaymentRequest(id string, amount int64, invoiceIDs ...string) *model.PaymentRequest {
	return &model.PaymentRequest{
		ID:                        id,
		OrganizationID:            testOrgID,
		CustomerID:                testCustomerID,
		AmountCents:               amount,
		Currency:                  "USD",
		PaymentStatus:             model.StatusPending,
		ReadyForPaymentProcessing: true,
		InvoiceIDs:                invoiceIDs,
	}
}

func newFixture(payables ...model.Payable) *fixture {
	provider := &model.PaymentProvider{
		ID:             testProviderID,
		OrganizationID: testOrgID,
		Code:           "mh",
		Gateway:        model.GatewayMoneyhash,
		APIKey:         "key",
		WebhookSecret:  "secret",
		Environment:    model.EnvironmentTest,
	}
	pc := &model.PaymentProviderCustomer{
		ID:                 "pc-1",
		CustomerID:         testCustomerID,
		PaymentProviderID:  testProviderID,
		Gateway:            model.GatewayMoneyhash,
		ProviderCustomerID: "mh-cust-1",
		PaymentMethodID:    "card-1",
	}
	customer := &model.Customer{
		ID:                  testCustomerID,
		OrganizationID:      testOrgID,
		ExternalID:          "ext-1",
		Email:               "c@example.com",
		PaymentProvider:     model.GatewayMoneyhash,
		PaymentProviderCode: "mh",
	}
	gw := NewFakeGateway(model.GatewayMoneyhash)
	f := &fixture{
		payments:  NewMemPaymentRepo(),
		payables:  NewMemPayableRepo(payables...),
		pcs:       NewMemProviderCustomerRepo(pc),
		customers: NewMemCustomerRepo(customer),
		orgs:      NewMemOrgRepo(&model.Organization{ID: testOrgID, Name: "Acme"}),
		providers: NewMockProviderRepo(provider),
		queue:     NewMockQueue(),
		gw:        gw,
		registry:  MockRegistry{model.GatewayMoneyhash: gw},
		tm:        NewMockTxManager(),
		provider:  provider,
	}
	f.tm.WithTxFunc = func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
		tx := &memTx{}
		if err := fn(ctx, tx); err != nil {
			tx.rollback()
			return err
		}
		return nil
	}
	f.engine = usecase.NewReconcileUseCase(f.payments, f.payables, f.pcs, f.tm, f.queue, fastRetry(), newTestLogger())
	return f
}

func intentEvent(providerPaymentID, raw string, ref model.PayableRef) *model.InboundEvent {
	return &model.InboundEvent{
		ID:                uuid.NewString(),
		OrganizationID:    testOrgID,
		ProviderID:        testProviderID,
		Gateway:           model.GatewayMoneyhash,
		Kind:              model.EventPaymentIntentUpdated,
		Type:              "intent.processed",
		ProviderPaymentID: providerPaymentID,
		RawStatus:         raw,
		CustomFields: model.CustomFields{
			MerchantInitiated: true,
			OrganizationID:    testOrgID,
			CustomerID:        testCustomerID,
			PayableID:         ref.ID,
			PayableType:       string(ref.Type),
		},
	}
}
