package qualification

import (
	"context"
	"errors"
	"sync"
	"time"

	"leadsync_backend/internal/crm"
	"leadsync_backend/internal/directions"
	"leadsync_backend/internal/events"
	"leadsync_backend/internal/leads/domain"
	"leadsync_backend/internal/leads/repository"
	"leadsync_backend/platform/logger"
	"leadsync_backend/platform/phone"

	"github.com/google/uuid"
)

type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(_ context.Context, e events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *recordingBus) PublishSync(ctx context.Context, e events.Event) error {
	b.Publish(ctx, e)
	return nil
}

func (b *recordingBus) Subscribe(string, events.Handler) {}

func (b *recordingBus) count(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e.EventName() == name {
			n++
		}
	}
	return n
}

// memoryLeads mimics the conditional SQL of the lead repository.
type memoryLeads struct {
	mu      sync.Mutex
	leads   []*repository.Lead
	history map[uuid.UUID][]domain.StageRef
	writes  int
	failFor map[int64]bool
	// rejectCRMWrites makes ApplyCRMState report a lost race on every call.
	rejectCRMWrites bool
}

func newMemoryLeads() *memoryLeads {
	return &memoryLeads{history: make(map[uuid.UUID][]domain.StageRef), failFor: make(map[int64]bool)}
}

func (m *memoryLeads) add(accountID uuid.UUID, contactID string) *repository.Lead {
	m.mu.Lock()
	defer m.mu.Unlock()
	lead := &repository.Lead{
		ID:              uuid.New(),
		AccountID:       accountID,
		ContactID:       contactID,
		QualifiedSource: domain.QualifiedSourceNone,
		CreatedAt:       time.Now().Add(time.Duration(len(m.leads)) * time.Second),
	}
	m.leads = append(m.leads, lead)
	return lead
}

func (m *memoryLeads) get(id uuid.UUID) repository.Lead {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.leads {
		if l.ID == id {
			return *l
		}
	}
	return repository.Lead{}
}

func (m *memoryLeads) find(pred func(*repository.Lead) bool) (repository.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.leads {
		if pred(l) {
			return *l, nil
		}
	}
	return repository.Lead{}, repository.ErrNotFound
}

func (m *memoryLeads) byID(id uuid.UUID) *repository.Lead {
	for _, l := range m.leads {
		if l.ID == id {
			return l
		}
	}
	return nil
}

func (m *memoryLeads) GetByID(_ context.Context, id uuid.UUID, accountID uuid.UUID) (repository.Lead, error) {
	return m.find(func(l *repository.Lead) bool { return l.ID == id && l.AccountID == accountID })
}

func (m *memoryLeads) GetByContact(_ context.Context, accountID uuid.UUID, contactID string) (repository.Lead, error) {
	return m.find(func(l *repository.Lead) bool { return l.AccountID == accountID && l.ContactID == contactID })
}

func (m *memoryLeads) FindByCRMLeadID(_ context.Context, accountID uuid.UUID, crmLeadID int64) (repository.Lead, error) {
	if m.failFor[crmLeadID] {
		return repository.Lead{}, errors.New("storage unavailable")
	}
	return m.find(func(l *repository.Lead) bool {
		return l.AccountID == accountID && l.CRMLeadID != nil && *l.CRMLeadID == crmLeadID
	})
}

func (m *memoryLeads) FindByContactSuffix(_ context.Context, accountID uuid.UUID, contactID string) (repository.Lead, error) {
	return m.find(func(l *repository.Lead) bool {
		return l.AccountID == accountID && phone.SuffixMatch(l.ContactID, contactID)
	})
}

func (m *memoryLeads) ApplyCRMState(_ context.Context, leadID uuid.UUID, state domain.QualificationState, plannedOnBooking bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.byID(leadID)
	if l == nil || m.rejectCRMWrites || (!plannedOnBooking && l.QualifiedSource == domain.QualifiedSourceBooking) {
		return false, nil
	}
	m.writes++
	l.CRMLeadID = state.CRMLeadID
	l.CurrentPipelineID = state.PipelineID
	l.CurrentStatusID = state.StatusID
	l.IsQualified = state.IsQualified
	l.QualifiedSource = state.Source
	for i := range l.ReachedKeyStages {
		l.ReachedKeyStages[i] = l.ReachedKeyStages[i] || state.ReachedKeyStages[i]
	}
	return true, nil
}

func (m *memoryLeads) ApplyBookingQualification(_ context.Context, leadID uuid.UUID, recordID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.byID(leadID)
	if l == nil || (l.IsQualified && l.QualifiedSource == domain.QualifiedSourceBooking && l.BookingRecordID != nil) {
		return false, nil
	}
	m.writes++
	l.IsQualified = true
	l.QualifiedSource = domain.QualifiedSourceBooking
	if l.BookingRecordID == nil {
		id := recordID
		l.BookingRecordID = &id
	}
	return true, nil
}

func (m *memoryLeads) RequalifyStage(_ context.Context, accountID uuid.UUID, stage domain.StageRef, isQualified bool) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, l := range m.leads {
		if l.AccountID != accountID || l.CurrentPipelineID == nil || l.CurrentStatusID == nil {
			continue
		}
		if *l.CurrentPipelineID != stage.PipelineID || *l.CurrentStatusID != stage.StatusID {
			continue
		}
		if l.QualifiedSource == domain.QualifiedSourceBooking || l.IsQualified == isQualified {
			continue
		}
		l.IsQualified = isQualified
		if isQualified {
			l.QualifiedSource = domain.QualifiedSourceCRM
		} else {
			l.QualifiedSource = domain.QualifiedSourceNone
		}
		n++
	}
	m.writes += int(n)
	return n, nil
}

func (m *memoryLeads) AddSaleAmount(_ context.Context, leadID uuid.UUID, amount float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.byID(leadID)
	if l == nil {
		return repository.ErrNotFound
	}
	l.CumulativeSaleAmount += amount
	return nil
}

func (m *memoryLeads) ListStageHistory(_ context.Context, leadID uuid.UUID) ([]domain.StageRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.StageRef(nil), m.history[leadID]...), nil
}

func (m *memoryLeads) RecordStage(_ context.Context, leadID uuid.UUID, stage domain.StageRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.history[leadID] {
		if s == stage {
			return nil
		}
	}
	m.history[leadID] = append(m.history[leadID], stage)
	return nil
}

type memoryRegistry struct {
	mu          sync.Mutex
	stages      []RegistryStage
	applyCalls  int
	rowsWritten int
}

func (r *memoryRegistry) ListStages(_ context.Context, accountID uuid.UUID) ([]RegistryStage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []RegistryStage
	for _, s := range r.stages {
		if s.AccountID == accountID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memoryRegistry) FindStage(_ context.Context, accountID uuid.UUID, pipelineID, statusID int64) (RegistryStage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.stages {
		if s.AccountID == accountID && s.PipelineID == pipelineID && s.StatusID == statusID {
			return s, nil
		}
	}
	return RegistryStage{}, ErrStageNotFound
}

func (r *memoryRegistry) ApplyCatalog(_ context.Context, accountID uuid.UUID, inserts, updates []RegistryStage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applyCalls++
	r.rowsWritten += len(inserts) + len(updates)
	for _, s := range inserts {
		s.ID = uuid.New()
		s.AccountID = accountID
		r.stages = append(r.stages, s)
	}
	for _, u := range updates {
		for i := range r.stages {
			if r.stages[i].ID == u.ID {
				flag := r.stages[i].IsQualifiedStage
				r.stages[i] = u
				r.stages[i].IsQualifiedStage = flag
			}
		}
	}
	return nil
}

func (r *memoryRegistry) SetStageQualified(_ context.Context, accountID uuid.UUID, stageID uuid.UUID, isQualified bool) (RegistryStage, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.stages {
		if r.stages[i].ID == stageID && r.stages[i].AccountID == accountID {
			changed := r.stages[i].IsQualifiedStage != isQualified
			r.stages[i].IsQualifiedStage = isQualified
			return r.stages[i], changed, nil
		}
	}
	return RegistryStage{}, false, ErrStageNotFound
}

func (r *memoryRegistry) add(accountID uuid.UUID, pipelineID, statusID int64, qualified bool) RegistryStage {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := RegistryStage{ID: uuid.New(), AccountID: accountID, PipelineID: pipelineID, StatusID: statusID, IsQualifiedStage: qualified}
	r.stages = append(r.stages, s)
	return s
}

func (r *memoryRegistry) addOrdered(accountID uuid.UUID, pipelineID, statusID int64, sortOrder int, qualified bool) RegistryStage {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := RegistryStage{ID: uuid.New(), AccountID: accountID, PipelineID: pipelineID, StatusID: statusID, SortOrder: sortOrder, IsQualifiedStage: qualified}
	r.stages = append(r.stages, s)
	return s
}

type memoryConnections struct {
	conns []crm.Connection
}

func (c *memoryConnections) GetConnection(_ context.Context, accountID uuid.UUID) (crm.Connection, error) {
	for _, conn := range c.conns {
		if conn.AccountID == accountID {
			return conn, nil
		}
	}
	return crm.Connection{}, ErrConnectionNotFound
}

func (c *memoryConnections) ListActiveConnections(context.Context) ([]crm.Connection, error) {
	return c.conns, nil
}

type memoryTransaction struct {
	recordID string
	amount   float64
	applied  bool
}

type memoryBookings struct {
	mu           sync.Mutex
	records      map[string]*BookingRecordRow
	transactions map[string]*memoryTransaction
}

func newMemoryBookings() *memoryBookings {
	return &memoryBookings{records: make(map[string]*BookingRecordRow), transactions: make(map[string]*memoryTransaction)}
}

func (b *memoryBookings) UpsertRecord(_ context.Context, rec BookingRecordRow) (BookingRecordRow, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur, ok := b.records[rec.RecordID]
	if !ok {
		stored := rec
		b.records[rec.RecordID] = &stored
		return stored, nil
	}
	if rec.ClientPhone != "" {
		cur.ClientPhone = rec.ClientPhone
	}
	cur.Cancelled = rec.Cancelled
	return *cur, nil
}

func (b *memoryBookings) GetRecord(_ context.Context, _ uuid.UUID, recordID string) (BookingRecordRow, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur, ok := b.records[recordID]
	if !ok {
		return BookingRecordRow{}, ErrRecordNotFound
	}
	return *cur, nil
}

func (b *memoryBookings) LinkRecordLead(_ context.Context, _ uuid.UUID, recordID string, leadID uuid.UUID) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur, ok := b.records[recordID]
	if !ok || cur.LeadID != nil {
		return false, nil
	}
	id := leadID
	cur.LeadID = &id
	return true, nil
}

func (b *memoryBookings) InsertTransaction(_ context.Context, _ uuid.UUID, transactionID, recordID string, amount float64) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.transactions[transactionID]; ok {
		return false, nil
	}
	b.transactions[transactionID] = &memoryTransaction{recordID: recordID, amount: amount}
	return true, nil
}

func (b *memoryBookings) ClaimTransactions(_ context.Context, _ uuid.UUID, recordID, transactionID string) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var total float64
	for id, tx := range b.transactions {
		if tx.recordID != recordID || tx.applied || (transactionID != "" && id != transactionID) {
			continue
		}
		tx.applied = true
		total += tx.amount
	}
	return total, nil
}

type memoryDirections struct {
	stages map[uuid.UUID]domain.KeyStages
}

func (d *memoryDirections) GetKeyStages(_ context.Context, _ uuid.UUID, directionID uuid.UUID) (domain.KeyStages, error) {
	ks, ok := d.stages[directionID]
	if !ok {
		return domain.KeyStages{}, directions.ErrNotFound
	}
	return ks, nil
}

func (d *memoryDirections) UpdateKeyStages(_ context.Context, _ uuid.UUID, directionID uuid.UUID, stages domain.KeyStages) error {
	if _, ok := d.stages[directionID]; !ok {
		return directions.ErrNotFound
	}
	d.stages[directionID] = stages
	return nil
}

type fakeCRM struct {
	mu         sync.Mutex
	stages     []crm.Stage
	leads      []crm.LeadSnapshot
	err        error
	stageCalls int
	leadCalls  int
}

func (f *fakeCRM) ListStages(context.Context) ([]crm.Stage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stageCalls++
	return f.stages, f.err
}

func (f *fakeCRM) ListLeads(_ context.Context, maxLeads int) ([]crm.LeadSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leadCalls++
	if f.err != nil {
		return nil, f.err
	}
	if maxLeads > 0 && len(f.leads) > maxLeads {
		return f.leads[:maxLeads], nil
	}
	return f.leads, nil
}

type fakeEnqueuer struct {
	accounts []uuid.UUID
}

func (f *fakeEnqueuer) EnqueueAccountResync(_ context.Context, accountID uuid.UUID) error {
	f.accounts = append(f.accounts, accountID)
	return nil
}

type testCRMConfig struct{}

func (testCRMConfig) GetCRMRequestTimeout() time.Duration { return time.Second }
func (testCRMConfig) GetCRMRequestsPerSecond() float64    { return 0 }
func (testCRMConfig) GetCRMSyncMaxLeads() int             { return 100 }
func (testCRMConfig) GetCRMSyncInterval() time.Duration   { return time.Minute }
func (testCRMConfig) GetCRMSyncAccountParallelism() int   { return 2 }

type harness struct {
	svc        *Service
	leads      *memoryLeads
	registry   *memoryRegistry
	bookings   *memoryBookings
	directions *memoryDirections
	bus        *recordingBus
	conns      *memoryConnections
	clients    map[uuid.UUID]*fakeCRM
	account    uuid.UUID
}

func newHarness() *harness {
	h := &harness{
		leads:      newMemoryLeads(),
		registry:   &memoryRegistry{},
		bookings:   newMemoryBookings(),
		directions: &memoryDirections{stages: make(map[uuid.UUID]domain.KeyStages)},
		bus:        &recordingBus{},
		clients:    make(map[uuid.UUID]*fakeCRM),
		account:    uuid.New(),
	}
	h.conns = &memoryConnections{}
	h.addAccount(h.account)
	h.svc = NewService(Deps{
		Leads:       h.leads,
		Registry:    h.registry,
		Connections: h.conns,
		Bookings:    h.bookings,
		Directions:  h.directions,
		Clients:     func(conn crm.Connection) CRMClient { return h.clients[conn.AccountID] },
		Bus:         h.bus,
		Config:      testCRMConfig{},
		Log:         logger.New("test"),
	})
	return h
}

func (h *harness) addAccount(accountID uuid.UUID) *fakeCRM {
	client := &fakeCRM{}
	h.clients[accountID] = client
	h.conns.conns = append(h.conns.conns, crm.Connection{AccountID: accountID, BaseURL: "https://crm.example", AccessToken: "t"})
	return client
}

func int64Ptr(v int64) *int64 { return &v }
