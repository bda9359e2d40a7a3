package qualification

import (
	"context"

	"leadsync_backend/internal/crm"
	"leadsync_backend/internal/events"
	"leadsync_backend/internal/leads/domain"
	"leadsync_backend/internal/leads/repository"
	"leadsync_backend/platform/config"
	"leadsync_backend/platform/logger"
	"leadsync_backend/platform/metrics"

	"github.com/google/uuid"
)

// LeadStore is the lead repository surface qualification writes through.
type LeadStore interface {
	repository.QualificationStore
	repository.StageHistoryStore
}

// StageRegistry is the per-account pipeline stage registry.
type StageRegistry interface {
	ListStages(ctx context.Context, accountID uuid.UUID) ([]RegistryStage, error)
	FindStage(ctx context.Context, accountID uuid.UUID, pipelineID, statusID int64) (RegistryStage, error)
	ApplyCatalog(ctx context.Context, accountID uuid.UUID, inserts, updates []RegistryStage) error
	SetStageQualified(ctx context.Context, accountID uuid.UUID, stageID uuid.UUID, isQualified bool) (RegistryStage, bool, error)
}

// ConnectionStore lists the accounts connected to a CRM.
type ConnectionStore interface {
	GetConnection(ctx context.Context, accountID uuid.UUID) (crm.Connection, error)
	ListActiveConnections(ctx context.Context) ([]crm.Connection, error)
}

// BookingStore persists booking records and transactions.
type BookingStore interface {
	UpsertRecord(ctx context.Context, rec BookingRecordRow) (BookingRecordRow, error)
	GetRecord(ctx context.Context, accountID uuid.UUID, recordID string) (BookingRecordRow, error)
	LinkRecordLead(ctx context.Context, accountID uuid.UUID, recordID string, leadID uuid.UUID) (bool, error)
	InsertTransaction(ctx context.Context, accountID uuid.UUID, transactionID, recordID string, amount float64) (bool, error)
	ClaimTransactions(ctx context.Context, accountID uuid.UUID, recordID, transactionID string) (float64, error)
}

// DirectionStages reads and writes a direction's key stages.
type DirectionStages interface {
	GetKeyStages(ctx context.Context, accountID uuid.UUID, directionID uuid.UUID) (domain.KeyStages, error)
	UpdateKeyStages(ctx context.Context, accountID uuid.UUID, directionID uuid.UUID, stages domain.KeyStages) error
}

// CRMClient is the read API of one account's CRM.
type CRMClient interface {
	ListStages(ctx context.Context) ([]crm.Stage, error)
	ListLeads(ctx context.Context, maxLeads int) ([]crm.LeadSnapshot, error)
}

// ClientFactory opens a CRM client for a connection.
type ClientFactory func(conn crm.Connection) CRMClient

// ResyncEnqueuer schedules an asynchronous full account re-sync.
type ResyncEnqueuer interface {
	EnqueueAccountResync(ctx context.Context, accountID uuid.UUID) error
}

// Service is the qualification synchronizer.
type Service struct {
	leads       LeadStore
	registry    StageRegistry
	connections ConnectionStore
	bookings    BookingStore
	directions  DirectionStages
	clients     ClientFactory
	bus         events.Bus
	cfg         config.CRMConfig
	metrics     *metrics.Metrics
	log         *logger.Logger
	resync      ResyncEnqueuer
}

// Deps groups the Service collaborators.
type Deps struct {
	Leads       LeadStore
	Registry    StageRegistry
	Connections ConnectionStore
	Bookings    BookingStore
	Directions  DirectionStages
	Clients     ClientFactory
	Bus         events.Bus
	Config      config.CRMConfig
	Metrics     *metrics.Metrics
	Log         *logger.Logger
}

func NewService(d Deps) *Service {
	return &Service{
		leads:       d.Leads,
		registry:    d.Registry,
		connections: d.Connections,
		bookings:    d.Bookings,
		directions:  d.Directions,
		clients:     d.Clients,
		bus:         d.Bus,
		cfg:         d.Config,
		metrics:     d.Metrics,
		log:         d.Log,
	}
}

// SetResyncEnqueuer wires the job queue used after stage overrides. Without one,
// overrides still requalify leads locally.
func (s *Service) SetResyncEnqueuer(e ResyncEnqueuer) {
	s.resync = e
}

func (s *Service) client(ctx context.Context, accountID uuid.UUID) (CRMClient, error) {
	conn, err := s.connections.GetConnection(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return s.clients(conn), nil
}
