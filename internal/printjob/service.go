package printjob

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cuongbtq/flytwo-backend/internal/domain"
	"github.com/cuongbtq/flytwo-backend/internal/metrics"
)

// Store is the persistence the print job service needs.
type Store interface {
	CreateJobWithOutbox(ctx context.Context, job *domain.Job, msg *domain.OutboxMessage) error
	GetJob(ctx context.Context, id uuid.UUID) (*domain.Job, error)
	ListProducts(ctx context.Context, companyID uuid.UUID, onlyActive bool, category *string, limit int) ([]domain.Product, error)
}

// URLSigner issues fresh download URLs for stored outputs.
type URLSigner interface {
	Presign(ctx context.Context, bucket, key string) (string, time.Time, error)
}

// CreateRequest asks for a report to be rendered.
type CreateRequest struct {
	ReportKey  string
	Format     string
	Parameters json.RawMessage
}

// Service accepts print jobs and serves them back to users and workers.
type Service struct {
	store  Store
	signer URLSigner
	logger *slog.Logger
	now    func() time.Time
	rng    func(n int) int
}

// NewService creates the service. signer may be nil, in which case stored
// output URLs are returned as they are.
func NewService(store Store, signer URLSigner, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		signer: signer,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		rng:    defaultRand,
	}
}

// Create validates the request and writes the job together with its
// print.job.queued.v1 outbox message.
func (s *Service) Create(ctx context.Context, userID string, companyID uuid.UUID, req CreateRequest) (*domain.Job, error) {
	if strings.TrimSpace(userID) == "" || companyID == uuid.Nil {
		return nil, domain.ErrMissingIdentity
	}

	key, err := NormalizeReportKey(req.ReportKey)
	if err != nil {
		return nil, err
	}

	format := domain.JobFormat(strings.ToLower(strings.TrimSpace(req.Format)))
	if !format.Valid() {
		return nil, domain.InvalidParameters("format must be pdf or xlsx")
	}

	params, err := validateParameters(key, req.Parameters)
	if err != nil {
		return nil, err
	}

	now := s.now()
	job := &domain.Job{
		ID:              uuid.New(),
		CompanyID:       companyID,
		CreatedByUserID: userID,
		ReportKey:       key,
		Format:          format,
		Status:          domain.JobStatusQueued,
		ParametersJSON:  params,
		CreatedAt:       now,
	}

	payload, err := json.Marshal(domain.PrintJobQueuedPayload{
		MessageType:   domain.MessageTypePrintJobQueued,
		JobID:         job.ID,
		OccurredAtUTC: now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode outbox payload: %w", err)
	}

	msg := &domain.OutboxMessage{
		ID:          uuid.New(),
		Type:        domain.MessageTypePrintJobQueued,
		PayloadJSON: string(payload),
		OccurredAt:  now,
	}

	if err := s.store.CreateJobWithOutbox(ctx, job, msg); err != nil {
		return nil, fmt.Errorf("failed to create print job: %w", err)
	}
	metrics.PrintJobsCreated.WithLabelValues(key).Inc()

	s.logger.Info("Print job created",
		slog.String("job_id", job.ID.String()),
		slog.String("report_key", key),
		slog.String("format", string(format)),
		slog.String("user_id", userID),
	)
	return job, nil
}

// GetJob returns a job of the caller's company. Non-admins only see jobs they
// created. An expired output URL is replaced by a fresh one in the returned
// copy; the stored row keeps the old URL.
func (s *Service) GetJob(ctx context.Context, id uuid.UUID, userID string, companyID uuid.UUID, isAdmin bool) (*domain.Job, error) {
	if id == uuid.Nil || strings.TrimSpace(userID) == "" || companyID == uuid.Nil {
		return nil, domain.ErrJobNotFound
	}

	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.CompanyID != companyID || (!isAdmin && job.CreatedByUserID != userID) {
		return nil, domain.ErrJobNotFound
	}

	s.refreshOutputURL(ctx, job)
	return job, nil
}

func (s *Service) refreshOutputURL(ctx context.Context, job *domain.Job) {
	if s.signer == nil || job.OutputBucket == nil || job.OutputKey == nil ||
		*job.OutputBucket == "" || *job.OutputKey == "" {
		return
	}
	if job.OutputExpiresAt != nil && job.OutputExpiresAt.After(s.now()) {
		return
	}

	url, expiresAt, err := s.signer.Presign(ctx, *job.OutputBucket, *job.OutputKey)
	if err != nil {
		s.logger.Warn("Failed to refresh output URL",
			slog.String("job_id", job.ID.String()),
			slog.Any("error", err),
		)
		return
	}
	job.OutputURL = &url
	job.OutputExpiresAt = &expiresAt
}
