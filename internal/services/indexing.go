package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	jobsrepo "github.com/chatmemory/backend/internal/data/repos/jobs"
	types "github.com/chatmemory/backend/internal/domain"
	"github.com/chatmemory/backend/internal/indexer"
	"github.com/chatmemory/backend/internal/platform/apperr"
	"github.com/chatmemory/backend/internal/platform/dbctx"
	"github.com/chatmemory/backend/internal/platform/logger"
)

const maxChatsPerJob = 50

// IndexingService is the request-facing wrapper around the coordinator.
// The tenant always comes from the request context, never from the payload.
type IndexingService interface {
	Submit(ctx context.Context, chatIDs []int64) (*types.IndexingJob, bool, error)
	Get(ctx context.Context, jobID uuid.UUID) (*types.IndexingJob, error)
	List(ctx context.Context, limit int) ([]*types.IndexingJob, error)
	Cancel(ctx context.Context, jobID uuid.UUID) error
}

type indexingService struct {
	log         *logger.Logger
	auth        AuthService
	coordinator *indexer.Coordinator
	jobs        jobsrepo.IndexingJobRepo
}

func NewIndexingService(log *logger.Logger, auth AuthService, coordinator *indexer.Coordinator, jobs jobsrepo.IndexingJobRepo) IndexingService {
	return &indexingService{
		log:         log.With("service", "IndexingService"),
		auth:        auth,
		coordinator: coordinator,
		jobs:        jobs,
	}
}

func (s *indexingService) Submit(ctx context.Context, chatIDs []int64) (*types.IndexingJob, bool, error) {
	tenant, err := s.auth.TenantFromContext(ctx)
	if err != nil {
		return nil, false, err
	}
	if len(chatIDs) == 0 {
		return nil, false, apperr.New(apperr.KindInvalidQuery, "chat_ids required")
	}
	if len(chatIDs) > maxChatsPerJob {
		return nil, false, apperr.New(apperr.KindInvalidQuery,
			fmt.Sprintf("at most %d chats per job", maxChatsPerJob))
	}
	seen := map[int64]bool{}
	deduped := make([]int64, 0, len(chatIDs))
	for _, id := range chatIDs {
		if !seen[id] {
			seen[id] = true
			deduped = append(deduped, id)
		}
	}
	return s.coordinator.Submit(ctx, tenant, deduped)
}

func (s *indexingService) Get(ctx context.Context, jobID uuid.UUID) (*types.IndexingJob, error) {
	tenant, err := s.auth.TenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return s.jobs.GetForTenant(dbctx.Context{Ctx: ctx}, tenant.ID, jobID)
}

func (s *indexingService) List(ctx context.Context, limit int) ([]*types.IndexingJob, error) {
	tenant, err := s.auth.TenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return s.jobs.ListForTenant(dbctx.Context{Ctx: ctx}, tenant.ID, limit)
}

func (s *indexingService) Cancel(ctx context.Context, jobID uuid.UUID) error {
	tenant, err := s.auth.TenantFromContext(ctx)
	if err != nil {
		return err
	}
	job, err := s.jobs.GetForTenant(dbctx.Context{Ctx: ctx}, tenant.ID, jobID)
	if err != nil {
		return err
	}
	if job.Terminal() {
		return apperr.New(apperr.KindConflict, "job already finished")
	}
	if !s.coordinator.Cancel(job.ID) {
		// The job row is active but this process is not running it; mark it
		// failed directly so the claim is released.
		return s.jobs.MarkFailed(dbctx.Context{Ctx: ctx}, job.ID, "canceled")
	}
	return nil
}
