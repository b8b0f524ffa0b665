package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/chatmemory/backend/internal/clients/gcs"
	timelinerepo "github.com/chatmemory/backend/internal/data/repos/timeline"
	types "github.com/chatmemory/backend/internal/domain"
	"github.com/chatmemory/backend/internal/platform/apperr"
	"github.com/chatmemory/backend/internal/platform/dbctx"
	"github.com/chatmemory/backend/internal/platform/logger"
	"github.com/chatmemory/backend/internal/rag"
	"github.com/chatmemory/backend/internal/retrieval"
	"github.com/chatmemory/backend/internal/sanitize"
)

// TimelineService builds, stores, and exports chronological projections of
// retrieval results.
type TimelineService interface {
	Create(ctx context.Context, query, title string, f retrieval.Filters) ([]rag.TimelineItem, *types.Timeline, error)
	List(ctx context.Context, limit int) ([]*types.Timeline, error)
	Get(ctx context.Context, timelineID uuid.UUID) (*types.Timeline, error)
	Delete(ctx context.Context, timelineID uuid.UUID) error
	Export(ctx context.Context, timelineID uuid.UUID) (string, error)
}

type timelineService struct {
	log       *logger.Logger
	auth      AuthService
	sanitizer *sanitize.Sanitizer
	composer  *rag.Composer
	timelines timelinerepo.TimelineRepo
	bucket    gcs.BucketService
}

// NewTimelineService accepts a nil bucket; export then reports the storage
// as unavailable instead of failing at startup.
func NewTimelineService(
	log *logger.Logger,
	auth AuthService,
	sanitizer *sanitize.Sanitizer,
	composer *rag.Composer,
	timelines timelinerepo.TimelineRepo,
	bucket gcs.BucketService,
) TimelineService {
	return &timelineService{
		log:       log.With("service", "TimelineService"),
		auth:      auth,
		sanitizer: sanitizer,
		composer:  composer,
		timelines: timelines,
		bucket:    bucket,
	}
}

func (s *timelineService) Create(ctx context.Context, query, title string, f retrieval.Filters) ([]rag.TimelineItem, *types.Timeline, error) {
	tenant, err := s.auth.TenantFromContext(ctx)
	if err != nil {
		return nil, nil, err
	}
	clean, err := s.sanitizer.Sanitize(tenant.ID.String(), query)
	if err != nil {
		return nil, nil, err
	}
	return s.composer.Timeline(ctx, tenant.ID, clean, title, f)
}

func (s *timelineService) List(ctx context.Context, limit int) ([]*types.Timeline, error) {
	tenant, err := s.auth.TenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return s.timelines.ListForTenant(dbctx.Context{Ctx: ctx}, tenant.ID, limit)
}

func (s *timelineService) Get(ctx context.Context, timelineID uuid.UUID) (*types.Timeline, error) {
	tenant, err := s.auth.TenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	return s.timelines.GetForTenant(dbctx.Context{Ctx: ctx}, tenant.ID, timelineID)
}

func (s *timelineService) Delete(ctx context.Context, timelineID uuid.UUID) error {
	tenant, err := s.auth.TenantFromContext(ctx)
	if err != nil {
		return err
	}
	return s.timelines.DeleteForTenant(dbctx.Context{Ctx: ctx}, tenant.ID, timelineID)
}

// Export writes the timeline snapshot to the export bucket and returns its
// URL. The object key is tenant-scoped so exports never collide.
func (s *timelineService) Export(ctx context.Context, timelineID uuid.UUID) (string, error) {
	tenant, err := s.auth.TenantFromContext(ctx)
	if err != nil {
		return "", err
	}
	if s.bucket == nil {
		return "", apperr.New(apperr.KindUpstreamUnavailable, "export storage not configured")
	}
	row, err := s.timelines.GetForTenant(dbctx.Context{Ctx: ctx}, tenant.ID, timelineID)
	if err != nil {
		return "", err
	}

	snapshot, err := json.Marshal(row)
	if err != nil {
		return "", fmt.Errorf("encode timeline export: %w", err)
	}
	key := fmt.Sprintf("timelines/%s/%s.json", tenant.ID, row.ID)
	if err := s.bucket.UploadJSON(ctx, key, snapshot); err != nil {
		return "", apperr.Wrap(apperr.KindUpstreamUnavailable, "export upload failed", err)
	}
	return s.bucket.PublicURL(key), nil
}
