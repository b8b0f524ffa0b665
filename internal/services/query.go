package services

import (
	"context"

	"github.com/chatmemory/backend/internal/platform/apperr"
	"github.com/chatmemory/backend/internal/platform/logger"
	"github.com/chatmemory/backend/internal/rag"
	"github.com/chatmemory/backend/internal/retrieval"
	"github.com/chatmemory/backend/internal/sanitize"
)

const refusalText = "I can't help with that request."

// QueryService sanitizes tenant queries before they reach the embedding
// model or the LLM, then delegates to retrieval and composition.
type QueryService interface {
	Answer(ctx context.Context, query string, f retrieval.Filters) (*rag.Answer, error)
	Search(ctx context.Context, query string, f retrieval.Filters) ([]retrieval.Result, error)
}

type queryService struct {
	log       *logger.Logger
	auth      AuthService
	sanitizer *sanitize.Sanitizer
	engine    *retrieval.Engine
	composer  *rag.Composer
}

func NewQueryService(log *logger.Logger, auth AuthService, sanitizer *sanitize.Sanitizer, engine *retrieval.Engine, composer *rag.Composer) QueryService {
	return &queryService{
		log:       log.With("service", "QueryService"),
		auth:      auth,
		sanitizer: sanitizer,
		engine:    engine,
		composer:  composer,
	}
}

// Answer returns a flat refusal for injection-shaped queries instead of an
// error: the caller gets a well-formed answer and the model sees nothing.
func (s *queryService) Answer(ctx context.Context, query string, f retrieval.Filters) (*rag.Answer, error) {
	tenant, err := s.auth.TenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	clean, err := s.sanitizer.Sanitize(tenant.ID.String(), query)
	if err != nil {
		if apperr.Is(err, apperr.KindSuspiciousQuery) {
			return &rag.Answer{Text: refusalText, Sources: []retrieval.Result{}}, nil
		}
		return nil, err
	}
	return s.composer.Answer(ctx, tenant.ID, clean, f)
}

func (s *queryService) Search(ctx context.Context, query string, f retrieval.Filters) ([]retrieval.Result, error) {
	tenant, err := s.auth.TenantFromContext(ctx)
	if err != nil {
		return nil, err
	}
	clean, err := s.sanitizer.Sanitize(tenant.ID.String(), query)
	if err != nil {
		return nil, err
	}
	return s.engine.Search(ctx, tenant.ID, clean, f)
}
