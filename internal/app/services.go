package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/chatmemory/backend/internal/chunker"
	"github.com/chatmemory/backend/internal/data/repos"
	"github.com/chatmemory/backend/internal/embedder"
	"github.com/chatmemory/backend/internal/indexer"
	"github.com/chatmemory/backend/internal/platform/logger"
	"github.com/chatmemory/backend/internal/rag"
	"github.com/chatmemory/backend/internal/retrieval"
	"github.com/chatmemory/backend/internal/sanitize"
	"github.com/chatmemory/backend/internal/services"
)

type Services struct {
	Auth      services.AuthService
	Indexing  services.IndexingService
	Query     services.QueryService
	Timelines services.TimelineService
	Chats     services.ChatsService

	Coordinator *indexer.Coordinator
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, reposet *repos.Repos, clients Clients) (Services, error) {
	log.Info("Wiring services...")

	auth, err := services.NewAuthService(log, reposet.Tenant, services.AuthConfig{
		JWTSecretKey:   cfg.JWTSecretKey,
		AccessTokenTTL: cfg.AccessTokenTTL,
	})
	if err != nil {
		return Services{}, fmt.Errorf("init auth service: %w", err)
	}

	sanitizer := sanitize.New(cfg.QueryMaxLength, log)

	chunk := chunker.New(chunker.Config{
		MaxGroupChars:       cfg.MaxGroupChars,
		ChunkSizeChars:      cfg.ChunkSizeChars,
		OverlapChars:        cfg.ChunkOverlapChars,
		GroupTimeWindow:     cfg.GroupTimeWindow,
		BusyChatTimeWindow:  cfg.BusyChatTimeWindow,
		BusyAuthorThreshold: cfg.BusyChatAuthorThreshold,
		BusyActivityWindow:  chunker.DefaultConfig().BusyActivityWindow,
		LikelyAnswerWindow:  chunker.DefaultConfig().LikelyAnswerWindow,
		AnswerFollowWindow:  chunker.DefaultConfig().AnswerFollowWindow,
	}, log)

	pipeline := embedder.New(clients.Openai, db, reposet.Chunk, reposet.Membership, embedder.Config{
		BatchSize:   cfg.EmbeddingBatchSize,
		Concurrency: cfg.EmbeddingConcurrency,
		MaxRetries:  cfg.EmbeddingMaxRetries,
		Dimension:   cfg.EmbeddingDimension,
	}, log)
	if clients.VectorStore != nil {
		pipeline.AttachVectorStore(clients.VectorStore)
	}

	coordinator := indexer.New(
		clients.Telegram,
		pipeline,
		chunk,
		reposet.Chat,
		reposet.Message,
		reposet.Membership,
		reposet.Job,
		indexer.Config{MaxWorkers: cfg.IndexMaxWorkers},
		log,
	)

	engine := retrieval.New(clients.Openai, reposet.Chunk, retrieval.Config{
		K:             cfg.RetrievalK,
		MinSimilarity: cfg.RetrievalMinSimilarity,
		Dimension:     cfg.EmbeddingDimension,
	}, log)
	if clients.VectorStore != nil {
		engine.AttachVectorStore(clients.VectorStore)
	}

	composer := rag.New(clients.Openai, engine, reposet.Timeline, rag.DefaultConfig(), log)

	return Services{
		Auth:        auth,
		Indexing:    services.NewIndexingService(log, auth, coordinator, reposet.Job),
		Query:       services.NewQueryService(log, auth, sanitizer, engine, composer),
		Timelines:   services.NewTimelineService(log, auth, sanitizer, composer, reposet.Timeline, clients.Bucket),
		Chats:       services.NewChatsService(log, auth, clients.Telegram, reposet.Chat, reposet.Chunk),
		Coordinator: coordinator,
	}, nil
}
