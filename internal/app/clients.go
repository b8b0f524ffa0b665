package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chatmemory/backend/internal/clients/gcs"
	"github.com/chatmemory/backend/internal/clients/openai"
	"github.com/chatmemory/backend/internal/clients/pinecone"
	"github.com/chatmemory/backend/internal/clients/redis"
	"github.com/chatmemory/backend/internal/clients/telegram"
	"github.com/chatmemory/backend/internal/platform/logger"
)

type Clients struct {
	Openai      openai.Client
	Telegram    telegram.Client
	RateLimiter redis.RateLimiter
	Bucket      gcs.BucketService
	VectorStore pinecone.VectorStore
}

func wireClients(log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")

	// Openai
	openaiClient, err := openai.NewClient(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init openai client: %w", err)
	}

	// Telegram bridge
	tgClient, err := telegram.NewClient(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init telegram client: %w", err)
	}

	// Redis rate limiter, in-process fallback without REDIS_ADDR
	var limiter redis.RateLimiter
	if strings.TrimSpace(os.Getenv("REDIS_ADDR")) != "" {
		limiter, err = redis.NewRedisRateLimiter(log, cfg.RateLimitPerMinutePerTenant, time.Minute)
		if err != nil {
			return Clients{}, fmt.Errorf("init redis rate limiter: %w", err)
		}
	} else {
		log.Warn("REDIS_ADDR not set, using in-memory rate limiter")
		limiter = redis.NewMemoryRateLimiter(cfg.RateLimitPerMinutePerTenant, time.Minute)
	}

	// Gcs export bucket, optional
	var bucket gcs.BucketService
	if strings.TrimSpace(os.Getenv("EXPORT_GCS_BUCKET_NAME")) != "" {
		bucket, err = gcs.NewBucketService(log)
		if err != nil {
			return Clients{}, fmt.Errorf("init bucket client: %w", err)
		}
	} else {
		log.Warn("EXPORT_GCS_BUCKET_NAME not set, timeline export disabled")
	}

	// Pinecone ANN mirror, optional
	var store pinecone.VectorStore
	if apiKey := strings.TrimSpace(os.Getenv("PINECONE_API_KEY")); apiKey != "" {
		pc, err := pinecone.New(log, pinecone.Config{APIKey: apiKey})
		if err != nil {
			return Clients{}, fmt.Errorf("init pinecone client: %w", err)
		}
		store, err = pinecone.NewVectorStore(log, pc)
		if err != nil {
			return Clients{}, fmt.Errorf("init pinecone vector store: %w", err)
		}
	}

	return Clients{
		Openai:      openaiClient,
		Telegram:    tgClient,
		RateLimiter: limiter,
		Bucket:      bucket,
		VectorStore: store,
	}, nil
}
