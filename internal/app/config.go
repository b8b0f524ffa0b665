package app

import (
	"strings"
	"time"

	"github.com/chatmemory/backend/internal/platform/envutil"
	"github.com/chatmemory/backend/internal/platform/logger"
)

type Config struct {
	JWTSecretKey   string
	AccessTokenTTL time.Duration
	BridgeAuthKey  string
	AllowOrigins   []string

	EmbeddingDimension   int
	EmbeddingBatchSize   int
	EmbeddingConcurrency int
	EmbeddingMaxRetries  int

	MaxGroupChars           int
	ChunkSizeChars          int
	ChunkOverlapChars       int
	GroupTimeWindow         time.Duration
	BusyChatTimeWindow      time.Duration
	BusyChatAuthorThreshold int

	RetrievalK             int
	RetrievalMinSimilarity float64
	QueryMaxLength         int
	QueryTimeout           time.Duration

	RateLimitPerMinutePerTenant int
	IndexMaxWorkers             int
}

func LoadConfig(log *logger.Logger) Config {
	jwtSecretKey := envutil.GetEnv("JWT_SECRET_KEY", "defaultsecret", log)
	accessTokenTTLSeconds := envutil.GetEnvAsInt("ACCESS_TOKEN_TTL", 86400, log)
	bridgeAuthKey := envutil.GetEnv("BRIDGE_AUTH_KEY", "", log)

	var origins []string
	for _, o := range strings.Split(envutil.GetEnv("CORS_ALLOW_ORIGINS", "http://localhost:3000", log), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	return Config{
		JWTSecretKey:   jwtSecretKey,
		AccessTokenTTL: time.Duration(accessTokenTTLSeconds) * time.Second,
		BridgeAuthKey:  bridgeAuthKey,
		AllowOrigins:   origins,

		EmbeddingDimension:   envutil.GetEnvAsInt("EMBEDDING_DIMENSION", 3072, log),
		EmbeddingBatchSize:   envutil.GetEnvAsInt("EMBEDDING_BATCH_SIZE", 64, log),
		EmbeddingConcurrency: envutil.GetEnvAsInt("EMBEDDING_CONCURRENCY", 4, log),
		EmbeddingMaxRetries:  envutil.GetEnvAsInt("EMBEDDING_MAX_RETRIES", 5, log),

		MaxGroupChars:           envutil.GetEnvAsInt("MAX_GROUP_CHARS", 400, log),
		ChunkSizeChars:          envutil.GetEnvAsInt("CHUNK_SIZE_CHARS", 500, log),
		ChunkOverlapChars:       envutil.GetEnvAsInt("CHUNK_OVERLAP_CHARS", 100, log),
		GroupTimeWindow:         time.Duration(envutil.GetEnvAsInt("GROUP_TIME_WINDOW_SECONDS", 120, log)) * time.Second,
		BusyChatTimeWindow:      time.Duration(envutil.GetEnvAsInt("BUSY_CHAT_TIME_WINDOW_SECONDS", 30, log)) * time.Second,
		BusyChatAuthorThreshold: envutil.GetEnvAsInt("BUSY_CHAT_AUTHOR_THRESHOLD", 5, log),

		RetrievalK:             envutil.GetEnvAsInt("RETRIEVAL_K", 20, log),
		RetrievalMinSimilarity: envutil.GetEnvAsFloat("RETRIEVAL_MIN_SIMILARITY", 0.0, log),
		QueryMaxLength:         envutil.GetEnvAsInt("QUERY_MAX_LENGTH", 500, log),
		QueryTimeout:           time.Duration(envutil.GetEnvAsInt("QUERY_TIMEOUT_SECONDS", 60, log)) * time.Second,

		RateLimitPerMinutePerTenant: envutil.GetEnvAsInt("RATE_LIMIT_PER_MINUTE_PER_TENANT", 100, log),
		IndexMaxWorkers:             envutil.GetEnvAsInt("INDEX_MAX_WORKERS", 4, log),
	}
}
