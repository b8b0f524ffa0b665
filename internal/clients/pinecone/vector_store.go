package pinecone

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/chatmemory/backend/internal/platform/logger"
)

// ChunkMatch is one ANN hit: the chunk row id and the index's score.
type ChunkMatch struct {
	ChunkID uuid.UUID
	Score   float64
}

// VectorStore mirrors chunk embeddings into a Pinecone index as a candidate
// generator in front of the SQL store. Each tenant gets its own namespace;
// hits are always re-verified against the membership table before they leave
// the retrieval engine, so the index never becomes the isolation boundary.
type VectorStore interface {
	UpsertChunks(ctx context.Context, tenantID uuid.UUID, vectors []Vector) error
	QueryChunkIDs(ctx context.Context, tenantID uuid.UUID, q []float32, topK int) ([]ChunkMatch, error)
}

type vectorStore struct {
	log       *logger.Logger
	pc        Client
	indexName string
	indexHost string
	nsPrefix  string
}

func NewVectorStore(log *logger.Logger, pc Client) (VectorStore, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if pc == nil {
		return nil, fmt.Errorf("pinecone client required")
	}

	indexName := strings.TrimSpace(os.Getenv("PINECONE_INDEX_NAME"))
	if indexName == "" {
		return nil, fmt.Errorf("missing PINECONE_INDEX_NAME")
	}

	host := strings.TrimSpace(os.Getenv("PINECONE_INDEX_HOST"))

	nsPrefix := strings.TrimSpace(os.Getenv("PINECONE_NAMESPACE_PREFIX"))
	if nsPrefix == "" {
		nsPrefix = "cm"
	}

	if host == "" {
		desc, err := pc.DescribeIndex(context.Background(), indexName)
		if err != nil {
			return nil, fmt.Errorf("pinecone describe_index failed: %w", err)
		}
		host = strings.TrimSpace(desc.Host)
		if host == "" {
			return nil, fmt.Errorf("pinecone describe_index returned empty host")
		}
		log.Warn("PINECONE_INDEX_HOST not set; resolved via describe_index",
			"index_name", indexName,
			"index_host", host,
		)
	}

	return &vectorStore{
		log:       log.With("service", "PineconeVectorStore"),
		pc:        pc,
		indexName: indexName,
		indexHost: host,
		nsPrefix:  nsPrefix,
	}, nil
}

func (s *vectorStore) UpsertChunks(ctx context.Context, tenantID uuid.UUID, vectors []Vector) error {
	if len(vectors) == 0 {
		return nil
	}
	_, err := s.pc.UpsertVectors(ctx, s.indexHost, UpsertRequest{
		Namespace: s.namespace(tenantID),
		Vectors:   vectors,
	})
	return err
}

func (s *vectorStore) QueryChunkIDs(ctx context.Context, tenantID uuid.UUID, q []float32, topK int) ([]ChunkMatch, error) {
	resp, err := s.pc.Query(ctx, s.indexHost, QueryRequest{
		Namespace: s.namespace(tenantID),
		Vector:    q,
		TopK:      topK,
	})
	if err != nil {
		return nil, err
	}
	out := make([]ChunkMatch, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		id, err := uuid.Parse(strings.TrimSpace(m.ID))
		if err != nil {
			continue
		}
		out = append(out, ChunkMatch{ChunkID: id, Score: m.Score})
	}
	return out, nil
}

func (s *vectorStore) namespace(tenantID uuid.UUID) string {
	return s.nsPrefix + ":" + tenantID.String()
}
