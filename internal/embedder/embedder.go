package embedder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"gorm.io/gorm"

	"github.com/chatmemory/backend/internal/chunker"
	"github.com/chatmemory/backend/internal/clients/pinecone"
	chatrepo "github.com/chatmemory/backend/internal/data/repos/chat"
	types "github.com/chatmemory/backend/internal/domain"
	"github.com/chatmemory/backend/internal/platform/dbctx"
	"github.com/chatmemory/backend/internal/platform/httpx"
	"github.com/chatmemory/backend/internal/platform/logger"
)

// Provider turns texts into fixed-dimension vectors.
type Provider interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// Task is one chunk awaiting embedding, bound to its parent message row and
// the tenant that triggered indexing.
type Task struct {
	TenantID  uuid.UUID
	MessageID uuid.UUID
	Chunk     chunker.Chunk
}

// Progress is a delta report; counters only ever increase.
type Progress struct {
	Completed int64
	Failed    int64
	Deduped   int64
}

type Config struct {
	BatchSize   int
	Concurrency int
	MaxRetries  int
	Dimension   int
}

func DefaultConfig() Config {
	return Config{
		BatchSize:   64,
		Concurrency: 4,
		MaxRetries:  5,
		Dimension:   3072,
	}
}

// Pipeline batches tasks, embeds them through the provider, and persists
// chunk+vector+membership transactionally per parent message.
type Pipeline struct {
	provider Provider
	db       *gorm.DB
	chunks   chatrepo.ChunkRepo
	members  chatrepo.MembershipRepo
	store    pinecone.VectorStore
	cfg      Config
	log      *logger.Logger
}

func New(provider Provider, db *gorm.DB, chunks chatrepo.ChunkRepo, members chatrepo.MembershipRepo, cfg Config, log *logger.Logger) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConfig().Concurrency
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.Dimension <= 0 {
		cfg.Dimension = DefaultConfig().Dimension
	}
	return &Pipeline{
		provider: provider,
		db:       db,
		chunks:   chunks,
		members:  members,
		cfg:      cfg,
		log:      log.With("service", "EmbeddingPipeline"),
	}
}

// AttachVectorStore mirrors persisted vectors into an ANN index. The SQL
// store stays the source of truth; mirror failures only log.
func (p *Pipeline) AttachVectorStore(store pinecone.VectorStore) {
	p.store = store
}

// Run consumes tasks until the channel closes or ctx is canceled. Cancel
// stops new batches from starting; batches already in flight finish and
// their outputs are persisted. report is invoked with progress deltas as
// batches complete; it must be safe for concurrent use.
func (p *Pipeline) Run(ctx context.Context, tasks <-chan Task, report func(Progress)) error {
	if report == nil {
		report = func(Progress) {}
	}

	// In-flight work outlives cancellation on purpose.
	workCtx := context.WithoutCancel(ctx)

	sem := semaphore.NewWeighted(int64(p.cfg.Concurrency))
	var g errgroup.Group

	dispatch := func(batch []Task) bool {
		if len(batch) == 0 {
			return true
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			return false
		}
		g.Go(func() error {
			defer sem.Release(1)
			p.processBatch(workCtx, batch, report)
			return nil
		})
		return true
	}

	batch := make([]Task, 0, p.cfg.BatchSize)
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case t, ok := <-tasks:
			if !ok {
				dispatch(batch)
				break loop
			}
			batch = append(batch, t)
			if len(batch) >= p.cfg.BatchSize {
				if !dispatch(batch) {
					break loop
				}
				batch = make([]Task, 0, p.cfg.BatchSize)
			}
		}
	}

	_ = g.Wait()
	return ctx.Err()
}

func (p *Pipeline) processBatch(ctx context.Context, batch []Task, report func(Progress)) {
	var prog Progress

	// Dedup: a chunk already embedded by any tenant only needs a membership.
	dbc := dbctx.Context{Ctx: ctx}
	pending := make([]Task, 0, len(batch))
	for _, t := range batch {
		done, msgID, err := p.chunks.HasEmbedded(dbc, t.Chunk.ChatID, t.Chunk.MsgID, t.Chunk.ChunkIndex)
		if err != nil {
			p.log.Error("dedup lookup failed", "chat_id", t.Chunk.ChatID, "msg_id", t.Chunk.MsgID, "error", err)
			prog.Failed++
			continue
		}
		if done {
			if err := p.members.Add(dbc, t.TenantID, msgID); err != nil {
				p.log.Error("membership add failed", "message_id", msgID, "error", err)
				prog.Failed++
				continue
			}
			// Deduped chunks never advance the embedded counter; a re-run
			// over an already-indexed chat reports zero new embeddings.
			prog.Deduped++
			continue
		}
		pending = append(pending, t)
	}

	if len(pending) > 0 {
		p.embedAndPersist(ctx, pending, &prog)
	}
	report(prog)
}

func (p *Pipeline) embedAndPersist(ctx context.Context, pending []Task, prog *Progress) {
	texts := make([]string, len(pending))
	for i, t := range pending {
		texts[i] = t.Chunk.Text
	}

	vecs, err := p.embedWithRetry(ctx, texts)
	if err != nil {
		// An oversized payload is retryable after re-batching in halves.
		if isPayloadTooLarge(err) && len(pending) > 1 {
			mid := len(pending) / 2
			p.embedAndPersist(ctx, pending[:mid], prog)
			p.embedAndPersist(ctx, pending[mid:], prog)
			return
		}
		p.log.Error("embedding batch failed", "size", len(pending), "error", err)
		prog.Failed += int64(len(pending))
		return
	}

	for _, vec := range vecs {
		if len(vec) != p.cfg.Dimension {
			p.log.Error("embedding dimension mismatch",
				"got", len(vec), "want", p.cfg.Dimension)
			prog.Failed += int64(len(pending))
			return
		}
	}

	// Persist per parent message so each message commits atomically.
	byMessage := make(map[uuid.UUID][]int)
	for i, t := range pending {
		byMessage[t.MessageID] = append(byMessage[t.MessageID], i)
	}
	mirror := map[uuid.UUID][]pinecone.Vector{}
	for messageID, idxs := range byMessage {
		tenantID := pending[idxs[0]].TenantID
		rows := make([]*types.Chunk, 0, len(idxs))
		for _, i := range idxs {
			rows = append(rows, chunkRow(pending[i], vecs[i]))
		}
		err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			txc := dbctx.Context{Ctx: ctx, Tx: tx}
			if err := p.chunks.InsertWithEmbeddings(txc, rows); err != nil {
				return err
			}
			return p.members.Add(txc, tenantID, messageID)
		})
		if err != nil {
			p.log.Error("chunk persist failed", "message_id", messageID, "error", err)
			prog.Failed += int64(len(idxs))
			continue
		}
		prog.Completed += int64(len(idxs))

		if p.store != nil {
			for j, i := range idxs {
				mirror[tenantID] = append(mirror[tenantID], pinecone.Vector{
					ID:     rows[j].ID.String(),
					Values: vecs[i],
				})
			}
		}
	}

	for tenantID, vectors := range mirror {
		if err := p.store.UpsertChunks(ctx, tenantID, vectors); err != nil {
			p.log.Warn("ann mirror upsert failed", "tenant_id", tenantID, "count", len(vectors), "error", err)
		}
	}
}

func (p *Pipeline) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	backoff := 1 * time.Second
	var lastErr error

	for attempt := 1; attempt <= p.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		vecs, err := p.provider.Embed(ctx, texts)
		if err == nil {
			if len(vecs) != len(texts) {
				return nil, fmt.Errorf("provider returned %d vectors for %d inputs", len(vecs), len(texts))
			}
			return vecs, nil
		}
		lastErr = err
		if !httpx.IsRetryableError(err) || attempt == p.cfg.MaxRetries {
			return nil, err
		}
		sleep := httpx.JitterSleep(backoff)
		p.log.Warn("embedding call retrying",
			"attempt", attempt,
			"max_retries", p.cfg.MaxRetries,
			"sleep", sleep.String(),
			"error", err.Error(),
		)
		time.Sleep(sleep)
		backoff *= 2
	}
	return nil, lastErr
}

func isPayloadTooLarge(err error) bool {
	var sc httpx.HTTPStatusCoder
	if errors.As(err, &sc) {
		return sc.HTTPStatusCode() == 413
	}
	return false
}

func chunkRow(t Task, vec []float32) *types.Chunk {
	ch := t.Chunk
	row := &types.Chunk{
		ID:             uuid.New(),
		MessageID:      t.MessageID,
		ChatID:         ch.ChatID,
		MsgID:          ch.MsgID,
		ChunkIndex:     ch.ChunkIndex,
		ChunkTotal:     ch.ChunkTotal,
		Text:           ch.Text,
		Embedding:      chatrepo.EncodeEmbedding(vec),
		Timestamp:      ch.Timestamp,
		ChatTitle:      ch.ChatTitle,
		SenderName:     ch.SenderName,
		SenderHandle:   ch.SenderHandle,
		FullText:       ch.FullText,
		ReplyToMsgID:   ch.ReplyToMsgID,
		ReplyToText:    ch.ReplyToText,
		LikelyAnswerTo: ch.LikelyAnswerTo,
		IsQuestion:     ch.IsQuestion,
		IsAnswer:       ch.IsAnswer,
		Metadata:       metadataJSON(ch),
	}
	return row
}
