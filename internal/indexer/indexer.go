package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"gorm.io/datatypes"

	"github.com/chatmemory/backend/internal/chunker"
	"github.com/chatmemory/backend/internal/clients/telegram"
	chatrepo "github.com/chatmemory/backend/internal/data/repos/chat"
	jobsrepo "github.com/chatmemory/backend/internal/data/repos/jobs"
	types "github.com/chatmemory/backend/internal/domain"
	jobdomain "github.com/chatmemory/backend/internal/domain/jobs"
	"github.com/chatmemory/backend/internal/embedder"
	"github.com/chatmemory/backend/internal/platform/apperr"
	"github.com/chatmemory/backend/internal/platform/dbctx"
	"github.com/chatmemory/backend/internal/platform/logger"
)

type Config struct {
	// MaxWorkers bounds concurrently running jobs across all tenants.
	MaxWorkers int
	// QueueSize bounds chunks buffered between chunking and embedding.
	QueueSize int
}

func DefaultConfig() Config {
	return Config{MaxWorkers: 4, QueueSize: 256}
}

// Coordinator owns the fetch → chunk → embed lifecycle of indexing jobs.
// Each job's record is written only by its coordinator goroutine; readers
// poll the job row lock-free.
type Coordinator struct {
	tg       telegram.Client
	pipeline *embedder.Pipeline
	chunk    *chunker.Chunker

	chats    chatrepo.ChatRepo
	messages chatrepo.MessageRepo
	members  chatrepo.MembershipRepo
	jobs     jobsrepo.IndexingJobRepo

	cfg  Config
	log  *logger.Logger
	pool *semaphore.Weighted

	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc
	wg      sync.WaitGroup
}

func New(
	tg telegram.Client,
	pipeline *embedder.Pipeline,
	chunk *chunker.Chunker,
	chats chatrepo.ChatRepo,
	messages chatrepo.MessageRepo,
	members chatrepo.MembershipRepo,
	jobs jobsrepo.IndexingJobRepo,
	cfg Config,
	log *logger.Logger,
) *Coordinator {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultConfig().MaxWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	return &Coordinator{
		tg:       tg,
		pipeline: pipeline,
		chunk:    chunk,
		chats:    chats,
		messages: messages,
		members:  members,
		jobs:     jobs,
		cfg:      cfg,
		log:      log.With("service", "IndexingCoordinator"),
		pool:     semaphore.NewWeighted(int64(cfg.MaxWorkers)),
		cancels:  map[uuid.UUID]context.CancelFunc{},
	}
}

// Submit claims a job for the tenant and starts it in the background. A
// second submission while one is active returns the existing job with
// existing=true; that is informational, not an error.
func (c *Coordinator) Submit(ctx context.Context, tenant *types.Tenant, chatIDs []int64) (*types.IndexingJob, bool, error) {
	if len(chatIDs) == 0 {
		return nil, false, apperr.New(apperr.KindInvalidQuery, "no chats requested")
	}

	encoded, err := json.Marshal(chatIDs)
	if err != nil {
		return nil, false, err
	}
	dbc := dbctx.Context{Ctx: ctx}
	job, err := c.jobs.CreateClaimed(dbc, &types.IndexingJob{
		TenantID: tenant.ID,
		ChatIDs:  datatypes.JSON(encoded),
		Status:   jobdomain.StatusPending,
	})
	if apperr.KindOf(err) == apperr.KindConflict {
		active, aErr := c.jobs.GetActiveForTenant(dbc, tenant.ID)
		if aErr == nil && active != nil {
			return active, true, nil
		}
		return nil, false, err
	}
	if err != nil {
		return nil, false, err
	}

	c.wg.Add(1)
	go c.run(tenant, job, chatIDs)
	return job, false, nil
}

// Cancel requests cooperative cancellation of a running job. The job
// finishes in-flight calls and lands in failed with reason "canceled".
func (c *Coordinator) Cancel(jobID uuid.UUID) bool {
	c.mu.Lock()
	cancel, ok := c.cancels[jobID]
	c.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Drain waits for every running job to finish. Used at shutdown.
func (c *Coordinator) Drain() { c.wg.Wait() }

func (c *Coordinator) run(tenant *types.Tenant, job *types.IndexingJob, chatIDs []int64) {
	defer c.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.mu.Lock()
	c.cancels[job.ID] = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.cancels, job.ID)
		c.mu.Unlock()
	}()

	if err := c.pool.Acquire(ctx, 1); err != nil {
		c.fail(job.ID, "canceled")
		return
	}
	defer c.pool.Release(1)

	log := c.log.With("job_id", job.ID.String(), "tenant", tenant.ID.String())
	// Job bookkeeping must survive cancellation.
	bg := dbctx.Context{Ctx: context.Background()}

	_ = c.jobs.MarkStarted(bg, job.ID, time.Now().UTC())
	_ = c.jobs.SetStatus(bg, job.ID, jobdomain.StatusFetching)

	fetched, meta, err := c.fetchAll(ctx, tenant, chatIDs)
	if err != nil {
		if ctx.Err() != nil {
			c.fail(job.ID, "canceled")
		} else {
			log.Error("fetch stage failed", "error", err)
			c.fail(job.ID, fmt.Sprintf("fetch: %v", err))
		}
		return
	}

	var total int64
	for _, msgs := range fetched {
		total += int64(len(msgs))
	}
	_ = c.jobs.SetMessagesTotal(bg, job.ID, total)
	_ = c.jobs.SetStatus(bg, job.ID, jobdomain.StatusChunking)

	tasks := make(chan embedder.Task, c.cfg.QueueSize)
	pipelineDone := make(chan struct{})
	go func() {
		defer close(pipelineDone)
		_ = c.pipeline.Run(ctx, tasks, func(p embedder.Progress) {
			_ = c.jobs.IncrementCounters(bg, job.ID, jobsrepo.CounterDelta{
				EmbeddingsCompleted: p.Completed,
				EmbeddingsFailed:    p.Failed,
			})
		})
	}()

	var stageErr error
	for _, chatID := range chatIDs {
		if ctx.Err() != nil {
			break
		}
		if err := c.processChat(ctx, bg, tenant, job, chatID, meta[chatID], fetched[chatID], tasks); err != nil {
			stageErr = err
			break
		}
	}

	close(tasks)
	_ = c.jobs.SetStatus(bg, job.ID, jobdomain.StatusEmbedding)
	<-pipelineDone

	switch {
	case ctx.Err() != nil:
		c.fail(job.ID, "canceled")
	case stageErr != nil:
		log.Error("chunking stage failed", "error", stageErr)
		c.fail(job.ID, fmt.Sprintf("chunking: %v", stageErr))
	default:
		now := time.Now().UTC()
		for _, chatID := range chatIDs {
			_ = c.chats.TouchLastIndexed(bg, tenant.ID, chatID, now)
		}
		_ = c.jobs.SetStatus(bg, job.ID, jobdomain.StatusCompleted)
		log.Info("indexing job completed", "messages_total", total)
	}
}

func (c *Coordinator) fail(jobID uuid.UUID, reason string) {
	_ = c.jobs.MarkFailed(dbctx.Context{Ctx: context.Background()}, jobID, reason)
}

// fetchAll paginates every requested chat to completion so the expected
// message count can be locked in before chunking starts.
func (c *Coordinator) fetchAll(ctx context.Context, tenant *types.Tenant, chatIDs []int64) (map[int64][]telegram.MessageData, map[int64]telegram.ChatInfo, error) {
	available, err := c.tg.ListChats(ctx, tenant.TgUserID)
	if err != nil {
		return nil, nil, err
	}
	meta := make(map[int64]telegram.ChatInfo, len(available))
	for _, info := range available {
		meta[info.ChatID] = info
	}

	fetched := make(map[int64][]telegram.MessageData, len(chatIDs))
	for _, chatID := range chatIDs {
		if _, ok := meta[chatID]; !ok {
			return nil, nil, apperr.New(apperr.KindNotFound, fmt.Sprintf("chat %d not visible to this account", chatID))
		}
		var (
			msgs   []telegram.MessageData
			cursor string
		)
		for {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			page, next, err := c.tg.FetchMessages(ctx, tenant.TgUserID, chatID, cursor)
			if err != nil {
				return nil, nil, err
			}
			msgs = append(msgs, page...)
			if next == "" {
				break
			}
			cursor = next
		}
		// Ascending sequence order within one chat is a chunker precondition.
		sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].MsgID < msgs[j].MsgID })
		fetched[chatID] = msgs
	}
	return fetched, meta, nil
}

func (c *Coordinator) processChat(
	ctx context.Context,
	bg dbctx.Context,
	tenant *types.Tenant,
	job *types.IndexingJob,
	chatID int64,
	info telegram.ChatInfo,
	msgs []telegram.MessageData,
	tasks chan<- embedder.Task,
) error {
	dbc := dbctx.Context{Ctx: ctx}

	title := info.Title
	if title == "" {
		title = fmt.Sprintf("Chat %d", chatID)
	}
	if _, err := c.chats.Upsert(dbc, &types.Chat{
		TenantID: tenant.ID,
		ChatID:   chatID,
		Title:    title,
		Type:     info.Type,
	}); err != nil {
		return fmt.Errorf("chat upsert: %w", err)
	}

	// Persist raw messages and grant membership; remember row ids so chunks
	// can reference their primary message.
	seqToRow := make(map[int64]uuid.UUID, len(msgs))
	for _, m := range msgs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		row, err := c.messages.Upsert(dbc, &types.Message{
			ChatID:       chatID,
			MsgID:        m.MsgID,
			SenderID:     m.SenderID,
			SenderName:   m.SenderName,
			SenderHandle: m.SenderHandle,
			Text:         m.Text,
			Date:         m.Date,
			ReplyToMsgID: m.ReplyToMsgID,
		})
		if err != nil {
			return fmt.Errorf("message upsert: %w", err)
		}
		if err := c.members.Add(dbc, tenant.ID, row.ID); err != nil {
			return fmt.Errorf("membership add: %w", err)
		}
		seqToRow[m.MsgID] = row.ID
	}
	_ = c.jobs.IncrementCounters(bg, job.ID, jobsrepo.CounterDelta{MessagesProcessed: int64(len(msgs))})

	chunks := c.chunk.Split(chatID, title, toChunkerMsgs(msgs))
	for _, ch := range chunks {
		rowID, ok := seqToRow[ch.MsgID]
		if !ok {
			return fmt.Errorf("chunk references unknown message %d/%d", chatID, ch.MsgID)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tasks <- embedder.Task{TenantID: tenant.ID, MessageID: rowID, Chunk: ch}:
		}
	}
	_ = c.jobs.IncrementCounters(bg, job.ID, jobsrepo.CounterDelta{ChunksProduced: int64(len(chunks))})
	return nil
}

func toChunkerMsgs(msgs []telegram.MessageData) []chunker.Msg {
	out := make([]chunker.Msg, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, chunker.Msg{
			Seq:          m.MsgID,
			AuthorID:     m.SenderID,
			AuthorName:   m.SenderName,
			AuthorHandle: m.SenderHandle,
			Timestamp:    m.Date,
			Text:         m.Text,
			ReplyToSeq:   m.ReplyToMsgID,
		})
	}
	return out
}
