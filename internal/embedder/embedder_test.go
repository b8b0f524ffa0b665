package embedder

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/chatmemory/backend/internal/chunker"
	"github.com/chatmemory/backend/internal/data/db"
	chatrepo "github.com/chatmemory/backend/internal/data/repos/chat"
	types "github.com/chatmemory/backend/internal/domain"
	"github.com/chatmemory/backend/internal/platform/dbctx"
	"github.com/chatmemory/backend/internal/platform/logger"
)

const testDim = 3

var memDBSeq int

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	memDBSeq++
	dsn := fmt.Sprintf("file:embedder_%d?mode=memory&cache=shared", memDBSeq)
	svc, err := db.NewSQLiteService(dsn, logger.NewNop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return svc.DB()
}

type fakeProvider struct {
	mu      sync.Mutex
	calls   int
	failFor func(call int) error
	vec     []float32
}

func (f *fakeProvider) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	if f.failFor != nil {
		if err := f.failFor(call); err != nil {
			return nil, err
		}
	}
	out := make([][]float32, len(inputs))
	for i := range inputs {
		if f.vec != nil {
			out[i] = f.vec
		} else {
			out[i] = []float32{1, 0, 0}
		}
	}
	return out, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type statusErr int

func (e statusErr) Error() string       { return fmt.Sprintf("http %d", int(e)) }
func (e statusErr) HTTPStatusCode() int { return int(e) }

type progressSink struct {
	mu    sync.Mutex
	total Progress
}

func (s *progressSink) report(p Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total.Completed += p.Completed
	s.total.Failed += p.Failed
	s.total.Deduped += p.Deduped
}

func (s *progressSink) snapshot() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func newPipeline(t *testing.T, gdb *gorm.DB, provider Provider, cfg Config) *Pipeline {
	t.Helper()
	log := logger.NewNop()
	return New(provider, gdb, chatrepo.NewChunkRepo(gdb, log), chatrepo.NewMembershipRepo(gdb, log), cfg, log)
}

func seedMessage(t *testing.T, gdb *gorm.DB, chatID, msgID int64) *types.Message {
	t.Helper()
	row := &types.Message{ID: uuid.New(), ChatID: chatID, MsgID: msgID, Text: "body", Date: time.Now().UTC()}
	if err := gdb.Create(row).Error; err != nil {
		t.Fatalf("seed message: %v", err)
	}
	return row
}

func makeTask(tenantID uuid.UUID, msg *types.Message, chunkIndex int) Task {
	return Task{
		TenantID:  tenantID,
		MessageID: msg.ID,
		Chunk: chunker.Chunk{
			ChatID:     msg.ChatID,
			MsgID:      msg.MsgID,
			ChunkIndex: chunkIndex,
			ChunkTotal: 1,
			Text:       fmt.Sprintf("chunk %d of message %d", chunkIndex, msg.MsgID),
			FullText:   "body",
			Timestamp:  msg.Date,
		},
	}
}

func runPipeline(t *testing.T, p *Pipeline, tasks []Task, sink *progressSink) {
	t.Helper()
	ch := make(chan Task, len(tasks))
	for _, task := range tasks {
		ch <- task
	}
	close(ch)
	if err := p.Run(context.Background(), ch, sink.report); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestRun_EmbedsPersistsAndAddsMembership(t *testing.T) {
	gdb := openTestDB(t)
	provider := &fakeProvider{}
	p := newPipeline(t, gdb, provider, Config{BatchSize: 2, Concurrency: 2, MaxRetries: 3, Dimension: testDim})
	tenantID := uuid.New()

	var tasks []Task
	var msgs []*types.Message
	for i := int64(1); i <= 5; i++ {
		m := seedMessage(t, gdb, -50, i)
		msgs = append(msgs, m)
		tasks = append(tasks, makeTask(tenantID, m, 0))
	}

	sink := &progressSink{}
	runPipeline(t, p, tasks, sink)

	got := sink.snapshot()
	if got.Completed != 5 || got.Failed != 0 {
		t.Fatalf("progress: %+v", got)
	}

	log := logger.NewNop()
	dbc := dbctx.Context{Ctx: context.Background()}
	n, err := chatrepo.NewChunkRepo(gdb, log).CountByChat(dbc, -50)
	if err != nil || n != 5 {
		t.Fatalf("expected 5 chunks, got %d err=%v", n, err)
	}
	members := chatrepo.NewMembershipRepo(gdb, log)
	for _, m := range msgs {
		ok, err := members.Has(dbc, tenantID, m.ID)
		if err != nil || !ok {
			t.Fatalf("membership missing for message %d", m.MsgID)
		}
	}
}

func TestRun_DedupSkipsProviderAndAddsMembership(t *testing.T) {
	gdb := openTestDB(t)
	log := logger.NewNop()
	chunks := chatrepo.NewChunkRepo(gdb, log)
	dbc := dbctx.Context{Ctx: context.Background()}

	msg := seedMessage(t, gdb, -60, 1)
	pre := &types.Chunk{
		MessageID:  msg.ID,
		ChatID:     -60,
		MsgID:      1,
		ChunkIndex: 0,
		ChunkTotal: 1,
		Text:       "already embedded",
		Embedding:  chatrepo.EncodeEmbedding([]float32{1, 0, 0}),
		Timestamp:  time.Now(),
	}
	if err := chunks.InsertWithEmbeddings(dbc, []*types.Chunk{pre}); err != nil {
		t.Fatalf("seed chunk: %v", err)
	}

	provider := &fakeProvider{}
	p := newPipeline(t, gdb, provider, Config{BatchSize: 4, Concurrency: 1, MaxRetries: 3, Dimension: testDim})
	otherTenant := uuid.New()

	sink := &progressSink{}
	runPipeline(t, p, []Task{makeTask(otherTenant, msg, 0)}, sink)

	if provider.callCount() != 0 {
		t.Fatalf("dedup must skip the provider, got %d calls", provider.callCount())
	}
	got := sink.snapshot()
	if got.Completed != 0 || got.Deduped != 1 {
		t.Fatalf("progress: %+v", got)
	}
	ok, err := chatrepo.NewMembershipRepo(gdb, log).Has(dbc, otherTenant, msg.ID)
	if err != nil || !ok {
		t.Fatalf("dedup must still add the tenant membership")
	}
	n, _ := chunks.CountByChat(dbc, -60)
	if n != 1 {
		t.Fatalf("no duplicate chunk rows expected, got %d", n)
	}
}

func TestRun_RetriesTransientFailure(t *testing.T) {
	gdb := openTestDB(t)
	provider := &fakeProvider{failFor: func(call int) error {
		if call <= 2 {
			return statusErr(429)
		}
		return nil
	}}
	p := newPipeline(t, gdb, provider, Config{BatchSize: 4, Concurrency: 1, MaxRetries: 5, Dimension: testDim})

	msg := seedMessage(t, gdb, -70, 1)
	sink := &progressSink{}
	runPipeline(t, p, []Task{makeTask(uuid.New(), msg, 0)}, sink)

	got := sink.snapshot()
	if got.Completed != 1 || got.Failed != 0 {
		t.Fatalf("progress after retries: %+v", got)
	}
	if provider.callCount() != 3 {
		t.Fatalf("expected 3 provider calls, got %d", provider.callCount())
	}
}

func TestRun_PermanentFailureFailsBatchWithoutHalting(t *testing.T) {
	gdb := openTestDB(t)
	provider := &fakeProvider{failFor: func(call int) error {
		if call == 1 {
			return statusErr(401)
		}
		return nil
	}}
	p := newPipeline(t, gdb, provider, Config{BatchSize: 1, Concurrency: 1, MaxRetries: 3, Dimension: testDim})

	m1 := seedMessage(t, gdb, -80, 1)
	m2 := seedMessage(t, gdb, -80, 2)
	tenantID := uuid.New()

	sink := &progressSink{}
	runPipeline(t, p, []Task{makeTask(tenantID, m1, 0), makeTask(tenantID, m2, 0)}, sink)

	got := sink.snapshot()
	if got.Failed != 1 || got.Completed != 1 {
		t.Fatalf("expected one failed and one completed batch, got %+v", got)
	}
	if provider.callCount() != 2 {
		t.Fatalf("auth failure must not be retried, got %d calls", provider.callCount())
	}
}

func TestRun_DimensionMismatchFailsLoud(t *testing.T) {
	gdb := openTestDB(t)
	provider := &fakeProvider{vec: []float32{1, 0}} // wrong dimension
	p := newPipeline(t, gdb, provider, Config{BatchSize: 4, Concurrency: 1, MaxRetries: 2, Dimension: testDim})

	msg := seedMessage(t, gdb, -90, 1)
	sink := &progressSink{}
	runPipeline(t, p, []Task{makeTask(uuid.New(), msg, 0)}, sink)

	got := sink.snapshot()
	if got.Failed != 1 || got.Completed != 0 {
		t.Fatalf("dimension mismatch must fail the batch: %+v", got)
	}
	n, _ := chatrepo.NewChunkRepo(gdb, logger.NewNop()).CountByChat(dbctx.Context{Ctx: context.Background()}, -90)
	if n != 0 {
		t.Fatalf("mismatched vectors must not persist, got %d rows", n)
	}
}

func TestRun_CancelStopsNewBatches(t *testing.T) {
	gdb := openTestDB(t)
	provider := &fakeProvider{}
	p := newPipeline(t, gdb, provider, Config{BatchSize: 1, Concurrency: 1, MaxRetries: 2, Dimension: testDim})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	msg := seedMessage(t, gdb, -95, 1)
	ch := make(chan Task, 1)
	ch <- makeTask(uuid.New(), msg, 0)
	close(ch)

	sink := &progressSink{}
	err := p.Run(ctx, ch, sink.report)
	if err == nil {
		t.Fatalf("expected context error")
	}
	if provider.callCount() != 0 {
		t.Fatalf("canceled run must not start batches, got %d calls", provider.callCount())
	}
}
