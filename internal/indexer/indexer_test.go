package indexer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/chatmemory/backend/internal/chunker"
	"github.com/chatmemory/backend/internal/clients/telegram"
	"github.com/chatmemory/backend/internal/data/db"
	chatrepo "github.com/chatmemory/backend/internal/data/repos/chat"
	jobsrepo "github.com/chatmemory/backend/internal/data/repos/jobs"
	types "github.com/chatmemory/backend/internal/domain"
	jobdomain "github.com/chatmemory/backend/internal/domain/jobs"
	"github.com/chatmemory/backend/internal/embedder"
	"github.com/chatmemory/backend/internal/platform/dbctx"
	"github.com/chatmemory/backend/internal/platform/logger"
)

const testDim = 3

var memDBSeq int

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	memDBSeq++
	dsn := fmt.Sprintf("file:indexer_%d?mode=memory&cache=shared", memDBSeq)
	svc, err := db.NewSQLiteService(dsn, logger.NewNop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return svc.DB()
}

type fakeTelegram struct {
	chats    []telegram.ChatInfo
	messages map[int64][]telegram.MessageData
	pageSize int
}

func (f *fakeTelegram) ListChats(ctx context.Context, tgUserID int64) ([]telegram.ChatInfo, error) {
	return f.chats, nil
}

func (f *fakeTelegram) FetchMessages(ctx context.Context, tgUserID int64, chatID int64, cursor string) ([]telegram.MessageData, string, error) {
	all := f.messages[chatID]
	size := f.pageSize
	if size <= 0 {
		size = 2
	}
	start := 0
	if cursor != "" {
		fmt.Sscanf(cursor, "%d", &start)
	}
	if start >= len(all) {
		return nil, "", nil
	}
	end := start + size
	if end > len(all) {
		end = len(all)
	}
	next := ""
	if end < len(all) {
		next = fmt.Sprintf("%d", end)
	}
	return all[start:end], next, nil
}

type fakeProvider struct{}

func (fakeProvider) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func newCoordinator(t *testing.T, gdb *gorm.DB, tg telegram.Client) (*Coordinator, *jobsrepoWrap) {
	t.Helper()
	log := logger.NewNop()
	chunks := chatrepo.NewChunkRepo(gdb, log)
	members := chatrepo.NewMembershipRepo(gdb, log)
	pipeline := embedder.New(fakeProvider{}, gdb, chunks, members,
		embedder.Config{BatchSize: 4, Concurrency: 2, MaxRetries: 2, Dimension: testDim}, log)
	jobs := jobsrepo.NewIndexingJobRepo(gdb, log)
	coord := New(tg, pipeline, chunker.New(chunker.DefaultConfig(), log),
		chatrepo.NewChatRepo(gdb, log), chatrepo.NewMessageRepo(gdb, log), members, jobs,
		Config{MaxWorkers: 2, QueueSize: 16}, log)
	return coord, &jobsrepoWrap{repo: jobs}
}

type jobsrepoWrap struct {
	repo jobsrepo.IndexingJobRepo
}

func (w *jobsrepoWrap) waitTerminal(t *testing.T, tenantID, jobID uuid.UUID) *types.IndexingJob {
	t.Helper()
	dbc := dbctx.Context{Ctx: context.Background()}
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		job, err := w.repo.GetForTenant(dbc, tenantID, jobID)
		if err != nil {
			t.Fatalf("poll job: %v", err)
		}
		if job.Terminal() {
			return job
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal state", jobID)
	return nil
}

func seedTenant(t *testing.T, gdb *gorm.DB, tgUserID int64) *types.Tenant {
	t.Helper()
	row := &types.Tenant{ID: uuid.New(), TgUserID: tgUserID}
	if err := gdb.Create(row).Error; err != nil {
		t.Fatalf("seed tenant: %v", err)
	}
	return row
}

func chatFixture() *fakeTelegram {
	base := time.Date(2023, 1, 7, 10, 0, 0, 0, time.UTC)
	return &fakeTelegram{
		chats: []telegram.ChatInfo{{ChatID: -100555, Title: "Site Ops", Type: "supergroup"}},
		messages: map[int64][]telegram.MessageData{
			-100555: {
				{ChatID: -100555, MsgID: 1, SenderID: 1, SenderName: "Colin", Date: base, Text: "ordered the generator today"},
				{ChatID: -100555, MsgID: 2, SenderID: 1, SenderName: "Colin", Date: base.Add(5 * time.Second), Text: "delivery in two weeks"},
				{ChatID: -100555, MsgID: 3, SenderID: 2, SenderName: "John", Date: base.Add(10 * time.Second), Text: "Did you get a confirmation number?"},
				{ChatID: -100555, MsgID: 4, SenderID: 1, SenderName: "Colin", Date: base.Add(15 * time.Second), Text: "yes"},
			},
		},
	}
}

func TestSubmit_RunsJobToCompletion(t *testing.T) {
	gdb := openTestDB(t)
	tg := chatFixture()
	coord, jobs := newCoordinator(t, gdb, tg)
	tenant := seedTenant(t, gdb, 777)

	job, existing, err := coord.Submit(context.Background(), tenant, []int64{-100555})
	if err != nil || existing {
		t.Fatalf("submit: existing=%v err=%v", existing, err)
	}

	final := jobs.waitTerminal(t, tenant.ID, job.ID)
	if final.Status != jobdomain.StatusCompleted {
		t.Fatalf("status=%q error=%q", final.Status, final.Error)
	}
	if final.MessagesTotal != 4 || final.MessagesProcessed != 4 {
		t.Fatalf("message counters: %+v", final)
	}
	// 4 messages chunk to 3 groups (Colin pair, John question, Colin answer).
	if final.ChunksProduced != 3 || final.EmbeddingsCompleted != 3 {
		t.Fatalf("chunk counters: %+v", final)
	}
	if final.EmbeddingsFailed != 0 {
		t.Fatalf("unexpected failures: %+v", final)
	}

	dbc := dbctx.Context{Ctx: context.Background()}
	log := logger.NewNop()
	n, err := chatrepo.NewChunkRepo(gdb, log).CountByChat(dbc, -100555)
	if err != nil || n != 3 {
		t.Fatalf("chunk rows: %d err=%v", n, err)
	}

	chat, err := chatrepo.NewChatRepo(gdb, log).GetForTenant(dbc, tenant.ID, -100555)
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if chat.LastIndexedAt == nil {
		t.Fatalf("last_indexed_at not touched")
	}
	if chat.Title != "Site Ops" {
		t.Fatalf("chat title: %q", chat.Title)
	}
}

func TestSubmit_SecondWhileActiveReturnsExistingJob(t *testing.T) {
	gdb := openTestDB(t)
	coord, jobs := newCoordinator(t, gdb, chatFixture())
	tenant := seedTenant(t, gdb, 778)

	// Claim a job directly so it stays active while we submit again.
	dbc := dbctx.Context{Ctx: context.Background()}
	active, err := jobs.repo.CreateClaimed(dbc, &types.IndexingJob{
		TenantID: tenant.ID,
		ChatIDs:  datatypes.JSON([]byte(`[-100555]`)),
	})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	got, existing, err := coord.Submit(context.Background(), tenant, []int64{-100555})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !existing || got.ID != active.ID {
		t.Fatalf("expected the active job back, got existing=%v id=%s", existing, got.ID)
	}
}

func TestSubmit_ReindexIsIdempotent(t *testing.T) {
	gdb := openTestDB(t)
	coord, jobs := newCoordinator(t, gdb, chatFixture())
	tenant := seedTenant(t, gdb, 779)

	first, _, err := coord.Submit(context.Background(), tenant, []int64{-100555})
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	f1 := jobs.waitTerminal(t, tenant.ID, first.ID)
	if f1.Status != jobdomain.StatusCompleted {
		t.Fatalf("first job: %+v", f1)
	}

	second, _, err := coord.Submit(context.Background(), tenant, []int64{-100555})
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	f2 := jobs.waitTerminal(t, tenant.ID, second.ID)
	if f2.Status != jobdomain.StatusCompleted {
		t.Fatalf("second job: %+v", f2)
	}
	if f2.EmbeddingsCompleted != 0 {
		t.Fatalf("re-index must not re-embed, got %d", f2.EmbeddingsCompleted)
	}

	dbc := dbctx.Context{Ctx: context.Background()}
	n, err := chatrepo.NewChunkRepo(gdb, logger.NewNop()).CountByChat(dbc, -100555)
	if err != nil || n != 3 {
		t.Fatalf("chunk rows changed on re-index: %d err=%v", n, err)
	}
	var msgCount int64
	if err := gdb.Model(&types.Message{}).Where("chat_id = ?", -100555).Count(&msgCount).Error; err != nil || msgCount != 4 {
		t.Fatalf("message rows changed on re-index: %d err=%v", msgCount, err)
	}
}

func TestSubmit_UnknownChatFailsJob(t *testing.T) {
	gdb := openTestDB(t)
	coord, jobs := newCoordinator(t, gdb, chatFixture())
	tenant := seedTenant(t, gdb, 780)

	job, _, err := coord.Submit(context.Background(), tenant, []int64{-42})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	final := jobs.waitTerminal(t, tenant.ID, job.ID)
	if final.Status != jobdomain.StatusFailed || final.Error == "" {
		t.Fatalf("expected failed job with reason, got %+v", final)
	}
}

func TestSubmit_EmptyChatCompletesWithZeroCounters(t *testing.T) {
	gdb := openTestDB(t)
	tg := &fakeTelegram{
		chats:    []telegram.ChatInfo{{ChatID: -1, Title: "Empty", Type: "group"}},
		messages: map[int64][]telegram.MessageData{-1: {}},
	}
	coord, jobs := newCoordinator(t, gdb, tg)
	tenant := seedTenant(t, gdb, 781)

	job, _, err := coord.Submit(context.Background(), tenant, []int64{-1})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	final := jobs.waitTerminal(t, tenant.ID, job.ID)
	if final.Status != jobdomain.StatusCompleted {
		t.Fatalf("empty chat must complete: %+v", final)
	}
	if final.MessagesTotal != 0 || final.ChunksProduced != 0 || final.EmbeddingsCompleted != 0 {
		t.Fatalf("expected zero counters: %+v", final)
	}
}
