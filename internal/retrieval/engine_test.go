package retrieval

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/chatmemory/backend/internal/data/db"
	chatrepo "github.com/chatmemory/backend/internal/data/repos/chat"
	types "github.com/chatmemory/backend/internal/domain"
	"github.com/chatmemory/backend/internal/platform/apperr"
	"github.com/chatmemory/backend/internal/platform/logger"
)

var memDBSeq int

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	memDBSeq++
	dsn := fmt.Sprintf("file:retrieval_%d?mode=memory&cache=shared", memDBSeq)
	svc, err := db.NewSQLiteService(dsn, logger.NewNop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return svc.DB()
}

type fixedProvider struct {
	vec []float32
	err error
}

func (f fixedProvider) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = f.vec
	}
	return out, nil
}

func seedChunk(t *testing.T, gdb *gorm.DB, tenantID uuid.UUID, chatID, msgID int64, vec []float32, text string, at time.Time) {
	t.Helper()
	msg := &types.Message{ID: uuid.New(), ChatID: chatID, MsgID: msgID, Text: text, Date: at}
	if err := gdb.Create(msg).Error; err != nil {
		t.Fatalf("seed message: %v", err)
	}
	if err := gdb.Create(&types.Membership{TenantID: tenantID, MessageID: msg.ID}).Error; err != nil {
		t.Fatalf("seed membership: %v", err)
	}
	row := &types.Chunk{
		ID:         uuid.New(),
		MessageID:  msg.ID,
		ChatID:     chatID,
		MsgID:      msgID,
		ChunkIndex: 0,
		ChunkTotal: 1,
		Text:       text,
		FullText:   text,
		ChatTitle:  "Site Ops",
		SenderName: "Colin",
		Embedding:  chatrepo.EncodeEmbedding(vec),
		Timestamp:  at.UTC(),
	}
	if err := gdb.Create(row).Error; err != nil {
		t.Fatalf("seed chunk: %v", err)
	}
}

func TestSearch_HydratesAndOrders(t *testing.T) {
	gdb := openTestDB(t)
	tenantID := uuid.New()
	base := time.Date(2023, 1, 7, 14, 17, 29, 0, time.UTC)

	seedChunk(t, gdb, tenantID, -1001234567890, 42, []float32{1, 0, 0}, "Ordered 190 kW generator from Billy Smith.", base)
	seedChunk(t, gdb, tenantID, -1001234567890, 43, []float32{0.5, 0.5, 0}, "Generator delivery slipped a week.", base.Add(time.Hour))

	eng := New(fixedProvider{vec: []float32{1, 0, 0}}, chatrepo.NewChunkRepo(gdb, logger.NewNop()),
		Config{K: 10, Dimension: 3}, logger.NewNop())

	got, err := eng.Search(context.Background(), tenantID, "generator order", Filters{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0].MsgID != 42 {
		t.Fatalf("similarity order wrong: %+v", got)
	}
	if got[0].URL != "https://t.me/c/1234567890/42" {
		t.Fatalf("deep link: %q", got[0].URL)
	}
	if got[0].ChatTitle != "Site Ops" || got[0].SenderName != "Colin" {
		t.Fatalf("metadata hydration: %+v", got[0])
	}
	if !got[0].Timestamp.Equal(base) {
		t.Fatalf("timestamp: %v", got[0].Timestamp)
	}
	if got[0].Similarity <= got[1].Similarity {
		t.Fatalf("ordering by similarity broken: %f <= %f", got[0].Similarity, got[1].Similarity)
	}
}

func TestSearch_MinSimilarityFilter(t *testing.T) {
	gdb := openTestDB(t)
	tenantID := uuid.New()
	base := time.Now().UTC()

	seedChunk(t, gdb, tenantID, -1, 1, []float32{1, 0, 0}, "close match", base)
	seedChunk(t, gdb, tenantID, -1, 2, []float32{0, 1, 0}, "orthogonal", base)

	eng := New(fixedProvider{vec: []float32{1, 0, 0}}, chatrepo.NewChunkRepo(gdb, logger.NewNop()),
		Config{K: 10, MinSimilarity: 0.9, Dimension: 3}, logger.NewNop())

	got, err := eng.Search(context.Background(), tenantID, "match", Filters{})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].MsgID != 1 {
		t.Fatalf("threshold filter: %+v", got)
	}
}

func TestSearch_ProviderFailureIsUpstreamUnavailable(t *testing.T) {
	gdb := openTestDB(t)
	eng := New(fixedProvider{err: fmt.Errorf("connection refused")},
		chatrepo.NewChunkRepo(gdb, logger.NewNop()), Config{K: 10, Dimension: 3}, logger.NewNop())

	_, err := eng.Search(context.Background(), uuid.New(), "anything", Filters{})
	if apperr.KindOf(err) != apperr.KindUpstreamUnavailable {
		t.Fatalf("expected upstream_unavailable, got %v", err)
	}
}

func TestSearch_DimensionMismatchIsInternal(t *testing.T) {
	gdb := openTestDB(t)
	eng := New(fixedProvider{vec: []float32{1, 0}}, // wrong dimension
		chatrepo.NewChunkRepo(gdb, logger.NewNop()), Config{K: 10, Dimension: 3}, logger.NewNop())

	_, err := eng.Search(context.Background(), uuid.New(), "anything", Filters{})
	if apperr.KindOf(err) != apperr.KindInternal {
		t.Fatalf("expected internal, got %v", err)
	}
}

func TestDeepLink_Normalization(t *testing.T) {
	cases := []struct {
		chatID int64
		msgID  int64
		want   string
	}{
		{-1001234567890, 7, "https://t.me/c/1234567890/7"},
		{-987654, 3, "https://t.me/c/987654/3"},
		{123456, 9, "https://t.me/c/123456/9"},
	}
	for _, tc := range cases {
		if got := DeepLink(tc.chatID, tc.msgID); got != tc.want {
			t.Fatalf("DeepLink(%d, %d) = %q, want %q", tc.chatID, tc.msgID, got, tc.want)
		}
	}
}
