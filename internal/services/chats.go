package services

import (
	"context"
	"time"

	"github.com/chatmemory/backend/internal/clients/telegram"
	chatrepo "github.com/chatmemory/backend/internal/data/repos/chat"
	"github.com/chatmemory/backend/internal/platform/apperr"
	"github.com/chatmemory/backend/internal/platform/dbctx"
	"github.com/chatmemory/backend/internal/platform/logger"
)

// ChatSummary merges what the bridge sees live with what has been indexed.
type ChatSummary struct {
	ChatID        int64      `json:"chat_id"`
	Title         string     `json:"title"`
	Type          string     `json:"type,omitempty"`
	Indexed       bool       `json:"indexed"`
	LastIndexedAt *time.Time `json:"last_indexed_at,omitempty"`
	ChunkCount    int64      `json:"chunk_count"`
}

type ChatsService interface {
	List(ctx context.Context) ([]ChatSummary, error)
}

type chatsService struct {
	log    *logger.Logger
	auth   AuthService
	tg     telegram.Client
	chats  chatrepo.ChatRepo
	chunks chatrepo.ChunkRepo
}

func NewChatsService(log *logger.Logger, auth AuthService, tg telegram.Client, chats chatrepo.ChatRepo, chunks chatrepo.ChunkRepo) ChatsService {
	return &chatsService{
		log:    log.With("service", "ChatsService"),
		auth:   auth,
		tg:     tg,
		chats:  chats,
		chunks: chunks,
	}
}

func (s *chatsService) List(ctx context.Context) ([]ChatSummary, error) {
	tenant, err := s.auth.TenantFromContext(ctx)
	if err != nil {
		return nil, err
	}

	live, err := s.tg.ListChats(ctx, tenant.TgUserID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamUnavailable, "telegram bridge unavailable", err)
	}

	indexed, err := s.chats.ListForTenant(dbctx.Context{Ctx: ctx}, tenant.ID)
	if err != nil {
		return nil, err
	}
	byChatID := map[int64]ChatSummary{}
	for _, row := range indexed {
		n, err := s.chunks.CountByChat(dbctx.Context{Ctx: ctx}, row.ChatID)
		if err != nil {
			return nil, err
		}
		byChatID[row.ChatID] = ChatSummary{
			ChatID:        row.ChatID,
			Title:         row.Title,
			Type:          row.Type,
			Indexed:       row.LastIndexedAt != nil,
			LastIndexedAt: row.LastIndexedAt,
			ChunkCount:    n,
		}
	}

	out := make([]ChatSummary, 0, len(live))
	for _, info := range live {
		summary := ChatSummary{ChatID: info.ChatID, Title: info.Title, Type: info.Type}
		if known, ok := byChatID[info.ChatID]; ok {
			summary.Indexed = known.Indexed
			summary.LastIndexedAt = known.LastIndexedAt
			summary.ChunkCount = known.ChunkCount
			if summary.Title == "" {
				summary.Title = known.Title
			}
			delete(byChatID, info.ChatID)
		}
		out = append(out, summary)
	}
	// Chats indexed earlier but no longer visible to the bridge still list.
	for _, rest := range byChatID {
		out = append(out, rest)
	}
	return out, nil
}
