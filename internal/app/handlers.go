package app

import (
	"github.com/chatmemory/backend/internal/handlers"
	"github.com/chatmemory/backend/internal/platform/logger"
)

type Handlers struct {
	Auth      *handlers.AuthHandler
	Indexing  *handlers.IndexingHandler
	Query     *handlers.QueryHandler
	Timelines *handlers.TimelinesHandler
	Chats     *handlers.ChatsHandler
}

func wireHandlers(log *logger.Logger, cfg Config, services Services) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Auth:      handlers.NewAuthHandler(services.Auth, cfg.BridgeAuthKey),
		Indexing:  handlers.NewIndexingHandler(services.Indexing),
		Query:     handlers.NewQueryHandler(services.Query),
		Timelines: handlers.NewTimelinesHandler(services.Timelines),
		Chats:     handlers.NewChatsHandler(services.Chats),
	}
}
