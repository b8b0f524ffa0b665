package db

import (
	"gorm.io/gorm"

	types "github.com/chatmemory/backend/internal/domain"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		// Identity
		&types.Tenant{},

		// Ingested graph: chats are tenant-owned, messages are shared and
		// claimed through memberships, chunks ride with their message.
		&types.Chat{},
		&types.Message{},
		&types.Membership{},
		&types.Chunk{},

		// Progress + saved outputs
		&types.IndexingJob{},
		&types.Timeline{},
	)
}
