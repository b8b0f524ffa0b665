package db

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/chatmemory/backend/internal/platform/logger"
)

// SQLiteService backs dev mode and tests. The postgres models carry
// uuid_generate_v4() column defaults that sqlite cannot parse, so the schema
// is created from explicit DDL instead of AutoMigrate; ids and timestamps are
// always set in Go before insert.
type SQLiteService struct {
	db  *gorm.DB
	log *logger.Logger
}

// NewSQLiteService opens the given path (":memory:" for tests) and creates
// the schema if missing.
func NewSQLiteService(path string, log *logger.Logger) (*SQLiteService, error) {
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := gdb.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
		return nil, err
	}
	if err := createSchemaSQLite(gdb); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteService{db: gdb, log: log.With("service", "SQLiteService")}, nil
}

func (s *SQLiteService) DB() *gorm.DB { return s.db }

func createSchemaSQLite(db *gorm.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS "tenant" (
			"id" TEXT PRIMARY KEY,
			"tg_user_id" INTEGER NOT NULL,
			"username" TEXT,
			"first_name" TEXT,
			"last_name" TEXT,
			"created_at" DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			"updated_at" DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS "idx_tenant_tg_user_id" ON "tenant" ("tg_user_id")`,

		`CREATE TABLE IF NOT EXISTS "chat" (
			"id" TEXT PRIMARY KEY,
			"tenant_id" TEXT NOT NULL,
			"chat_id" INTEGER NOT NULL,
			"title" TEXT,
			"type" TEXT,
			"last_indexed_at" DATETIME,
			"created_at" DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			"updated_at" DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS "idx_chat_tenant_chat" ON "chat" ("tenant_id", "chat_id")`,

		`CREATE TABLE IF NOT EXISTS "message" (
			"id" TEXT PRIMARY KEY,
			"chat_id" INTEGER NOT NULL,
			"msg_id" INTEGER NOT NULL,
			"sender_id" INTEGER,
			"sender_name" TEXT,
			"sender_handle" TEXT,
			"text" TEXT NOT NULL DEFAULT '',
			"date" DATETIME NOT NULL,
			"reply_to_msg_id" INTEGER,
			"created_at" DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS "idx_message_chat_msg" ON "message" ("chat_id", "msg_id")`,
		`CREATE INDEX IF NOT EXISTS "idx_message_date" ON "message" ("date")`,

		`CREATE TABLE IF NOT EXISTS "membership" (
			"tenant_id" TEXT NOT NULL,
			"message_id" TEXT NOT NULL,
			"created_at" DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY ("tenant_id", "message_id")
		)`,
		`CREATE INDEX IF NOT EXISTS "idx_membership_message" ON "membership" ("message_id")`,

		`CREATE TABLE IF NOT EXISTS "chunk" (
			"id" TEXT PRIMARY KEY,
			"message_id" TEXT NOT NULL REFERENCES "message"("id") ON DELETE CASCADE,
			"chat_id" INTEGER NOT NULL,
			"msg_id" INTEGER NOT NULL,
			"chunk_index" INTEGER NOT NULL,
			"chunk_total" INTEGER NOT NULL DEFAULT 1,
			"text" TEXT NOT NULL,
			"embedding" TEXT NOT NULL DEFAULT '[]',
			"timestamp" DATETIME NOT NULL,
			"chat_title" TEXT,
			"sender_name" TEXT,
			"sender_handle" TEXT,
			"full_text" TEXT,
			"reply_to_msg_id" INTEGER,
			"reply_to_text" TEXT,
			"likely_answer_to" INTEGER,
			"is_question" NUMERIC NOT NULL DEFAULT false,
			"is_answer" NUMERIC NOT NULL DEFAULT false,
			"metadata" TEXT,
			"created_at" DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS "idx_chunk_chat_msg_idx" ON "chunk" ("chat_id", "msg_id", "chunk_index")`,
		`CREATE INDEX IF NOT EXISTS "idx_chunk_message" ON "chunk" ("message_id")`,
		`CREATE INDEX IF NOT EXISTS "idx_chunk_timestamp" ON "chunk" ("timestamp")`,

		`CREATE TABLE IF NOT EXISTS "indexing_job" (
			"id" TEXT PRIMARY KEY,
			"tenant_id" TEXT NOT NULL,
			"chat_ids" TEXT NOT NULL,
			"status" TEXT NOT NULL,
			"messages_total" INTEGER NOT NULL DEFAULT 0,
			"messages_processed" INTEGER NOT NULL DEFAULT 0,
			"chunks_produced" INTEGER NOT NULL DEFAULT 0,
			"embeddings_completed" INTEGER NOT NULL DEFAULT 0,
			"embeddings_failed" INTEGER NOT NULL DEFAULT 0,
			"error" TEXT,
			"started_at" DATETIME,
			"created_at" DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			"updated_at" DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS "idx_indexing_job_tenant" ON "indexing_job" ("tenant_id")`,
		`CREATE INDEX IF NOT EXISTS "idx_indexing_job_status" ON "indexing_job" ("status")`,
		`CREATE UNIQUE INDEX IF NOT EXISTS "idx_indexing_job_one_active" ON "indexing_job" ("tenant_id")
			WHERE "status" <> 'completed' AND "status" <> 'failed'`,

		`CREATE TABLE IF NOT EXISTS "timeline" (
			"id" TEXT PRIMARY KEY,
			"tenant_id" TEXT NOT NULL,
			"title" TEXT NOT NULL,
			"query" TEXT NOT NULL,
			"items" TEXT NOT NULL,
			"created_at" DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS "idx_timeline_tenant" ON "timeline" ("tenant_id")`,
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
