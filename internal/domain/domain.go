package domain

import (
	"github.com/chatmemory/backend/internal/domain/chat"
	"github.com/chatmemory/backend/internal/domain/jobs"
	"github.com/chatmemory/backend/internal/domain/tenant"
	"github.com/chatmemory/backend/internal/domain/timeline"
)

type Tenant = tenant.Tenant

type Chat = chat.Chat
type Message = chat.Message
type Membership = chat.Membership
type Chunk = chat.Chunk

type IndexingJob = jobs.IndexingJob

type Timeline = timeline.Timeline
