package repos

import (
	"gorm.io/gorm"

	chatrepo "github.com/chatmemory/backend/internal/data/repos/chat"
	jobsrepo "github.com/chatmemory/backend/internal/data/repos/jobs"
	tenantrepo "github.com/chatmemory/backend/internal/data/repos/tenant"
	timelinerepo "github.com/chatmemory/backend/internal/data/repos/timeline"
	"github.com/chatmemory/backend/internal/platform/logger"
)

// Repos bundles every repository over the shared gorm handle.
type Repos struct {
	Tenant     tenantrepo.TenantRepo
	Chat       chatrepo.ChatRepo
	Message    chatrepo.MessageRepo
	Membership chatrepo.MembershipRepo
	Chunk      chatrepo.ChunkRepo
	Job        jobsrepo.IndexingJobRepo
	Timeline   timelinerepo.TimelineRepo
}

func New(db *gorm.DB, log *logger.Logger) *Repos {
	return &Repos{
		Tenant:     tenantrepo.NewTenantRepo(db, log),
		Chat:       chatrepo.NewChatRepo(db, log),
		Message:    chatrepo.NewMessageRepo(db, log),
		Membership: chatrepo.NewMembershipRepo(db, log),
		Chunk:      chatrepo.NewChunkRepo(db, log),
		Job:        jobsrepo.NewIndexingJobRepo(db, log),
		Timeline:   timelinerepo.NewTimelineRepo(db, log),
	}
}
