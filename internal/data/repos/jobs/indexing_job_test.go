package jobs

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/chatmemory/backend/internal/data/db"
	types "github.com/chatmemory/backend/internal/domain"
	jobdomain "github.com/chatmemory/backend/internal/domain/jobs"
	"github.com/chatmemory/backend/internal/platform/apperr"
	"github.com/chatmemory/backend/internal/platform/dbctx"
	"github.com/chatmemory/backend/internal/platform/logger"
)

var memDBSeq int

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	memDBSeq++
	dsn := fmt.Sprintf("file:repos_jobs_%d?mode=memory&cache=shared", memDBSeq)
	svc, err := db.NewSQLiteService(dsn, logger.NewNop())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return svc.DB()
}

func newJob(tenantID uuid.UUID) *types.IndexingJob {
	return &types.IndexingJob{
		TenantID: tenantID,
		ChatIDs:  datatypes.JSON([]byte(`[-100123]`)),
	}
}

func TestCreateClaimed_SingleActivePerTenant(t *testing.T) {
	gdb := openTestDB(t)
	repo := NewIndexingJobRepo(gdb, logger.NewNop())
	dbc := dbctx.Context{Ctx: context.Background()}
	tenantID := uuid.New()

	first, err := repo.CreateClaimed(dbc, newJob(tenantID))
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if first.Status != jobdomain.StatusPending {
		t.Fatalf("expected pending, got %q", first.Status)
	}

	_, err = repo.CreateClaimed(dbc, newJob(tenantID))
	if apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected conflict while a job is active, got %v", err)
	}

	// A different tenant is unaffected.
	if _, err := repo.CreateClaimed(dbc, newJob(uuid.New())); err != nil {
		t.Fatalf("other tenant claim: %v", err)
	}

	// Terminal state releases the claim.
	if err := repo.SetStatus(dbc, first.ID, jobdomain.StatusCompleted); err != nil {
		t.Fatalf("set status: %v", err)
	}
	if _, err := repo.CreateClaimed(dbc, newJob(tenantID)); err != nil {
		t.Fatalf("claim after completion: %v", err)
	}
}

func TestCreateClaimed_ConcurrentSubmissionsClaimOnce(t *testing.T) {
	gdb := openTestDB(t)
	repo := NewIndexingJobRepo(gdb, logger.NewNop())
	dbc := dbctx.Context{Ctx: context.Background()}
	tenantID := uuid.New()

	for round := 0; round < 50; round++ {
		const callers = 4
		var wg sync.WaitGroup
		claimed := make([]*types.IndexingJob, callers)
		errs := make([]error, callers)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				claimed[i], errs[i] = repo.CreateClaimed(dbc, newJob(tenantID))
			}(i)
		}
		wg.Wait()

		var winner *types.IndexingJob
		for i := 0; i < callers; i++ {
			if errs[i] == nil {
				if winner != nil {
					t.Fatalf("round %d: two concurrent claims both succeeded", round)
				}
				winner = claimed[i]
				continue
			}
			if apperr.KindOf(errs[i]) != apperr.KindConflict {
				t.Fatalf("round %d: unexpected claim error: %v", round, errs[i])
			}
		}
		if winner == nil {
			t.Fatalf("round %d: no claim succeeded", round)
		}

		var n int64
		if err := gdb.Model(&types.IndexingJob{}).
			Where("tenant_id = ? AND status IN ?", tenantID, jobdomain.ActiveStatuses).
			Count(&n).Error; err != nil {
			t.Fatalf("round %d: count active: %v", round, err)
		}
		if n != 1 {
			t.Fatalf("round %d: %d active jobs for one tenant", round, n)
		}
		if err := repo.MarkFailed(dbc, winner.ID, "canceled"); err != nil {
			t.Fatalf("round %d: release claim: %v", round, err)
		}
	}
}

func TestGetForTenant_ScopesByTenant(t *testing.T) {
	gdb := openTestDB(t)
	repo := NewIndexingJobRepo(gdb, logger.NewNop())
	dbc := dbctx.Context{Ctx: context.Background()}
	owner := uuid.New()

	job, err := repo.CreateClaimed(dbc, newJob(owner))
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	got, err := repo.GetForTenant(dbc, owner, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != job.ID {
		t.Fatalf("expected job %s, got %s", job.ID, got.ID)
	}

	// Another tenant probing the same id sees not_found, never the row.
	_, err = repo.GetForTenant(dbc, uuid.New(), job.ID)
	if apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("expected not_found for foreign tenant, got %v", err)
	}
}

func TestIncrementCounters_Monotonic(t *testing.T) {
	gdb := openTestDB(t)
	repo := NewIndexingJobRepo(gdb, logger.NewNop())
	dbc := dbctx.Context{Ctx: context.Background()}
	tenantID := uuid.New()

	job, err := repo.CreateClaimed(dbc, newJob(tenantID))
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := repo.SetMessagesTotal(dbc, job.ID, 100); err != nil {
		t.Fatalf("set total: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := repo.IncrementCounters(dbc, job.ID, CounterDelta{
			MessagesProcessed:   10,
			ChunksProduced:      4,
			EmbeddingsCompleted: 3,
			EmbeddingsFailed:    1,
		}); err != nil {
			t.Fatalf("increment: %v", err)
		}
	}

	got, err := repo.GetForTenant(dbc, tenantID, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.MessagesTotal != 100 {
		t.Fatalf("messages_total: got %d", got.MessagesTotal)
	}
	if got.MessagesProcessed != 30 || got.ChunksProduced != 12 ||
		got.EmbeddingsCompleted != 9 || got.EmbeddingsFailed != 3 {
		t.Fatalf("counter drift: %+v", got)
	}
}

func TestLifecycle_StartAndFail(t *testing.T) {
	gdb := openTestDB(t)
	repo := NewIndexingJobRepo(gdb, logger.NewNop())
	dbc := dbctx.Context{Ctx: context.Background()}
	tenantID := uuid.New()

	job, err := repo.CreateClaimed(dbc, newJob(tenantID))
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	started := time.Date(2025, 7, 1, 9, 0, 0, 0, time.UTC)
	if err := repo.MarkStarted(dbc, job.ID, started); err != nil {
		t.Fatalf("mark started: %v", err)
	}
	if err := repo.MarkFailed(dbc, job.ID, "telegram bridge unreachable"); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	got, err := repo.GetForTenant(dbc, tenantID, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != jobdomain.StatusFailed || got.Error == "" {
		t.Fatalf("expected failed with error, got %+v", got)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(started) {
		t.Fatalf("started_at: got %v", got.StartedAt)
	}
	if !got.Terminal() {
		t.Fatalf("failed job must be terminal")
	}

	active, err := repo.GetActiveForTenant(dbc, tenantID)
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	if active != nil {
		t.Fatalf("expected no active job after failure, got %+v", active)
	}
}
