package repo_test

import (
	"context"
	"testing"
	"time"

	"github.com/go-pg/pg/v10"
	"github.com/go-pg/pg/v10/orm"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"inkwell/internal/coauthor"
	"inkwell/internal/coauthor/repo"
)

const (
	redisAddr    = "localhost:6383"
	postgresAddr = "localhost:5432"
	postgresUser = "test"
	postgresPass = "test"
	postgresDB   = "testdb"
)

// newTestRepository connects to the docker-compose test services. Run with
// -short to skip.
func newTestRepository(t *testing.T) *repo.Repository {
	t.Helper()

	ctx := context.Background()

	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis at %s: %v. Make sure docker-compose.test.yml is running.", redisAddr, err)
	}
	t.Cleanup(func() { redisClient.Close() })

	pgDB := pg.Connect(&pg.Options{
		Addr:     postgresAddr,
		User:     postgresUser,
		Password: postgresPass,
		Database: postgresDB,
	})
	if _, err := pgDB.Exec("SELECT 1"); err != nil {
		t.Fatalf("Failed to connect to Postgres at %s: %v", postgresAddr, err)
	}
	t.Cleanup(func() { pgDB.Close() })

	if err := pgDB.Model(&repo.SessionArchiveModel{}).CreateTable(&orm.CreateTableOptions{
		IfNotExists: true,
	}); err != nil {
		t.Fatalf("Failed to create archive table: %v", err)
	}

	return repo.NewRepository(pgDB, redisClient)
}

func terminalSession(sectionID string) *coauthor.Session {
	now := time.Now().Truncate(time.Second)
	return &coauthor.Session{
		ID:           uuid.New().String(),
		DocumentID:   "doc-" + uuid.New().String()[:8],
		SectionID:    sectionID,
		AuthorID:     "author-1",
		WorkspaceID:  "ws-1",
		Intent:       coauthor.IntentPropose,
		State:        coauthor.StateCanceled,
		Slot:         1,
		CancelReason: coauthor.ReasonAuthorCancelled,
		DeliveryMode: coauthor.DeliveryStreaming,
		CreatedAt:    now.Add(-time.Minute),
		EndedAt:      now,
	}
}

func TestArchiveRepository(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	r := newTestRepository(t)
	ctx := context.Background()

	t.Run("ArchiveAndGet", func(t *testing.T) {
		sess := terminalSession("sec-" + uuid.New().String()[:8])
		if err := r.Archive(ctx, sess); err != nil {
			t.Fatalf("archive: %v", err)
		}

		got, err := r.GetByID(ctx, sess.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.State != sess.State || got.CancelReason != sess.CancelReason {
			t.Errorf("round trip mangled state: %s/%s", got.State, got.CancelReason)
		}
		if got.SectionID != sess.SectionID {
			t.Errorf("section id: got %s, want %s", got.SectionID, sess.SectionID)
		}

		// 第二次读取命中缓存，结果必须一致
		cached, err := r.GetByID(ctx, sess.ID)
		if err != nil {
			t.Fatalf("cached get: %v", err)
		}
		if cached.ID != got.ID || cached.State != got.State {
			t.Error("cached read differs from db read")
		}
	})

	t.Run("ArchiveIsIdempotent", func(t *testing.T) {
		sess := terminalSession("sec-" + uuid.New().String()[:8])
		if err := r.Archive(ctx, sess); err != nil {
			t.Fatalf("first archive: %v", err)
		}

		sess.State = coauthor.StateReplaced
		sess.CancelReason = coauthor.ReasonReplaced
		if err := r.Archive(ctx, sess); err != nil {
			t.Fatalf("second archive: %v", err)
		}

		got, err := r.GetByID(ctx, sess.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.State != coauthor.StateReplaced {
			t.Errorf("upsert did not win: %s", got.State)
		}
	})

	t.Run("ListBySection", func(t *testing.T) {
		sectionID := "sec-" + uuid.New().String()[:8]
		for i := 0; i < 3; i++ {
			sess := terminalSession(sectionID)
			sess.EndedAt = sess.EndedAt.Add(time.Duration(i) * time.Second)
			if err := r.Archive(ctx, sess); err != nil {
				t.Fatalf("archive %d: %v", i, err)
			}
		}

		got, err := r.ListBySection(ctx, sectionID, 10)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("expected 3 archived sessions, got %d", len(got))
		}
		for i := 1; i < len(got); i++ {
			if got[i].EndedAt.After(got[i-1].EndedAt) {
				t.Error("expected newest-first ordering")
			}
		}
	})
}
