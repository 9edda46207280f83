package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/parley/pkg/history"
	"github.com/MrWong99/parley/pkg/history/postgres"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if PARLEY_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("PARLEY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PARLEY_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] with a clean chat_messages
// table. It calls t.Cleanup to close the store when the test finishes.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS chat_messages"); err != nil {
		t.Fatalf("drop table: %v", err)
	}

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func TestStore_AppendAndRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Append(ctx, "sess-1", history.Message{Role: "user", Content: "hi"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Append(ctx, "sess-1", history.Message{Role: "assistant", Content: "hello"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	msgs, err := store.Recent(ctx, "sess-1", 0)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Errorf("chronological order wrong: %+v", msgs)
	}
}

func TestStore_RecentLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, content := range []string{"one", "two", "three", "four"} {
		if err := store.Append(ctx, "sess-1", history.Message{Role: "user", Content: content}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	msgs, err := store.Recent(ctx, "sess-1", 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "three" || msgs[1].Content != "four" {
		t.Errorf("expected newest two in chronological order, got %+v", msgs)
	}
}

func TestStore_Clear(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.Append(ctx, "sess-1", history.Message{Role: "user", Content: "hi"})
	store.Append(ctx, "sess-2", history.Message{Role: "user", Content: "other"})

	if err := store.Clear(ctx, "sess-1"); err != nil {
		t.Fatalf("clear: %v", err)
	}

	msgs, _ := store.Recent(ctx, "sess-1", 0)
	if len(msgs) != 0 {
		t.Errorf("sess-1 should be empty, got %+v", msgs)
	}
	msgs, _ = store.Recent(ctx, "sess-2", 0)
	if len(msgs) != 1 {
		t.Errorf("sess-2 should be untouched, got %+v", msgs)
	}
}
