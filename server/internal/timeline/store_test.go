package timeline

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"panotour/server/internal/model"
)

func openSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "timeline.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	store, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatalf("new sqlite store: %v", err)
	}
	return store
}

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewInMemoryStore(),
		"sqlite": openSQLite(t),
	}
}

// TestStoreAppendAssignsSeq 验证 Append 为每个 session 分配独立且递增的 seq。
func TestStoreAppendAssignsSeq(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for want := int64(1); want <= 2; want++ {
				seq, err := store.Append(ctx, "s1", &model.Event{Type: model.EventSceneEntered})
				if err != nil {
					t.Fatalf("append event: %v", err)
				}
				if seq != want {
					t.Fatalf("expected seq %d, got %d", want, seq)
				}
			}
			seq, err := store.Append(ctx, "s2", &model.Event{Type: model.EventSessionStarted})
			if err != nil {
				t.Fatalf("append event: %v", err)
			}
			if seq != 1 {
				t.Fatalf("expected independent seq for s2, got %d", seq)
			}
		})
	}
}

// TestStoreAppendIdempotentByEventID 相同 EventID 只存一次，并返回同一 seq。
func TestStoreAppendIdempotentByEventID(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			seq1, err := store.Append(ctx, "s1", &model.Event{Type: model.EventViewCounted, EventID: "evt-1"})
			if err != nil {
				t.Fatalf("append event: %v", err)
			}
			seq2, err := store.Append(ctx, "s1", &model.Event{Type: model.EventViewCounted, EventID: "evt-1"})
			if err != nil {
				t.Fatalf("append duplicate event: %v", err)
			}
			if seq2 != seq1 {
				t.Fatalf("expected same seq for duplicate event_id, got %d vs %d", seq1, seq2)
			}
			events, err := store.List(ctx, "s1")
			if err != nil {
				t.Fatalf("list events: %v", err)
			}
			if len(events) != 1 || events[0].SessionID != "s1" || events[0].Seq != seq1 {
				t.Fatalf("expected 1 stamped event, got %+v", events)
			}
		})
	}
}

func TestStoreListAfter(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, scene := range []string{"1", "2", "3"} {
				if _, err := store.Append(ctx, "s1", &model.Event{Type: model.EventSceneEntered, Scene: scene}); err != nil {
					t.Fatalf("append: %v", err)
				}
			}
			events, err := store.ListAfter(ctx, "s1", 1)
			if err != nil {
				t.Fatalf("list after: %v", err)
			}
			if len(events) != 2 || events[0].Scene != "2" || events[1].Seq != 3 {
				t.Fatalf("unexpected events: %+v", events)
			}
			empty, err := store.ListAfter(ctx, "unknown", 0)
			if err != nil || len(empty) != 0 {
				t.Fatalf("expected empty list, got %v %v", empty, err)
			}
		})
	}
}

// TestInMemoryStoreListReturnsCopy 修改返回的切片不影响内部存储。
func TestInMemoryStoreListReturnsCopy(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	if _, err := store.Append(ctx, "s1", &model.Event{Type: model.EventSceneEntered}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	events, err := store.List(ctx, "s1")
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	events[0].Type = "mutated"

	eventsAgain, err := store.List(ctx, "s1")
	if err != nil {
		t.Fatalf("list events again: %v", err)
	}
	if eventsAgain[0].Type != model.EventSceneEntered {
		t.Fatalf("expected internal data unchanged, got %q", eventsAgain[0].Type)
	}
}
