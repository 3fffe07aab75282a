package database

import (
	"fmt"
	"path/filepath"
	"testing"

	"authdesk/internal/store"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newInMemoryDatabaseService(t *testing.T) *Service {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", filepath.Base(t.Name()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory sqlite: %v", err)
	}

	svc, err := newServiceFromDB(db)
	if err != nil {
		t.Fatalf("failed to migrate in-memory sqlite: %v", err)
	}
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestStorageItemRoundTrip(t *testing.T) {
	svc := newInMemoryDatabaseService(t)

	if _, ok, err := svc.GetItem("auth-storage"); ok || err != nil {
		t.Fatalf("expected missing key, ok=%t err=%v", ok, err)
	}

	if err := svc.SetItem("auth-storage", []byte(`{"v":1}`)); err != nil {
		t.Fatalf("SetItem() error = %v", err)
	}
	if err := svc.SetItem("auth-storage", []byte(`{"v":2}`)); err != nil {
		t.Fatalf("SetItem() upsert error = %v", err)
	}

	raw, ok, err := svc.GetItem("auth-storage")
	if err != nil || !ok {
		t.Fatalf("GetItem() ok=%t err=%v", ok, err)
	}
	if string(raw) != `{"v":2}` {
		t.Fatalf("GetItem() = %s, want upserted value", raw)
	}

	if err := svc.RemoveItem("auth-storage"); err != nil {
		t.Fatalf("RemoveItem() error = %v", err)
	}
	if _, ok, _ := svc.GetItem("auth-storage"); ok {
		t.Fatalf("key still present after RemoveItem")
	}
}

func TestStorageRejectsInvalidKey(t *testing.T) {
	svc := newInMemoryDatabaseService(t)
	if err := svc.SetItem("bad key/..", []byte("x")); err == nil {
		t.Fatalf("expected invalid key error")
	}
}

func TestDatabaseBacksSessionStore(t *testing.T) {
	svc := newInMemoryDatabaseService(t)

	s := store.New(svc, "auth-storage")
	s.SetAuth(
		&store.Identity{ID: "u1", Email: "user@example.com"},
		&store.Session{AccessToken: "a", RefreshToken: "r", TokenType: "bearer"},
	)
	s.Resolve()

	restored := store.New(svc, "auth-storage")
	if err := restored.Restore(); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	st := restored.Snapshot()
	if st.Identity == nil || st.Identity.ID != "u1" || !st.IsInitialized {
		t.Fatalf("unexpected restored state: %+v", st)
	}
}

func TestSaveAuditEventRejectsNil(t *testing.T) {
	svc := newInMemoryDatabaseService(t)

	if err := svc.SaveAuditEvent(nil); err == nil {
		t.Fatalf("expected error for nil event")
	}
	if err := svc.SaveAuditEvent(&AuthAuditLog{CorrelationID: "c"}); err == nil {
		t.Fatalf("expected error for empty event name")
	}
}

func TestListAuditEventsFiltersByUser(t *testing.T) {
	svc := newInMemoryDatabaseService(t)

	events := []AuthAuditLog{
		{CorrelationID: "c1", UserID: "u1", Event: "SIGNED_IN", Outcome: "ok"},
		{CorrelationID: "c2", UserID: "u2", Event: "SIGNED_IN", Outcome: "ok"},
		{CorrelationID: "c3", UserID: "u1", Event: "SIGNED_OUT", Outcome: "ok"},
	}
	for i := range events {
		if err := svc.SaveAuditEvent(&events[i]); err != nil {
			t.Fatalf("SaveAuditEvent() error = %v", err)
		}
	}

	got, err := svc.ListAuditEvents("u1", 10)
	if err != nil {
		t.Fatalf("ListAuditEvents() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	for _, ev := range got {
		if ev.UserID != "u1" {
			t.Fatalf("unexpected user in filtered list: %+v", ev)
		}
	}

	all, err := svc.ListAuditEvents("", 0)
	if err != nil || len(all) != 3 {
		t.Fatalf("ListAuditEvents(all) len=%d err=%v", len(all), err)
	}
}
