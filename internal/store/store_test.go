package store

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/zalando/go-keyring"
)

const testKey = "auth-storage"

func testSession(userID string) (*Identity, *Session) {
	exp := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	id := &Identity{ID: userID, Email: userID + "@example.com", Attributes: map[string]any{"plan": "free"}}
	return id, &Session{
		AccessToken:  "access-" + userID,
		RefreshToken: "refresh-" + userID,
		ExpiresAt:    &exp,
		TokenType:    "bearer",
		Identity:     *id,
	}
}

func TestNewStoreStartsLoading(t *testing.T) {
	s := New(NewMemoryBackend(), testKey)
	st := s.Snapshot()
	if !st.IsLoading || st.IsInitialized || st.Identity != nil || st.Session != nil {
		t.Fatalf("unexpected cold start state: %+v", st)
	}
}

func TestSetAuthCommitsPairAtomically(t *testing.T) {
	s := New(NewMemoryBackend(), testKey)

	var seen []State
	unsubscribe := s.Subscribe(func(st State) { seen = append(seen, st) })
	defer unsubscribe()

	id, sess := testSession("u1")
	s.SetAuth(id, sess)

	if len(seen) != 1 {
		t.Fatalf("expected exactly one notification, got %d", len(seen))
	}
	got := seen[0]
	if got.Identity == nil || got.Session == nil {
		t.Fatalf("observer saw half-updated state: %+v", got)
	}
	if got.Identity.ID != got.Session.Identity.ID {
		t.Fatalf("identity/session mismatch: %q vs %q", got.Identity.ID, got.Session.Identity.ID)
	}
}

func TestSetAuthWithMissingHalfClearsBoth(t *testing.T) {
	s := New(NewMemoryBackend(), testKey)
	id, sess := testSession("u1")
	s.SetAuth(id, sess)

	s.SetAuth(id, nil)
	st := s.Snapshot()
	if st.Identity != nil || st.Session != nil {
		t.Fatalf("expected both cleared, got %+v", st)
	}
}

func TestSetIdentityWithoutSessionIsIgnored(t *testing.T) {
	s := New(NewMemoryBackend(), testKey)
	id, _ := testSession("u1")
	s.SetIdentity(id)
	if s.Snapshot().Identity != nil {
		t.Fatalf("identity must not exist without a session")
	}
}

func TestSetSessionDerivesIdentity(t *testing.T) {
	s := New(NewMemoryBackend(), testKey)
	_, sess := testSession("u2")
	s.SetSession(sess)

	st := s.Snapshot()
	if st.Identity == nil || st.Identity.ID != "u2" {
		t.Fatalf("identity not derived from session: %+v", st.Identity)
	}

	s.SetSession(nil)
	st = s.Snapshot()
	if st.Identity != nil || st.Session != nil {
		t.Fatalf("SetSession(nil) must clear the pair")
	}
}

func TestClearResolvesAndEmpties(t *testing.T) {
	s := New(NewMemoryBackend(), testKey)
	id, sess := testSession("u1")
	s.SetAuth(id, sess)
	s.Clear()

	st := s.Snapshot()
	if st.Identity != nil || st.Session != nil {
		t.Fatalf("clear left auth data: %+v", st)
	}
	if st.IsLoading || !st.IsInitialized {
		t.Fatalf("clear must set loading=false initialized=true: %+v", st)
	}
}

func TestSetInitializedNeverReverts(t *testing.T) {
	s := New(NewMemoryBackend(), testKey)
	s.SetInitialized(true)
	s.SetInitialized(false)
	if !s.Snapshot().IsInitialized {
		t.Fatalf("initialized reverted to false")
	}
}

func TestPersistedSubsetExcludesLoading(t *testing.T) {
	backend := NewMemoryBackend()
	s := New(backend, testKey)
	id, sess := testSession("u1")
	s.SetAuth(id, sess)

	raw, ok, err := backend.GetItem(testKey)
	if err != nil || !ok {
		t.Fatalf("expected persisted item, ok=%t err=%v", ok, err)
	}
	if strings.Contains(string(raw), "isLoading") {
		t.Fatalf("isLoading must not be persisted: %s", raw)
	}

	var env persistedEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("persisted payload is not valid json: %v", err)
	}
	if env.State.Identity == nil || env.State.Identity.ID != "u1" {
		t.Fatalf("persisted identity = %+v", env.State.Identity)
	}
}

func TestRestoreColdStartKeepsLoading(t *testing.T) {
	backend := NewMemoryBackend()
	first := New(backend, testKey)
	id, sess := testSession("u1")
	first.SetAuth(id, sess)
	first.Resolve()

	second := New(backend, testKey)
	if err := second.Restore(); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	st := second.Snapshot()
	if !st.IsLoading {
		t.Fatalf("cold start must report loading until restore resolves")
	}
	if !st.IsInitialized {
		t.Fatalf("persisted isInitialized not restored")
	}
	if st.Identity == nil || st.Session == nil || st.Identity.ID != "u1" {
		t.Fatalf("persisted identity not restored: %+v", st)
	}
}

func TestRestoreDropsHalfPersistedPair(t *testing.T) {
	backend := NewMemoryBackend()
	_ = backend.SetItem(testKey, []byte(`{"state":{"identity":{"id":"u1","email":"a@b.c"},"session":null,"isInitialized":true},"version":0}`))

	s := New(backend, testKey)
	if err := s.Restore(); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if s.Snapshot().Identity != nil {
		t.Fatalf("identity without session must not be restored")
	}
}

func TestPersistFailureIsNonFatal(t *testing.T) {
	backend := NewMemoryBackend()
	s := New(backend, testKey)

	var reported error
	s.SetPersistErrorHandler(func(err error) { reported = err })
	backend.FailWith(errors.New("quota exceeded"))

	id, sess := testSession("u1")
	s.SetAuth(id, sess)

	if s.Snapshot().Identity == nil {
		t.Fatalf("in-memory state must stay authoritative after persist failure")
	}
	if !errors.Is(reported, ErrPersistence) {
		t.Fatalf("expected persistence error, got %v", reported)
	}
}

func TestUnsubscribeStopsNotifications(t *testing.T) {
	s := New(NewMemoryBackend(), testKey)
	calls := 0
	unsubscribe := s.Subscribe(func(State) { calls++ })
	s.SetLoading(false)
	unsubscribe()
	unsubscribe()
	s.SetLoading(true)
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestSnapshotIsDetachedCopy(t *testing.T) {
	s := New(NewMemoryBackend(), testKey)
	id, sess := testSession("u1")
	s.SetAuth(id, sess)

	snap := s.Snapshot()
	snap.Identity.Attributes["plan"] = "pro"
	snap.Session.AccessToken = "tampered"

	again := s.Snapshot()
	if again.Identity.Attributes["plan"] != "free" || again.Session.AccessToken != "access-u1" {
		t.Fatalf("snapshot mutation leaked into store: %+v", again)
	}
}

func TestFileBackendRoundTrip(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}
	if _, ok, err := backend.GetItem(testKey); ok || err != nil {
		t.Fatalf("expected missing key, ok=%t err=%v", ok, err)
	}
	if err := backend.SetItem(testKey, []byte(`{"a":1}`)); err != nil {
		t.Fatalf("SetItem() error = %v", err)
	}
	raw, ok, err := backend.GetItem(testKey)
	if err != nil || !ok || string(raw) != `{"a":1}` {
		t.Fatalf("GetItem() = %q ok=%t err=%v", raw, ok, err)
	}
	if err := backend.RemoveItem(testKey); err != nil {
		t.Fatalf("RemoveItem() error = %v", err)
	}
	if err := backend.RemoveItem(testKey); err != nil {
		t.Fatalf("second RemoveItem() error = %v", err)
	}
}

func TestFileBackendRejectsTraversalKeys(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}
	if err := backend.SetItem("../escape", []byte("x")); err == nil {
		t.Fatalf("expected invalid key error")
	}
}

func TestKeyringBackendRoundTrip(t *testing.T) {
	keyring.MockInit()
	backend := NewKeyringBackend("com.authdesk.test")

	if _, ok, err := backend.GetItem(testKey); ok || err != nil {
		t.Fatalf("expected missing key, ok=%t err=%v", ok, err)
	}
	s := New(backend, testKey)
	id, sess := testSession("u9")
	s.SetAuth(id, sess)

	restored := New(backend, testKey)
	if err := restored.Restore(); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if got := restored.Snapshot().Identity; got == nil || got.ID != "u9" {
		t.Fatalf("identity not restored from keychain: %+v", got)
	}
	if err := backend.RemoveItem(testKey); err != nil {
		t.Fatalf("RemoveItem() error = %v", err)
	}
	if err := backend.RemoveItem(testKey); err != nil {
		t.Fatalf("RemoveItem() on missing key error = %v", err)
	}
}

func TestSetLoadingNeverReturnsAfterResolve(t *testing.T) {
	s := New(NewMemoryBackend(), testKey)
	s.SetLoading(true)
	if !s.Snapshot().IsLoading {
		t.Fatalf("loading should be settable before the first resolution")
	}

	s.Resolve()
	s.SetLoading(true)
	st := s.Snapshot()
	if st.IsLoading || !st.IsInitialized {
		t.Fatalf("loading re-entered after resolve: %+v", st)
	}
}
