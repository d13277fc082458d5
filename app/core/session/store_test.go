package session

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"taskpilot/app/core/storage"
)

type fakeForm struct {
	kind FlowKind
}

func (f *fakeForm) Kind() FlowKind { return f.kind }

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func TestBeginReplacesExistingSession(t *testing.T) {
	store := NewStore(testLogger())
	user := storage.User{ID: 1, PlatformID: "tg-1", DisplayName: "Alice"}

	store.Begin(user, "telegram", &fakeForm{kind: FlowCapture})
	store.Begin(user, "telegram", &fakeForm{kind: FlowUpdate})

	if store.Len() != 1 {
		t.Fatalf("expected one session, got %d", store.Len())
	}
	sess, ok := store.Get("tg-1")
	if !ok {
		t.Fatal("session missing")
	}
	if sess.Form.Kind() != FlowUpdate {
		t.Fatalf("expected update form, got %s", sess.Form.Kind())
	}
}

func TestEndIsIdempotent(t *testing.T) {
	store := NewStore(testLogger())
	user := storage.User{ID: 1, PlatformID: "tg-1"}

	store.Begin(user, "cli", &fakeForm{kind: FlowComplete})
	store.End("tg-1")
	store.End("tg-1")

	if _, ok := store.Get("tg-1"); ok {
		t.Fatal("session should be gone")
	}
}

func TestSweepExpiresIdleSessions(t *testing.T) {
	store := NewStore(testLogger())
	idle := storage.User{ID: 1, PlatformID: "tg-idle"}
	fresh := storage.User{ID: 2, PlatformID: "tg-fresh"}

	sess := store.Begin(idle, "cli", &fakeForm{kind: FlowCapture})
	sess.UpdatedAt = time.Now().Add(-time.Hour)
	store.Begin(fresh, "cli", &fakeForm{kind: FlowCapture})

	store.sweep(30 * time.Minute)

	if _, ok := store.Get("tg-idle"); ok {
		t.Fatal("idle session should be expired")
	}
	if _, ok := store.Get("tg-fresh"); !ok {
		t.Fatal("fresh session should survive")
	}
}

func TestTouchRefreshesIdleClock(t *testing.T) {
	store := NewStore(testLogger())
	user := storage.User{ID: 1, PlatformID: "tg-1"}

	sess := store.Begin(user, "cli", &fakeForm{kind: FlowUpdate})
	sess.UpdatedAt = time.Now().Add(-time.Hour)

	store.Touch("tg-1")
	store.sweep(30 * time.Minute)

	if _, ok := store.Get("tg-1"); !ok {
		t.Fatal("touched session should not expire")
	}
}
