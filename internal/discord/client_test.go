package discord

import (
	"context"
	"net/http"
	"testing"
)

const (
	testGuild  = uint64(100)
	testForum  = uint64(200)
	testThread = uint64(555)
)

func newTestPair(t *testing.T) (*MockServer, *Client) {
	t.Helper()
	server := NewMockServer()
	t.Cleanup(server.Close)
	return server, NewWithBaseURL("test-token", server.URL)
}

func TestGetThread(t *testing.T) {
	server, client := newTestPair(t)
	server.AddThread(testGuild, testThread, MockThread{
		Name:     "[BUG] Crash on load",
		ParentID: testForum,
		Locked:   true,
	})

	state, err := client.GetThread(context.Background(), testThread)
	if err != nil {
		t.Fatalf("GetThread failed: %v", err)
	}

	if state.ID != testThread {
		t.Errorf("ID = %d, want %d", state.ID, testThread)
	}
	if state.Name != "[BUG] Crash on load" {
		t.Errorf("Name = %q", state.Name)
	}
	if state.ParentID != testForum {
		t.Errorf("ParentID = %d, want %d", state.ParentID, testForum)
	}
	if !state.Locked || state.Archived {
		t.Errorf("Locked = %v, Archived = %v; want locked, not archived", state.Locked, state.Archived)
	}
}

func TestGetThreadNotFound(t *testing.T) {
	_, client := newTestPair(t)

	_, err := client.GetThread(context.Background(), 999)
	if err == nil {
		t.Fatal("expected error for missing thread")
	}
	if !IsNotFound(err) {
		t.Errorf("missing thread should classify as not-found, got %v", err)
	}
	if IsTransient(err) {
		t.Error("not-found must not classify as transient")
	}
}

func TestGetThreadForbiddenIsNotFound(t *testing.T) {
	server, client := newTestPair(t)
	server.AddThread(testGuild, testThread, MockThread{ParentID: testForum})
	server.FailNextWith(http.StatusForbidden, 1)

	_, err := client.GetThread(context.Background(), testThread)
	if !IsNotFound(err) {
		t.Errorf("403 on thread fetch should classify as not-found, got %v", err)
	}
}

func TestGetThreadRetriesTransientFailures(t *testing.T) {
	server, client := newTestPair(t)
	server.AddThread(testGuild, testThread, MockThread{ParentID: testForum})
	server.FailNextWith(http.StatusTooManyRequests, 1)

	state, err := client.GetThread(context.Background(), testThread)
	if err != nil {
		t.Fatalf("GetThread should retry through a 429: %v", err)
	}
	if state.ID != testThread {
		t.Errorf("ID = %d", state.ID)
	}
	if got := server.Requests(); got != 2 {
		t.Errorf("server saw %d requests, want 2", got)
	}
}

func TestLockUnlockThread(t *testing.T) {
	server, client := newTestPair(t)
	server.AddThread(testGuild, testThread, MockThread{ParentID: testForum})
	ctx := context.Background()

	if err := client.LockThread(ctx, testThread, "issue closed on GitHub"); err != nil {
		t.Fatalf("LockThread failed: %v", err)
	}
	state, _ := server.Thread(testThread)
	if !state.Locked {
		t.Error("thread should be locked")
	}
	if state.Archived {
		t.Error("locking must not archive")
	}

	if err := client.UnlockThread(ctx, testThread, "issue reopened on GitHub"); err != nil {
		t.Fatalf("UnlockThread failed: %v", err)
	}
	state, _ = server.Thread(testThread)
	if state.Locked || state.Archived {
		t.Errorf("unlock should clear both flags, got locked=%v archived=%v", state.Locked, state.Archived)
	}

	reasons := server.AuditReasons()
	if len(reasons) != 2 || reasons[0] != "issue closed on GitHub" || reasons[1] != "issue reopened on GitHub" {
		t.Errorf("audit reasons = %v", reasons)
	}
}

func TestUnlockUnarchives(t *testing.T) {
	server, client := newTestPair(t)
	server.AddThread(testGuild, testThread, MockThread{ParentID: testForum, Locked: true, Archived: true})

	if err := client.UnlockThread(context.Background(), testThread, "reopened"); err != nil {
		t.Fatalf("UnlockThread failed: %v", err)
	}
	state, _ := server.Thread(testThread)
	if state.Locked || state.Archived {
		t.Errorf("locked=%v archived=%v, want both false", state.Locked, state.Archived)
	}
}

func TestArchiveThread(t *testing.T) {
	server, client := newTestPair(t)
	server.AddThread(testGuild, testThread, MockThread{ParentID: testForum, Locked: true})

	if err := client.ArchiveThread(context.Background(), testThread, "maintenance"); err != nil {
		t.Fatalf("ArchiveThread failed: %v", err)
	}
	state, _ := server.Thread(testThread)
	if !state.Archived {
		t.Error("thread should be archived")
	}
	if !state.Locked {
		t.Error("archiving must not clear the lock")
	}
}

func TestSendMessageAndReaction(t *testing.T) {
	server, client := newTestPair(t)
	server.AddThread(testGuild, testThread, MockThread{ParentID: testForum})
	ctx := context.Background()

	if err := client.SendMessage(ctx, testThread, "🔒 Issue closed on GitHub"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	msgs := server.ThreadMessages(testThread)
	if len(msgs) != 1 || msgs[0] != "🔒 Issue closed on GitHub" {
		t.Errorf("messages = %v", msgs)
	}

	// Forum starter message shares the thread id.
	if err := client.AddReaction(ctx, testThread, testThread, "✅"); err != nil {
		t.Fatalf("AddReaction failed: %v", err)
	}
	reactions := server.Reactions(testThread)
	if len(reactions) != 1 || reactions[0] != "✅" {
		t.Errorf("reactions = %v", reactions)
	}
}

func TestGetMessagesNewestFirst(t *testing.T) {
	server, client := newTestPair(t)
	server.AddThread(testGuild, testThread, MockThread{ParentID: testForum})
	server.SeedMessage(testThread, "alice", false, "first")
	server.SeedMessage(testThread, "bob", false, "second")
	server.SeedMessage(testThread, "carol", false, "third")

	msgs, err := client.GetMessages(context.Background(), testThread, 10)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	if msgs[0].Content != "third" || msgs[2].Content != "first" {
		t.Errorf("messages not newest-first: %v", msgs)
	}
	if msgs[0].Author.Username != "carol" {
		t.Errorf("author = %q", msgs[0].Author.Username)
	}
}

func TestListActiveThreads(t *testing.T) {
	server, client := newTestPair(t)
	server.AddThread(testGuild, 1, MockThread{Name: "a", ParentID: testForum})
	server.AddThread(testGuild, 2, MockThread{Name: "b", ParentID: testForum, Archived: true})
	server.AddThread(testGuild, 3, MockThread{Name: "c", ParentID: 999})

	threads, err := client.ListActiveThreads(context.Background(), testGuild)
	if err != nil {
		t.Fatalf("ListActiveThreads failed: %v", err)
	}

	// Archived threads are not active; other forums' threads are the
	// caller's job to filter.
	if len(threads) != 2 {
		t.Fatalf("got %d threads, want 2", len(threads))
	}
	ids := map[uint64]bool{threads[0].ID: true, threads[1].ID: true}
	if !ids[1] || !ids[3] {
		t.Errorf("thread ids = %v", ids)
	}
}

func TestMutationFailureClassification(t *testing.T) {
	server, client := newTestPair(t)
	server.AddThread(testGuild, testThread, MockThread{ParentID: testForum})

	server.FailNextWith(http.StatusUnauthorized, 1)
	err := client.LockThread(context.Background(), testThread, "r")
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsFatal(err) {
		t.Errorf("401 should classify as fatal, got %v", err)
	}

	server.FailNextWith(http.StatusServiceUnavailable, 1)
	err = client.SendMessage(context.Background(), testThread, "hi")
	if !IsTransient(err) {
		t.Errorf("503 should classify as transient, got %v", err)
	}
	if got := server.Requests(); got != 2 {
		t.Errorf("server saw %d requests, want 2 (mutations are single-shot)", got)
	}
}
