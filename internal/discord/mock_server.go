package discord

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
)

// MockThread is the mutable state of one fake thread.
type MockThread struct {
	Name     string
	ParentID uint64
	Locked   bool
	Archived bool
}

// MockServer provides a fake Discord API for testing.
type MockServer struct {
	*httptest.Server
	mu        sync.RWMutex
	threads   map[uint64]*MockThread
	guilds    map[uint64][]uint64 // guild id -> thread ids
	messages  map[uint64][]Message
	reactions map[uint64][]string // message id -> emoji
	reasons   []string            // audit-log reasons, in arrival order
	failures  []int
	requests  int
	nextMsgID uint64
}

// NewMockServer creates a mock Discord API server.
func NewMockServer() *MockServer {
	m := &MockServer{
		threads:   make(map[uint64]*MockThread),
		guilds:    make(map[uint64][]uint64),
		messages:  make(map[uint64][]Message),
		reactions: make(map[uint64][]string),
		nextMsgID: 1000,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/channels/", m.handleChannels)
	mux.HandleFunc("/guilds/", m.handleGuilds)

	m.Server = httptest.NewServer(m.injectFailures(mux))
	return m
}

// AddThread registers a thread under a guild.
func (m *MockServer) AddThread(guildID, threadID uint64, thread MockThread) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads[threadID] = &thread
	m.guilds[guildID] = append(m.guilds[guildID], threadID)
}

// RemoveThread deletes a thread, so later fetches see a 404.
func (m *MockServer) RemoveThread(threadID uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.threads, threadID)
}

// Thread returns a copy of a thread's state for assertions.
func (m *MockServer) Thread(threadID uint64) (MockThread, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.threads[threadID]
	if !ok {
		return MockThread{}, false
	}
	return *t, true
}

// ThreadMessages returns the contents posted to a thread.
func (m *MockServer) ThreadMessages(threadID uint64) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var contents []string
	for _, msg := range m.messages[threadID] {
		contents = append(contents, msg.Content)
	}
	return contents
}

// SeedMessage adds a pre-existing message to a thread.
func (m *MockServer) SeedMessage(threadID uint64, author string, bot bool, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextMsgID++
	m.messages[threadID] = append(m.messages[threadID], Message{
		ID:      m.nextMsgID,
		Content: content,
		Author:  MessageAuthor{Username: author, Bot: bot},
	})
}

// Reactions returns the emoji added to a message.
func (m *MockServer) Reactions(messageID uint64) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.reactions[messageID]...)
}

// AuditReasons returns every X-Audit-Log-Reason header received.
func (m *MockServer) AuditReasons() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.reasons...)
}

// FailNextWith makes the next n requests fail with the given status.
func (m *MockServer) FailNextWith(status, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < n; i++ {
		m.failures = append(m.failures, status)
	}
}

// Requests returns the number of requests served so far.
func (m *MockServer) Requests() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requests
}

func (m *MockServer) injectFailures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.requests++
		var status int
		if len(m.failures) > 0 {
			status = m.failures[0]
			m.failures = m.failures[1:]
		}
		m.mu.Unlock()

		if status != 0 {
			w.WriteHeader(status)
			json.NewEncoder(w).Encode(map[string]any{"message": http.StatusText(status)})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *MockServer) wireThread(threadID uint64) map[string]any {
	t := m.threads[threadID]
	return map[string]any{
		"id":        strconv.FormatUint(threadID, 10),
		"name":      t.Name,
		"parent_id": strconv.FormatUint(t.ParentID, 10),
		"type":      11, // public thread
		"thread_metadata": map[string]bool{
			"locked":   t.Locked,
			"archived": t.Archived,
		},
	}
}

func (m *MockServer) handleChannels(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/channels/"), "/")
	threadID, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		http.Error(w, `{"message":"invalid id"}`, http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.threads[threadID]; !ok {
		http.Error(w, `{"message":"Unknown Channel"}`, http.StatusNotFound)
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		json.NewEncoder(w).Encode(m.wireThread(threadID))

	case len(parts) == 1 && r.Method == http.MethodPatch:
		if reason := r.Header.Get("X-Audit-Log-Reason"); reason != "" {
			m.reasons = append(m.reasons, reason)
		}
		var fields map[string]bool
		if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
			http.Error(w, `{"message":"invalid json"}`, http.StatusBadRequest)
			return
		}
		t := m.threads[threadID]
		if locked, ok := fields["locked"]; ok {
			t.Locked = locked
		}
		if archived, ok := fields["archived"]; ok {
			t.Archived = archived
		}
		json.NewEncoder(w).Encode(m.wireThread(threadID))

	case len(parts) == 2 && parts[1] == "messages" && r.Method == http.MethodPost:
		var body struct {
			Content string `json:"content"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, `{"message":"invalid json"}`, http.StatusBadRequest)
			return
		}
		m.nextMsgID++
		msg := Message{ID: m.nextMsgID, Content: body.Content}
		m.messages[threadID] = append(m.messages[threadID], msg)
		json.NewEncoder(w).Encode(map[string]string{
			"id":      strconv.FormatUint(msg.ID, 10),
			"content": msg.Content,
		})

	case len(parts) == 2 && parts[1] == "messages" && r.Method == http.MethodGet:
		// Newest first, like the real API.
		msgs := m.messages[threadID]
		wire := make([]map[string]any, 0, len(msgs))
		for i := len(msgs) - 1; i >= 0; i-- {
			wire = append(wire, map[string]any{
				"id":      strconv.FormatUint(msgs[i].ID, 10),
				"content": msgs[i].Content,
				"author":  msgs[i].Author,
			})
		}
		json.NewEncoder(w).Encode(wire)

	case len(parts) == 6 && parts[1] == "messages" && parts[3] == "reactions" && parts[5] == "@me" && r.Method == http.MethodPut:
		messageID, err := strconv.ParseUint(parts[2], 10, 64)
		if err != nil {
			http.Error(w, `{"message":"invalid message id"}`, http.StatusBadRequest)
			return
		}
		emoji, err := url.PathUnescape(parts[4])
		if err != nil {
			http.Error(w, `{"message":"invalid emoji"}`, http.StatusBadRequest)
			return
		}
		m.reactions[messageID] = append(m.reactions[messageID], emoji)
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, `{"message":"not found"}`, http.StatusNotFound)
	}
}

func (m *MockServer) handleGuilds(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/guilds/"), "/")
	if len(parts) != 3 || parts[1] != "threads" || parts[2] != "active" || r.Method != http.MethodGet {
		http.Error(w, `{"message":"not found"}`, http.StatusNotFound)
		return
	}

	guildID, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		http.Error(w, `{"message":"invalid id"}`, http.StatusBadRequest)
		return
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	threads := make([]map[string]any, 0)
	for _, threadID := range m.guilds[guildID] {
		t, ok := m.threads[threadID]
		if !ok || t.Archived {
			continue
		}
		threads = append(threads, m.wireThread(threadID))
	}

	json.NewEncoder(w).Encode(map[string]any{"threads": threads})
}
