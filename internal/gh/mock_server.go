package gh

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MockServer provides a fake GitHub API for testing.
type MockServer struct {
	*httptest.Server
	mu       sync.RWMutex
	issues   map[int]*Issue
	order    []int // search results keep insertion order
	nextNum  int
	failures []int // statuses to return before behaving, oldest first
	requests int
}

// NewMockServer creates a mock GitHub API server.
func NewMockServer() *MockServer {
	m := &MockServer{
		issues:  make(map[int]*Issue),
		nextNum: 1,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/search/issues", m.handleSearch)
	mux.HandleFunc("/repos/", m.handleRepos)

	m.Server = httptest.NewServer(m.injectFailures(mux))
	return m
}

// AddIssue adds an issue to the mock server. Search results are returned
// in the order issues were added.
func (m *MockServer) AddIssue(issue *Issue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.issues[issue.Number]; !exists {
		m.order = append(m.order, issue.Number)
	}
	m.issues[issue.Number] = issue
	if issue.Number >= m.nextNum {
		m.nextNum = issue.Number + 1
	}
}

// SetIssueState flips an issue's open/closed state.
func (m *MockServer) SetIssueState(number int, state string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if issue, ok := m.issues[number]; ok {
		issue.State = state
		issue.UpdatedAt = time.Now().UTC()
	}
}

// Issue retrieves an issue for test assertions.
func (m *MockServer) Issue(number int) *Issue {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.issues[number]
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
			json.NewEncoder(w).Encode(map[string]string{"message": http.StatusText(status)})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *MockServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")

	wantState := ""
	wantRepo := ""
	for _, token := range strings.Fields(query) {
		switch {
		case token == "is:open" || token == "is:closed":
			wantState = strings.TrimPrefix(token, "is:")
		case strings.HasPrefix(token, "repo:"):
			wantRepo = strings.TrimPrefix(token, "repo:")
		}
	}

	m.mu.RLock()
	var items []*Issue
	for _, number := range m.order {
		issue := m.issues[number]
		if wantState != "" && issue.State != wantState {
			continue
		}
		_ = wantRepo // single-repo server; the filter is accepted but not enforced
		items = append(items, issue)
	}
	m.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"total_count":        len(items),
		"incomplete_results": false,
		"items":              items,
	})
}

func (m *MockServer) handleRepos(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/repos/"), "/")
	if len(parts) < 3 || parts[2] != "issues" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	if len(parts) == 3 {
		if r.Method == http.MethodPost {
			m.handleCreateIssue(w, r)
			return
		}
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	number, err := strconv.Atoi(parts[3])
	if err != nil {
		http.Error(w, "invalid issue number", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		m.handleGetIssue(w, number)
	case http.MethodPatch:
		m.handleUpdateIssue(w, r, number)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (m *MockServer) handleGetIssue(w http.ResponseWriter, number int) {
	m.mu.RLock()
	issue, ok := m.issues[number]
	m.mu.RUnlock()

	if !ok {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(issue)
}

func (m *MockServer) handleCreateIssue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title  string   `json:"title"`
		Body   string   `json:"body"`
		Labels []string `json:"labels"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	number := m.nextNum
	m.nextNum++
	labels := make([]Label, len(req.Labels))
	for i, name := range req.Labels {
		labels[i] = Label{Name: name}
	}
	issue := &Issue{
		Number:    number,
		Title:     req.Title,
		Body:      req.Body,
		State:     StateOpen,
		Labels:    labels,
		HTMLURL:   fmt.Sprintf("https://github.com/mock/mock/issues/%d", number),
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	m.issues[number] = issue
	m.order = append(m.order, number)
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(issue)
}

func (m *MockServer) handleUpdateIssue(w http.ResponseWriter, r *http.Request, number int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	issue, ok := m.issues[number]
	if !ok {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
		return
	}

	var update struct {
		Title *string `json:"title"`
		Body  *string `json:"body"`
		State *string `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	if update.Title != nil {
		issue.Title = *update.Title
	}
	if update.Body != nil {
		issue.Body = *update.Body
	}
	if update.State != nil {
		issue.State = *update.State
	}
	issue.UpdatedAt = time.Now().UTC()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(issue)
}
