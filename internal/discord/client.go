// Package discord provides a Discord REST client scoped to forum threads:
// resolving a thread's lock/archive state and applying the small set of
// mutations the reconciler needs.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Rican7/retry"
	"github.com/Rican7/retry/backoff"
	"github.com/Rican7/retry/strategy"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	apiBaseURL = "https://discord.com/api/v10"

	retryAttempts  = 3
	retryBaseDelay = 250 * time.Millisecond
)

// ErrThreadNotFound marks a thread that no longer exists or is no longer
// visible to the bot. This is terminal for the thread, unlike a transient
// network failure.
var ErrThreadNotFound = errors.New("thread not found")

// ThreadState is the live state of one forum thread.
type ThreadState struct {
	ID       uint64
	Name     string
	ParentID uint64
	Locked   bool
	Archived bool
}

// MessageAuthor identifies who wrote a thread message.
type MessageAuthor struct {
	Username string `json:"username"`
	Bot      bool   `json:"bot"`
}

// Message is one message inside a thread.
type Message struct {
	ID      uint64
	Content string
	Author  MessageAuthor
}

// APIError is a non-2xx response from the Discord API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("Discord API error: %d %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err marks a deleted or inaccessible thread.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrThreadNotFound)
}

// IsTransient reports whether err should be retried on a later pass.
func IsTransient(err error) bool {
	if err == nil || IsNotFound(err) {
		return false
	}
	var ae *APIError
	if !errors.As(err, &ae) {
		return true
	}
	return ae.StatusCode == http.StatusTooManyRequests || ae.StatusCode >= 500
}

// IsFatal reports whether err means the bot token itself is bad.
func IsFatal(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusUnauthorized
}

// Client is a Discord REST client. It is safe for concurrent use.
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// New creates a Discord client with the given bot token. The limiter
// stays under Discord's global request budget.
func New(token string) *Client {
	return &Client{
		token:      token,
		baseURL:    apiBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(40), 10),
	}
}

// NewWithBaseURL creates a client against a custom base URL, without
// rate limiting (for testing).
func NewWithBaseURL(token, baseURL string) *Client {
	return &Client{
		token:      token,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Inf, 0),
	}
}

// channel is the wire shape of a Discord channel. Snowflakes arrive as
// decimal strings.
type channel struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	ParentID       string          `json:"parent_id"`
	Type           int             `json:"type"`
	ThreadMetadata *threadMetadata `json:"thread_metadata"`
}

type threadMetadata struct {
	Archived bool `json:"archived"`
	Locked   bool `json:"locked"`
}

type wireMessage struct {
	ID      string        `json:"id"`
	Content string        `json:"content"`
	Author  MessageAuthor `json:"author"`
}

func parseSnowflake(s string) uint64 {
	id, _ := strconv.ParseUint(s, 10, 64)
	return id
}

func (ch *channel) threadState() (ThreadState, error) {
	if ch.ThreadMetadata == nil {
		return ThreadState{}, fmt.Errorf("%w: channel %s is not a thread", ErrThreadNotFound, ch.ID)
	}
	return ThreadState{
		ID:       parseSnowflake(ch.ID),
		Name:     ch.Name,
		ParentID: parseSnowflake(ch.ParentID),
		Locked:   ch.ThreadMetadata.Locked,
		Archived: ch.ThreadMetadata.Archived,
	}, nil
}

func (c *Client) doRequest(ctx context.Context, method, url string, body []byte, reason string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bot "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if reason != "" {
		req.Header.Set("X-Audit-Log-Reason", reason)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// getWithRetry performs a GET with bounded backoff on rate limits and
// server errors. Mutations are single-shot; the next reconciliation pass
// retries them naturally.
func (c *Client) getWithRetry(ctx context.Context, url string) ([]byte, error) {
	var payload []byte
	var lastErr error

	err := retry.Retry(func(attempt uint) error {
		if err := ctx.Err(); err != nil {
			lastErr = err
			return nil
		}
		if attempt > 0 {
			log.Debug().Uint("attempt", attempt).Str("url", url).Msg("retrying Discord request")
		}

		resp, err := c.doRequest(ctx, http.MethodGet, url, nil, "")
		if err != nil {
			lastErr = err
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			lastErr = responseError(resp)
			if IsTransient(lastErr) {
				return lastErr
			}
			return nil
		}

		payload, err = io.ReadAll(resp.Body)
		lastErr = err
		return err
	}, strategy.Limit(retryAttempts), strategy.Backoff(backoff.Exponential(retryBaseDelay, 2)))

	if lastErr != nil {
		return nil, lastErr
	}
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func responseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var derr struct {
		Message string `json:"message"`
	}
	message := http.StatusText(resp.StatusCode)
	if json.Unmarshal(body, &derr) == nil && derr.Message != "" {
		message = derr.Message
	}

	return &APIError{StatusCode: resp.StatusCode, Message: message}
}

// GetThread resolves a thread's current state. Deleted threads, threads
// the bot can no longer see, and ids that resolve to non-thread channels
// all report ErrThreadNotFound.
func (c *Client) GetThread(ctx context.Context, threadID uint64) (ThreadState, error) {
	payload, err := c.getWithRetry(ctx, fmt.Sprintf("%s/channels/%d", c.baseURL, threadID))
	if err != nil {
		var ae *APIError
		if errors.As(err, &ae) && (ae.StatusCode == http.StatusNotFound || ae.StatusCode == http.StatusForbidden) {
			return ThreadState{}, fmt.Errorf("%w: thread %d (HTTP %d)", ErrThreadNotFound, threadID, ae.StatusCode)
		}
		return ThreadState{}, fmt.Errorf("get thread %d: %w", threadID, err)
	}

	var ch channel
	if err := json.Unmarshal(payload, &ch); err != nil {
		return ThreadState{}, fmt.Errorf("failed to decode channel: %w", err)
	}
	return ch.threadState()
}

// patchThread edits a thread's lock/archive flags, recording reason in
// the guild audit log.
func (c *Client) patchThread(ctx context.Context, threadID uint64, reason string, fields map[string]bool) error {
	payload, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/channels/%d", c.baseURL, threadID)
	resp, err := c.doRequest(ctx, http.MethodPatch, url, payload, reason)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("edit thread %d: %w", threadID, responseError(resp))
	}
	return nil
}

// LockThread locks a thread so only moderators can post.
func (c *Client) LockThread(ctx context.Context, threadID uint64, reason string) error {
	return c.patchThread(ctx, threadID, reason, map[string]bool{"locked": true})
}

// UnlockThread unlocks a thread, unarchiving it if needed: Discord will
// not accept posts to an archived thread.
func (c *Client) UnlockThread(ctx context.Context, threadID uint64, reason string) error {
	return c.patchThread(ctx, threadID, reason, map[string]bool{"locked": false, "archived": false})
}

// ArchiveThread archives a thread without touching its lock flag.
func (c *Client) ArchiveThread(ctx context.Context, threadID uint64, reason string) error {
	return c.patchThread(ctx, threadID, reason, map[string]bool{"archived": true})
}

// SendMessage posts a plain text message to a thread.
func (c *Client) SendMessage(ctx context.Context, threadID uint64, content string) error {
	payload, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/channels/%d/messages", c.baseURL, threadID)
	resp, err := c.doRequest(ctx, http.MethodPost, url, payload, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("send message to thread %d: %w", threadID, responseError(resp))
	}
	return nil
}

// AddReaction adds the bot's reaction to a message. For forum threads the
// starter message shares the thread's id.
func (c *Client) AddReaction(ctx context.Context, channelID, messageID uint64, emoji string) error {
	reqURL := fmt.Sprintf("%s/channels/%d/messages/%d/reactions/%s/@me",
		c.baseURL, channelID, messageID, url.PathEscape(emoji))

	resp, err := c.doRequest(ctx, http.MethodPut, reqURL, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("react to message %d: %w", messageID, responseError(resp))
	}
	return nil
}

// GetMessages returns up to limit recent messages from a thread,
// newest first (the API's native order).
func (c *Client) GetMessages(ctx context.Context, threadID uint64, limit int) ([]Message, error) {
	url := fmt.Sprintf("%s/channels/%d/messages?limit=%d", c.baseURL, threadID, limit)
	payload, err := c.getWithRetry(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("get messages for thread %d: %w", threadID, err)
	}

	var wire []wireMessage
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}

	messages := make([]Message, len(wire))
	for i, wm := range wire {
		messages[i] = Message{
			ID:      parseSnowflake(wm.ID),
			Content: wm.Content,
			Author:  wm.Author,
		}
	}
	return messages, nil
}

// ListActiveThreads returns the state of every active (non-archived)
// thread in a guild. Callers filter by parent forum.
func (c *Client) ListActiveThreads(ctx context.Context, guildID uint64) ([]ThreadState, error) {
	url := fmt.Sprintf("%s/guilds/%d/threads/active", c.baseURL, guildID)
	payload, err := c.getWithRetry(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("list active threads for guild %d: %w", guildID, err)
	}

	var result struct {
		Threads []channel `json:"threads"`
	}
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("failed to decode thread list: %w", err)
	}

	threads := make([]ThreadState, 0, len(result.Threads))
	for _, ch := range result.Threads {
		state, err := ch.threadState()
		if err != nil {
			continue
		}
		threads = append(threads, state)
	}
	return threads, nil
}
