package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/chatmemory/backend/internal/platform/httpx"
	"github.com/chatmemory/backend/internal/platform/logger"
)

// ChatInfo is one conversation visible to a tenant's Telegram session.
type ChatInfo struct {
	ChatID int64  `json:"chat_id"`
	Title  string `json:"title"`
	Type   string `json:"type"` // private | group | supergroup | channel
}

// MessageData is one fetched message. MsgID is the sequence number within
// the chat.
type MessageData struct {
	ChatID       int64      `json:"chat_id"`
	MsgID        int64      `json:"msg_id"`
	SenderID     int64      `json:"sender_id"`
	SenderName   string     `json:"sender_name"`
	SenderHandle string     `json:"sender_handle"`
	Date         time.Time  `json:"date"`
	Text         string     `json:"text"`
	ReplyToMsgID *int64     `json:"reply_to_msg_id,omitempty"`
}

// Client is the Telegram fetch interface. The production implementation
// talks to the session bridge service holding the MTProto sessions.
type Client interface {
	ListChats(ctx context.Context, tgUserID int64) ([]ChatInfo, error)
	// FetchMessages paginates one chat in ascending sequence order. An empty
	// next cursor ends pagination.
	FetchMessages(ctx context.Context, tgUserID int64, chatID int64, cursor string) ([]MessageData, string, error)
}

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	pageSize   int
	httpClient *http.Client
	maxRetries int
}

func NewClient(log *logger.Logger) (Client, error) {
	baseURL := strings.TrimSpace(os.Getenv("TELEGRAM_BRIDGE_URL"))
	if baseURL == "" {
		return nil, fmt.Errorf("missing TELEGRAM_BRIDGE_URL")
	}
	baseURL = strings.TrimRight(baseURL, "/")

	apiKey := strings.TrimSpace(os.Getenv("TELEGRAM_BRIDGE_API_KEY"))

	pageSize := 200
	if v := os.Getenv("TELEGRAM_FETCH_PAGE_SIZE"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			pageSize = parsed
		}
	}

	timeoutSec := 60
	if v := os.Getenv("TELEGRAM_BRIDGE_TIMEOUT_SECONDS"); v != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}

	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	return &client{
		log:        log.With("service", "TelegramClient"),
		baseURL:    baseURL,
		apiKey:     apiKey,
		pageSize:   pageSize,
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		maxRetries: 3,
	}, nil
}

type bridgeHTTPError struct {
	StatusCode int
	Body       string
}

func (e *bridgeHTTPError) Error() string {
	return fmt.Sprintf("telegram bridge http %d: %s", e.StatusCode, e.Body)
}

func (e *bridgeHTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func (c *client) do(ctx context.Context, method, path string, body any, out any) error {
	backoff := 1 * time.Second

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		resp, raw, err := c.doOnce(ctx, method, path, body)
		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("telegram bridge decode error: %w", uErr)
			}
			return nil
		}

		if !httpx.IsRetryableError(err) {
			return err
		}
		if attempt == c.maxRetries {
			return err
		}

		sleepFor := httpx.JitterSleep(httpx.RetryAfterDuration(resp, backoff, 15*time.Second))
		c.log.Warn("telegram bridge retrying",
			"path", path,
			"attempt", attempt+1,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)
		time.Sleep(sleepFor)
		backoff *= 2
	}
	return fmt.Errorf("unreachable retry loop")
}

func (c *client) doOnce(ctx context.Context, method, path string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &bridgeHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

type listChatsResponse struct {
	Chats []ChatInfo `json:"chats"`
}

func (c *client) ListChats(ctx context.Context, tgUserID int64) ([]ChatInfo, error) {
	var resp listChatsResponse
	path := fmt.Sprintf("/v1/users/%d/chats", tgUserID)
	if err := c.do(ctx, "GET", path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Chats, nil
}

type fetchMessagesResponse struct {
	Messages   []MessageData `json:"messages"`
	NextCursor string        `json:"next_cursor"`
}

func (c *client) FetchMessages(ctx context.Context, tgUserID int64, chatID int64, cursor string) ([]MessageData, string, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(c.pageSize))
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	path := fmt.Sprintf("/v1/users/%d/chats/%d/messages?%s", tgUserID, chatID, q.Encode())

	var resp fetchMessagesResponse
	if err := c.do(ctx, "GET", path, nil, &resp); err != nil {
		return nil, "", err
	}
	return resp.Messages, resp.NextCursor, nil
}
