package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const downloadTimeout = 30 * time.Second

// Client is a thin Bot API client covering the methods this backend needs.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: downloadTimeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
	}
}

func (c *Client) methodURL(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
}

// FileURL resolves a getFile path against the bot-token-scoped file endpoint.
// Absolute URLs pass through unchanged.
func (c *Client) FileURL(filePath string) string {
	if strings.HasPrefix(filePath, "http://") || strings.HasPrefix(filePath, "https://") {
		return filePath
	}
	return fmt.Sprintf("%s/file/bot%s/%s", c.baseURL, c.token, strings.TrimLeft(filePath, "/"))
}

func (c *Client) call(ctx context.Context, method string, params interface{}, result interface{}) error {
	var body io.Reader
	if params != nil {
		payload, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal %s params failed: %w", method, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.methodURL(method), body)
	if err != nil {
		return fmt.Errorf("build %s request failed: %w", method, err)
	}
	if params != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response failed: %w", method, err)
	}

	var envelope struct {
		OK          bool            `json:"ok"`
		Description string          `json:"description"`
		Result      json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("parse %s response failed: %w", method, err)
	}
	if !envelope.OK {
		return fmt.Errorf("%s failed: %s", method, envelope.Description)
	}
	if result != nil {
		if err := json.Unmarshal(envelope.Result, result); err != nil {
			return fmt.Errorf("parse %s result failed: %w", method, err)
		}
	}
	return nil
}

func (c *Client) GetMe(ctx context.Context) (*BotInfo, error) {
	var info BotInfo
	if err := c.call(ctx, "getMe", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) SetWebhook(ctx context.Context, url, secretToken string) error {
	params := map[string]interface{}{
		"url":             url,
		"allowed_updates": []string{"message"},
	}
	if secretToken != "" {
		params["secret_token"] = secretToken
	}
	return c.call(ctx, "setWebhook", params, nil)
}

func (c *Client) DeleteWebhook(ctx context.Context) error {
	return c.call(ctx, "deleteWebhook", map[string]interface{}{"drop_pending_updates": false}, nil)
}

// SendMessage sends Markdown-formatted text to a chat.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	params := map[string]interface{}{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "Markdown",
	}
	return c.call(ctx, "sendMessage", params, nil)
}

func (c *Client) GetFile(ctx context.Context, fileID string) (*File, error) {
	var file File
	if err := c.call(ctx, "getFile", map[string]string{"file_id": fileID}, &file); err != nil {
		return nil, err
	}
	return &file, nil
}

// DownloadFile fetches the bytes behind a getFile path or an absolute URL.
func (c *Client) DownloadFile(ctx context.Context, filePath string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.FileURL(filePath), nil)
	if err != nil {
		return nil, fmt.Errorf("build download request failed: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("download status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read download body failed: %w", err)
	}
	return data, nil
}
