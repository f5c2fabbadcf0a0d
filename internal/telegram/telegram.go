package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	cmdpkg "github.com/stupiduntilnot/enerlytic/internal/commander"
)

// MaxMessageRunes is the chunk size used for outgoing text. Telegram's hard
// limit is 4096 characters.
const MaxMessageRunes = 3900

// maxDownloadBytes matches the Bot API getFile limit.
const maxDownloadBytes = 20 << 20

// Client is a minimal Telegram Bot API client.
type Client struct {
	apiBase    string
	fileBase   string
	httpClient *http.Client
}

// NewClient creates a Telegram client for the given bot API base URL
// (e.g. "https://api.telegram.org/bot<token>") and file base URL
// (e.g. "https://api.telegram.org/file/bot<token>").
func NewClient(apiBase, fileBase string, requestTimeout time.Duration) *Client {
	return &Client{
		apiBase:  strings.TrimRight(apiBase, "/"),
		fileBase: strings.TrimRight(fileBase, "/"),
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// Response is the generic Telegram API response wrapper.
type Response struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
}

type Update = cmdpkg.Update
type Message = cmdpkg.Message
type Chat = cmdpkg.Chat

type tgFile struct {
	FileID   string `json:"file_id"`
	FilePath string `json:"file_path"`
	FileSize int64  `json:"file_size,omitempty"`
}

// GetUpdates calls the getUpdates API. Updates without a message are
// returned with a nil Message so the caller can still advance its offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout int) ([]Update, error) {
	params := url.Values{}
	params.Set("offset", strconv.FormatInt(offset, 10))
	params.Set("timeout", strconv.Itoa(timeout))

	var updates []Update
	if err := c.call(ctx, http.MethodGet, "getUpdates?"+params.Encode(), nil, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

// SendMessage sends text to the given chat, split into chunks that fit the
// message size limit.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	for _, chunk := range SplitText(text, MaxMessageRunes) {
		payload := fmt.Sprintf(`{"chat_id":%d,"text":%s}`, chatID, jsonString(chunk))
		if err := c.call(ctx, http.MethodPost, "sendMessage", []byte(payload), nil); err != nil {
			return err
		}
	}
	return nil
}

// SendChatAction shows a transient status such as "typing".
func (c *Client) SendChatAction(ctx context.Context, chatID int64, action string) error {
	payload := fmt.Sprintf(`{"chat_id":%d,"action":%s}`, chatID, jsonString(action))
	return c.call(ctx, http.MethodPost, "sendChatAction", []byte(payload), nil)
}

// DownloadFile resolves a file id via getFile and fetches its bytes.
func (c *Client) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	var f tgFile
	payload := fmt.Sprintf(`{"file_id":%s}`, jsonString(fileID))
	if err := c.call(ctx, http.MethodPost, "getFile", []byte(payload), &f); err != nil {
		return nil, err
	}
	if f.FilePath == "" {
		return nil, fmt.Errorf("telegram getFile returned no file_path for %s", fileID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.fileBase+"/"+f.FilePath, nil)
	if err != nil {
		return nil, fmt.Errorf("build file request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram file download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("telegram file download status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read file body: %w", err)
	}
	if len(data) > maxDownloadBytes {
		return nil, fmt.Errorf("telegram file %s exceeds %d bytes", fileID, maxDownloadBytes)
	}
	return data, nil
}

func (c *Client) call(ctx context.Context, method, endpoint string, payload []byte, out any) error {
	name := endpoint
	if i := strings.IndexByte(name, '?'); i >= 0 {
		name = name[:i]
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.apiBase+"/"+endpoint, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", name, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram %s request failed: %w", name, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", name, err)
	}
	var tgResp Response
	if err := json.Unmarshal(raw, &tgResp); err != nil {
		return fmt.Errorf("failed to parse %s response (status %d): %w", name, resp.StatusCode, err)
	}
	if !tgResp.OK {
		return fmt.Errorf("telegram %s failed: code=%d %s", name, tgResp.ErrorCode, tgResp.Description)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(tgResp.Result, out); err != nil {
		return fmt.Errorf("failed to parse %s result: %w", name, err)
	}
	return nil
}

// SplitText cuts s into pieces of at most maxRunes runes, preferring to break
// after a newline in the second half of a chunk.
func SplitText(s string, maxRunes int) []string {
	runes := []rune(s)
	if len(runes) <= maxRunes || maxRunes <= 0 {
		return []string{s}
	}
	var chunks []string
	for len(runes) > maxRunes {
		cut := maxRunes
		for i := maxRunes - 1; i >= maxRunes/2; i-- {
			if runes[i] == '\n' {
				cut = i + 1
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
