// Package discord is a small REST client for the Discord HTTP API: commands,
// interaction callbacks, webhook edits and channel messages. It also holds
// the wire types shared with the gateway and the HTTP interactions endpoint.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultBaseURL is the v10 REST root.
const DefaultBaseURL = "https://discord.com/api/v10"

const maxRetries = 3

// Client calls the Discord REST API on behalf of a bot.
type Client struct {
	http    *http.Client
	baseURL string
	token   string
	log     *zap.Logger

	// sleep ждёт retry_after; подменяется в тестах
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a client. An empty baseURL means DefaultBaseURL.
func NewClient(baseURL, token string, log *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		http:    &http.Client{Timeout: 15 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		log:     log,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// GatewayBot returns the websocket URL the bot should connect to.
func (c *Client) GatewayBot(ctx context.Context) (*GatewayBot, error) {
	var out GatewayBot
	if err := c.do(ctx, http.MethodGet, "/gateway/bot", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CurrentApplication returns the application owning the bot token.
func (c *Client) CurrentApplication(ctx context.Context) (*Application, error) {
	var out Application
	if err := c.do(ctx, http.MethodGet, "/applications/@me", nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// BulkOverwriteCommands replaces all commands of the application. With an
// empty guildID the commands are global.
func (c *Client) BulkOverwriteCommands(ctx context.Context, appID, guildID string, cmds []ApplicationCommand) ([]ApplicationCommand, error) {
	path := "/applications/" + appID + "/commands"
	if guildID != "" {
		path = "/applications/" + appID + "/guilds/" + guildID + "/commands"
	}
	var out []ApplicationCommand
	if err := c.do(ctx, http.MethodPut, path, cmds, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateInteractionResponse answers an interaction. It must be called within
// three seconds of receiving it.
func (c *Client) CreateInteractionResponse(ctx context.Context, id, token string, resp InteractionResponse) error {
	var files []File
	if resp.Data != nil {
		files = resp.Data.Files
		resp.Data.Attachments = attachmentsFor(files)
	}
	return c.do(ctx, http.MethodPost, "/interactions/"+id+"/"+token+"/callback", resp, files, nil)
}

// EditOriginalResponse edits the message created by the interaction response.
func (c *Client) EditOriginalResponse(ctx context.Context, appID, token string, msg MessageParams) (*Message, error) {
	msg.Attachments = attachmentsFor(msg.Files)
	var out Message
	if err := c.do(ctx, http.MethodPatch, "/webhooks/"+appID+"/"+token+"/messages/@original", msg, msg.Files, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateFollowup sends an additional message for the interaction.
func (c *Client) CreateFollowup(ctx context.Context, appID, token string, msg MessageParams) (*Message, error) {
	msg.Attachments = attachmentsFor(msg.Files)
	var out Message
	if err := c.do(ctx, http.MethodPost, "/webhooks/"+appID+"/"+token+"?wait=true", msg, msg.Files, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateMessage posts a message to a channel.
func (c *Client) CreateMessage(ctx context.Context, channelID string, msg MessageParams) (*Message, error) {
	msg.Attachments = attachmentsFor(msg.Files)
	msg.Flags &^= FlagEphemeral
	var out Message
	if err := c.do(ctx, http.MethodPost, "/channels/"+channelID+"/messages", msg, msg.Files, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func attachmentsFor(files []File) []Attachment {
	if len(files) == 0 {
		return nil
	}
	out := make([]Attachment, len(files))
	for i, f := range files {
		out[i] = Attachment{ID: i, Filename: f.Name}
	}
	return out
}

// do выполняет запрос; 429 повторяется после retry_after, не более maxRetries раз
func (c *Client) do(ctx context.Context, method, path string, payload any, files []File, out any) error {
	var (
		body        []byte
		contentType string
		err         error
	)
	switch {
	case len(files) > 0:
		body, contentType, err = encodeMultipart(payload, files)
	case payload != nil:
		body, err = json.Marshal(payload)
		contentType = "application/json"
	}
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", method, redact(path), err)
	}

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bot "+c.token)
		req.Header.Set("User-Agent", "DiscordBot (https://github.com/EgorLis/zwiftroutebot, 1.0)")
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("%s %s: %w", method, redact(path), err)
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("%s %s: read body: %w", method, redact(path), err)
		}

		if resp.StatusCode == http.StatusTooManyRequests && attempt < maxRetries {
			wait := retryAfter(resp.Header, data)
			c.log.Warn("rate limited",
				zap.String("method", method),
				zap.String("path", redact(path)),
				zap.Duration("retry_after", wait),
				zap.Int("attempt", attempt+1))
			if err := c.sleep(ctx, wait); err != nil {
				return err
			}
			continue
		}
		if resp.StatusCode/100 != 2 {
			return newAPIError(resp.StatusCode, data)
		}
		if out != nil && len(data) > 0 && resp.StatusCode != http.StatusNoContent {
			if err := json.Unmarshal(data, out); err != nil {
				return fmt.Errorf("decode %s %s: %w", method, redact(path), err)
			}
		}
		return nil
	}
}

func encodeMultipart(payload any, files []File) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	js, err := json.Marshal(payload)
	if err != nil {
		return nil, "", err
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="payload_json"`)
	h.Set("Content-Type", "application/json")
	pw, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := pw.Write(js); err != nil {
		return nil, "", err
	}

	for i, f := range files {
		ct := f.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition",
			fmt.Sprintf(`form-data; name="files[%d]"; filename=%q`, i, f.Name))
		h.Set("Content-Type", ct)
		fw, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := fw.Write(f.Data); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func retryAfter(h http.Header, body []byte) time.Duration {
	var rl struct {
		RetryAfter float64 `json:"retry_after"`
	}
	if json.Unmarshal(body, &rl) == nil && rl.RetryAfter > 0 {
		return time.Duration(rl.RetryAfter * float64(time.Second))
	}
	if s, err := strconv.ParseFloat(h.Get("Retry-After"), 64); err == nil && s > 0 {
		return time.Duration(s * float64(time.Second))
	}
	return time.Second
}

// токены интеракций не должны попадать в логи
func redact(path string) string {
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if (p == "interactions" || p == "webhooks") && i+2 < len(parts) {
			parts[i+2] = "***"
		}
	}
	return strings.Join(parts, "/")
}

// APIError is a non-2xx answer of the REST API.
type APIError struct {
	Status  int
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("discord api: status %d, code %d: %s", e.Status, e.Code, e.Message)
}

func newAPIError(status int, body []byte) *APIError {
	e := &APIError{Status: status}
	if json.Unmarshal(body, e) != nil || e.Message == "" {
		e.Message = strings.TrimSpace(string(body))
		if e.Message == "" {
			e.Message = http.StatusText(status)
		}
	}
	return e
}

// CodeUnknownInteraction is returned when the interaction token has expired.
const CodeUnknownInteraction = 10062

// IsUnknownInteraction reports whether err means the interaction expired.
func IsUnknownInteraction(err error) bool {
	var ae *APIError
	if !errors.As(err, &ae) {
		return false
	}
	return ae.Code == CodeUnknownInteraction || (ae.Status == http.StatusNotFound && ae.Code == 0)
}
