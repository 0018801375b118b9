// Package whatsapp implements the two outbound providers spec §6 names
// (Meta WhatsApp Graph v22.0, WaSender) plus the two inbound webhook
// envelope parsers C1 consumes. Adapted from the teacher's
// internal/core/whatsapp/cloud_api.go HTTP-client shape, generalized from
// v18.0/simple text+media to v22.0 with template sends and ordered
// component parameters.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/genfity/wa-agent-core/internal/platform/logx"
)

// Sender is the outbound surface the orchestrator/reminders/follow-ups
// depend on, implemented once per provider (Meta, WaSender).
type Sender interface {
	SendText(ctx context.Context, to, text string) error
	SendImage(ctx context.Context, to, mediaID, url, caption string) error
	SendVideo(ctx context.Context, to, mediaID, url, caption string) error
	SendDocument(ctx context.Context, to, mediaID, url, filename, caption string) error
	SendTemplate(ctx context.Context, to, name, language string, bodyParams []string) error
}

const (
	metaAPIVersion = "v22.0"
	textTimeout    = 30 * time.Second
	mediaTimeout   = 90 * time.Second
)

// MetaClient implements Sender against the WhatsApp Cloud API.
type MetaClient struct {
	phoneNumberID string
	accessToken   string
	httpClient    *http.Client
}

func NewMetaClient(phoneNumberID, accessToken string) *MetaClient {
	return &MetaClient{
		phoneNumberID: phoneNumberID,
		accessToken:   accessToken,
		httpClient:    &http.Client{Timeout: mediaTimeout},
	}
}

func (c *MetaClient) baseURL() string {
	return fmt.Sprintf("https://graph.facebook.com/%s/%s/messages", metaAPIVersion, c.phoneNumberID)
}

func (c *MetaClient) SendText(ctx context.Context, to, text string) error {
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":     "individual",
		"to":                 to,
		"type":               "text",
		"text":               map[string]any{"preview_url": false, "body": text},
	}
	return c.send(ctx, payload, textTimeout)
}

func (c *MetaClient) mediaPayload(to, mediaType, mediaID, url, caption string) map[string]any {
	media := map[string]any{}
	if mediaID != "" {
		media["id"] = mediaID
	} else {
		media["link"] = url
	}
	if caption != "" {
		media["caption"] = caption
	}
	return map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              mediaType,
		mediaType:           media,
	}
}

func (c *MetaClient) SendImage(ctx context.Context, to, mediaID, url, caption string) error {
	return c.send(ctx, c.mediaPayload(to, "image", mediaID, url, caption), mediaTimeout)
}

func (c *MetaClient) SendVideo(ctx context.Context, to, mediaID, url, caption string) error {
	return c.send(ctx, c.mediaPayload(to, "video", mediaID, url, caption), mediaTimeout)
}

func (c *MetaClient) SendDocument(ctx context.Context, to, mediaID, url, filename, caption string) error {
	payload := c.mediaPayload(to, "document", mediaID, url, caption)
	if doc, ok := payload["document"].(map[string]any); ok && filename != "" {
		doc["filename"] = filename
	}
	return c.send(ctx, payload, mediaTimeout)
}

// SendTemplate sends a Meta-approved template with ordered body parameters
// (spec §6: "template send (name, language, components with ordered body
// parameters)").
func (c *MetaClient) SendTemplate(ctx context.Context, to, name, language string, bodyParams []string) error {
	params := make([]map[string]any, 0, len(bodyParams))
	for _, p := range bodyParams {
		params = append(params, map[string]any{"type": "text", "text": p})
	}
	payload := map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                to,
		"type":              "template",
		"template": map[string]any{
			"name":     name,
			"language": map[string]any{"code": language},
			"components": []map[string]any{
				{"type": "body", "parameters": params},
			},
		},
	}
	return c.send(ctx, payload, textTimeout)
}

func (c *MetaClient) send(ctx context.Context, payload map[string]any, timeout time.Duration) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL(), bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp(meta): request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("whatsapp(meta): status %d: %s", resp.StatusCode, string(body))
	}
	logx.With("whatsapp.meta").Debug().Msg("✅ message sent")
	return nil
}

// GetMediaURL resolves a Meta media id to a short-lived download URL, used
// by the dispatcher's inline media pre-resolution (spec §4.1).
func (c *MetaClient) GetMediaURL(ctx context.Context, mediaID string) (string, error) {
	url := fmt.Sprintf("https://graph.facebook.com/%s/%s", metaAPIVersion, mediaID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whatsapp(meta): media lookup status %d", resp.StatusCode)
	}

	var out struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.URL, nil
}

// DownloadMedia fetches the raw bytes at a resolved media URL, authorized
// with the same bearer token (Meta media URLs require it).
func (c *MetaClient) DownloadMedia(ctx context.Context, mediaURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("whatsapp(meta): download status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
