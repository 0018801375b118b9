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

const wasenderBaseURL = "https://wasenderapi.com/api"

// WaSenderClient implements Sender against the WaSender REST API
// (spec §6: "/send-message (text and imageUrl/videoUrl variants)").
// Documents follow the same pattern with a "documentUrl" field plus
// "fileName".
type WaSenderClient struct {
	apiKey     string
	session    string
	httpClient *http.Client
}

func NewWaSenderClient(apiKey, session string) *WaSenderClient {
	return &WaSenderClient{
		apiKey:     apiKey,
		session:    session,
		httpClient: &http.Client{Timeout: mediaTimeout},
	}
}

func (c *WaSenderClient) SendText(ctx context.Context, to, text string) error {
	return c.send(ctx, map[string]any{"to": to, "text": text})
}

func (c *WaSenderClient) SendImage(ctx context.Context, to, mediaID, url, caption string) error {
	return c.send(ctx, map[string]any{"to": to, "imageUrl": url, "text": caption})
}

func (c *WaSenderClient) SendVideo(ctx context.Context, to, mediaID, url, caption string) error {
	return c.send(ctx, map[string]any{"to": to, "videoUrl": url, "text": caption})
}

func (c *WaSenderClient) SendDocument(ctx context.Context, to, mediaID, url, filename, caption string) error {
	return c.send(ctx, map[string]any{"to": to, "documentUrl": url, "fileName": filename, "text": caption})
}

// SendTemplate — WaSender has no approved-template concept like Meta's;
// the follow-up engine never selects this channel for a WaSender agent
// (spec §4.10's channel determination is Meta-only for the 24h-window
// rule), so this is unreachable in practice and returns a clear error
// rather than silently degrading to free text.
func (c *WaSenderClient) SendTemplate(ctx context.Context, to, name, language string, bodyParams []string) error {
	return fmt.Errorf("whatsapp(wasender): template sends are not supported by this provider")
}

// send posts to /send-message with linear backoff on 429 (spec §6:
// "Rate-limit responses trigger linear backoff (2 s × attempt)").
func (c *WaSenderClient) send(ctx context.Context, body map[string]any) error {
	body["session"] = c.session

	const maxAttempts = 3
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		status, respBody, err := c.post(ctx, "/send-message", body)
		if err != nil {
			lastErr = err
			break
		}
		if status == http.StatusTooManyRequests {
			backoff := time.Duration(attempt) * 2 * time.Second
			logx.With("whatsapp.wasender").Warn().Int("attempt", attempt).Dur("backoff", backoff).Msg("⏳ rate limited, backing off")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			continue
		}
		if status < 200 || status >= 300 {
			return fmt.Errorf("whatsapp(wasender): status %d: %s", status, string(respBody))
		}
		logx.With("whatsapp.wasender").Debug().Msg("✅ message sent")
		return nil
	}
	if lastErr != nil {
		return fmt.Errorf("whatsapp(wasender): request failed: %w", lastErr)
	}
	return fmt.Errorf("whatsapp(wasender): exhausted rate-limit retries")
}

func (c *WaSenderClient) post(ctx context.Context, path string, payload any) (int, []byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wasenderBaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, respBody, nil
}

// DecryptMedia resolves a WaSender encrypted media handle to a plaintext
// URL via /decrypt-media (spec §6).
func (c *WaSenderClient) DecryptMedia(ctx context.Context, mediaHandle string) (string, error) {
	status, body, err := c.post(ctx, "/decrypt-media", map[string]any{"session": c.session, "mediaHandle": mediaHandle})
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("whatsapp(wasender): decrypt-media status %d: %s", status, string(body))
	}
	var out struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

// GetMediaURL satisfies dispatcher.MediaDownloader: a WaSender inbound
// event's media handle is the encrypted message URL itself, which
// DecryptMedia exchanges for a downloadable plaintext URL.
func (c *WaSenderClient) GetMediaURL(ctx context.Context, mediaID string) (string, error) {
	return c.DecryptMedia(ctx, mediaID)
}

// DownloadMedia fetches the raw bytes at a decrypted WaSender media URL.
func (c *WaSenderClient) DownloadMedia(ctx context.Context, mediaURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("whatsapp(wasender): download status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
