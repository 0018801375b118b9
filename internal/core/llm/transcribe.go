package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// Transcriber converts inbound voice audio to text (spec §4.1: "audio is
// downloaded and transcribed (Hebrew primary language) to a text
// surrogate"). Kept separate from Provider since transcription is not
// part of the chat/tool-loop contract spec §4.4 defines.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error)
}

// WhisperTranscriber implements Transcriber via OpenAI's Whisper
// transcription endpoint, using the OpenAI key pool (audio transcription
// is billed/rate-limited independently of chat completions but shares the
// same key rotation policy, spec §4.4).
type WhisperTranscriber struct {
	pool *KeyPool
}

func NewWhisperTranscriber(pool *KeyPool) *WhisperTranscriber {
	return &WhisperTranscriber{pool: pool}
}

func (t *WhisperTranscriber) Transcribe(ctx context.Context, audio []byte, mimeType string) (string, error) {
	lease, ok := t.pool.GetKey("")
	if !ok {
		return "", fmt.Errorf("whisper: no available key")
	}
	client := openai.NewClient(lease.Key)

	resp, err := client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		Reader:   bytes.NewReader(audio),
		FilePath: "audio" + extensionFor(mimeType),
		Language: "he",
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.HTTPStatusCode {
			case 429:
				t.pool.ReportRateLimited(lease.Key, 0, lease.IsOverride)
			case 401, 403:
				t.pool.ReportAuthFailure(lease.Key, lease.IsOverride)
			}
		}
		return "", fmt.Errorf("whisper: transcribe: %w", err)
	}
	return resp.Text, nil
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "audio/mpeg":
		return ".mp3"
	case "audio/ogg":
		return ".ogg"
	case "audio/wav":
		return ".wav"
	default:
		return ".ogg"
	}
}
