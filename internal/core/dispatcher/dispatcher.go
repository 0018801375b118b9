// Package dispatcher implements the Inbound Dispatcher (C1): accepts
// webhook envelopes from both providers, dedupes by logical message id,
// resolves media inline, and hands the normalized event to the Batcher as
// a fire-and-forget task (spec §4.1). Grounded on the teacher's
// cmd/saas-api webhook handlers for the accept-then-background-process
// shape, generalized to the two-provider envelope formats this spec needs.
package dispatcher

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/genfity/wa-agent-core/internal/core/llm"
	"github.com/genfity/wa-agent-core/internal/core/whatsapp"
	"github.com/genfity/wa-agent-core/internal/models"
	"github.com/genfity/wa-agent-core/internal/platform/kv"
	"github.com/genfity/wa-agent-core/internal/platform/logx"
)

// dedupTTL is how long a processed-message id is considered a duplicate
// (spec §4.1: "Entries older than 5 minutes are pruned opportunistically").
const dedupTTL = 5 * time.Minute

// pruneSampleRate prunes the durable ProcessedMessage table on roughly
// 1-in-20 inserts rather than every insert (spec §4.1: "probabilistic:
// clean on a small fraction of inserts").
const pruneSampleRate = 20

// MediaDownloader resolves a provider media handle to raw bytes, the way
// whatsapp.MetaClient.DownloadMedia / WaSenderClient.DecryptMedia do.
type MediaDownloader interface {
	GetMediaURL(ctx context.Context, mediaID string) (string, error)
	DownloadMedia(ctx context.Context, mediaURL string) ([]byte, error)
}

// Sink receives a normalized, media-resolved event once dedup and
// pre-resolution are done. The Batcher (C2) implements this. debounce/
// maxBatch are the agent's configured BatchingConfig values, resolved by
// the dispatcher before handoff since C2's contract takes them per call
// (spec §4.2).
type Sink interface {
	Add(ctx context.Context, agentID, userPhone string, event NormalizedEvent, debounce time.Duration, maxBatch int)
}

// NormalizedEvent is what C1 hands to C2: the inbound event plus resolved
// text (transcribed voice or described image already folded into Text).
type NormalizedEvent struct {
	MessageID   string
	DisplayName string
	ContentType models.ContentType
	Text        string
	MediaID     string
	MediaURL    string
}

// Dispatcher implements the per-provider webhook entrypoints.
type Dispatcher struct {
	db          *gorm.DB
	kv          kv.Store
	factory     *llm.Factory
	transcriber llm.Transcriber
	meta        MediaDownloader
	wasender    MediaDownloader
	sink        Sink
}

func New(db *gorm.DB, store kv.Store, factory *llm.Factory, transcriber llm.Transcriber, meta, wasender MediaDownloader, sink Sink) *Dispatcher {
	return &Dispatcher{db: db, kv: store, factory: factory, transcriber: transcriber, meta: meta, wasender: wasender, sink: sink}
}

// HandleMeta processes one Meta Cloud API webhook POST body. It never
// returns an error to the caller beyond envelope-parse failures — per
// event processing failures are logged and skipped so one bad message
// never blocks the rest of the batch or the webhook ack.
func (d *Dispatcher) HandleMeta(ctx context.Context, body []byte) error {
	events, err := whatsapp.ParseMetaEnvelope(body)
	if err != nil {
		return fmt.Errorf("dispatcher: parse meta envelope: %w", err)
	}
	for _, ev := range events {
		d.process(ctx, ev, d.meta)
	}
	return nil
}

// HandleWaSender processes one WaSender webhook POST body for a specific
// agent (the agent id is a path parameter, unlike Meta's phone_number_id
// routing, spec §4.1).
func (d *Dispatcher) HandleWaSender(ctx context.Context, agentID string, signatureHeader, webhookSecret string, body []byte) error {
	if !whatsapp.VerifyWaSenderSignature(signatureHeader, webhookSecret) {
		return fmt.Errorf("dispatcher: invalid wasender signature")
	}
	events, err := whatsapp.ParseWaSenderEnvelope(agentID, body)
	if err != nil {
		return fmt.Errorf("dispatcher: parse wasender envelope: %w", err)
	}
	for _, ev := range events {
		d.process(ctx, ev, d.wasender)
	}
	return nil
}

func (d *Dispatcher) process(ctx context.Context, ev whatsapp.InboundEvent, media MediaDownloader) {
	log := logx.With("dispatcher")

	agent, err := d.resolveAgent(ctx, ev)
	if err != nil {
		log.Warn().Err(err).Str("selector", ev.AgentSelector).Msg("⚠️ no agent for inbound event")
		return
	}

	msgKey := logicalMessageID(agent.ID.String(), ev)
	created, err := d.kv.IncrementDedup(ctx, "dedup:"+msgKey, dedupTTL)
	if err != nil {
		log.Warn().Err(err).Msg("⚠️ dedup store error, processing anyway")
	} else if !created {
		log.Debug().Str("key", msgKey).Msg("🔁 duplicate inbound message, dropped")
		return
	}

	d.recordProcessed(ctx, agent.ID.String(), msgKey)

	norm := NormalizedEvent{
		MessageID:   ev.MessageID,
		DisplayName: ev.UserDisplayName,
		ContentType: models.ContentText,
		Text:        ev.Text,
	}

	switch ev.MsgType {
	case whatsapp.MsgVoice:
		norm.ContentType = models.ContentVoice
		norm.Text = d.resolveVoice(ctx, media, ev)
	case whatsapp.MsgImage:
		norm.ContentType = models.ContentImage
		norm.MediaID = ev.MediaHandle
		text, url := d.resolveImage(ctx, media, ev)
		norm.Text = text
		norm.MediaURL = url
	}

	batching := agent.BatchingConfig()
	d.sink.Add(ctx, agent.ID.String(), ev.UserPhone, norm, time.Duration(batching.DebounceSeconds)*time.Second, batching.MaxBatchMessages)
}

func (d *Dispatcher) resolveAgent(ctx context.Context, ev whatsapp.InboundEvent) (*models.Agent, error) {
	var agent models.Agent
	var q *gorm.DB
	switch ev.Provider {
	case "meta":
		q = d.db.WithContext(ctx).Where("provider = ? AND meta_phone_number_id = ? AND active = ?", models.ProviderMeta, ev.AgentSelector, true)
	case "wasender":
		q = d.db.WithContext(ctx).Where("id = ? AND active = ?", ev.AgentSelector, true)
	default:
		return nil, fmt.Errorf("unknown provider %q", ev.Provider)
	}
	if err := q.First(&agent).Error; err != nil {
		return nil, err
	}
	return &agent, nil
}

// recordProcessed writes the durable ProcessedMessage row backing property
// P4 even across a Redis flush, and opportunistically prunes old rows.
func (d *Dispatcher) recordProcessed(ctx context.Context, agentID, msgKey string) {
	log := logx.With("dispatcher")
	pm := models.ProcessedMessage{MessageKey: msgKey}
	if aid, err := uuid.Parse(agentID); err == nil {
		pm.AgentID = aid
	}
	if err := d.db.WithContext(ctx).Create(&pm).Error; err != nil {
		log.Debug().Err(err).Msg("processed_messages insert skipped")
	}
	if shouldPrune() {
		cutoff := time.Now().Add(-dedupTTL)
		d.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.ProcessedMessage{})
	}
}

func (d *Dispatcher) resolveVoice(ctx context.Context, media MediaDownloader, ev whatsapp.InboundEvent) string {
	log := logx.With("dispatcher")
	if d.transcriber == nil || ev.MediaHandle == "" {
		return "[voice]: (transcription unavailable)"
	}
	url, err := media.GetMediaURL(ctx, ev.MediaHandle)
	if err != nil {
		log.Warn().Err(err).Msg("⚠️ could not resolve voice media url")
		return "[voice]: (download failed)"
	}
	raw, err := media.DownloadMedia(ctx, url)
	if err != nil {
		log.Warn().Err(err).Msg("⚠️ could not download voice media")
		return "[voice]: (download failed)"
	}
	text, err := d.transcriber.Transcribe(ctx, raw, ev.MimeType)
	if err != nil {
		log.Warn().Err(err).Msg("⚠️ transcription failed")
		return "[voice]: (transcription failed)"
	}
	return "[voice]: " + text
}

func (d *Dispatcher) resolveImage(ctx context.Context, media MediaDownloader, ev whatsapp.InboundEvent) (text, url string) {
	log := logx.With("dispatcher")
	if ev.MediaHandle == "" {
		return "[image — could not download]", ""
	}
	url, err := media.GetMediaURL(ctx, ev.MediaHandle)
	if err != nil {
		log.Warn().Err(err).Msg("⚠️ could not resolve image media url")
		return "[image — could not download]", ""
	}
	raw, err := media.DownloadMedia(ctx, url)
	if err != nil {
		log.Warn().Err(err).Msg("⚠️ could not download image")
		return "[image — could not download]", url
	}
	describer := d.factory.ImageDescriber()
	desc, err := describer.DescribeImage(ctx, base64.StdEncoding.EncodeToString(raw), ev.MimeType)
	if err != nil {
		log.Warn().Err(err).Msg("⚠️ image description failed")
		return "[image — could not download]", url
	}
	return desc, url
}

// logicalMessageID computes the dedup key (spec §4.1): the provider's own
// message id when present, otherwise a hash of
// {phone_number_id/agent, sender, content} for text messages.
func logicalMessageID(agentID string, ev whatsapp.InboundEvent) string {
	if ev.MessageID != "" {
		return agentID + ":" + ev.MessageID
	}
	h := sha256.Sum256([]byte(agentID + "|" + ev.UserPhone + "|" + ev.Text))
	return agentID + ":" + hex.EncodeToString(h[:])
}

var pruneCounter int

func shouldPrune() bool {
	pruneCounter++
	return pruneCounter%pruneSampleRate == 0
}
