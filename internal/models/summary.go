package models

import (
	"time"

	"github.com/google/uuid"
)

// SummaryStatus is the webhook-delivery lifecycle of a ConversationSummary.
type SummaryStatus string

const (
	SummaryPending SummaryStatus = "pending"
	SummarySent    SummaryStatus = "sent"
	SummaryFailed  SummaryStatus = "failed"
)

// ConversationSummary is a webhook-bound summary row. Unique on
// (conversation_id, last_message_at) enforces invariant I1.
type ConversationSummary struct {
	ID             uuid.UUID     `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	ConversationID uuid.UUID     `gorm:"type:uuid;not null;index:idx_summary_conv_lastmsg,unique"`
	AgentID        uuid.UUID     `gorm:"type:uuid;not null;index"`
	LastMessageAt  time.Time     `gorm:"not null;index:idx_summary_conv_lastmsg,unique"`
	MessageCount   int           `gorm:"not null"`
	SummaryText    string        `gorm:"type:text"`

	Status           SummaryStatus `gorm:"type:varchar(20);not null;default:'pending';index"`
	WebhookAttempts  int           `gorm:"not null;default:0"`
	WebhookSentAt    *time.Time
	NextRetryAt      *time.Time `gorm:"index"`
	WebhookLastError string     `gorm:"type:varchar(500)"`

	CreatedAt time.Time
}

func (ConversationSummary) TableName() string { return "conversation_summaries" }

// ConversationContextSummary is the one-per-conversation rolling memory
// used by C6, distinct from the webhook summaries above.
type ConversationContextSummary struct {
	ID                  uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	ConversationID      uuid.UUID `gorm:"type:uuid;not null;uniqueIndex"`
	SummaryText         string    `gorm:"type:text"`
	LastMessageIDCovered uuid.UUID `gorm:"type:uuid"`
	IncrementalCount    int       `gorm:"not null;default:0"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (ConversationContextSummary) TableName() string { return "conversation_context_summaries" }
