package models

import (
	"time"

	"github.com/google/uuid"
)

// Role is who authored a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentType classifies the payload of a Message.
type ContentType string

const (
	ContentText     ContentType = "text"
	ContentVoice    ContentType = "voice"
	ContentImage    ContentType = "image"
	ContentMedia    ContentType = "media"
	ContentReminder ContentType = "reminder"
	ContentFollowup ContentType = "followup"
	ContentManual   ContentType = "manual"
)

// Message is one turn in a conversation.
type Message struct {
	ID             uuid.UUID   `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	ConversationID uuid.UUID   `gorm:"type:uuid;not null;index"`
	Role           Role        `gorm:"type:varchar(10);not null"`
	ContentType    ContentType `gorm:"type:varchar(20);not null;default:'text'"`
	Text           string      `gorm:"type:text"`

	MediaID  string `gorm:"type:varchar(100)"`
	MediaURL string `gorm:"type:text"`

	CreatedAt time.Time `gorm:"index"`
}

func (Message) TableName() string { return "messages" }

// ProcessedMessage is an inbound dedup key with insertion time (spec §3).
// TTL purging is opportunistic: the dispatcher deletes expired rows on a
// sample of inserts (see dispatcher.pruneSampleRate); the authoritative
// dedup decision is made by the kv.Store (Redis SETNX), this table is the
// durable record backing property P4 ("exists in the dedup store for >= 5
// minutes") even across a Redis flush.
type ProcessedMessage struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	MessageKey string   `gorm:"type:varchar(300);uniqueIndex;not null"`
	AgentID   uuid.UUID  `gorm:"type:uuid;index"`
	CreatedAt time.Time  `gorm:"index"`
}

func (ProcessedMessage) TableName() string { return "processed_messages" }
