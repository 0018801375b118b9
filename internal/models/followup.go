package models

import (
	"time"

	"github.com/google/uuid"
)

// FollowupStatus is the lifecycle of a ScheduledFollowup (spec §4.11).
type FollowupStatus string

const (
	FollowupPending    FollowupStatus = "pending"
	FollowupEvaluating FollowupStatus = "evaluating"
	FollowupSent       FollowupStatus = "sent"
	FollowupSkipped    FollowupStatus = "skipped"
	FollowupCancelled  FollowupStatus = "cancelled"
)

// SendChannel is how a follow-up (or reminder) was ultimately delivered.
type SendChannel string

const (
	SendFreeText     SendChannel = "free_text"
	SendMetaTemplate SendChannel = "meta_template"
)

// ScheduledFollowup is one materialized step of an agent's re-engagement
// sequence for a silent customer (C10).
type ScheduledFollowup struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	ConversationID uuid.UUID      `gorm:"type:uuid;not null;index"`
	AgentID        uuid.UUID      `gorm:"type:uuid;not null;index"`
	UserID         uuid.UUID      `gorm:"type:uuid;not null;index"`

	FollowupNumber int            `gorm:"not null"` // 1-based step index
	StepInstruction string        `gorm:"type:text"`
	ScheduledFor   time.Time      `gorm:"not null;index"`
	Status         FollowupStatus `gorm:"type:varchar(20);not null;default:'pending';index"`

	Content    string      `gorm:"type:text"`
	AIReason   string      `gorm:"type:varchar(500)"`
	SentVia    SendChannel `gorm:"type:varchar(20)"`
	TemplateName string    `gorm:"type:varchar(200)"`
	SentAt     *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (ScheduledFollowup) TableName() string { return "scheduled_followups" }

// WhatsAppTemplate is an approved Meta template known to an agent.
type WhatsAppTemplate struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	AgentID  uuid.UUID `gorm:"type:uuid;not null;index:idx_template_agent_name_lang,unique"`
	Name     string    `gorm:"type:varchar(200);not null;index:idx_template_agent_name_lang,unique"`
	Language string    `gorm:"type:varchar(20);not null;index:idx_template_agent_name_lang,unique"`
	Body     string    `gorm:"type:text;not null"`
	ParamKeys []string `gorm:"type:text[];serializer:json"`

	CreatedAt time.Time
}

func (WhatsAppTemplate) TableName() string { return "whatsapp_templates" }

// AgentMedia is an uploaded image/video/document with a searchable
// embedding (vector search lives outside the core per spec §1; the core
// only reads/matches rows this table already has).
type AgentMedia struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	AgentID         uuid.UUID `gorm:"type:uuid;not null;index"`
	DisplayName     string    `gorm:"type:varchar(300)"`
	DefaultCaption  string    `gorm:"type:text"`
	MimeType        string    `gorm:"type:varchar(100)"`
	URL             string    `gorm:"type:text"`
	Active          bool      `gorm:"not null;default:true"`
	Embedding       []float32 `gorm:"type:vector(1536);serializer:json"`

	CreatedAt time.Time
}

func (AgentMedia) TableName() string { return "agent_media" }
