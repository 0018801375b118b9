package models

import (
	"time"

	"github.com/google/uuid"
)

// Gender is the inferred gender stored on a User (spec §3).
type Gender string

const (
	GenderMale    Gender = "male"
	GenderFemale  Gender = "female"
	GenderUnknown Gender = "unknown"
)

// User is a WhatsApp contact, unique by phone.
type User struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Phone       string    `gorm:"type:varchar(20);uniqueIndex;not null"`
	DisplayName string    `gorm:"type:varchar(200)"`
	Gender      Gender    `gorm:"type:varchar(10);not null;default:'unknown'"`
	MetadataJSON []byte   `gorm:"column:metadata;type:jsonb"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (User) TableName() string { return "users" }

// Conversation is the (agent, user) pairing holding shared history + flags.
type Conversation struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	AgentID uuid.UUID `gorm:"type:uuid;not null;index:idx_conv_agent_user,unique"`
	UserID  uuid.UUID `gorm:"type:uuid;not null;index:idx_conv_agent_user,unique"`

	Paused    bool `gorm:"not null;default:false"`
	OptedOut  bool `gorm:"not null;default:false"`

	LastCustomerMessageAt *time.Time `gorm:"index"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Conversation) TableName() string { return "conversations" }

// BumpLastCustomerMessageAt enforces invariant I2 on the in-memory value:
// the timestamp is never decreased. Callers pass `now`. The database write
// does not go through this method: the orchestrator issues its own
// `UPDATE ... WHERE last_customer_message_at IS NULL OR last_customer_message_at < ?`
// so concurrent inbound bursts across instances never regress it.
func (c *Conversation) BumpLastCustomerMessageAt(now time.Time) {
	if c.LastCustomerMessageAt == nil || now.After(*c.LastCustomerMessageAt) {
		c.LastCustomerMessageAt = &now
	}
}
