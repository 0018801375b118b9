package models

import (
	"time"

	"github.com/google/uuid"
)

// AppointmentStatus is the lifecycle state of a booking.
type AppointmentStatus string

const (
	AppointmentScheduled AppointmentStatus = "scheduled"
	AppointmentCancelled AppointmentStatus = "cancelled"
	AppointmentCompleted AppointmentStatus = "completed"
)

// Appointment is a calendar booking tied to an (agent, user) pair.
type Appointment struct {
	ID          uuid.UUID         `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	AgentID     uuid.UUID         `gorm:"type:uuid;not null;index:idx_appt_agent_time"`
	UserID      uuid.UUID         `gorm:"type:uuid;not null;index"`
	StartTime   time.Time         `gorm:"not null;index:idx_appt_agent_time"`
	EndTime     time.Time         `gorm:"not null"`
	Title       string            `gorm:"type:varchar(300)"`
	Description string            `gorm:"type:text"`
	Status      AppointmentStatus `gorm:"type:varchar(20);not null;default:'scheduled';index"`
	ExternalCalendarEventID string `gorm:"type:varchar(200)"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Appointment) TableName() string { return "appointments" }

// ReminderStatus is the lifecycle state of a ScheduledReminder (spec §4.11,
// §9 open question: "processing" added per the richer variant).
type ReminderStatus string

const (
	ReminderPending    ReminderStatus = "pending"
	ReminderProcessing ReminderStatus = "processing"
	ReminderSent       ReminderStatus = "sent"
	ReminderFailed     ReminderStatus = "failed"
	ReminderCancelled  ReminderStatus = "cancelled"
)

// ReminderContentType is how a reminder's text is produced.
type ReminderContentType string

const (
	ReminderContentTemplate ReminderContentType = "template"
	ReminderContentAI       ReminderContentType = "ai"
)

// ScheduledReminder materializes one ReminderRule against a booking (C8).
type ScheduledReminder struct {
	ID            uuid.UUID           `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	AppointmentID uuid.UUID           `gorm:"type:uuid;not null;index:idx_reminder_appt_rule,unique"`
	AgentID       uuid.UUID           `gorm:"type:uuid;not null;index"`
	UserID        uuid.UUID           `gorm:"type:uuid;not null;index"`
	ScheduledFor  time.Time           `gorm:"not null;index"`
	Status        ReminderStatus      `gorm:"type:varchar(20);not null;default:'pending';index"`
	ContentType   ReminderContentType `gorm:"type:varchar(20);not null"`
	Template      string              `gorm:"type:text"`
	AIPrompt      string              `gorm:"type:text"`
	RuleIndex     int                 `gorm:"not null;index:idx_reminder_appt_rule,unique"`

	ErrorMessage string     `gorm:"type:varchar(500)"`
	SentAt       *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (ScheduledReminder) TableName() string { return "scheduled_reminders" }
